package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Analysis is a stored error analysis report.
type Analysis struct {
	ID        uuid.UUID  `json:"id"`
	Skill     string     `json:"skill"`
	RunID     *uuid.UUID `json:"run_id,omitempty"`
	Iteration int        `json:"iteration"`
	Errors    int        `json:"errors"`
	Report    string     `json:"report"`
	CreatedAt time.Time  `json:"created_at"`
}

// SaveAnalysis stores a. ID and CreatedAt are filled in.
func (s *Store) SaveAnalysis(ctx context.Context, a *Analysis) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO analyses (id, skill, run_id, iteration, errors, report)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		a.ID, a.Skill, a.RunID, a.Iteration, a.Errors, a.Report,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("save analysis of %s: %w", a.Skill, err)
	}
	return nil
}

// ListAnalyses returns the most recent reports for skill, newest first.
func (s *Store) ListAnalyses(ctx context.Context, skill string, limit int) ([]*Analysis, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, skill, run_id, iteration, errors, report, created_at
		FROM analyses
		WHERE skill = $1
		ORDER BY created_at DESC
		LIMIT $2`, skill, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses of %s: %w", skill, err)
	}
	defer rows.Close()

	var out []*Analysis
	for rows.Next() {
		var a Analysis
		if err := rows.Scan(&a.ID, &a.Skill, &a.RunID, &a.Iteration, &a.Errors, &a.Report, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
