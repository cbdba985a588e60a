package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Version is one saved set of instructions for a skill.
type Version struct {
	ID           uuid.UUID       `json:"id"`
	Skill        string          `json:"skill"`
	Version      int             `json:"version"`
	Instructions string          `json:"instructions"`
	Descriptor   json.RawMessage `json:"descriptor,omitempty"`
	RunID        *uuid.UUID      `json:"run_id,omitempty"`
	// BaseAccuracy is the accuracy of the instructions this version replaced.
	BaseAccuracy *float64  `json:"base_accuracy,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SaveVersion stores v as the next version of its skill. ID, Version and
// CreatedAt are filled in.
func (s *Store) SaveVersion(ctx context.Context, v *Version) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	desc := v.Descriptor
	if len(desc) == 0 {
		desc = json.RawMessage(`{}`)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize version numbering per skill.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, v.Skill); err != nil {
		return fmt.Errorf("lock skill %s: %w", v.Skill, err)
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO skill_versions (id, skill, version, instructions, descriptor, run_id, base_accuracy)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, $5, $6
		FROM skill_versions WHERE skill = $2
		RETURNING version, created_at`,
		v.ID, v.Skill, v.Instructions, desc, v.RunID, v.BaseAccuracy,
	).Scan(&v.Version, &v.CreatedAt)
	if err != nil {
		return fmt.Errorf("save version of %s: %w", v.Skill, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit version of %s: %w", v.Skill, err)
	}
	s.logger.Debug("skill version saved", zap.String("skill", v.Skill), zap.Int("version", v.Version))
	return nil
}

const versionColumns = `id, skill, version, instructions, descriptor, run_id, base_accuracy, created_at`

func scanVersion(row pgx.Row) (*Version, error) {
	var v Version
	if err := row.Scan(&v.ID, &v.Skill, &v.Version, &v.Instructions, &v.Descriptor, &v.RunID, &v.BaseAccuracy, &v.CreatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVersions returns every version of skill, oldest first.
func (s *Store) ListVersions(ctx context.Context, skill string) ([]*Version, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+versionColumns+`
		FROM skill_versions WHERE skill = $1
		ORDER BY version`, skill)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", skill, err)
	}
	defer rows.Close()

	var out []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// LatestVersion returns the newest version of skill, or ErrNotFound.
func (s *Store) LatestVersion(ctx context.Context, skill string) (*Version, error) {
	v, err := scanVersion(s.db.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM skill_versions WHERE skill = $1
		ORDER BY version DESC LIMIT 1`, skill))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("latest version of %s: %w", skill, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest version of %s: %w", skill, err)
	}
	return v, nil
}
