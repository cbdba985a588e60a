package skill

import (
	"fmt"
	"strings"

	"github.com/nidhogg/tutor/internal/table"
)

// PredictionColumn is the prediction column of an ErrorSet.
const PredictionColumn = "prediction"

// ErrorSet holds the rows a skill got wrong: the prediction and the ground
// truth, labelled like the prediction batch they came from.
type ErrorSet struct {
	*table.Batch
	GroundTruthField string
}

// NewErrorSet wraps a batch whose columns are PredictionColumn and
// groundTruthField.
func NewErrorSet(b *table.Batch, groundTruthField string) (*ErrorSet, error) {
	for _, c := range []string{PredictionColumn, groundTruthField} {
		if !b.HasColumn(c) {
			return nil, fmt.Errorf("error set: column %q: %w", c, table.ErrColumnNotFound)
		}
	}
	return &ErrorSet{Batch: b, GroundTruthField: groundTruthField}, nil
}

// Evaluation is the outcome of comparing predictions with ground truth.
type Evaluation struct {
	Errors   *ErrorSet
	Total    int
	Correct  int
	Accuracy float64
}

// Evaluate compares the skill column of predictions with groundTruthField.
// Values are compared as whitespace-trimmed strings. An empty batch has an
// accuracy of 1.
func Evaluate(predictions *table.Batch, skillName, groundTruthField string) (*Evaluation, error) {
	if groundTruthField == "" || groundTruthField == PredictionColumn {
		return nil, &ConfigurationError{Skill: skillName, Field: "ground_truth_field", Msg: fmt.Sprintf("invalid ground truth field %q", groundTruthField)}
	}
	if !predictions.HasColumn(groundTruthField) {
		return nil, &ConfigurationError{Skill: skillName, Field: "ground_truth_field", Msg: fmt.Sprintf("column %q not in predictions %v", groundTruthField, predictions.Columns)}
	}
	if !predictions.HasColumn(skillName) {
		return nil, fmt.Errorf("evaluate %s: %w", skillName, table.ErrColumnNotFound)
	}

	var (
		index []int
		rows  []table.Record
	)
	for i, r := range predictions.Rows {
		if normalize(r[skillName]) == normalize(r[groundTruthField]) {
			continue
		}
		index = append(index, predictions.Index[i])
		rows = append(rows, table.Record{PredictionColumn: r[skillName], groundTruthField: r[groundTruthField]})
	}

	ev := &Evaluation{
		Errors: &ErrorSet{
			Batch:            table.NewIndexed([]string{PredictionColumn, groundTruthField}, index, rows),
			GroundTruthField: groundTruthField,
		},
		Total:    predictions.Len(),
		Correct:  predictions.Len() - len(rows),
		Accuracy: 1,
	}
	if ev.Total > 0 {
		ev.Accuracy = float64(ev.Correct) / float64(ev.Total)
	}
	return ev, nil
}

func normalize(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
