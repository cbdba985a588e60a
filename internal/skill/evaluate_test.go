package skill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nidhogg/tutor/internal/table"
)

func TestEvaluate(t *testing.T) {
	preds := table.NewIndexed([]string{"text", "sentiment", "gold"}, []int{5, 6, 7, 8}, []table.Record{
		{"text": "a", "sentiment": "positive", "gold": "positive"},
		{"text": "b", "sentiment": "positive", "gold": "negative"},
		{"text": "c", "sentiment": " negative\n", "gold": "negative"},
		{"text": "d", "sentiment": "3", "gold": 4},
	})

	ev, err := Evaluate(preds, "sentiment", "gold")
	require.NoError(t, err)
	assert.Equal(t, 4, ev.Total)
	assert.Equal(t, 2, ev.Correct)
	assert.InDelta(t, 0.5, ev.Accuracy, 1e-9)

	assert.Equal(t, []int{6, 8}, ev.Errors.Index)
	assert.Equal(t, []string{PredictionColumn, "gold"}, ev.Errors.Columns)
	assert.Equal(t, "gold", ev.Errors.GroundTruthField)
	assert.Equal(t, table.Record{PredictionColumn: "positive", "gold": "negative"}, ev.Errors.Rows[0])
}

func TestEvaluateEmpty(t *testing.T) {
	ev, err := Evaluate(table.Empty([]string{"sentiment", "gold"}), "sentiment", "gold")
	require.NoError(t, err)
	assert.Equal(t, 1.0, ev.Accuracy)
	assert.Equal(t, 0, ev.Errors.Len())
}

func TestEvaluateMissingGroundTruth(t *testing.T) {
	_, err := Evaluate(table.Empty([]string{"sentiment"}), "sentiment", "gold")
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)

	_, err = Evaluate(table.Empty([]string{"sentiment", "gold"}), "sentiment", "")
	require.ErrorAs(t, err, &ce)
}

func TestNewErrorSetValidatesColumns(t *testing.T) {
	_, err := NewErrorSet(table.Empty([]string{PredictionColumn}), "gold")
	assert.ErrorIs(t, err, table.ErrColumnNotFound)
}
