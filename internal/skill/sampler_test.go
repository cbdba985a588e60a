package skill

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/nidhogg/tutor/internal/table"
)

func errorSet(t require.TestingT, n int) *ErrorSet {
	index := make([]int, n)
	rows := make([]table.Record, n)
	for i := range n {
		index[i] = 100 + i*2
		rows[i] = table.Record{PredictionColumn: "p", "gold": i}
	}
	es, err := NewErrorSet(table.NewIndexed([]string{PredictionColumn, "gold"}, index, rows), "gold")
	require.NoError(t, err)
	return es
}

func TestSampleBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 50).Draw(t, "n")
		maxErrors := rapid.IntRange(1, 10).Draw(t, "max")
		seed := rapid.Uint64().Draw(t, "seed")

		got := NewSampler(rand.New(rand.NewPCG(seed, 0))).Sample(errorSet(t, n), maxErrors)
		assert.Equal(t, min(n, maxErrors), got.Len())
		assert.True(t, slices.IsSorted(got.Index), "order lost: %v", got.Index)
		assert.Len(t, slices.Compact(slices.Clone(got.Index)), got.Len(), "duplicate rows")
		assert.Equal(t, "gold", got.GroundTruthField)
	})
}

func TestSampleSmallerThanMax(t *testing.T) {
	got := NewSampler(nil).Sample(errorSet(t, 2), 3)
	assert.Equal(t, 2, got.Len())
	assert.Equal(t, []int{100, 102}, got.Index)
}

func TestSampleEmpty(t *testing.T) {
	got := NewSampler(nil).Sample(errorSet(t, 0), 3)
	assert.Equal(t, 0, got.Len())
	assert.Equal(t, []string{PredictionColumn, "gold"}, got.Columns)
}

func TestSampleDefaultMax(t *testing.T) {
	got := NewSampler(nil).Sample(errorSet(t, 10), 0)
	assert.Equal(t, DefaultMaxErrors, got.Len())
}

func TestSampleDeterministicWithSeed(t *testing.T) {
	a := NewSampler(rand.New(rand.NewPCG(7, 7))).Sample(errorSet(t, 20), 3)
	b := NewSampler(rand.New(rand.NewPCG(7, 7))).Sample(errorSet(t, 20), 3)
	assert.Equal(t, a.Index, b.Index)
}

func TestSampleDoesNotAliasRows(t *testing.T) {
	es := errorSet(t, 1)
	got := NewSampler(nil).Sample(es, 1)
	got.Rows[0]["gold"] = "changed"
	assert.Equal(t, 0, es.Rows[0]["gold"])
}
