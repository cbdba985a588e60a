package skill

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/tutor/internal/dataset"
	"github.com/nidhogg/tutor/internal/runtime"
	"github.com/nidhogg/tutor/internal/table"
)

func TestApplyEmptyDatasetKeepsSchema(t *testing.T) {
	sk := mustSkill(t, KindLLM, sentimentConfig())
	rt := &fakeRuntime{batch: constant("predictions", "positive")}

	out, err := sk.Apply(context.Background(), dataset.NewFrame(table.Empty([]string{"text"}), 4), rt)
	require.NoError(t, err)
	assert.Equal(t, []string{"text", "sentiment"}, out.Columns)
	assert.Equal(t, 0, out.Len())
	assert.Zero(t, rt.batches)
}

func TestApplyPreservesBatchOrderUnderConcurrency(t *testing.T) {
	sk := mustSkill(t, KindLLM, sentimentConfig(), WithConcurrency(4))

	rows := make([]table.Record, 20)
	for i := range rows {
		rows[i] = table.Record{"text": string(rune('a' + i))}
	}
	ds := dataset.NewFrame(table.New([]string{"text"}, rows), 3)

	// Echo the input back after a random delay so batches finish out of order.
	rt := &fakeRuntime{batch: func(b *table.Batch, _ runtime.Request) (*table.Batch, error) {
		time.Sleep(time.Duration(rand.IntN(5)) * time.Millisecond)
		out := make([]table.Record, b.Len())
		for i, r := range b.Rows {
			out[i] = table.Record{"predictions": r["text"]}
		}
		return table.NewIndexed([]string{"predictions"}, b.Index, out), nil
	}}

	out, err := sk.Apply(context.Background(), ds, rt)
	require.NoError(t, err)
	require.Equal(t, 20, out.Len())
	assert.Equal(t, 7, rt.batches)
	for i, r := range out.Rows {
		assert.Equal(t, i, out.Index[i])
		assert.Equal(t, r["text"], r["sentiment"])
	}
}

func TestApplySurfacesBackendError(t *testing.T) {
	sk := mustSkill(t, KindLLM, sentimentConfig(), WithConcurrency(2))
	boom := &runtime.BackendError{Op: "chat", Role: "student", Err: errors.New("503")}
	rt := &fakeRuntime{batch: func(*table.Batch, runtime.Request) (*table.Batch, error) { return nil, boom }}

	_, err := sk.Apply(context.Background(), dataset.FromBatch(table.New([]string{"text"}, []table.Record{{"text": "x"}})), rt)
	var be *runtime.BackendError
	require.ErrorAs(t, err, &be)
	assert.Same(t, boom, be)
}

func TestExecuteOverwritesAndDoesNotMutateInput(t *testing.T) {
	sk := mustSkill(t, KindLLM, sentimentConfig())
	in := table.New([]string{"text", "sentiment"}, []table.Record{{"text": "a", "sentiment": "old"}})
	rt := &fakeRuntime{batch: constant("predictions", "new")}

	out, err := NewExecutor(zap.NewNop()).Execute(context.Background(), in, sk.Descriptor().Snapshot(), rt)
	require.NoError(t, err)
	assert.Equal(t, []string{"text", "sentiment"}, out.Columns)
	assert.Equal(t, "new", out.Rows[0]["sentiment"])
	assert.Equal(t, "old", in.Rows[0]["sentiment"])

	req := rt.requests[0]
	assert.Equal(t, "Classify the sentiment of the text.", req.Instructions)
	assert.Equal(t, map[string]any{"labels": []string{"positive", "negative"}}, req.Extra)
}

func TestExecuteRowCountMismatch(t *testing.T) {
	sk := mustSkill(t, KindLLM, sentimentConfig())
	in := table.New([]string{"text"}, []table.Record{{"text": "a"}, {"text": "b"}})
	rt := &fakeRuntime{batch: func(*table.Batch, runtime.Request) (*table.Batch, error) {
		return table.New([]string{"predictions"}, []table.Record{{"predictions": "x"}}), nil
	}}

	_, err := NewExecutor(zap.NewNop()).Execute(context.Background(), in, sk.Descriptor().Snapshot(), rt)
	var se *table.SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Want)
	assert.Equal(t, 1, se.Got)
}

func TestExecuteMissingPredictionColumn(t *testing.T) {
	sk := mustSkill(t, KindLLM, sentimentConfig())
	rt := &fakeRuntime{batch: constant("other", "x")}

	_, err := NewExecutor(zap.NewNop()).Execute(context.Background(), table.New([]string{"text"}, []table.Record{{"text": "a"}}), sk.Descriptor().Snapshot(), rt)
	assert.ErrorIs(t, err, table.ErrColumnNotFound)
}

func TestApplySeesOneInstructionSnapshot(t *testing.T) {
	sk := mustSkill(t, KindLLM, sentimentConfig())
	seen := map[string]bool{}
	rt := &fakeRuntime{}
	rt.batch = func(b *table.Batch, req runtime.Request) (*table.Batch, error) {
		seen[req.Instructions] = true
		sk.Descriptor().SetInstructions("changed mid-apply")
		return constant("predictions", "x")(b, req)
	}

	rows := []table.Record{{"text": "a"}, {"text": "b"}, {"text": "c"}}
	_, err := sk.Apply(context.Background(), dataset.NewFrame(table.New([]string{"text"}, rows), 1), rt)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"Classify the sentiment of the text.": true}, seen)
}
