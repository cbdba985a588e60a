package skill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/tutor/internal/dataset"
	"github.com/nidhogg/tutor/internal/provider"
	"github.com/nidhogg/tutor/internal/runtime"
	"github.com/nidhogg/tutor/internal/table"
	"github.com/nidhogg/tutor/internal/template"
)

// fakeRuntime is a scripted runtime.Runtime.
type fakeRuntime struct {
	mu       sync.Mutex
	batches  int
	records  int
	renders  int
	requests []runtime.Request

	batch  func(b *table.Batch, req runtime.Request) (*table.Batch, error)
	record func(r table.Record, req runtime.Request) (table.Record, error)
}

func (f *fakeRuntime) ProcessBatch(_ context.Context, b *table.Batch, req runtime.Request) (*table.Batch, error) {
	f.mu.Lock()
	f.batches++
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.batch(b, req)
}

func (f *fakeRuntime) ProcessRecord(_ context.Context, r table.Record, req runtime.Request) (table.Record, error) {
	f.mu.Lock()
	f.records++
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.record(r, req)
}

func (f *fakeRuntime) Render(_ context.Context, b *table.Batch, in *template.Input, extra map[string]any) ([]string, error) {
	f.mu.Lock()
	f.renders++
	f.mu.Unlock()
	out := make([]string, b.Len())
	for i, r := range b.Rows {
		s, err := in.Render(template.Merge(extra, r))
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// constant predicts value for every row under the given column.
func constant(column, value string) func(*table.Batch, runtime.Request) (*table.Batch, error) {
	return func(b *table.Batch, _ runtime.Request) (*table.Batch, error) {
		rows := make([]table.Record, b.Len())
		for i := range rows {
			rows[i] = table.Record{column: value}
		}
		return table.NewIndexed([]string{column}, b.Index, rows), nil
	}
}

func sentimentConfig() Config {
	return Config{
		Name:           "sentiment",
		Instructions:   "Classify the sentiment of the text.",
		InputDataField: "text",
		Extra:          map[string]any{"labels": []string{"positive", "negative"}},
	}
}

func mustSkill(t *testing.T, kind string, cfg Config, opts ...Option) Skill {
	t.Helper()
	s, err := New(kind, cfg, opts...)
	require.NoError(t, err)
	return s
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New("poetry", sentimentConfig())
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "kind", ce.Field)
}

func TestClassificationRequiresLabels(t *testing.T) {
	cfg := sentimentConfig()
	cfg.Extra = nil
	_, err := New(KindClassification, cfg)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "labels", ce.Field)
}

func TestClassificationNormalizesLabels(t *testing.T) {
	sk := mustSkill(t, KindClassification, sentimentConfig())
	assert.Equal(t, KindClassification, sk.Kind())
	assert.Equal(t, ClassificationOutputTemplate, sk.Descriptor().Config().OutputTemplate)

	rt := &fakeRuntime{batch: constant("predictions", " NEGATIVE ")}
	out, err := sk.Apply(context.Background(), dataset.FromBatch(table.New([]string{"text"}, []table.Record{{"text": "bad"}})), rt)
	require.NoError(t, err)
	assert.Equal(t, "negative", out.Rows[0]["sentiment"])
}

func TestGenerationKind(t *testing.T) {
	sk := mustSkill(t, KindGeneration, Config{Name: "summary", InputDataField: "text"})
	assert.Equal(t, KindGeneration, sk.Kind())
}

func TestStepsRequireRuntime(t *testing.T) {
	sk := mustSkill(t, KindLLM, sentimentConfig())
	ctx := context.Background()

	_, err := sk.Apply(ctx, dataset.FromBatch(table.Empty([]string{"text"})), nil)
	assert.ErrorIs(t, err, ErrNoRuntime)
	_, err = sk.Improve(ctx, "report", nil)
	assert.ErrorIs(t, err, ErrNoRuntime)
}

// scriptedChat plays both roles of the learning loop: the student always says
// "positive"; the teacher answers according to which step is asking.
func scriptedChat(calls map[string]int, mu *sync.Mutex) runtime.ChatFunc {
	return func(_ context.Context, role string, req *provider.ChatRequest) (*provider.ChatResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		system := ""
		if req.Messages[0].Role == "system" {
			system = req.Messages[0].Content
		}
		switch {
		case role == provider.RoleStudent:
			calls["predict"]++
			return &provider.ChatResponse{Content: "Output: positive"}, nil
		case strings.Contains(system, "Explain why"):
			calls["reason"]++
			return &provider.ChatResponse{Content: "The instructions ignore the exclamation mark sarcasm."}, nil
		case strings.Contains(system, "error analysis report"):
			calls["report"]++
			return &provider.ChatResponse{Content: "Sarcasm is read literally."}, nil
		case strings.Contains(system, "write new instructions"):
			calls["improve"]++
			return &provider.ChatResponse{Content: "Classify sentiment, treating sarcasm as negative.\nInput: great!\nOutput: negative"}, nil
		}
		return nil, fmt.Errorf("unexpected request: %q", system)
	}
}

func TestLearningLoopEndToEnd(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	chat := scriptedChat(calls, &mu)
	student := runtime.NewLLM(chat, runtime.Config{Role: provider.RoleStudent}, zap.NewNop())
	teacher := runtime.NewLLM(chat, runtime.Config{Role: provider.RoleTeacher}, zap.NewNop())

	sk := mustSkill(t, KindLLM, sentimentConfig())
	ctx := context.Background()

	preds, err := sk.Apply(ctx, dataset.FromBatch(table.New([]string{"text", "gold"}, []table.Record{{"text": "great!", "gold": "negative"}})), student)
	require.NoError(t, err)
	assert.Equal(t, "positive", preds.Rows[0]["sentiment"])

	ev, err := Evaluate(preds, "sentiment", "gold")
	require.NoError(t, err)
	require.Equal(t, 1, ev.Errors.Len())

	report, err := sk.Analyze(ctx, preds, NewSampler(nil).Sample(ev.Errors, 3), student, teacher)
	require.NoError(t, err)
	assert.NotEmpty(t, report)

	before := sk.Descriptor().Instructions()
	next, err := sk.Improve(ctx, report, teacher)
	require.NoError(t, err)
	assert.NotEmpty(t, next)
	assert.NotEqual(t, before, next)
	assert.Equal(t, next, sk.Descriptor().Instructions())

	assert.Equal(t, map[string]int{"predict": 1, "reason": 1, "report": 1, "improve": 1}, calls)
}

func TestAnalyzeFallsBackToStudent(t *testing.T) {
	sk := mustSkill(t, KindLLM, sentimentConfig())
	preds := table.NewIndexed([]string{"text", "sentiment", "gold"}, []int{4, 9}, []table.Record{
		{"text": "fine", "sentiment": "positive", "gold": "positive"},
		{"text": "great!", "sentiment": "positive", "gold": "negative"},
	})
	errs, err := NewErrorSet(table.NewIndexed([]string{PredictionColumn, "gold"}, []int{9}, []table.Record{
		{PredictionColumn: "positive", "gold": "negative"},
	}), "gold")
	require.NoError(t, err)

	student := &fakeRuntime{
		batch: constant("reason", "sarcasm"),
		record: func(r table.Record, req runtime.Request) (table.Record, error) {
			rows := r["predictions_and_errors"].([]map[string]any)
			require.Len(t, rows, 1)
			assert.Equal(t, "Input: great!", rows[0]["input"])
			assert.Equal(t, "sarcasm", rows[0]["reason"])
			assert.Nil(t, req.Output)
			return table.Record{"": " report "}, nil
		},
	}

	report, err := sk.Analyze(context.Background(), preds, errs, student, nil)
	require.NoError(t, err)
	assert.Equal(t, "report", report)
	assert.Equal(t, 1, student.renders)
	assert.Equal(t, 1, student.batches)
	assert.Equal(t, 1, student.records)

	// The skill's instructions reach the reason prompt as a variable.
	assert.Equal(t, "Classify the sentiment of the text.", student.requests[0].Extra[FieldInstructions])
}

func TestAnalyzeNoErrors(t *testing.T) {
	sk := mustSkill(t, KindLLM, sentimentConfig())
	errs, err := NewErrorSet(table.Empty([]string{PredictionColumn, "gold"}), "gold")
	require.NoError(t, err)

	_, err = sk.Analyze(context.Background(), table.Empty([]string{"text"}), errs, &fakeRuntime{}, nil)
	assert.ErrorIs(t, err, ErrNoErrors)
}

func TestImproveMutatesOnlyInstructions(t *testing.T) {
	sk := mustSkill(t, KindClassification, sentimentConfig())
	before := sk.Descriptor().Config()

	teacher := &fakeRuntime{record: func(r table.Record, _ runtime.Request) (table.Record, error) {
		assert.Equal(t, "report", r["error_analysis"])
		assert.Equal(t, before.Instructions, r["old_instructions"])
		return table.Record{"new_instruction": "Better instructions.\nInput: a\nOutput: positive"}, nil
	}}
	_, err := sk.Improve(context.Background(), "report", teacher)
	require.NoError(t, err)

	after := sk.Descriptor().Config()
	assert.NotEqual(t, before.Instructions, after.Instructions)
	after.Instructions = before.Instructions
	assert.Equal(t, before, after)
}

func TestImproveFailureCommitsNothing(t *testing.T) {
	sk := mustSkill(t, KindLLM, sentimentConfig())
	before := sk.Descriptor().Instructions()

	boom := &runtime.BackendError{Op: "chat", Role: provider.RoleTeacher, Err: errors.New("down")}
	_, err := sk.Improve(context.Background(), "report", &fakeRuntime{record: func(table.Record, runtime.Request) (table.Record, error) {
		return nil, boom
	}})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, sk.Descriptor().Instructions())

	_, err = sk.Improve(context.Background(), "report", &fakeRuntime{record: func(table.Record, runtime.Request) (table.Record, error) {
		return table.Record{"new_instruction": "   "}, nil
	}})
	assert.ErrorIs(t, err, ErrEmptyInstructions)
	assert.Equal(t, before, sk.Descriptor().Instructions())
}

func TestImproveKeepsUnrenderableTextVerbatim(t *testing.T) {
	for _, reply := range []string{
		`Answer in JSON like {{"label": "positive"}}.`,
		"Classify {{.tone}} as negative.",
	} {
		t.Run(reply, func(t *testing.T) {
			sk := mustSkill(t, KindClassification, sentimentConfig())
			teacher := &fakeRuntime{record: func(table.Record, runtime.Request) (table.Record, error) {
				return table.Record{"new_instruction": reply}, nil
			}}
			_, err := sk.Improve(context.Background(), "report", teacher)
			require.NoError(t, err)

			var system string
			student := runtime.NewLLM(runtime.ChatFunc(func(_ context.Context, _ string, req *provider.ChatRequest) (*provider.ChatResponse, error) {
				system = req.Messages[0].Content
				return &provider.ChatResponse{Content: "negative"}, nil
			}), runtime.Config{}, zap.NewNop())

			out, err := sk.Apply(context.Background(), dataset.FromBatch(table.New([]string{"text"}, []table.Record{{"text": "great!"}})), student)
			require.NoError(t, err)
			assert.Equal(t, "negative", out.Rows[0]["sentiment"])
			assert.Equal(t, reply, system)
		})
	}
}

func TestImproveKeepsRenderableTemplate(t *testing.T) {
	sk := mustSkill(t, KindClassification, sentimentConfig())
	teacher := &fakeRuntime{record: func(table.Record, runtime.Request) (table.Record, error) {
		return table.Record{"new_instruction": `Pick one of {{join .labels ", "}} for {{.text}}.`}, nil
	}}
	next, err := sk.Improve(context.Background(), "report", teacher)
	require.NoError(t, err)
	assert.Equal(t, `Pick one of {{join .labels ", "}} for {{.text}}.`, next)
}

func TestClassificationCoTKeepsRationale(t *testing.T) {
	sk := mustSkill(t, KindClassificationCoT, sentimentConfig())
	assert.Equal(t, KindClassificationCoT, sk.Kind())
	assert.Equal(t, ClassificationCoTOutputTemplate, sk.Descriptor().Config().OutputTemplate)

	rt := &fakeRuntime{batch: func(b *table.Batch, _ runtime.Request) (*table.Batch, error) {
		rows := make([]table.Record, b.Len())
		for i := range rows {
			rows[i] = table.Record{"rationale": "The text complains.", "predictions": "Negative"}
		}
		return table.NewIndexed([]string{"rationale", "predictions"}, b.Index, rows), nil
	}}
	out, err := sk.Apply(context.Background(), dataset.FromBatch(table.New([]string{"text"}, []table.Record{{"text": "awful"}})), rt)
	require.NoError(t, err)
	assert.Equal(t, "negative", out.Rows[0]["sentiment"])
	assert.Equal(t, "The text complains.", out.Rows[0]["rationale"])
}

func TestPresetVariants(t *testing.T) {
	tests := []struct {
		kind   string
		input  string
		output string
		instr  string
	}{
		{KindQuestionAnswering, "Question: " + template.InputMarker, `Answer: {{gen "predictions"}}`, "Answer the question."},
		{KindSummarization, "Text: " + template.InputMarker, `Summary: {{gen "predictions"}}`, "Summarize the text."},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			sk := mustSkill(t, tt.kind, Config{Name: "task", InputDataField: "text"})
			assert.Equal(t, tt.kind, sk.Kind())
			cfg := sk.Descriptor().Config()
			assert.Equal(t, tt.input, cfg.InputTemplate)
			assert.Equal(t, tt.output, cfg.OutputTemplate)
			assert.Equal(t, tt.instr, cfg.Instructions)

			own := mustSkill(t, tt.kind, Config{Name: "task", InputDataField: "text", Instructions: "Be brief."})
			assert.Equal(t, "Be brief.", own.Descriptor().Instructions())
		})
	}
}
