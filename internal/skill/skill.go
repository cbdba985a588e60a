// Package skill implements declarative units of templated inference over
// tabular data and the loop that improves them: apply, analyze, improve.
package skill

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/tutor/internal/dataset"
	"github.com/nidhogg/tutor/internal/runtime"
	"github.com/nidhogg/tutor/internal/table"
	"github.com/nidhogg/tutor/internal/template"
)

// Variant kinds accepted by New.
const (
	KindLLM            = "llm"
	KindClassification = "classification"
	KindGeneration     = "generation"

	KindClassificationCoT = "classification_cot"
	KindQuestionAnswering = "question_answering"
	KindSummarization     = "summarization"
)

// ErrNoRuntime is returned when a step is called without a runtime.
var ErrNoRuntime = errors.New("no runtime")

// Skill is the capability every variant provides.
type Skill interface {
	Kind() string
	Descriptor() *Descriptor
	// Apply runs the skill over ds and returns ds's rows with the skill
	// column added.
	Apply(ctx context.Context, ds dataset.Dataset, rt runtime.Runtime) (*table.Batch, error)
	// Analyze explains the sampled errors errs of predictions.
	Analyze(ctx context.Context, predictions *table.Batch, errs *ErrorSet, student, teacher runtime.Runtime) (string, error)
	// Improve rewrites the instructions from report and returns them.
	Improve(ctx context.Context, report string, teacher runtime.Runtime) (string, error)
}

type options struct {
	logger      *zap.Logger
	concurrency int
}

// Option configures a skill built by New.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithConcurrency bounds the batches of one Apply that run at once.
func WithConcurrency(n int) Option { return func(o *options) { o.concurrency = n } }

// New builds the variant named by kind. An empty kind means KindLLM.
func New(kind string, cfg Config, opts ...Option) (Skill, error) {
	o := options{logger: zap.NewNop(), concurrency: 1}
	for _, fn := range opts {
		fn(&o)
	}
	switch strings.ToLower(kind) {
	case "", KindLLM:
		return newLLMSkill(cfg, o)
	case KindClassification:
		return newClassificationSkill(cfg, o)
	case KindGeneration:
		return newGenerationSkill(cfg, o)
	case KindClassificationCoT:
		return newClassificationCoTSkill(cfg, o)
	case KindQuestionAnswering:
		return newPresetSkill(KindQuestionAnswering, questionAnsweringPreset, cfg, o)
	case KindSummarization:
		return newPresetSkill(KindSummarization, summarizationPreset, cfg, o)
	default:
		return nil, &ConfigurationError{Skill: cfg.Name, Field: "kind", Msg: fmt.Sprintf("unknown skill kind %q", kind)}
	}
}

// LLMSkill is the general variant.
type LLMSkill struct {
	desc     *Descriptor
	driver   *Driver
	analyzer *Analyzer
	improver *Improver
	logger   *zap.Logger
}

// newLLMSkill builds an LLMSkill from cfg.
func newLLMSkill(cfg Config, o options) (*LLMSkill, error) {
	d, err := NewDescriptor(cfg)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With(zap.String("component", "skill"), zap.String("skill", cfg.Name))
	return &LLMSkill{
		desc:     d,
		driver:   NewDriver(NewExecutor(logger), o.concurrency, logger),
		analyzer: NewAnalyzer(logger),
		improver: NewImprover(logger),
		logger:   logger,
	}, nil
}

func (s *LLMSkill) Kind() string            { return KindLLM }
func (s *LLMSkill) Descriptor() *Descriptor { return s.desc }

// Apply snapshots the descriptor once so every batch sees the same
// instructions, even if Improve runs concurrently.
func (s *LLMSkill) Apply(ctx context.Context, ds dataset.Dataset, rt runtime.Runtime) (*table.Batch, error) {
	if rt == nil {
		return nil, fmt.Errorf("apply %s: %w", s.desc.Name(), ErrNoRuntime)
	}
	return s.driver.Apply(ctx, ds, s.desc.Snapshot(), rt)
}

func (s *LLMSkill) Analyze(ctx context.Context, predictions *table.Batch, errs *ErrorSet, student, teacher runtime.Runtime) (string, error) {
	if student == nil {
		return "", fmt.Errorf("analyze %s: %w", s.desc.Name(), ErrNoRuntime)
	}
	return s.analyzer.Analyze(ctx, s.desc.Snapshot(), predictions, errs, student, teacher)
}

func (s *LLMSkill) Improve(ctx context.Context, report string, teacher runtime.Runtime) (string, error) {
	if teacher == nil {
		return "", fmt.Errorf("improve %s: %w", s.desc.Name(), ErrNoRuntime)
	}
	return s.improver.Improve(ctx, s.desc, report, teacher)
}

// ClassificationSkill assigns one of a fixed set of labels, taken from the
// "labels" extra field. Predictions are mapped onto a label ignoring case.
type ClassificationSkill struct {
	*LLMSkill
	labels []string
}

// ClassificationOutputTemplate constrains predictions to the labels.
const ClassificationOutputTemplate = `Output: {{select "predictions" .labels}}`

// newClassificationSkill builds a ClassificationSkill from cfg.
func newClassificationSkill(cfg Config, o options) (*ClassificationSkill, error) {
	labels := labelsOf(cfg.Extra["labels"])
	if len(labels) == 0 {
		return nil, &ConfigurationError{Skill: cfg.Name, Field: "labels", Msg: "classification skills need a non-empty labels list"}
	}
	if cfg.OutputTemplate == "" {
		cfg.OutputTemplate = ClassificationOutputTemplate
	}
	base, err := newLLMSkill(cfg, o)
	if err != nil {
		return nil, err
	}
	return &ClassificationSkill{LLMSkill: base, labels: labels}, nil
}

func (s *ClassificationSkill) Kind() string { return KindClassification }

// Labels returns the label set.
func (s *ClassificationSkill) Labels() []string { return slices.Clone(s.labels) }

func (s *ClassificationSkill) Apply(ctx context.Context, ds dataset.Dataset, rt runtime.Runtime) (*table.Batch, error) {
	out, err := s.LLMSkill.Apply(ctx, ds, rt)
	if err != nil {
		return nil, err
	}
	name := s.desc.Name()
	for _, r := range out.Rows {
		if v, ok := r[name].(string); ok {
			r[name] = s.normalize(v)
		}
	}
	return out, nil
}

func (s *ClassificationSkill) normalize(v string) string {
	t := strings.TrimSpace(v)
	for _, l := range s.labels {
		if strings.EqualFold(t, l) {
			return l
		}
	}
	return v
}

// GenerationSkill produces free text.
type GenerationSkill struct {
	*LLMSkill
}

// newGenerationSkill builds a GenerationSkill from cfg.
func newGenerationSkill(cfg Config, o options) (*GenerationSkill, error) {
	base, err := newLLMSkill(cfg, o)
	if err != nil {
		return nil, err
	}
	return &GenerationSkill{LLMSkill: base}, nil
}

func (s *GenerationSkill) Kind() string { return KindGeneration }

// ClassificationCoTSkill is a ClassificationSkill that asks for its reasoning
// before the label. The reasoning lands in the "rationale" column.
type ClassificationCoTSkill struct {
	*ClassificationSkill
}

// ClassificationCoTOutputTemplate captures the reasoning, then the label.
const ClassificationCoTOutputTemplate = "Thoughts: {{gen \"rationale\"}}\nOutput: {{select \"predictions\" .labels}}"

func newClassificationCoTSkill(cfg Config, o options) (*ClassificationCoTSkill, error) {
	if cfg.OutputTemplate == "" {
		cfg.OutputTemplate = ClassificationCoTOutputTemplate
	}
	base, err := newClassificationSkill(cfg, o)
	if err != nil {
		return nil, err
	}
	return &ClassificationCoTSkill{ClassificationSkill: base}, nil
}

func (s *ClassificationCoTSkill) Kind() string { return KindClassificationCoT }

// preset holds the defaults of a generation variant. Fields set in the
// skill's own config win.
type preset struct {
	instructions   string
	inputTemplate  string
	outputTemplate string
}

var (
	questionAnsweringPreset = preset{
		instructions:   "Answer the question.",
		inputTemplate:  "Question: " + template.InputMarker,
		outputTemplate: `Answer: {{gen "predictions"}}`,
	}
	summarizationPreset = preset{
		instructions:   "Summarize the text.",
		inputTemplate:  "Text: " + template.InputMarker,
		outputTemplate: `Summary: {{gen "predictions"}}`,
	}
)

func (p preset) apply(cfg Config) Config {
	if cfg.Instructions == "" {
		cfg.Instructions = p.instructions
	}
	if cfg.InputTemplate == "" {
		cfg.InputTemplate = p.inputTemplate
	}
	if cfg.OutputTemplate == "" {
		cfg.OutputTemplate = p.outputTemplate
	}
	return cfg
}

// PresetSkill is a GenerationSkill with task-specific default templates.
type PresetSkill struct {
	*GenerationSkill
	kind string
}

func newPresetSkill(kind string, p preset, cfg Config, o options) (*PresetSkill, error) {
	base, err := newGenerationSkill(p.apply(cfg), o)
	if err != nil {
		return nil, err
	}
	return &PresetSkill{GenerationSkill: base, kind: kind}, nil
}

func (s *PresetSkill) Kind() string { return s.kind }

func labelsOf(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			out = append(out, fmt.Sprint(x))
		}
		return out
	default:
		return nil
	}
}
