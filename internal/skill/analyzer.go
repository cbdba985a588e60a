package skill

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/tutor/internal/runtime"
	"github.com/nidhogg/tutor/internal/table"
	"github.com/nidhogg/tutor/internal/template"
)

// ErrNoErrors is returned when there is nothing to analyze.
var ErrNoErrors = errors.New("no errors to analyze")

// The skill's instructions reach the prompts as the "instructions" variable.
// That key is reserved, so no extra field can shadow it.
const (
	reasonInstructions = `A prompt was built by joining instructions with one text input:

Prediction = LLM(Input, Instructions)

The prediction is expected to equal the ground truth. Explain why the
instructions below led to the wrong prediction. Be concise and specific.

Instructions: {{.instructions}}`

	reportInstructions = `Below are inputs a model got wrong, each with its prediction, the ground
truth and the reason for the error. Write one error analysis report that
explains what the instructions are missing or getting wrong.`
)

var (
	reasonInput = template.MustInput(`{{.input}}
Prediction: {{.prediction}}
Ground truth: {{.ground_truth}}
Error reason:`)
	reasonOutput = template.MustOutput(`{{gen "reason"}}`)

	reportInput = template.MustInput(`{{range .predictions_and_errors}}
{{.input}}
Prediction: {{.prediction}}
Ground truth: {{.ground_truth}}
Error reason: {{.reason}}
{{end}}`)
)

// Analyzer explains a skill's errors with the help of a teacher runtime.
type Analyzer struct {
	logger *zap.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

// Analyze builds an error analysis report for the sampled errors errs of
// predictions. Inputs are re-rendered with the student's templates, one
// reason is asked of the teacher per error, and one more teacher call folds
// the reasons into the report. A nil teacher falls back to the student.
func (a *Analyzer) Analyze(ctx context.Context, snap *Snapshot, predictions *table.Batch, errs *ErrorSet, student, teacher runtime.Runtime) (string, error) {
	if errs.Len() == 0 {
		return "", ErrNoErrors
	}
	if teacher == nil {
		teacher = student
	}

	rows, err := predictions.Take(errs.Index)
	if err != nil {
		return "", fmt.Errorf("analyze %s: %w", snap.Name, err)
	}
	inputs, err := student.Render(ctx, rows, snap.Input, snap.Extra)
	if err != nil {
		return "", fmt.Errorf("analyze %s: render inputs: %w", snap.Name, err)
	}

	cmp := make([]table.Record, errs.Len())
	for i, r := range errs.Rows {
		cmp[i] = table.Record{
			"input":        inputs[i],
			"prediction":   r[PredictionColumn],
			"ground_truth": r[errs.GroundTruthField],
		}
	}
	comparison := table.NewIndexed([]string{"input", "prediction", "ground_truth"}, errs.Index, cmp)

	extra := maps.Clone(snap.Extra)
	if extra == nil {
		extra = map[string]any{}
	}
	extra[FieldInstructions] = snap.Instructions

	reasons, err := teacher.ProcessBatch(ctx, comparison, runtime.Request{
		Input:        reasonInput,
		Output:       reasonOutput,
		Instructions: reasonInstructions,
		Extra:        extra,
	})
	if err != nil {
		return "", err
	}
	withReasons, err := comparison.Merge(reasons)
	if err != nil {
		return "", fmt.Errorf("analyze %s: %w", snap.Name, err)
	}

	out, err := teacher.ProcessRecord(ctx, table.Record{
		"predictions_and_errors": withReasons.Maps(),
	}, runtime.Request{
		Input:        reportInput,
		Instructions: reportInstructions,
	})
	if err != nil {
		return "", err
	}

	report := strings.TrimSpace(fmt.Sprint(out[""]))
	a.logger.Info("errors analyzed",
		zap.String("skill", snap.Name),
		zap.Int("errors", errs.Len()),
		zap.Int("report_len", len(report)),
	)
	return report, nil
}
