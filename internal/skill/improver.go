package skill

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/tutor/internal/runtime"
	"github.com/nidhogg/tutor/internal/table"
	"github.com/nidhogg/tutor/internal/template"
)

// ErrEmptyInstructions is returned when the teacher produced no instructions.
var ErrEmptyInstructions = errors.New("teacher returned empty instructions")

const improveInstructions = `A prompt was built by joining instructions with one text input:

Prediction = LLM(Input, Instructions)

The prediction is expected to equal the ground truth. Study the errors the old
instructions caused and write new instructions for the LLM, following prompt
engineering best practice. End with 2-3 examples showing the new instructions
applied, each in this format:
Input: ...
Output: ...`

var (
	improveInput = template.MustInput(`Old instructions: {{.old_instructions}}

Errors:
{{.error_analysis}}
New instruction:`)
	improveOutput = template.MustOutput(`{{gen "new_instruction"}}`)
)

// Improver rewrites a skill's instructions from an error analysis report.
type Improver struct {
	logger *zap.Logger
}

// NewImprover creates an Improver.
func NewImprover(logger *zap.Logger) *Improver {
	return &Improver{logger: logger}
}

// Improve asks teacher for replacement instructions and commits them to d.
// Nothing is changed unless the call succeeds. Text that would not render
// against the skill's extra fields and input fields is committed escaped, so
// it reaches the model verbatim.
func (im *Improver) Improve(ctx context.Context, d *Descriptor, report string, teacher runtime.Runtime) (string, error) {
	snap := d.Snapshot()

	out, err := teacher.ProcessRecord(ctx, table.Record{
		"old_instructions": snap.Instructions,
		"error_analysis":   report,
	}, runtime.Request{
		Input:        improveInput,
		Output:       improveOutput,
		Instructions: improveInstructions,
		Extra:        snap.Extra,
	})
	if err != nil {
		return "", err
	}

	next := strings.TrimSpace(fmt.Sprint(out["new_instruction"]))
	if next == "" || out["new_instruction"] == nil {
		return "", fmt.Errorf("improve %s: %w", snap.Name, ErrEmptyInstructions)
	}
	if !renders(next, snap) {
		im.logger.Info("rewritten instructions kept as literal text", zap.String("skill", snap.Name))
		next = template.Literal(next)
	}

	d.SetInstructions(next)
	im.logger.Info("instructions improved",
		zap.String("skill", snap.Name),
		zap.Int("old_len", len(snap.Instructions)),
		zap.Int("new_len", len(next)),
	)
	return next, nil
}

// renders reports whether src expands against the extra fields of snap plus
// every field its input template reads.
func renders(src string, snap *Snapshot) bool {
	in, err := template.ParseInput(src)
	if err != nil {
		return false
	}
	vars := template.Merge(snap.Extra, nil)
	for _, f := range snap.Input.Fields() {
		if _, ok := vars[f]; !ok {
			vars[f] = ""
		}
	}
	if snap.InputDataField != "" {
		vars[snap.InputDataField] = ""
	}
	_, err = in.Render(vars)
	return err == nil
}
