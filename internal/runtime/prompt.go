package runtime

import (
	"fmt"
	"strings"

	"github.com/nidhogg/tutor/internal/provider"
	"github.com/nidhogg/tutor/internal/template"
)

// buildMessages lays out one inference as a system message holding the
// instructions and a user message holding the rendered input followed by the
// answer format.
func buildMessages(system, user string, spec *template.Spec) []provider.Message {
	var msgs []provider.Message
	if s := strings.TrimSpace(system); s != "" {
		msgs = append(msgs, provider.Message{Role: "system", Content: s})
	}

	var b strings.Builder
	if u := strings.TrimSpace(user); u != "" {
		b.WriteString(u)
		b.WriteString("\n\n")
	}
	b.WriteString(formatHint(spec))
	if t := strings.TrimSpace(spec.Text); t != "" {
		b.WriteString("\n\n")
		b.WriteString(t)
	}
	msgs = append(msgs, provider.Message{Role: "user", Content: b.String()})
	return msgs
}

func formatHint(spec *template.Spec) string {
	if len(spec.Fields) == 1 {
		f := spec.Fields[0]
		if len(f.Options) > 0 {
			return "Answer with exactly one of: " + strings.Join(f.Options, ", ") + "."
		}
		return "Answer with the output value only."
	}

	var b strings.Builder
	b.WriteString("Answer with a single JSON object with these string keys:")
	for _, f := range spec.Fields {
		fmt.Fprintf(&b, "\n- %q", f.Name)
		if len(f.Options) > 0 {
			fmt.Fprintf(&b, " (one of: %s)", strings.Join(f.Options, ", "))
		}
	}
	return b.String()
}
