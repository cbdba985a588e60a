// Package template resolves skill templates against their input fields and
// expands them into prompt text.
//
// Templates go through two stages. Resolve binds the raw-input marker to the
// skill's input field once, when the skill is configured. Expansion happens per
// record inside the runtime, using Go text/template over the record's fields
// plus any extra skill fields.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// InputMarker is replaced by a reference to the skill's input data field.
const InputMarker = "{input}"

// ConfigurationError reports a skill that is wired incorrectly, for example a
// template that references an input field that was never declared.
type ConfigurationError struct {
	Skill string
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Skill == "" {
		return fmt.Sprintf("configuration: %s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("configuration: skill %q: %s: %s", e.Skill, e.Field, e.Msg)
}

// Resolve substitutes InputMarker in src with a reference to field. Templates
// without the marker are returned unchanged.
func Resolve(src, field string) (string, error) {
	if !strings.Contains(src, InputMarker) {
		return src, nil
	}
	if field == "" {
		return "", &ConfigurationError{
			Field: "input_data_field",
			Msg: fmt.Sprintf("input_template %q contains %s but no input_data_field is set; "+
				"set input_data_field to the column holding the raw input (for example \"text\")", src, InputMarker),
		}
	}
	return strings.ReplaceAll(src, InputMarker, fmt.Sprintf("{{index . %q}}", field)), nil
}

var helpers = template.FuncMap{
	"join": func(v any, sep string) string { return strings.Join(toStrings(v), sep) },
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
}

// Input is a compiled input (or instruction) template.
type Input struct {
	src  string
	tmpl *template.Template
}

// ParseInput compiles src. Missing top-level keys are an error at render time.
func ParseInput(src string) (*Input, error) {
	t, err := template.New("input").Funcs(helpers).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse input template: %w", err)
	}
	return &Input{src: src, tmpl: t}, nil
}

// MustInput is ParseInput for package-level templates known to be valid.
func MustInput(src string) *Input {
	t, err := ParseInput(src)
	if err != nil {
		panic(err)
	}
	return t
}

// Source returns the template text.
func (t *Input) Source() string { return t.src }

// Render expands the template against vars.
func (t *Input) Render(vars map[string]any) (string, error) {
	var b strings.Builder
	if err := t.tmpl.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return b.String(), nil
}

// Merge layers record fields over extra fields to form the variables of one
// expansion. Record fields win on conflict.
func Merge(extra map[string]any, record map[string]any) map[string]any {
	vars := make(map[string]any, len(extra)+len(record))
	for k, v := range extra {
		vars[k] = v
	}
	for k, v := range record {
		vars[k] = v
	}
	return vars
}

func toStrings(v any) []string {
	switch vv := v.(type) {
	case nil:
		return nil
	case []string:
		return vv
	case []any:
		out := make([]string, len(vv))
		for i, x := range vv {
			out[i] = fmt.Sprint(x)
		}
		return out
	case string:
		return []string{vv}
	default:
		return []string{fmt.Sprint(vv)}
	}
}
