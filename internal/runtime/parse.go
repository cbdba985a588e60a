package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nidhogg/tutor/internal/table"
	"github.com/nidhogg/tutor/internal/template"
)

// ErrParseFailed is returned when a multi-field response is not a JSON
// object, either directly or inside a markdown code fence.
var ErrParseFailed = errors.New("failed to parse response")

var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// parseFields maps a raw model response onto the captures of spec.
func parseFields(content string, spec *template.Spec) (table.Record, error) {
	content = strings.TrimSpace(content)

	if len(spec.Fields) == 1 {
		f := spec.Fields[0]
		v := stripLabel(content, spec.Text)
		if len(f.Options) > 0 {
			v = matchOption(v, f.Options)
		}
		return table.Record{f.Name: v}, nil
	}

	obj, err := parseObject(content)
	if err != nil {
		return nil, err
	}
	out := make(table.Record, len(spec.Fields))
	for _, f := range spec.Fields {
		v := stringify(obj[f.Name])
		if len(f.Options) > 0 {
			v = matchOption(v, f.Options)
		}
		out[f.Name] = v
	}
	return out, nil
}

func parseObject(content string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil && obj != nil {
		return obj, nil
	}
	if m := jsonBlockRegex.FindStringSubmatch(content); len(m) >= 2 {
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &obj); err == nil && obj != nil {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrParseFailed, content)
}

// stripLabel removes an echoed answer label such as "Output:" from the front of
// a single-value response.
func stripLabel(content, text string) string {
	label := strings.TrimSpace(text)
	if label == "" {
		return content
	}
	if len(content) >= len(label) && strings.EqualFold(content[:len(label)], label) {
		return strings.TrimSpace(content[len(label):])
	}
	return content
}

// matchOption returns the option v names, ignoring case and surrounding
// punctuation. A response naming exactly one option as a whole word, with no
// negation, resolves to that option; anything else is returned unchanged.
func matchOption(v string, options []string) string {
	clean := strings.Trim(v, " \t\n.\"'`*")
	for _, o := range options {
		if strings.EqualFold(clean, o) {
			return o
		}
	}
	if negationRegex.MatchString(clean) {
		return v
	}
	found := ""
	for _, o := range options {
		re, err := regexp.Compile(`(?i)(^|\W)` + regexp.QuoteMeta(o) + `($|\W)`)
		if err != nil || !re.MatchString(clean) {
			continue
		}
		if found != "" {
			return v
		}
		found = o
	}
	if found != "" {
		return found
	}
	return v
}

var negationRegex = regexp.MustCompile(`(?i)\b(not|no|never|neither|nor)\b|n't\b`)

func stringify(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(vv)
	default:
		b, err := json.Marshal(vv)
		if err != nil {
			return fmt.Sprint(vv)
		}
		return string(b)
	}
}
