package template

import (
	"fmt"
	"slices"
	"strings"
	"text/template"
)

// Field is one value the model is asked to produce. An empty Name stands for
// the whole response.
type Field struct {
	Name    string   `json:"name"`
	Options []string `json:"options,omitempty"`
}

// Spec is an output template bound to concrete variables.
type Spec struct {
	// Text is the rendered template with the capture points removed.
	Text   string  `json:"text"`
	Fields []Field `json:"fields"`
}

// Names returns the capture names in declaration order.
func (s *Spec) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Whole reports whether the entire response is captured as one unnamed value.
func (s *Spec) Whole() bool {
	return len(s.Fields) == 1 && s.Fields[0].Name == ""
}

// Output is a compiled output template. Captures are declared with
// {{gen "name"}} for free text and {{select "name" .labels}} for a value
// constrained to a list of options.
type Output struct {
	src  string
	tmpl *template.Template
}

func captureStubs() template.FuncMap {
	return template.FuncMap{
		"gen":    func(string) string { return "" },
		"select": func(string, any) string { return "" },
	}
}

// ParseOutput compiles src. An empty src captures the whole response.
func ParseOutput(src string) (*Output, error) {
	if strings.TrimSpace(src) == "" {
		return &Output{}, nil
	}
	t, err := template.New("output").Funcs(helpers).Funcs(captureStubs()).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse output template: %w", err)
	}
	return &Output{src: src, tmpl: t}, nil
}

// MustOutput is ParseOutput for package-level templates known to be valid.
func MustOutput(src string) *Output {
	o, err := ParseOutput(src)
	if err != nil {
		panic(err)
	}
	return o
}

// Source returns the template text.
func (o *Output) Source() string { return o.src }

// Bind renders the template against vars, collecting the declared captures.
// A template without captures yields the single unnamed capture.
func (o *Output) Bind(vars map[string]any) (*Spec, error) {
	if o == nil || o.tmpl == nil {
		return &Spec{Fields: []Field{{Name: ""}}}, nil
	}

	var fields []Field
	add := func(f Field) error {
		if slices.ContainsFunc(fields, func(x Field) bool { return x.Name == f.Name }) {
			return fmt.Errorf("duplicate capture %q", f.Name)
		}
		fields = append(fields, f)
		return nil
	}

	t, err := o.tmpl.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone output template: %w", err)
	}
	t.Funcs(template.FuncMap{
		"gen": func(name string) (string, error) {
			return "", add(Field{Name: name})
		},
		"select": func(name string, options any) (string, error) {
			opts := toStrings(options)
			if len(opts) == 0 {
				return "", fmt.Errorf("select %q: no options", name)
			}
			return "", add(Field{Name: name, Options: opts})
		},
	})

	var b strings.Builder
	if err := t.Execute(&b, vars); err != nil {
		return nil, fmt.Errorf("bind output template: %w", err)
	}
	if len(fields) == 0 {
		fields = []Field{{Name: ""}}
	}
	return &Spec{Text: strings.TrimRight(b.String(), " "), Fields: fields}, nil
}
