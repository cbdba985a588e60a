package skill

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/nidhogg/tutor/internal/template"
)

// ConfigurationError reports a skill that is wired incorrectly.
type ConfigurationError = template.ConfigurationError

// Reserved descriptor keys. Every other key of a skill file is an extra field.
const (
	FieldName            = "name"
	FieldDescription     = "description"
	FieldInstructions    = "instructions"
	FieldInputTemplate   = "input_template"
	FieldOutputTemplate  = "output_template"
	FieldInputDataField  = "input_data_field"
	FieldPredictionField = "prediction_field"
)

// SystemFields is the reserved key set.
var SystemFields = []string{
	FieldName,
	FieldDescription,
	FieldInstructions,
	FieldInputTemplate,
	FieldOutputTemplate,
	FieldInputDataField,
	FieldPredictionField,
}

// IsSystemField reports whether key is reserved.
func IsSystemField(key string) bool { return slices.Contains(SystemFields, key) }

const (
	DefaultInputTemplate   = "Input: " + template.InputMarker
	DefaultOutputTemplate  = `Output: {{gen "predictions"}}`
	DefaultPredictionField = "predictions"
)

// Config is the flat, serializable form of a skill descriptor.
type Config struct {
	Name            string         `json:"name" yaml:"name"`
	Description     string         `json:"description,omitempty" yaml:"description,omitempty"`
	Instructions    string         `json:"instructions" yaml:"instructions"`
	InputTemplate   string         `json:"input_template,omitempty" yaml:"input_template,omitempty"`
	OutputTemplate  string         `json:"output_template,omitempty" yaml:"output_template,omitempty"`
	InputDataField  string         `json:"input_data_field,omitempty" yaml:"input_data_field,omitempty"`
	PredictionField string         `json:"prediction_field,omitempty" yaml:"prediction_field,omitempty"`
	Extra           map[string]any `json:"extra,omitempty" yaml:"-"`
}

// FromMap splits a flat key/value map into system fields and extra fields.
func FromMap(m map[string]any) (Config, error) {
	var c Config
	c.Extra = make(map[string]any)
	for k, v := range m {
		if !IsSystemField(k) {
			c.Extra[k] = v
			continue
		}
		s, ok := v.(string)
		if !ok && v != nil {
			return Config{}, &ConfigurationError{Skill: fmt.Sprint(m[FieldName]), Field: k, Msg: fmt.Sprintf("must be a string, got %T", v)}
		}
		switch k {
		case FieldName:
			c.Name = s
		case FieldDescription:
			c.Description = s
		case FieldInstructions:
			c.Instructions = s
		case FieldInputTemplate:
			c.InputTemplate = s
		case FieldOutputTemplate:
			c.OutputTemplate = s
		case FieldInputDataField:
			c.InputDataField = s
		case FieldPredictionField:
			c.PredictionField = s
		}
	}
	return c, nil
}

// Map flattens c back into a single key/value map. Empty system fields are
// omitted.
func (c Config) Map() map[string]any {
	m := make(map[string]any, len(c.Extra)+len(SystemFields))
	maps.Copy(m, c.Extra)
	for k, v := range map[string]string{
		FieldName:            c.Name,
		FieldDescription:     c.Description,
		FieldInstructions:    c.Instructions,
		FieldInputTemplate:   c.InputTemplate,
		FieldOutputTemplate:  c.OutputTemplate,
		FieldInputDataField:  c.InputDataField,
		FieldPredictionField: c.PredictionField,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// Descriptor is a configured skill. Everything except the instructions is
// fixed at construction; the instructions change only through Improve.
type Descriptor struct {
	cfg        Config
	input      *template.Input
	output     *template.Output
	predColumn string

	mu           sync.RWMutex
	instructions string
}

// Snapshot is a consistent, read-only view of a descriptor.
type Snapshot struct {
	Name            string
	Description     string
	Instructions    string
	InputDataField  string
	PredictionField string
	Input           *template.Input
	Output          *template.Output
	Extra           map[string]any

	// PredictionColumn is the output capture renamed to Name after inference.
	PredictionColumn string
}

// NewDescriptor validates cfg, resolves its input template and compiles both
// templates. Defaults apply to empty templates and prediction field.
func NewDescriptor(cfg Config) (*Descriptor, error) {
	if cfg.Name == "" {
		return nil, &ConfigurationError{Field: FieldName, Msg: "skill name is required"}
	}
	if cfg.InputTemplate == "" {
		cfg.InputTemplate = DefaultInputTemplate
	}
	if cfg.OutputTemplate == "" {
		cfg.OutputTemplate = DefaultOutputTemplate
	}
	if cfg.PredictionField == "" {
		cfg.PredictionField = DefaultPredictionField
	}
	cfg.Extra = maps.Clone(cfg.Extra)
	if cfg.Extra == nil {
		cfg.Extra = map[string]any{}
	}
	for k := range cfg.Extra {
		if IsSystemField(k) {
			return nil, &ConfigurationError{Skill: cfg.Name, Field: k, Msg: "reserved field cannot be an extra field"}
		}
	}

	resolved, err := template.Resolve(cfg.InputTemplate, cfg.InputDataField)
	if err != nil {
		var ce *ConfigurationError
		if errors.As(err, &ce) {
			ce.Skill = cfg.Name
		}
		return nil, err
	}
	input, err := template.ParseInput(resolved)
	if err != nil {
		return nil, &ConfigurationError{Skill: cfg.Name, Field: FieldInputTemplate, Msg: err.Error()}
	}
	output, err := template.ParseOutput(cfg.OutputTemplate)
	if err != nil {
		return nil, &ConfigurationError{Skill: cfg.Name, Field: FieldOutputTemplate, Msg: err.Error()}
	}
	if _, err := template.ParseInput(cfg.Instructions); err != nil {
		return nil, &ConfigurationError{Skill: cfg.Name, Field: FieldInstructions, Msg: err.Error()}
	}

	spec, err := output.Bind(cfg.Extra)
	if err != nil {
		return nil, &ConfigurationError{Skill: cfg.Name, Field: FieldOutputTemplate, Msg: err.Error()}
	}
	predColumn := ""
	if !spec.Whole() {
		if !slices.Contains(spec.Names(), cfg.PredictionField) {
			return nil, &ConfigurationError{
				Skill: cfg.Name,
				Field: FieldPredictionField,
				Msg:   fmt.Sprintf("%q is not captured by output_template (captures: %v)", cfg.PredictionField, spec.Names()),
			}
		}
		predColumn = cfg.PredictionField
	}

	return &Descriptor{
		cfg:          cfg,
		input:        input,
		output:       output,
		predColumn:   predColumn,
		instructions: cfg.Instructions,
	}, nil
}

// Name returns the skill name.
func (d *Descriptor) Name() string { return d.cfg.Name }

// Instructions returns the current instructions.
func (d *Descriptor) Instructions() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.instructions
}

// SetInstructions replaces the instructions.
func (d *Descriptor) SetInstructions(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instructions = s
}

// ExtraFields returns a copy of the fields outside the reserved set.
func (d *Descriptor) ExtraFields() map[string]any { return maps.Clone(d.cfg.Extra) }

// Config returns the descriptor as configured, with the current instructions.
func (d *Descriptor) Config() Config {
	c := d.cfg
	c.Extra = maps.Clone(d.cfg.Extra)
	c.Instructions = d.Instructions()
	return c
}

// Snapshot captures the descriptor with its current instructions.
func (d *Descriptor) Snapshot() *Snapshot {
	return &Snapshot{
		Name:             d.cfg.Name,
		Description:      d.cfg.Description,
		Instructions:     d.Instructions(),
		InputDataField:   d.cfg.InputDataField,
		PredictionField:  d.cfg.PredictionField,
		Input:            d.input,
		Output:           d.output,
		Extra:            maps.Clone(d.cfg.Extra),
		PredictionColumn: d.predColumn,
	}
}
