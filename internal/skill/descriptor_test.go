package skill

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/nidhogg/tutor/internal/template"
)

func TestMarkerWithoutInputFieldFails(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.StringMatching(`[A-Za-z :]{0,12}`).Draw(t, "prefix")
		suffix := rapid.StringMatching(`[A-Za-z :]{0,12}`).Draw(t, "suffix")
		name := rapid.StringMatching(`[a-z]{1,10}`).Draw(t, "name")

		_, err := NewDescriptor(Config{
			Name:          name,
			InputTemplate: prefix + template.InputMarker + suffix,
		})
		var ce *ConfigurationError
		if !assert.ErrorAs(t, err, &ce) {
			return
		}
		assert.Equal(t, FieldInputDataField, ce.Field)
		assert.Equal(t, name, ce.Skill)
	})
}

func TestDefaultsAndResolution(t *testing.T) {
	d, err := NewDescriptor(Config{Name: "sentiment", InputDataField: "text"})
	require.NoError(t, err)

	snap := d.Snapshot()
	assert.Equal(t, DefaultPredictionField, snap.PredictionField)
	assert.Equal(t, "predictions", snap.PredictionColumn)
	assert.Equal(t, `Input: {{index . "text"}}`, snap.Input.Source())

	got, err := snap.Input.Render(map[string]any{"text": "great!"})
	require.NoError(t, err)
	assert.Equal(t, "Input: great!", got)
}

func TestTemplateWithoutMarkerNeedsNoInputField(t *testing.T) {
	d, err := NewDescriptor(Config{Name: "s", InputTemplate: `Text: {{.text}}`})
	require.NoError(t, err)
	assert.Equal(t, `Text: {{.text}}`, d.Snapshot().Input.Source())
}

func TestFromMapSplitsExtraFields(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"name":         "sentiment",
		"instructions": "Label it.",
		"labels":       []any{"pos", "neg"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sentiment", cfg.Name)
	assert.Equal(t, "Label it.", cfg.Instructions)
	assert.Equal(t, map[string]any{"labels": []any{"pos", "neg"}}, cfg.Extra)

	d, err := NewDescriptor(Config{Name: "x", InputDataField: "t", Extra: cfg.Extra})
	require.NoError(t, err)
	assert.Equal(t, cfg.Extra, d.ExtraFields())
}

func TestFromMapRejectsNonStringSystemField(t *testing.T) {
	_, err := FromMap(map[string]any{"name": "s", "instructions": 42})
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, FieldInstructions, ce.Field)
}

func TestConfigMapRoundTrip(t *testing.T) {
	cfg := Config{Name: "s", Instructions: "do it", InputDataField: "text", Extra: map[string]any{"tone": "dry"}}
	back, err := FromMap(cfg.Map())
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestPredictionFieldMustBeCaptured(t *testing.T) {
	_, err := NewDescriptor(Config{
		Name:            "s",
		InputDataField:  "text",
		OutputTemplate:  `Answer: {{gen "answer"}}`,
		PredictionField: "predictions",
	})
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, FieldPredictionField, ce.Field)
}

func TestUncapturedOutputUsesWholeResponse(t *testing.T) {
	d, err := NewDescriptor(Config{Name: "s", InputDataField: "text", OutputTemplate: "Summary:"})
	require.NoError(t, err)
	assert.Equal(t, "", d.Snapshot().PredictionColumn)
}

func TestBadTemplatesAreConfigurationErrors(t *testing.T) {
	for _, tc := range []struct {
		field string
		cfg   Config
	}{
		{FieldInputTemplate, Config{Name: "s", InputTemplate: "{{.x"}},
		{FieldOutputTemplate, Config{Name: "s", InputDataField: "t", OutputTemplate: "{{gen"}},
		{FieldInstructions, Config{Name: "s", InputDataField: "t", Instructions: "{{end}}"}},
		{FieldName, Config{InputDataField: "t"}},
		{FieldName, Config{Name: "s", InputDataField: "t", Extra: map[string]any{"name": "dup"}}},
	} {
		t.Run(tc.field, func(t *testing.T) {
			_, err := NewDescriptor(tc.cfg)
			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	d, err := NewDescriptor(Config{Name: "s", InputDataField: "t", Instructions: "v1", Extra: map[string]any{"k": "v"}})
	require.NoError(t, err)

	snap := d.Snapshot()
	snap.Extra["k"] = "changed"
	d.SetInstructions("v2")

	assert.Equal(t, "v1", snap.Instructions)
	assert.Equal(t, "v", d.ExtraFields()["k"])
	assert.Equal(t, "v2", d.Instructions())
}

func TestInstructionsSingleWriter(t *testing.T) {
	d, err := NewDescriptor(Config{Name: "s", InputDataField: "t", Instructions: strings.Repeat("a", 64)})
	require.NoError(t, err)

	old, next := strings.Repeat("a", 64), strings.Repeat("b", 64)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.SetInstructions(next)
		}()
		go func() {
			defer wg.Done()
			got := d.Snapshot().Instructions
			assert.True(t, got == old || got == next, "torn read %q", got)
		}()
	}
	wg.Wait()
}
