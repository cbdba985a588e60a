package skill

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeSkill(t *testing.T, root, name string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for f, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte(body), 0o644))
	}
}

func TestLoadFromDir(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "sentiment", map[string]string{
		"skill.yaml": `kind: classification
input_data_field: text
labels: [positive, negative]
instructions: placeholder
`,
		"instructions.md": "\nClassify the sentiment.\n",
	})
	writeSkill(t, root, "summary", map[string]string{
		"skill.json": `{"name": "summarize", "input_data_field": "text", "max_words": 20}`,
	})
	writeSkill(t, root, "empty", nil)
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("not a skill"), 0o644))

	skills, err := LoadFromDir(root)
	require.NoError(t, err)
	require.Len(t, skills, 2)

	byName := map[string]Skill{}
	for _, s := range skills {
		byName[s.Descriptor().Name()] = s
	}

	sent := byName["sentiment"]
	require.NotNil(t, sent)
	assert.Equal(t, KindClassification, sent.Kind())
	assert.Equal(t, "Classify the sentiment.", sent.Descriptor().Instructions())
	assert.Equal(t, map[string]any{"labels": []any{"positive", "negative"}}, sent.Descriptor().ExtraFields())

	sum := byName["summarize"]
	require.NotNil(t, sum)
	assert.Equal(t, KindLLM, sum.Kind())
	assert.Equal(t, map[string]any{"max_words": float64(20)}, sum.Descriptor().ExtraFields())
}

func TestLoadFromDirMissing(t *testing.T) {
	skills, err := LoadFromDir(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, skills)
}

func TestLoadFromDirBadSkill(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "broken", map[string]string{"skill.yaml": "instructions: no input field\n"})

	_, err := LoadFromDir(root)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, FieldInputDataField, ce.Field)
}

func TestEncodeRoundTrip(t *testing.T) {
	sk := mustSkill(t, KindClassification, sentimentConfig())
	sk.Descriptor().SetInstructions("Improved.")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sk))

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &raw))
	assert.Equal(t, KindClassification, raw[KindKey])
	assert.Equal(t, "Improved.", raw[FieldInstructions])

	back, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindClassification, back.Kind())
	assert.Equal(t, "Improved.", back.Descriptor().Instructions())
	assert.Equal(t, sk.Descriptor().Snapshot().Input.Source(), back.Descriptor().Snapshot().Input.Source())
}

func TestSaveWritesBackToSourceDir(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "summary", map[string]string{
		"skill.json": `{"name": "summarize", "input_data_field": "text", "max_words": 20}`,
	})

	sources, err := LoadSources(root)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	src := sources[0]
	assert.Equal(t, filepath.Join(root, "summary"), src.Dir)
	assert.Equal(t, JSONFile, src.File)

	src.Skill.Descriptor().SetInstructions("Summarize in <= 20 words.")
	require.NoError(t, src.Save())

	_, err = os.Stat(filepath.Join(root, "summarize"))
	assert.True(t, os.IsNotExist(err), "no directory named after the skill")
	_, err = os.Stat(filepath.Join(root, "summary", YAMLFile))
	assert.True(t, os.IsNotExist(err), "source format kept")

	reloaded, err := LoadFromDir(root)
	require.NoError(t, err)
	require.Len(t, reloaded, 1)
	assert.Equal(t, "summarize", reloaded[0].Descriptor().Name())
	assert.Equal(t, "Summarize in <= 20 words.", reloaded[0].Descriptor().Instructions())
	assert.EqualValues(t, 20, reloaded[0].Descriptor().ExtraFields()["max_words"])
}

func TestLoadSourcesRejectsDuplicateNames(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "a", map[string]string{"skill.yaml": "name: dup\ninput_data_field: text\n"})
	writeSkill(t, root, "b", map[string]string{"skill.json": `{"name": "dup", "input_data_field": "text"}`})

	_, err := LoadSources(root)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, FieldName, ce.Field)
}

func TestLoadVariantKinds(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "qa", map[string]string{"skill.yaml": "kind: question_answering\ninput_data_field: question\n"})
	writeSkill(t, root, "why", map[string]string{"skill.yaml": "kind: classification_cot\ninput_data_field: text\nlabels: [yes, no]\n"})

	sources, err := LoadSources(root)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, KindQuestionAnswering, sources[0].Skill.Kind())
	assert.Equal(t, KindClassificationCoT, sources[1].Skill.Kind())

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sources[0].Skill))
	assert.Contains(t, buf.String(), "kind: question_answering")
}
