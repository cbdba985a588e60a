package skill

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// KindKey selects the variant in a skill file. It is consumed by the loader
// and never reaches the descriptor.
const KindKey = "kind"

// Skill file names inside a skill directory, in lookup order.
const (
	YAMLFile         = "skill.yaml"
	JSONFile         = "skill.json"
	InstructionsFile = "instructions.md"
)

// Source is a skill together with the directory and file it was loaded from.
type Source struct {
	Skill Skill
	Dir   string
	File  string
}

// LoadFromDir scans a directory for skill subdirectories. Each subdirectory
// holds a skill.yaml (or skill.json) and optionally an instructions.md that
// overrides the instructions field. If dir doesn't exist, returns an empty
// slice without error.
func LoadFromDir(dir string, opts ...Option) ([]Skill, error) {
	sources, err := LoadSources(dir, opts...)
	if err != nil {
		return nil, err
	}
	skills := make([]Skill, len(sources))
	for i, src := range sources {
		skills[i] = src.Skill
	}
	return skills, nil
}

// LoadSources is LoadFromDir keeping where each skill came from. Two
// directories declaring the same skill name are a ConfigurationError.
func LoadSources(dir string, opts ...Option) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading skill directory %s: %w", dir, err)
	}

	var sources []Source
	seen := map[string]string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		src, err := loadSkillFromSubdir(filepath.Join(dir, entry.Name()), opts)
		if err != nil {
			return nil, fmt.Errorf("loading skill %s: %w", entry.Name(), err)
		}
		if src == nil {
			continue
		}
		name := src.Skill.Descriptor().Name()
		if prev, ok := seen[name]; ok {
			return nil, &ConfigurationError{Skill: name, Field: FieldName, Msg: fmt.Sprintf("declared by both %s and %s", prev, src.Dir)}
		}
		seen[name] = src.Dir
		sources = append(sources, *src)
	}

	return sources, nil
}

func loadSkillFromSubdir(dir string, opts []Option) (*Source, error) {
	var (
		raw  map[string]any
		err  error
		file string
	)
	if data, rerr := os.ReadFile(filepath.Join(dir, YAMLFile)); rerr == nil {
		file, err = YAMLFile, yaml.Unmarshal(data, &raw)
	} else if !os.IsNotExist(rerr) {
		return nil, fmt.Errorf("reading skill file: %w", rerr)
	} else if data, rerr := os.ReadFile(filepath.Join(dir, JSONFile)); rerr == nil {
		file, err = JSONFile, json.Unmarshal(data, &raw)
	} else if os.IsNotExist(rerr) {
		return nil, nil
	} else {
		return nil, fmt.Errorf("reading skill file: %w", rerr)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing skill file in %s: %w", dir, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if data, err := os.ReadFile(filepath.Join(dir, InstructionsFile)); err == nil {
		raw[FieldInstructions] = strings.TrimSpace(string(data))
	}
	if _, ok := raw[FieldName]; !ok {
		raw[FieldName] = filepath.Base(dir)
	}
	s, err := Decode(raw, opts...)
	if err != nil {
		return nil, err
	}
	return &Source{Skill: s, Dir: dir, File: file}, nil
}

// Save writes the skill back to its directory in the format of its file. An
// existing instructions.md takes precedence when loading, so it is rewritten
// too.
func (src Source) Save() error {
	if src.File == "" {
		src.File = YAMLFile
	}
	if err := os.MkdirAll(src.Dir, 0o755); err != nil {
		return fmt.Errorf("create skill dir: %w", err)
	}

	f, err := os.Create(filepath.Join(src.Dir, src.File))
	if err != nil {
		return fmt.Errorf("create skill file: %w", err)
	}
	if src.File == JSONFile {
		err = EncodeJSON(f, src.Skill)
	} else {
		err = Encode(f, src.Skill)
	}
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close skill file: %w", err)
	}

	md := filepath.Join(src.Dir, InstructionsFile)
	if _, err := os.Stat(md); err == nil {
		if err := os.WriteFile(md, []byte(src.Skill.Descriptor().Instructions()+"\n"), 0o644); err != nil {
			return fmt.Errorf("write instructions: %w", err)
		}
	}
	return nil
}

// Decode builds a skill from a flat key/value map, as read from a skill file.
func Decode(raw map[string]any, opts ...Option) (Skill, error) {
	kind, _ := raw[KindKey].(string)
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if k != KindKey {
			fields[k] = v
		}
	}
	cfg, err := FromMap(fields)
	if err != nil {
		return nil, err
	}
	return New(kind, cfg, opts...)
}

// Encode writes s as a flat YAML skill file.
func Encode(w io.Writer, s Skill) error {
	m := s.Descriptor().Config().Map()
	m[KindKey] = s.Kind()

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode skill %s: %w", s.Descriptor().Name(), err)
	}
	return enc.Close()
}

// EncodeJSON writes s as a flat, indented JSON skill file.
func EncodeJSON(w io.Writer, s Skill) error {
	m := s.Descriptor().Config().Map()
	m[KindKey] = s.Kind()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode skill %s: %w", s.Descriptor().Name(), err)
	}
	return nil
}
