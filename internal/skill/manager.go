package skill

import (
	"cmp"
	"slices"
	"sync"
)

// Manager holds skills by name. All operations are thread-safe.
type Manager struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewManager creates an empty Manager ready for use.
func NewManager() *Manager {
	return &Manager{skills: make(map[string]Skill)}
}

// Add registers s, replacing any skill of the same name.
func (m *Manager) Add(s Skill) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skills[s.Descriptor().Name()] = s
}

// Get returns a skill by name, or nil if not found.
func (m *Manager) Get(name string) Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skills[name]
}

// Remove drops a skill. Unknown names are ignored.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.skills, name)
}

// All returns every skill sorted by name.
func (m *Manager) All() []Skill {
	m.mu.RLock()
	out := make([]Skill, 0, len(m.skills))
	for _, s := range m.skills {
		out = append(out, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Skill) int {
		return cmp.Compare(a.Descriptor().Name(), b.Descriptor().Name())
	})
	return out
}
