package skill

import (
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/nidhogg/tutor/internal/table"
)

// DefaultMaxErrors bounds the errors sent for analysis when no limit is given.
const DefaultMaxErrors = 3

// Sampler picks a bounded, uniformly random subset of an error set.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler creates a Sampler drawing from rng. A nil rng is seeded randomly.
func NewSampler(rng *rand.Rand) *Sampler {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Sampler{rng: rng}
}

// Sample returns min(maxErrors, errs.Len()) rows drawn without replacement.
// The rows keep their relative order. maxErrors below one means
// DefaultMaxErrors.
func (s *Sampler) Sample(errs *ErrorSet, maxErrors int) *ErrorSet {
	if maxErrors < 1 {
		maxErrors = DefaultMaxErrors
	}
	n := errs.Len()
	k := min(maxErrors, n)

	s.mu.Lock()
	picks := s.rng.Perm(n)[:k]
	s.mu.Unlock()
	slices.Sort(picks)

	index := make([]int, k)
	rows := make([]table.Record, k)
	for i, p := range picks {
		index[i] = errs.Index[p]
		rows[i] = errs.Rows[p].Clone()
	}
	return &ErrorSet{
		Batch:            table.NewIndexed(errs.Columns, index, rows),
		GroundTruthField: errs.GroundTruthField,
	}
}
