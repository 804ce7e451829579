package allocation

import (
	"math/rand"
	"sync"
)

// Sampler picks k items from a pool, used to rotate win-rate warmup queries
// across symbols an agent has not traded yet. The interface exists so tests
// can pin the selection.
type Sampler interface {
	Sample(pool []string, k int) []string
}

type randSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler returns a seedable sampler. The same seed yields the same
// selections, which tests rely on.
func NewSampler(seed int64) Sampler {
	return &randSampler{rng: rand.New(rand.NewSource(seed))}
}

func (s *randSampler) Sample(pool []string, k int) []string {
	if k <= 0 || len(pool) == 0 {
		return nil
	}
	if k >= len(pool) {
		out := make([]string, len(pool))
		copy(out, pool)
		return out
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.rng.Perm(len(pool))[:k]
	out := make([]string, 0, k)
	for _, i := range idx {
		out = append(out, pool[i])
	}
	return out
}
