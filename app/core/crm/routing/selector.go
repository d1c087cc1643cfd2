package routing

import (
	"math/rand"
	"sync"
	"time"

	"leadrouter/app/core/crm/store"
)

// Rand is the random source behind operator selection. Injected so
// tests can pass a seeded or scripted generator; *math/rand.Rand
// satisfies it.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

type Selector struct {
	mu  sync.Mutex
	rng Rand
}

func NewSelector(rng Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Selector{rng: rng}
}

// Pick draws one operator from the eligible set with probability
// proportional to its weight. Operators absent from the weight map
// resolve to weight 0. When the resolved weights sum to zero the draw
// falls back to uniform, so incomplete weight configuration degrades
// fairness, never availability. Returns nil only for an empty set.
func (s *Selector) Pick(eligible []store.Operator, weights map[int64]float64) *store.Operator {
	if len(eligible) == 0 {
		return nil
	}

	resolved := make([]float64, len(eligible))
	total := 0.0
	for i, op := range eligible {
		resolved[i] = weights[op.ID]
		total += resolved[i]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if total <= 0 {
		return &eligible[s.rng.Intn(len(eligible))]
	}

	draw := s.rng.Float64() * total
	acc := 0.0
	for i := range eligible {
		acc += resolved[i]
		if draw < acc {
			return &eligible[i]
		}
	}
	// Float round-off can leave draw just past the last boundary.
	return &eligible[len(eligible)-1]
}
