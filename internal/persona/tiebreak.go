package persona

import (
	"hash/fnv"
	"math/rand/v2"
	"sync"
)

// TieBreaker picks one of n equally ranked candidates.
type TieBreaker interface {
	Pick(key string, n int) int
}

// HashTieBreaker derives the pick from key, so the same lead always gets the
// same persona.
type HashTieBreaker struct{}

func (HashTieBreaker) Pick(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// RandTieBreaker ignores the key and draws from a seeded source. Picks differ
// between calls; two breakers with the same seed produce the same sequence.
type RandTieBreaker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandTieBreaker(seed uint64) *RandTieBreaker {
	return &RandTieBreaker{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *RandTieBreaker) Pick(_ string, n int) int {
	if n <= 1 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}
