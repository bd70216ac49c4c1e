package idpool

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"segrag/internal/domain"
)

// Strategy selects how identifiers are generated.
type Strategy string

const (
	// Counter hands out start, start-1, start-2, ... Re-running the same
	// input reproduces the same identifiers.
	Counter Strategy = "counter"
	// Random samples unique values uniformly from [1, MaxInt64]. Collisions
	// with identifiers written by other runs are unlikely but possible.
	Random Strategy = "random"
)

// DefaultCounterStart leaves the low range free for identifiers assigned by
// other tools.
const DefaultCounterStart uint64 = math.MaxInt64

// ParseStrategy accepts "counter" or "random".
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case Counter:
		return Counter, nil
	case Random:
		return Random, nil
	}
	return "", fmt.Errorf("unknown id strategy %q (want counter or random)", s)
}

// Options tune a strategy. Zero values pick the defaults.
type Options struct {
	// Start is the first (highest) counter value.
	Start uint64
	// Seed makes the random strategy reproducible when non-zero.
	Seed uint64
}

// Allocate generates count distinct identifiers with the given strategy.
func Allocate(strategy Strategy, count int, opts Options) ([]uint64, error) {
	if count < 0 {
		return nil, fmt.Errorf("negative id count %d", count)
	}
	switch strategy {
	case Counter:
		start := opts.Start
		if start == 0 {
			start = DefaultCounterStart
		}
		if uint64(count) > start {
			return nil, fmt.Errorf("counter start %d too small for %d ids", start, count)
		}
		ids := make([]uint64, count)
		for i := range ids {
			ids[i] = start - uint64(i)
		}
		return ids, nil
	case Random:
		var rng *rand.Rand
		if opts.Seed != 0 {
			rng = rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
		} else {
			rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
		seen := make(map[uint64]struct{}, count)
		ids := make([]uint64, 0, count)
		for len(ids) < count {
			v := rng.Uint64N(math.MaxInt64) + 1
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			ids = append(ids, v)
		}
		return ids, nil
	}
	return nil, fmt.Errorf("unknown id strategy %q", strategy)
}

// Pool hands out pre-generated identifiers without replacement. It is safe
// for concurrent use; an exhausted pool is never refilled.
type Pool struct {
	mu   sync.Mutex
	ids  []uint64
	size int
}

// New allocates count identifiers and wraps them in a pool.
func New(strategy Strategy, count int, opts Options) (*Pool, error) {
	ids, err := Allocate(strategy, count, opts)
	if err != nil {
		return nil, err
	}
	return FromIDs(ids), nil
}

// FromIDs wraps an existing set of identifiers. Duplicates are the caller's
// problem.
func FromIDs(ids []uint64) *Pool {
	return &Pool{ids: ids, size: len(ids)}
}

// TakeOne removes and returns the next identifier.
func (p *Pool) TakeOne() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		return 0, fmt.Errorf("%w: all %d ids used", domain.ErrPoolExhausted, p.size)
	}
	id := p.ids[0]
	p.ids = p.ids[1:]
	return id, nil
}

// Take removes n identifiers at once. If fewer than n remain nothing is
// taken.
func (p *Pool) Take(n int) ([]uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 {
		return nil, fmt.Errorf("negative id count %d", n)
	}
	if n > len(p.ids) {
		return nil, fmt.Errorf("%w: need %d, %d of %d left", domain.ErrPoolExhausted, n, len(p.ids), p.size)
	}
	out := make([]uint64, n)
	copy(out, p.ids[:n])
	p.ids = p.ids[n:]
	return out, nil
}

// Remaining reports how many identifiers are left.
func (p *Pool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// Size reports the number of identifiers the pool started with.
func (p *Pool) Size() int { return p.size }
