package constraint

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

var (
	// ErrInvalidMemberCount is returned when fewer than one member is requested.
	ErrInvalidMemberCount = errors.New("member count must be at least 1")
	// ErrInsufficientConstraints is returned when the catalog cannot supply
	// one distinct constraint per member.
	ErrInsufficientConstraints = errors.New("not enough constraints in catalog")
	// ErrUnknownConstraint is returned for mandatory ids missing from the catalog.
	ErrUnknownConstraint = errors.New("unknown constraint")
	// ErrTooManyMandatory is returned when mandatory ids alone exceed the member count.
	ErrTooManyMandatory = errors.New("more mandatory constraints than members")
)

// Policy controls how non-mandatory slots are filled.
type Policy string

const (
	PolicyUniform   Policy = "uniform"
	PolicyRelevance Policy = "relevance"
)

// ParsePolicy maps a user supplied string onto a Policy. Empty means uniform.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyUniform:
		return PolicyUniform, nil
	case PolicyRelevance:
		return PolicyRelevance, nil
	default:
		return "", fmt.Errorf("constraint: unknown selection policy %q (want uniform or relevance)", value)
	}
}

// Selector samples distinct constraint ids from a catalog.
type Selector struct {
	catalog *Catalog

	mu  sync.Mutex
	rng *rand.Rand
}

// SelectorOption customizes a Selector.
type SelectorOption func(*Selector)

// WithRand pins the random source, mainly for tests.
func WithRand(rng *rand.Rand) SelectorOption {
	return func(s *Selector) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// NewSelector builds a selector over catalog.
func NewSelector(catalog *Catalog, opts ...SelectorOption) *Selector {
	seed := uint64(time.Now().UnixNano())
	s := &Selector{
		catalog: catalog,
		rng:     rand.New(rand.NewPCG(seed, seed>>32|1)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns exactly total distinct ids. Mandatory ids come first in the
// order given; the remaining slots are filled according to policy. The task
// text is only consulted by the relevance policy.
func (s *Selector) Select(total int, mandatory []ID, policy Policy, task string) ([]ID, error) {
	if total < 1 {
		return nil, fmt.Errorf("constraint: %d members: %w", total, ErrInvalidMemberCount)
	}
	if total > s.catalog.Len() {
		return nil, fmt.Errorf("constraint: %d members requested, catalog holds %d: %w", total, s.catalog.Len(), ErrInsufficientConstraints)
	}
	selected := make([]ID, 0, total)
	taken := make(map[ID]struct{}, total)
	for _, raw := range mandatory {
		id := ID(strings.TrimSpace(string(raw)))
		if id == "" {
			continue
		}
		if _, dup := taken[id]; dup {
			continue
		}
		if _, ok := s.catalog.Lookup(id); !ok {
			return nil, fmt.Errorf("constraint: mandatory %s: %w", id, ErrUnknownConstraint)
		}
		taken[id] = struct{}{}
		selected = append(selected, id)
	}
	if len(selected) > total {
		return nil, fmt.Errorf("constraint: %d mandatory for %d members: %w", len(selected), total, ErrTooManyMandatory)
	}

	var pool []Record
	for _, rec := range s.catalog.records {
		if _, ok := taken[rec.ID]; !ok {
			pool = append(pool, rec)
		}
	}
	remaining := total - len(selected)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch policy {
	case PolicyRelevance:
		selected = append(selected, s.relevanceThenRandom(pool, remaining, task)...)
	case PolicyUniform, "":
		selected = append(selected, s.uniform(pool, remaining)...)
	default:
		return nil, fmt.Errorf("constraint: unknown selection policy %q", policy)
	}
	return selected, nil
}

func (s *Selector) uniform(pool []Record, n int) []ID {
	shuffled := append([]Record(nil), pool...)
	s.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	ids := make([]ID, 0, n)
	for _, rec := range shuffled[:n] {
		ids = append(ids, rec.ID)
	}
	return ids
}

// relevanceThenRandom takes the n-1 most relevant records and one uniformly
// random record from whatever is left.
func (s *Selector) relevanceThenRandom(pool []Record, n int, task string) []ID {
	if n <= 0 {
		return nil
	}
	ranked := Rank(pool, task)
	ids := make([]ID, 0, n)
	for _, rec := range ranked[:n-1] {
		ids = append(ids, rec.ID)
	}
	rest := ranked[n-1:]
	pick := rest[s.rng.IntN(len(rest))]
	return append(ids, pick.ID)
}
