package debate

import (
	"math/rand"

	"council/internal/logging"
	"council/internal/persona"
)

// Selector picks the interrupt speaker by weighted random draw.
type Selector struct {
	rng *rand.Rand
}

// NewSelector creates a selector with the given random source. Tests inject
// a seeded source for determinism.
func NewSelector(rng *rand.Rand) *Selector {
	return &Selector{rng: rng}
}

// Eligible applies the interrupt eligibility rules: nonzero weight, and not
// an active debater unless the persona may interrupt its own debate.
func Eligible(p *persona.Persona, session *Session) bool {
	if p.Interrupt.Weight <= 0 {
		return false
	}
	if session != nil && session.IsDebater(p) && !p.Interrupt.CanInterruptOwnDebate {
		return false
	}
	return true
}

// Pick draws one interrupt speaker from the eligible candidates, weighted by
// interrupt weight. Returns nil when nobody is eligible.
func (s *Selector) Pick(candidates []*persona.Persona, session *Session) *persona.Persona {
	var pool []*persona.Persona
	total := 0
	for _, p := range candidates {
		if Eligible(p, session) {
			pool = append(pool, p)
			total += p.Interrupt.Weight
		}
	}
	if len(pool) == 0 || total == 0 {
		logging.Debate("no eligible interrupt candidates")
		return nil
	}

	n := s.rng.Intn(total)
	for _, p := range pool {
		n -= p.Interrupt.Weight
		if n < 0 {
			logging.Debate("interrupt speaker: %s (weight %d of %d)", p.DisplayName, p.Interrupt.Weight, total)
			return p
		}
	}
	return pool[len(pool)-1]
}
