// Package tier enforces the progression-tier gate. It runs per persona
// before any generation call; the evaluator persona bypasses it entirely.
package tier

import (
	"council/internal/logging"
	"council/internal/router"
)

// Confidence classifies how far a persona may go at the current tier.
type Confidence int

const (
	// Full: persona supports the current tier.
	Full Confidence = iota
	// Hedged: persona is exactly one tier behind; it may answer but the
	// prompt must carry a hedging instruction.
	Hedged
	// Blocked: persona is two or more tiers behind; it must refuse.
	Blocked
)

// String returns the confidence name used in logs.
func (c Confidence) String() string {
	switch c {
	case Hedged:
		return "hedged"
	case Blocked:
		return "blocked"
	default:
		return "full"
	}
}

// Result is the gate outcome for one persona.
type Result struct {
	Match      router.Match
	Confidence Confidence
	// Refusal carries the in-character refusal line when Blocked.
	Refusal string
}

// Check gates one persona against the current tier.
func Check(m router.Match, currentTier int) Result {
	p := m.Persona

	if p.Evaluator {
		// The evaluator reports raw state; it never speculates and is never
		// gated.
		return Result{Match: m, Confidence: Full}
	}

	gap := currentTier - p.MaxTier()
	switch {
	case gap <= 0:
		return Result{Match: m, Confidence: Full}
	case gap == 1:
		logging.Tier("%s: one tier behind (max %d, current %d), hedged", p.DisplayName, p.MaxTier(), currentTier)
		return Result{Match: m, Confidence: Hedged}
	default:
		logging.Tier("%s: blocked (max tier %d, current %d)", p.DisplayName, p.MaxTier(), currentTier)
		return Result{Match: m, Confidence: Blocked, Refusal: p.Refusal()}
	}
}

// CheckAll gates each routed persona independently. Used for both standard
// flow and two-persona debates.
func CheckAll(matches []router.Match, currentTier int) []Result {
	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Check(m, currentTier)
	}
	return results
}

// Active filters out blocked results, preserving order.
func Active(results []Result) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Confidence != Blocked {
			out = append(out, r)
		}
	}
	return out
}
