// Package persona loads and holds the static advisor registry. Personas are
// loaded once per session from spec.yaml + persona.md pairs and are read-only
// afterwards.
package persona

import (
	"strings"
)

// Fragment category identifiers found in persona.md.
const (
	FragmentBase            = "base"
	FragmentVoice           = "voice"
	FragmentDomain          = "domain"
	FragmentRelationships   = "relationships"
	FragmentLimits          = "limits"
	FragmentTierWarning     = "tier_warning"
	FragmentSpectator       = "spectator"
	FragmentStageDirections = "stage_directions"
)

// InterruptSpec controls eligibility for debate interrupts and spectator lines.
type InterruptSpec struct {
	Weight                int  `yaml:"weight"`
	CanInterruptOwnDebate bool `yaml:"can_interrupt_own_debate"`
}

// Persona is one configured advisor identity. Immutable for the session;
// owned exclusively by the Registry.
type Persona struct {
	Dir string // source directory, for diagnostics

	FirstName   string
	FamilyName  string
	Nickname    string
	DisplayName string
	Aliases     []string

	Profession    string
	DomainPrimary string
	// DomainKeywords is the raw comma-separated keyword list; it doubles as
	// the text embedded for implicit routing.
	DomainKeywords string

	// TierScopes maps tier -> capability description. A tier is supported
	// when its scope text is non-empty.
	TierScopes map[int]string

	// Refusals maps the persona's max tier -> in-character refusal line used
	// when the gate blocks it.
	Refusals map[int]string

	Interrupt InterruptSpec

	// Evaluator personas report raw state and bypass the tier gate.
	Evaluator bool

	// Fragments holds the bracket-tagged sections parsed from persona.md.
	Fragments map[string]string

	// DomainVector is the precomputed embedding of DomainKeywords.
	// Populated by Registry.ComputeDomainVectors; nil when embeddings are off.
	DomainVector []float32
}

// MatchTokens returns all lowercased name tokens that trigger explicit
// routing, in priority order: primary name, family name, nickname, aliases.
func (p *Persona) MatchTokens() []string {
	tokens := make([]string, 0, 3+len(p.Aliases))
	if p.FirstName != "" {
		tokens = append(tokens, strings.ToLower(p.FirstName))
	}
	if p.FamilyName != "" {
		tokens = append(tokens, strings.ToLower(p.FamilyName))
	}
	if p.Nickname != "" {
		tokens = append(tokens, strings.ToLower(p.Nickname))
	}
	for _, a := range p.Aliases {
		if a != "" {
			tokens = append(tokens, strings.ToLower(a))
		}
	}
	return tokens
}

// MaxTier returns the highest tier this persona supports. A persona with no
// tier scopes at all supports tier 1 only.
func (p *Persona) MaxTier() int {
	max := 1
	for tier, scope := range p.TierScopes {
		if strings.TrimSpace(scope) != "" && tier > max {
			max = tier
		}
	}
	return max
}

// Keywords splits DomainKeywords into trimmed lowercase terms.
func (p *Persona) Keywords() []string {
	parts := strings.Split(p.DomainKeywords, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		kw := strings.ToLower(strings.TrimSpace(part))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// MatchesDomain reports whether any domain keyword appears in the query.
func (p *Persona) MatchesDomain(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range p.Keywords() {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// Refusal returns the in-character refusal line keyed by this persona's max
// tier, or a generic line when none is configured.
func (p *Persona) Refusal() string {
	if msg, ok := p.Refusals[p.MaxTier()]; ok && strings.TrimSpace(msg) != "" {
		return msg
	}
	return p.DisplayName + " cannot advise at the current tier."
}
