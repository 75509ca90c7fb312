// Package fragment selects the persona context fragments injected into one
// generation request. Selection is a deterministic function of the routing
// outcome and the tier gate result; a missing or unknown fragment never
// fails the turn.
package fragment

import (
	"regexp"
	"strings"

	"council/internal/logging"
	"council/internal/persona"
	"council/internal/tier"
)

// TierHedgeInstruction is injected when the gate returns Hedged.
const TierHedgeInstruction = "[NOTE: You are operating at the edge of your expertise for this tier. " +
	"Acknowledge the gap honestly. Flag what you know, what you don't, " +
	"and what would be needed to advise with full confidence.]"

// knownCategories is the set of fragment identifiers the assembler loads.
// Anything else found in persona.md is skipped with a logged warning.
var knownCategories = map[string]bool{
	persona.FragmentBase:            true,
	persona.FragmentVoice:           true,
	persona.FragmentDomain:          true,
	persona.FragmentRelationships:   true,
	persona.FragmentLimits:          true,
	persona.FragmentTierWarning:     true,
	persona.FragmentSpectator:       true,
	persona.FragmentStageDirections: true,
}

// Fragment is one selected context block.
type Fragment struct {
	Category string
	// Subject is set for relationship fragments only: the other persona.
	Subject string
	Content string
}

// Set is the ordered fragment selection for one persona in one turn.
// Insertion order is significant; it is the prompt injection order.
type Set struct {
	Persona   *persona.Persona
	Fragments []Fragment
}

// Assembled joins all fragments for prompt injection.
func (s Set) Assembled() string {
	parts := make([]string, len(s.Fragments))
	for i, f := range s.Fragments {
		parts[i] = f.Content
	}
	return strings.Join(parts, "\n\n")
}

// Categories returns the selected category identifiers in order.
func (s Set) Categories() []string {
	out := make([]string, len(s.Fragments))
	for i, f := range s.Fragments {
		out[i] = f.Category
	}
	return out
}

// Input describes one persona's situation in the current turn.
type Input struct {
	Persona    *persona.Persona
	Query      string
	Confidence tier.Confidence
	// OtherNames holds display names of co-present or query-referenced
	// personas; non-empty triggers the relationships fragment.
	OtherNames []string
	// SpectatorOnly collapses the set to the spectator fragment alone.
	SpectatorOnly bool
}

// Assemble selects the fragment sequence for one persona.
//
// Rules: base, voice, and limits always load; domain loads on a keyword
// match; relationships load scoped to each other persona present; the tier
// warning loads when hedged. The spectator path loads nothing else.
func Assemble(in Input) Set {
	p := in.Persona
	set := Set{Persona: p}

	warnUnknown(p)

	if in.SpectatorOnly {
		if content, ok := p.Fragments[persona.FragmentSpectator]; ok {
			set.Fragments = append(set.Fragments, Fragment{Category: persona.FragmentSpectator, Content: content})
		} else {
			logging.FragmentWarn("%s: no spectator fragment found", p.DisplayName)
		}
		return set
	}

	set.Fragments = append(set.Fragments, buildBase(p))

	for _, cat := range []string{persona.FragmentVoice, persona.FragmentLimits} {
		if content, ok := p.Fragments[cat]; ok {
			set.Fragments = append(set.Fragments, Fragment{Category: cat, Content: content})
		} else if !p.Evaluator {
			// Evaluator personas carry no voice or limits sections.
			logging.FragmentWarn("%s: missing %q fragment", p.DisplayName, cat)
		}
	}

	if p.MatchesDomain(in.Query) {
		if content, ok := p.Fragments[persona.FragmentDomain]; ok {
			set.Fragments = append(set.Fragments, Fragment{Category: persona.FragmentDomain, Content: content})
		}
	}

	if len(in.OtherNames) > 0 {
		set.Fragments = append(set.Fragments, relationshipFragments(p, in.OtherNames)...)
	}

	if in.Confidence == tier.Hedged {
		set.Fragments = append(set.Fragments, Fragment{
			Category: persona.FragmentTierWarning,
			Content:  TierHedgeInstruction,
		})
	}

	logging.Fragment("%s: selected %s", p.DisplayName, strings.Join(set.Categories(), ","))
	return set
}

// buildBase synthesizes a minimal identity fragment from spec.yaml fields: enough
// for the model to know who is speaking without leaking personality prose.
func buildBase(p *persona.Persona) Fragment {
	parts := []string{"Name: " + p.DisplayName}
	if p.Nickname != "" {
		parts = append(parts, "Known as: "+p.Nickname)
	}
	if p.Profession != "" {
		parts = append(parts, "Role: "+p.Profession)
	}
	if p.DomainPrimary != "" {
		parts = append(parts, "Domain: "+p.DomainPrimary)
	}
	return Fragment{Category: persona.FragmentBase, Content: strings.Join(parts, "\n")}
}

// relationshipFragments extracts the sub-section for each named persona from
// the relationships block. Sub-sections are announced by the other persona's
// uppercased first token; when no sub-section matches, the whole block is
// injected once.
func relationshipFragments(p *persona.Persona, otherNames []string) []Fragment {
	rel, ok := p.Fragments[persona.FragmentRelationships]
	if !ok || strings.TrimSpace(rel) == "" {
		return nil
	}

	var out []Fragment
	for _, name := range otherNames {
		first := strings.ToUpper(strings.Fields(name)[0])
		if sub := extractSubsection(rel, first); sub != "" {
			out = append(out, Fragment{
				Category: persona.FragmentRelationships,
				Subject:  name,
				Content:  sub,
			})
			continue
		}
		// No named sub-section: fall back to the full block, once.
		out = append(out, Fragment{Category: persona.FragmentRelationships, Content: rel})
		break
	}
	return out
}

// subsectionHeader matches a line opening a named relationship sub-section
// (two or more uppercase letters at line start).
var subsectionHeader = regexp.MustCompile(`(?m)^[A-Z]{2,}`)

// extractSubsection returns the block starting at the line that begins with
// name and running until the next uppercase header or end of text.
func extractSubsection(rel, name string) string {
	lines := strings.Split(rel, "\n")
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.ToUpper(line), name) {
			start = i
			break
		}
	}
	if start == -1 {
		return ""
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if subsectionHeader.MatchString(lines[i]) {
			end = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}

// warnUnknown logs any persona.md section the assembler does not recognize.
func warnUnknown(p *persona.Persona) {
	for cat := range p.Fragments {
		if !knownCategories[cat] {
			logging.FragmentWarn("%s: unknown fragment identifier %q skipped", p.DisplayName, cat)
		}
	}
}
