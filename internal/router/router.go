// Package router resolves a raw user query to zero, one, or two active
// personas. Explicit name matching runs first; implicit domain-similarity
// scoring runs only when no name matched.
package router

import (
	"context"
	"sort"
	"strings"

	"council/internal/embedding"
	"council/internal/logging"
	"council/internal/persona"
)

// Flow classifies the routing outcome.
type Flow int

const (
	FlowNoMatch Flow = iota
	FlowSingleMain
	FlowMainPlusSupport
	FlowDebate
	FlowAmbiguous
	FlowTooBroad
)

// String returns the flow name used in logs and committed turns.
func (f Flow) String() string {
	switch f {
	case FlowSingleMain:
		return "standard"
	case FlowMainPlusSupport:
		return "standard_support"
	case FlowDebate:
		return "debate"
	case FlowAmbiguous:
		return "ambiguous"
	case FlowTooBroad:
		return "too_broad"
	default:
		return "no_match"
	}
}

// Generative reports whether this flow reaches the generation gateway.
// NoMatch and TooBroad resolve to a pre-defined stage direction instead.
func (f Flow) Generative() bool {
	return f != FlowNoMatch && f != FlowTooBroad
}

// Role distinguishes the lead speaker from supporting voices.
type Role int

const (
	RoleMain Role = iota
	RoleSupport
)

// Match pairs a routed persona with its role. Similarity is negative for
// explicit matches (no score was computed).
type Match struct {
	Persona    *persona.Persona
	Role       Role
	Similarity float64
}

// Result is the routing outcome for one query. Produced fresh per query and
// never persisted.
type Result struct {
	Flow    Flow
	Matches []Match
	// StageNote carries the non-generative response for NoMatch/TooBroad and
	// a diagnostic note for Ambiguous.
	StageNote string
}

// Personas returns the routed personas in match order.
func (r Result) Personas() []*persona.Persona {
	out := make([]*persona.Persona, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Persona
	}
	return out
}

// Router resolves queries against the persona registry.
type Router struct {
	registry         *persona.Registry
	engine           embedding.Engine
	mainThreshold    float64
	supportThreshold float64
}

// New creates a router. engine may be nil, in which case implicit routing is
// unavailable and unmatched queries resolve to NoMatch.
func New(registry *persona.Registry, engine embedding.Engine, mainThreshold, supportThreshold float64) *Router {
	return &Router{
		registry:         registry,
		engine:           engine,
		mainThreshold:    mainThreshold,
		supportThreshold: supportThreshold,
	}
}

// Route resolves a query to a routing result.
func (r *Router) Route(ctx context.Context, query string) Result {
	if explicit := r.explicitMatch(query); len(explicit) > 0 {
		if len(explicit) == 1 {
			logging.Routing("explicit match: %s", explicit[0].DisplayName)
			return Result{
				Flow:    FlowSingleMain,
				Matches: []Match{{Persona: explicit[0], Role: RoleMain, Similarity: -1}},
			}
		}

		// Two or more distinct personas share a matched token. Which one is
		// meant is resolved in character, not by the router.
		names := make([]string, len(explicit))
		matches := make([]Match, len(explicit))
		for i, p := range explicit {
			names[i] = p.DisplayName
			matches[i] = Match{Persona: p, Role: RoleMain, Similarity: -1}
		}
		logging.Routing("ambiguous explicit match: %s", strings.Join(names, ", "))
		return Result{
			Flow:      FlowAmbiguous,
			Matches:   matches,
			StageNote: "Ambiguous: matches " + strings.Join(names, ", "),
		}
	}

	return r.implicitMatch(ctx, query)
}

// tokenize splits the query into lowercased tokens with edge punctuation
// stripped.
func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.Trim(f, ".,!?;:\"'()[]")
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// explicitMatch returns the distinct personas whose primary name, family
// name, nickname, or alias appears as a token in the query. Within one
// persona the field priority is primary > family > nickname, which only
// affects the logged match field, never the outcome.
func (r *Router) explicitMatch(query string) []*persona.Persona {
	tokens := tokenize(query)
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}

	var matched []*persona.Persona
	for _, p := range r.registry.All() {
		for _, name := range p.MatchTokens() {
			if tokenSet[name] {
				logging.RoutingDebug("token %q matched %s", name, p.DisplayName)
				matched = append(matched, p)
				break
			}
		}
	}
	return matched
}

type scored struct {
	persona    *persona.Persona
	similarity float64
}

// implicitMatch scores every persona by cosine similarity between the query
// and its precomputed domain vector, then applies the candidate decision
// table.
func (r *Router) implicitMatch(ctx context.Context, query string) Result {
	if r.engine == nil {
		logging.Routing("implicit routing unavailable (no embedding engine)")
		return noMatchResult()
	}

	queryVec, err := r.engine.Embed(ctx, query)
	if err != nil {
		logging.Get(logging.CategoryRouting).Error("query embedding failed: %v", err)
		return noMatchResult()
	}

	var candidates []scored
	for _, p := range r.registry.All() {
		if p.DomainVector == nil {
			continue
		}
		sim, err := embedding.CosineSimilarity(queryVec, p.DomainVector)
		if err != nil {
			logging.Get(logging.CategoryRouting).Error("similarity failed for %s: %v", p.DisplayName, err)
			continue
		}
		logging.RoutingDebug("implicit score %s=%.3f", p.DisplayName, sim)
		if sim >= r.supportThreshold {
			candidates = append(candidates, scored{persona: p, similarity: sim})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].similarity > candidates[j].similarity
	})

	var mains, supports []scored
	for _, c := range candidates {
		if c.similarity >= r.mainThreshold {
			mains = append(mains, c)
		} else {
			supports = append(supports, c)
		}
	}

	return r.decide(mains, supports)
}

// decide applies the candidate decision table:
//
//	mains  supports  result
//	0      0         NoMatch
//	0      1         SingleMain (the lone support answers)
//	1      0-1       SingleMain (+ support if present)
//	2      any       Debate
//	0      2+        TooBroad
//	1      2+        TooBroad
//	3+     any       TooBroad
func (r *Router) decide(mains, supports []scored) Result {
	switch {
	case len(mains) == 0 && len(supports) == 0:
		logging.Routing("implicit: no candidates")
		return noMatchResult()

	case len(mains) >= 3, len(mains) <= 1 && len(supports) >= 2:
		all := append(append([]scored{}, mains...), supports...)
		names := make([]string, len(all))
		for i, c := range all {
			names[i] = c.persona.DisplayName
		}
		logging.Routing("implicit: too broad (%s)", strings.Join(names, ", "))
		return Result{
			Flow:      FlowTooBroad,
			StageNote: "Query too broad — matches " + strings.Join(names, ", ") + ". Narrow your scope.",
		}

	case len(mains) == 2:
		logging.Routing("implicit: debate %s vs %s", mains[0].persona.DisplayName, mains[1].persona.DisplayName)
		return Result{
			Flow: FlowDebate,
			Matches: []Match{
				{Persona: mains[0].persona, Role: RoleMain, Similarity: mains[0].similarity},
				{Persona: mains[1].persona, Role: RoleMain, Similarity: mains[1].similarity},
			},
		}

	case len(mains) == 1:
		matches := []Match{{Persona: mains[0].persona, Role: RoleMain, Similarity: mains[0].similarity}}
		flow := FlowSingleMain
		if len(supports) == 1 {
			matches = append(matches, Match{Persona: supports[0].persona, Role: RoleSupport, Similarity: supports[0].similarity})
			flow = FlowMainPlusSupport
		}
		logging.Routing("implicit: %s leads", mains[0].persona.DisplayName)
		return Result{Flow: flow, Matches: matches}

	default:
		// 0 mains, 1 support: the lone support answers as the speaker.
		logging.Routing("implicit: lone support %s answers", supports[0].persona.DisplayName)
		return Result{
			Flow:    FlowSingleMain,
			Matches: []Match{{Persona: supports[0].persona, Role: RoleSupport, Similarity: supports[0].similarity}},
		}
	}
}

func noMatchResult() Result {
	return Result{
		Flow:      FlowNoMatch,
		StageNote: "Query matched no advisor domain. Please be more specific.",
	}
}
