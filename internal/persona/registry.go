package persona

import (
	"context"
	"fmt"
	"strings"

	"council/internal/embedding"
	"council/internal/logging"
)

// Registry holds all loaded personas for one session. Read-only after Load.
type Registry struct {
	personas []*Persona
	byToken  map[string][]*Persona
}

// Load builds the registry from a persona directory.
func Load(dir string) (*Registry, error) {
	personas, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	if len(personas) == 0 {
		return nil, fmt.Errorf("no personas found in %s", dir)
	}

	logging.Get(logging.CategoryBoot).Info("Persona registry loaded: %d personas from %s", len(personas), dir)
	return NewRegistry(personas), nil
}

// NewRegistry builds a registry from already-loaded personas.
func NewRegistry(personas []*Persona) *Registry {
	r := &Registry{
		personas: personas,
		byToken:  make(map[string][]*Persona),
	}
	for _, p := range personas {
		for _, tok := range p.MatchTokens() {
			r.byToken[tok] = append(r.byToken[tok], p)
		}
	}
	return r
}

// All returns every persona in deterministic order.
func (r *Registry) All() []*Persona {
	return r.personas
}

// Evaluator returns the designated evaluator persona, or nil when none is
// configured.
func (r *Registry) Evaluator() *Persona {
	for _, p := range r.personas {
		if p.Evaluator {
			return p
		}
	}
	return nil
}

// Get resolves a display or first name to a persona.
func (r *Registry) Get(name string) (*Persona, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, p := range r.personas {
		if strings.ToLower(p.DisplayName) == needle || strings.ToLower(p.FirstName) == needle {
			return p, true
		}
	}
	return nil, false
}

// ByToken returns the personas whose name tokens include tok (lowercased).
func (r *Registry) ByToken(tok string) []*Persona {
	return r.byToken[strings.ToLower(tok)]
}

// ComputeDomainVectors embeds every persona's domain keywords eagerly so
// implicit routing never blocks a turn on embedding calls for the registry
// side. Personas without keywords are skipped.
func (r *Registry) ComputeDomainVectors(ctx context.Context, engine embedding.Engine) error {
	var texts []string
	var targets []*Persona
	for _, p := range r.personas {
		if strings.TrimSpace(p.DomainKeywords) == "" {
			continue
		}
		texts = append(texts, p.DomainKeywords)
		targets = append(targets, p)
	}
	if len(texts) == 0 {
		return nil
	}

	vectors, err := engine.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed persona domains: %w", err)
	}
	if len(vectors) != len(targets) {
		return fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(targets), len(vectors))
	}

	for i, p := range targets {
		p.DomainVector = vectors[i]
	}
	logging.Get(logging.CategoryBoot).Info("Domain vectors computed for %d personas via %s", len(targets), engine.Name())
	return nil
}
