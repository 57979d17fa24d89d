// Package persona resolves the personality an assistant reply is generated
// with. Resolution walks a fixed chain of tiers and always produces a usable
// persona: a request override, the requesting user's configured persona, the
// service default, and finally a compiled-in fallback.
package persona

import (
	"context"
	"strings"

	"github.com/mubot/mu/internal/log"
)

// Persona is a personality configuration applied to a conversation. The
// SystemPrompt is what actually reaches the model; the rest is metadata for
// listing and selection surfaces.
type Persona struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
}

// BuiltinID identifies the compiled-in persona used when every other
// resolution tier comes up empty.
const BuiltinID = "mu"

// Builtin returns the compiled-in fallback persona. It is the end of every
// resolution chain, so its prompt must never be blank.
func Builtin() Persona {
	return Persona{
		ID:   BuiltinID,
		Name: "Mu",
		SystemPrompt: "You are Mu, a helpful assistant. Answer clearly and concisely, " +
			"admit when you are unsure, and use the tools available to you when " +
			"they help answer the question.",
	}
}

// Catalog looks up persona definitions by ID. Implementations report misses
// and their own failures uniformly as ok=false so resolution can fall
// through to the next tier.
type Catalog interface {
	Get(ctx context.Context, id string) (Persona, bool)
}

// UserPrefs reports the persona a user has configured for themselves.
type UserPrefs interface {
	PersonaIDFor(ctx context.Context, userID string) (string, bool)
}

// Config assembles a Resolver. Every field except Catalog is optional.
type Config struct {
	Catalog   Catalog
	Prefs     UserPrefs
	DefaultID string
	Logger    log.Logger
}

// Resolver picks the persona for a request. Resolve never fails and never
// returns a persona with a blank prompt; broken tiers are logged and skipped.
type Resolver struct {
	catalog   Catalog
	prefs     UserPrefs
	defaultID string
	logger    log.Logger
}

// NewResolver creates a Resolver. A nil catalog is tolerated and treated as
// always-miss, leaving the builtin persona as the only tier.
func NewResolver(cfg Config) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Resolver{
		catalog:   cfg.Catalog,
		prefs:     cfg.Prefs,
		defaultID: cfg.DefaultID,
		logger:    cfg.Logger,
	}
}

// Resolve returns the persona for a request. Tiers are tried in order
// (request override, user preference, service default, builtin) and the
// first tier that yields a persona with a non-blank prompt wins.
func (r *Resolver) Resolve(ctx context.Context, userID, overrideID string) Persona {
	if overrideID != "" {
		if p, ok := r.lookup(ctx, overrideID); ok {
			return p
		}
		r.logger.Warn("override persona unavailable, falling back",
			"persona_id", overrideID)
	}

	if r.prefs != nil && userID != "" {
		if id, ok := r.prefs.PersonaIDFor(ctx, userID); ok && id != "" {
			if p, ok := r.lookup(ctx, id); ok {
				return p
			}
			r.logger.Warn("user persona unavailable, falling back",
				"user_id", userID, "persona_id", id)
		}
	}

	if r.defaultID != "" {
		if p, ok := r.lookup(ctx, r.defaultID); ok {
			return p
		}
		r.logger.Warn("default persona unavailable, using builtin",
			"persona_id", r.defaultID)
	}

	return Builtin()
}

// lookup fetches id from the catalog. Entries with a blank prompt count as
// misses so a misconfigured persona can never silence the model.
func (r *Resolver) lookup(ctx context.Context, id string) (Persona, bool) {
	if r.catalog == nil {
		return Persona{}, false
	}
	id = strings.ToLower(id)
	p, ok := r.catalog.Get(ctx, id)
	if !ok {
		return Persona{}, false
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		r.logger.Warn("persona has empty prompt, treating as missing", "persona_id", id)
		return Persona{}, false
	}
	if p.ID == "" {
		p.ID = id
	}
	return p, true
}

// StaticCatalog serves personas from an in-memory map. IDs are matched
// case-insensitively.
type StaticCatalog struct {
	personas map[string]Persona
}

// NewStaticCatalog builds a catalog from the given personas. Later entries
// with the same ID replace earlier ones.
func NewStaticCatalog(personas ...Persona) *StaticCatalog {
	m := make(map[string]Persona, len(personas))
	for _, p := range personas {
		m[strings.ToLower(p.ID)] = p
	}
	return &StaticCatalog{personas: m}
}

// Get implements Catalog.
func (c *StaticCatalog) Get(_ context.Context, id string) (Persona, bool) {
	p, ok := c.personas[strings.ToLower(id)]
	return p, ok
}

// List returns every persona in the catalog, for selection UIs.
func (c *StaticCatalog) List() []Persona {
	out := make([]Persona, 0, len(c.personas))
	for _, p := range c.personas {
		out = append(out, p)
	}
	return out
}

// StaticPrefs serves user persona assignments from an in-memory map, loaded
// once at startup.
type StaticPrefs struct {
	assignments map[string]string
}

// NewStaticPrefs builds a prefs table from a user-to-persona map. Blank
// persona IDs are dropped.
func NewStaticPrefs(assignments map[string]string) *StaticPrefs {
	m := make(map[string]string, len(assignments))
	for user, id := range assignments {
		if strings.TrimSpace(id) == "" {
			continue
		}
		m[user] = strings.ToLower(id)
	}
	return &StaticPrefs{assignments: m}
}

// PersonaIDFor implements UserPrefs.
func (p *StaticPrefs) PersonaIDFor(_ context.Context, userID string) (string, bool) {
	id, ok := p.assignments[userID]
	return id, ok
}
