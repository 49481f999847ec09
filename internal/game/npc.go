// Package game is the boundary between the render loop and the dialogue
// subsystem: the NPC registry built from configuration, and the fixed-tick
// loop that drains dialogue events into the text view without ever blocking.
package game

import (
	"sync"

	"github.com/soramame-games/stationtalk/internal/config"
	"github.com/soramame-games/stationtalk/internal/dialogue"
)

// Compile-time assertion that Registry implements dialogue.Directory.
var _ dialogue.Directory = (*Registry)(nil)

// Registry holds the interactable NPCs, keyed by ID, in configuration order.
// Safe for concurrent use: the config watcher applies hot reloads while the
// dialogue layer resolves profiles.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	profiles map[string]dialogue.Profile
	personas map[string]string
}

// NewRegistry builds a registry from the configured NPC list. Entries are
// assumed validated (unique, non-empty IDs).
func NewRegistry(npcs []config.NPCConfig) *Registry {
	r := &Registry{
		profiles: make(map[string]dialogue.Profile, len(npcs)),
		personas: make(map[string]string, len(npcs)),
	}
	for _, n := range npcs {
		name := n.Name
		if name == "" {
			name = n.ID
		}
		r.order = append(r.order, n.ID)
		r.profiles[n.ID] = dialogue.Profile{
			ID:            n.ID,
			Name:          name,
			Voice:         n.Voice,
			FallbackReply: n.FallbackReply,
			Greeting:      n.Greeting,
		}
		if n.Persona != "" {
			r.personas[n.ID] = n.Persona
		}
	}
	return r
}

// Lookup returns the profile for id.
func (r *Registry) Lookup(id string) (dialogue.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	return p, ok
}

// All returns every profile in configuration order.
func (r *Registry) All() []dialogue.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]dialogue.Profile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.profiles[id])
	}
	return out
}

// Personas returns the system prompts for NPCs that declare one, keyed by ID.
// Used by the chat-completion backend.
func (r *Registry) Personas() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.personas))
	for id, p := range r.personas {
		out[id] = p
	}
	return out
}

// Apply updates hot-reloadable NPC fields in place, per the config diff.
// Added and removed NPCs are ignored; the interactable set is fixed for the
// process lifetime.
func (r *Registry) Apply(npcs []config.NPCConfig, d config.ConfigDiff) {
	if !d.NPCsChanged {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byID := make(map[string]config.NPCConfig, len(npcs))
	for _, n := range npcs {
		byID[n.ID] = n
	}
	for _, ch := range d.NPCChanges {
		if ch.Added || ch.Removed {
			continue
		}
		n, ok := byID[ch.ID]
		p, known := r.profiles[ch.ID]
		if !ok || !known {
			continue
		}
		if ch.VoiceChanged {
			p.Voice = n.Voice
		}
		if ch.GreetingChanged {
			p.Greeting = n.Greeting
		}
		if ch.FallbackChanged {
			p.FallbackReply = n.FallbackReply
		}
		r.profiles[ch.ID] = p
		if ch.PersonaChanged {
			if n.Persona == "" {
				delete(r.personas, ch.ID)
			} else {
				r.personas[ch.ID] = n.Persona
			}
		}
	}
}
