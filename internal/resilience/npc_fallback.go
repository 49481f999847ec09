package resilience

import (
	"context"

	"github.com/soramame-games/stationtalk/pkg/service/npc"
)

// NPCFallback implements [npc.Client] across an ordered set of dialogue
// backends (typically the station service first, an OpenAI-compatible model
// second). Each backend sits behind its own breaker.
type NPCFallback struct {
	chain *Chain[npc.Client]
}

// Compile-time interface assertion.
var _ npc.Client = (*NPCFallback)(nil)

// NewNPCFallback creates an NPCFallback with primary as the preferred
// backend.
func NewNPCFallback(primary npc.Client, primaryName string, cfg BreakerConfig) *NPCFallback {
	f := &NPCFallback{chain: NewChain[npc.Client](cfg)}
	f.chain.Add(primaryName, primary)
	return f
}

// AddFallback registers an additional dialogue backend, tried after those
// already registered.
func (f *NPCFallback) AddFallback(name string, client npc.Client) {
	f.chain.Add(name, client)
}

// Chat asks the first healthy backend for a reply.
func (f *NPCFallback) Chat(ctx context.Context, req npc.Request) (npc.Reply, error) {
	return Try(ctx, f.chain, func(c npc.Client) (npc.Reply, error) {
		return c.Chat(ctx, req)
	})
}

// Healthy probes the primary backend only; fallbacks being down is not a
// degraded state worth reporting at startup.
func (f *NPCFallback) Healthy(ctx context.Context) error {
	return f.chain.Primary().Healthy(ctx)
}
