// Package npc defines the Client interface for dialogue-generation backends.
//
// A client turns one player utterance (plus the conversation so far) into the
// NPC's reply text in a single round trip. Two backends exist: the station
// dialogue HTTP service, and any OpenAI-compatible chat completion endpoint.
package npc

import "context"

// HistoryTurn is one prior exchange forwarded to the service so NPCs keep
// context across re-engagements within a process.
type HistoryTurn struct {
	// Role is "user" for the player, "assistant" for the NPC.
	Role string `json:"role"`
	// Content is the turn's text.
	Content string `json:"content"`
}

// Request carries one player utterance to the dialogue service.
type Request struct {
	// NPCID identifies the character being addressed (service-side ID).
	NPCID string
	// PlayerID identifies the speaking player.
	PlayerID string
	// Message is the player's utterance.
	Message string
	// SessionID groups turns of one conversation on the service side.
	SessionID string
	// History is the conversation so far, oldest first. Optional.
	History []HistoryTurn
}

// Reply is the NPC's answer. Text may embed language markers
// ([JA:…] or the legacy [JP_ORIGINAL:…:JP_ORIGINAL] form) that the dialogue
// layer splits into per-language spans before synthesis.
type Reply struct {
	Text string
}

// Client is the abstraction over any dialogue-generation backend.
//
// Implementations must be safe for concurrent use and must honor ctx
// cancellation on all blocking work.
type Client interface {
	// Chat submits the player's message and returns the NPC's reply.
	Chat(ctx context.Context, req Request) (Reply, error)

	// Healthy reports whether the service answers its health endpoint.
	Healthy(ctx context.Context) error
}
