// Package tts defines the Client interface for speech-synthesis backends.
//
// A client turns one text segment into a finished audio clip. Mixed-language
// replies are split upstream; each segment arrives here as its own request
// with the voice and language already chosen.
package tts

import (
	"context"

	"github.com/soramame-games/stationtalk/pkg/audio"
)

// Request is one synthesis job.
type Request struct {
	// Text to speak. Must be marker-free plain text.
	Text string
	// Voice is the service-side voice name (e.g. "female1", "japanese1").
	Voice string
	// Language is the BCP-47 code of the text ("en", "ja").
	Language string
}

// Client is the abstraction over any speech-synthesis backend.
//
// Implementations must be safe for concurrent use; the dialogue layer
// synthesizes the segments of one reply in parallel.
type Client interface {
	// Synthesize renders the request into a complete audio clip.
	Synthesize(ctx context.Context, req Request) (audio.Clip, error)

	// Healthy reports whether the service answers its health endpoint.
	Healthy(ctx context.Context) error
}
