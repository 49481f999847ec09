// Package asr defines the Client interface for speech-recognition backends.
//
// A client ships one finished utterance (a WAV clip) to the recognition
// service and returns the transcript in a single round trip. There is no
// streaming: capture segmentation happens on the game side, so batch
// transcription keeps the wire protocol trivial.
package asr

import (
	"context"

	"github.com/soramame-games/stationtalk/pkg/audio"
)

// Transcript is the recognition result for one utterance.
type Transcript struct {
	// Text is the recognized text. May be empty when the service heard
	// nothing intelligible.
	Text string

	// Confidence is the service's score in [0,1]. Services that do not
	// report one leave it at 0.
	Confidence float64
}

// Client is the abstraction over any speech-recognition backend.
//
// Implementations must be safe for concurrent use and must honor ctx
// cancellation on all blocking work.
type Client interface {
	// Transcribe submits a complete utterance and returns its transcript.
	// clip must contain a full audio container (WAV), not raw PCM.
	Transcribe(ctx context.Context, clip audio.Clip) (Transcript, error)

	// Healthy reports whether the service answers its health endpoint.
	Healthy(ctx context.Context) error
}
