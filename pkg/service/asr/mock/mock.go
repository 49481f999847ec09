// Package mock provides a test double for the asr.Client interface.
//
// Use Client in unit tests to feed controlled transcripts without a live
// recognition server. All fields are safe to set before calling any method;
// mutating them during a concurrent call is the caller's responsibility.
package mock

import (
	"context"
	"sync"

	"github.com/soramame-games/stationtalk/pkg/audio"
	"github.com/soramame-games/stationtalk/pkg/service/asr"
)

// Compile-time assertion that Client implements asr.Client.
var _ asr.Client = (*Client)(nil)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Clip is the audio clip passed to Transcribe.
	Clip audio.Clip
}

// Client is a mock implementation of asr.Client.
// Zero values cause methods to return zero values and nil errors.
type Client struct {
	mu sync.Mutex

	// Transcript is returned by Transcribe.
	Transcript asr.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeFn, if non-nil, overrides the canned response entirely.
	TranscribeFn func(ctx context.Context, clip audio.Clip) (asr.Transcript, error)

	// HealthyErr is returned by Healthy.
	HealthyErr error

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall
}

func (c *Client) Transcribe(ctx context.Context, clip audio.Clip) (asr.Transcript, error) {
	c.mu.Lock()
	c.TranscribeCalls = append(c.TranscribeCalls, TranscribeCall{Ctx: ctx, Clip: clip})
	fn := c.TranscribeFn
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, clip)
	}
	if c.TranscribeErr != nil {
		return asr.Transcript{}, c.TranscribeErr
	}
	return c.Transcript, nil
}

func (c *Client) Healthy(ctx context.Context) error { return c.HealthyErr }

// Calls returns a snapshot of the recorded Transcribe invocations.
func (c *Client) Calls() []TranscribeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TranscribeCall, len(c.TranscribeCalls))
	copy(out, c.TranscribeCalls)
	return out
}
