// Package mock provides a test double for the tts.Client interface.
//
// Use Client in unit tests to feed controlled audio clips without a live
// synthesis server.
package mock

import (
	"context"
	"sync"

	"github.com/soramame-games/stationtalk/pkg/audio"
	"github.com/soramame-games/stationtalk/pkg/service/tts"
)

// Compile-time assertion that Client implements tts.Client.
var _ tts.Client = (*Client)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the request passed to Synthesize.
	Req tts.Request
}

// Client is a mock implementation of tts.Client.
// Zero values cause methods to return zero values and nil errors.
type Client struct {
	mu sync.Mutex

	// Clip is returned by Synthesize.
	Clip audio.Clip

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// SynthesizeFn, if non-nil, overrides the canned response entirely.
	SynthesizeFn func(ctx context.Context, req tts.Request) (audio.Clip, error)

	// HealthyErr is returned by Healthy.
	HealthyErr error

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

func (c *Client) Synthesize(ctx context.Context, req tts.Request) (audio.Clip, error) {
	c.mu.Lock()
	c.SynthesizeCalls = append(c.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	fn := c.SynthesizeFn
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if c.SynthesizeErr != nil {
		return audio.Clip{}, c.SynthesizeErr
	}
	return c.Clip, nil
}

func (c *Client) Healthy(ctx context.Context) error { return c.HealthyErr }

// Calls returns a snapshot of the recorded Synthesize invocations.
func (c *Client) Calls() []SynthesizeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SynthesizeCall, len(c.SynthesizeCalls))
	copy(out, c.SynthesizeCalls)
	return out
}
