// Package mock provides a test double for the npc.Client interface.
//
// Use Client in unit tests to feed controlled replies without a live
// dialogue service.
package mock

import (
	"context"
	"sync"

	"github.com/soramame-games/stationtalk/pkg/service/npc"
)

// Compile-time assertion that Client implements npc.Client.
var _ npc.Client = (*Client)(nil)

// ChatCall records a single invocation of Chat.
type ChatCall struct {
	// Ctx is the context passed to Chat.
	Ctx context.Context
	// Req is the request passed to Chat.
	Req npc.Request
}

// Client is a mock implementation of npc.Client.
// Zero values cause methods to return zero values and nil errors.
type Client struct {
	mu sync.Mutex

	// Reply is returned by Chat.
	Reply npc.Reply

	// ChatErr, if non-nil, is returned as the error from Chat.
	ChatErr error

	// ChatFn, if non-nil, overrides the canned response entirely.
	ChatFn func(ctx context.Context, req npc.Request) (npc.Reply, error)

	// HealthyErr is returned by Healthy.
	HealthyErr error

	// ChatCalls records every invocation of Chat in order.
	ChatCalls []ChatCall
}

func (c *Client) Chat(ctx context.Context, req npc.Request) (npc.Reply, error) {
	c.mu.Lock()
	c.ChatCalls = append(c.ChatCalls, ChatCall{Ctx: ctx, Req: req})
	fn := c.ChatFn
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if c.ChatErr != nil {
		return npc.Reply{}, c.ChatErr
	}
	return c.Reply, nil
}

func (c *Client) Healthy(ctx context.Context) error { return c.HealthyErr }

// Calls returns a snapshot of the recorded Chat invocations.
func (c *Client) Calls() []ChatCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatCall, len(c.ChatCalls))
	copy(out, c.ChatCalls)
	return out
}
