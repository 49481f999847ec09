package dialogue

import (
	"context"
	"errors"
	"sync"

	"github.com/soramame-games/stationtalk/internal/resilience"
	"github.com/soramame-games/stationtalk/pkg/audio"
	"github.com/soramame-games/stationtalk/pkg/service"
)

// ErrorKind classifies a turn failure for the render loop, which picks the
// player-facing message from it.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindDeviceUnavailable: microphone or speaker missing or busy.
	KindDeviceUnavailable
	// KindServiceUnreachable: a remote stage could not be contacted.
	KindServiceUnreachable
	// KindMalformedResponse: a remote stage answered nonsense.
	KindMalformedResponse
	// KindCancelled: the player abandoned the turn. Never shown as an error.
	KindCancelled
	// KindPlaybackUnsupported: no playback backend could render the clip.
	KindPlaybackUnsupported
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindDeviceUnavailable:
		return "device-unavailable"
	case KindServiceUnreachable:
		return "service-unreachable"
	case KindMalformedResponse:
		return "malformed-response"
	case KindCancelled:
		return "cancelled"
	case KindPlaybackUnsupported:
		return "playback-unsupported"
	default:
		return "unknown"
	}
}

// classify maps a stage error to its kind.
func classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		// A turn timeout is a stage that never answered, not a player
		// cancel.
		return KindServiceUnreachable
	case errors.Is(err, audio.ErrDeviceUnavailable) || errors.Is(err, audio.ErrDeviceBusy):
		return KindDeviceUnavailable
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return KindPlaybackUnsupported
	case errors.Is(err, audio.ErrNoSpeech):
		// Nothing usable was heard; handled like a recognition miss.
		return KindMalformedResponse
	case errors.Is(err, service.ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, service.ErrUnreachable),
		errors.Is(err, resilience.ErrAllBackendsFailed),
		errors.Is(err, resilience.ErrBreakerOpen):
		return KindServiceUnreachable
	default:
		return KindServiceUnreachable
	}
}

// Event is one state change or result posted to the render loop. Workers
// publish events; the loop drains them once per frame via
// [Orchestrator.PollEvents].
type Event struct {
	// NPCID names the session the event belongs to.
	NPCID string
	// State is the session's pipeline state after this event.
	State PipelineState
	// Turn, when non-nil, is a newly appended history turn the view should
	// display.
	Turn *Turn
	// Kind classifies Err for Failed events.
	Kind ErrorKind
	// Err is the underlying stage error. Nil unless State is StateFailed.
	Err error
	// Notice is an optional player-facing hint (e.g. prompt to retype after
	// a recognition failure).
	Notice string
}

// eventQueue is the lossless FIFO between workers and the render loop.
// A mutex-guarded slice rather than a channel: publishing must never block
// a worker and draining must never block the loop, and no event may be
// dropped or reordered.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// drain returns all queued events in publish order and empties the queue.
// Never blocks; returns nil when nothing is pending.
func (q *eventQueue) drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return nil
	}
	out := q.events
	q.events = nil
	return out
}
