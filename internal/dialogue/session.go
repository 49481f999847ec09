// Package dialogue owns the per-NPC conversation state machine and the
// orchestrator that drives one turn through capture, recognition, reply
// generation, synthesis and playback without ever blocking the render loop.
package dialogue

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
)

// Speaker identifies who produced a turn.
type Speaker int

const (
	SpeakerPlayer Speaker = iota
	SpeakerNPC
)

func (s Speaker) String() string {
	switch s {
	case SpeakerPlayer:
		return "player"
	case SpeakerNPC:
		return "npc"
	default:
		return "unknown"
	}
}

// Turn is one utterance in a conversation. Immutable once appended.
type Turn struct {
	Speaker Speaker
	// Text is the display text, marker-free.
	Text string
	// Lang is the dominant language of the text.
	Lang language.Tag
}

// PipelineState is the stage a session's current turn is in.
type PipelineState int

const (
	// StateIdle means no turn is in flight.
	StateIdle PipelineState = iota
	// StateListening means the microphone is capturing.
	StateListening
	// StateTranscribing means a capture is at the recognition service.
	StateTranscribing
	// StateAwaitingReply means the utterance is at the dialogue service.
	StateAwaitingReply
	// StateSynthesizing means the reply is at the synthesis service.
	StateSynthesizing
	// StateSpeaking means reply audio is playing.
	StateSpeaking
	// StateFailed means the turn died at some stage; the next transition is
	// always back to StateIdle.
	StateFailed
)

func (s PipelineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateAwaitingReply:
		return "awaiting-reply"
	case StateSynthesizing:
		return "synthesizing"
	case StateSpeaking:
		return "speaking"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrIllegalTransition is returned by [Session.Transition] for a state change
// the pipeline does not permit.
var ErrIllegalTransition = errors.New("dialogue: illegal state transition")

// forward lists the in-turn successor states. Additionally every state may
// fail, and every state may return to idle (cancellation or completion); a
// failed turn may only restart from idle, never resume mid-pipeline.
var forward = map[PipelineState][]PipelineState{
	StateIdle:          {StateListening, StateAwaitingReply},
	StateListening:     {StateTranscribing},
	StateTranscribing:  {StateAwaitingReply},
	StateAwaitingReply: {StateSynthesizing},
	StateSynthesizing:  {StateSpeaking},
	StateSpeaking:      {},
	StateFailed:        {},
}

func legalTransition(from, to PipelineState) bool {
	if to == StateIdle {
		return true
	}
	if to == StateFailed {
		return from != StateFailed
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is one NPC's conversation: the turn history and the pipeline state
// of the turn in flight. Sessions are created on first interaction and live
// for the process lifetime; history survives re-engagement. The orchestrator
// is the sole owner; none of these methods lock.
type Session struct {
	NPCID string
	Turns []Turn
	State PipelineState
}

// NewSession creates an idle session for the NPC.
func NewSession(npcID string) *Session {
	return &Session{NPCID: npcID, State: StateIdle}
}

// Transition moves the session to the next pipeline state, rejecting moves
// the state machine does not permit.
func (s *Session) Transition(to PipelineState) error {
	if !legalTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.State, to)
	}
	s.State = to
	return nil
}

// Append adds a finished turn to the history.
func (s *Session) Append(t Turn) {
	s.Turns = append(s.Turns, t)
}
