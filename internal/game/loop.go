package game

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/soramame-games/stationtalk/internal/dialogue"
	"github.com/soramame-games/stationtalk/internal/textview"
	"github.com/soramame-games/stationtalk/pkg/audio"
)

// Conversations is the slice of the dialogue orchestrator the loop needs.
type Conversations interface {
	Engage(npcID string) error
	StartTextTurn(npcID, message string) error
	StartVoiceTurn(npcID string) error
	CancelActive()
	VoiceAvailable() bool
	PollEvents() []dialogue.Event
}

// Loop is the fixed-tick boundary between the renderer and the dialogue
// subsystem. Every tick it drains pending dialogue events into the text view
// and refreshes the status line; it never waits on audio or network work.
//
// Input methods (Engage, SubmitText, PushToTalk, Cancel) are called from the
// render thread and return immediately.
type Loop struct {
	conv Conversations
	view *textview.View
	reg  *Registry
	log  *slog.Logger

	mu      sync.Mutex
	engaged string
	status  string
	// sticky marks a failure notice that survives the Failed→Idle cycle
	// and is cleared by the next input.
	sticky   bool
	onAppend func(line string)
}

// NewLoop builds the loop boundary around an orchestrator, a text view and
// the NPC registry.
func NewLoop(conv Conversations, view *textview.View, reg *Registry, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{conv: conv, view: view, reg: reg, log: log}
}

// Run ticks at the given rate until ctx is done. Each tick is one Step.
func (l *Loop) Run(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Step()
		}
	}
}

// Step drains pending dialogue events into the view. Exposed so a host
// render loop can call it from its own update function instead of Run.
func (l *Loop) Step() {
	for _, ev := range l.conv.PollEvents() {
		l.apply(ev)
	}
}

// Engage records the player approaching an NPC and shows its greeting on
// first contact.
func (l *Loop) Engage(npcID string) error {
	if err := l.conv.Engage(npcID); err != nil {
		return err
	}
	l.mu.Lock()
	l.engaged = npcID
	l.status = ""
	l.mu.Unlock()
	return nil
}

// Engaged returns the NPC the player is currently talking to, if any.
func (l *Loop) Engaged() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engaged, l.engaged != ""
}

// Disengage records the player walking away. The in-flight turn, if any, is
// abandoned; conversation history is kept for re-engagement.
func (l *Loop) Disengage() {
	l.conv.CancelActive()
	l.mu.Lock()
	l.engaged = ""
	l.status = ""
	l.mu.Unlock()
}

// SubmitText starts a typed turn with the engaged NPC. Refusals (another
// conversation active, empty message) become a status line, not an error:
// the render loop has nobody to propagate errors to.
func (l *Loop) SubmitText(message string) {
	npcID, ok := l.Engaged()
	if !ok {
		return
	}
	if err := l.conv.StartTextTurn(npcID, message); err != nil {
		l.setStatus(refusalStatus(err))
	}
}

// PasteText submits the clipboard contents as a typed turn with the engaged
// NPC and returns what was pasted. An unreadable or blank clipboard is a
// no-op returning "".
func (l *Loop) PasteText() string {
	text := strings.TrimSpace(l.view.Paste())
	if text == "" {
		return ""
	}
	l.SubmitText(text)
	return text
}

// PushToTalk starts a voice turn with the engaged NPC.
func (l *Loop) PushToTalk() {
	npcID, ok := l.Engaged()
	if !ok {
		return
	}
	if err := l.conv.StartVoiceTurn(npcID); err != nil {
		l.setStatus(refusalStatus(err))
	}
}

// Cancel abandons the in-flight turn.
func (l *Loop) Cancel() {
	l.conv.CancelActive()
}

// Status returns the current status line for rendering. Empty when idle.
func (l *Loop) Status() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// View returns the dialogue text view, for pointer and scroll input.
func (l *Loop) View() *textview.View { return l.view }

// OnAppend registers fn to observe every line appended to the view. Hosts
// without their own renderer (the console front end) print from here.
// Called from Step, so from the render thread.
func (l *Loop) OnAppend(fn func(line string)) { l.onAppend = fn }

func (l *Loop) setStatus(s string) {
	l.mu.Lock()
	l.status = s
	l.sticky = false
	l.mu.Unlock()
}

func (l *Loop) setStickyStatus(s string) {
	l.mu.Lock()
	l.status = s
	l.sticky = true
	l.mu.Unlock()
}

// apply folds one dialogue event into the view and status line.
func (l *Loop) apply(ev dialogue.Event) {
	if ev.Turn != nil {
		line := l.formatTurn(ev.NPCID, *ev.Turn)
		l.view.AppendContent(line)
		if l.onAppend != nil {
			l.onAppend(line)
		}
	}
	switch ev.State {
	case dialogue.StateFailed:
		l.log.Debug("dialogue turn failed", "npc_id", ev.NPCID, "kind", ev.Kind, "error", ev.Err)
		if s := failureStatus(ev); s != "" {
			l.setStickyStatus(s)
		} else {
			l.setStatus("")
		}
	case dialogue.StateIdle:
		l.mu.Lock()
		if !l.sticky {
			l.status = ""
		}
		l.mu.Unlock()
	default:
		l.setStatus(stageStatus(ev.State))
	}
}

// formatTurn renders one history turn as a view line.
func (l *Loop) formatTurn(npcID string, t dialogue.Turn) string {
	name := "You"
	if t.Speaker == dialogue.SpeakerNPC {
		name = npcID
		if p, ok := l.reg.Lookup(npcID); ok {
			name = p.Name
		}
	}
	return name + ": " + t.Text + "\n"
}

func stageStatus(s dialogue.PipelineState) string {
	switch s {
	case dialogue.StateListening:
		return "Listening..."
	case dialogue.StateTranscribing:
		return "Recognizing..."
	case dialogue.StateAwaitingReply:
		return "..."
	case dialogue.StateSynthesizing, dialogue.StateSpeaking:
		return ""
	default:
		return ""
	}
}

// failureStatus picks the player-facing line for a failed turn.
func failureStatus(ev dialogue.Event) string {
	if ev.Notice != "" {
		return ev.Notice
	}
	switch ev.Kind {
	case dialogue.KindDeviceUnavailable:
		return "Microphone unavailable. Type your message instead."
	case dialogue.KindPlaybackUnsupported:
		return "Audio playback unavailable."
	case dialogue.KindMalformedResponse, dialogue.KindServiceUnreachable:
		return "" // the fallback reply already carries the moment
	default:
		return ""
	}
}

// refusalStatus maps a rejected input to a status line.
func refusalStatus(err error) string {
	switch {
	case errors.Is(err, dialogue.ErrConversationActive):
		return "Someone is already talking."
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "No microphone. Type your message instead."
	case errors.Is(err, dialogue.ErrEmptyMessage):
		return ""
	default:
		return ""
	}
}
