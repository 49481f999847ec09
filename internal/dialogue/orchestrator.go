package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/soramame-games/stationtalk/internal/observe"
	"github.com/soramame-games/stationtalk/pkg/audio"
	"github.com/soramame-games/stationtalk/pkg/service"
	"github.com/soramame-games/stationtalk/pkg/service/asr"
	"github.com/soramame-games/stationtalk/pkg/service/npc"
	"github.com/soramame-games/stationtalk/pkg/service/tts"
)

// ErrConversationActive is returned when a turn is requested while another
// conversation holds the pipeline. The request is refused, never queued; the
// active conversation is untouched.
var ErrConversationActive = errors.New("dialogue: another conversation is active")

// ErrUnknownNPC is returned when the addressed NPC is not in the directory.
var ErrUnknownNPC = errors.New("dialogue: unknown npc")

// ErrEmptyMessage is returned for a text turn with no content.
var ErrEmptyMessage = errors.New("dialogue: empty message")

// Profile is the orchestrator's view of one NPC.
type Profile struct {
	// ID is the service-side character identifier.
	ID string
	// Name is the display name.
	Name string
	// Voice is the synthesis voice for unmarked reply text.
	Voice string
	// FallbackReply is spoken-for text appended when reply generation fails.
	FallbackReply string
	// Greeting is shown when the player first engages the NPC.
	Greeting string
}

// Directory resolves NPC IDs to profiles. The game layer implements it over
// its character registry.
type Directory interface {
	Lookup(id string) (Profile, bool)
}

// Recorder is the capture capability the orchestrator needs. *audio.Recorder
// satisfies it.
type Recorder interface {
	Available() bool
	Record(ctx context.Context) (audio.Buffer, error)
}

// Player is the playback capability the orchestrator needs. *audio.Player
// satisfies it.
type Player interface {
	Play(ctx context.Context, clip audio.Clip) error
}

// Config tunes the orchestrator.
type Config struct {
	// PlayerID identifies the player to the dialogue service.
	PlayerID string
	// DefaultVoice is used when a profile names no voice.
	DefaultVoice string
	// JapaneseVoice is used for Japanese spans regardless of profile.
	JapaneseVoice string
	// TurnTimeout bounds one whole turn, capture through playback.
	TurnTimeout time.Duration
	// CorrectTranscript, when set, rewrites recognized text before it
	// enters the conversation, fixing misheard station vocabulary.
	CorrectTranscript func(string) string
}

func (c *Config) applyDefaults() {
	if c.PlayerID == "" {
		c.PlayerID = "player1"
	}
	if c.DefaultVoice == "" {
		c.DefaultVoice = "female1"
	}
	if c.JapaneseVoice == "" {
		c.JapaneseVoice = "japanese1"
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 60 * time.Second
	}
}

// retypeNotice is shown when voice input produced nothing usable.
const retypeNotice = "I couldn't make that out. Try again, or type your message."

// defaultFallbackReply is appended when reply generation fails and the
// profile configures no fallback of its own.
const defaultFallbackReply = "...I'm sorry, could you say that again?"

// Orchestrator drives dialogue turns through the capture, recognition,
// reply, synthesis and playback stages on background goroutines, publishing
// progress as events the render loop drains once per frame. Exactly one
// conversation may hold the pipeline at a time.
//
// All exported methods are safe for concurrent use and none of them block on
// audio or network work.
type Orchestrator struct {
	cfg     Config
	dir     Directory
	asr     asr.Client
	npc     npc.Client
	tts     tts.Client
	rec     Recorder
	player  Player
	metrics *observe.Metrics
	log     *slog.Logger

	queue eventQueue

	mu       sync.Mutex
	sessions map[string]*Session
	activeID string
	// gen invalidates in-flight workers: every publish carries the
	// generation it was started under, and a stale publish is dropped.
	gen        uint64
	cancelTurn context.CancelFunc
	wg         sync.WaitGroup
}

// New builds an orchestrator. asr, rec and player may be nil when the
// corresponding capability is absent; voice turns are then refused and
// replies are shown without audio. metrics may be nil.
func New(cfg Config, dir Directory, a asr.Client, n npc.Client, t tts.Client, rec Recorder, player Player, m *observe.Metrics, log *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		dir:      dir,
		asr:      a,
		npc:      n,
		tts:      t,
		rec:      rec,
		player:   player,
		metrics:  m,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// VoiceAvailable reports whether voice turns can be started at all.
func (o *Orchestrator) VoiceAvailable() bool {
	return o.asr != nil && o.rec != nil && o.rec.Available()
}

// PollEvents returns every event published since the last call, in order.
// Never blocks; the render loop calls this once per frame.
func (o *Orchestrator) PollEvents() []Event {
	return o.queue.drain()
}

// History returns a copy of the NPC's conversation so far. An NPC never
// spoken to has empty history.
func (o *Orchestrator) History(npcID string) []Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[npcID]
	if !ok {
		return nil
	}
	out := make([]Turn, len(sess.Turns))
	copy(out, sess.Turns)
	return out
}

// State returns the pipeline state of the NPC's session.
func (o *Orchestrator) State(npcID string) PipelineState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess, ok := o.sessions[npcID]; ok {
		return sess.State
	}
	return StateIdle
}

// Engage records the player approaching an NPC. On first contact the
// greeting is appended as an NPC turn and published; re-engagement is a
// no-op so history survives.
func (o *Orchestrator) Engage(npcID string) error {
	p, ok := o.dir.Lookup(npcID)
	if !ok {
		return ErrUnknownNPC
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, seen := o.sessions[npcID]; seen {
		return nil
	}
	sess := NewSession(npcID)
	o.sessions[npcID] = sess
	if p.Greeting == "" {
		return nil
	}
	turn := Turn{Speaker: SpeakerNPC, Text: p.Greeting, Lang: detectLang(p.Greeting)}
	sess.Append(turn)
	o.queue.push(Event{NPCID: npcID, State: sess.State, Turn: &turn})
	return nil
}

// StartTextTurn begins a typed turn: the message is appended to history
// immediately and the reply pipeline runs in the background. Returns
// ErrConversationActive when another turn holds the pipeline.
func (o *Orchestrator) StartTextTurn(npcID, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return ErrEmptyMessage
	}
	p, ok := o.dir.Lookup(npcID)
	if !ok {
		return ErrUnknownNPC
	}

	ctx, gen, history, err := o.acquire(npcID)
	if err != nil {
		return err
	}
	turn := Turn{Speaker: SpeakerPlayer, Text: message, Lang: detectLang(message)}
	o.post(gen, Event{NPCID: npcID, State: StateAwaitingReply, Turn: &turn})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runReply(ctx, gen, p, history, message, "text")
	}()
	return nil
}

// StartVoiceTurn begins a spoken turn: capture, recognition, then the same
// reply pipeline as a typed turn. Returns audio.ErrDeviceUnavailable when no
// microphone (or recognition client) is configured.
func (o *Orchestrator) StartVoiceTurn(npcID string) error {
	if !o.VoiceAvailable() {
		return audio.ErrDeviceUnavailable
	}
	p, ok := o.dir.Lookup(npcID)
	if !ok {
		return ErrUnknownNPC
	}

	ctx, gen, history, err := o.acquire(npcID)
	if err != nil {
		return err
	}
	o.post(gen, Event{NPCID: npcID, State: StateListening})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runVoice(ctx, gen, p, history)
	}()
	return nil
}

// CancelActive abandons the in-flight turn, if any. The session snaps back
// to idle immediately; the background worker observes the cancellation and
// exits without publishing. Partial results are discarded, history already
// appended stays.
func (o *Orchestrator) CancelActive() {
	o.mu.Lock()
	if o.activeID == "" {
		o.mu.Unlock()
		return
	}
	npcID := o.activeID
	sess := o.sessions[npcID]
	_ = sess.Transition(StateIdle)
	o.gen++ // orphan the worker's pending publishes
	cancel := o.cancelTurn
	o.cancelTurn = nil
	o.activeID = ""
	o.queue.push(Event{NPCID: npcID, State: StateIdle, Kind: KindCancelled})
	o.metrics.ConversationEnded(context.Background())
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Close cancels any in-flight turn and waits for workers to drain.
func (o *Orchestrator) Close() {
	o.CancelActive()
	o.wg.Wait()
}

// acquire claims the single pipeline slot for npcID and returns the turn
// context, the generation guarding this turn's publishes, and a history
// snapshot for the dialogue service.
func (o *Orchestrator) acquire(npcID string) (context.Context, uint64, []npc.HistoryTurn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeID != "" {
		return nil, 0, nil, ErrConversationActive
	}
	sess, ok := o.sessions[npcID]
	if !ok {
		sess = NewSession(npcID)
		o.sessions[npcID] = sess
	}
	if sess.State == StateFailed {
		sess.State = StateIdle
	}

	o.activeID = npcID
	o.gen++
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.TurnTimeout)
	o.cancelTurn = cancel

	history := make([]npc.HistoryTurn, 0, len(sess.Turns))
	for _, t := range sess.Turns {
		role := "user"
		if t.Speaker == SpeakerNPC {
			role = "assistant"
		}
		history = append(history, npc.HistoryTurn{Role: role, Content: t.Text})
	}
	o.metrics.ConversationStarted(ctx)
	return ctx, o.gen, history, nil
}

// post applies an event to its session and publishes it, unless the turn was
// cancelled (generation mismatch) in the meantime. Reports whether the event
// was published.
func (o *Orchestrator) post(gen uint64, ev Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return false
	}
	sess := o.sessions[ev.NPCID]
	if sess == nil {
		return false
	}
	if ev.Turn != nil {
		sess.Append(*ev.Turn)
	}
	if err := sess.Transition(ev.State); err != nil {
		o.log.Error("dropping illegal pipeline transition",
			"npc_id", ev.NPCID, "from", sess.State, "to", ev.State)
		return false
	}
	o.queue.push(ev)
	return true
}

// release gives the pipeline slot back after a turn ran to its end (success
// or failure). A cancelled turn was already released by CancelActive.
func (o *Orchestrator) release(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return
	}
	if o.cancelTurn != nil {
		o.cancelTurn()
		o.cancelTurn = nil
	}
	o.activeID = ""
	o.metrics.ConversationEnded(context.Background())
}

// stage runs one pipeline stage inside a trace span and records its latency.
// The span carries the stage error unless the player cancelled.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	sctx, span := observe.StartSpan(ctx, "dialogue."+name,
		trace.WithAttributes(attribute.String("stage", name)))
	defer span.End()

	start := time.Now()
	err := fn(sctx)
	o.metrics.RecordStage(ctx, name, start, statusOf(err))
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// runVoice is the capture+recognition front half of a spoken turn. On
// success it hands off to runReply.
func (o *Orchestrator) runVoice(ctx context.Context, gen uint64, p Profile, history []npc.HistoryTurn) {
	var buf audio.Buffer
	err := o.stage(ctx, "capture", func(ctx context.Context) error {
		var err error
		buf, err = o.rec.Record(ctx)
		return err
	})
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		o.failTurn(ctx, gen, p, err, retypeNotice, "voice")
		return
	}

	o.post(gen, Event{NPCID: p.ID, State: StateTranscribing})

	clip := audio.Clip{
		Data:   audio.EncodeWAV(buf.PCM, buf.SampleRate, buf.Channels),
		Format: "wav",
	}
	var tr asr.Transcript
	err = o.stage(ctx, "asr", func(ctx context.Context) error {
		var err error
		tr, err = o.asr.Transcribe(ctx, clip)
		return err
	})
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		o.failTurn(ctx, gen, p, err, retypeNotice, "voice")
		return
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		o.failTurn(ctx, gen, p, errEmptyTranscript, retypeNotice, "voice")
		return
	}
	if o.cfg.CorrectTranscript != nil {
		text = o.cfg.CorrectTranscript(text)
	}

	turn := Turn{Speaker: SpeakerPlayer, Text: text, Lang: detectLang(text)}
	if !o.post(gen, Event{NPCID: p.ID, State: StateAwaitingReply, Turn: &turn}) {
		return
	}
	o.runReply(ctx, gen, p, history, text, "voice")
}

var errEmptyTranscript = fmt.Errorf("dialogue: recognition returned no text: %w", service.ErrMalformedResponse)

// runReply is the reply+synthesis+playback back half shared by typed and
// spoken turns.
func (o *Orchestrator) runReply(ctx context.Context, gen uint64, p Profile, history []npc.HistoryTurn, message, mode string) {
	var reply npc.Reply
	err := o.stage(ctx, "npc", func(ctx context.Context) error {
		var err error
		reply, err = o.npc.Chat(ctx, npc.Request{
			NPCID:     p.ID,
			PlayerID:  o.cfg.PlayerID,
			Message:   message,
			SessionID: p.ID + "_" + o.cfg.PlayerID,
			History:   history,
		})
		return err
	})
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		// The conversation carries on with the configured stock line
		// instead of dying; the line is shown but never synthesized.
		fb := p.FallbackReply
		if fb == "" {
			fb = defaultFallbackReply
		}
		o.metrics.RecordFallbackReply(ctx, p.ID)
		o.log.Warn("reply generation failed, using fallback",
			"npc_id", p.ID, "error", err)
		o.post(gen, Event{NPCID: p.ID, State: StateFailed, Kind: classify(err), Err: err})
		turn := Turn{Speaker: SpeakerNPC, Text: fb, Lang: detectLang(fb)}
		o.post(gen, Event{NPCID: p.ID, State: StateIdle, Turn: &turn})
		o.metrics.RecordTurn(ctx, p.ID, mode, "fallback")
		o.release(gen)
		return
	}

	display := strings.TrimSpace(Strip(reply.Text))
	turn := Turn{Speaker: SpeakerNPC, Text: display, Lang: detectLang(display)}
	if !o.post(gen, Event{NPCID: p.ID, State: StateSynthesizing, Turn: &turn}) {
		return
	}

	clip, err := o.synthesize(ctx, p, reply.Text)
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		// The text is already on screen; only the audio is lost.
		o.log.Warn("synthesis failed, reply shown without audio",
			"npc_id", p.ID, "error", err)
		o.post(gen, Event{NPCID: p.ID, State: StateFailed, Kind: classify(err), Err: err})
		o.post(gen, Event{NPCID: p.ID, State: StateIdle})
		o.metrics.RecordTurn(ctx, p.ID, mode, "no-audio")
		o.release(gen)
		return
	}
	if len(clip.Data) == 0 || o.player == nil {
		o.post(gen, Event{NPCID: p.ID, State: StateIdle})
		o.metrics.RecordTurn(ctx, p.ID, mode, "ok")
		o.release(gen)
		return
	}

	if !o.post(gen, Event{NPCID: p.ID, State: StateSpeaking}) {
		return
	}
	err = o.stage(ctx, "playback", func(ctx context.Context) error {
		return o.player.Play(ctx, clip)
	})
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		o.log.Warn("playback failed", "npc_id", p.ID, "error", err)
		o.post(gen, Event{NPCID: p.ID, State: StateFailed, Kind: classify(err), Err: err})
		o.post(gen, Event{NPCID: p.ID, State: StateIdle})
		o.metrics.RecordTurn(ctx, p.ID, mode, "no-audio")
		o.release(gen)
		return
	}

	o.post(gen, Event{NPCID: p.ID, State: StateIdle})
	o.metrics.RecordTurn(ctx, p.ID, mode, "ok")
	o.release(gen)
}

// synthesize renders the reply's language spans in parallel and joins them in
// original order. An empty or all-whitespace reply yields an empty clip.
func (o *Orchestrator) synthesize(ctx context.Context, p Profile, raw string) (audio.Clip, error) {
	if o.tts == nil {
		return audio.Clip{}, nil
	}
	spans := SplitSpans(raw)
	if len(spans) == 0 {
		return audio.Clip{}, nil
	}

	clips := make([]audio.Clip, len(spans))
	err := o.stage(ctx, "tts", func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		for i, sp := range spans {
			g.Go(func() error {
				voice := p.Voice
				if voice == "" {
					voice = o.cfg.DefaultVoice
				}
				lang := "en"
				if sp.Lang == language.Japanese {
					voice = o.cfg.JapaneseVoice
					lang = "ja"
				}
				c, err := o.tts.Synthesize(gctx, tts.Request{Text: sp.Text, Voice: voice, Language: lang})
				if err != nil {
					return err
				}
				clips[i] = c
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return audio.Clip{}, err
	}
	if len(clips) == 1 {
		return clips[0], nil
	}
	return audio.ConcatWAV(clips)
}

// failTurn publishes a Failed→Idle cycle for a turn that died before any
// reply existed (capture or recognition stage) and releases the pipeline.
func (o *Orchestrator) failTurn(ctx context.Context, gen uint64, p Profile, err error, notice, mode string) {
	o.log.Warn("turn failed", "npc_id", p.ID, "error", err)
	o.post(gen, Event{NPCID: p.ID, State: StateFailed, Kind: classify(err), Err: err, Notice: notice})
	o.post(gen, Event{NPCID: p.ID, State: StateIdle})
	o.metrics.RecordTurn(ctx, p.ID, mode, "failed")
	o.release(gen)
}

func statusOf(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case err != nil:
		return "error"
	default:
		return "ok"
	}
}

func detectLang(s string) language.Tag {
	if containsJapanese(s) {
		return language.Japanese
	}
	return language.English
}
