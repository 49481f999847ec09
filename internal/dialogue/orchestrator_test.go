package dialogue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/soramame-games/stationtalk/pkg/audio"
	"github.com/soramame-games/stationtalk/pkg/service"
	"github.com/soramame-games/stationtalk/pkg/service/asr"
	asrmock "github.com/soramame-games/stationtalk/pkg/service/asr/mock"
	"github.com/soramame-games/stationtalk/pkg/service/npc"
	npcmock "github.com/soramame-games/stationtalk/pkg/service/npc/mock"
	ttsmock "github.com/soramame-games/stationtalk/pkg/service/tts/mock"
)

type stubDirectory map[string]Profile

func (d stubDirectory) Lookup(id string) (Profile, bool) {
	p, ok := d[id]
	return p, ok
}

type stubRecorder struct {
	buf         audio.Buffer
	err         error
	unavailable bool
}

func (r *stubRecorder) Available() bool { return !r.unavailable }

func (r *stubRecorder) Record(ctx context.Context) (audio.Buffer, error) {
	if r.err != nil {
		return audio.Buffer{}, r.err
	}
	return r.buf, nil
}

type stubPlayer struct {
	mu    sync.Mutex
	clips []audio.Clip
	err   error
}

func (p *stubPlayer) Play(ctx context.Context, clip audio.Clip) error {
	p.mu.Lock()
	p.clips = append(p.clips, clip)
	p.mu.Unlock()
	return p.err
}

func (p *stubPlayer) played() []audio.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audio.Clip, len(p.clips))
	copy(out, p.clips)
	return out
}

type fixture struct {
	o   *Orchestrator
	asr *asrmock.Client
	npc *npcmock.Client
	tts *ttsmock.Client
	rec *stubRecorder
	pl  *stubPlayer
}

func wavClip(samples int) audio.Clip {
	return audio.Clip{
		Data:   audio.EncodeWAV(make([]byte, samples*2), 16000, 1),
		Format: "wav",
	}
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		asr: &asrmock.Client{Transcript: asr.Transcript{Text: "one ticket please", Confidence: 0.9}},
		npc: &npcmock.Client{Reply: npc.Reply{Text: "Of course."}},
		tts: &ttsmock.Client{Clip: wavClip(1600)},
		rec: &stubRecorder{buf: audio.Buffer{PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1}},
		pl:  &stubPlayer{},
	}
	dir := stubDirectory{
		"guard": {
			ID:            "guard",
			Name:          "Station Guard",
			Voice:         "female1",
			FallbackReply: "Hmm? The trains are loud today, say that again.",
			Greeting:      "Welcome to the station!",
		},
		"vendor": {ID: "vendor", Name: "Kiosk Vendor"},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{TurnTimeout: 2 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.o = New(cfg, dir, f.asr, f.npc, f.tts, f.rec, f.pl, nil, log)
	t.Cleanup(f.o.Close)
	return f
}

// drainUntilIdle polls events until the session reports idle again.
func drainUntilIdle(t *testing.T, o *Orchestrator) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var events []Event
	for time.Now().Before(deadline) {
		events = append(events, o.PollEvents()...)
		for _, ev := range events {
			if ev.State == StateIdle {
				return events
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for idle, events so far: %+v", events)
	return nil
}

func statesOf(events []Event) []PipelineState {
	out := make([]PipelineState, len(events))
	for i, ev := range events {
		out[i] = ev.State
	}
	return out
}

func wantStates(t *testing.T, events []Event, want ...PipelineState) {
	t.Helper()
	got := statesOf(events)
	if len(got) != len(want) {
		t.Fatalf("got states %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got states %v, want %v", got, want)
		}
	}
}

func TestTextTurnHappyPath(t *testing.T) {
	f := newFixture(t)

	if err := f.o.StartTextTurn("guard", "One ticket please"); err != nil {
		t.Fatalf("StartTextTurn: %v", err)
	}
	events := drainUntilIdle(t, f.o)
	wantStates(t, events, StateAwaitingReply, StateSynthesizing, StateSpeaking, StateIdle)

	if events[0].Turn == nil || events[0].Turn.Speaker != SpeakerPlayer || events[0].Turn.Text != "One ticket please" {
		t.Errorf("first event turn = %+v, want player's message", events[0].Turn)
	}
	if events[1].Turn == nil || events[1].Turn.Speaker != SpeakerNPC || events[1].Turn.Text != "Of course." {
		t.Errorf("second event turn = %+v, want npc reply", events[1].Turn)
	}
	if got := len(f.pl.played()); got != 1 {
		t.Errorf("player received %d clips, want 1", got)
	}
	hist := f.o.History("guard")
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	calls := f.npc.Calls()
	if len(calls) != 1 || calls[0].Req.Message != "One ticket please" || calls[0].Req.NPCID != "guard" {
		t.Errorf("npc request = %+v", calls)
	}
}

func TestTextTurnMixedLanguageReply(t *testing.T) {
	f := newFixture(t)
	f.npc.Reply = npc.Reply{Text: "Here is your ticket. [JA:切符はこちらです。]"}

	if err := f.o.StartTextTurn("guard", "A ticket to Kyoto"); err != nil {
		t.Fatalf("StartTextTurn: %v", err)
	}
	events := drainUntilIdle(t, f.o)
	wantStates(t, events, StateAwaitingReply, StateSynthesizing, StateSpeaking, StateIdle)

	if got := events[1].Turn.Text; got != "Here is your ticket. 切符はこちらです。" {
		t.Errorf("display text = %q, want markers stripped in place", got)
	}

	// One synthesis call per language span, Japanese on its own voice.
	voices := map[string]string{}
	for _, call := range f.tts.Calls() {
		voices[call.Req.Language] = call.Req.Voice
	}
	if len(voices) != 2 || voices["en"] != "female1" || voices["ja"] != "japanese1" {
		t.Errorf("synthesis voices by language = %v", voices)
	}

	// Both spans end up in a single joined clip.
	clips := f.pl.played()
	if len(clips) != 1 {
		t.Fatalf("player received %d clips, want 1", len(clips))
	}
	buf, err := audio.DecodeWAV(clips[0].Data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if want := 2 * 3200; len(buf.PCM) != want {
		t.Errorf("joined clip has %d PCM bytes, want %d", len(buf.PCM), want)
	}
}

func TestTextTurnFallbackOnReplyFailure(t *testing.T) {
	f := newFixture(t)
	f.npc.ChatErr = service.ErrUnreachable

	if err := f.o.StartTextTurn("guard", "Hello?"); err != nil {
		t.Fatalf("StartTextTurn: %v", err)
	}
	events := drainUntilIdle(t, f.o)
	wantStates(t, events, StateAwaitingReply, StateFailed, StateIdle)

	if events[1].Kind != KindServiceUnreachable {
		t.Errorf("failure kind = %v, want %v", events[1].Kind, KindServiceUnreachable)
	}
	if events[2].Turn == nil || events[2].Turn.Text != "Hmm? The trains are loud today, say that again." {
		t.Errorf("fallback turn = %+v", events[2].Turn)
	}
	// The stock line is shown, never synthesized or played.
	if n := len(f.tts.Calls()); n != 0 {
		t.Errorf("synthesis called %d times, want 0", n)
	}
	if n := len(f.pl.played()); n != 0 {
		t.Errorf("playback called %d times, want 0", n)
	}
}

func TestSynthesisFailureKeepsText(t *testing.T) {
	f := newFixture(t)
	f.tts.SynthesizeErr = service.ErrUnreachable

	if err := f.o.StartTextTurn("guard", "Hello"); err != nil {
		t.Fatalf("StartTextTurn: %v", err)
	}
	events := drainUntilIdle(t, f.o)
	wantStates(t, events, StateAwaitingReply, StateSynthesizing, StateFailed, StateIdle)

	hist := f.o.History("guard")
	if len(hist) != 2 || hist[1].Text != "Of course." {
		t.Errorf("history = %+v, want reply text kept", hist)
	}
	if n := len(f.pl.played()); n != 0 {
		t.Errorf("playback called %d times, want 0", n)
	}
}

func TestSecondConversationRefusedWhileActive(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.npc.ChatFn = func(ctx context.Context, req npc.Request) (npc.Reply, error) {
		select {
		case <-release:
			return npc.Reply{Text: "Done."}, nil
		case <-ctx.Done():
			return npc.Reply{}, ctx.Err()
		}
	}

	if err := f.o.StartTextTurn("guard", "First"); err != nil {
		t.Fatalf("StartTextTurn: %v", err)
	}
	if err := f.o.StartTextTurn("vendor", "Second"); !errors.Is(err, ErrConversationActive) {
		t.Fatalf("second turn error = %v, want ErrConversationActive", err)
	}
	// The active turn is untouched by the refused request.
	if got := f.o.State("guard"); got != StateAwaitingReply {
		t.Errorf("active session state = %v, want awaiting-reply", got)
	}
	if got := len(f.o.History("vendor")); got != 0 {
		t.Errorf("refused session gained %d turns", got)
	}

	close(release)
	drainUntilIdle(t, f.o)
}

func TestVoiceTurnHappyPath(t *testing.T) {
	f := newFixture(t)
	f.asr.Transcript = asr.Transcript{Text: "  where is platform three  "}

	if err := f.o.StartVoiceTurn("guard"); err != nil {
		t.Fatalf("StartVoiceTurn: %v", err)
	}
	events := drainUntilIdle(t, f.o)
	wantStates(t, events,
		StateListening, StateTranscribing, StateAwaitingReply,
		StateSynthesizing, StateSpeaking, StateIdle)

	if events[2].Turn == nil || events[2].Turn.Text != "where is platform three" {
		t.Errorf("transcript turn = %+v, want trimmed text", events[2].Turn)
	}
	calls := f.asr.Calls()
	if len(calls) != 1 || calls[0].Clip.Format != "wav" {
		t.Fatalf("asr calls = %+v", calls)
	}
	if _, err := audio.DecodeWAV(calls[0].Clip.Data); err != nil {
		t.Errorf("capture was not shipped as a WAV container: %v", err)
	}
}

func TestVoiceTurnAppliesTranscriptCorrection(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.CorrectTranscript = func(s string) string {
			return strings.ReplaceAll(s, "shin juku", "Shinjuku")
		}
	})
	f.asr.Transcript = asr.Transcript{Text: "one ticket to shin juku"}

	if err := f.o.StartVoiceTurn("guard"); err != nil {
		t.Fatalf("StartVoiceTurn: %v", err)
	}
	events := drainUntilIdle(t, f.o)

	var turnText string
	for _, ev := range events {
		if ev.State == StateAwaitingReply && ev.Turn != nil {
			turnText = ev.Turn.Text
		}
	}
	if turnText != "one ticket to Shinjuku" {
		t.Errorf("player turn = %q, want corrected vocabulary", turnText)
	}
	reqs := f.npc.Calls()
	if len(reqs) != 1 || reqs[0].Req.Message != "one ticket to Shinjuku" {
		t.Errorf("reply service got %+v, want the corrected text", reqs)
	}
}

func TestTurnStagesAreTraced(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	f := newFixture(t)
	if err := f.o.StartVoiceTurn("guard"); err != nil {
		t.Fatalf("StartVoiceTurn: %v", err)
	}
	drainUntilIdle(t, f.o)
	f.o.Close()

	names := make(map[string]bool)
	for _, s := range rec.Ended() {
		names[s.Name()] = true
	}
	for _, want := range []string{
		"dialogue.capture", "dialogue.asr", "dialogue.npc",
		"dialogue.tts", "dialogue.playback",
	} {
		if !names[want] {
			t.Errorf("no %q span recorded; got %v", want, names)
		}
	}
}

func TestVoiceTurnRefusedWithoutMicrophone(t *testing.T) {
	f := newFixture(t)
	f.rec.unavailable = true

	if err := f.o.StartVoiceTurn("guard"); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("error = %v, want ErrDeviceUnavailable", err)
	}
	if evs := f.o.PollEvents(); len(evs) != 0 {
		t.Errorf("refused turn published %d events", len(evs))
	}
}

func TestVoiceTurnNoSpeechPromptsRetype(t *testing.T) {
	f := newFixture(t)
	f.rec.err = audio.ErrNoSpeech

	if err := f.o.StartVoiceTurn("guard"); err != nil {
		t.Fatalf("StartVoiceTurn: %v", err)
	}
	events := drainUntilIdle(t, f.o)
	wantStates(t, events, StateListening, StateFailed, StateIdle)

	if events[1].Notice == "" {
		t.Error("failed event carries no player-facing notice")
	}
	if n := len(f.asr.Calls()); n != 0 {
		t.Errorf("recognition called %d times for an empty capture", n)
	}
	if got := len(f.o.History("guard")); got != 0 {
		t.Errorf("history gained %d turns from a failed capture", got)
	}
}

func TestVoiceTurnEmptyTranscriptPromptsRetype(t *testing.T) {
	f := newFixture(t)
	f.asr.Transcript = asr.Transcript{Text: "   "}

	if err := f.o.StartVoiceTurn("guard"); err != nil {
		t.Fatalf("StartVoiceTurn: %v", err)
	}
	events := drainUntilIdle(t, f.o)
	wantStates(t, events, StateListening, StateTranscribing, StateFailed, StateIdle)

	if events[2].Kind != KindMalformedResponse {
		t.Errorf("failure kind = %v, want %v", events[2].Kind, KindMalformedResponse)
	}
	if n := len(f.npc.Calls()); n != 0 {
		t.Errorf("dialogue service called %d times without a transcript", n)
	}
}

func TestCancelDiscardsInFlightTurn(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	f.npc.ChatFn = func(ctx context.Context, req npc.Request) (npc.Reply, error) {
		close(entered)
		<-ctx.Done()
		return npc.Reply{}, ctx.Err()
	}

	if err := f.o.StartTextTurn("guard", "Hello"); err != nil {
		t.Fatalf("StartTextTurn: %v", err)
	}
	<-entered
	f.o.CancelActive()
	f.o.Close()

	events := f.o.PollEvents()
	var sawCancel bool
	for _, ev := range events {
		if ev.State == StateFailed {
			t.Errorf("cancelled turn published a failure event: %+v", ev)
		}
		if ev.State == StateIdle && ev.Kind == KindCancelled {
			sawCancel = true
		}
	}
	if !sawCancel {
		t.Error("no cancelled idle event published")
	}
	if got := f.o.State("guard"); got != StateIdle {
		t.Errorf("state after cancel = %v, want idle", got)
	}
	// The player's message stays; no partial reply was appended.
	hist := f.o.History("guard")
	if len(hist) != 1 || hist[0].Speaker != SpeakerPlayer {
		t.Errorf("history after cancel = %+v", hist)
	}
	// The slot is free again.
	f.npc.ChatFn = nil
	if err := f.o.StartTextTurn("vendor", "Hi"); err != nil {
		t.Errorf("turn after cancel refused: %v", err)
	}
	drainUntilIdle(t, f.o)
}

func TestEngagePublishesGreetingOnce(t *testing.T) {
	f := newFixture(t)

	if err := f.o.Engage("guard"); err != nil {
		t.Fatalf("Engage: %v", err)
	}
	events := f.o.PollEvents()
	if len(events) != 1 || events[0].Turn == nil || events[0].Turn.Text != "Welcome to the station!" {
		t.Fatalf("first engage events = %+v", events)
	}

	if err := f.o.Engage("guard"); err != nil {
		t.Fatalf("re-engage: %v", err)
	}
	if evs := f.o.PollEvents(); len(evs) != 0 {
		t.Errorf("re-engagement published %d events, want 0", len(evs))
	}
	if got := len(f.o.History("guard")); got != 1 {
		t.Errorf("history length = %d, want greeting only", got)
	}
}

func TestStartTurnValidation(t *testing.T) {
	f := newFixture(t)

	if err := f.o.StartTextTurn("guard", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank message error = %v, want ErrEmptyMessage", err)
	}
	if err := f.o.StartTextTurn("ghost", "Hello"); !errors.Is(err, ErrUnknownNPC) {
		t.Errorf("unknown npc error = %v, want ErrUnknownNPC", err)
	}
	if err := f.o.Engage("ghost"); !errors.Is(err, ErrUnknownNPC) {
		t.Errorf("engage unknown npc error = %v, want ErrUnknownNPC", err)
	}
}

func TestHistoryForwardedToService(t *testing.T) {
	f := newFixture(t)

	if err := f.o.StartTextTurn("guard", "First"); err != nil {
		t.Fatalf("StartTextTurn: %v", err)
	}
	drainUntilIdle(t, f.o)
	if err := f.o.StartTextTurn("guard", "Second"); err != nil {
		t.Fatalf("StartTextTurn: %v", err)
	}
	drainUntilIdle(t, f.o)

	calls := f.npc.Calls()
	if len(calls) != 2 {
		t.Fatalf("npc calls = %d, want 2", len(calls))
	}
	hist := calls[1].Req.History
	if len(hist) != 2 || hist[0].Role != "user" || hist[0].Content != "First" ||
		hist[1].Role != "assistant" || hist[1].Content != "Of course." {
		t.Errorf("second call history = %+v", hist)
	}
}
