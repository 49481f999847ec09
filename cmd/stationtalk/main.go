// Command stationtalk is the interactive station dialogue client: it wires
// the configured speech and dialogue services into the turn orchestrator and
// drives a small console front end around the shared text view.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/soramame-games/stationtalk/internal/config"
	"github.com/soramame-games/stationtalk/internal/dialogue"
	"github.com/soramame-games/stationtalk/internal/game"
	"github.com/soramame-games/stationtalk/internal/health"
	"github.com/soramame-games/stationtalk/internal/observe"
	"github.com/soramame-games/stationtalk/internal/resilience"
	"github.com/soramame-games/stationtalk/internal/textview"
	"github.com/soramame-games/stationtalk/internal/vocab"
	"github.com/soramame-games/stationtalk/pkg/audio"
	"github.com/soramame-games/stationtalk/pkg/service"
	"github.com/soramame-games/stationtalk/pkg/service/asr"
	"github.com/soramame-games/stationtalk/pkg/service/npc"
	"github.com/soramame-games/stationtalk/pkg/service/tts"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	checkOnly := flag.Bool("check", false, "probe the configured services and exit")
	flag.Parse()

	// ── Configuration (watched for hot reloads) ───────────────────────────────
	levelVar := new(slog.LevelVar)
	var registry *game.Registry

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if registry != nil {
			registry.Apply(new.NPCs, d)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "stationtalk: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "stationtalk: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar.Set(slogLevel(cfg.Logging.Level))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("stationtalk starting",
		"config", *configPath,
		"log_level", cfg.Logging.Level,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── NPC registry ──────────────────────────────────────────────────────────
	registry = game.NewRegistry(cfg.NPCs)

	// ── Service clients ───────────────────────────────────────────────────────
	clients, err := buildClients(cfg, registry)
	if err != nil {
		slog.Error("failed to build service clients", "err", err)
		return 1
	}

	// ── Startup probes ────────────────────────────────────────────────────────
	probeCtx, cancelProbe := context.WithTimeout(ctx, 10*time.Second)
	down := service.CheckAll(probeCtx, clients.healthChecks())
	cancelProbe()
	if *checkOnly {
		if len(down) > 0 {
			fmt.Fprintf(os.Stderr, "stationtalk: services down: %s\n", strings.Join(down, ", "))
			return 1
		}
		fmt.Println("all configured services healthy")
		return 0
	}
	if len(down) > 0 {
		slog.Warn("starting with degraded services", "down", down)
	}

	// ── Debug server (optional) ───────────────────────────────────────────────
	if cfg.Debug.Addr != "" {
		h := health.New(clients.checkers()...)
		go func() {
			if err := h.Serve(ctx, cfg.Debug.Addr); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("debug server stopped", "err", err)
			}
		}()
		slog.Info("debug server listening", "addr", cfg.Debug.Addr)
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	var recorder dialogue.Recorder
	if clients.asr != nil {
		rec := audio.NewRecorder(audio.CaptureConfig{
			SampleRate:      cfg.Audio.SampleRate,
			SpeechThreshold: cfg.Audio.SpeechThreshold,
			TrailingSilence: time.Duration(cfg.Audio.TrailingSilenceMs) * time.Millisecond,
			MaxDuration:     time.Duration(cfg.Audio.MaxCaptureMs) * time.Millisecond,
		})
		if !rec.Available() {
			slog.Warn("no capture device; voice input disabled")
		}
		recorder = rec
	}
	player := audio.NewPlayer()

	// ── Orchestrator + loop boundary ──────────────────────────────────────────
	orch := dialogue.New(dialogue.Config{
		PlayerID:          cfg.Player.ID,
		DefaultVoice:      cfg.Services.TTS.DefaultVoice,
		JapaneseVoice:     cfg.Services.TTS.JapaneseVoice,
		CorrectTranscript: transcriptCorrector(cfg, registry, logger),
	}, registry, clients.asr, clients.npc, clients.tts, recorder, player, metrics, logger)
	defer orch.Close()

	view := textview.NewView(consoleEngine(), textview.SystemClipboard{},
		float64(dimOr(cfg.UI.WidthPx, 80)), dimOr(cfg.UI.Rows, 10),
		float64(dimOr(cfg.UI.LineHeightPx, 1)))
	loop := game.NewLoop(orch, view, registry, logger)

	// ── Console front end ─────────────────────────────────────────────────────
	if err := runConsole(ctx, loop, registry); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("console error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Client wiring ───────────────────────────────────────────────────────────

// serviceClients holds the configured service clients. Nil fields mean the
// corresponding capability is disabled.
type serviceClients struct {
	asr *asr.HTTPClient
	npc npc.Client
	tts *tts.HTTPClient
}

// buildClients constructs the speech and dialogue clients declared in cfg.
// When both the station service and an OpenAI-compatible backend are
// configured, replies go through a breaker-guarded fallback chain.
func buildClients(cfg *config.Config, reg *game.Registry) (*serviceClients, error) {
	c := &serviceClients{}

	if u := cfg.Services.ASR.BaseURL; u != "" {
		var opts []asr.Option
		if lang := cfg.Services.ASR.Language; lang != "" {
			opts = append(opts, asr.WithLanguage(lang))
		}
		client, err := asr.New(u, opts...)
		if err != nil {
			return nil, fmt.Errorf("asr client: %w", err)
		}
		c.asr = client
	}

	var station, openai npc.Client
	if u := cfg.Services.NPC.BaseURL; u != "" {
		client, err := npc.NewStation(u)
		if err != nil {
			return nil, fmt.Errorf("npc client: %w", err)
		}
		station = client
	}
	if key := cfg.Services.NPC.OpenAI.APIKey; key != "" {
		var opts []npc.OpenAIOption
		if u := cfg.Services.NPC.OpenAI.BaseURL; u != "" {
			opts = append(opts, npc.WithOpenAIBaseURL(u))
		}
		client, err := npc.NewOpenAI(key, cfg.Services.NPC.OpenAI.Model, reg.Personas(), opts...)
		if err != nil {
			return nil, fmt.Errorf("openai client: %w", err)
		}
		openai = client
	}
	switch {
	case station != nil && openai != nil:
		fb := resilience.NewNPCFallback(station, "station", resilience.BreakerConfig{})
		fb.AddFallback("openai", openai)
		c.npc = fb
	case station != nil:
		c.npc = station
	case openai != nil:
		c.npc = openai
	default:
		return nil, errors.New("no reply backend configured")
	}

	if u := cfg.Services.TTS.BaseURL; u != "" {
		client, err := tts.New(u)
		if err != nil {
			return nil, fmt.Errorf("tts client: %w", err)
		}
		c.tts = client
	}
	return c, nil
}

// healthChecks returns the startup probe set, keyed by service name.
func (c *serviceClients) healthChecks() map[string]service.HealthChecker {
	checks := make(map[string]service.HealthChecker)
	if c.asr != nil {
		checks["asr"] = c.asr
	}
	if c.npc != nil {
		checks["npc"] = c.npc
	}
	if c.tts != nil {
		checks["tts"] = c.tts
	}
	return checks
}

// checkers adapts the clients to the debug server's readiness probes.
func (c *serviceClients) checkers() []health.Checker {
	var out []health.Checker
	for name, hc := range c.healthChecks() {
		out = append(out, health.Checker{Name: name, Check: hc.Healthy})
	}
	return out
}

// transcriptCorrector builds the recognized-text corrector from the NPC
// names plus any configured station vocabulary.
func transcriptCorrector(cfg *config.Config, reg *game.Registry, log *slog.Logger) func(string) string {
	terms := append([]string(nil), cfg.Services.ASR.Vocabulary...)
	for _, p := range reg.All() {
		terms = append(terms, p.Name)
	}
	corrector := vocab.New(terms)
	return func(text string) string {
		out, corrections := corrector.Correct(text)
		for _, c := range corrections {
			log.Debug("transcript corrected",
				"from", c.Original,
				"to", c.Corrected,
				"confidence", c.Confidence,
			)
		}
		return out
	}
}

// ── Console front end ───────────────────────────────────────────────────────

// consoleEngine lays text out in terminal cells: CJK clusters are two cells
// wide, everything else one.
func consoleEngine() textview.Engine {
	return textview.Engine{
		Advance: func(cluster string) (float64, bool) {
			for _, r := range cluster {
				if isWideRune(r) {
					return 2, true
				}
			}
			return 1, true
		},
		FallbackWidth: 1,
	}
}

func isWideRune(r rune) bool {
	return (r >= 0x1100 && r <= 0x115F) || // Hangul Jamo
		(r >= 0x3000 && r <= 0x30FF) || // CJK punctuation, kana
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0xAC00 && r <= 0xD7AF) ||
		(r >= 0xFF00 && r <= 0xFF60) // fullwidth forms
}

// runConsole drives the loop from stdin: lines starting with '/' are
// commands, everything else is a typed turn for the engaged NPC.
func runConsole(ctx context.Context, loop *game.Loop, reg *game.Registry) error {
	fmt.Println("stationtalk console. Commands: /talk <npc>, /voice, /paste, /cancel, /bye, /quit")
	for _, p := range reg.All() {
		fmt.Printf("  npc: %s (%s)\n", p.ID, p.Name)
	}
	loop.OnAppend(func(line string) { fmt.Print(line) })

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var lastStatus string
	render := func() {
		loop.Step()
		if s := loop.Status(); s != lastStatus {
			if s != "" {
				fmt.Printf("[%s]\n", s)
			}
			lastStatus = s
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			render()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := handleLine(loop, line); done {
				return nil
			}
			render()
		}
	}
}

// handleLine dispatches one console line. Returns true on /quit.
func handleLine(loop *game.Loop, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case line == "/bye":
		loop.Disengage()
		fmt.Println("(walked away)")
		return false
	case line == "/cancel":
		loop.Cancel()
		return false
	case line == "/voice":
		loop.PushToTalk()
		return false
	case line == "/paste":
		if text := loop.PasteText(); text != "" {
			fmt.Printf("> %s\n", text)
		}
		return false
	case strings.HasPrefix(line, "/talk "):
		id := strings.TrimSpace(strings.TrimPrefix(line, "/talk "))
		if err := loop.Engage(id); err != nil {
			fmt.Printf("(%v)\n", err)
		}
		return false
	case strings.HasPrefix(line, "/"):
		fmt.Printf("(unknown command %q)\n", line)
		return false
	default:
		loop.SubmitText(line)
		return false
	}
}

// ── Helpers ─────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// dimOr picks a UI dimension from the config, falling back when unset.
func dimOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
