package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Backend plays a single clip to completion or until ctx is cancelled.
// Cancellation must stop output promptly and is not an error.
type Backend interface {
	Name() string
	Play(ctx context.Context, clip Clip) error
}

// Player plays finished clips through an ordered chain of backends, moving to
// the next backend only when the previous one fails. The speaker is a single
// resource: a Play while another Play is in flight is refused with
// [ErrDeviceBusy].
type Player struct {
	backends []Backend
	busy     atomic.Bool
}

// NewPlayer builds a player from an explicit backend chain. With no arguments
// it uses the default chain: the in-process mixer first, then whichever
// system playback command is installed.
func NewPlayer(backends ...Backend) *Player {
	if len(backends) == 0 {
		backends = append(backends, &otoBackend{})
		if cmd := systemPlaybackCommand(); cmd != nil {
			backends = append(backends, cmd)
		}
	}
	return &Player{backends: backends}
}

// Play decodes and plays the clip, trying each backend in order. It returns
// ctx.Err() on cancellation, [ErrDeviceBusy] if a playback is already active,
// and a joined error if every backend failed.
func (p *Player) Play(ctx context.Context, clip Clip) error {
	if !p.busy.CompareAndSwap(false, true) {
		return ErrDeviceBusy
	}
	defer p.busy.Store(false)

	var errs []error
	for _, b := range p.backends {
		err := b.Play(ctx, clip)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		slog.Warn("playback backend failed, trying next", "backend", b.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
	}
	return fmt.Errorf("audio: all playback backends failed: %w", errors.Join(errs...))
}

// ---- oto (in-process mixer) backend ----

// otoBackend plays PCM through an oto context. The context is created once,
// at the sample rate of the first clip; later clips at other rates are
// resampled to match because oto allows a single context per process.
type otoBackend struct {
	mu   sync.Mutex
	octx *oto.Context
	rate int
	chns int
}

func (b *otoBackend) Name() string { return "oto" }

func (b *otoBackend) Play(ctx context.Context, clip Clip) error {
	buf, err := DecodeWAV(clip.Data)
	if err != nil {
		return err
	}
	octx, err := b.context(buf.SampleRate, buf.Channels)
	if err != nil {
		return err
	}

	pcm := buf.PCM
	if buf.SampleRate != b.rate {
		if buf.Channels != 1 || b.chns != 1 {
			return fmt.Errorf("%w: cannot resample %d-channel clip from %d Hz to %d Hz",
				ErrUnsupportedFormat, buf.Channels, buf.SampleRate, b.rate)
		}
		pcm = ResampleMono16(pcm, buf.SampleRate, b.rate)
	}

	player := octx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}

func (b *otoBackend) context(sampleRate, channels int) (*oto.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.octx != nil {
		return b.octx, nil
	}
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}
	octx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	<-ready
	b.octx, b.rate, b.chns = octx, sampleRate, channels
	return octx, nil
}

// ---- system command backend ----

// commandBackend shells out to an installed playback tool, feeding it the
// clip via a temporary WAV file.
type commandBackend struct {
	command string
	args    []string
}

func (b *commandBackend) Name() string { return b.command }

func (b *commandBackend) Play(ctx context.Context, clip Clip) error {
	f, err := os.CreateTemp("", "stationtalk-*.wav")
	if err != nil {
		return fmt.Errorf("audio: temp clip file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(clip.Data); err != nil {
		f.Close()
		return fmt.Errorf("audio: write temp clip: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("audio: close temp clip: %w", err)
	}

	args := append(append([]string{}, b.args...), f.Name())
	cmd := exec.CommandContext(ctx, b.command, args...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("audio: %s: %w", b.command, err)
	}
	return nil
}

// systemPlaybackCommand picks the platform playback tool, or nil when none is
// installed.
func systemPlaybackCommand() Backend {
	var candidates [][]string
	if runtime.GOOS == "darwin" {
		candidates = [][]string{{"afplay"}}
	} else {
		candidates = [][]string{{"aplay", "-q"}, {"paplay"}}
	}
	for _, c := range candidates {
		if _, err := exec.LookPath(c[0]); err == nil {
			return &commandBackend{command: c[0], args: c[1:]}
		}
	}
	return nil
}
