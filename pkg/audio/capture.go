package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// ErrNoSpeech is returned by [Recorder.Record] when the capture ended (max
// duration reached) without any chunk exceeding the speech threshold.
var ErrNoSpeech = errors.New("audio: no speech detected")

// CaptureConfig holds the capture worker parameters.
type CaptureConfig struct {
	// SampleRate in Hz. Default 16000 (speech-recognition input rate).
	SampleRate int

	// Channels of capture. Default 1.
	Channels int

	// SpeechThreshold is the RMS energy above which a chunk counts as speech.
	// Zero selects [DefaultSpeechThreshold].
	SpeechThreshold float64

	// TrailingSilence is how much silence after detected speech ends the
	// capture. Default 900ms.
	TrailingSilence time.Duration

	// MaxDuration is the absolute capture length bound. Default 10s.
	MaxDuration time.Duration
}

func (c *CaptureConfig) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.TrailingSilence <= 0 {
		c.TrailingSilence = 900 * time.Millisecond
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 10 * time.Second
	}
}

// frameSource abstracts the microphone device so the capture loop can be
// tested without real hardware. Start begins delivering PCM chunks to
// onFrames from the device's own thread until Stop is called.
type frameSource interface {
	Start(onFrames func(pcm []byte)) error
	Stop() error
	Close() error
}

// Recorder owns the microphone device and performs voice-activity-gated
// capture. At most one Record call may be active at a time; a concurrent call
// is refused with [ErrDeviceBusy].
//
// If the audio input library or device is unavailable, NewRecorder still
// returns a Recorder, but Available reports false and Record returns
// [ErrDeviceUnavailable]. Voice input should then be hidden, not treated as
// a per-turn failure.
type Recorder struct {
	cfg  CaptureConfig
	src  frameSource
	busy atomic.Bool
}

// NewRecorder initialises the capture device. A device or library failure is
// reported through [Recorder.Available] rather than an error so callers can
// degrade to text-only input.
func NewRecorder(cfg CaptureConfig) *Recorder {
	cfg.applyDefaults()
	src, err := newMalgoSource(cfg.SampleRate, cfg.Channels)
	if err != nil {
		slog.Warn("microphone unavailable, voice input disabled", "error", err)
		return &Recorder{cfg: cfg}
	}
	return &Recorder{cfg: cfg, src: src}
}

// newRecorderWithSource wires an arbitrary frame source. Used by tests.
func newRecorderWithSource(cfg CaptureConfig, src frameSource) *Recorder {
	cfg.applyDefaults()
	return &Recorder{cfg: cfg, src: src}
}

// Available reports whether the microphone device could be initialised.
func (r *Recorder) Available() bool { return r.src != nil }

// Record captures one utterance: it discards leading silence, accumulates PCM
// once speech is heard, and stops after the configured trailing silence, the
// absolute max duration, or ctx cancellation. On cancellation the partial
// buffer is discarded and ctx.Err() is returned.
func (r *Recorder) Record(ctx context.Context) (Buffer, error) {
	if r.src == nil {
		return Buffer{}, ErrDeviceUnavailable
	}
	if !r.busy.CompareAndSwap(false, true) {
		return Buffer{}, ErrDeviceBusy
	}
	defer r.busy.Store(false)

	frames := make(chan []byte, 64)
	err := r.src.Start(func(pcm []byte) {
		chunk := make([]byte, len(pcm))
		copy(chunk, pcm)
		select {
		case frames <- chunk:
		default:
			// Capture loop is behind; dropping a chunk beats blocking the
			// device callback.
		}
	})
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: start capture: %w", err)
	}
	defer func() {
		if err := r.src.Stop(); err != nil {
			slog.Warn("capture stop failed", "error", err)
		}
	}()

	detector := NewSilenceDetector(r.cfg.SpeechThreshold, r.cfg.TrailingSilence)
	bytesPerSec := r.cfg.SampleRate * r.cfg.Channels * 2
	deadline := time.NewTimer(r.cfg.MaxDuration)
	defer deadline.Stop()

	var pcm []byte
	for {
		select {
		case <-ctx.Done():
			return Buffer{}, ctx.Err()

		case <-deadline.C:
			if !detector.HadSpeech() {
				return Buffer{}, ErrNoSpeech
			}
			return Buffer{PCM: pcm, SampleRate: r.cfg.SampleRate, Channels: r.cfg.Channels}, nil

		case chunk := <-frames:
			dur := time.Duration(len(chunk)) * time.Second / time.Duration(bytesPerSec)
			done := detector.Feed(chunk, dur)
			if detector.HadSpeech() {
				pcm = append(pcm, chunk...)
			}
			if done {
				return Buffer{PCM: pcm, SampleRate: r.cfg.SampleRate, Channels: r.cfg.Channels}, nil
			}
		}
	}
}

// ---- malgo (miniaudio) frame source ----

// malgoSource drives a miniaudio capture device.
type malgoSource struct {
	ctx        *malgo.AllocatedContext
	dev        *malgo.Device
	sampleRate int
	channels   int
}

func newMalgoSource(sampleRate, channels int) (*malgoSource, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", ErrDeviceUnavailable, err)
	}
	return &malgoSource{ctx: mctx, sampleRate: sampleRate, channels: channels}, nil
}

func (m *malgoSource) Start(onFrames func(pcm []byte)) error {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(m.channels)
	cfg.SampleRate = uint32(m.sampleRate)
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onFrames(input)
		},
	})
	if err != nil {
		return fmt.Errorf("%w: init device: %v", ErrDeviceUnavailable, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("%w: start device: %v", ErrDeviceUnavailable, err)
	}
	m.dev = dev
	return nil
}

func (m *malgoSource) Stop() error {
	if m.dev == nil {
		return nil
	}
	err := m.dev.Stop()
	m.dev.Uninit()
	m.dev = nil
	return err
}

func (m *malgoSource) Close() error {
	_ = m.Stop()
	if m.ctx != nil {
		err := m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
		return err
	}
	return nil
}
