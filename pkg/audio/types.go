// Package audio provides the audio primitives for the dialogue pipeline:
// 16-bit PCM buffers, WAV encoding/decoding, energy-based voice activity
// detection, the microphone capture worker, and the playback worker with
// ordered backend failover.
package audio

import (
	"errors"
	"time"
)

// ErrDeviceUnavailable is returned when the audio input or output device (or
// its backing library) cannot be initialised. Callers should treat this as a
// missing capability, not a fatal error.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// ErrDeviceBusy is returned when a capture or playback is requested while the
// corresponding device is already held by another operation. The request is
// refused, never queued.
var ErrDeviceBusy = errors.New("audio: device busy")

// ErrUnsupportedFormat is returned by the playback worker when every
// configured backend failed to render the clip.
var ErrUnsupportedFormat = errors.New("audio: no backend could play this format")

// Buffer holds raw 16-bit little-endian signed PCM audio together with its
// format. Buffers are the unit of exchange between the capture worker and
// the speech-recognition client.
type Buffer struct {
	// PCM audio data, 16-bit little-endian signed samples.
	PCM []byte

	// SampleRate in Hz (e.g., 16000 for speech recognition input).
	SampleRate int

	// Channels: 1 for mono capture, 2 for stereo playback.
	Channels int
}

// Duration returns the play time of the buffer.
func (b Buffer) Duration() time.Duration {
	bytesPerSec := b.SampleRate * b.Channels * 2
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(len(b.PCM)) * time.Second / time.Duration(bytesPerSec)
}

// Clip is an encoded audio payload as received from the speech-synthesis
// collaborator, together with its declared container format ("wav", "mp3", …).
// A Clip is immutable once produced.
type Clip struct {
	Data   []byte
	Format string
}
