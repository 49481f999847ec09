package audio

import (
	"math"
	"time"
)

// DefaultSpeechThreshold is the root-mean-square energy level (in 16-bit PCM
// units) above which a chunk is considered speech. The maximum possible value
// for 16-bit audio is 32 767; 300 corresponds to near-silence.
const DefaultSpeechThreshold = 300.0

// RMS computes the root-mean-square energy of a chunk of 16-bit little-endian
// signed PCM. An empty or odd-length chunk yields 0.
func RMS(chunk []byte) float64 {
	n := len(chunk) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(chunk[i*2]) | int16(chunk[i*2+1])<<8
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}

// SilenceDetector tracks speech onset and trailing silence across a stream of
// PCM chunks. It is the energy-based gate that decides when a voice capture
// is complete: leading silence is ignored, and once speech has been heard the
// detector reports done after a configured run of trailing silence.
//
// SilenceDetector is not safe for concurrent use; it is owned by the single
// goroutine that drives the capture device.
type SilenceDetector struct {
	threshold  float64
	trailing   time.Duration
	hadSpeech  bool
	silenceFor time.Duration
}

// NewSilenceDetector creates a detector. threshold ≤ 0 selects
// [DefaultSpeechThreshold].
func NewSilenceDetector(threshold float64, trailingSilence time.Duration) *SilenceDetector {
	if threshold <= 0 {
		threshold = DefaultSpeechThreshold
	}
	return &SilenceDetector{threshold: threshold, trailing: trailingSilence}
}

// Feed analyses one chunk spanning dur of audio and reports whether capture
// should stop (speech was heard and has been followed by at least the
// configured trailing silence).
func (d *SilenceDetector) Feed(chunk []byte, dur time.Duration) (done bool) {
	if RMS(chunk) >= d.threshold {
		d.hadSpeech = true
		d.silenceFor = 0
		return false
	}
	if !d.hadSpeech {
		// Leading silence before any speech does not count down.
		return false
	}
	d.silenceFor += dur
	return d.silenceFor >= d.trailing
}

// HadSpeech reports whether any chunk so far exceeded the speech threshold.
func (d *SilenceDetector) HadSpeech() bool { return d.hadSpeech }

// Reset clears all accumulated state so the detector can gate a new capture.
func (d *SilenceDetector) Reset() {
	d.hadSpeech = false
	d.silenceFor = 0
}
