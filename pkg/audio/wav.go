package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the size of the canonical RIFF/WAVE header produced by
// EncodeWAV (PCM, single fmt chunk).
const wavHeaderSize = 44

// WAVInfo holds the format metadata extracted from a RIFF/WAVE container.
type WAVInfo struct {
	DataOffset int // byte offset of the first PCM sample
	DataLen    int // length of the data chunk in bytes
	SampleRate int // samples per second
	Channels   int // 1 = mono, 2 = stereo
}

// ParseWAV scans the RIFF/WAVE container in wav and returns the data chunk
// location and audio format from the "fmt " sub-chunk. Walking the chunks is
// more robust than assuming a fixed 44-byte offset because the fmt chunk size
// varies between encoders.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: data too short to be a RIFF file")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: missing RIFF/WAVE header")
	}

	var info WAVInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			info.DataLen = chunkSize
			if info.DataOffset+info.DataLen > len(wav) {
				info.DataLen = len(wav) - info.DataOffset
			}
			if !foundFmt {
				// fmt should precede data; fall back to speech defaults.
				info.SampleRate = 16000
				info.Channels = 1
			}
			return info, nil
		}

		// Chunks are word-aligned: pad by 1 if the size is odd.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: WAV data chunk not found")
}

// DecodeWAV returns the PCM payload of a WAV container as a Buffer.
func DecodeWAV(wav []byte) (Buffer, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return Buffer{}, err
	}
	return Buffer{
		PCM:        wav[info.DataOffset : info.DataOffset+info.DataLen],
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
	}, nil
}

// EncodeWAV wraps raw 16-bit little-endian PCM in a minimal RIFF/WAVE
// container suitable for upload to the speech-recognition collaborator.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// ConcatWAV joins several WAV clips into a single WAV clip, preserving the
// input order. Clips whose sample rate differs from the first clip are
// resampled (mono only); a channel-count mismatch is an error. Used to stitch
// per-language synthesis segments back into one utterance.
func ConcatWAV(clips []Clip) (Clip, error) {
	if len(clips) == 0 {
		return Clip{}, errors.New("audio: no clips to concatenate")
	}
	if len(clips) == 1 {
		return clips[0], nil
	}

	first, err := DecodeWAV(clips[0].Data)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: concat clip 0: %w", err)
	}
	pcm := append([]byte(nil), first.PCM...)

	for i, c := range clips[1:] {
		buf, err := DecodeWAV(c.Data)
		if err != nil {
			return Clip{}, fmt.Errorf("audio: concat clip %d: %w", i+1, err)
		}
		if buf.Channels != first.Channels {
			return Clip{}, fmt.Errorf("audio: concat clip %d: channel count %d does not match %d", i+1, buf.Channels, first.Channels)
		}
		chunk := buf.PCM
		if buf.SampleRate != first.SampleRate {
			if first.Channels != 1 {
				return Clip{}, fmt.Errorf("audio: concat clip %d: cannot resample %d-channel audio", i+1, first.Channels)
			}
			chunk = ResampleMono16(chunk, buf.SampleRate, first.SampleRate)
		}
		pcm = append(pcm, chunk...)
	}

	return Clip{
		Data:   EncodeWAV(pcm, first.SampleRate, first.Channels),
		Format: "wav",
	}, nil
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
