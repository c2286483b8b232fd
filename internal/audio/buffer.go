package audio

import (
	"encoding/binary"
	"math"
)

// FrameBuffer accumulates raw PCM16LE mono audio as it arrives from the
// transport. Chunks may carry any number of bytes; sample alignment is
// handled internally so callers never need to pad or split frames.
type FrameBuffer struct {
	data       []byte
	sampleRate int
}

func NewFrameBuffer(sampleRate int) *FrameBuffer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &FrameBuffer{sampleRate: sampleRate}
}

// Push appends a chunk of PCM16LE bytes.
func (b *FrameBuffer) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.data = append(b.data, chunk...)
}

// Len reports the buffered byte count.
func (b *FrameBuffer) Len() int { return len(b.data) }

// DurationMS reports the buffered audio duration in milliseconds.
func (b *FrameBuffer) DurationMS() int64 {
	samples := len(b.data) / 2
	return int64(samples) * 1000 / int64(b.sampleRate)
}

// SampleRate returns the buffer's PCM sample rate in Hz.
func (b *FrameBuffer) SampleRate() int { return b.sampleRate }

// Energy returns the RMS energy over the most recent window samples.
// A window larger than the buffered audio uses everything available.
func (b *FrameBuffer) Energy(window int) float64 {
	usable := b.data[:len(b.data)&^1]
	if window > 0 && len(usable) > window*2 {
		usable = usable[len(usable)-window*2:]
	}
	return RMSEnergy(usable)
}

// Drain returns the buffered bytes and resets the buffer.
func (b *FrameBuffer) Drain() []byte {
	out := b.data
	b.data = nil
	return out
}

// RMSEnergy computes root-mean-square energy of PCM16LE samples on the
// 16-bit scale (0..32767). A trailing odd byte is ignored.
func RMSEnergy(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
