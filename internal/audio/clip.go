package audio

import (
	"encoding/binary"
	"time"
)

// Clip is a run of PCM audio in a single format. Samples are interleaved
// int16. Clips handed to the segment store are treated as immutable; every
// operation in this package returns a fresh clip rather than editing in
// place.
type Clip struct {
	Format  Format
	Samples []int16
}

// Frames returns the number of sample frames (samples per channel).
func (c Clip) Frames() int {
	if c.Format.Channels == 0 {
		return 0
	}
	return len(c.Samples) / c.Format.Channels
}

// Duration returns the play time of the clip.
func (c Clip) Duration() time.Duration {
	return c.Format.Duration(c.Frames())
}

// Slice returns a view of the clip covering [from, to) in frames.
// The underlying samples are shared, not copied.
func (c Clip) Slice(from, to int) Clip {
	n := c.Format.Channels
	return Clip{Format: c.Format, Samples: c.Samples[from*n : to*n]}
}

// Bytes converts the samples to little-endian bytes.
func (c Clip) Bytes() []byte {
	buf := make([]byte, len(c.Samples)*2)
	for i, s := range c.Samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// ClipFromBytes interprets little-endian int16 bytes as a clip in the given
// format. A trailing odd byte is dropped.
func ClipFromBytes(f Format, data []byte) Clip {
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return Clip{Format: f, Samples: samples}
}

// clampSample clips a mixed value to the int16 range.
func clampSample(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
