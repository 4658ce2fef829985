package audio

import (
	"fmt"
	"time"
)

// BitDepth is the sample depth used throughout: 16-bit signed little-endian.
const BitDepth = 16

// Format describes an uncompressed PCM layout. Samples are always int16,
// interleaved when Channels > 1.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the render target unless configured otherwise.
var DefaultFormat = Format{SampleRate: 48000, Channels: 2}

// Valid reports whether the format describes playable PCM.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && (f.Channels == 1 || f.Channels == 2)
}

// FramesInDuration returns the number of sample frames covering d.
func (f Format) FramesInDuration(d time.Duration) int {
	return int(time.Duration(f.SampleRate) * d / time.Second)
}

// Duration returns the play time of the given number of frames.
func (f Format) Duration(frames int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// BytesPerFrame returns the byte size of one frame across all channels.
func (f Format) BytesPerFrame() int {
	return f.Channels * BitDepth / 8
}

func (f Format) String() string {
	return fmt.Sprintf("audio/L16; rate=%d; channels=%d", f.SampleRate, f.Channels)
}
