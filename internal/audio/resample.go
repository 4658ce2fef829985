package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Convert returns a copy of the clip in dst. Channel layout changes by
// averaging (stereo to mono) or duplication (mono to stereo); sample rate
// changes go through the soxr-style resampler. A clip already in dst is
// returned unchanged.
func Convert(c Clip, dst Format) (Clip, error) {
	if !dst.Valid() {
		return Clip{}, fmt.Errorf("%w: target format %v", ErrValidation, dst)
	}
	if c.Format == dst {
		return c, nil
	}

	out := c
	if c.Format.Channels != dst.Channels {
		out = remix(out, dst.Channels)
	}
	if out.Format.SampleRate != dst.SampleRate {
		var err error
		out, err = resampleRate(out, dst.SampleRate)
		if err != nil {
			return Clip{}, err
		}
	}
	return out, nil
}

func remix(c Clip, channels int) Clip {
	frames := c.Frames()
	out := make([]int16, frames*channels)
	switch {
	case c.Format.Channels == 2 && channels == 1:
		for i := 0; i < frames; i++ {
			l := int32(c.Samples[i*2])
			r := int32(c.Samples[i*2+1])
			out[i] = int16((l + r) / 2)
		}
	case c.Format.Channels == 1 && channels == 2:
		for i := 0; i < frames; i++ {
			out[i*2] = c.Samples[i]
			out[i*2+1] = c.Samples[i]
		}
	default:
		copy(out, c.Samples)
	}
	return Clip{Format: Format{SampleRate: c.Format.SampleRate, Channels: channels}, Samples: out}
}

func resampleRate(c Clip, rate int) (Clip, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(c.Format.SampleRate),
		OutputRate: float64(rate),
		Channels:   c.Format.Channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return Clip{}, fmt.Errorf("create resampler: %w", err)
	}

	// Normalize to [-1, 1] float64, interleaved, as the resampler expects.
	input := make([]float64, len(c.Samples))
	for i, s := range c.Samples {
		input[i] = float64(s) / 32768.0
	}
	output, err := rs.Process(input)
	if err != nil {
		return Clip{}, fmt.Errorf("resample %d->%d: %w", c.Format.SampleRate, rate, err)
	}

	samples := make([]int16, len(output))
	for i, v := range output {
		samples[i] = clampSample(v * 32767.0)
	}
	// Keep whole frames only.
	ch := c.Format.Channels
	samples = samples[:len(samples)/ch*ch]

	return Clip{Format: Format{SampleRate: rate, Channels: ch}, Samples: samples}, nil
}
