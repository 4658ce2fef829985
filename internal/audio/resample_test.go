package audio

import (
	"testing"
)

func TestConvertNoop(t *testing.T) {
	c := monoClip(1, 2, 3)
	got, err := Convert(c, c.Format)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if &got.Samples[0] != &c.Samples[0] {
		t.Error("same-format Convert should return the clip unchanged")
	}
}

func TestConvertMonoToStereo(t *testing.T) {
	c := monoClip(100, -200, 300)
	got, err := Convert(c, Format{SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := []int16{100, 100, -200, -200, 300, 300}
	if len(got.Samples) != len(want) {
		t.Fatalf("sample count = %d, want %d", len(got.Samples), len(want))
	}
	for i, v := range want {
		if got.Samples[i] != v {
			t.Errorf("sample[%d] = %d, want %d", i, got.Samples[i], v)
		}
	}
}

func TestConvertStereoToMono(t *testing.T) {
	c := Clip{Format: Format{SampleRate: 48000, Channels: 2}, Samples: []int16{100, 300, -100, -300}}
	got, err := Convert(c, Format{SampleRate: 48000, Channels: 1})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := []int16{200, -200}
	for i, v := range want {
		if got.Samples[i] != v {
			t.Errorf("sample[%d] = %d, want %d", i, got.Samples[i], v)
		}
	}
}

func TestConvertUpsample(t *testing.T) {
	// One second of silence at 44.1kHz should come back as roughly one
	// second at 48kHz. The resampler may trim edge frames, so allow slack.
	c := Clip{Format: Format{SampleRate: 44100, Channels: 1}, Samples: make([]int16, 44100)}
	got, err := Convert(c, Format{SampleRate: 48000, Channels: 1})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got.Format.SampleRate != 48000 {
		t.Errorf("rate = %d, want 48000", got.Format.SampleRate)
	}
	frames := got.Frames()
	if frames < 47000 || frames > 49000 {
		t.Errorf("upsampled frames = %d, want ~48000", frames)
	}
}

func TestConvertRejectsBadTarget(t *testing.T) {
	c := monoClip(1, 2)
	if _, err := Convert(c, Format{SampleRate: 0, Channels: 1}); err == nil {
		t.Error("Convert to zero-rate format should fail")
	}
	if _, err := Convert(c, Format{SampleRate: 48000, Channels: 5}); err == nil {
		t.Error("Convert to 5-channel format should fail")
	}
}
