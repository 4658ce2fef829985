package stitch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/weldaudio/weld/internal/audio"
	"github.com/weldaudio/weld/internal/segment"
	"github.com/weldaudio/weld/internal/stitch"
)

// toneSegment builds a mono segment of constant amplitude with a quiet
// patch, so the energy search has something to find.
func toneSegment(t *testing.T, store segment.Store, rate int, seconds int, amp int16, quietAt, quietLen int) segment.Segment {
	t.Helper()
	samples := make([]int16, rate*seconds)
	for i := range samples {
		samples[i] = amp
	}
	for i := quietAt; i < quietAt+quietLen && i < len(samples); i++ {
		samples[i] = 0
	}
	seg := segment.New(audio.Clip{
		Format:  audio.Format{SampleRate: rate, Channels: 1},
		Samples: samples,
	}, segment.Meta{})
	if _, err := store.Put(context.Background(), seg); err != nil {
		t.Fatalf("Put: %v", err)
	}
	return seg
}

func fixedPolicy(overlap time.Duration) stitch.Policy {
	p := stitch.DefaultPolicy()
	p.Auto = false
	p.Overlap = overlap
	return p
}

func TestPlanFixedOverlap(t *testing.T) {
	store := segment.NewMemStore()
	a := toneSegment(t, store, 48000, 15, 1000, -1, 0)
	b := toneSegment(t, store, 48000, 15, 1000, -1, 0)

	plan, err := stitch.PlanSequence(context.Background(), store,
		[]string{a.ID, b.ID}, fixedPolicy(2*time.Second))
	if err != nil {
		t.Fatalf("PlanSequence: %v", err)
	}
	if len(plan.Joins) != 1 {
		t.Fatalf("joins = %d, want 1", len(plan.Joins))
	}
	j := plan.Joins[0]
	if j.Overlap != 2*48000 {
		t.Errorf("overlap = %d frames, want %d", j.Overlap, 2*48000)
	}
	if j.LeftOffset != 13*48000 {
		t.Errorf("left offset = %d, want %d", j.LeftOffset, 13*48000)
	}
	if j.RightOffset != 0 {
		t.Errorf("right offset = %d, want 0", j.RightOffset)
	}
}

func TestPlanOverlapInvariant(t *testing.T) {
	store := segment.NewMemStore()
	a := toneSegment(t, store, 48000, 4, 1000, -1, 0)
	b := toneSegment(t, store, 48000, 4, 1000, -1, 0)

	// Overlap equal to the full shorter segment violates the half-length
	// bound and must be rejected outright.
	_, err := stitch.PlanSequence(context.Background(), store,
		[]string{a.ID, b.ID}, fixedPolicy(4*time.Second))
	if !errors.Is(err, audio.ErrInvalidOverlap) {
		t.Errorf("full-length overlap error = %v, want ErrInvalidOverlap", err)
	}

	// Exactly half is the boundary of the allowed range.
	if _, err := stitch.PlanSequence(context.Background(), store,
		[]string{a.ID, b.ID}, fixedPolicy(2*time.Second)); err != nil {
		t.Errorf("half-length overlap should plan, got %v", err)
	}
}

func TestPlanZeroOverlapConcatenates(t *testing.T) {
	store := segment.NewMemStore()
	a := toneSegment(t, store, 48000, 2, 1000, -1, 0)
	b := toneSegment(t, store, 48000, 2, 1000, -1, 0)

	plan, err := stitch.PlanSequence(context.Background(), store,
		[]string{a.ID, b.ID}, fixedPolicy(0))
	if err != nil {
		t.Fatalf("PlanSequence: %v", err)
	}
	j := plan.Joins[0]
	if j.Overlap != 0 {
		t.Errorf("overlap = %d, want 0", j.Overlap)
	}
	if j.LeftOffset != 2*48000 {
		t.Errorf("left offset = %d, want full left length", j.LeftOffset)
	}
}

func TestPlanStrictFormatMismatch(t *testing.T) {
	store := segment.NewMemStore()
	a := toneSegment(t, store, 44100, 4, 1000, -1, 0)
	b := toneSegment(t, store, 48000, 4, 1000, -1, 0)

	strict := fixedPolicy(time.Second)
	strict.Strict = true
	_, err := stitch.PlanSequence(context.Background(), store, []string{a.ID, b.ID}, strict)
	if !errors.Is(err, stitch.ErrIncompatibleSegments) {
		t.Errorf("strict mismatch error = %v, want ErrIncompatibleSegments", err)
	}

	// Default policy up-converts the 44.1kHz side to 48kHz.
	plan, err := stitch.PlanSequence(context.Background(), store,
		[]string{a.ID, b.ID}, fixedPolicy(time.Second))
	if err != nil {
		t.Fatalf("default policy plan: %v", err)
	}
	if plan.Format.SampleRate != 48000 {
		t.Errorf("plan rate = %d, want 48000 (never downsample)", plan.Format.SampleRate)
	}
}

func TestPlanAutoFindsQuietSplice(t *testing.T) {
	store := segment.NewMemStore()
	rate := 8000 // small rate keeps the test fast
	// Quiet patch 1.5s before the end of the left segment, inside the
	// search window.
	quietAt := 10*rate - rate*3/2
	a := toneSegment(t, store, rate, 10, 8000, quietAt, rate/4)
	b := toneSegment(t, store, rate, 10, 8000, -1, 0)

	pol := stitch.DefaultPolicy()
	pol.Overlap = 1 * time.Second
	pol.SearchWindow = 3 * time.Second

	plan, err := stitch.PlanSequence(context.Background(), store, []string{a.ID, b.ID}, pol)
	if err != nil {
		t.Fatalf("PlanSequence: %v", err)
	}
	j := plan.Joins[0]
	// The anchor should land in or near the quiet patch rather than at
	// the loud default tail position.
	if j.LeftOffset < quietAt-rate/10 || j.LeftOffset > quietAt+rate/4 {
		t.Errorf("left anchor %d not in quiet region [%d, %d]", j.LeftOffset, quietAt, quietAt+rate/4)
	}
}

func TestPlanAutoDeterministic(t *testing.T) {
	store := segment.NewMemStore()
	rate := 8000
	a := toneSegment(t, store, rate, 6, 5000, -1, 0)
	b := toneSegment(t, store, rate, 6, 5000, -1, 0)

	pol := stitch.DefaultPolicy()
	pol.Overlap = time.Second

	first, err := stitch.PlanSequence(context.Background(), store, []string{a.ID, b.ID}, pol)
	if err != nil {
		t.Fatalf("PlanSequence: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := stitch.PlanSequence(context.Background(), store, []string{a.ID, b.ID}, pol)
		if err != nil {
			t.Fatalf("PlanSequence: %v", err)
		}
		if again.Joins[0] != first.Joins[0] {
			t.Fatalf("plan changed between runs: %+v vs %+v", again.Joins[0], first.Joins[0])
		}
	}
	// Uniform energy everywhere: the tie-break should settle at the
	// window center, not an edge.
	window := pol.SearchWindow
	aMax := 6*rate - first.Joins[0].Overlap
	aMin := aMax - int(window.Seconds()*float64(rate))
	if aMin < 0 {
		aMin = 0
	}
	center := (aMin + aMax) / 2
	got := first.Joins[0].LeftOffset
	if got < center-rate/50 || got > center+rate/50 {
		t.Errorf("uniform-energy anchor = %d, want near window center %d", got, center)
	}
}

// A segment in the middle of a sequence is the right side of one join and
// the left side of the next. The second join must never reach back across
// the material the first join already consumed, even when the quietest
// region sits inside it.
func TestPlanAutoAdjacentJoinsShareSegment(t *testing.T) {
	store := segment.NewMemStore()
	rate := 8000
	a := toneSegment(t, store, rate, 10, 8000, -1, 0)
	// Quiet patch at 4s: the first join's right anchor lands here, so the
	// cursor into this segment ends up deep past its head.
	b := toneSegment(t, store, rate, 10, 8000, 4*rate, rate/4)
	c := toneSegment(t, store, rate, 10, 8000, -1, 0)

	pol := stitch.DefaultPolicy()
	pol.Overlap = time.Second

	plan, err := stitch.PlanSequence(context.Background(), store, []string{a.ID, b.ID, c.ID}, pol)
	if err != nil {
		t.Fatalf("PlanSequence: %v", err)
	}
	if len(plan.Joins) != 2 {
		t.Fatalf("joins = %d, want 2", len(plan.Joins))
	}
	j0, j1 := plan.Joins[0], plan.Joins[1]
	cursor := j0.RightOffset + j0.Overlap
	if j1.LeftOffset < cursor {
		t.Errorf("join 1 anchor %d reaches into frames join 0 consumed (cursor %d)", j1.LeftOffset, cursor)
	}
}

func TestPlanAutoNoRoom(t *testing.T) {
	store := segment.NewMemStore()
	// A one-frame segment leaves no legal overlap at all.
	short := segment.New(audio.Clip{
		Format:  audio.Format{SampleRate: 48000, Channels: 1},
		Samples: []int16{5},
	}, segment.Meta{})
	if _, err := store.Put(context.Background(), short); err != nil {
		t.Fatalf("Put: %v", err)
	}
	long := toneSegment(t, store, 48000, 4, 1000, -1, 0)

	pol := stitch.DefaultPolicy()
	_, err := stitch.PlanSequence(context.Background(), store, []string{short.ID, long.ID}, pol)
	if !errors.Is(err, stitch.ErrNoViableSplice) {
		t.Errorf("error = %v, want ErrNoViableSplice", err)
	}

	// Fallback widens the window but cannot conjure room either; the
	// original error must surface unchanged.
	_, err = stitch.PlanWithFallback(context.Background(), store, []string{short.ID, long.ID}, pol)
	if !errors.Is(err, stitch.ErrNoViableSplice) {
		t.Errorf("fallback error = %v, want ErrNoViableSplice", err)
	}
}

func TestPlanMissingSegment(t *testing.T) {
	store := segment.NewMemStore()
	a := toneSegment(t, store, 48000, 2, 1000, -1, 0)
	_, err := stitch.PlanSequence(context.Background(), store,
		[]string{a.ID, "missing"}, stitch.DefaultPolicy())
	if !errors.Is(err, segment.ErrSegmentNotFound) {
		t.Errorf("error = %v, want ErrSegmentNotFound", err)
	}
}

func TestParamsDigest(t *testing.T) {
	j := stitch.JoinSpec{LeftID: "a", RightID: "b", LeftOffset: 10, Overlap: 5}
	same := j
	if j.ParamsDigest() != same.ParamsDigest() {
		t.Error("equal specs must hash equal")
	}
	changed := j
	changed.Overlap = 6
	if j.ParamsDigest() == changed.ParamsDigest() {
		t.Error("changed overlap must change the digest")
	}
}
