package render_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/weldaudio/weld/internal/audio"
	"github.com/weldaudio/weld/internal/render"
	"github.com/weldaudio/weld/internal/segment"
	"github.com/weldaudio/weld/internal/stitch"
)

func putTone(t *testing.T, store segment.Store, rate, seconds int, amp int16) segment.Segment {
	t.Helper()
	samples := make([]int16, rate*seconds)
	for i := range samples {
		samples[i] = amp
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

func putShaped(t *testing.T, store segment.Store, rate, seconds int, amp int16, quietAt, quietLen int) segment.Segment {
	t.Helper()
	samples := make([]int16, rate*seconds)
	for i := range samples {
		samples[i] = amp
	}
	for i := quietAt; i >= 0 && i < quietAt+quietLen && i < len(samples); i++ {
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

func fixedPlan(t *testing.T, store segment.Store, overlap time.Duration, ids ...string) stitch.Plan {
	t.Helper()
	pol := stitch.DefaultPolicy()
	pol.Auto = false
	pol.Overlap = overlap
	pol.Curve = audio.CurveEqualPower
	plan, err := stitch.PlanSequence(context.Background(), store, ids, pol)
	if err != nil {
		t.Fatalf("PlanSequence: %v", err)
	}
	return plan
}

// Two 15s mono 48kHz segments with a 2s equal-power crossfade: 28s of
// output with the join boundary 13s in.
func TestRenderStitchScenario(t *testing.T) {
	store := segment.NewMemStore()
	a := putTone(t, store, 48000, 15, 1000)
	b := putTone(t, store, 48000, 15, 2000)
	plan := fixedPlan(t, store, 2*time.Second, a.ID, b.ID)

	r := render.New(store, 2, nil)
	track, err := r.Render(context.Background(), plan, plan.Format)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if got, want := track.Clip.Frames(), 28*48000; got != want {
		t.Errorf("rendered frames = %d, want %d (len(A)+len(B)-overlap)", got, want)
	}
	if track.Clip.Duration() != 28*time.Second {
		t.Errorf("duration = %v, want 28s", track.Clip.Duration())
	}
	if len(track.Boundaries) != 1 || track.Boundaries[0] != 13*48000 {
		t.Errorf("boundaries = %v, want [%d]", track.Boundaries, 13*48000)
	}
}

func TestRenderLengthProperty(t *testing.T) {
	store := segment.NewMemStore()
	rate := 8000
	a := putTone(t, store, rate, 6, 1000)
	b := putTone(t, store, rate, 4, 1000)
	c := putTone(t, store, rate, 8, 1000)

	for _, overlapSec := range []int{0, 1, 2} {
		plan := fixedPlan(t, store, time.Duration(overlapSec)*time.Second, a.ID, b.ID, c.ID)
		r := render.New(store, 1, nil)
		track, err := r.Render(context.Background(), plan, plan.Format)
		if err != nil {
			t.Fatalf("Render overlap=%ds: %v", overlapSec, err)
		}
		want := (6 + 4 + 8 - 2*overlapSec) * rate
		if got := track.Clip.Frames(); got != want {
			t.Errorf("overlap=%ds: frames = %d, want %d", overlapSec, got, want)
		}
	}
}

// An auto-planned multi-join sequence must always render: the planner may
// move splice anchors around inside the shared middle segment, but never
// in a way the composition walk rejects.
func TestRenderAutoPlannedSequence(t *testing.T) {
	store := segment.NewMemStore()
	rate := 8000
	a := putShaped(t, store, rate, 10, 8000, -1, 0)
	// A quiet patch early in the middle segment pulls the first join's
	// right anchor deep into it.
	b := putShaped(t, store, rate, 10, 8000, 4*rate, rate/4)
	c := putShaped(t, store, rate, 10, 8000, -1, 0)

	pol := stitch.DefaultPolicy()
	pol.Overlap = time.Second
	plan, err := stitch.PlanSequence(context.Background(), store, []string{a.ID, b.ID, c.ID}, pol)
	if err != nil {
		t.Fatalf("PlanSequence: %v", err)
	}

	r := render.New(store, 1, nil)
	track, err := r.Render(context.Background(), plan, plan.Format)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	// Composed length follows directly from the join anchors.
	cursor, want := 0, 0
	for _, j := range plan.Joins {
		want += j.LeftOffset - cursor + j.Overlap
		cursor = j.RightOffset + j.Overlap
	}
	want += 10*rate - cursor
	if got := track.Clip.Frames(); got != want {
		t.Errorf("frames = %d, want %d", got, want)
	}
	for i := 1; i < len(track.Boundaries); i++ {
		if track.Boundaries[i] <= track.Boundaries[i-1] {
			t.Errorf("boundaries not increasing: %v", track.Boundaries)
		}
	}
}

func TestRenderBoundaryScaledToTargetRate(t *testing.T) {
	store := segment.NewMemStore()
	a := putTone(t, store, 8000, 3, 1000)
	b := putTone(t, store, 8000, 3, 2000)
	plan := fixedPlan(t, store, 500*time.Millisecond, a.ID, b.ID)

	r := render.New(store, 1, nil)
	target := audio.Format{SampleRate: 11025, Channels: 1}
	track, err := r.Render(context.Background(), plan, target)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	// Boundary at frame 20000 of 8kHz maps to 27562.5 at 11.025kHz and
	// rounds to the nearest frame.
	if len(track.Boundaries) != 1 || track.Boundaries[0] != 27563 {
		t.Errorf("boundaries = %v, want [27563]", track.Boundaries)
	}
}

func TestRenderIdempotent(t *testing.T) {
	store := segment.NewMemStore()
	a := putTone(t, store, 8000, 4, 3000)
	b := putTone(t, store, 8000, 4, -2000)
	plan := fixedPlan(t, store, time.Second, a.ID, b.ID)

	r := render.New(store, 2, nil)
	first, err := r.Render(context.Background(), plan, plan.Format)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	second, err := r.Render(context.Background(), plan, plan.Format)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if first.Hash != second.Hash {
		t.Errorf("hashes differ across identical renders: %x vs %x", first.Hash, second.Hash)
	}
}

func TestRenderJoinCache(t *testing.T) {
	store := segment.NewMemStore()
	a := putTone(t, store, 8000, 4, 3000)
	b := putTone(t, store, 8000, 4, -2000)
	plan := fixedPlan(t, store, time.Second, a.ID, b.ID)

	r := render.New(store, 1, nil)
	if _, err := r.Render(context.Background(), plan, plan.Format); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if r.CacheLen() != 1 {
		t.Fatalf("cache holds %d entries, want 1", r.CacheLen())
	}

	// Evicting an input segment must drop the cached join buffer.
	if err := store.Evict(context.Background(), a.ID); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if r.CacheLen() != 0 {
		t.Errorf("cache holds %d entries after evict, want 0", r.CacheLen())
	}
}

func TestRenderZeroOverlapConcatenation(t *testing.T) {
	store := segment.NewMemStore()
	a := putTone(t, store, 8000, 2, 1111)
	b := putTone(t, store, 8000, 2, 2222)
	plan := fixedPlan(t, store, 0, a.ID, b.ID)

	r := render.New(store, 1, nil)
	track, err := r.Render(context.Background(), plan, plan.Format)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got := track.Clip.Frames(); got != 4*8000 {
		t.Errorf("frames = %d, want %d", got, 4*8000)
	}
	// Butt splice: last left sample then first right sample, unblended.
	if track.Clip.Samples[2*8000-1] != 1111 || track.Clip.Samples[2*8000] != 2222 {
		t.Errorf("splice samples = %d, %d, want 1111, 2222",
			track.Clip.Samples[2*8000-1], track.Clip.Samples[2*8000])
	}
	if r.CacheLen() != 0 {
		t.Errorf("zero-overlap join cached a buffer")
	}
}

func TestRenderSingleSegment(t *testing.T) {
	store := segment.NewMemStore()
	a := putTone(t, store, 8000, 3, 500)
	plan, err := stitch.PlanSequence(context.Background(), store, []string{a.ID}, stitch.DefaultPolicy())
	if err != nil {
		t.Fatalf("PlanSequence: %v", err)
	}
	r := render.New(store, 1, nil)
	track, err := r.Render(context.Background(), plan, plan.Format)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got := track.Clip.Frames(); got != 3*8000 {
		t.Errorf("frames = %d, want %d", got, 3*8000)
	}
	if len(track.Boundaries) != 0 {
		t.Errorf("boundaries = %v, want none", track.Boundaries)
	}
}

func TestRenderAbortsOnMissingSegment(t *testing.T) {
	store := segment.NewMemStore()
	a := putTone(t, store, 8000, 4, 1000)
	b := putTone(t, store, 8000, 4, 1000)
	plan := fixedPlan(t, store, time.Second, a.ID, b.ID)

	// Evict after planning: the render must fail whole, no partial track.
	if err := store.Evict(context.Background(), b.ID); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	r := render.New(store, 1, nil)
	_, err := r.Render(context.Background(), plan, plan.Format)
	if !errors.Is(err, segment.ErrSegmentNotFound) {
		t.Errorf("error = %v, want ErrSegmentNotFound", err)
	}
}

func TestRenderCancellation(t *testing.T) {
	store := segment.NewMemStore()
	a := putTone(t, store, 8000, 4, 1000)
	b := putTone(t, store, 8000, 4, 1000)
	plan := fixedPlan(t, store, time.Second, a.ID, b.ID)

	r := render.New(store, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Render(ctx, plan, plan.Format); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled render error = %v, want context.Canceled", err)
	}
}

func TestRenderJobWait(t *testing.T) {
	store := segment.NewMemStore()
	a := putTone(t, store, 8000, 4, 1000)
	b := putTone(t, store, 8000, 4, 1000)
	plan := fixedPlan(t, store, time.Second, a.ID, b.ID)

	r := render.New(store, 2, nil)
	job := r.Start(context.Background(), plan, plan.Format)
	track, err := job.Wait()
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if got := track.Clip.Frames(); got != 7*8000 {
		t.Errorf("frames = %d, want %d", got, 7*8000)
	}
	if _, _, ok := job.Result(); !ok {
		t.Error("Result should report completion after Wait")
	}
}

// blockingStore stalls Get until released, keeping a render (and its
// worker slot) in flight for as long as the test needs.
type blockingStore struct {
	segment.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) Get(ctx context.Context, id string) (segment.Segment, error) {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return segment.Segment{}, ctx.Err()
	}
	return s.Store.Get(ctx, id)
}

func TestRenderJobCancelWhilePending(t *testing.T) {
	mem := segment.NewMemStore()
	a := putTone(t, mem, 8000, 4, 1000)
	b := putTone(t, mem, 8000, 4, 1000)
	plan := fixedPlan(t, mem, time.Second, a.ID, b.ID)

	store := &blockingStore{
		Store:   mem,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	r := render.New(store, 1, nil)

	// Occupy the single worker slot, then cancel a second job while it
	// waits for the slot.
	first := r.Start(context.Background(), plan, plan.Format)
	<-store.entered

	second := r.Start(context.Background(), plan, plan.Format)
	second.Cancel()
	if _, err := second.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("pending job error = %v, want context.Canceled", err)
	}

	close(store.release)
	if _, err := first.Wait(); err != nil {
		t.Errorf("held job failed: %v", err)
	}
}
