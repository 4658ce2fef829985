// Package render composes a planned stitch into one contiguous track.
// Rendering is a pure function of the plan: identical inputs always
// produce the identical content hash.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/semaphore"

	"github.com/weldaudio/weld/internal/audio"
	"github.com/weldaudio/weld/internal/segment"
	"github.com/weldaudio/weld/internal/stitch"
)

// ErrRenderFailure wraps I/O and resource errors raised mid-composition.
var ErrRenderFailure = errors.New("render: composition failed")

// Track is the output artifact of one render call.
type Track struct {
	Clip audio.Clip

	// Hash is the xxhash64 of the final sample bytes; unchanged sessions
	// re-render to the identical hash.
	Hash uint64

	// Boundaries holds the frame offset where each join's overlap starts
	// in the composed buffer, for downstream inspection. When the track
	// is converted to a different target rate the offsets are rounded to
	// the nearest frame of the new rate.
	Boundaries []int
}

// cacheKey identifies a blended join buffer by its inputs and parameters.
type cacheKey struct {
	leftID  string
	rightID string
	params  uint64
}

// Renderer executes plans against a segment store. Blended join buffers
// are cached in an arena keyed by (segment ids, parameter digest) and
// dropped when either input segment is evicted. A bounded semaphore keeps
// concurrent renders from starving each other.
type Renderer struct {
	store segment.Store
	sem   *semaphore.Weighted
	log   *slog.Logger

	mu    sync.Mutex
	cache map[cacheKey]audio.Clip
}

// New creates a renderer over the store with the given worker bound.
// The renderer registers an eviction hook so cached join buffers never
// outlive their input segments.
func New(store segment.Store, workers int, logger *slog.Logger) *Renderer {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Renderer{
		store: store,
		sem:   semaphore.NewWeighted(int64(workers)),
		log:   logger,
		cache: make(map[cacheKey]audio.Clip),
	}
	store.OnEvict(r.dropSegment)
	return r
}

// dropSegment purges cached join buffers referencing an evicted segment.
func (r *Renderer) dropSegment(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.cache {
		if k.leftID == id || k.rightID == id {
			delete(r.cache, k)
		}
	}
}

// CacheLen reports the number of cached join buffers.
func (r *Renderer) CacheLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// Render composes the plan into a single track in the target format. It
// blocks for a worker slot, honors ctx cancellation between joins, and on
// any failure discards all partial output and surfaces the originating
// error.
func (r *Renderer) Render(ctx context.Context, plan stitch.Plan, target audio.Format) (Track, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return Track{}, err
	}
	defer r.sem.Release(1)
	return r.compose(ctx, plan, target)
}

func (r *Renderer) compose(ctx context.Context, plan stitch.Plan, target audio.Format) (Track, error) {
	if len(plan.SegmentIDs) == 0 {
		return Track{}, fmt.Errorf("%w: empty plan", audio.ErrValidation)
	}
	if !target.Valid() {
		return Track{}, fmt.Errorf("%w: target format %v", audio.ErrValidation, target)
	}

	// Fetch and convert the working set. Converted buffers are transient;
	// they are dropped as soon as composition finishes.
	clips := make([]audio.Clip, len(plan.SegmentIDs))
	for i, id := range plan.SegmentIDs {
		seg, err := r.store.Get(ctx, id)
		if err != nil {
			return Track{}, err
		}
		c, err := audio.Convert(seg.Clip, plan.Format)
		if err != nil {
			return Track{}, fmt.Errorf("%w: convert %s: %w", ErrRenderFailure, id, err)
		}
		clips[i] = c
	}

	ch := plan.Format.Channels
	var out []int16
	boundaries := make([]int, 0, len(plan.Joins))

	// Walk left to right: non-overlapping prefix, blended overlap, then
	// the next segment's remainder becomes the new prefix source.
	cursor := 0 // start frame within clips[i] still to be emitted
	for i, join := range plan.Joins {
		if err := ctx.Err(); err != nil {
			return Track{}, err
		}
		left := clips[i]
		if join.LeftOffset < cursor || join.LeftOffset > left.Frames() {
			return Track{}, fmt.Errorf("%w: join %d offset %d outside segment (cursor %d, frames %d)",
				audio.ErrValidation, i, join.LeftOffset, cursor, left.Frames())
		}

		out = append(out, left.Samples[cursor*ch:join.LeftOffset*ch]...)
		boundaries = append(boundaries, len(out)/ch)

		if join.Overlap > 0 {
			blended, err := r.blend(left, clips[i+1], join)
			if err != nil {
				return Track{}, err
			}
			out = append(out, blended.Samples...)
			cursor = join.RightOffset + join.Overlap
		} else {
			cursor = join.RightOffset
		}
	}
	last := clips[len(clips)-1]
	out = append(out, last.Samples[cursor*ch:]...)
	clips = nil

	final := audio.Clip{Format: plan.Format, Samples: out}
	if plan.Format != target {
		scale := float64(target.SampleRate) / float64(plan.Format.SampleRate)
		converted, err := audio.Convert(final, target)
		if err != nil {
			return Track{}, fmt.Errorf("%w: normalize to %v: %w", ErrRenderFailure, target, err)
		}
		final = converted
		for i := range boundaries {
			boundaries[i] = int(math.Round(float64(boundaries[i]) * scale))
		}
	}

	track := Track{Clip: final, Hash: xxhash.Sum64(final.Bytes()), Boundaries: boundaries}
	r.log.Debug("render complete",
		"segments", len(plan.SegmentIDs),
		"frames", final.Frames(),
		"hash", fmt.Sprintf("%016x", track.Hash))
	return track, nil
}

// blend returns the cached join buffer or computes and caches it.
func (r *Renderer) blend(left, right audio.Clip, join stitch.JoinSpec) (audio.Clip, error) {
	key := cacheKey{leftID: join.LeftID, rightID: join.RightID, params: join.ParamsDigest()}
	r.mu.Lock()
	if c, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	c, err := audio.Blend(left, join.LeftOffset, right, join.RightOffset, join.Overlap, join.Curve)
	if err != nil {
		return audio.Clip{}, err
	}
	r.mu.Lock()
	r.cache[key] = c
	r.mu.Unlock()
	return c, nil
}
