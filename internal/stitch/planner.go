package stitch

import (
	"context"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/weldaudio/weld/internal/audio"
	"github.com/weldaudio/weld/internal/segment"
)

// Planner errors.
var (
	ErrIncompatibleSegments = errors.New("stitch: segment formats incompatible under policy")
	ErrNoViableSplice       = errors.New("stitch: no splice point satisfies the overlap bound")
)

// JoinSpec describes one planned transition. Offsets and overlap are in
// frames of the plan's common format. The blended buffer is computed (and
// cached) at render time, never here.
type JoinSpec struct {
	LeftID      string
	RightID     string
	LeftOffset  int
	RightOffset int
	Overlap     int
	Curve       audio.Curve
}

// ParamsDigest hashes the join parameters for cache keying. Two joins over
// the same segments with equal digests may share a blended buffer.
func (j JoinSpec) ParamsDigest() uint64 {
	h := xxhash.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%d|%d", j.LeftID, j.RightID, j.LeftOffset, j.RightOffset, j.Overlap, j.Curve)
	return h.Sum64()
}

// Plan is a fully ordered stitch: segment ids, the common working format,
// and one join per adjacent pair.
type Plan struct {
	Format     audio.Format
	SegmentIDs []string
	Joins      []JoinSpec
}

// energyHop is the scan step for the splice search, as a fraction of a
// second (10ms).
const energyHopDiv = 100

// PlanSequence plans joins for an ordered segment sequence under one
// policy applied to every pair. See PlanJoins for per-join policies.
func PlanSequence(ctx context.Context, store segment.Store, ids []string, pol Policy) (Plan, error) {
	policies := make([]Policy, 0, max(len(ids)-1, 0))
	for i := 1; i < len(ids); i++ {
		policies = append(policies, pol)
	}
	return PlanJoins(ctx, store, ids, policies)
}

// PlanJoins plans joins for an ordered segment sequence, one policy per
// adjacent pair (len(policies) == len(ids)-1).
func PlanJoins(ctx context.Context, store segment.Store, ids []string, policies []Policy) (Plan, error) {
	if len(ids) == 0 {
		return Plan{}, fmt.Errorf("%w: empty segment sequence", audio.ErrValidation)
	}
	if len(policies) != len(ids)-1 {
		return Plan{}, fmt.Errorf("%w: %d policies for %d joins", audio.ErrValidation, len(policies), len(ids)-1)
	}

	segs := make([]segment.Segment, len(ids))
	for i, id := range ids {
		seg, err := store.Get(ctx, id)
		if err != nil {
			return Plan{}, err
		}
		segs[i] = seg
	}

	common, err := resolveFormat(segs, policies)
	if err != nil {
		return Plan{}, err
	}

	// Convert once up front so offsets match the frame counts the render
	// pass will see after its own conversion.
	clips := make([]audio.Clip, len(segs))
	for i, seg := range segs {
		c, err := audio.Convert(seg.Clip, common)
		if err != nil {
			return Plan{}, fmt.Errorf("convert segment %s: %w", seg.ID, err)
		}
		clips[i] = c
	}

	joins := make([]JoinSpec, 0, len(policies))
	minLeft := 0 // frames of the shared segment already consumed by the previous join
	for i, pol := range policies {
		if err := ctx.Err(); err != nil {
			return Plan{}, err
		}
		j, err := planPair(common, segs[i].ID, clips[i], segs[i+1].ID, clips[i+1], pol, minLeft)
		if err != nil {
			return Plan{}, fmt.Errorf("join %d (%s -> %s): %w", i, segs[i].ID, segs[i+1].ID, err)
		}
		joins = append(joins, j)
		minLeft = j.RightOffset + j.Overlap
	}

	return Plan{Format: common, SegmentIDs: append([]string(nil), ids...), Joins: joins}, nil
}

// PlanWithFallback retries a failed automatic plan once with a doubled
// search window before surfacing the original error unchanged.
func PlanWithFallback(ctx context.Context, store segment.Store, ids []string, pol Policy) (Plan, error) {
	plan, err := PlanSequence(ctx, store, ids, pol)
	if err == nil || !errors.Is(err, ErrNoViableSplice) || !pol.Auto {
		return plan, err
	}
	wider := pol
	wider.SearchWindow *= 2
	if plan2, err2 := PlanSequence(ctx, store, ids, wider); err2 == nil {
		return plan2, nil
	}
	return Plan{}, err
}

// resolveFormat picks the common working format: the highest sample rate
// and widest channel layout present, so lower-rate and mono sides are
// raised rather than ever downsampling material.
func resolveFormat(segs []segment.Segment, policies []Policy) (audio.Format, error) {
	common := segs[0].Clip.Format
	for _, seg := range segs[1:] {
		f := seg.Clip.Format
		if f.SampleRate > common.SampleRate {
			common.SampleRate = f.SampleRate
		}
		if f.Channels > common.Channels {
			common.Channels = f.Channels
		}
	}
	for i, pol := range policies {
		if !pol.Strict {
			continue
		}
		if segs[i].Clip.Format != segs[i+1].Clip.Format {
			return audio.Format{}, fmt.Errorf("%w: %v vs %v",
				ErrIncompatibleSegments, segs[i].Clip.Format, segs[i+1].Clip.Format)
		}
	}
	return common, nil
}

// planPair plans one join. minLeft is the first frame of the left clip
// still available: the previous join's splice already consumed the left
// clip up to its right anchor plus overlap, and this join must not reach
// back across that point.
func planPair(f audio.Format, leftID string, left audio.Clip, rightID string, right audio.Clip, pol Policy, minLeft int) (JoinSpec, error) {
	if !pol.Curve.Valid() {
		return JoinSpec{}, fmt.Errorf("%w: curve selector %d", audio.ErrValidation, int(pol.Curve))
	}
	if pol.Overlap < 0 {
		return JoinSpec{}, fmt.Errorf("%w: negative overlap", audio.ErrValidation)
	}

	lf, rf := left.Frames(), right.Frames()
	want := f.FramesInDuration(pol.Overlap)

	j := JoinSpec{LeftID: leftID, RightID: rightID, Curve: pol.Curve}
	if want == 0 {
		// Plain concatenation.
		j.LeftOffset = lf
		return j, nil
	}

	// A join may consume at most half of the shorter segment so it never
	// eats into the material a neighbouring join needs.
	maxOverlap := min(lf, rf) / 2

	if !pol.Auto {
		if want > maxOverlap {
			return JoinSpec{}, fmt.Errorf("%w: %d frames exceeds half the shorter segment (%d)",
				audio.ErrInvalidOverlap, want, maxOverlap)
		}
		if lf-want < minLeft {
			return JoinSpec{}, fmt.Errorf("%w: previous join consumed the segment up to frame %d",
				audio.ErrInvalidOverlap, minLeft)
		}
		j.Overlap = want
		j.LeftOffset = lf - want
		return j, nil
	}

	overlap := min(want, maxOverlap)
	if overlap < 1 {
		return JoinSpec{}, fmt.Errorf("%w: shorter segment leaves no room (max %d frames)",
			ErrNoViableSplice, maxOverlap)
	}

	window := f.FramesInDuration(pol.SearchWindow)
	hop := max(f.SampleRate/energyHopDiv, 1)

	// Left anchor: scan backwards from the default tail position, never
	// past the material the previous join already consumed.
	aMax := lf - overlap
	aMin := max(max(0, aMax-window), minLeft)
	if aMax < aMin {
		return JoinSpec{}, fmt.Errorf("%w: previous join consumed the segment up to frame %d (anchor bound %d)",
			ErrNoViableSplice, minLeft, aMax)
	}
	j.LeftOffset = bestAnchor(left, aMin, aMax, overlap, hop, pol.EnergyTolerance)

	// Right anchor: scan forward from the head, keeping room for the
	// overlap itself.
	bMax := min(window, rf-overlap)
	j.RightOffset = bestAnchor(right, 0, bMax, overlap, hop, pol.EnergyTolerance)

	j.Overlap = overlap
	return j, nil
}

// bestAnchor scans candidate anchors in [lo, hi] and returns the one with
// the lowest short-window energy. Candidates within tolerance of the best
// tie-break toward the center of the range, which keeps the choice stable
// across runs.
func bestAnchor(c audio.Clip, lo, hi, overlap, hop int, tolerance float64) int {
	if hi <= lo {
		return lo
	}
	probe := min(overlap, c.Format.SampleRate/50) // 20ms probe window

	type candidate struct {
		anchor int
		energy float64
	}
	var cands []candidate
	best := -1.0
	for a := lo; a <= hi; a += hop {
		e := energy(c, a, probe)
		cands = append(cands, candidate{anchor: a, energy: e})
		if best < 0 || e < best {
			best = e
		}
	}

	center := (lo + hi) / 2
	chosen, chosenDist := -1, 0
	for _, cand := range cands {
		if cand.energy > best*(1+tolerance)+1e-12 {
			continue
		}
		if d := abs(cand.anchor - center); chosen < 0 || d < chosenDist {
			chosen, chosenDist = cand.anchor, d
		}
	}
	return chosen
}

// energy computes mean-square signal energy over n frames starting at
// anchor. Comparisons only care about ordering, so the square root is
// skipped.
func energy(c audio.Clip, anchor, n int) float64 {
	ch := c.Format.Channels
	end := min(anchor+n, c.Frames())
	if end <= anchor {
		return 0
	}
	var sum float64
	for i := anchor * ch; i < end*ch; i++ {
		v := float64(c.Samples[i]) / 32768.0
		sum += v * v
	}
	return sum / float64((end-anchor)*ch)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
