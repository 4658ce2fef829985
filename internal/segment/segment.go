// Package segment holds the immutable audio segments a session stitches
// together. The store owns the only long-lived PCM buffers; everything else
// passes segment ids around.
package segment

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/weldaudio/weld/internal/audio"
)

// Store errors.
var (
	ErrSegmentNotFound = errors.New("segment: not found")
	ErrDuplicateID     = errors.New("segment: id already holds a different buffer")
	ErrSegmentInUse    = errors.New("segment: referenced by an active session")
)

// maxComponentLen guards against a full prompt being smuggled in as a
// single weighted component.
const maxComponentLen = 50

// PromptComponent is one weighted part of the originating prompt.
type PromptComponent struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

// Params are the generation parameters reported by the model gateway.
type Params struct {
	Tempo    float64 `json:"tempo,omitempty"`
	Guidance float64 `json:"guidance,omitempty"`
	Density  float64 `json:"density,omitempty"`
}

// Meta is the sidecar metadata captured once at ingest. It is validated
// here and never re-derived from display text afterwards.
type Meta struct {
	Prompt     string            `json:"prompt"`
	Components []PromptComponent `json:"components,omitempty"`
	Params     Params            `json:"params"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Segment is one immutable unit of generated audio.
type Segment struct {
	ID     string
	Clip   audio.Clip
	Meta   Meta
	Digest uint64
}

// Duration returns the play time of the segment's buffer.
func (s Segment) Duration() time.Duration { return s.Clip.Duration() }

// Digest hashes a clip's format and raw samples. Two segments with equal
// digests carry the same audio.
func Digest(c audio.Clip) uint64 {
	h := xxhash.New()
	fmt.Fprintf(h, "%d/%d/", c.Format.SampleRate, c.Format.Channels)
	h.Write(c.Bytes())
	return h.Sum64()
}

// New builds a segment around a clip, assigning a fresh id.
func New(c audio.Clip, meta Meta) Segment {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	return Segment{
		ID:     uuid.NewString(),
		Clip:   c,
		Meta:   meta,
		Digest: Digest(c),
	}
}

// NormalizeComponents validates a weighted-prompt breakdown and rescales
// the weights to sum to 1.0. Components with empty or overlong text, or a
// non-positive weight, are rejected.
func NormalizeComponents(in []PromptComponent) ([]PromptComponent, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]PromptComponent, 0, len(in))
	total := 0.0
	for _, c := range in {
		if c.Text == "" {
			return nil, fmt.Errorf("%w: empty component text", audio.ErrValidation)
		}
		if utf8.RuneCountInString(c.Text) > maxComponentLen {
			return nil, fmt.Errorf("%w: component %q too long", audio.ErrValidation, c.Text[:20]+"…")
		}
		if c.Weight <= 0 {
			return nil, fmt.Errorf("%w: component %q has weight %v", audio.ErrValidation, c.Text, c.Weight)
		}
		out = append(out, c)
		total += c.Weight
	}
	for i := range out {
		out[i].Weight /= total
	}
	return out, nil
}
