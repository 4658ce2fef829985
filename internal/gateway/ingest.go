package gateway

import (
	"context"
	"fmt"

	"github.com/weldaudio/weld/internal/audio"
	"github.com/weldaudio/weld/internal/segment"
)

// Ingest decodes a generated asset and stores it as a segment. The
// weighted-prompt breakdown is validated and normalized exactly once
// here; downstream code trusts the stored record.
func Ingest(ctx context.Context, store segment.Store, asset *Asset) (string, error) {
	clip, err := audio.DecodeWAV(asset.WAV)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", asset.Filename, err)
	}

	components := make([]segment.PromptComponent, 0, len(asset.Components))
	for _, c := range asset.Components {
		components = append(components, segment.PromptComponent{Text: c.Text, Weight: c.Weight})
	}
	components, err = segment.NormalizeComponents(components)
	if err != nil {
		return "", fmt.Errorf("ingest %s: %w", asset.Filename, err)
	}

	seg := segment.New(clip, segment.Meta{
		Prompt:     asset.Prompt,
		Components: components,
		Params: segment.Params{
			Tempo:    asset.Params.Tempo,
			Guidance: asset.Params.Guidance,
			Density:  asset.Params.Density,
		},
	})
	return store.Put(ctx, seg)
}
