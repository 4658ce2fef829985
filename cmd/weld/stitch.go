package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/weldaudio/weld/internal/audio"
	"github.com/weldaudio/weld/internal/render"
	"github.com/weldaudio/weld/internal/segment"
	"github.com/weldaudio/weld/internal/session"
	"github.com/weldaudio/weld/internal/stitch"
)

// policyFlags are the per-invocation overrides of the configured join
// policy.
type policyFlags struct {
	overlap time.Duration
	curve   string
	auto    bool
	window  time.Duration
}

func (f *policyFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.overlap, "overlap", 0, "crossfade overlap (0 = config default)")
	cmd.Flags().StringVar(&f.curve, "curve", "", "crossfade curve: equal-power, linear, smoothstep")
	cmd.Flags().BoolVar(&f.auto, "auto", false, "search for low-energy splice points")
	cmd.Flags().DurationVar(&f.window, "window", 0, "splice search window (0 = config default)")
}

func (f *policyFlags) apply(cmd *cobra.Command, pol stitch.Policy) (stitch.Policy, error) {
	if f.overlap > 0 {
		pol.Overlap = f.overlap
	}
	if f.curve != "" {
		curve, err := audio.ParseCurve(f.curve)
		if err != nil {
			return pol, err
		}
		pol.Curve = curve
	}
	if cmd.Flags().Changed("auto") {
		pol.Auto = f.auto
	}
	if f.window > 0 {
		pol.SearchWindow = f.window
	}
	return pol, nil
}

// ingestFiles decodes each WAV file into the store and returns segment
// ids in argument order.
func ingestFiles(ctx context.Context, store segment.Store, paths []string) ([]string, error) {
	ids := make([]string, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		clip, err := audio.DecodeWAV(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		seg := segment.New(clip, segment.Meta{Prompt: filepath.Base(path)})
		id, err := store.Put(ctx, seg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func newStitchCmd() *cobra.Command {
	var (
		output string
		flags  policyFlags
	)
	cmd := &cobra.Command{
		Use:   "stitch <a.wav> <b.wav> [more.wav...]",
		Short: "join segments into one continuous track",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			pol, err := flags.apply(cmd, cfg.Policy())
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := ingestFiles(cmd.Context(), store, args)
			if err != nil {
				return err
			}

			mgr := session.NewManager(session.ManagerConfig{
				Store:      store,
				Renderer:   render.New(store, cfg.Render.Workers, logger),
				BasePolicy: pol,
				Target:     cfg.Target(),
				Logger:     logger,
			})
			s := mgr.Create()
			defer mgr.Close(s.ID)
			for _, id := range ids {
				if err := s.ImportSegment(id); err != nil {
					return err
				}
			}

			track, err := s.Render(cmd.Context())
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, audio.EncodeWAV(track.Clip), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}

			fmt.Printf("%s: %v, %d segments, hash %016x\n",
				output, track.Clip.Duration().Round(time.Millisecond), len(ids), track.Hash)
			for i, b := range track.Boundaries {
				at := track.Clip.Format.Duration(b)
				fmt.Printf("  join %d at %v\n", i, at.Round(time.Millisecond))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "stitched.wav", "output WAV file")
	flags.register(cmd)
	return cmd
}

func newPlanCmd() *cobra.Command {
	var flags policyFlags
	cmd := &cobra.Command{
		Use:   "plan <a.wav> <b.wav> [more.wav...]",
		Short: "print the join decisions without rendering",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			pol, err := flags.apply(cmd, cfg.Policy())
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := ingestFiles(cmd.Context(), store, args)
			if err != nil {
				return err
			}
			plan, err := stitch.PlanSequence(cmd.Context(), store, ids, pol)
			if err != nil {
				return err
			}

			fmt.Printf("format: %s\n", plan.Format)
			for i, j := range plan.Joins {
				fmt.Printf("join %d: %s -> %s\n", i, filepath.Base(args[i]), filepath.Base(args[i+1]))
				fmt.Printf("  left offset  %v\n", plan.Format.Duration(j.LeftOffset).Round(time.Millisecond))
				fmt.Printf("  right offset %v\n", plan.Format.Duration(j.RightOffset).Round(time.Millisecond))
				fmt.Printf("  overlap      %v (%s)\n", plan.Format.Duration(j.Overlap).Round(time.Millisecond), j.Curve)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
