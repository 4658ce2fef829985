package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/weldaudio/weld/internal/gateway"
)

func newGenerateCmd() *cobra.Command {
	var (
		negative string
		seed     int
		output   string
		wait     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "request a new segment from the generation backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			client := gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.APIKey, logger)

			if wait > 0 {
				healthCtx, cancel := context.WithTimeout(cmd.Context(), wait)
				defer cancel()
				if err := client.WaitForHealthy(healthCtx); err != nil {
					return fmt.Errorf("backend not available: %w", err)
				}
			}

			asset, err := client.Generate(cmd.Context(), gateway.GenerateRequest{
				Prompt:         args[0],
				NegativePrompt: negative,
				Seed:           seed,
			})
			if err != nil {
				return err
			}

			name := output
			if name == "" {
				name = asset.Filename
			}
			if err := os.WriteFile(name, asset.WAV, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}

			fmt.Println(name)
			fmt.Println(gateway.DeepLink(asset.Filename, asset.Prompt))
			return nil
		},
	}
	cmd.Flags().StringVarP(&negative, "negative", "n", "", "negative prompt")
	cmd.Flags().IntVar(&seed, "seed", 0, "generation seed (0 = random)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: backend filename)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the backend to become healthy")
	return cmd
}
