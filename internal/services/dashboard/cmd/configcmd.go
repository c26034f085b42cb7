package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/artifact"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/catalog"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/normalize"
)

func (c *cli) configCommand() *cobra.Command {
	var catalogFile string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with configuration files and artifacts offline",
	}
	cmd.PersistentFlags().StringVar(&catalogFile, "catalog", "", "catalog JSON used to validate plants and fill model versions (default: catalog.file)")

	normalizer := func(ctx context.Context) (normalize.Normalizer, error) {
		path := catalogFile
		if path == "" {
			path = c.settings.Catalog.File
		}
		if path == "" {
			c.log.Warn("no catalog given, every detected plant will be dropped")
			return normalize.Normalizer{}, nil
		}
		cat, err := catalog.FileSource{Path: path}.Fetch(ctx, false)
		if err != nil {
			return normalize.Normalizer{}, err
		}
		return normalize.Normalizer{Plants: cat, Models: cat}, nil
	}

	normalizeCmd := &cobra.Command{
		Use:   "normalize <config.json>",
		Short: "Print the normalized form of a configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := normalizer(cmd.Context())
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := n.NormalizeJSON(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}

	encodeCmd := &cobra.Command{
		Use:   "encode <config.json> <out.png>",
		Short: "Render a configuration into a shareable PNG artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := normalizer(cmd.Context())
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := n.NormalizeJSON(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			png, err := artifact.Build(cfg, time.Now())
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], png, 0o644); err != nil {
				return err
			}
			c.log.Info("artifact written", "path", args[1], "plants", len(cfg.DetectedPlants))
			return nil
		},
	}

	decodeCmd := &cobra.Command{
		Use:   "decode <artifact.png>",
		Short: "Print the configuration embedded in a PNG artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			payload, err := artifact.DecodeConfig(img)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), payload)
		},
	}

	cmd.AddCommand(normalizeCmd, encodeCmd, decodeCmd)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
