package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openfroyo/skyrun/pkg/astro"
	"github.com/openfroyo/skyrun/pkg/config"
	"github.com/openfroyo/skyrun/pkg/plan"
	"github.com/openfroyo/skyrun/pkg/sequencer"
	"github.com/openfroyo/skyrun/pkg/sequencer/conditions"
	"github.com/openfroyo/skyrun/pkg/sequencer/items"
	"github.com/openfroyo/skyrun/pkg/sequencer/triggers"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a starter configuration, plan and template",
		Long: `Create a working directory with:
  - skyrun.yaml   the default configuration, store and templates pointed at dir
  - night.yaml    a sample plan imaging one target with dithering
  - templates/    a flats template`,
		Example: `  # Initialize the current directory
  skyrun init

  # Initialize a new directory
  skyrun init ./observatory`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			templatesDir := filepath.Join(dir, "templates")
			if err := os.MkdirAll(templatesDir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", templatesDir, err)
			}

			cfg := config.DefaultConfig()
			cfg.Store.Path = filepath.Join(dir, "history.db")
			cfg.Templates.Dir = templatesDir
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}

			files := []struct {
				path  string
				write func(path string) error
			}{
				{filepath.Join(dir, "skyrun.yaml"), func(p string) error { return os.WriteFile(p, data, 0o644) }},
				{filepath.Join(dir, "night.yaml"), func(p string) error { return plan.WriteFile(p, sampleNight()) }},
				{filepath.Join(templatesDir, "flats.yaml"), func(p string) error { return plan.WriteFile(p, sampleFlats()) }},
			}

			out := cmd.OutOrStdout()
			for _, f := range files {
				if !force {
					if _, err := os.Stat(f.path); err == nil {
						fmt.Fprintf(out, "skip    %s (exists)\n", f.path)
						continue
					} else if !errors.Is(err, fs.ErrNotExist) {
						return err
					}
				}
				if err := f.write(f.path); err != nil {
					return fmt.Errorf("failed to write %s: %w", f.path, err)
				}
				fmt.Fprintf(out, "create  %s\n", f.path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing files")

	return cmd
}

func sampleNight() *plan.Document {
	return &plan.Document{
		Version:     plan.FormatVersion,
		Name:        "Sample night",
		Description: "Two rounds of luminance frames on M42, dithering every three frames",
		Root: &plan.Node{
			Type: plan.TypeRootContainer,
			Name: "Sample night",
			Items: []*plan.Node{
				{Type: items.TypeAnnotation, Name: "Start", Properties: map[string]any{"text": "Starting the night"}},
				{
					Type:          sequencer.TypeTargetContainer,
					Name:          "M42",
					ErrorBehavior: string(sequencer.SkipInstructionSetOnError),
					Target: &astro.Target{
						Name:        "M42",
						Coordinates: astro.Coordinates{RA: 5.588, Dec: -5.391},
					},
					Conditions: []*plan.Node{
						{Type: conditions.TypeLoopForIterations, Name: "Two rounds", Properties: map[string]any{"iterations": 2}},
					},
					Triggers: []*plan.Node{
						{
							Type:       triggers.TypeAfterExposures,
							Name:       "Dither",
							Properties: map[string]any{"after_exposures": 3},
							Steps:      []*plan.Node{{Type: items.TypeDither, Name: "Dither"}},
						},
					},
					Items: []*plan.Node{
						{Type: items.TypeSlewToTarget, Name: "Slew"},
						{Type: items.TypeStartGuiding, Name: "Guide"},
						{Type: items.TypeSwitchFilter, Name: "Luminance", Properties: map[string]any{"filter": "L"}},
						{
							Type:     items.TypeTakeExposure,
							Name:     "Lights",
							Attempts: 2,
							Properties: map[string]any{
								"exposure_time": 2.0,
								"count":         3,
								"filter":        "L",
								"image_type":    "light",
							},
						},
					},
				},
			},
			End: []*plan.Node{
				{Type: items.TypeStopGuiding, Name: "Stop guiding"},
				{Type: items.TypeParkTelescope, Name: "Park"},
			},
		},
	}
}

func sampleFlats() *plan.Document {
	return &plan.Document{
		Version:     plan.FormatVersion,
		Name:        "flats",
		Description: "Five flat frames under the flat panel",
		Root: &plan.Node{
			Type: plan.TypeRootContainer,
			Name: "flats",
			Items: []*plan.Node{
				{Type: items.TypeToggleFlatLight, Name: "Panel on", Properties: map[string]any{"on": true, "brightness": 40}},
				{Type: items.TypeTakeExposure, Name: "Flats", Properties: map[string]any{
					"exposure_time": 1.0,
					"count":         5,
					"image_type":    "flat",
				}},
				{Type: items.TypeToggleFlatLight, Name: "Panel off", Properties: map[string]any{"on": false}},
			},
		},
	}
}
