package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"leveler/core"
	"leveler/llamaruntime"
)

func newModelCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect model files",
	}

	var load bool
	check := &cobra.Command{
		Use:   "check [path]",
		Short: "Validate a GGUF model file, optionally loading it",
		Long: `Check validates the model file (extension, GGUF header, minimum size).
With --load it also loads the weights, creates the runtime context and
reports the memory used, then releases everything again.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				c.modelPath = args[0]
			}
			return c.checkModel(cmd.Context(), load)
		},
	}
	check.Flags().BoolVar(&load, "load", false, "load the model to verify it works with this build")

	cmd.AddCommand(check)
	return cmd
}

func (c *cli) checkModel(ctx context.Context, load bool) error {
	return c.withApp(ctx, func(a *app) error {
		p := c.printer()
		path := a.cfg.ModelPath
		p.Heading("%s", llamaruntime.ExtractModelName(path))

		if err := core.ValidateModel(path); err != nil {
			return err
		}
		p.Success("Valid GGUF file (%s)", core.FormatBytes(llamaruntime.GetModelSize(path)))

		if !llamaruntime.BackendAvailable() {
			p.Warning("This build does not include the inference backend")
		}
		if !load {
			return nil
		}

		start := time.Now()
		if err := a.loadModel(func(progress float64) { p.Progress("Loading", progress) }); err != nil {
			return err
		}
		p.Success("Loaded in %s, using %s", time.Since(start).Round(time.Millisecond), core.FormatBytes(a.session.MemoryUsage()))
		a.session.ReleaseModel()
		return nil
	})
}
