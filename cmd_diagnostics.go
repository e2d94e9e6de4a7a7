package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newDiagnosticsCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Manage opt-in performance diagnostics",
		Long: `Diagnostics are anonymous performance measurements (timings, token rates,
memory, text lengths and error codes). They never contain your text. They are
off until enabled, and disabling them deletes everything stored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				p := c.printer()
				if a.diag.Enabled() {
					p.Success("Diagnostics are enabled")
				} else {
					p.Info("Diagnostics are disabled")
				}
				metrics, err := a.diag.Metrics(cmd.Context())
				if err != nil {
					return err
				}
				p.Dim("%d metrics stored", len(metrics))
				return nil
			})
		},
	}

	enable := &cobra.Command{
		Use:   "enable",
		Short: "Start collecting diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				if err := a.diag.SetEnabled(cmd.Context(), true); err != nil {
					return err
				}
				c.printer().Success("Diagnostics enabled")
				return nil
			})
		},
	}

	disable := &cobra.Command{
		Use:   "disable",
		Short: "Stop collecting diagnostics and delete stored data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				if err := a.diag.SetEnabled(cmd.Context(), false); err != nil {
					return err
				}
				c.printer().Success("Diagnostics disabled and stored data deleted")
				return nil
			})
		},
	}

	var output string
	export := &cobra.Command{
		Use:   "export",
		Short: "Print a human-readable diagnostics report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				report, err := a.diag.Export(cmd.Context())
				if err != nil {
					return err
				}
				if output == "" {
					_, err = fmt.Fprintln(c.stdout, report)
					return err
				}
				if err := os.WriteFile(output, []byte(report+"\n"), 0o600); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				c.printer().Success("Report written to %s", output)
				return nil
			})
		},
	}
	export.Flags().StringVarP(&output, "output", "o", "", "write the report to a file instead of stdout")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete stored diagnostics without changing the preference",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				if err := a.diag.Clear(cmd.Context()); err != nil {
					return err
				}
				c.printer().Success("Diagnostics cleared")
				return nil
			})
		},
	}

	cmd.AddCommand(enable, disable, export, clearCmd)
	return cmd
}

// withApp runs fn with a fully built app and closes it afterwards.
func (c *cli) withApp(ctx context.Context, fn func(a *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, c.appOptions(true))
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
