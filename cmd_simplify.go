package main

import (
	"bufio"
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"leveler/core"
	"leveler/diagnostics"
	"leveler/llamaruntime"
	"leveler/metrics"
	"leveler/session"
	"leveler/shutdown"
	"leveler/textinput"
)

func newSimplifyCommand(c *cli) *cobra.Command {
	var (
		file  string
		stats bool
	)
	cmd := &cobra.Command{
		Use:   "simplify [text...]",
		Short: "Simplify text from arguments, a file or stdin",
		Long: `Simplify rewrites the input at a simpler reading level and streams the
result to stdout. Input is taken from the arguments, from --file (plain text
or PDF) or from stdin, in that order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.simplify(cmd.Context(), textinput.Source{Args: args, Path: file, Stdin: c.stdin}, stats)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read input from a text or PDF file")
	cmd.Flags().BoolVar(&stats, "stats", false, "print generation statistics after the result")
	return cmd
}

func (c *cli) simplify(ctx context.Context, src textinput.Source, showStats bool) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p := c.printer()

	text, err := src.Read()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, c.appOptions(true))
	if err != nil {
		return err
	}
	mgr := shutdown.NewManager(a.logger,
		shutdown.WithTimeout(a.cfg.ShutdownTimeout),
		shutdown.WithParent(ctx),
	)
	a.register(mgr)
	mgr.Start()
	defer func() {
		if serr := mgr.Shutdown(); serr != nil && err == nil {
			err = serr
		}
	}()

	// The guard runs before the model is loaded so oversized input costs nothing.
	if _, gerr := a.guard.Check(text); gerr != nil {
		if errors.Is(gerr, textinput.ErrTextTooLong) {
			a.recordError(ctx, diagnostics.ErrorTextTooLong)
			return &core.ExitError{Code: core.ExitCodeRejected, Err: gerr}
		}
		return gerr
	}

	if a.firstLaunch(ctx) {
		p.Info("%s\n", privacyNotice)
	}

	label := "Loading " + llamaruntime.ExtractModelName(a.cfg.ModelPath)
	if err := a.loadModel(func(progress float64) { p.Progress(label, progress) }); err != nil {
		return err
	}
	a.completeFirstLaunch(ctx)

	out := bufio.NewWriter(c.stdout)
	st, err := a.session.ProcessText(mgr.Context(), text, func(fragment string, final bool) {
		if final {
			return
		}
		_, _ = out.WriteString(fragment)
		_ = out.Flush()
	})
	_, _ = out.WriteString("\n")
	_ = out.Flush()

	a.logger.Info("Simplify finished", zap.Object("generation", session.GenerationMetrics(st)))

	if err != nil {
		if mgr.Signal() != nil {
			return &core.ExitError{Code: mgr.ExitCode(), Err: err}
		}
		if session.IsRejection(err) {
			return &core.ExitError{Code: core.ExitCodeRejected, Err: err}
		}
		return err
	}

	if showStats {
		printStats(p, st)
	}
	return nil
}

func printStats(p *printer, st session.GenerationStats) {
	p.Dim("%d words, %s tier, %d prompt tokens", st.InputWords, metrics.TierLabel(st), st.PromptTokens)
	p.Dim("%d tokens in %s (%.1f tok/s, first token after %s), stopped: %s",
		st.GeneratedTokens,
		st.Duration.Round(time.Millisecond),
		st.TokensPerSecond,
		st.TimeToFirstToken.Round(time.Millisecond),
		st.StopReason,
	)
}
