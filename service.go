package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"leveler/core"
)

// program implements service.Interface around the serve command.
type program struct {
	run         func(ctx context.Context) error
	stopTimeout time.Duration
	// exit ends the process when run fails on its own.
	exit func(code int)
	log  service.Logger

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

var _ service.Interface = (*program)(nil)

// Start is called by the service manager and must not block.
func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.err = p.run(ctx)
		if p.err != nil && ctx.Err() == nil {
			// Failed without being asked to stop: let the service manager
			// see a failure exit so its restart policy applies.
			if p.log != nil {
				_ = p.log.Error(p.err)
			}
			p.exit(exitCode(p.err))
		}
	}()
	return nil
}

// Stop cancels the server and waits for it to drain.
func (p *program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	select {
	case <-p.done:
	case <-time.After(p.stopTimeout):
		return fmt.Errorf("timeout waiting for service to stop")
	}

	var exitErr *core.ExitError
	if errors.As(p.err, &exitErr) && core.IsSignalExit(exitErr.Code) {
		return nil
	}
	return p.err
}

// serviceConfig describes the installed service. "service run" is the
// entry point the service manager invokes.
func serviceConfig() *service.Config {
	return &service.Config{
		Name:        "leveler",
		DisplayName: "Leveler",
		Description: "On-device text simplification API on localhost",
		Arguments:   []string{"service", "run"},
		Option: service.KeyValue{
			"StartType":   "automatic",
			"Restart":     "on-failure",
			"OnFailure":   "restart",
			"UserService": true,
		},
	}
}

func (c *cli) newService() (service.Service, *program, error) {
	prg := &program{
		run: func(ctx context.Context) error {
			return c.serve(ctx, serveOptions{})
		},
		stopTimeout: core.DefaultShutdownTimeout + 5*time.Second,
		exit:        os.Exit,
	}
	s, err := service.New(prg, serviceConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create service: %w", err)
	}
	if l, err := s.Logger(nil); err == nil {
		prg.log = l
	}
	return s, prg, nil
}

func newServiceCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Run leveler serve as an OS service",
	}

	for _, action := range []struct {
		name  string
		short string
		done  string
	}{
		{"install", "Install the service", "Service installed"},
		{"uninstall", "Remove the service", "Service uninstalled"},
		{"start", "Start the installed service", "Service started"},
		{"stop", "Stop the running service", "Service stopped"},
		{"restart", "Restart the service", "Service restarted"},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   action.name,
			Short: action.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, _, err := c.newService()
				if err != nil {
					return err
				}
				if err := service.Control(s, action.name); err != nil {
					return fmt.Errorf("failed to %s service: %w", action.name, err)
				}
				c.printer().Success("%s", action.done)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := c.newService()
			if err != nil {
				return err
			}
			status, err := s.Status()
			if errors.Is(err, service.ErrNotInstalled) {
				c.printer().Warning("Service is not installed")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to get service status: %w", err)
			}
			fmt.Fprintln(c.stdout, statusText(status))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Entry point used by the service manager",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := c.newService()
			if err != nil {
				return err
			}
			if err := s.Run(); err != nil {
				return fmt.Errorf("service run failed: %w", err)
			}
			return nil
		},
	})

	return cmd
}

func statusText(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "Service is running"
	case service.StatusStopped:
		return "Service is stopped"
	default:
		return "Service status unknown"
	}
}
