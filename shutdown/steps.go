package shutdown

import (
	"context"
	"errors"
	"io"
	"net/http"
	"syscall"

	"leveler/logging"
)

// HTTPServer returns a step that drains srv. An unstarted server is fine.
func HTTPServer(srv *http.Server) Func {
	return func(ctx context.Context) error {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Closer adapts an io.Closer into a step.
func Closer(c io.Closer) Func {
	return func(context.Context) error {
		return c.Close()
	}
}

// CloseFunc adapts a context-free close function into a step.
func CloseFunc(fn func() error) Func {
	return func(context.Context) error {
		return fn()
	}
}

// SyncLogger returns a step that flushes the logger. Sync on a terminal
// stdout fails with EINVAL or ENOTTY on Linux; those are ignored.
func SyncLogger(l *logging.Logger) Func {
	return func(context.Context) error {
		err := l.Sync()
		if err == nil || errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
			return nil
		}
		return err
	}
}
