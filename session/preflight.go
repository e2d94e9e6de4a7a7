package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"

	"leveler/logging"
)

// MemoryProbe reports how much memory the system can hand out right now.
type MemoryProbe interface {
	AvailableBytes(ctx context.Context) (uint64, error)
}

// MemoryProbeFunc adapts a function to MemoryProbe.
type MemoryProbeFunc func(ctx context.Context) (uint64, error)

func (f MemoryProbeFunc) AvailableBytes(ctx context.Context) (uint64, error) { return f(ctx) }

// ProcMemoryProbe reads MemAvailable from /proc/meminfo.
type ProcMemoryProbe struct {
	fs  procfs.FS
	err error
}

// NewProcMemoryProbe opens the default procfs mount. On hosts without procfs
// every read returns the mount error.
func NewProcMemoryProbe() *ProcMemoryProbe {
	fs, err := procfs.NewDefaultFS()
	return &ProcMemoryProbe{fs: fs, err: err}
}

func (p *ProcMemoryProbe) AvailableBytes(context.Context) (uint64, error) {
	if p.err != nil {
		return 0, fmt.Errorf("open procfs: %w", p.err)
	}
	mi, err := p.fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}
	if mi.MemAvailableBytes == nil {
		return 0, errors.New("meminfo has no MemAvailable field")
	}
	return *mi.MemAvailableBytes, nil
}

// MemoryPreflight rejects requests when free memory is below a threshold.
type MemoryPreflight struct {
	probe     MemoryProbe
	threshold uint64
	logger    *logging.Logger
}

// NewMemoryPreflight builds a preflight check. A nil probe disables the check.
func NewMemoryPreflight(probe MemoryProbe, threshold uint64, logger *logging.Logger) *MemoryPreflight {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &MemoryPreflight{probe: probe, threshold: threshold, logger: logger}
}

// Check returns ErrOutOfMemory when available memory is below the threshold.
// An unreadable metric passes with a warning.
func (p *MemoryPreflight) Check(ctx context.Context) error {
	if p == nil || p.probe == nil {
		return nil
	}
	avail, err := p.probe.AvailableBytes(ctx)
	if err != nil {
		p.logger.Warn("available memory unreadable, skipping preflight", zap.Error(err))
		return nil
	}
	if avail < p.threshold {
		return fmt.Errorf("%w: %d MiB available, %d MiB required", ErrOutOfMemory, avail>>20, p.threshold>>20)
	}
	return nil
}
