package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultChannelCapacity is the default buffer size for queued writes.
const DefaultChannelCapacity = 100

// DefaultDrainTimeout bounds StopWithTimeout when the caller passes 0.
const DefaultDrainTimeout = 30 * time.Second

// WriteOperation is one queued write.
type WriteOperation struct {
	Data      any
	Timestamp time.Time
}

// WriteHandler performs a queued write on the writer goroutine.
type WriteHandler func(op WriteOperation) error

// AsyncWriter runs writes on a background goroutine so callers never block
// on the database. Writes that do not fit in the buffer are dropped and
// counted.
type AsyncWriter struct {
	writeChan chan WriteOperation
	handler   WriteHandler
	onError   func(op WriteOperation, err error)
	drainWait time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool

	dropped atomic.Int64
	failed  atomic.Int64
}

// AsyncWriterConfig configures an AsyncWriter.
type AsyncWriterConfig struct {
	// ChannelCapacity is the number of writes that may be queued.
	ChannelCapacity int
	// DrainTimeout bounds StopWithTimeout(0).
	DrainTimeout time.Duration
	// OnError is called on the writer goroutine for each failed write.
	OnError func(op WriteOperation, err error)
}

// DefaultAsyncWriterConfig returns the default configuration.
func DefaultAsyncWriterConfig() AsyncWriterConfig {
	return AsyncWriterConfig{
		ChannelCapacity: DefaultChannelCapacity,
		DrainTimeout:    DefaultDrainTimeout,
	}
}

// NewAsyncWriter creates a writer with the default configuration.
func NewAsyncWriter(handler WriteHandler) *AsyncWriter {
	return NewAsyncWriterWithConfig(handler, DefaultAsyncWriterConfig())
}

// NewAsyncWriterWithConfig creates a writer. Call Start before writing.
func NewAsyncWriterWithConfig(handler WriteHandler, config AsyncWriterConfig) *AsyncWriter {
	if config.ChannelCapacity <= 0 {
		config.ChannelCapacity = DefaultChannelCapacity
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &AsyncWriter{
		writeChan: make(chan WriteOperation, config.ChannelCapacity),
		handler:   handler,
		onError:   config.OnError,
		drainWait: config.DrainTimeout,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the writer goroutine. Subsequent calls do nothing.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.closed {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.processWrites()
}

func (w *AsyncWriter) processWrites() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case op := <-w.writeChan:
			w.handle(op)
		}
	}
}

func (w *AsyncWriter) drain() {
	for {
		select {
		case op := <-w.writeChan:
			w.handle(op)
		default:
			return
		}
	}
}

func (w *AsyncWriter) handle(op WriteOperation) {
	if err := w.handler(op); err != nil {
		w.failed.Add(1)
		if w.onError != nil {
			w.onError(op, err)
		}
	}
}

// Write queues data without blocking. It returns false when the buffer is
// full or the writer is stopped.
func (w *AsyncWriter) Write(data any) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.dropped.Add(1)
		return false
	}

	select {
	case w.writeChan <- WriteOperation{Data: data, Timestamp: time.Now()}:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Pending returns the number of queued writes.
func (w *AsyncWriter) Pending() int { return len(w.writeChan) }

// Dropped returns the number of writes rejected by Write.
func (w *AsyncWriter) Dropped() int64 { return w.dropped.Load() }

// Failed returns the number of writes whose handler returned an error.
func (w *AsyncWriter) Failed() int64 { return w.failed.Load() }

// IsStarted reports whether Start has been called.
func (w *AsyncWriter) IsStarted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.started
}

// Stop rejects further writes, drains the buffer and waits for the writer
// goroutine.
func (w *AsyncWriter) Stop() {
	w.markClosed()
	w.cancel()
	w.wg.Wait()
}

// StopWithTimeout is Stop bounded by timeout (0 uses the configured drain
// timeout). It reports whether the drain finished in time.
func (w *AsyncWriter) StopWithTimeout(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = w.drainWait
	}
	w.markClosed()
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close is Stop; it lets the writer be registered as an io.Closer-style
// shutdown step.
func (w *AsyncWriter) Close() error {
	w.Stop()
	return nil
}

func (w *AsyncWriter) markClosed() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}
