package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"leveler/core"
	"leveler/db"
	"leveler/diagnostics"
	"leveler/llamaruntime"
	"leveler/logging"
	"leveler/metrics"
	"leveler/session"
	"leveler/shutdown"
	"leveler/textinput"
)

// newEngine builds the inference engine. Tests replace it with a fake.
var newEngine = llamaruntime.NewEngine

// app is everything a command needs, built from the environment.
type app struct {
	cfg    *core.Config
	logger *logging.Logger

	database *db.Database
	repo     *db.Repository
	writer   *db.AsyncWriter

	diag     *diagnostics.Manager
	store    *metrics.Store
	registry *prometheus.Registry
	prom     *metrics.PrometheusRecorder

	session *session.ModelSession
	guard   *textinput.Guard
}

type appOptions struct {
	// modelPath overrides LEVELER_MODEL_PATH when set.
	modelPath string
	// interactive keeps info logs off stderr.
	interactive bool
}

// registrar is implemented by shutdown.Registry and shutdown.Manager.
type registrar interface {
	Register(name string, priority int, fn shutdown.Func)
}

// newApp loads the configuration and opens every long-lived resource. On
// error everything opened so far is closed again.
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := core.LoadConfig()
	if err != nil {
		return nil, err
	}
	if opts.modelPath != "" {
		cfg.ModelPath = opts.modelPath
	}
	if err := core.EnsureDataDirectory(cfg.DataDir); err != nil {
		return nil, err
	}

	newLogger := logging.NewLogger
	if opts.interactive {
		newLogger = logging.NewCLILogger
	}
	logger, err := newLogger(cfg.DevMode, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.open(ctx); err != nil {
		a.close()
		return nil, err
	}

	logger.Debug("Configuration loaded",
		zap.String("model", llamaruntime.ExtractModelName(cfg.ModelPath)),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("context_size", cfg.Session.ContextSize),
		zap.Int("batch_size", cfg.Session.BatchSize),
		zap.Int("threads", cfg.Session.Threads),
		zap.Int("caller_token_limit", cfg.CallerTokenLimit),
		zap.Bool("dev_mode", cfg.DevMode),
	)
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	database, err := db.Open(a.cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.database = database
	a.repo = db.NewRepository(database, nil)

	writerCfg := db.DefaultAsyncWriterConfig()
	writerCfg.OnError = func(op db.WriteOperation, err error) {
		a.logger.Warn("Async database write failed", zap.Error(err))
	}
	a.writer = db.NewAsyncWriterWithConfig(a.repo.Handler(), writerCfg)
	a.repo.SetAsyncWriter(a.writer)
	a.writer.Start()

	a.diag, err = diagnostics.NewManager(ctx, a.repo, diagnostics.WithLogger(a.logger))
	if err != nil {
		return err
	}

	a.store = metrics.NewStore(metrics.StoreConfig{HistoryCapacity: 100, Version: core.Version}, time.Now())
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.prom = metrics.NewPrometheusRecorder(a.registry)

	a.session = session.New(newEngine(), a.cfg.Session,
		session.WithLogger(a.logger),
		session.WithStatsReporter(a.store),
		session.WithStatsReporter(a.prom),
		session.WithStatsReporter(a.diag),
	)
	a.guard = textinput.NewGuard(a.cfg.CallerTokenLimit)
	return nil
}

// register adds the cleanup steps in shutdown priority order. Steps for
// resources that were never opened are skipped.
func (a *app) register(r registrar) {
	if a.session != nil {
		r.Register("cancel generation", shutdown.PriorityCancelGeneration, func(context.Context) error {
			a.session.CancelProcessing()
			return nil
		})
	}
	if a.writer != nil {
		r.Register("async writer", shutdown.PriorityAsyncWriter, shutdown.Closer(a.writer))
	}
	if a.session != nil {
		r.Register("release model", shutdown.PriorityReleaseModel, shutdown.Closer(a.session))
	}
	if a.database != nil {
		r.Register("database", shutdown.PriorityDatabase, shutdown.Closer(a.database))
	}
	r.Register("logger", shutdown.PriorityLogger, shutdown.SyncLogger(a.logger))
}

// close runs the cleanup steps outside of a shutdown.Manager.
func (a *app) close() {
	reg := shutdown.NewRegistry()
	a.register(reg)

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	for _, err := range reg.Shutdown(ctx) {
		a.logger.Warn("Cleanup step failed", zap.Error(err))
	}
}

// loadModel validates the model file and loads it into the session. The
// outcome is pushed to the metrics snapshots and, on failure, recorded as a
// diagnostics error.
func (a *app) loadModel(onProgress session.ProgressFunc) error {
	err := core.ValidateModel(a.cfg.ModelPath)
	if err == nil {
		err = a.session.LoadModel(a.cfg.ModelPath, onProgress)
	}

	status := metrics.ModelStatus{
		Loaded:      err == nil,
		Path:        a.session.ModelPath(),
		MemoryBytes: a.session.MemoryUsage(),
	}
	if err != nil {
		status.Path = a.cfg.ModelPath
		status.Error = err.Error()
		if !errors.Is(err, session.ErrInvalidState) {
			a.recordError(context.Background(), diagnostics.ErrorModelInitializationFailed)
		}
	}
	a.store.UpdateModelStatus(status)
	a.prom.UpdateModelStatus(status)
	return err
}

func (a *app) recordError(ctx context.Context, code diagnostics.ErrorCode) {
	if err := a.diag.RecordError(ctx, code); err != nil {
		a.logger.Warn("Failed to record diagnostics", zap.Int("code", int(code)), zap.Error(err))
	}
}

const privacyNotice = `Leveler runs entirely on this device. Your text is never sent anywhere
and is never written to the log. Anonymous performance diagnostics are off;
turn them on with "leveler diagnostics enable".`

// firstLaunch reports whether no model has been loaded from the CLI yet.
func (a *app) firstLaunch(ctx context.Context) bool {
	done, err := a.repo.GetBoolPreference(ctx, db.PrefFirstLaunchComplete, false)
	if err != nil {
		a.logger.Warn("Failed to read first launch preference", zap.Error(err))
		return false
	}
	return !done
}

func (a *app) completeFirstLaunch(ctx context.Context) {
	if err := a.repo.SetBoolPreference(ctx, db.PrefFirstLaunchComplete, true); err != nil {
		a.logger.Warn("Failed to save first launch preference", zap.Error(err))
	}
}
