package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"alertrelay/internal/classifier"
	"alertrelay/internal/clock"
	"alertrelay/internal/config"
	"alertrelay/internal/deadletter"
	"alertrelay/internal/filter"
	"alertrelay/internal/history"
	"alertrelay/internal/ingest"
	"alertrelay/internal/logging"
	"alertrelay/internal/metrics"
	"alertrelay/internal/mode"
	"alertrelay/internal/orchestrator"
	"alertrelay/internal/publish"
	"alertrelay/internal/targets"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable alert relay service.
type Service struct {
	source   config.ConfigSource
	cfg      config.Config
	logger   *slog.Logger
	closeLog func()
	clock    clock.Clock

	metrics        metrics.Recorder
	metricsHandler http.Handler

	nc    *nats.Conn
	redis *redis.Client

	classifier   *classifier.Classifier
	registry     *targets.Registry
	discovery    *reloadableDiscovery
	refresher    *targets.Refresher
	modeManager  *mode.Manager
	publisher    *publish.Publisher
	deadLetter   deadletter.Sink
	replayer     interface{ Close() error }
	history      history.Store
	orchestrator *orchestrator.Orchestrator

	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
	workers   sync.WaitGroup
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	service := &Service{
		source:   source,
		cfg:      cfg,
		logger:   logger.With("service", cfg.Service.Name),
		closeLog: closeLog,
		clock:    clk,
		metrics:  metrics.Nop{},
	}
	if err := service.build(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	return service, nil
}

// build wires components in dependency order.
// Params: none.
// Returns: first setup error.
func (s *Service) build() error {
	if s.cfg.Metrics.Enabled {
		prom, err := metrics.NewPrometheus()
		if err != nil {
			return fmt.Errorf("metrics init: %w", err)
		}
		s.metrics = prom
		s.metricsHandler = prom.Handler()
	}
	if err := s.connectNATS(); err != nil {
		return err
	}
	if err := s.buildClassifier(); err != nil {
		return err
	}

	rules, err := filter.Compile(s.cfg.Filter)
	if err != nil {
		return fmt.Errorf("compile filter rules: %w", err)
	}

	s.discovery = newReloadableDiscovery(buildDiscovery(s.cfg.Targets))
	s.registry = targets.NewRegistry(nil, logging.Component(s.logger, "targets"))
	s.refresher = targets.NewRefresher(s.discovery, s.registry, time.Duration(s.cfg.Targets.RefreshSec)*time.Second, logging.Component(s.logger, "targets"))
	if err := s.refresher.RefreshOnce(context.Background()); err != nil {
		return fmt.Errorf("initial target discovery: %w", err)
	}
	s.modeManager = mode.NewManager(s.registry, mode.Options{
		Tick:    time.Duration(s.cfg.Mode.TickMS) * time.Millisecond,
		Clock:   s.clock,
		Logger:  logging.Component(s.logger, "mode"),
		Metrics: s.metrics,
	})

	if err := s.buildDeadLetter(); err != nil {
		return err
	}
	pubCfg := s.cfg.Publisher
	retry := publish.DefaultRetryPolicy()
	retry.MaxRetries = pubCfg.Retry.Retries()
	retry.Backoff = pubCfg.Retry.Backoff()
	s.publisher = publish.New(publish.Options{
		MaxConcurrency: pubCfg.MaxConcurrency,
		Timeout:        time.Duration(pubCfg.TimeoutMS) * time.Millisecond,
		Retry:          retry,
		DeadLetter:     s.deadLetter,
		Clock:          s.clock,
		Logger:         logging.Component(s.logger, "publisher"),
		Metrics:        s.metrics,
	})
	if err := s.buildHistory(); err != nil {
		return err
	}

	s.orchestrator = orchestrator.New(orchestrator.Options{
		Classifier:     s.classifier,
		Filter:         rules,
		Targets:        s.registry,
		Mode:           s.modeManager,
		Publisher:      s.publisher,
		Storage:        s.history,
		MaxConcurrency: s.cfg.Orchestrator.MaxConcurrency,
		StoreTimeout:   time.Duration(s.cfg.Orchestrator.StoreTimeoutMS) * time.Millisecond,
		Clock:          s.clock,
		Logger:         logging.Component(s.logger, "orchestrator"),
		Metrics:        s.metrics,
	})

	if err := s.buildReplayer(); err != nil {
		return err
	}
	if err := s.buildHTTPServer(); err != nil {
		return err
	}
	return s.buildNATSSubscriber()
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.classifier.Start()
	s.startWorker(func() { s.refresher.Run(shutdownCtx) })
	s.startWorker(func() { s.modeManager.Run(shutdownCtx) })

	if s.cfg.Service.ReloadEnabled {
		reloadInterval := time.Duration(s.cfg.Service.ReloadIntervalSec) * time.Second
		s.startWorker(func() {
			reloadTicker := time.NewTicker(reloadInterval)
			defer reloadTicker.Stop()
			for {
				select {
				case <-shutdownCtx.Done():
					return
				case <-reloadTicker.C:
					if err := s.reloadConfig(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
						s.logger.Error("reload failed", "error", err.Error())
					}
				}
			}
		})
	}

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errChan:
		runErr = fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
	}
	shutdownCancel()
	s.workers.Wait()
	if err := s.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (s *Service) startWorker(run func()) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		run()
	}()
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if s.replayer != nil {
		if err := s.replayer.Close(); err != nil {
			s.logger.Error("dead-letter replayer close failed", "error", err.Error())
			markErr(fmt.Errorf("dead-letter replayer close: %w", err))
		}
	}
	s.orchestrator.WaitStores()
	s.classifier.Stop()
	if err := s.deadLetter.Close(); err != nil {
		s.logger.Error("dead-letter sink close failed", "error", err.Error())
		markErr(fmt.Errorf("dead-letter sink close: %w", err))
	}
	if err := s.history.Close(); err != nil {
		s.logger.Error("history close failed", "error", err.Error())
		markErr(fmt.Errorf("history close: %w", err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			markErr(fmt.Errorf("redis close: %w", err))
		}
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
	}
	s.logger.Info("service stopped")
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.replayer != nil {
		_ = s.replayer.Close()
		s.replayer = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.history != nil {
		_ = s.history.Close()
		s.history = nil
	}
	if s.deadLetter != nil {
		_ = s.deadLetter.Close()
		s.deadLetter = nil
	}
	if s.redis != nil {
		_ = s.redis.Close()
		s.redis = nil
	}
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if s.nc == nil || !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	timeout := time.Duration(s.cfg.Ingest.HTTP.RequestTimeoutSec) * time.Second
	subscriber, err := ingest.NewNATSSubscriber(s.nc, s.cfg.Ingest.NATS, s.orchestrator, timeout, s.clock, logging.Component(s.logger, "nats-ingest"))
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// reloadConfig reloads filter rules and target sources from a fresh snapshot.
// Params: context for target discovery.
// Returns: reload or apply error; the running config stays active on error.
func (s *Service) reloadConfig(ctx context.Context) error {
	nextCfg, err := config.LoadSnapshot(s.source)
	if err != nil {
		return err
	}
	return s.applyReload(ctx, nextCfg)
}

// applyReload validates every part of nextCfg before swapping any of it in.
// Params: discovery ctx and loaded snapshot.
// Returns: first validation error; nothing is installed on error.
func (s *Service) applyReload(ctx context.Context, nextCfg config.Config) error {
	if config.NormalizeServiceMode(nextCfg.Service.Mode) != config.NormalizeServiceMode(s.cfg.Service.Mode) {
		return fmt.Errorf("service.mode change requires restart")
	}
	rules, err := filter.Compile(nextCfg.Filter)
	if err != nil {
		return fmt.Errorf("compile filter rules: %w", err)
	}
	candidate := buildDiscovery(nextCfg.Targets)
	listed, err := candidate.ListTargets(ctx)
	if err != nil {
		return fmt.Errorf("target discovery: %w", err)
	}

	s.discovery.Set(candidate)
	s.registry.Replace(listed)
	s.orchestrator.SetFilter(rules)
	s.modeManager.Evaluate()
	s.cfg.Filter = nextCfg.Filter
	s.cfg.Targets = nextCfg.Targets
	s.logger.Info("configuration reloaded", "filter_rules", rules.RuleCount(), "targets", len(s.registry.Snapshot()))
	return nil
}
