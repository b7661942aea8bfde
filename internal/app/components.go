package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"alertrelay/internal/classifier"
	"alertrelay/internal/config"
	"alertrelay/internal/deadletter"
	"alertrelay/internal/domain"
	"alertrelay/internal/history"
	"alertrelay/internal/ingest"
	"alertrelay/internal/logging"
	"alertrelay/internal/permanent"
	"alertrelay/internal/publish"
	"alertrelay/internal/targets"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// reloadableDiscovery swaps target sources on config reload.
type reloadableDiscovery struct {
	current atomic.Pointer[targets.Discovery]
}

func newReloadableDiscovery(discovery targets.Discovery) *reloadableDiscovery {
	d := &reloadableDiscovery{}
	d.Set(discovery)
	return d
}

// Set replaces the active discovery source.
func (d *reloadableDiscovery) Set(discovery targets.Discovery) {
	d.current.Store(&discovery)
}

// ListTargets delegates to the active source.
func (d *reloadableDiscovery) ListTargets(ctx context.Context) ([]domain.Target, error) {
	return (*d.current.Load()).ListTargets(ctx)
}

// buildDiscovery combines static targets with the optional targets file.
// Params: targets config snapshot.
// Returns: discovery source; the file is re-read on every refresh.
func buildDiscovery(cfg config.TargetsConfig) targets.Discovery {
	static := targets.NewStaticDiscovery(cfg.Target)
	if strings.TrimSpace(cfg.File) == "" {
		return static
	}
	return targets.MultiDiscovery{static, targets.NewFileDiscovery(cfg.File)}
}

// connectNATS opens the shared NATS connection when any component needs it.
// Params: config snapshot.
// Returns: connection, nil when unused, or connect error.
func (s *Service) connectNATS() error {
	if !config.NeedsNATS(s.cfg) {
		return nil
	}
	nc, err := nats.Connect(
		strings.Join(s.cfg.NATS.URL, ","),
		nats.Name(s.cfg.Service.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("nats disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			s.logger.Info("nats reconnected", "url", conn.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	s.nc = nc
	return nil
}

// buildClassifier wires provider, shared cache tier, and breaker.
// Params: none.
// Returns: setup error.
func (s *Service) buildClassifier() error {
	cfg := s.cfg.Classifier
	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	shared, err := s.buildSharedCache(cfg)
	if err != nil {
		return err
	}
	s.classifier = classifier.New(provider, classifier.Options{
		Timeout:          time.Duration(cfg.TimeoutMS) * time.Millisecond,
		CacheSize:        cfg.Cache.Size,
		CacheTTL:         time.Duration(cfg.Cache.TTLSec) * time.Second,
		Shared:           shared,
		SharedTTL:        time.Duration(cfg.Cache.SharedTTLSec) * time.Second,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         time.Duration(cfg.Breaker.CooldownSec) * time.Second,
		Clock:            s.clock,
		Logger:           logging.Component(s.logger, "classifier"),
		Metrics:          s.metrics,
	})
	return nil
}

// buildProvider selects the remote classifier.
// Params: classifier config.
// Returns: provider, nil for fallback-only, or setup error.
func buildProvider(cfg config.ClassifierConfig) (classifier.Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		provider, err := classifier.NewOpenAIProvider(classifier.OpenAIOptions{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		return provider, nil
	case config.ProviderHTTP:
		return classifier.NewHTTPProvider(cfg.HTTP.URL, cfg.HTTP.Headers, nil), nil
	default:
		return nil, nil
	}
}

// buildSharedCache opens the optional L2 cache.
func (s *Service) buildSharedCache(cfg config.ClassifierConfig) (classifier.SharedCache, error) {
	switch cfg.Cache.Shared {
	case config.SharedCacheNATS:
		setupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cache, err := classifier.NewNATSCache(setupCtx, s.nc, cfg.NATS.Bucket, time.Duration(cfg.Cache.SharedTTLSec)*time.Second)
		if err != nil {
			return nil, err
		}
		return cache, nil
	case config.SharedCacheRedis:
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return classifier.NewRedisCache(s.redis), nil
	default:
		return nil, nil
	}
}

// buildDeadLetter selects the dead-letter sink.
func (s *Service) buildDeadLetter() error {
	cfg := s.cfg.Publisher.DLQ
	switch cfg.Backend {
	case config.DLQBackendNATS:
		queue, err := deadletter.NewNATSQueue(s.nc, cfg)
		if err != nil {
			return err
		}
		s.deadLetter = queue
	case config.DLQBackendMemory:
		s.deadLetter = deadletter.NewMemoryQueue(cfg.MemoryCapacity)
	default:
		s.deadLetter = deadletter.Discard{}
	}
	return nil
}

// buildReplayer starts the dead-letter replay consumer when enabled.
func (s *Service) buildReplayer() error {
	cfg := s.cfg.Publisher.DLQ
	if !cfg.Replay || cfg.Backend != config.DLQBackendNATS {
		return nil
	}
	replayer, err := deadletter.NewReplayer(s.nc, cfg, s.replayEntry, logging.Component(s.logger, "dlq-replay"))
	if err != nil {
		return err
	}
	s.replayer = replayer
	return nil
}

// replayEntry re-delivers one dead-letter entry to the current definition of its target.
// Params: ctx and entry.
// Returns: nil on success, permanent error when the target is gone or rejects the payload.
func (s *Service) replayEntry(ctx context.Context, entry deadletter.Entry) error {
	target, ok := findTarget(s.registry.Snapshot(), entry.TargetName)
	if !ok {
		return permanent.Errorf(permanent.ReasonTargetMissing, "target %q no longer registered", entry.TargetName)
	}
	if !target.Enabled {
		return permanent.Errorf(permanent.ReasonTargetDisabled, "target %q is disabled", entry.TargetName)
	}
	result := s.publisher.Deliver(ctx, entry.Alert, entry.Classification, target)
	if result.Success {
		s.logger.Info("dead-letter entry replayed", "entry_id", entry.ID, "target", target.Name)
		return nil
	}
	err := errors.New(result.Error)
	if !publish.IsRetryableCode(result.ErrorCode) {
		return permanent.New(result.ErrorCode, err)
	}
	return err
}

func findTarget(list []domain.Target, name string) (domain.Target, bool) {
	for _, target := range list {
		if target.Name == name {
			return target, true
		}
	}
	return domain.Target{}, false
}

// buildHistory creates the alert history backend.
func (s *Service) buildHistory() error {
	cfg := s.cfg.History
	switch cfg.Backend {
	case config.HistoryBackendSQLite:
		store, err := history.OpenSQLite(cfg.Path, s.clock.Now)
		if err != nil {
			return err
		}
		s.history = store
	case config.HistoryBackendMemory:
		s.history = history.NewMemoryStore(cfg.MemoryCapacity, s.clock.Now)
	default:
		s.history = history.Nop{}
	}
	return nil
}

// buildHTTPServer wires the API router.
// Params: none.
// Returns: setup error.
func (s *Service) buildHTTPServer() error {
	httpCfg := s.cfg.Ingest.HTTP
	mux := http.NewServeMux()
	mux.Handle(httpCfg.HealthPath, ingest.NewHealthHandler())
	mux.Handle(httpCfg.ReadyPath, ingest.NewReadyHandler(s.readyFlag.Load))
	mux.Handle(httpCfg.ModePath, ingest.NewModeHandler(s.modeManager, s.clock))
	if s.metricsHandler != nil {
		mux.Handle(s.cfg.Metrics.Path, s.metricsHandler)
	}
	if httpCfg.Enabled {
		timeout := time.Duration(httpCfg.RequestTimeoutSec) * time.Second
		handler := ingest.NewWebhookHandler(s.orchestrator, httpCfg.MaxBodyBytes, timeout, s.clock, logging.Component(s.logger, "http"))
		mux.Handle(httpCfg.WebhookPath, handler)
	}

	s.httpSrv = &http.Server{
		Addr:              httpCfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}
