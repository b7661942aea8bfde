package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"alertrelay/internal/domain"
	"alertrelay/internal/templatefmt"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName          = "alertrelay"
	defaultHTTPListen           = ":8080"
	defaultHealthPath           = "/healthz"
	defaultReadyPath            = "/readyz"
	defaultWebhookPath          = "/webhook"
	defaultModePath             = "/mode"
	defaultMetricsPath          = "/metrics"
	defaultRequestTimeoutSec    = 30
	defaultNATSURL              = "nats://127.0.0.1:4222"
	defaultNATSWebhookSubject   = "alertrelay.webhooks"
	defaultNATSWebhookStream    = "ALERTRELAY_WEBHOOKS"
	defaultNATSWebhookConsumer  = "alertrelay-ingest"
	defaultNATSWebhookGroup     = "alertrelay-workers"
	defaultNATSAckWaitSec       = 60
	defaultNATSNackDelayMS      = 1000
	defaultNATSMaxDeliver       = 5
	defaultNATSMaxAckPending    = 256
	defaultNATSCacheBucket      = "alertrelay_classification"
	defaultNATSDLQSubject       = "alertrelay.dlq"
	defaultNATSDLQStream        = "ALERTRELAY_DLQ"
	defaultNATSDLQConsumer      = "alertrelay-dlq-replay"
	defaultReloadSeconds        = 5
	defaultClassifierTimeoutMS  = 5000
	defaultCacheSize            = 1000
	defaultCacheTTLSec          = 900
	defaultBreakerThreshold     = 5
	defaultBreakerCooldownSec   = 30
	defaultOpenAIModel          = "gpt-4o-mini"
	defaultOpenAIMaxTokens      = 300
	defaultPublisherConcurrency = 10
	defaultPublisherTimeoutMS   = 5000
	defaultPublisherMaxRetries  = 3
	defaultDLQMemoryCapacity    = 1000
	defaultOrchestratorWorkers  = 10
	defaultStoreTimeoutMS       = 2000
	defaultModeTickMS           = 1000
	defaultTargetsRefreshSec    = 30
	defaultHistoryCapacity      = 1000

	// ServiceModeNATS enables NATS-backed ingest, cache, and dead-letter paths.
	ServiceModeNATS = "nats"
	// ServiceModeSingle keeps single-instance mode without NATS dependencies.
	ServiceModeSingle = "single"

	// ProviderNone disables the remote classifier; every alert uses fallback.
	ProviderNone = "none"
	// ProviderOpenAI uses an OpenAI-compatible chat completion API.
	ProviderOpenAI = "openai"
	// ProviderHTTP uses a generic JSON classification endpoint.
	ProviderHTTP = "http"

	// SharedCacheNone disables the L2 cache.
	SharedCacheNone = "none"
	// SharedCacheNATS stores classifications in a JetStream KV bucket.
	SharedCacheNATS = "nats"
	// SharedCacheRedis stores classifications in Redis.
	SharedCacheRedis = "redis"

	// FailModeOpen allows alerts when filter evaluation fails.
	FailModeOpen = "open"
	// FailModeClosed denies alerts when filter evaluation fails.
	FailModeClosed = "closed"

	// FilterKindSeverity matches classified severity lists.
	FilterKindSeverity = "severity"
	// FilterKindLabel matches label equality and regex predicates.
	FilterKindLabel = "label"
	// FilterKindNamespace matches namespace wildcard include/exclude lists.
	FilterKindNamespace = "namespace"
	// FilterKindTimeWindow denies alerts outside a weekly business window.
	FilterKindTimeWindow = "time_window"
	// FilterKindConfidence denies low-confidence classifications.
	FilterKindConfidence = "confidence"

	// DLQBackendNone drops failed deliveries after logging.
	DLQBackendNone = "none"
	// DLQBackendMemory keeps failed deliveries in a bounded in-process queue.
	DLQBackendMemory = "memory"
	// DLQBackendNATS publishes failed deliveries into a JetStream stream.
	DLQBackendNATS = "nats"

	// HistoryBackendNone disables alert history.
	HistoryBackendNone = "none"
	// HistoryBackendMemory keeps recent alerts in memory.
	HistoryBackendMemory = "memory"
	// HistoryBackendSQLite persists alerts in a SQLite database file.
	HistoryBackendSQLite = "sqlite"
)

var (
	clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
	weekdayNames = map[string]time.Weekday{
		"sun": time.Sunday,
		"mon": time.Monday,
		"tue": time.Tuesday,
		"wed": time.Wednesday,
		"thu": time.Thursday,
		"fri": time.Friday,
		"sat": time.Saturday,
	}
)

// Config holds service runtime settings.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service      ServiceConfig      `toml:"service"`
	Log          LogConfig          `toml:"log"`
	Ingest       IngestConfig       `toml:"ingest"`
	NATS         NATSConfig         `toml:"nats"`
	Classifier   ClassifierConfig   `toml:"classifier"`
	Filter       FilterConfig       `toml:"filter"`
	Targets      TargetsConfig      `toml:"targets"`
	Publisher    PublisherConfig    `toml:"publisher"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Mode         ModeConfig         `toml:"mode"`
	History      HistoryConfig      `toml:"history"`
	Metrics      MetricsConfig      `toml:"metrics"`
}

// ServiceConfig contains process-level settings.
// Params: name, runtime mode, and reload settings.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name              string `toml:"name"`
	Mode              string `toml:"mode"`
	ReloadEnabled     bool   `toml:"reload_enabled"`
	ReloadIntervalSec int    `toml:"reload_interval_sec"`
}

// IngestConfig defines inbound webhook interfaces.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig configures the HTTP API.
// Params: listen address, endpoint paths, body limit, and per-request deadline.
// Returns: HTTP server behavior.
type HTTPIngestConfig struct {
	Enabled           bool   `toml:"enabled"`
	Listen            string `toml:"listen"`
	HealthPath        string `toml:"health_path"`
	ReadyPath         string `toml:"ready_path"`
	WebhookPath       string `toml:"webhook_path"`
	ModePath          string `toml:"mode_path"`
	MaxBodyBytes      int64  `toml:"max_body_bytes"`
	RequestTimeoutSec int    `toml:"request_timeout_sec"`
}

// NATSIngestConfig configures JetStream queue-consumer ingestion of webhook payloads.
// Params: worker/ack/redelivery policy; stream routing keys are runtime-fixed.
// Returns: NATS ingest behavior.
type NATSIngestConfig struct {
	Enabled       bool   `toml:"enabled"`
	Subject       string `toml:"-"`
	Stream        string `toml:"-"`
	ConsumerName  string `toml:"-"`
	DeliverGroup  string `toml:"-"`
	Workers       int    `toml:"workers"`
	AckWaitSec    int    `toml:"ack_wait_sec"`
	NackDelayMS   int    `toml:"nack_delay_ms"`
	MaxDeliver    int    `toml:"max_deliver"`
	MaxAckPending int    `toml:"max_ack_pending"`
}

// NATSConfig holds the shared NATS connection settings.
type NATSConfig struct {
	URL []string `toml:"url"`
}

// ClassifierConfig configures alert classification.
// Params: provider selection, call timeout, cache tiers, breaker, and provider options.
// Returns: classifier behavior.
type ClassifierConfig struct {
	Provider  string                 `toml:"provider"`
	TimeoutMS int                    `toml:"timeout_ms"`
	Cache     ClassifierCacheConfig  `toml:"cache"`
	Breaker   BreakerConfig          `toml:"breaker"`
	OpenAI    OpenAIProviderConfig   `toml:"openai"`
	HTTP      HTTPProviderConfig     `toml:"http"`
	Redis     RedisConfig            `toml:"redis"`
	NATS      NATSClassifierKVConfig `toml:"-"`
}

// ClassifierCacheConfig configures L1 and optional shared L2 cache.
type ClassifierCacheConfig struct {
	Size         int    `toml:"size"`
	TTLSec       int    `toml:"ttl_sec"`
	Shared       string `toml:"shared"`
	SharedTTLSec int    `toml:"shared_ttl_sec"`
}

// BreakerConfig configures the provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `toml:"failure_threshold"`
	CooldownSec      int `toml:"cooldown_sec"`
}

// OpenAIProviderConfig configures an OpenAI-compatible provider.
type OpenAIProviderConfig struct {
	APIKey      string  `toml:"api_key"`
	BaseURL     string  `toml:"base_url"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
}

// HTTPProviderConfig configures a generic JSON classification endpoint.
type HTTPProviderConfig struct {
	URL     string            `toml:"url"`
	Headers map[string]string `toml:"headers"`
}

// RedisConfig configures Redis connectivity for the shared cache.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// NATSClassifierKVConfig contains fixed JetStream KV settings for the shared cache.
type NATSClassifierKVConfig struct {
	Bucket string
}

// FilterConfig configures ordered filter rules.
// Params: fail mode and rule list in evaluation order.
// Returns: filter behavior.
type FilterConfig struct {
	FailMode string             `toml:"fail_mode"`
	Rule     []FilterRuleConfig `toml:"rule"`
}

// FailOpen reports whether evaluation errors allow alerts.
func (f FilterConfig) FailOpen() bool {
	return NormalizeFailMode(f.FailMode) != FailModeClosed
}

// FilterRuleConfig describes one filter rule.
// Params: rule name, kind, optional status scope, and kind-specific predicates.
// Returns: rule definition compiled by the filter engine.
type FilterRuleConfig struct {
	Name             string            `toml:"name"`
	Kind             string            `toml:"kind"`
	Status           []string          `toml:"status"`
	Deny             []string          `toml:"deny"`
	Allow            []string          `toml:"allow"`
	Equals           map[string]string `toml:"equals"`
	Regex            map[string]string `toml:"regex"`
	Label            string            `toml:"label"`
	Include          []string          `toml:"include"`
	Exclude          []string          `toml:"exclude"`
	Timezone         string            `toml:"timezone"`
	Days             []string          `toml:"days"`
	Start            string            `toml:"start"`
	End              string            `toml:"end"`
	ExemptSeverities []string          `toml:"exempt_severities"`
	Min              float64           `toml:"min"`
}

// TargetsConfig configures target discovery.
// Params: refresh interval, optional targets file, and static targets.
// Returns: registry inputs.
type TargetsConfig struct {
	RefreshSec int             `toml:"refresh_sec"`
	File       string          `toml:"file"`
	Target     []domain.Target `toml:"target"`
}

// PublisherConfig configures parallel publishing.
// Params: concurrency, per-attempt timeout, retry policy, and dead-letter sink.
// Returns: publisher behavior.
type PublisherConfig struct {
	MaxConcurrency int              `toml:"max_concurrency"`
	TimeoutMS      int              `toml:"timeout_ms"`
	Retry          RetryConfig      `toml:"retry"`
	DLQ            DeadLetterConfig `toml:"dlq"`
}

// RetryConfig configures bounded delivery retries.
// MaxRetries is a pointer so an explicit 0 disables retries instead of taking the default.
type RetryConfig struct {
	MaxRetries *int  `toml:"max_retries"`
	BackoffMS  []int `toml:"backoff_ms"`
}

// Retries returns the configured retry count, or the default when unset.
func (r RetryConfig) Retries() int {
	if r.MaxRetries == nil {
		return defaultPublisherMaxRetries
	}
	return *r.MaxRetries
}

// Backoff converts configured delays into durations.
func (r RetryConfig) Backoff() []time.Duration {
	out := make([]time.Duration, 0, len(r.BackoffMS))
	for _, ms := range r.BackoffMS {
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	return out
}

// DeadLetterConfig configures failed-delivery capture.
// Params: backend, memory capacity, and JetStream replay controls.
// Returns: dead-letter behavior.
type DeadLetterConfig struct {
	Backend        string `toml:"backend"`
	MemoryCapacity int    `toml:"memory_capacity"`
	Replay         bool   `toml:"replay"`
	ReplayDelayMS  int    `toml:"replay_delay_ms"`
	Subject        string `toml:"-"`
	Stream         string `toml:"-"`
	ConsumerName   string `toml:"-"`
}

// OrchestratorConfig configures per-batch processing.
type OrchestratorConfig struct {
	MaxConcurrency int `toml:"max_concurrency"`
	StoreTimeoutMS int `toml:"store_timeout_ms"`
}

// ModeConfig configures mode manager evaluation cadence.
type ModeConfig struct {
	TickMS int `toml:"tick_ms"`
}

// HistoryConfig configures fire-and-forget alert storage.
type HistoryConfig struct {
	Backend        string `toml:"backend"`
	Path           string `toml:"path"`
	MemoryCapacity int    `toml:"memory_capacity"`
}

// MetricsConfig configures Prometheus exposition.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, path, and file rotation limits.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled    bool   `toml:"enabled"`
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// ConfigSource selects file or directory configuration input.
// Params: exactly one of File or Dir must be set.
// Returns: source descriptor for loading snapshots.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI validates command-line flag combination.
// Params: values of --config-file and --config-dir.
// Returns: config source or usage error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads, defaults, and validates one config snapshot.
// Params: config source.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		err = loadFileInto(&cfg, src.File)
	} else {
		err = loadDir(&cfg, src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFileInto overlays one TOML file onto cfg.
// Params: destination config and file path.
// Returns: read/decode error.
func loadFileInto(cfg *Config, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := decodeInto(cfg, body); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}
	return nil
}

// decodeInto decodes body over existing values, appending ordered arrays.
// Params: destination config and TOML document.
// Returns: strict decode error.
func decodeInto(cfg *Config, body []byte) error {
	rules := cfg.Filter.Rule
	targets := cfg.Targets.Target
	cfg.Filter.Rule = nil
	cfg.Targets.Target = nil

	decoder := toml.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(cfg)

	cfg.Filter.Rule = append(rules, cfg.Filter.Rule...)
	cfg.Targets.Target = append(targets, cfg.Targets.Target...)
	return err
}

// loadDir reads and merges TOML files from one directory in name order.
// Params: destination config and directory containing fragments.
// Returns: merged config or load/decode error.
func loadDir(cfg *Config, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	for _, file := range files {
		if err := loadFileInto(cfg, file); err != nil {
			return err
		}
	}
	return nil
}

// LoadTargetsFile reads a standalone targets file with `[[target]]` entries.
// Params: file path.
// Returns: targets in file order or read/decode error.
func LoadTargetsFile(path string) ([]domain.Target, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file %q: %w", path, err)
	}
	var doc struct {
		Target []domain.Target `toml:"target"`
	}
	if err := toml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode targets file %q: %w", path, err)
	}
	for i := range doc.Target {
		normalizeTarget(&doc.Target[i])
		if err := ValidateTarget(doc.Target[i]); err != nil {
			return nil, fmt.Errorf("targets file %q: target[%d]: %w", path, i, err)
		}
	}
	return doc.Target, nil
}

// applyDefaults fills omitted settings.
// Params: config pointer to mutate.
// Returns: none.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	cfg.Service.Mode = NormalizeServiceMode(cfg.Service.Mode)
	if cfg.Service.ReloadIntervalSec <= 0 {
		cfg.Service.ReloadIntervalSec = defaultReloadSeconds
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if cfg.Log.File.MaxSizeMB <= 0 {
		cfg.Log.File.MaxSizeMB = 100
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	applyIngestDefaults(cfg)

	if len(normalizeNATSURLs(cfg.NATS.URL)) == 0 {
		cfg.NATS.URL = []string{defaultNATSURL}
	} else {
		cfg.NATS.URL = normalizeNATSURLs(cfg.NATS.URL)
	}

	applyClassifierDefaults(&cfg.Classifier)

	cfg.Filter.FailMode = NormalizeFailMode(cfg.Filter.FailMode)
	for i := range cfg.Filter.Rule {
		rule := &cfg.Filter.Rule[i]
		rule.Kind = strings.ToLower(strings.TrimSpace(rule.Kind))
		if rule.Kind == FilterKindNamespace && strings.TrimSpace(rule.Label) == "" {
			rule.Label = domain.LabelNamespace
		}
		if rule.Kind == FilterKindTimeWindow && rule.ExemptSeverities == nil {
			rule.ExemptSeverities = []string{string(domain.SeverityCritical)}
		}
		if rule.Kind == FilterKindTimeWindow && strings.TrimSpace(rule.Timezone) == "" {
			rule.Timezone = "UTC"
		}
	}

	if cfg.Targets.RefreshSec <= 0 {
		cfg.Targets.RefreshSec = defaultTargetsRefreshSec
	}
	for i := range cfg.Targets.Target {
		normalizeTarget(&cfg.Targets.Target[i])
	}

	applyPublisherDefaults(cfg)

	if cfg.Orchestrator.MaxConcurrency <= 0 {
		cfg.Orchestrator.MaxConcurrency = defaultOrchestratorWorkers
	}
	if cfg.Orchestrator.StoreTimeoutMS <= 0 {
		cfg.Orchestrator.StoreTimeoutMS = defaultStoreTimeoutMS
	}
	if cfg.Mode.TickMS <= 0 {
		cfg.Mode.TickMS = defaultModeTickMS
	}

	cfg.History.Backend = strings.ToLower(strings.TrimSpace(cfg.History.Backend))
	if cfg.History.Backend == "" {
		cfg.History.Backend = HistoryBackendMemory
	}
	if cfg.History.MemoryCapacity <= 0 {
		cfg.History.MemoryCapacity = defaultHistoryCapacity
	}

	if strings.TrimSpace(cfg.Metrics.Path) == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
}

// applyIngestDefaults fills HTTP and NATS ingest defaults.
// Params: config pointer to mutate.
// Returns: none.
func applyIngestDefaults(cfg *Config) {
	httpCfg := &cfg.Ingest.HTTP
	if strings.TrimSpace(httpCfg.Listen) == "" {
		httpCfg.Listen = defaultHTTPListen
	}
	if strings.TrimSpace(httpCfg.HealthPath) == "" {
		httpCfg.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(httpCfg.ReadyPath) == "" {
		httpCfg.ReadyPath = defaultReadyPath
	}
	if strings.TrimSpace(httpCfg.WebhookPath) == "" {
		httpCfg.WebhookPath = defaultWebhookPath
	}
	if strings.TrimSpace(httpCfg.ModePath) == "" {
		httpCfg.ModePath = defaultModePath
	}
	if httpCfg.MaxBodyBytes <= 0 {
		httpCfg.MaxBodyBytes = 4 << 20
	}
	if httpCfg.RequestTimeoutSec <= 0 {
		httpCfg.RequestTimeoutSec = defaultRequestTimeoutSec
	}
	if cfg.Service.Mode == ServiceModeSingle {
		httpCfg.Enabled = true
		cfg.Ingest.NATS.Enabled = false
	}

	natsCfg := &cfg.Ingest.NATS
	natsCfg.Subject = defaultNATSWebhookSubject
	natsCfg.Stream = defaultNATSWebhookStream
	natsCfg.ConsumerName = defaultNATSWebhookConsumer
	natsCfg.DeliverGroup = defaultNATSWebhookGroup
	if natsCfg.Workers <= 0 {
		natsCfg.Workers = 1
	}
	if natsCfg.AckWaitSec <= 0 {
		natsCfg.AckWaitSec = defaultNATSAckWaitSec
	}
	if natsCfg.NackDelayMS <= 0 {
		natsCfg.NackDelayMS = defaultNATSNackDelayMS
	}
	if natsCfg.MaxDeliver == 0 {
		natsCfg.MaxDeliver = defaultNATSMaxDeliver
	}
	if natsCfg.MaxAckPending <= 0 {
		natsCfg.MaxAckPending = defaultNATSMaxAckPending
	}
}

// applyClassifierDefaults fills classifier defaults.
// Params: classifier config pointer.
// Returns: none.
func applyClassifierDefaults(cfg *ClassifierConfig) {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = ProviderNone
	}
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = defaultClassifierTimeoutMS
	}
	if cfg.Cache.Size <= 0 {
		cfg.Cache.Size = defaultCacheSize
	}
	if cfg.Cache.TTLSec <= 0 {
		cfg.Cache.TTLSec = defaultCacheTTLSec
	}
	cfg.Cache.Shared = strings.ToLower(strings.TrimSpace(cfg.Cache.Shared))
	if cfg.Cache.Shared == "" {
		cfg.Cache.Shared = SharedCacheNone
	}
	if cfg.Cache.SharedTTLSec <= 0 {
		cfg.Cache.SharedTTLSec = cfg.Cache.TTLSec
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = defaultBreakerThreshold
	}
	if cfg.Breaker.CooldownSec <= 0 {
		cfg.Breaker.CooldownSec = defaultBreakerCooldownSec
	}
	if strings.TrimSpace(cfg.OpenAI.Model) == "" {
		cfg.OpenAI.Model = defaultOpenAIModel
	}
	if cfg.OpenAI.MaxTokens <= 0 {
		cfg.OpenAI.MaxTokens = defaultOpenAIMaxTokens
	}
	cfg.NATS.Bucket = defaultNATSCacheBucket
}

// applyPublisherDefaults fills publisher and dead-letter defaults.
// Params: config pointer to mutate.
// Returns: none.
func applyPublisherDefaults(cfg *Config) {
	pub := &cfg.Publisher
	if pub.MaxConcurrency <= 0 {
		pub.MaxConcurrency = defaultPublisherConcurrency
	}
	if pub.TimeoutMS <= 0 {
		pub.TimeoutMS = defaultPublisherTimeoutMS
	}
	if pub.Retry.MaxRetries == nil {
		retries := defaultPublisherMaxRetries
		pub.Retry.MaxRetries = &retries
	}
	if len(pub.Retry.BackoffMS) == 0 {
		pub.Retry.BackoffMS = []int{100, 500, 2000}
	}
	pub.DLQ.Backend = strings.ToLower(strings.TrimSpace(pub.DLQ.Backend))
	if pub.DLQ.Backend == "" {
		pub.DLQ.Backend = DLQBackendMemory
	}
	if pub.DLQ.MemoryCapacity <= 0 {
		pub.DLQ.MemoryCapacity = defaultDLQMemoryCapacity
	}
	if pub.DLQ.ReplayDelayMS <= 0 {
		pub.DLQ.ReplayDelayMS = 30000
	}
	pub.DLQ.Subject = defaultNATSDLQSubject
	pub.DLQ.Stream = defaultNATSDLQStream
	pub.DLQ.ConsumerName = defaultNATSDLQConsumer
}

// normalizeTarget trims target identity fields.
func normalizeTarget(target *domain.Target) {
	target.Name = strings.TrimSpace(target.Name)
	target.Type = strings.ToLower(strings.TrimSpace(target.Type))
	target.Endpoint = strings.TrimSpace(target.Endpoint)
	if target.Type == "generic" {
		target.Type = domain.TargetTypeWebhook
	}
}

// validateConfig checks cross-field invariants after defaults.
// Params: config snapshot.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	if !IsSupportedServiceMode(cfg.Service.Mode) {
		return fmt.Errorf("service.mode has unsupported value %q", cfg.Service.Mode)
	}
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}
	if cfg.Log.File.MaxBackups < 0 || cfg.Log.File.MaxAgeDays < 0 {
		return errors.New("log.file rotation limits must be >=0")
	}

	httpCfg := cfg.Ingest.HTTP
	for name, path := range map[string]string{
		"health_path":  httpCfg.HealthPath,
		"ready_path":   httpCfg.ReadyPath,
		"webhook_path": httpCfg.WebhookPath,
		"mode_path":    httpCfg.ModePath,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("ingest.http.%s must start with /", name)
		}
	}
	if !cfg.Ingest.HTTP.Enabled && !cfg.Ingest.NATS.Enabled {
		return errors.New("at least one of ingest.http.enabled or ingest.nats.enabled must be true")
	}
	if cfg.Ingest.NATS.Enabled {
		if cfg.Ingest.NATS.MaxDeliver < -1 {
			return errors.New("ingest.nats.max_deliver must be -1 or >0")
		}
	}
	if cfg.Service.Mode == ServiceModeSingle && usesNATS(cfg) {
		return errors.New("NATS-backed components require service.mode=nats")
	}

	if err := validateClassifier(cfg.Classifier); err != nil {
		return err
	}
	if err := validateFilter(cfg.Filter); err != nil {
		return err
	}
	if err := validateTargets(cfg.Targets); err != nil {
		return err
	}

	pub := cfg.Publisher
	if pub.Retry.Retries() < 0 {
		return errors.New("publisher.retry.max_retries must be >=0")
	}
	for i, ms := range pub.Retry.BackoffMS {
		if ms < 0 {
			return fmt.Errorf("publisher.retry.backoff_ms[%d] must be >=0", i)
		}
	}
	switch pub.DLQ.Backend {
	case DLQBackendNone, DLQBackendMemory, DLQBackendNATS:
	default:
		return fmt.Errorf("publisher.dlq.backend has unsupported value %q", pub.DLQ.Backend)
	}
	if pub.DLQ.Replay && pub.DLQ.Backend != DLQBackendNATS {
		return errors.New("publisher.dlq.replay requires publisher.dlq.backend=nats")
	}

	switch cfg.History.Backend {
	case HistoryBackendNone, HistoryBackendMemory:
	case HistoryBackendSQLite:
		if strings.TrimSpace(cfg.History.Path) == "" {
			return errors.New("history.path is required when history.backend=sqlite")
		}
	default:
		return fmt.Errorf("history.backend has unsupported value %q", cfg.History.Backend)
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	return nil
}

// usesNATS reports whether any component needs a NATS connection.
func usesNATS(cfg Config) bool {
	return cfg.Ingest.NATS.Enabled ||
		cfg.Classifier.Cache.Shared == SharedCacheNATS ||
		cfg.Publisher.DLQ.Backend == DLQBackendNATS
}

// NeedsNATS reports whether runtime must open a NATS connection.
// Params: config snapshot.
// Returns: true when ingest, shared cache, or dead letter use JetStream.
func NeedsNATS(cfg Config) bool {
	return cfg.Service.Mode == ServiceModeNATS && usesNATS(cfg)
}

// validateClassifier checks provider, cache, and breaker settings.
func validateClassifier(cfg ClassifierConfig) error {
	switch cfg.Provider {
	case ProviderNone:
	case ProviderOpenAI:
		if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
			return errors.New("classifier.openai.api_key is required when classifier.provider=openai")
		}
		if cfg.OpenAI.Temperature < 0 || cfg.OpenAI.Temperature > 2 {
			return errors.New("classifier.openai.temperature must be in [0,2]")
		}
	case ProviderHTTP:
		if strings.TrimSpace(cfg.HTTP.URL) == "" {
			return errors.New("classifier.http.url is required when classifier.provider=http")
		}
	default:
		return fmt.Errorf("classifier.provider has unsupported value %q", cfg.Provider)
	}
	switch cfg.Cache.Shared {
	case SharedCacheNone, SharedCacheNATS:
	case SharedCacheRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return errors.New("classifier.redis.addr is required when classifier.cache.shared=redis")
		}
	default:
		return fmt.Errorf("classifier.cache.shared has unsupported value %q", cfg.Cache.Shared)
	}
	return nil
}

// validateFilter checks rule names and kind-specific fields.
func validateFilter(cfg FilterConfig) error {
	switch cfg.FailMode {
	case FailModeOpen, FailModeClosed:
	default:
		return fmt.Errorf("filter.fail_mode has unsupported value %q", cfg.FailMode)
	}
	seen := make(map[string]struct{}, len(cfg.Rule))
	for i, rule := range cfg.Rule {
		path := fmt.Sprintf("filter.rule[%d]", i)
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return fmt.Errorf("%s.name is required", path)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate filter rule name %q", name)
		}
		seen[name] = struct{}{}
		if err := ValidateFilterRule(rule); err != nil {
			return fmt.Errorf("%s (%s): %w", path, name, err)
		}
	}
	return nil
}

// ValidateFilterRule checks one rule body.
// Params: rule config with normalized kind.
// Returns: validation error.
func ValidateFilterRule(rule FilterRuleConfig) error {
	for _, status := range rule.Status {
		switch domain.AlertStatus(strings.ToLower(status)) {
		case domain.AlertStatusFiring, domain.AlertStatusResolved:
		default:
			return fmt.Errorf("status has unsupported value %q", status)
		}
	}
	switch rule.Kind {
	case FilterKindSeverity:
		if len(rule.Deny) == 0 && len(rule.Allow) == 0 {
			return errors.New("severity rule needs deny or allow list")
		}
		if len(rule.Deny) > 0 && len(rule.Allow) > 0 {
			return errors.New("severity rule must set only one of deny or allow")
		}
	case FilterKindLabel:
		if len(rule.Equals) == 0 && len(rule.Regex) == 0 {
			return errors.New("label rule needs equals or regex predicates")
		}
		for key, pattern := range rule.Regex {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("regex.%s is invalid: %w", key, err)
			}
		}
	case FilterKindNamespace:
		if len(rule.Include) == 0 && len(rule.Exclude) == 0 {
			return errors.New("namespace rule needs include or exclude patterns")
		}
		for _, pattern := range append(append([]string{}, rule.Include...), rule.Exclude...) {
			if _, err := CompileWildcardPattern(pattern); err != nil {
				return fmt.Errorf("pattern %q is invalid: %w", pattern, err)
			}
		}
	case FilterKindTimeWindow:
		if _, err := time.LoadLocation(rule.Timezone); err != nil {
			return fmt.Errorf("timezone %q is invalid: %w", rule.Timezone, err)
		}
		if !clockPattern.MatchString(rule.Start) || !clockPattern.MatchString(rule.End) {
			return errors.New("start and end must use HH:MM")
		}
		if rule.Start == rule.End {
			return errors.New("start and end must differ")
		}
		if _, err := ParseWeekdays(rule.Days); err != nil {
			return err
		}
	case FilterKindConfidence:
		if rule.Min <= 0 || rule.Min > 1 {
			return errors.New("min must be in (0,1]")
		}
	default:
		return fmt.Errorf("unsupported kind %q", rule.Kind)
	}
	return nil
}

// ParseWeekdays converts short day names into a weekday set.
// Params: names like "mon"; empty list means Monday to Friday.
// Returns: weekday set or error on unknown names.
func ParseWeekdays(days []string) (map[time.Weekday]struct{}, error) {
	out := make(map[time.Weekday]struct{}, 7)
	if len(days) == 0 {
		for day := time.Monday; day <= time.Friday; day++ {
			out[day] = struct{}{}
		}
		return out, nil
	}
	for _, raw := range days {
		key := strings.ToLower(strings.TrimSpace(raw))
		if len(key) > 3 {
			key = key[:3]
		}
		day, ok := weekdayNames[key]
		if !ok {
			return nil, fmt.Errorf("unsupported day %q", raw)
		}
		out[day] = struct{}{}
	}
	return out, nil
}

// ParseClock converts HH:MM into minutes since midnight.
func ParseClock(value string) (int, error) {
	if !clockPattern.MatchString(value) {
		return 0, fmt.Errorf("invalid clock %q", value)
	}
	hours := int(value[0]-'0')*10 + int(value[1]-'0')
	minutes := int(value[3]-'0')*10 + int(value[4]-'0')
	return hours*60 + minutes, nil
}

// validateTargets checks static target entries.
func validateTargets(cfg TargetsConfig) error {
	seen := make(map[string]struct{}, len(cfg.Target))
	for i, target := range cfg.Target {
		if err := ValidateTarget(target); err != nil {
			return fmt.Errorf("targets.target[%d]: %w", i, err)
		}
		if _, ok := seen[target.Name]; ok {
			return fmt.Errorf("duplicate target name %q", target.Name)
		}
		seen[target.Name] = struct{}{}
	}
	return nil
}

// ValidateTarget checks one target definition.
// Params: normalized target.
// Returns: validation error.
func ValidateTarget(target domain.Target) error {
	if target.Name == "" {
		return errors.New("name is required")
	}
	if !domain.IsSupportedTargetType(target.Type) {
		return fmt.Errorf("type has unsupported value %q", target.Type)
	}
	if target.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if target.Type == domain.TargetTypeTelegram && target.Secret == "" {
		return errors.New("secret (bot token) is required for telegram targets")
	}
	if strings.TrimSpace(target.Template) != "" {
		if _, err := templatefmt.ParseTargetTemplate(target.Name, target.Template); err != nil {
			return fmt.Errorf("template is invalid: %w", err)
		}
	}
	return nil
}

// normalizeNATSURLs trims and drops empty URLs.
func normalizeNATSURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		trimmed := strings.TrimSpace(url)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// CompileWildcardPattern converts a glob-like pattern into a case-insensitive anchored regexp.
// Params: pattern with `*` and `?` wildcards.
// Returns: compiled regexp or compile error.
func CompileWildcardPattern(pattern string) (*regexp.Regexp, error) {
	replacer := strings.NewReplacer(
		".", "\\.",
		"+", "\\+",
		"(", "\\(",
		")", "\\)",
		"[", "\\[",
		"]", "\\]",
		"{", "\\{",
		"}", "\\}",
		"^", "\\^",
		"$", "\\$",
		"|", "\\|",
	)
	normalized := replacer.Replace(strings.ToLower(pattern))
	normalized = strings.ReplaceAll(normalized, "*", ".*")
	normalized = strings.ReplaceAll(normalized, "?", ".")
	return regexp.Compile("^" + normalized + "$")
}

// NormalizeServiceMode lowercases mode and defaults to single.
func NormalizeServiceMode(value string) string {
	mode := strings.ToLower(strings.TrimSpace(value))
	if mode == "" {
		return ServiceModeSingle
	}
	return mode
}

// IsSupportedServiceMode reports whether mode is known.
func IsSupportedServiceMode(mode string) bool {
	switch mode {
	case ServiceModeSingle, ServiceModeNATS:
		return true
	default:
		return false
	}
}

// NormalizeFailMode lowercases fail mode and defaults to open.
func NormalizeFailMode(value string) string {
	mode := strings.ToLower(strings.TrimSpace(value))
	if mode == "" {
		return FailModeOpen
	}
	return mode
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}

	return nil
}
