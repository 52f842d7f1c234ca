package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"stockwatch/internal/domain"
	"stockwatch/internal/templatefmt"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName        = "stockwatch"
	defaultMonitorIntervalMin = 5
	defaultHTTPListen         = ":8080"
	defaultHealthPath         = "/healthz"
	defaultReadyPath          = "/readyz"
	defaultMetricsPath        = "/metrics"
	defaultWebSocketPath      = "/ws"
	defaultMaxBodyBytes       = 1 << 20
	defaultProductsTable      = "products"
	defaultQueryTimeoutSec    = 10
	defaultChannelTimeoutSec  = 15
	defaultBreakerFailures    = 5
	defaultBreakerOpenSec     = 60
	defaultRetryBackoff       = RetryBackoffExponential
	defaultRetryInitialMS     = 500
	defaultRetryMaxMS         = 5000
	defaultRetryMaxAttempts   = 3
	defaultSMTPPort           = 587
	defaultSMSRatePerSec      = 1
	defaultSMSBurst           = 5
	defaultTelegramAPIBase    = "https://api.telegram.org"
	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultNATSSubjectPrefix  = "stockwatch.events"
	defaultNATSStream         = "STOCKWATCH_EVENTS"
	defaultWSSendBuffer       = 16
	defaultIngestHTTPPath     = "/api/products"
	defaultIngestSubject      = "stockwatch.products"
	defaultIngestQueueGroup   = "stockwatch-ingest"

	// DataSourceMemory keeps products in process memory (seeded from config).
	DataSourceMemory = "memory"
	// DataSourcePostgres reads products from PostgreSQL.
	DataSourcePostgres = "postgres"

	// SMSProviderHTTP posts messages to an HTTP SMS gateway.
	SMSProviderHTTP = "http"
	// SMSProviderTelegram sends text messages through a Telegram bot.
	SMSProviderTelegram = "telegram"
)

var envPlaceholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config holds service runtime settings and alert rules.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service    ServiceConfig    `toml:"service"`
	Log        LogConfig        `toml:"log"`
	API        APIConfig        `toml:"api"`
	DataSource DataSourceConfig `toml:"datasource"`
	Recipients RecipientsConfig `toml:"recipients"`
	Notify     NotifyConfig     `toml:"notify"`
	Transport  TransportConfig  `toml:"transport"`
	Ingest     IngestConfig     `toml:"ingest"`
	Rule       []RuleConfig     `toml:"-"`
}

// rawConfig mirrors TOML model before rule normalization.
// Params: decoded sections from one TOML source.
// Returns: raw rule map keyed by rule id.
type rawConfig struct {
	Service    ServiceConfig         `toml:"service"`
	Log        LogConfig             `toml:"log"`
	API        APIConfig             `toml:"api"`
	DataSource DataSourceConfig      `toml:"datasource"`
	Recipients RecipientsConfig      `toml:"recipients"`
	Notify     NotifyConfig          `toml:"notify"`
	Transport  TransportConfig       `toml:"transport"`
	Ingest     IngestConfig          `toml:"ingest"`
	Rule       map[string]RuleConfig `toml:"rule"`
}

// ServiceConfig contains process-level settings.
// Params: name, monitoring interval, and startup toggles.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name               string `toml:"name"`
	MonitorIntervalMin int    `toml:"monitor_interval_min"`
	AutoStart          *bool  `toml:"auto_start"`
	DefaultRules       *bool  `toml:"default_rules"`
}

// MonitorInterval converts configured minutes to duration.
// Params: none.
// Returns: evaluation interval.
func (s ServiceConfig) MonitorInterval() time.Duration {
	return time.Duration(s.MonitorIntervalMin) * time.Minute
}

// AutoStartEnabled reports whether monitoring starts with the service.
// Params: none.
// Returns: configured flag (default true).
func (s ServiceConfig) AutoStartEnabled() bool {
	return s.AutoStart == nil || *s.AutoStart
}

// DefaultRulesEnabled reports whether built-in rules are installed at startup.
// Params: none.
// Returns: configured flag (default true).
func (s ServiceConfig) DefaultRulesEnabled() bool {
	return s.DefaultRules == nil || *s.DefaultRules
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// APIConfig configures the HTTP command surface.
// Params: listen address, health/metrics/websocket paths, and body limit.
// Returns: HTTP server behavior.
type APIConfig struct {
	Enabled       bool   `toml:"enabled"`
	Listen        string `toml:"listen"`
	HealthPath    string `toml:"health_path"`
	ReadyPath     string `toml:"ready_path"`
	MetricsPath   string `toml:"metrics_path"`
	WebSocketPath string `toml:"websocket_path"`
	MaxBodyBytes  int64  `toml:"max_body_bytes"`
}

// DataSourceConfig selects the product data backend.
// Params: backend kind, connection settings, and inline products for memory mode.
// Returns: data source options.
type DataSourceConfig struct {
	Kind            string          `toml:"kind"`
	DSN             string          `toml:"dsn"`
	Table           string          `toml:"table"`
	QueryTimeoutSec int             `toml:"query_timeout_sec"`
	Product         []ProductConfig `toml:"product"`
}

// QueryTimeout returns per-query timeout.
// Params: none.
// Returns: timeout duration.
func (d DataSourceConfig) QueryTimeout() time.Duration {
	return time.Duration(d.QueryTimeoutSec) * time.Second
}

// ProductConfig is one seeded product for memory data source.
// Params: id, name, unit price, stock.
// Returns: product record.
type ProductConfig struct {
	ID    string  `toml:"id"`
	Name  string  `toml:"name"`
	Price float64 `toml:"price"`
	Stock float64 `toml:"stock"`
}

// RecipientsConfig lists default notification recipients.
// Params: email addresses and phone numbers (or chat ids for telegram sms provider).
// Returns: default recipient set.
type RecipientsConfig struct {
	Emails []string `toml:"emails"`
	Phones []string `toml:"phones"`
}

// Recipients converts config to domain recipient set.
// Params: none.
// Returns: copied recipient lists.
func (r RecipientsConfig) Recipients() domain.Recipients {
	return domain.Recipients{
		Emails: append([]string(nil), r.Emails...),
		Phones: append([]string(nil), r.Phones...),
	}
}

// NotifyConfig defines outbound notification behavior.
// Params: per-channel timeout, breaker policy, and channel transports.
// Returns: notification controls.
type NotifyConfig struct {
	ChannelTimeoutSec int           `toml:"channel_timeout_sec"`
	Breaker           BreakerConfig `toml:"breaker"`
	Retry             RetryConfig   `toml:"retry"`
	Email             EmailConfig   `toml:"email"`
	SMS               SMSConfig     `toml:"sms"`
}

// ChannelTimeout returns per-channel send bound.
// Params: none.
// Returns: timeout duration.
func (n NotifyConfig) ChannelTimeout() time.Duration {
	return time.Duration(n.ChannelTimeoutSec) * time.Second
}

// BreakerConfig controls circuit breaking around external channels.
// Params: enable flag, consecutive failures before opening, and open duration.
// Returns: breaker settings.
type BreakerConfig struct {
	Enabled     bool   `toml:"enabled"`
	MaxFailures uint32 `toml:"max_failures"`
	OpenSec     int    `toml:"open_sec"`
}

const (
	// RetryBackoffExponential doubles the delay after each failed attempt.
	RetryBackoffExponential = "exponential"
	// RetryBackoffFixed keeps the initial delay between attempts.
	RetryBackoffFixed = "fixed"
)

// RetryConfig configures per-channel delivery retries inside the channel timeout.
// Params: retry toggle, backoff kind, delay bounds, and attempt limit.
// Returns: retry policy applied by the dispatcher.
type RetryConfig struct {
	Enabled        bool   `toml:"enabled"`
	Backoff        string `toml:"backoff"`
	InitialMS      int    `toml:"initial_ms"`
	MaxMS          int    `toml:"max_ms"`
	MaxAttempts    int    `toml:"max_attempts"`
	LogEachAttempt bool   `toml:"log_each_attempt"`
}

// EmailConfig defines SMTP channel settings.
// Params: server, credentials, sender, and message templates.
// Returns: email sender configuration.
type EmailConfig struct {
	Enabled         bool   `toml:"enabled"`
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	From            string `toml:"from"`
	StartTLS        bool   `toml:"starttls"`
	SubjectTemplate string `toml:"subject_template"`
	BodyTemplate    string `toml:"body_template"`
}

// SMSConfig defines short-message channel settings.
// Params: provider selection, gateway/bot credentials, rate limit, and template.
// Returns: sms sender configuration.
type SMSConfig struct {
	Enabled    bool    `toml:"enabled"`
	Provider   string  `toml:"provider"`
	URL        string  `toml:"url"`
	Token      string  `toml:"token"`
	From       string  `toml:"from"`
	BotToken   string  `toml:"bot_token"`
	APIBase    string  `toml:"api_base"`
	RatePerSec float64 `toml:"rate_per_sec"`
	Burst      int     `toml:"burst"`
	Template   string  `toml:"template"`
}

// TransportConfig defines real-time event publishing targets.
// Params: NATS and websocket settings.
// Returns: transport options.
type TransportConfig struct {
	NATS      NATSTransportConfig `toml:"nats"`
	WebSocket WebSocketConfig     `toml:"websocket"`
}

// NATSTransportConfig configures NATS event publishing.
// Params: servers, subject prefix, and optional JetStream stream.
// Returns: NATS publisher options.
type NATSTransportConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	SubjectPrefix string   `toml:"subject_prefix"`
	JetStream     bool     `toml:"jetstream"`
	Stream        string   `toml:"stream"`
}

// WebSocketConfig configures websocket broadcast hub.
// Params: enable flag and per-client buffer depth.
// Returns: hub options.
type WebSocketConfig struct {
	Enabled    bool `toml:"enabled"`
	SendBuffer int  `toml:"send_buffer"`
}

// IngestConfig defines inventory update feeds applied to the memory data source.
// Params: HTTP endpoint and NATS subscription settings.
// Returns: ingest options.
type IngestConfig struct {
	HTTP IngestHTTPConfig `toml:"http"`
	NATS IngestNATSConfig `toml:"nats"`
}

// IngestHTTPConfig configures product update endpoint.
// Params: enable flag and route path.
// Returns: HTTP ingest options.
type IngestHTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// IngestNATSConfig configures product update subscription.
// Params: servers, subject, and queue group.
// Returns: NATS ingest options.
type IngestNATSConfig struct {
	Enabled    bool     `toml:"enabled"`
	URL        []string `toml:"url"`
	Subject    string   `toml:"subject"`
	QueueGroup string   `toml:"queue_group"`
}

// Enabled reports whether any ingest feed is on.
func (i IngestConfig) Enabled() bool {
	return i.HTTP.Enabled || i.NATS.Enabled
}

// RuleConfig describes one rule declared in `[rule.<id>]` table.
// Params: rule fields; id comes from table key.
// Returns: rule definition registered at startup.
type RuleConfig struct {
	ID          string   `toml:"-"`
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Type        string   `toml:"type"`
	Condition   string   `toml:"condition"`
	Threshold   float64  `toml:"threshold"`
	Enabled     *bool    `toml:"enabled"`
	Priority    string   `toml:"priority"`
	Channels    []string `toml:"channels"`
	ProductID   string   `toml:"product_id"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
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

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes one TOML document, applies defaults, and validates.
// Params: raw TOML body.
// Returns: validated config or decode/validation error.
func Parse(body []byte) (Config, error) {
	cfg, err := decode(body)
	if err != nil {
		return Config{}, err
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// expandEnv replaces ${NAME} placeholders with environment values.
// Params: raw TOML body.
// Returns: body with placeholders substituted (unset variables become empty).
func expandEnv(body []byte) []byte {
	return envPlaceholderPattern.ReplaceAllFunc(body, func(match []byte) []byte {
		name := envPlaceholderPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// decode converts TOML body into config with normalized rule list.
// Params: raw TOML body.
// Returns: decoded config.
func decode(body []byte) (Config, error) {
	var raw rawConfig
	if err := toml.Unmarshal(expandEnv(body), &raw); err != nil {
		return Config{}, err
	}
	cfg := Config{
		Service:    raw.Service,
		Log:        raw.Log,
		API:        raw.API,
		DataSource: raw.DataSource,
		Recipients: raw.Recipients,
		Notify:     raw.Notify,
		Transport:  raw.Transport,
		Ingest:     raw.Ingest,
	}
	if len(raw.Rule) == 0 {
		return cfg, nil
	}
	ids := make([]string, 0, len(raw.Rule))
	for id := range raw.Rule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	cfg.Rule = make([]RuleConfig, 0, len(ids))
	for _, id := range ids {
		rule := raw.Rule[id]
		rule.ID = id
		cfg.Rule = append(cfg.Rule, rule)
	}
	return cfg, nil
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	cfg, err := decode(body)
	if err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir reads and merges TOML files from one directory in lexical order.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
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
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, err := loadFile(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays non-empty sections of src onto dst; rules accumulate.
// Params: destination config and next fragment.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config) {
	overlay(&dst.Service, src.Service)
	overlay(&dst.Log, src.Log)
	overlay(&dst.API, src.API)
	overlay(&dst.DataSource, src.DataSource)
	overlay(&dst.Recipients, src.Recipients)
	overlay(&dst.Notify.Breaker, src.Notify.Breaker)
	overlay(&dst.Notify.Retry, src.Notify.Retry)
	overlay(&dst.Notify.Email, src.Notify.Email)
	overlay(&dst.Notify.SMS, src.Notify.SMS)
	if src.Notify.ChannelTimeoutSec > 0 {
		dst.Notify.ChannelTimeoutSec = src.Notify.ChannelTimeoutSec
	}
	overlay(&dst.Transport.NATS, src.Transport.NATS)
	overlay(&dst.Transport.WebSocket, src.Transport.WebSocket)
	overlay(&dst.Ingest.HTTP, src.Ingest.HTTP)
	overlay(&dst.Ingest.NATS, src.Ingest.NATS)
	dst.Rule = append(dst.Rule, src.Rule...)
}

// overlay replaces dst section when src section is non-zero.
// Params: pointer to destination section and source section of same type.
// Returns: none.
func overlay[T any](dst *T, src T) {
	if reflect.ValueOf(src).IsZero() {
		return
	}
	*dst = src
}

// ApplyDefaults fills unset values with runtime defaults.
// Params: mutable config snapshot.
// Returns: config updated in place.
func ApplyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	if cfg.Service.MonitorIntervalMin == 0 {
		cfg.Service.MonitorIntervalMin = defaultMonitorIntervalMin
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
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if strings.TrimSpace(cfg.API.Listen) == "" {
		cfg.API.Listen = defaultHTTPListen
	}
	if strings.TrimSpace(cfg.API.HealthPath) == "" {
		cfg.API.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(cfg.API.ReadyPath) == "" {
		cfg.API.ReadyPath = defaultReadyPath
	}
	if strings.TrimSpace(cfg.API.MetricsPath) == "" {
		cfg.API.MetricsPath = defaultMetricsPath
	}
	if strings.TrimSpace(cfg.API.WebSocketPath) == "" {
		cfg.API.WebSocketPath = defaultWebSocketPath
	}
	if cfg.API.MaxBodyBytes <= 0 {
		cfg.API.MaxBodyBytes = defaultMaxBodyBytes
	}

	cfg.DataSource.Kind = strings.ToLower(strings.TrimSpace(cfg.DataSource.Kind))
	if cfg.DataSource.Kind == "" {
		cfg.DataSource.Kind = DataSourceMemory
	}
	if strings.TrimSpace(cfg.DataSource.Table) == "" {
		cfg.DataSource.Table = defaultProductsTable
	}
	if cfg.DataSource.QueryTimeoutSec <= 0 {
		cfg.DataSource.QueryTimeoutSec = defaultQueryTimeoutSec
	}

	if cfg.Notify.ChannelTimeoutSec <= 0 {
		cfg.Notify.ChannelTimeoutSec = defaultChannelTimeoutSec
	}
	if cfg.Notify.Breaker.MaxFailures == 0 {
		cfg.Notify.Breaker.MaxFailures = defaultBreakerFailures
	}
	if cfg.Notify.Breaker.OpenSec <= 0 {
		cfg.Notify.Breaker.OpenSec = defaultBreakerOpenSec
	}
	fillRetryDefaults(&cfg.Notify.Retry)
	if cfg.Notify.Email.Port == 0 {
		cfg.Notify.Email.Port = defaultSMTPPort
	}
	if strings.TrimSpace(cfg.Notify.Email.SubjectTemplate) == "" {
		cfg.Notify.Email.SubjectTemplate = templatefmt.DefaultEmailSubject
	}
	if strings.TrimSpace(cfg.Notify.Email.BodyTemplate) == "" {
		cfg.Notify.Email.BodyTemplate = templatefmt.DefaultEmailBody
	}
	cfg.Notify.SMS.Provider = strings.ToLower(strings.TrimSpace(cfg.Notify.SMS.Provider))
	if cfg.Notify.SMS.Provider == "" {
		cfg.Notify.SMS.Provider = SMSProviderHTTP
	}
	if strings.TrimSpace(cfg.Notify.SMS.APIBase) == "" {
		cfg.Notify.SMS.APIBase = defaultTelegramAPIBase
	}
	if cfg.Notify.SMS.RatePerSec <= 0 {
		cfg.Notify.SMS.RatePerSec = defaultSMSRatePerSec
	}
	if cfg.Notify.SMS.Burst <= 0 {
		cfg.Notify.SMS.Burst = defaultSMSBurst
	}
	if strings.TrimSpace(cfg.Notify.SMS.Template) == "" {
		cfg.Notify.SMS.Template = templatefmt.DefaultSMSBody
	}

	cfg.Transport.NATS.URL = normalizeURLs(cfg.Transport.NATS.URL)
	if len(cfg.Transport.NATS.URL) == 0 {
		cfg.Transport.NATS.URL = []string{defaultNATSURL}
	}
	if strings.TrimSpace(cfg.Transport.NATS.SubjectPrefix) == "" {
		cfg.Transport.NATS.SubjectPrefix = defaultNATSSubjectPrefix
	}
	if strings.TrimSpace(cfg.Transport.NATS.Stream) == "" {
		cfg.Transport.NATS.Stream = defaultNATSStream
	}
	if cfg.Transport.WebSocket.SendBuffer <= 0 {
		cfg.Transport.WebSocket.SendBuffer = defaultWSSendBuffer
	}

	if strings.TrimSpace(cfg.Ingest.HTTP.Path) == "" {
		cfg.Ingest.HTTP.Path = defaultIngestHTTPPath
	}
	cfg.Ingest.NATS.URL = normalizeURLs(cfg.Ingest.NATS.URL)
	if len(cfg.Ingest.NATS.URL) == 0 {
		cfg.Ingest.NATS.URL = []string{defaultNATSURL}
	}
	if strings.TrimSpace(cfg.Ingest.NATS.Subject) == "" {
		cfg.Ingest.NATS.Subject = defaultIngestSubject
	}
	if strings.TrimSpace(cfg.Ingest.NATS.QueueGroup) == "" {
		cfg.Ingest.NATS.QueueGroup = defaultIngestQueueGroup
	}
}

// Validate checks config invariants after defaults were applied.
// Params: config snapshot.
// Returns: first validation error.
func Validate(cfg Config) error {
	if cfg.Service.MonitorIntervalMin <= 0 {
		return errors.New("service.monitor_interval_min must be >0")
	}
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	switch cfg.DataSource.Kind {
	case DataSourceMemory:
		seen := make(map[string]struct{}, len(cfg.DataSource.Product))
		for i, product := range cfg.DataSource.Product {
			if strings.TrimSpace(product.ID) == "" {
				return fmt.Errorf("datasource.product[%d].id is required", i)
			}
			if _, exists := seen[product.ID]; exists {
				return fmt.Errorf("duplicate datasource product id %q", product.ID)
			}
			seen[product.ID] = struct{}{}
			if product.Price < 0 || product.Stock < 0 {
				return fmt.Errorf("datasource.product[%d] price and stock must be >=0", i)
			}
		}
	case DataSourcePostgres:
		if strings.TrimSpace(cfg.DataSource.DSN) == "" {
			return errors.New("datasource.dsn is required when datasource.kind=postgres")
		}
		if !sqlIdentifierPattern.MatchString(cfg.DataSource.Table) {
			return fmt.Errorf("datasource.table %q is not a valid identifier", cfg.DataSource.Table)
		}
	default:
		return fmt.Errorf("datasource.kind has unsupported value %q", cfg.DataSource.Kind)
	}

	for i, email := range cfg.Recipients.Emails {
		if !strings.Contains(email, "@") {
			return fmt.Errorf("recipients.emails[%d] %q is not an email address", i, email)
		}
	}

	if err := validateRetry(cfg.Notify.Retry); err != nil {
		return err
	}
	if err := validateEmail(cfg.Notify.Email); err != nil {
		return err
	}
	if err := validateSMS(cfg.Notify.SMS); err != nil {
		return err
	}

	if cfg.Ingest.Enabled() && cfg.DataSource.Kind != DataSourceMemory {
		return errors.New("ingest feeds require datasource.kind=memory")
	}
	if cfg.Ingest.HTTP.Enabled && !strings.HasPrefix(cfg.Ingest.HTTP.Path, "/") {
		return fmt.Errorf("ingest.http.path %q must start with /", cfg.Ingest.HTTP.Path)
	}

	ids := make(map[string]struct{}, len(cfg.Rule))
	for i, rule := range cfg.Rule {
		if err := ValidateRule(rule); err != nil {
			return fmt.Errorf("rule[%d] %q: %w", i, rule.ID, err)
		}
		if _, exists := ids[rule.ID]; exists {
			return fmt.Errorf("duplicate rule id %q", rule.ID)
		}
		ids[rule.ID] = struct{}{}
	}
	return nil
}

var sqlIdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// validateEmail validates SMTP channel settings when enabled.
// Params: email config.
// Returns: validation error.
func validateEmail(cfg EmailConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return errors.New("notify.email.host is required when notify.email.enabled=true")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("notify.email.port %d is out of range", cfg.Port)
	}
	if !strings.Contains(cfg.From, "@") {
		return errors.New("notify.email.from must be an email address when notify.email.enabled=true")
	}
	if err := validateMessageTemplate("notify.email.subject_template", cfg.SubjectTemplate); err != nil {
		return err
	}
	return validateMessageTemplate("notify.email.body_template", cfg.BodyTemplate)
}

// validateSMS validates short-message channel settings when enabled.
// Params: sms config.
// Returns: validation error.
func validateSMS(cfg SMSConfig) error {
	if !cfg.Enabled {
		return nil
	}
	switch cfg.Provider {
	case SMSProviderHTTP:
		if strings.TrimSpace(cfg.URL) == "" {
			return errors.New("notify.sms.url is required when notify.sms.provider=http")
		}
	case SMSProviderTelegram:
		if strings.TrimSpace(cfg.BotToken) == "" {
			return errors.New("notify.sms.bot_token is required when notify.sms.provider=telegram")
		}
	default:
		return fmt.Errorf("notify.sms.provider has unsupported value %q", cfg.Provider)
	}
	return validateMessageTemplate("notify.sms.template", cfg.Template)
}

// ValidateRule validates one declared rule.
// Params: rule config.
// Returns: rule-level validation error.
func ValidateRule(rule RuleConfig) error {
	if strings.TrimSpace(rule.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(rule.Name) == "" {
		return errors.New("name is required")
	}
	condition := domain.Condition(strings.TrimSpace(rule.Condition))
	switch condition {
	case domain.ConditionStockBelow, domain.ConditionInventoryValueAbove, domain.ConditionInventoryValueBelow:
	case domain.ConditionStockEquals:
		if rule.Threshold != 0 {
			return errors.New("stock_equals requires threshold = 0")
		}
	default:
		return fmt.Errorf("unsupported condition %q", rule.Condition)
	}
	if rule.Threshold < 0 {
		return errors.New("threshold must be >=0")
	}
	switch strings.TrimSpace(rule.Type) {
	case "", string(domain.AlertTypeInventory), string(domain.AlertTypeBusiness):
	default:
		return fmt.Errorf("unsupported type %q", rule.Type)
	}
	switch domain.Priority(strings.TrimSpace(rule.Priority)) {
	case "", domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow:
	default:
		return fmt.Errorf("unsupported priority %q", rule.Priority)
	}
	for _, channel := range rule.Channels {
		if !domain.IsSupportedChannel(channel) {
			return fmt.Errorf("unsupported channel %q", channel)
		}
	}
	return nil
}

// normalizeURLs trims and drops empty server URLs.
// Params: raw URL list.
// Returns: cleaned list.
func normalizeURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// validateMessageTemplate validates non-empty notification template.
// Params: field path and template body.
// Returns: parse/empty error.
func validateMessageTemplate(path, body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return fmt.Errorf("%s is required", path)
	}
	if _, err := templatefmt.ParseNotificationTemplate(path, trimmed); err != nil {
		return fmt.Errorf("%s is invalid: %w", path, err)
	}
	return nil
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
	case "line", "text", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}
	return nil
}

// fillRetryDefaults normalizes retry policy fields.
// Params: retry policy pointer.
// Returns: policy defaults applied in place.
func fillRetryDefaults(retry *RetryConfig) {
	retry.Backoff = strings.ToLower(strings.TrimSpace(retry.Backoff))
	if retry.Backoff == "" {
		retry.Backoff = defaultRetryBackoff
	}
	if retry.InitialMS <= 0 {
		retry.InitialMS = defaultRetryInitialMS
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = defaultRetryMaxMS
	}
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = defaultRetryMaxAttempts
	}
}

func validateRetry(retry RetryConfig) error {
	switch retry.Backoff {
	case RetryBackoffExponential, RetryBackoffFixed:
	default:
		return fmt.Errorf("notify.retry.backoff has unsupported value %q", retry.Backoff)
	}
	if retry.MaxAttempts < 0 {
		return fmt.Errorf("notify.retry.max_attempts must be >= 0, got %d", retry.MaxAttempts)
	}
	if retry.MaxMS < retry.InitialMS {
		return fmt.Errorf("notify.retry.max_ms (%d) must be >= initial_ms (%d)", retry.MaxMS, retry.InitialMS)
	}
	return nil
}
