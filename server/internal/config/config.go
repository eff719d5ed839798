package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/echoscope/echoscope/pkg/health"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "score < 60", "loss_rate > 0.05",
	// "avg_latency_ms > 200", "level == Critique".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http | email.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	// Unused for email targets.
	URLEnv string `yaml:"url_env"`

	// APIKeyEnv names the environment variable holding the Brevo API key (email only).
	APIKeyEnv string `yaml:"api_key_env"`

	// From is the sender address for email targets.
	From string `yaml:"from"`

	// FromName is the optional sender display name for email targets.
	FromName string `yaml:"from_name"`

	// To lists recipient addresses for email targets.
	To []string `yaml:"to"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// APIKey returns the email API key resolved from the environment.
func (w WebhookConfig) APIKey() string {
	if w.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(w.APIKeyEnv)
}

// Default values for the server configuration.
const (
	DefaultHTTPPort       = 8080
	DefaultReportsDir     = "reports"
	DefaultUploadMaxBytes = 10 << 20
	DefaultSnapshotTTL    = 30 * time.Minute
	DefaultStoragePath    = "echoscope.db"
	DefaultWSInterval     = 5 * time.Second
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// ReportsDir is the directory report artifacts are written to.
	ReportsDir string `yaml:"reports_dir"`

	// Upload limits request bodies on the analyze and ingest endpoints.
	Upload UploadConfig `yaml:"upload"`

	// Auth configures how the server authenticates REST clients.
	Auth AuthConfig `yaml:"auth"`

	// Snapshot controls retention of the per-source latest report.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Storage configures the optional report history index.
	Storage StorageConfig `yaml:"storage"`

	// Scoring overrides the default score weights and level thresholds.
	Scoring ScoringConfig `yaml:"scoring"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`

	// WS configures the WebSocket feed.
	WS WSConfig `yaml:"ws"`
}

// UploadConfig bounds incoming datasets.
type UploadConfig struct {
	// MaxBytes is the largest accepted request body. Default: 10 MiB.
	MaxBytes int64 `yaml:"max_bytes"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// SnapshotConfig controls in-memory retention of the latest report per source.
type SnapshotConfig struct {
	// TTL is how long a source's latest report stays live after it was produced.
	// Default: 30m.
	TTL time.Duration `yaml:"ttl"`
}

// StorageConfig configures the report history index.
type StorageConfig struct {
	// Backend is one of: sqlite | none. Empty means none.
	Backend string `yaml:"backend"`

	// Path is the SQLite database file. Default: echoscope.db.
	Path string `yaml:"path"`

	// Retention deletes report files and index rows older than this.
	// Zero keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// Enabled reports whether a history index backend is configured.
func (s StorageConfig) Enabled() bool {
	return s.Backend == "sqlite"
}

// ScoringConfig is the YAML form of health.Policy.
type ScoringConfig struct {
	LatencyGoodMs     float64          `yaml:"latency_good_ms"`
	LatencyBadMs      float64          `yaml:"latency_bad_ms"`
	LatencyMaxPenalty float64          `yaml:"latency_max_penalty"`
	LossWeight        float64          `yaml:"loss_weight"`
	JitterGoodMs      float64          `yaml:"jitter_good_ms"`
	JitterBadMs       float64          `yaml:"jitter_bad_ms"`
	JitterMaxPenalty  float64          `yaml:"jitter_max_penalty"`
	Thresholds        ThresholdsConfig `yaml:"thresholds"`

	// Samples is reject | skip.
	Samples string `yaml:"malformed_samples"`
}

// ThresholdsConfig holds the minimum score for each level above Critique.
type ThresholdsConfig struct {
	Excellent int `yaml:"excellent"`
	Bon       int `yaml:"bon"`
	Moyen     int `yaml:"moyen"`
	Mauvais   int `yaml:"mauvais"`
}

// Policy converts the scoring section to a health.Policy.
func (s ScoringConfig) Policy() health.Policy {
	return health.Policy{
		LatencyGoodMs:     s.LatencyGoodMs,
		LatencyBadMs:      s.LatencyBadMs,
		LatencyMaxPenalty: s.LatencyMaxPenalty,
		LossWeight:        s.LossWeight,
		JitterGoodMs:      s.JitterGoodMs,
		JitterBadMs:       s.JitterBadMs,
		JitterMaxPenalty:  s.JitterMaxPenalty,
		Thresholds: health.Thresholds{
			Excellent: s.Thresholds.Excellent,
			Bon:       s.Thresholds.Bon,
			Moyen:     s.Thresholds.Moyen,
			Mauvais:   s.Thresholds.Mauvais,
		},
		Samples: health.SampleMode(s.Samples),
	}
}

// WSConfig configures the WebSocket hub.
type WSConfig struct {
	// Interval between periodic source snapshots. Default: 5s.
	Interval time.Duration `yaml:"interval"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	return defaults()
}

// LoadEnv loads KEY=value pairs from each file into the process environment.
// Missing files are ignored; variables already set are not overwritten.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("server config: load env %q: %w", f, err)
		}
	}
	return nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	p := health.DefaultPolicy()
	return &Config{
		Server: ServerConfig{
			HTTPPort:   DefaultHTTPPort,
			ReportsDir: DefaultReportsDir,
			Upload:     UploadConfig{MaxBytes: DefaultUploadMaxBytes},
			Snapshot: SnapshotConfig{
				TTL: DefaultSnapshotTTL,
			},
			Storage: StorageConfig{Path: DefaultStoragePath},
			Scoring: ScoringConfig{
				LatencyGoodMs:     p.LatencyGoodMs,
				LatencyBadMs:      p.LatencyBadMs,
				LatencyMaxPenalty: p.LatencyMaxPenalty,
				LossWeight:        p.LossWeight,
				JitterGoodMs:      p.JitterGoodMs,
				JitterBadMs:       p.JitterBadMs,
				JitterMaxPenalty:  p.JitterMaxPenalty,
				Thresholds: ThresholdsConfig{
					Excellent: p.Thresholds.Excellent,
					Bon:       p.Thresholds.Bon,
					Moyen:     p.Thresholds.Moyen,
					Mauvais:   p.Thresholds.Mauvais,
				},
				Samples: string(p.Samples),
			},
			WS: WSConfig{Interval: DefaultWSInterval},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.ReportsDir == "" {
		return fmt.Errorf("server.reports_dir must not be empty")
	}
	if s.Upload.MaxBytes <= 0 {
		return fmt.Errorf("server.upload.max_bytes must be positive")
	}
	switch s.Auth.Mode {
	case "apikey":
		if s.Auth.KeyEnv == "" {
			return fmt.Errorf("server.auth.key_env is required when mode is apikey")
		}
	case "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Snapshot.TTL <= 0 {
		return fmt.Errorf("server.snapshot.ttl must be positive")
	}
	switch s.Storage.Backend {
	case "sqlite":
		if s.Storage.Path == "" {
			return fmt.Errorf("server.storage.path is required for the sqlite backend")
		}
	case "none", "":
	default:
		return fmt.Errorf("server.storage.backend %q unknown: want sqlite|none", s.Storage.Backend)
	}
	if s.Storage.Retention < 0 {
		return fmt.Errorf("server.storage.retention must not be negative")
	}
	if err := s.Scoring.Policy().Validate(); err != nil {
		return fmt.Errorf("server.scoring: %w", err)
	}
	if s.WS.Interval <= 0 {
		return fmt.Errorf("server.ws.interval must be positive")
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name is required", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d] %q: condition is required", i, r.Name)
		}
	}
	for i, w := range s.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
			if w.URLEnv == "" {
				return fmt.Errorf("server.alerts.webhooks[%d]: url_env is required for type %q", i, w.Type)
			}
		case "email":
			if w.APIKeyEnv == "" || w.From == "" || len(w.To) == 0 {
				return fmt.Errorf("server.alerts.webhooks[%d]: email needs api_key_env, from and to", i)
			}
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: type %q unknown: want slack|teams|http|email", i, w.Type)
		}
	}
	return nil
}
