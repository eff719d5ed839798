package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultProbeInterval = 10 * time.Second
	DefaultShipInterval  = 15 * time.Second
	DefaultBatchSize     = 30
	DefaultBufferSize    = 100
	DefaultProbeCount    = 5
	DefaultProbeTimeout  = 5 * time.Second
)

// Source types.
const (
	TypePing     = "ping"
	TypeBlackbox = "blackbox"
)

// Config is the agent configuration. The `server:` key in the same file is
// read by the server binary and ignored here.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the base URL of echoscope-server, e.g. "http://scorer:8080".
	ServerEndpoint string `yaml:"server_endpoint"`

	// ProbeInterval controls how often each source is probed.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// ShipInterval controls how often buffered batches are sent to the server.
	ShipInterval time.Duration `yaml:"ship_interval"`

	// BatchSize is the number of samples per source collected before a batch
	// is handed to the shipper.
	BatchSize int `yaml:"batch_size"`

	// BufferSize is the maximum number of batches held in memory when
	// the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// Sources is the list of targets to probe.
	Sources []Source `yaml:"sources"`

	// ServerAuth configures how the agent authenticates to echoscope-server.
	ServerAuth AuthConfig `yaml:"server_auth"`
}

// Source describes one probed target.
type Source struct {
	// ID is a unique, human-readable identifier; it becomes the dataset source name.
	ID string `yaml:"id"`

	// Type is ping | blackbox.
	Type string `yaml:"type"`

	// Target is the host or IP address echoed by ping sources.
	Target string `yaml:"target"`

	// Endpoint is the full blackbox exporter probe URL, e.g.
	// "http://blackbox:9115/probe?target=example.com&module=icmp".
	Endpoint string `yaml:"endpoint"`

	// Count is the number of echoes per ping probe. Default: 5.
	Count int `yaml:"count"`

	// Timeout bounds one probe. Default: 5s.
	Timeout time.Duration `yaml:"timeout"`

	// Privileged switches ping to raw ICMP sockets (requires CAP_NET_RAW).
	Privileged bool `yaml:"privileged"`

	// Auth configures how the agent authenticates to a blackbox endpoint.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// AuthConfig specifies the authentication mode for an HTTP peer.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key fields, used when Mode == "apikey".
	// Header is the HTTP header name to send the key in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// Bearer token fields, used when Mode == "bearer".
	// TokenEnv is the name of the environment variable that holds the token.
	TokenEnv string `yaml:"token_env"`

	// Basic auth fields, used when Mode == "basic".
	// Username is the literal username (safe to store in config).
	Username string `yaml:"username"`
	// PasswordEnv is the name of the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// EffectiveHeader returns the API key header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// TLSConfig holds per-peer TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults, including
// per-source count and timeout.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	for i := range cfg.Agent.Sources {
		src := &cfg.Agent.Sources[i]
		if src.Count == 0 {
			src.Count = DefaultProbeCount
		}
		if src.Timeout == 0 {
			src.Timeout = DefaultProbeTimeout
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// LoadEnv loads KEY=value pairs from each file into the process environment.
// Missing files are ignored; variables already set are not overwritten.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env %q: %w", f, err)
		}
	}
	return nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ProbeInterval: DefaultProbeInterval,
			ShipInterval:  DefaultShipInterval,
			BatchSize:     DefaultBatchSize,
			BufferSize:    DefaultBufferSize,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if u, err := url.Parse(a.ServerEndpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("agent.server_endpoint %q must be an http(s) URL", a.ServerEndpoint)
	}
	if a.ProbeInterval <= 0 {
		return fmt.Errorf("agent.probe_interval must be positive")
	}
	if a.ShipInterval <= 0 {
		return fmt.Errorf("agent.ship_interval must be positive")
	}
	if a.BatchSize <= 0 {
		return fmt.Errorf("agent.batch_size must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	if err := validateAuth(a.ServerAuth); err != nil {
		return fmt.Errorf("agent.server_auth: %w", err)
	}

	seen := make(map[string]bool, len(a.Sources))
	for i, src := range a.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true

		switch src.Type {
		case TypePing:
			if src.Target == "" {
				return fmt.Errorf("sources[%d] %q: target is required for ping", i, src.ID)
			}
		case TypeBlackbox:
			if src.Endpoint == "" {
				return fmt.Errorf("sources[%d] %q: endpoint is required for blackbox", i, src.ID)
			}
		default:
			return fmt.Errorf("sources[%d] %q: unknown type %q", i, src.ID, src.Type)
		}
		if src.Count < 0 {
			return fmt.Errorf("sources[%d] %q: count must be positive", i, src.ID)
		}
		if src.Timeout < 0 {
			return fmt.Errorf("sources[%d] %q: timeout must be positive", i, src.ID)
		}
		if err := validateAuth(src.Auth); err != nil {
			return fmt.Errorf("sources[%d] %q: %w", i, src.ID, err)
		}
	}
	return nil
}

func validateAuth(a AuthConfig) error {
	switch a.Mode {
	case "mtls":
		if a.CertFile == "" || a.KeyFile == "" {
			return fmt.Errorf("mtls requires cert_file and key_file")
		}
	case "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("unknown auth mode %q", a.Mode)
	}
	return nil
}
