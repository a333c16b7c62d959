// Package config loads and validates gateway configuration.
//
// Configuration is merged from a YAML file and environment variables. Env
// vars use the AI_GATEWAY__ prefix with double underscores separating nested
// sections and kebab-case keys, e.g. AI_GATEWAY__SERVER__PORT=9090 or
// AI_GATEWAY__DISPATCHER__CONNECTION-TIMEOUT=5s.
package config

import (
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/go-viper/mapstructure/v2"
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "AI_GATEWAY__"

// DeploymentTarget selects where the gateway runs. The cloud target is the
// hosted control plane and is rejected by the self-contained binary.
type DeploymentTarget string

const (
	DeploymentCloud      DeploymentTarget = "cloud"
	DeploymentSelfHosted DeploymentTarget = "self-hosted"
	DeploymentSidecar    DeploymentTarget = "sidecar"
)

// Config is the fully-merged gateway configuration. The request plane only
// ever sees a validated value of this type.
type Config struct {
	DeploymentTarget DeploymentTarget `koanf:"deployment-target"`

	Server     ServerConfig     `koanf:"server"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`

	Providers map[string]ProviderConfig `koanf:"providers"`
	Routers   map[string]RouterConfig   `koanf:"routers"`
	Global    GlobalConfig              `koanf:"global"`

	// DefaultModelMapping maps a source model name to candidate target
	// model names, consulted when a router has no mapping of its own.
	DefaultModelMapping map[string][]string `koanf:"default-model-mapping"`
}

type ServerConfig struct {
	Address         string        `koanf:"address"`
	Port            int           `koanf:"port"`
	TLS             *TLSConfig    `koanf:"tls"`
	ShutdownTimeout time.Duration `koanf:"shutdown-timeout"`
}

type TLSConfig struct {
	Cert string `koanf:"cert"`
	Key  string `koanf:"key"`
}

type DispatcherConfig struct {
	ConnectionTimeout time.Duration `koanf:"connection-timeout"`
	Timeout           time.Duration `koanf:"timeout"`
}

type TelemetryConfig struct {
	// Propagate forwards inbound trace-context headers to spans when set.
	Propagate bool `koanf:"propagate"`
}

// ProviderConfig describes one upstream provider.
type ProviderConfig struct {
	BaseURL string   `koanf:"base-url"`
	Models  []string `koanf:"models"`
	// APIKey is normally supplied via environment, e.g.
	// AI_GATEWAY__PROVIDERS__OPENAI__API-KEY.
	APIKey string `koanf:"api-key"`
	// Version is the provider API version header where required
	// (anthropic-version for Anthropic).
	Version string `koanf:"version"`
	// Region is only meaningful for Bedrock (SigV4 signing scope).
	Region string `koanf:"region"`
}

// RouterConfig describes one configured router id.
type RouterConfig struct {
	LoadBalance   map[string]BalanceConfig `koanf:"load-balance"`
	Cache         *CacheConfig             `koanf:"cache"`
	RateLimit     *RateLimitConfig         `koanf:"rate-limit"`
	ModelMappings map[string][]string      `koanf:"model-mappings"`
	Retries       int                      `koanf:"retries"`
	// RequestStyle is the dialect clients speak to this router
	// ("openai" or "anthropic"); defaults to openai.
	RequestStyle string `koanf:"request-style"`
	// AuthDisabled turns off the bearer-credential requirement for this
	// router. Off by default.
	AuthDisabled bool `koanf:"auth-disabled"`
}

// BalanceConfig selects the balancer variant for one endpoint type.
// Exactly one of Weighted or Latency is set.
type BalanceConfig struct {
	Strategy string                 `koanf:"strategy"`  // "weighted" | "latency"
	Targets  []WeightedTargetConfig `koanf:"targets"`   // weighted
	Prov     []string               `koanf:"providers"` // latency
}

type WeightedTargetConfig struct {
	Provider string  `koanf:"provider"`
	Weight   float64 `koanf:"weight"`
}

type GlobalConfig struct {
	Cache     *CacheConfig     `koanf:"cache"`
	RateLimit *RateLimitConfig `koanf:"rate-limit"`
}

// AuthConfig backs the static auth oracle used by self-hosted and sidecar
// deployments.
type AuthConfig struct {
	// Enabled gates the bearer-credential requirement globally; individual
	// routers may opt out via auth-disabled.
	Enabled bool               `koanf:"enabled"`
	Keys    map[string]AuthKey `koanf:"keys"`
}

// AuthKey is one accepted API key identity.
type AuthKey struct {
	UserId string   `koanf:"user-id"`
	OrgId  string   `koanf:"org-id"`
	Scopes []string `koanf:"scopes"`
}

type CacheConfig struct {
	Enabled bool `koanf:"enabled"`
	// Buckets partitions one logical key into N slots, 1..=32.
	Buckets int `koanf:"buckets"`
	// MaxAge is the default freshness window applied when the client sends
	// no Cache-Control directive.
	MaxAge time.Duration `koanf:"max-age"`
	Seed   string        `koanf:"seed"`
	// MaxSizeBytes caps the in-memory store; entries are evicted beyond it.
	MaxSizeBytes int64 `koanf:"max-size-bytes"`
}

type RateLimitConfig struct {
	// Store is "memory", "redis" or "disabled".
	Store    string `koanf:"store"`
	RedisURL string `koanf:"redis-url"`
	// Capacity is the GCRA burst capacity; RefillPeriod the time to refill
	// one cell.
	Capacity     int64         `koanf:"capacity"`
	RefillPeriod time.Duration `koanf:"refill-period"`
	// Subject picks the per-router bucket key: "user" or "api-key".
	Subject string `koanf:"subject"`
}

// Monitor tunables. These are process-wide knobs (the `monitor` section or
// its env overrides) in the same
// spirit as the teacher's channel suspension windows.
type MonitorConfig struct {
	HealthInterval  time.Duration `koanf:"health-interval"`
	MinRequests     int64         `koanf:"min-requests"`
	ErrorThreshold  float64       `koanf:"error-threshold"`
	CooldownBuffer  time.Duration `koanf:"cooldown-buffer"`
	RollingWindow   time.Duration `koanf:"rolling-window"`
	ChannelCapacity int           `koanf:"channel-capacity"`
}

// Monitor is merged from the optional `monitor` section with defaults
// applied in Load.
var defaultMonitor = MonitorConfig{
	HealthInterval:  5 * time.Second,
	MinRequests:     20,
	ErrorThreshold:  0.15,
	CooldownBuffer:  30 * time.Second,
	RollingWindow:   60 * time.Second,
	ChannelCapacity: 16,
}

// Full couples the request-plane Config with the monitor tunables and the
// static auth table.
type Full struct {
	Config
	Monitor MonitorConfig `koanf:"monitor"`
	Auth    AuthConfig    `koanf:"auth"`
	Debug   bool          `koanf:"debug"`
}

// Load reads the YAML file at path (optional, may be empty), layers
// AI_GATEWAY__ environment overrides on top, applies defaults and validates.
func Load(path string) (*Full, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "load config file %q", path)
		}
	}

	// AI_GATEWAY__SERVER__SHUTDOWN-TIMEOUT -> server.shutdown-timeout
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env overrides")
	}

	cfg := &Full{
		Config: Config{
			DeploymentTarget: DeploymentSelfHosted,
			Server: ServerConfig{
				Address:         "0.0.0.0",
				Port:            8080,
				ShutdownTimeout: 30 * time.Second,
			},
			Dispatcher: DispatcherConfig{
				ConnectionTimeout: 10 * time.Second,
				Timeout:           5 * time.Minute,
			},
		},
		Monitor: defaultMonitor,
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			Metadata:         nil,
			Result:           cfg,
			WeaklyTypedInput: true,
			Squash:           true,
		},
	}); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the structural invariants the request plane relies on.
func (c *Full) Validate() error {
	if c.DeploymentTarget == DeploymentCloud {
		return errors.New("deployment-target: cloud is not supported by the self-contained binary")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.TLS != nil && (c.Server.TLS.Cert == "" || c.Server.TLS.Key == "") {
		return errors.New("server.tls requires both cert and key")
	}
	for id, rc := range c.Routers {
		if !ValidRouterId(id) {
			return errors.Errorf("invalid router id %q", id)
		}
		for et, bc := range rc.LoadBalance {
			if err := validateBalance(et, bc, c.Providers); err != nil {
				return errors.Wrapf(err, "router %q", id)
			}
		}
		if rc.Cache != nil {
			if rc.Cache.Buckets < 0 || rc.Cache.Buckets > 32 {
				return errors.Errorf("router %q: cache.buckets must be 0..=32", id)
			}
		}
	}
	if g := c.Global.Cache; g != nil && (g.Buckets < 0 || g.Buckets > 32) {
		return errors.New("global.cache.buckets must be 0..=32")
	}
	return nil
}

func validateBalance(endpointType string, bc BalanceConfig, providers map[string]ProviderConfig) error {
	switch bc.Strategy {
	case "weighted":
		if len(bc.Targets) == 0 {
			return errors.Errorf("%s: weighted balance requires targets", endpointType)
		}
		for _, t := range bc.Targets {
			if t.Weight <= 0 || t.Weight > 1 {
				return errors.Errorf("%s: weight for %q must be in (0,1]", endpointType, t.Provider)
			}
			if _, ok := providers[t.Provider]; !ok {
				return errors.Errorf("%s: unknown provider %q", endpointType, t.Provider)
			}
		}
	case "latency":
		if len(bc.Prov) == 0 {
			return errors.Errorf("%s: latency balance requires providers", endpointType)
		}
		for _, p := range bc.Prov {
			if _, ok := providers[p]; !ok {
				return errors.Errorf("%s: unknown provider %q", endpointType, p)
			}
		}
	default:
		return errors.Errorf("%s: unknown balance strategy %q", endpointType, bc.Strategy)
	}
	return nil
}
