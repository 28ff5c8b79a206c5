package types

import (
	"time"
)

type ServiceConfig struct {
	Name         string              `yaml:"name" json:"name" validate:"required"`
	Version      string              `yaml:"version" json:"version" validate:"required"`
	Logger       *LoggerConfig       `yaml:"logger" json:"logger"`
	Backend      *BackendConfig      `yaml:"backend" json:"backend" validate:"required"`
	Transport    *TransportConfig    `yaml:"transport" json:"transport"`
	Verification *VerificationConfig `yaml:"verification" json:"verification"`
	Resolver     *ResolverConfig     `yaml:"resolver" json:"resolver"`
	Cache        *CacheConfig        `yaml:"cache" json:"cache"`
	Metrics      *MetricsConfig      `yaml:"metrics" json:"metrics"`
	Cron         *CronConfig         `yaml:"cron" json:"cron"`
	Dispatcher   *DispatcherConfig   `yaml:"dispatcher" json:"dispatcher"`
	Status       *StatusConfig       `yaml:"status" json:"status"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type BackendConfig struct {
	APIKey          string   `yaml:"api_key" json:"api_key" validate:"required"`
	BaseURL         string   `yaml:"base_url" json:"base_url" validate:"required,url"`
	DiagnosticsURL  string   `yaml:"diagnostics_url" json:"diagnostics_url" validate:"omitempty,url"`
	FallbackURLs    []string `yaml:"fallback_urls" json:"fallback_urls" validate:"dive,url"`
	Platform        string   `yaml:"platform" json:"platform"`
	PlatformVersion string   `yaml:"platform_version" json:"platform_version"`
	ClientVersion   string   `yaml:"client_version" json:"client_version"`
	BundleID        string   `yaml:"bundle_id" json:"bundle_id"`
	ObserverMode    bool     `yaml:"observer_mode" json:"observer_mode"`
}

type TransportConfig struct {
	DefaultTimeout  time.Duration `yaml:"default_timeout" json:"default_timeout" validate:"min=0"`
	ReducedTimeout  time.Duration `yaml:"reduced_timeout" json:"reduced_timeout" validate:"min=0"`
	CoolDown        time.Duration `yaml:"cool_down" json:"cool_down" validate:"min=0"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host" json:"max_conns_per_host" validate:"min=0"`
}

type VerificationMode string

const (
	VerificationDisabled      VerificationMode = "disabled"
	VerificationInformational VerificationMode = "informational"
	VerificationEnforced      VerificationMode = "enforced"
)

func (m VerificationMode) IsEnabled() bool {
	return m == VerificationInformational || m == VerificationEnforced
}

type VerificationConfig struct {
	Mode          VerificationMode `yaml:"mode" json:"mode" validate:"omitempty,oneof=disabled informational enforced"`
	PublicKey     string           `yaml:"public_key" json:"public_key" validate:"required_unless=Mode disabled"`
	ForceFailures bool             `yaml:"force_failures" json:"force_failures"`
}

type ResolverConfig struct {
	Type       string        `yaml:"type" json:"type" validate:"omitempty,oneof=system bootstrap"`
	Bootstrap  []string      `yaml:"bootstrap" json:"bootstrap"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
	BadAddress []string      `yaml:"bad_addresses" json:"bad_addresses" validate:"dive,ip"`
}

type CacheConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Config interface{} `yaml:"config" json:"config"`
}

type MetricsConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Type    string            `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Prefix  string            `yaml:"prefix" json:"prefix"`
	Labels  map[string]string `yaml:"labels" json:"labels"`
}

type CronConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	Timezone  string        `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
	PruneSpec string        `yaml:"prune_spec" json:"prune_spec" validate:"required_if=Enabled true"`
	MaxAge    time.Duration `yaml:"max_age" json:"max_age" validate:"min=0"`
}

type DispatcherConfig struct {
	JitterMax time.Duration `yaml:"jitter_max" json:"jitter_max" validate:"min=0"`
}

type StatusConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port" validate:"min=0,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"min=0"`
	CheckTimeout time.Duration `yaml:"check_timeout" json:"check_timeout" validate:"min=0"`
}
