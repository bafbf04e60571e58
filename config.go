package error_telemetry

import (
	"os"
	"time"

	"github.com/roadrunner-server/errors"
	"gopkg.in/yaml.v3"
)

// TransformFunc rewrites the outgoing payload tree immediately before
// transmission. Returning nil vetoes the delivery entirely.
type TransformFunc func(payload map[string]any) map[string]any

// ErrorCallback is invoked with every record that passed filtering and
// the policy gate, before it is queued for delivery.
type ErrorCallback func(record *ErrorRecord)

// Config is the effective, fully-populated client configuration. It is
// never mutated in place: every update re-derives a fresh Config from
// the defaults plus the accumulated overrides.
type Config struct {
	// Enable/disable capturing. Disabling stops new captures; records
	// already queued keep draining.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Sinks
	LogToConsole bool   `mapstructure:"log_to_console" yaml:"log_to_console"`
	LogToServer  bool   `mapstructure:"log_to_server" yaml:"log_to_server"`
	LogServerURL string `mapstructure:"log_server_url" yaml:"log_server_url"`

	// Application identity, copied onto every record at format time.
	AppName     string `mapstructure:"app_name" yaml:"app_name"`
	AppVersion  string `mapstructure:"app_version" yaml:"app_version"`
	Environment string `mapstructure:"environment" yaml:"environment"`

	// MaxStackLength caps the stack text on a record; zero or negative
	// disables truncation.
	MaxStackLength int `mapstructure:"max_stack_length" yaml:"max_stack_length"`

	// ThrottleTime is the minimum spacing between two accepted records.
	// It also seeds the retry backoff schedule.
	ThrottleTime time.Duration `mapstructure:"throttle_time" yaml:"-"`

	// Headers are added to every collector request.
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`

	// CatchPromiseRejections controls whether unhandledrejection-typed
	// signals are accepted at all.
	CatchPromiseRejections bool `mapstructure:"catch_promise_rejections" yaml:"catch_promise_rejections"`

	// Hooks. Not representable in file configuration.
	OnError          ErrorCallback `mapstructure:"-" yaml:"-"`
	TransformRequest TransformFunc `mapstructure:"-" yaml:"-"`

	// SamplingRate is the fraction of otherwise-accepted records that
	// are forwarded; 1.0 accepts everything, 0.0 rejects everything.
	SamplingRate float64 `mapstructure:"sampling_rate" yaml:"sampling_rate"`

	// Retry policy
	MaxRetries    int     `mapstructure:"max_retries" yaml:"max_retries"`
	BackoffFactor float64 `mapstructure:"backoff_factor" yaml:"backoff_factor"`

	// Payload shaping
	ConvertToSnakeCase    bool   `mapstructure:"convert_to_snake_case" yaml:"convert_to_snake_case"`
	SchemaName            string `mapstructure:"schema_name" yaml:"schema_name"`
	SchemaVersion         string `mapstructure:"schema_version" yaml:"schema_version"`
	AuthKey               string `mapstructure:"auth_key" yaml:"auth_key"`
	ProtectReservedFields bool   `mapstructure:"protect_reserved_fields" yaml:"protect_reserved_fields"`

	// RespectDoNotTrack downgrades device-id persistence to the session
	// tier when the environment signals do-not-track.
	RespectDoNotTrack bool `mapstructure:"respect_do_not_track" yaml:"respect_do_not_track"`

	// Transport
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"-"`
	Compression    bool          `mapstructure:"compression" yaml:"compression"`

	// Denylists. A non-nil caller-supplied list replaces the built-in
	// defaults wholesale.
	IgnoredMessages []Pattern `mapstructure:"-" yaml:"ignored_messages"`
	IgnoredURLs     []Pattern `mapstructure:"-" yaml:"ignored_urls"`

	// Textual denylists as they appear in a Configurer section. Generic
	// mapstructure decoding cannot fill Pattern's unexported fields, so
	// the plugin path decodes plain strings here and InitDefaults
	// compiles them ("re:" prefix for regular expressions).
	RawIgnoredMessages []string `mapstructure:"ignored_messages" yaml:"-"`
	RawIgnoredURLs     []string `mapstructure:"ignored_urls" yaml:"-"`

	// Set when compiling the raw denylists fails; surfaced by Validate.
	patternErr error
}

// DefaultConfig returns the built-in defaults the override chain is
// applied on top of.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		LogToConsole:           true,
		LogToServer:            false,
		AppName:                "App",
		Environment:            "production",
		MaxStackLength:         1000,
		ThrottleTime:           time.Second,
		Headers:                map[string]string{},
		CatchPromiseRejections: true,
		SamplingRate:           1.0,
		MaxRetries:             3,
		BackoffFactor:          2.0,
		ConvertToSnakeCase:     true,
		ProtectReservedFields:  true,
		RequestTimeout:         10 * time.Second,
		IgnoredMessages:        DefaultIgnoredMessages(),
		IgnoredURLs:            DefaultIgnoredURLs(),
	}
}

// InitDefaults fills zero-valued fields on a configuration unmarshalled
// from a file or a Configurer section. Booleans keep their unmarshalled
// values; a file config has to spell them out.
func (cfg *Config) InitDefaults() {
	if cfg.AppName == "" {
		cfg.AppName = "App"
	}
	if cfg.Environment == "" {
		cfg.Environment = "production"
	}
	if cfg.MaxStackLength == 0 {
		cfg.MaxStackLength = 1000
	}
	if cfg.ThrottleTime == 0 {
		cfg.ThrottleTime = time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	if cfg.SamplingRate == 0 {
		cfg.SamplingRate = 1.0
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffFactor == 0 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.IgnoredMessages == nil {
		if cfg.RawIgnoredMessages != nil {
			cfg.IgnoredMessages, cfg.patternErr = compilePatterns(cfg.RawIgnoredMessages)
		} else {
			cfg.IgnoredMessages = DefaultIgnoredMessages()
		}
	}
	if cfg.IgnoredURLs == nil {
		if cfg.RawIgnoredURLs != nil {
			compiled, err := compilePatterns(cfg.RawIgnoredURLs)
			cfg.IgnoredURLs = compiled
			if cfg.patternErr == nil {
				cfg.patternErr = err
			}
		} else {
			cfg.IgnoredURLs = DefaultIgnoredURLs()
		}
	}
}

// compilePatterns parses the textual denylist form used in Configurer
// sections.
func compilePatterns(raw []string) ([]Pattern, error) {
	out := make([]Pattern, len(raw))
	for i, s := range raw {
		if err := out[i].UnmarshalText([]byte(s)); err != nil {
			return nil, errors.Errorf("pattern %q: %v", s, err)
		}
	}
	return out, nil
}

// Validate validates the configuration.
func (cfg *Config) Validate() error {
	const op = errors.Op("error_telemetry_config_validate")

	if cfg.patternErr != nil {
		return errors.E(op, cfg.patternErr)
	}
	if cfg.SamplingRate < 0 || cfg.SamplingRate > 1 {
		return errors.E(op, errors.Errorf("sampling_rate must be within [0, 1], got %v", cfg.SamplingRate))
	}
	if cfg.MaxRetries < 0 {
		return errors.E(op, errors.Errorf("max_retries must not be negative, got %d", cfg.MaxRetries))
	}
	if cfg.BackoffFactor < 1 {
		return errors.E(op, errors.Errorf("backoff_factor must be >= 1, got %v", cfg.BackoffFactor))
	}
	if cfg.LogToServer && cfg.LogServerURL == "" {
		return errors.E(op, errors.Str("log_to_server requires log_server_url"))
	}
	return nil
}

// Overrides is a partial configuration. Nil fields are "not set"; every
// non-nil field replaces the corresponding Config field when the
// effective configuration is derived. Denylists replace the defaults
// wholesale, matching the explicit-override semantics of the filter.
type Overrides struct {
	Enabled                *bool
	LogToConsole           *bool
	LogToServer            *bool
	LogServerURL           *string
	AppName                *string
	AppVersion             *string
	Environment            *string
	MaxStackLength         *int
	ThrottleTime           *time.Duration
	Headers                map[string]string
	CatchPromiseRejections *bool
	OnError                ErrorCallback
	TransformRequest       TransformFunc
	SamplingRate           *float64
	MaxRetries             *int
	BackoffFactor          *float64
	ConvertToSnakeCase     *bool
	SchemaName             *string
	SchemaVersion          *string
	AuthKey                *string
	ProtectReservedFields  *bool
	RespectDoNotTrack      *bool
	RequestTimeout         *time.Duration
	Compression            *bool
	IgnoredMessages        []Pattern
	IgnoredURLs            []Pattern
}

func (o Overrides) apply(cfg *Config) {
	if o.Enabled != nil {
		cfg.Enabled = *o.Enabled
	}
	if o.LogToConsole != nil {
		cfg.LogToConsole = *o.LogToConsole
	}
	if o.LogToServer != nil {
		cfg.LogToServer = *o.LogToServer
	}
	if o.LogServerURL != nil {
		cfg.LogServerURL = *o.LogServerURL
	}
	if o.AppName != nil {
		cfg.AppName = *o.AppName
	}
	if o.AppVersion != nil {
		cfg.AppVersion = *o.AppVersion
	}
	if o.Environment != nil {
		cfg.Environment = *o.Environment
	}
	if o.MaxStackLength != nil {
		cfg.MaxStackLength = *o.MaxStackLength
	}
	if o.ThrottleTime != nil {
		cfg.ThrottleTime = *o.ThrottleTime
	}
	if o.Headers != nil {
		cfg.Headers = o.Headers
	}
	if o.CatchPromiseRejections != nil {
		cfg.CatchPromiseRejections = *o.CatchPromiseRejections
	}
	if o.OnError != nil {
		cfg.OnError = o.OnError
	}
	if o.TransformRequest != nil {
		cfg.TransformRequest = o.TransformRequest
	}
	if o.SamplingRate != nil {
		cfg.SamplingRate = *o.SamplingRate
	}
	if o.MaxRetries != nil {
		cfg.MaxRetries = *o.MaxRetries
	}
	if o.BackoffFactor != nil {
		cfg.BackoffFactor = *o.BackoffFactor
	}
	if o.ConvertToSnakeCase != nil {
		cfg.ConvertToSnakeCase = *o.ConvertToSnakeCase
	}
	if o.SchemaName != nil {
		cfg.SchemaName = *o.SchemaName
	}
	if o.SchemaVersion != nil {
		cfg.SchemaVersion = *o.SchemaVersion
	}
	if o.AuthKey != nil {
		cfg.AuthKey = *o.AuthKey
	}
	if o.ProtectReservedFields != nil {
		cfg.ProtectReservedFields = *o.ProtectReservedFields
	}
	if o.RespectDoNotTrack != nil {
		cfg.RespectDoNotTrack = *o.RespectDoNotTrack
	}
	if o.RequestTimeout != nil {
		cfg.RequestTimeout = *o.RequestTimeout
	}
	if o.Compression != nil {
		cfg.Compression = *o.Compression
	}
	if o.IgnoredMessages != nil {
		cfg.IgnoredMessages = o.IgnoredMessages
	}
	if o.IgnoredURLs != nil {
		cfg.IgnoredURLs = o.IgnoredURLs
	}
}

// deriveConfig rebuilds the effective configuration from the base plus
// the accumulated overrides, in order. Applying overlays with disjoint
// keys is therefore order-independent.
func deriveConfig(base Config, overlays []Overrides) *Config {
	cfg := base
	for _, o := range overlays {
		o.apply(&cfg)
	}
	return &cfg
}

// fileConfig mirrors Config for YAML loading, with durations expressed
// as strings ("500ms", "2s").
type fileConfig struct {
	Config         `yaml:",inline"`
	ThrottleTime   string `yaml:"throttle_time"`
	RequestTimeout string `yaml:"request_timeout"`
}

// LoadConfig reads a YAML configuration file and fills the remaining
// fields with defaults.
func LoadConfig(path string) (*Config, error) {
	const op = errors.Op("error_telemetry_config_load")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.E(op, err)
	}

	fc := fileConfig{Config: DefaultConfig()}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, errors.E(op, err)
	}

	cfg := fc.Config
	if fc.ThrottleTime != "" {
		d, err := time.ParseDuration(fc.ThrottleTime)
		if err != nil {
			return nil, errors.E(op, errors.Errorf("invalid throttle_time: %v", err))
		}
		cfg.ThrottleTime = d
	}
	if fc.RequestTimeout != "" {
		d, err := time.ParseDuration(fc.RequestTimeout)
		if err != nil {
			return nil, errors.E(op, errors.Errorf("invalid request_timeout: %v", err))
		}
		cfg.RequestTimeout = d
	}

	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ptr is a convenience for building Overrides literals.
func ptr[T any](v T) *T {
	return &v
}
