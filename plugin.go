package error_telemetry

import (
	"context"

	"github.com/roadrunner-server/endure/v2/dep"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

const PluginName = "error_telemetry"

// Plugin wraps the telemetry client for a RoadRunner host process, so
// out-of-process producers (e.g. a browser bridge) can submit capture
// signals over RPC and other plugins can report through the bound
// ErrorReporter.
type Plugin struct {
	config *Config
	logger *zap.Logger
	client *Client

	// Lifecycle
	stopCh chan struct{}
	doneCh chan struct{}
}

// Configurer interface for config plugin
type Configurer interface {
	UnmarshalKey(name string, out interface{}) error
	Has(name string) bool
}

// Logger interface for logger plugin
type Logger interface {
	NamedLogger(name string) *zap.Logger
}

// Init initializes the plugin
func (p *Plugin) Init(cfg Configurer, log Logger) error {
	const op = errors.Op("error_telemetry_init")

	// Check if configuration section exists
	if !cfg.Has(PluginName) {
		return errors.E(op, errors.Disabled)
	}

	// Unmarshal configuration
	config := &Config{}
	if err := cfg.UnmarshalKey(PluginName, config); err != nil {
		return errors.E(op, err)
	}

	// Initialize defaults and validate
	config.InitDefaults()
	if err := config.Validate(); err != nil {
		return errors.E(op, err)
	}

	// Check if plugin is enabled
	if !config.Enabled {
		return errors.E(op, errors.Disabled)
	}

	p.config = config
	p.logger = log.NamedLogger(PluginName)

	client, err := NewFromConfig(*config, WithLogger(p.logger))
	if err != nil {
		return errors.E(op, err)
	}
	p.client = client

	// Initialize lifecycle channels
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	p.logger.Info("error telemetry plugin initialized",
		zap.Bool("enabled", config.Enabled),
		zap.Bool("server_sink", config.LogToServer),
		zap.String("log_server_url", config.LogServerURL),
		zap.Float64("sampling_rate", config.SamplingRate),
		zap.Int("max_retries", config.MaxRetries))

	return nil
}

// Serve starts the plugin
func (p *Plugin) Serve() chan error {
	errCh := make(chan error, 1)

	if p.config == nil {
		errCh <- errors.E("error_telemetry_serve", errors.Str("plugin not initialized"))
		return errCh
	}

	go func() {
		defer close(p.doneCh)

		p.logger.Info("error telemetry plugin started")

		// The delivery queue is demand-driven; nothing to pump here.
		<-p.stopCh
		p.logger.Info("error telemetry plugin stopping")
	}()

	return errCh
}

// Stop stops the plugin
func (p *Plugin) Stop(ctx context.Context) error {
	if p.stopCh != nil {
		close(p.stopCh)
	}

	if p.client != nil {
		if err := p.client.Close(ctx); err != nil {
			p.logger.Warn("client close timed out", zap.Error(err))
		}
	}

	// Wait for graceful shutdown with timeout
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		p.logger.Warn("plugin stop timed out")
		return ctx.Err()
	}
}

// Name returns the plugin name
func (p *Plugin) Name() string {
	return PluginName
}

// RPC returns the RPC interface
func (p *Plugin) RPC() interface{} {
	return NewRPC(p, p.logger)
}

// Provides returns the dependencies this plugin provides
func (p *Plugin) Provides() []*dep.Out {
	return []*dep.Out{
		dep.Bind((*ErrorReporter)(nil), p.Reporter),
	}
}

// Reporter returns the reporter interface backed by the client.
func (p *Plugin) Reporter() ErrorReporter {
	return p.client
}

// ErrorReporter is the surface other plugins consume.
type ErrorReporter interface {
	CaptureError(value any, additionalInfo map[string]any) *Client
	Capture(sig CaptureSignal) *Client
}
