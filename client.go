package error_telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option customizes a Client at construction time.
type Option func(*clientOptions)

type clientOptions struct {
	logger    *zap.Logger
	env       Environment
	durable   Store
	cookie    Store
	session   Store
	sender    Sender
	now       func() time.Time
	randFloat func() float64
}

// WithLogger sets the structured logger; the default is a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithEnvironment sets the host-environment boundary the pipeline reads
// browser signals from.
func WithEnvironment(env Environment) Option {
	return func(o *clientOptions) { o.env = env }
}

// WithStores sets the device-id persistence tiers in decreasing
// durability. Any of them may be nil.
func WithStores(durable, cookie, session Store) Option {
	return func(o *clientOptions) {
		o.durable, o.cookie, o.session = durable, cookie, session
	}
}

// WithSender replaces the HTTP transport, typically in tests.
func WithSender(s Sender) Option {
	return func(o *clientOptions) { o.sender = s }
}

// WithClock replaces the clock used by the formatter and the policy
// gate.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) { o.now = now }
}

// WithRand replaces the sampling random source.
func WithRand(f func() float64) Option {
	return func(o *clientOptions) { o.randFloat = f }
}

// Client is one telemetry pipeline instance owning all of its mutable
// state: configuration, policy gate, delivery queue. Multiple
// independent instances can coexist in one process.
type Client struct {
	logger    *zap.Logger
	ids       *IdentityProvider
	formatter *Formatter
	gate      *PolicyGate
	queue     *DeliveryQueue
	transport *HTTPTransport
	metrics   *metricsCollector

	mu        sync.RWMutex
	base      Config
	overlays  []Overrides
	effective *Config
	closed    bool
}

// New creates a client from the built-in defaults plus the given
// overrides.
func New(over Overrides, opts ...Option) (*Client, error) {
	return newClient(DefaultConfig(), []Overrides{over}, opts...)
}

// NewFromConfig creates a client from a fully-populated configuration,
// e.g. one unmarshalled from a file or a Configurer section.
func NewFromConfig(cfg Config, opts ...Option) (*Client, error) {
	cfg.InitDefaults()
	return newClient(cfg, nil, opts...)
}

func newClient(base Config, overlays []Overrides, opts ...Option) (*Client, error) {
	o := &clientOptions{
		logger: zap.NewNop(),
		env:    StaticEnvironment{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	effective := deriveConfig(base, overlays)
	if err := effective.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		logger:    o.logger,
		base:      base,
		overlays:  overlays,
		effective: effective,
		metrics:   newMetricsCollector(),
	}

	c.ids = NewIdentityProvider(o.env, o.durable, o.cookie, o.session, o.logger)
	c.formatter = NewFormatter(c.ids, o.env, o.logger)
	c.formatter.now = o.now

	c.gate = NewPolicyGate(o.logger)
	c.gate.now = o.now
	if o.randFloat != nil {
		c.gate.randFloat = o.randFloat
	}

	sender := o.sender
	if sender == nil {
		c.transport = NewHTTPTransport(effective.RequestTimeout, o.logger)
		sender = c.transport
	}
	c.queue = NewDeliveryQueue(sender, c.config, c.metrics, o.logger)

	return c, nil
}

// config returns the current effective configuration snapshot.
func (c *Client) config() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.effective
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// CaptureError reports an arbitrary error value with optional
// caller-supplied metadata. It never panics and never blocks on
// delivery.
func (c *Client) CaptureError(value any, additionalInfo map[string]any) *Client {
	return c.Capture(CaptureSignal{
		Type:           TypeManual,
		Error:          value,
		AdditionalInfo: additionalInfo,
	})
}

// Capture runs a raw signal through the pipeline: filter, format,
// policy gate, sinks, delivery queue. Internal failures are caught and
// logged; nothing propagates to the caller.
func (c *Client) Capture(sig CaptureSignal) *Client {
	if c == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("capture pipeline panicked", zap.Any("panic", r))
		}
	}()

	if c.isClosed() {
		c.logger.Error("capture called on a closed client, ignoring")
		return c
	}

	cfg := c.config()
	if !cfg.Enabled {
		return c
	}

	if sig.Type == "" {
		sig.Type = TypeManual
	}
	if sig.Type == TypeUnhandledRejection && !cfg.CatchPromiseRejections {
		return c
	}

	c.metrics.IncCaptured()

	// Resolve the message once; the filter and the formatter both need
	// it, and they must agree.
	sig.Message = resolveMessage(sig)

	if shouldIgnore(cfg, sig.Message, sig.Source) {
		c.metrics.IncDiscarded(ReasonFiltered)
		c.logger.Debug("signal filtered", zap.String("message", sig.Message))
		return c
	}

	record := c.formatter.Format(sig, cfg)

	if ok, reason := c.gate.Accept(record, cfg); !ok {
		c.metrics.IncDiscarded(reason)
		return c
	}

	if cfg.LogToConsole {
		c.logger.Error("captured error",
			zap.String("event_id", record.EventID),
			zap.String("type", string(record.Type)),
			zap.String("message", record.Message))
	}

	if cfg.OnError != nil {
		c.runCallback(cfg.OnError, record)
	}

	if cfg.LogToServer && cfg.LogServerURL != "" {
		c.queue.Enqueue(record)
	}
	return c
}

// runCallback isolates the user callback: a panic is logged and
// processing continues with the record untouched.
func (c *Client) runCallback(cb ErrorCallback, record *ErrorRecord) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("error callback panicked",
				zap.String("event_id", record.EventID),
				zap.Any("panic", r))
		}
	}()
	cb(record)
}

// UpdateConfig applies a partial override. The effective configuration
// is re-derived from the defaults plus every override applied so far,
// never mutated field-by-field. An override producing an invalid
// configuration is rejected and logged; the previous configuration
// stays in force.
func (c *Client) UpdateConfig(over Overrides) *Client {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.logger.Error("config update on a closed client, ignoring")
		return c
	}

	overlays := append(append([]Overrides{}, c.overlays...), over)
	next := deriveConfig(c.base, overlays)
	if err := next.Validate(); err != nil {
		c.logger.Error("invalid config update, keeping previous configuration", zap.Error(err))
		return c
	}

	c.overlays = overlays
	c.effective = next
	return c
}

// Enable turns capturing on.
func (c *Client) Enable() *Client {
	return c.UpdateConfig(Overrides{Enabled: ptr(true)})
}

// Disable stops new captures. Records already queued keep draining;
// there is no cancellation of in-flight deliveries.
func (c *Client) Disable() *Client {
	return c.UpdateConfig(Overrides{Enabled: ptr(false)})
}

// Flush waits until the delivery queue is fully idle or the context
// expires.
func (c *Client) Flush(ctx context.Context) error {
	return c.queue.Flush(ctx)
}

// Close disables the client and stops the delivery queue, waiting for
// the in-flight delivery within the context deadline. Queued entries
// are dropped.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.queue.Close(ctx)
	if c.transport != nil {
		_ = c.transport.Close()
	}
	return err
}

// MetricsCollector exposes the pipeline counters for registration with
// a prometheus registry.
func (c *Client) MetricsCollector() prometheus.Collector {
	return c.metrics
}
