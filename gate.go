package error_telemetry

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PolicyGate applies sampling and throttle-window suppression to
// formatted records. Throttling is global per client instance, not per
// error signature: bursts of different errors are suppressed alike.
type PolicyGate struct {
	mu           sync.Mutex
	lastAccepted time.Time
	logger       *zap.Logger
	now          func() time.Time
	randFloat    func() float64
}

// NewPolicyGate creates a gate with the real clock and random source.
func NewPolicyGate(logger *zap.Logger) *PolicyGate {
	return &PolicyGate{
		logger:    logger,
		now:       time.Now,
		randFloat: rand.Float64,
	}
}

// Accept decides whether a formatted record proceeds to delivery.
// Sampling is drawn first, then the throttle window; the last-accepted
// timestamp advances only on acceptance. Rejections are silent beyond
// debug logging and the record is discarded, not queued.
func (g *PolicyGate) Accept(record *ErrorRecord, cfg *Config) (bool, DiscardReason) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cfg.SamplingRate <= 0 {
		return false, ReasonSampleRate
	}
	if cfg.SamplingRate < 1 && g.randFloat() > cfg.SamplingRate {
		g.logger.Debug("record lost sampling draw",
			zap.String("event_id", record.EventID),
			zap.Float64("sampling_rate", cfg.SamplingRate))
		return false, ReasonSampleRate
	}

	now := g.now()
	if cfg.ThrottleTime > 0 && !g.lastAccepted.IsZero() && now.Sub(g.lastAccepted) < cfg.ThrottleTime {
		g.logger.Debug("record throttled",
			zap.String("event_id", record.EventID),
			zap.Duration("throttle_time", cfg.ThrottleTime),
			zap.Time("last_accepted", g.lastAccepted))
		return false, ReasonThrottled
	}

	g.lastAccepted = now
	return true, ""
}
