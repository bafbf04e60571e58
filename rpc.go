package error_telemetry

import (
	"go.uber.org/zap"
)

// RPC provides RPC methods for out-of-process producers, typically a
// thin bridge forwarding browser-side capture signals.
type RPC struct {
	plugin *Plugin
	logger *zap.Logger
}

// NewRPC creates a new RPC instance
func NewRPC(plugin *Plugin, logger *zap.Logger) *RPC {
	return &RPC{
		plugin: plugin,
		logger: logger,
	}
}

// Capture submits a single capture signal to the pipeline.
func (r *RPC) Capture(sig *CaptureSignal, result *CaptureResult) error {
	r.logger.Debug("received capture signal via RPC",
		zap.String("type", string(sig.Type)),
		zap.String("message", sig.Message))

	r.plugin.client.Capture(*sig)

	*result = CaptureResult{Accepted: true}
	return nil
}

// CaptureBatch submits a batch of capture signals.
func (r *RPC) CaptureBatch(signals []*CaptureSignal, result *[]*CaptureResult) error {
	if len(signals) == 0 {
		*result = []*CaptureResult{}
		return nil
	}

	r.logger.Debug("received capture batch via RPC",
		zap.Int("count", len(signals)))

	results := make([]*CaptureResult, len(signals))
	for i, sig := range signals {
		r.plugin.client.Capture(*sig)
		results[i] = &CaptureResult{Accepted: true}
	}

	*result = results
	return nil
}
