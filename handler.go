package error_telemetry

import (
	"sync"
)

// CaptureHandler is the shape of a host-environment global error hook.
// The returned boolean asks the host to suppress its default handling
// of the error.
type CaptureHandler func(sig CaptureSignal) (suppress bool)

// HookPoint is the boundary to a host environment's global error hook:
// something holding exactly one handler that can be read and replaced.
type HookPoint interface {
	Handler() CaptureHandler
	SetHandler(CaptureHandler)
}

// Install registers the client on a hook point. The prior handler is
// captured and chained: it still runs with the original signal, and its
// suppression request is combined with the client's via logical OR.
// The returned function uninstalls the wrapper, restoring the prior
// handler; installation is a reversible registration, not a one-way
// mutation.
func (c *Client) Install(hp HookPoint, typ CaptureType) (uninstall func()) {
	prior := hp.Handler()

	hp.SetHandler(func(sig CaptureSignal) bool {
		if sig.Type == "" {
			sig.Type = typ
		}

		handled := false
		if !c.isClosed() && c.config().Enabled {
			c.Capture(sig)
			handled = true
		}

		if prior != nil {
			return prior(sig) || handled
		}
		return handled
	})

	return func() {
		hp.SetHandler(prior)
	}
}

// GlobalHook is a process-wide HookPoint implementation for embedders
// that have no native hook mechanism: producers call Dispatch, the
// installed handler chain decides suppression.
type GlobalHook struct {
	mu      sync.RWMutex
	handler CaptureHandler
}

func NewGlobalHook() *GlobalHook {
	return &GlobalHook{}
}

func (h *GlobalHook) Handler() CaptureHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handler
}

func (h *GlobalHook) SetHandler(fn CaptureHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

// Dispatch feeds a signal to the installed handler, if any, and reports
// whether suppression was requested.
func (h *GlobalHook) Dispatch(sig CaptureSignal) bool {
	fn := h.Handler()
	if fn == nil {
		return false
	}
	return fn(sig)
}
