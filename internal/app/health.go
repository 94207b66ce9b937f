package app

import (
	"sync/atomic"

	"github.com/ccbridge/ccbridge/internal/proxy"
)

// Health tracks whether the gateway accepts traffic. It turns ready once the
// listener is up and drops back before shutdown starts draining requests.
// Upstream configuration does not affect it; /health reports that separately.
type Health struct {
	ready atomic.Bool
}

// Compile-time check that Health implements proxy.ReadinessChecker interface
var _ proxy.ReadinessChecker = (*Health)(nil)

// NewHealth creates a Health initialized as not ready.
func NewHealth() *Health {
	return &Health{}
}

// SetReady updates the readiness state.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns the current readiness state.
func (h *Health) IsReady() bool {
	return h.ready.Load()
}
