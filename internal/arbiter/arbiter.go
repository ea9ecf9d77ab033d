// Package arbiter enforces that at most one producer writes to LED
// hardware at a time. It does not know packet semantics; it only gates
// sends by the process-wide transport mode.
package arbiter

import (
	"sync"

	"github.com/ivanli-cn/ambient-light-go/internal/types"
	"go.uber.org/zap"
)

// Sender is the thing that actually puts bytes on the wire once the
// Arbiter has approved a send; the Device Registry implements this.
type Sender interface {
	SendToAll(packet []byte)
}

// ModeChangeEvent is published on the status bus whenever the mode
// changes.
type ModeChangeEvent struct {
	Previous types.TransportMode
	Current  types.TransportMode
}

// Arbiter is the single process-wide mode state machine. Construct one
// with New and share the pointer; never recreate it inside business
// logic.
type Arbiter struct {
	mu     sync.RWMutex
	mode   types.TransportMode
	sender Sender
	log    *zap.Logger

	onModeChange func(ModeChangeEvent)
}

// New returns an Arbiter in mode None, forwarding approved sends to sender.
func New(sender Sender, log *zap.Logger) *Arbiter {
	return &Arbiter{sender: sender, log: log}
}

// OnModeChange registers a callback invoked after every SetMode that
// actually changes the mode; setting the current mode again does not
// fire it (used to wire the Status & Preview Bus without Arbiter
// importing it directly).
func (a *Arbiter) OnModeChange(fn func(ModeChangeEvent)) {
	a.mu.Lock()
	a.onModeChange = fn
	a.mu.Unlock()
}

// GetMode returns the current transport mode.
func (a *Arbiter) GetMode() types.TransportMode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

// SetMode transitions to m, logging the call and notifying the
// OnModeChange callback when the mode differs from the previous one.
func (a *Arbiter) SetMode(m types.TransportMode) {
	a.mu.Lock()
	prev := a.mode
	a.mode = m
	cb := a.onModeChange
	a.mu.Unlock()

	if a.log != nil {
		a.log.Info("transport mode changed", zap.Stringer("previous", prev), zap.Stringer("current", m))
	}
	if cb != nil && prev != m {
		cb(ModeChangeEvent{Previous: prev, Current: m})
	}
}

// Send forwards packet to the Device Registry iff the Arbiter is
// currently in producerMode; otherwise it returns a *types.WrongModeError
// and sends nothing.
func (a *Arbiter) Send(packet []byte, producerMode types.TransportMode) error {
	a.mu.RLock()
	current := a.mode
	a.mu.RUnlock()

	if current != producerMode {
		return &types.WrongModeError{Current: current, Expected: producerMode}
	}
	a.sender.SendToAll(packet)
	return nil
}

// ForceSend bypasses the mode check. Used only for the emergency
// "turn LEDs off" packet on shutdown or mode switch.
func (a *Arbiter) ForceSend(packet []byte) {
	a.sender.SendToAll(packet)
}
