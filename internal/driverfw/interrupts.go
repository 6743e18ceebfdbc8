package driverfw

import (
	"sync"

	"github.com/pkg/errors"
)

// InterruptHandler is invoked on the line it was registered for.
type InterruptHandler func(line uint8)

// interruptTable mirrors register_irq/unregister_irq/enable_irq/
// disable_irq from interrupts.rs: a fixed mapping from IRQ line to a
// single handler plus an enabled flag, guarded by one mutex the way
// every other global table in this repository is.
type interruptTable struct {
	mu       sync.Mutex
	handlers map[uint8]InterruptHandler
	enabled  map[uint8]bool
}

var irqs = &interruptTable{
	handlers: map[uint8]InterruptHandler{},
	enabled:  map[uint8]bool{},
}

// RegisterIRQ installs h for line, replacing any previous handler.
func RegisterIRQ(line uint8, h InterruptHandler) {
	irqs.mu.Lock()
	defer irqs.mu.Unlock()
	irqs.handlers[line] = h
}

// UnregisterIRQ removes any handler installed for line.
func UnregisterIRQ(line uint8) {
	irqs.mu.Lock()
	defer irqs.mu.Unlock()
	delete(irqs.handlers, line)
	delete(irqs.enabled, line)
}

// EnableIRQ marks line as eligible for dispatch.
func EnableIRQ(line uint8) { irqs.setEnabled(line, true) }

// DisableIRQ marks line as not eligible for dispatch.
func DisableIRQ(line uint8) { irqs.setEnabled(line, false) }

func (t *interruptTable) setEnabled(line uint8, v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled[line] = v
}

// Dispatch invokes the handler registered for line if one exists and
// the line is enabled. Per the spec's interrupt-context-vs-work split,
// handlers registered here are expected to do minimal work and hand
// off the rest via an IPC notification rather than block.
func Dispatch(line uint8) error {
	irqs.mu.Lock()
	h, hasHandler := irqs.handlers[line]
	enabled := irqs.enabled[line]
	irqs.mu.Unlock()

	if !hasHandler {
		return errors.Wrapf(ErrDeviceNotFound, "driverfw: no handler for irq line %d", line)
	}
	if !enabled {
		return nil
	}
	h(line)
	return nil
}
