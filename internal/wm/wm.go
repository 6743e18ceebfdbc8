// Package wm implements the input hub and window manager: fan-out of
// decoded keyboard/mouse events to subscribed window ports, and the
// window record table (id, owner, rect, z-order, visibility) those
// events are routed against.
//
// Grounded on gui/window_manager/src/main.rs for the window-record
// shape and on iostream.go's pattern of multiplexing one source
// stream out to many registered consumers over channels, generalized
// here from byte streams to structured input events.
package wm

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// EventKind distinguishes keyboard from mouse input.
type EventKind uint8

const (
	EventKeyDown EventKind = iota
	EventKeyUp
	EventMouseMove
	EventMouseButton
)

// InputEvent is a decoded input event ready for dispatch to whichever
// window currently has focus.
type InputEvent struct {
	Kind   EventKind
	Key    uint32
	DX, DY int32
	Button uint8
	Pressed bool
}

// InputHub fans incoming events out to every subscribed window port,
// mirroring the teacher's channel-based iostream multiplexer
// generalized from a single reader to a broadcast-to-many topology.
type InputHub struct {
	mu   sync.Mutex
	subs map[uint64]chan InputEvent
}

func NewInputHub() *InputHub {
	return &InputHub{subs: map[uint64]chan InputEvent{}}
}

// Subscribe registers windowID to receive future events.
func (h *InputHub) Subscribe(windowID uint64) <-chan InputEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan InputEvent, 32)
	h.subs[windowID] = ch
	return ch
}

// Unsubscribe removes windowID and closes its channel.
func (h *InputHub) Unsubscribe(windowID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[windowID]; ok {
		close(ch)
		delete(h.subs, windowID)
	}
}

// Dispatch delivers ev to windowID's channel if it is subscribed and
// not full, dropping the event otherwise rather than blocking the
// input source on a slow consumer.
func (h *InputHub) Dispatch(ev InputEvent, windowID uint64) {
	h.mu.Lock()
	ch, ok := h.subs[windowID]
	h.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
	}
}

// Broadcast delivers ev to every subscribed window, used for global
// events like a hotkey not yet routed to a specific focus target.
func (h *InputHub) Broadcast(ctx context.Context, ev InputEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Rect is a window's position and size in screen coordinates.
type Rect struct {
	X, Y, W, H int32
}

// Window is one entry in the window manager's table.
type Window struct {
	ID      uint64
	OwnerPID uint64
	Rect    Rect
	ZOrder  int32
	Visible bool
}

// Manager owns the window table, assigning z-order by insertion order
// the way a minimal compositor without an explicit raise/lower
// protocol would.
type Manager struct {
	mu      sync.Mutex
	windows map[uint64]*Window
	nextID  uint64
	nextZ   int32
}

func NewManager() *Manager {
	return &Manager{windows: map[uint64]*Window{}, nextID: 1}
}

// CreateWindow allocates a new window owned by ownerPID at rect,
// raised above every existing window.
func (m *Manager) CreateWindow(ownerPID uint64, rect Rect) *Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &Window{ID: m.nextID, OwnerPID: ownerPID, Rect: rect, ZOrder: m.nextZ, Visible: true}
	m.windows[w.ID] = w
	m.nextID++
	m.nextZ++
	return w
}

// DestroyWindow removes id from the table.
func (m *Manager) DestroyWindow(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.windows[id]; !ok {
		return errors.Errorf("wm: no window %d", id)
	}
	delete(m.windows, id)
	return nil
}

// Raise moves id above every other window.
func (m *Manager) Raise(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[id]
	if !ok {
		return errors.Errorf("wm: no window %d", id)
	}
	w.ZOrder = m.nextZ
	m.nextZ++
	return nil
}

// TopmostAt returns the highest z-order visible window containing
// (x, y), used to route a pointer event to the right window.
func (m *Manager) TopmostAt(x, y int32) (*Window, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Window
	for _, w := range m.windows {
		if !w.Visible {
			continue
		}
		if x < w.Rect.X || x >= w.Rect.X+w.Rect.W || y < w.Rect.Y || y >= w.Rect.Y+w.Rect.H {
			continue
		}
		if best == nil || w.ZOrder > best.ZOrder {
			best = w
		}
	}
	return best, best != nil
}
