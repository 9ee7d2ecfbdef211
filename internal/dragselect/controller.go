// Package dragselect turns pointer gestures over an availability grid into
// idempotent set operations against the slot ledger.
//
// A gesture starts on PointerDown, which fixes the mode for the whole drag:
// add when the first cell was unselected, remove when it was selected. Each
// cell entered afterwards is written only when its confirmed state disagrees
// with the mode. PointerUp always returns the controller to Idle, wherever
// the pointer was released.
package dragselect

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/peer-scheduler/internal/availability"
)

// State is the gesture state.
type State int

const (
	Idle State = iota
	DraggingAdd
	DraggingRemove
)

func (s State) String() string {
	switch s {
	case DraggingAdd:
		return "dragging-add"
	case DraggingRemove:
		return "dragging-remove"
	default:
		return "idle"
	}
}

// ErrNotDragging is returned by PointerEnter outside a gesture.
var ErrNotDragging = errors.New("dragselect: no gesture in progress")

// Setter writes the owner's desired state for one cell. Implementations must
// be idempotent: setting a cell to the state it already has succeeds.
type Setter interface {
	SetCell(ctx context.Context, cell availability.Cell, selected bool) error
}

// SetterFunc adapts a function to Setter.
type SetterFunc func(ctx context.Context, cell availability.Cell, selected bool) error

// SetCell calls f.
func (f SetterFunc) SetCell(ctx context.Context, cell availability.Cell, selected bool) error {
	return f(ctx, cell, selected)
}

// Notifier surfaces non-fatal write failures to the user.
type Notifier func(cell availability.Cell, err error)

// Controller owns the selection of a single owner on a single poll.
type Controller struct {
	mu        sync.Mutex
	state     State
	selection map[availability.Cell]bool
	setter    Setter
	notify    Notifier
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier sets the callback invoked when a write fails.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		c.notify = n
	}
}

// New creates an idle controller writing through setter.
func New(setter Setter, opts ...Option) *Controller {
	c := &Controller{
		selection: make(map[availability.Cell]bool),
		setter:    setter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load replaces the confirmed selection, typically after the initial grid read
// or after the change feed reported the subscription lagged.
func (c *Controller) Load(selected []availability.Cell) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection = make(map[availability.Cell]bool, len(selected))
	for _, cell := range selected {
		c.selection[cell] = true
	}
}

// Confirm applies a confirmed ledger event for the owner.
func (c *Controller) Confirm(cell availability.Cell, selected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if selected {
		c.selection[cell] = true
	} else {
		delete(c.selection, cell)
	}
}

// Selected reports the confirmed state of cell.
func (c *Controller) Selected(cell availability.Cell) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection[cell]
}

// State returns the current gesture state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PointerDown starts a gesture on cell and writes its flipped state. A
// gesture still open from a missed PointerUp is discarded first.
func (c *Controller) PointerDown(ctx context.Context, cell availability.Cell) error {
	c.mu.Lock()
	c.state = DraggingAdd
	if c.selection[cell] {
		c.state = DraggingRemove
	}
	desired := c.state == DraggingAdd
	c.mu.Unlock()

	return c.write(ctx, cell, desired)
}

// PointerEnter writes cell when its confirmed state disagrees with the
// gesture mode. Cells that already match are left alone.
func (c *Controller) PointerEnter(ctx context.Context, cell availability.Cell) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == Idle {
		return ErrNotDragging
	}
	return c.write(ctx, cell, state == DraggingAdd)
}

// PointerUp ends the gesture unconditionally.
func (c *Controller) PointerUp() {
	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()
}

// write sends desired for cell, the mode captured when the pointer event
// arrived. The selection changes only after the setter confirms the write; on
// failure it is left untouched and the notifier is told.
func (c *Controller) write(ctx context.Context, cell availability.Cell, desired bool) error {
	c.mu.Lock()
	current := c.selection[cell]
	c.mu.Unlock()

	if current == desired {
		return nil
	}

	if err := c.setter.SetCell(ctx, cell, desired); err != nil {
		if c.notify != nil {
			c.notify(cell, err)
		}
		return fmt.Errorf("set %s %02d:00: %w", cell.Date, cell.Hour, err)
	}

	c.Confirm(cell, desired)
	return nil
}
