package netif

import (
	"context"
	"log/slog"
	"sync"
)

// Table is a [Stack] holding interfaces in lwIP index order.
type Table struct {
	mu       sync.Mutex
	ifaces   [MaxIndex]Interface
	regs     [MaxIndex]Signal
	ready    Signal
	deflt    Index
	hasDeflt bool
	logger   *slog.Logger
}

// NewTable returns an empty table. logger may be nil.
func NewTable(logger *slog.Logger) *Table {
	return &Table{logger: logger}
}

// Register places iface at idx and sets its registration signal.
func (t *Table) Register(idx Index, iface Interface) error {
	if idx >= MaxIndex {
		return ErrInvalidIndex
	}
	t.mu.Lock()
	t.ifaces[idx] = iface
	t.mu.Unlock()
	t.info("netif:register", slog.String("idx", idx.String()), slog.String("name", iface.Name()))
	t.regs[idx].Set()
	return nil
}

// MarkReady sets the stack ready signal.
func (t *Table) MarkReady() {
	t.info("netif:ready")
	t.ready.Set()
}

func (t *Table) Interface(idx Index) Interface {
	if idx >= MaxIndex {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ifaces[idx]
}

func (t *Table) SetDefault(idx Index) error {
	if idx >= MaxIndex {
		return ErrInvalidIndex
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deflt = idx
	t.hasDeflt = true
	return nil
}

// Default returns the default route interface index and whether one was chosen.
func (t *Table) Default() (Index, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deflt, t.hasDeflt
}

func (t *Table) Ready() *Signal { return &t.ready }

func (t *Table) Registered(idx Index) *Signal {
	if idx >= MaxIndex {
		// Never set.
		return new(Signal)
	}
	return &t.regs[idx]
}

func (t *Table) info(msg string, attrs ...slog.Attr) {
	if t.logger != nil {
		t.logger.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs...)
	}
}
