package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"signalExecBot/internal/ports"
)

// SymbolLocks hands out one exclusive execution slot per symbol.
// Both the coordinator and the reconciler hold the slot while touching a symbol's position.
type SymbolLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewSymbolLocks creates an empty lock table.
func NewSymbolLocks() *SymbolLocks {
	return &SymbolLocks{slots: make(map[string]chan struct{})}
}

func (l *SymbolLocks) slot(symbol string) chan struct{} {
	symbol = strings.ToUpper(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[symbol]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[symbol] = s
	}
	return s
}

// Acquire blocks until the symbol's slot is free or ctx is done.
// The returned release func must be called exactly once.
func (l *SymbolLocks) Acquire(ctx context.Context, symbol string) (func(), error) {
	s := l.slot(symbol)
	select {
	case s <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-s }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire %s slot: %w: %w", symbol, ports.ErrContextCanceled, ctx.Err())
	}
}
