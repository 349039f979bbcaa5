// Package rules holds the versioned table of symbol trading rules.
package rules

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"signalExecBot/internal/domain"
	"signalExecBot/internal/ports"
)

// Loader fetches the complete rule table from its source.
type Loader interface {
	Load(ctx context.Context) ([]domain.SymbolTradingRule, error)
}

type snapshot struct {
	version int64
	rules   map[string]domain.SymbolTradingRule
}

// Book serves read-only snapshots of the rule table. Reloads swap the snapshot atomically.
type Book struct {
	loader Loader
	logger ports.Logger
	snap   atomic.Pointer[snapshot]
	mu     sync.Mutex // serializes reloads
}

// NewBook creates a Book and performs the initial load.
func NewBook(ctx context.Context, loader Loader, logger ports.Logger) (*Book, error) {
	if loader == nil || logger == nil {
		return nil, fmt.Errorf("rule loader and logger are required")
	}
	b := &Book{loader: loader, logger: logger}
	b.snap.Store(&snapshot{rules: map[string]domain.SymbolTradingRule{}})
	if err := b.Reload(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Rule returns the rule for symbol from the current snapshot.
func (b *Book) Rule(symbol string) (domain.SymbolTradingRule, bool) {
	r, ok := b.snap.Load().rules[strings.ToUpper(symbol)]
	return r, ok
}

// Version returns the version of the current snapshot.
func (b *Book) Version() int64 {
	return b.snap.Load().version
}

// Reload replaces the snapshot with a fresh load. Invalid rules are dropped and logged;
// the previous snapshot is kept when the load fails.
func (b *Book) Reload(ctx context.Context) error {
	op := "Reload"
	b.mu.Lock()
	defer b.mu.Unlock()

	loaded, err := b.loader.Load(ctx)
	if err != nil {
		b.logger.Error(ctx, err, op+": Failed to load symbol trading rules")
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConfigurationError, err)
	}

	table := make(map[string]domain.SymbolTradingRule, len(loaded))
	for _, r := range loaded {
		r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
		if err := r.Validate(); err != nil {
			b.logger.Warn(ctx, op+": Skipping invalid trading rule", map[string]interface{}{"symbol": r.Symbol, "reason": err.Error()})
			continue
		}
		table[r.Symbol] = r
	}

	next := &snapshot{version: b.snap.Load().version + 1, rules: table}
	b.snap.Store(next)
	b.logger.Info(ctx, op+": Symbol trading rules loaded", map[string]interface{}{"version": next.version, "symbols": len(table)})
	return nil
}

// Revalidate reloads the table and reports whether symbol still has a usable rule.
func (b *Book) Revalidate(ctx context.Context, symbol string) error {
	if err := b.Reload(ctx); err != nil {
		return err
	}
	if _, ok := b.Rule(symbol); !ok {
		return fmt.Errorf("no trading rule for %s: %w", symbol, ports.ErrInvalidRule)
	}
	return nil
}
