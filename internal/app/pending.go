package app

import (
	"sort"
	"strings"
	"sync"
	"time"

	"signalExecBot/internal/domain"
)

// PendingOutcome is an order whose fill could not be confirmed at submission time.
// The reconciler resolves it against the exchange's position snapshot.
type PendingOutcome struct {
	Symbol        string
	Direction     domain.Direction
	ClientOrderID string
	OrderID       string
	Amount        float64
	StopLoss      float64
	TakeProfit    float64
	Leverage      int
	SubmittedAt   time.Time
	Reason        string
}

// PendingRegistry holds at most one unresolved outcome per symbol.
type PendingRegistry struct {
	mu    sync.RWMutex
	items map[string]PendingOutcome
}

func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{items: make(map[string]PendingOutcome)}
}

func (r *PendingRegistry) Add(p PendingOutcome) {
	p.Symbol = strings.ToUpper(p.Symbol)
	r.mu.Lock()
	r.items[p.Symbol] = p
	r.mu.Unlock()
}

func (r *PendingRegistry) Get(symbol string) (PendingOutcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[strings.ToUpper(symbol)]
	return p, ok
}

func (r *PendingRegistry) Remove(symbol string) {
	r.mu.Lock()
	delete(r.items, strings.ToUpper(symbol))
	r.mu.Unlock()
}

// Symbols returns the set of symbols with a pending outcome.
func (r *PendingRegistry) Symbols() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.items))
	for s := range r.items {
		out[s] = true
	}
	return out
}

// List returns the pending outcomes sorted by symbol.
func (r *PendingRegistry) List() []PendingOutcome {
	r.mu.RLock()
	out := make([]PendingOutcome, 0, len(r.items))
	for _, p := range r.items {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
