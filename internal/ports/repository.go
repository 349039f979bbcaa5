package ports

import (
	"context"
	"time"

	"signalExecBot/internal/domain"
)

// PositionRepository stores positions. At most one open row per symbol may exist;
// Create returns ErrDuplicateEntry when that would be violated.
type PositionRepository interface {
	// Create saves a new position and returns its assigned ID.
	Create(ctx context.Context, pos *domain.Position) (int64, error)
	// Update modifies an existing position.
	Update(ctx context.Context, pos *domain.Position) error
	// FindOpenBySymbol retrieves the currently open position for a given symbol, if any.
	// Returns nil, nil if no open position is found.
	FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error)
	// FindOpen retrieves every open position.
	FindOpen(ctx context.Context) ([]*domain.Position, error)
}

// TradeRepository stores realized outcomes of closed positions.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// RealizedPNLSince sums the PNL of trades that closed at or after since.
	RealizedPNLSince(ctx context.Context, since time.Time) (float64, error)
}

// ExecutionLog records the terminal outcome of every execute call.
type ExecutionLog interface {
	RecordExecution(ctx context.Context, res *domain.ExecutionResult) (int64, error)
	FindExecutions(ctx context.Context, symbol string, limit int) ([]*domain.ExecutionResult, error)
}
