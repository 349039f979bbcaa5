package domain

import "time"

// Position represents a position held on the exchange and cached locally.
type Position struct {
	ID            int64
	Symbol        string
	Side          Direction
	Amount        float64
	EntryPrice    float64
	ExitPrice     float64 // 0 while open
	StopLoss      float64
	TakeProfit    float64
	Leverage      int
	Status        PositionStatus
	EntryTime     time.Time
	ExitTime      time.Time // zero while open
	PNL           float64   // realized, set on close
	CloseReason   CloseReason
	OrderID       string
	ClientOrderID string
	// BracketAttached is false when the position was opened without exchange-side SL/TP.
	BracketAttached bool
	LastSyncedAt    time.Time
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// IsLong reports whether the position is long.
func (p *Position) IsLong() bool {
	return p.Side != Short
}

// RealizedPNL returns the profit of closing the position at exitPrice.
func (p *Position) RealizedPNL(exitPrice float64) float64 {
	if p.IsLong() {
		return (exitPrice - p.EntryPrice) * p.Amount
	}
	return (p.EntryPrice - exitPrice) * p.Amount
}
