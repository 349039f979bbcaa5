package domain

import "time"

// Trade is the realized outcome of a position closed by reconciliation.
type Trade struct {
	ID          int64
	PositionID  int64
	Symbol      string
	Side        Direction
	EntryPrice  float64
	ExitPrice   float64
	Amount      float64
	Leverage    int
	PNL         float64
	EntryTime   time.Time
	ExitTime    time.Time
	CloseReason CloseReason
}
