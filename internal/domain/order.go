package domain

import (
	"fmt"
	"time"
)

// SymbolTradingRule is the exchange-mandated precision for one instrument.
type SymbolTradingRule struct {
	Symbol      string  `yaml:"symbol"`
	LotSize     float64 `yaml:"lot_size"`
	TickSize    float64 `yaml:"tick_size"`
	MaxLeverage int     `yaml:"max_leverage"`
}

// Validate checks that the rule can be used for quantization.
// The returned error is plain; callers wrap it with the appropriate sentinel.
func (r SymbolTradingRule) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("rule has empty symbol")
	}
	if !(r.LotSize > 0) {
		return fmt.Errorf("lot size %v for %s must be positive", r.LotSize, r.Symbol)
	}
	if !(r.TickSize > 0) {
		return fmt.Errorf("tick size %v for %s must be positive", r.TickSize, r.Symbol)
	}
	if r.MaxLeverage < 0 {
		return fmt.Errorf("max leverage %d for %s cannot be negative", r.MaxLeverage, r.Symbol)
	}
	return nil
}

// OrderIntent is the pre-quantization order built from an approved signal.
// It lives only for the duration of one execution attempt.
type OrderIntent struct {
	Symbol          string
	Side            OrderSide
	RawAmount       float64
	RawPrice        float64 // zero for market orders
	ReduceOnly      bool
	StopLoss        float64 // zero = no stop loss
	TakeProfit      float64 // zero = no take profit
	ClientOrderID   string
	SlippagePercent float64
}

// IsLimit reports whether the intent carries a limit price.
func (o OrderIntent) IsLimit() bool {
	return o.RawPrice > 0
}

// HasBracket reports whether a stop loss or take profit is attached.
func (o OrderIntent) HasBracket() bool {
	return o.StopLoss > 0 || o.TakeProfit > 0
}

// WithoutBracket returns a copy with stop loss and take profit removed.
func (o OrderIntent) WithoutBracket() OrderIntent {
	o.StopLoss = 0
	o.TakeProfit = 0
	return o
}

// ExecutionStatus is the exchange-level status of one submission.
type ExecutionStatus string

const (
	ExecAccepted ExecutionStatus = "accepted"
	ExecRejected ExecutionStatus = "rejected"
	ExecError    ExecutionStatus = "error"
)

// Outcome is the terminal classification of one execute call.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeSkipped  Outcome = "risk_skip"
	OutcomeRejected Outcome = "rejected"
	OutcomeDegraded Outcome = "degraded_success"
	OutcomeUnknown  Outcome = "unknown"
	OutcomeFailed   Outcome = "failed" // validation error or exhausted transient retries
)

// ExecutionResult is the terminal record of a submission attempt.
type ExecutionResult struct {
	ID              int64
	Symbol          string
	ClientOrderID   string
	OrderID         string // exchange-assigned, empty on failure
	Status          ExecutionStatus
	Outcome         Outcome
	ErrorDetail     string
	SkipReason      string
	AttachmentError string // set on degraded success
	FilledAmount    float64
	AvgPrice        float64
	Attempts        int
	PositionID      int64
	CreatedAt       time.Time
}
