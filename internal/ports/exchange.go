package ports

import (
	"context"
	"time"

	"signalExecBot/internal/domain"
)

// SignedRequest is a single-use authenticated request ready for the wire.
type SignedRequest struct {
	Operation string            // header type, e.g. "create_market_order"
	Endpoint  string            // path relative to the API root
	Canonical []byte            // exact bytes that were signed
	Signature string            // base58
	Account   string            // account public key
	Timestamp time.Time         // header timestamp
	ExpiresAt time.Time         // timestamp + expiry window
	Body      []byte            // flat JSON body: auth fields + unwrapped payload
	Headers   map[string]string // auth headers
}

// Expired reports whether the request can no longer be accepted at now.
func (r *SignedRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// OrderRequest is an OrderIntent after quantization; every price and amount is exchange-legal.
type OrderRequest struct {
	Symbol          string
	Side            domain.OrderSide
	Amount          float64
	Price           float64 // zero for market orders
	ReduceOnly      bool
	SlippagePercent float64
	ClientOrderID   string
	StopLoss        *BracketLeg
	TakeProfit      *BracketLeg
}

// BracketLeg is one side of a stop-loss/take-profit attachment.
type BracketLeg struct {
	StopPrice  float64
	LimitPrice float64
}

// BracketRequest attaches SL/TP to an already open position.
type BracketRequest struct {
	Symbol     string
	Side       domain.OrderSide // side of the position's opening order
	StopLoss   *BracketLeg
	TakeProfit *BracketLeg
}

// CancelRequest identifies a resting order. OrderID wins when both ids are set.
type CancelRequest struct {
	Symbol        string
	OrderID       string
	ClientOrderID string
}

// ExchangePosition is the exchange's authoritative view of an open position.
type ExchangePosition struct {
	Symbol     string
	Side       domain.Direction
	Amount     float64
	EntryPrice float64
}

// RequestSigner turns exchange requests into signed, single-use wire requests.
type RequestSigner interface {
	SignOrder(ctx context.Context, order OrderRequest) (*SignedRequest, error)
	SignBracket(ctx context.Context, bracket BracketRequest) (*SignedRequest, error)
	SignCancel(ctx context.Context, cancel CancelRequest) (*SignedRequest, error)
	// Validate checks the signing key configuration.
	Validate() error
}

// ExchangeGateway is a stateless adapter over the exchange's HTTP API.
// Implementations make exactly one outbound call per invocation and never retry.
type ExchangeGateway interface {
	// SubmitOrder places a signed order. On error the returned result may still carry
	// status and detail; the error wraps one of the exchange sentinels.
	SubmitOrder(ctx context.Context, req *SignedRequest) (*domain.ExecutionResult, error)
	// SetPositionTPSL attaches a bracket to an open position.
	SetPositionTPSL(ctx context.Context, req *SignedRequest) error
	// CancelOrder cancels a resting order. An order the exchange no longer knows
	// (already filled, cancelled or never placed) yields an error wrapping ErrNotFound.
	CancelOrder(ctx context.Context, req *SignedRequest) error
	// FetchPositions returns every open position of the account.
	FetchPositions(ctx context.Context) ([]ExchangePosition, error)
	// GetMarkPrice returns the current mark price for a symbol.
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
}

// RuleBook is a read-only, versioned snapshot of symbol trading rules.
type RuleBook interface {
	Rule(symbol string) (domain.SymbolTradingRule, bool)
	Version() int64
	// Revalidate reloads the rules from their source; used after the exchange rejects a request.
	Revalidate(ctx context.Context, symbol string) error
}

// SignalSource delivers signals in arrival order until ctx is done.
type SignalSource interface {
	Subscribe(ctx context.Context, handler func(domain.Signal)) error
}
