package domain

// Direction is the trade direction recommended by a Signal.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// OrderSide is the exchange-facing side of an order.
type OrderSide string

const (
	Bid OrderSide = "bid" // buy / open long
	Ask OrderSide = "ask" // sell / open short
)

// SideFor maps a signal direction to the side of the opening order.
func SideFor(d Direction) OrderSide {
	if d == Short {
		return Ask
	}
	return Bid
}

// PositionStatus represents the status of a trading position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "SL"
	CloseReasonTakeProfit CloseReason = "TP"
	CloseReasonExchange   CloseReason = "EXCHANGE_CLOSED" // closed on the exchange, trigger unknown
	CloseReasonSideFlip   CloseReason = "SIDE_FLIP"       // exchange reports the opposite side
	CloseReasonUnknown    CloseReason = "Unknown"
)
