package domain

import "time"

// Candle is a closed OHLCV bar attached to a signal for volatility sizing.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Signal is a strategy-produced recommendation to open a position.
// It is immutable once received and consumed exactly once.
type Signal struct {
	Symbol        string
	Direction     Direction
	Strength      float64   // strategy confidence, compared against the configured minimum
	Timestamp     time.Time // when the strategy emitted the signal
	SuggestedSize float64   // optional upper bound on the base amount, 0 = unset

	// Market context used for confirmation and sizing.
	Price          float64  // reference price at emission
	ATR            float64  // average true range; derived from Candles when zero
	Volume         float64  // confirming volume of the latest bar
	VolumeBaseline float64  // rolling average volume
	Candles        []Candle // optional, oldest first
	LimitPrice     float64  // optional; when set the order is placed as a limit order
}
