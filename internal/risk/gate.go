// Package risk decides whether a signal may be executed and how large the order is.
package risk

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"signalExecBot/internal/domain"
	"signalExecBot/internal/ports"
)

// Rejection reasons, in the order the checks run.
const (
	ReasonInvalidSignal     = "invalid-signal"
	ReasonBlacklisted       = "blacklisted"
	ReasonPositionExists    = "position-exists"
	ReasonOutcomePending    = "outcome-pending"
	ReasonCooldown          = "cooldown"
	ReasonWeakSignal        = "weak-signal"
	ReasonVolumeUnconfirmed = "volume-unconfirmed"
	ReasonDailyLimit        = "daily-limit"
	ReasonDailyLoss         = "daily-loss-limit"
	ReasonNoVolatility      = "volatility-unavailable"
	ReasonOrderSize         = "order-size"
	ReasonExposureLimit     = "exposure-limit"
)

// Config holds the risk parameters injected at construction.
type Config struct {
	Blacklist        []string
	Cooldown         time.Duration
	MinStrength      float64
	VolumeMultiplier float64 // 0 disables volume confirmation
	StopLossATR      float64 // stop distance in ATRs
	TakeProfitATR    float64 // target distance in ATRs
	CapitalAtRiskUSD float64
	Leverage         int
	MaxTradesPerDay  int     // per symbol; 0 = unlimited
	MinOrderUSD      float64 // notional floor
	MaxOrderUSD      float64 // notional cap; 0 = no cap
	MaxExposureUSD   float64 // entry notional of open positions plus the new order; 0 = no cap
	MaxDailyLossUSD  float64 // realized loss since UTC midnight; 0 = no limit
	ATRPeriod        int
	Now              func() time.Time
}

// Exposure is the state a signal is evaluated against.
type Exposure struct {
	Open             []*domain.Position
	Pending          map[string]bool // symbols with an unresolved order outcome
	DailyRealizedPNL float64         // summed PNL of trades closed since UTC midnight
}

// OpenNotional is the entry notional of the open positions.
func (e Exposure) OpenNotional() float64 {
	total := 0.0
	for _, p := range e.Open {
		if p != nil && p.IsOpen() {
			total += p.Amount * p.EntryPrice
		}
	}
	return total
}

// Sizing is the order shape computed for an approved signal.
type Sizing struct {
	Amount     float64 // base units, before quantization
	Notional   float64
	Leverage   int
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	ATR        float64
}

// Decision is the result of evaluating one signal.
type Decision struct {
	Approved bool
	Reason   string // set when rejected
	Detail   string
	Sizing   Sizing
}

// Err returns nil for approvals and an ErrRiskRejected wrapper otherwise.
func (d Decision) Err() error {
	if d.Approved {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ports.ErrRiskRejected, d.Reason, d.Detail)
}

type dailyCount struct {
	day   string
	count int
}

// Gate implements the pre-execution risk checks.
// It reads positions but never changes them; its own state is the per-symbol attempt history.
type Gate struct {
	config    Config
	logger    ports.Logger
	blacklist map[string]bool

	mu          sync.Mutex
	lastAttempt map[string]time.Time
	daily       map[string]dailyCount
}

// NewGate creates a new risk gate.
func NewGate(cfg Config, logger ports.Logger) (*Gate, error) {
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required for risk gate", ports.ErrConfigurationError)
	}
	var errs []string
	if cfg.Leverage <= 0 {
		errs = append(errs, "leverage must be positive")
	}
	if cfg.CapitalAtRiskUSD <= 0 {
		errs = append(errs, "capital at risk must be positive")
	}
	if cfg.StopLossATR <= 0 || cfg.TakeProfitATR <= 0 {
		errs = append(errs, "stop loss and take profit ATR multipliers must be positive")
	}
	if cfg.MaxOrderUSD > 0 && cfg.MinOrderUSD > cfg.MaxOrderUSD {
		errs = append(errs, "min order size exceeds max order size")
	}
	if cfg.Cooldown < 0 || cfg.VolumeMultiplier < 0 || cfg.MaxTradesPerDay < 0 {
		errs = append(errs, "cooldown, volume multiplier and daily limit cannot be negative")
	}
	if cfg.MaxExposureUSD < 0 || cfg.MaxDailyLossUSD < 0 {
		errs = append(errs, "exposure cap and daily loss limit cannot be negative")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrConfigurationError, strings.Join(errs, "; "))
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = DefaultATRPeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	bl := make(map[string]bool, len(cfg.Blacklist))
	for _, s := range cfg.Blacklist {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			bl[s] = true
		}
	}
	return &Gate{
		config:      cfg,
		logger:      logger,
		blacklist:   bl,
		lastAttempt: make(map[string]time.Time),
		daily:       make(map[string]dailyCount),
	}, nil
}

// Evaluate runs the checks in order and stops at the first failure.
func (g *Gate) Evaluate(ctx context.Context, sig domain.Signal, exp Exposure) Decision {
	op := "EvaluateSignal"
	d := g.evaluate(sig, exp)
	fields := map[string]interface{}{"symbol": sig.Symbol, "direction": sig.Direction, "strength": sig.Strength}
	if !d.Approved {
		fields["reason"] = d.Reason
		fields["detail"] = d.Detail
		g.logger.Info(ctx, op+": Signal skipped", fields)
		return d
	}
	fields["amount"] = d.Sizing.Amount
	fields["notional"] = d.Sizing.Notional
	fields["stopLoss"] = d.Sizing.StopLoss
	fields["takeProfit"] = d.Sizing.TakeProfit
	g.logger.Debug(ctx, op+": Signal approved", fields)
	return d
}

func (g *Gate) evaluate(sig domain.Signal, exp Exposure) Decision {
	symbol := strings.ToUpper(sig.Symbol)
	switch {
	case symbol == "":
		return reject(ReasonInvalidSignal, "empty symbol")
	case !sig.Direction.Valid():
		return reject(ReasonInvalidSignal, fmt.Sprintf("unknown direction %q", sig.Direction))
	case !(sig.Price > 0) || math.IsInf(sig.Price, 0):
		return reject(ReasonInvalidSignal, fmt.Sprintf("reference price %v must be positive", sig.Price))
	}

	if g.blacklist[symbol] {
		return reject(ReasonBlacklisted, symbol+" is blacklisted")
	}

	for _, p := range exp.Open {
		if p != nil && p.IsOpen() && strings.EqualFold(p.Symbol, symbol) {
			return reject(ReasonPositionExists, fmt.Sprintf("position %d already open for %s", p.ID, symbol))
		}
	}
	if exp.Pending[symbol] {
		return reject(ReasonOutcomePending, "previous order outcome for "+symbol+" is not yet reconciled")
	}

	now := g.config.Now().UTC()
	g.mu.Lock()
	last, seen := g.lastAttempt[symbol]
	dc := g.daily[symbol]
	g.mu.Unlock()

	if seen && g.config.Cooldown > 0 {
		if elapsed := now.Sub(last); elapsed < g.config.Cooldown {
			return reject(ReasonCooldown, fmt.Sprintf("%.0fs remaining", (g.config.Cooldown - elapsed).Seconds()))
		}
	}

	if sig.Strength < g.config.MinStrength {
		return reject(ReasonWeakSignal, fmt.Sprintf("strength %.3f below %.3f", sig.Strength, g.config.MinStrength))
	}

	if g.config.VolumeMultiplier > 0 {
		need := g.config.VolumeMultiplier * sig.VolumeBaseline
		if !(sig.VolumeBaseline > 0) || !(sig.Volume > need) {
			return reject(ReasonVolumeUnconfirmed, fmt.Sprintf("volume %.4f does not exceed %.4f", sig.Volume, need))
		}
	}

	if g.config.MaxTradesPerDay > 0 && dc.day == dayKey(now) && dc.count >= g.config.MaxTradesPerDay {
		return reject(ReasonDailyLimit, fmt.Sprintf("%d/%d trades today", dc.count, g.config.MaxTradesPerDay))
	}

	if g.config.MaxDailyLossUSD > 0 && -exp.DailyRealizedPNL >= g.config.MaxDailyLossUSD {
		return reject(ReasonDailyLoss, fmt.Sprintf("realized loss $%.2f today reaches $%.2f", -exp.DailyRealizedPNL, g.config.MaxDailyLossUSD))
	}

	sizing, err := g.size(sig)
	if err != nil {
		return reject(ReasonNoVolatility, err.Error())
	}
	if sizing.Notional < g.config.MinOrderUSD {
		return reject(ReasonOrderSize, fmt.Sprintf("notional $%.2f below $%.2f", sizing.Notional, g.config.MinOrderUSD))
	}
	if g.config.MaxExposureUSD > 0 {
		open := exp.OpenNotional()
		if total := open + sizing.Notional; total > g.config.MaxExposureUSD {
			return reject(ReasonExposureLimit, fmt.Sprintf("exposure $%.2f + $%.2f exceeds $%.2f", open, sizing.Notional, g.config.MaxExposureUSD))
		}
	}
	return Decision{Approved: true, Sizing: sizing}
}

func (g *Gate) size(sig domain.Signal) (Sizing, error) {
	atr := sig.ATR
	if !(atr > 0) {
		var err error
		atr, err = ATR(sig.Candles, g.config.ATRPeriod)
		if err != nil {
			return Sizing{}, err
		}
		if !(atr > 0) {
			return Sizing{}, fmt.Errorf("ATR is zero")
		}
	}

	price := sig.Price
	if sig.LimitPrice > 0 {
		price = sig.LimitPrice
	}
	notional := g.config.CapitalAtRiskUSD * float64(g.config.Leverage)
	if g.config.MaxOrderUSD > 0 {
		notional = math.Min(notional, g.config.MaxOrderUSD)
	}
	amount := notional / price
	if sig.SuggestedSize > 0 && sig.SuggestedSize < amount {
		amount = sig.SuggestedSize
		notional = amount * price
	}

	slDist := atr * g.config.StopLossATR
	tpDist := atr * g.config.TakeProfitATR
	s := Sizing{
		Amount:     amount,
		Notional:   notional,
		Leverage:   g.config.Leverage,
		EntryPrice: price,
		ATR:        atr,
	}
	if sig.Direction == domain.Long {
		s.StopLoss = price - slDist
		s.TakeProfit = price + tpDist
	} else {
		s.StopLoss = price + slDist
		s.TakeProfit = price - tpDist
	}
	if s.StopLoss <= 0 || s.TakeProfit <= 0 {
		return Sizing{}, fmt.Errorf("ATR %.6f too large for price %.6f", atr, price)
	}
	return s, nil
}

// RecordAttempt stamps the cooldown clock and the daily counter for symbol.
// It is called once per execution that reached the exchange.
func (g *Gate) RecordAttempt(symbol string, at time.Time) {
	symbol = strings.ToUpper(symbol)
	at = at.UTC()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastAttempt[symbol] = at
	dc := g.daily[symbol]
	if day := dayKey(at); dc.day != day {
		dc = dailyCount{day: day}
	}
	dc.count++
	g.daily[symbol] = dc
}

// TradesToday returns the number of attempts recorded for symbol on the current UTC day.
func (g *Gate) TradesToday(symbol string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	dc := g.daily[strings.ToUpper(symbol)]
	if dc.day != dayKey(g.config.Now().UTC()) {
		return 0
	}
	return dc.count
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func reject(reason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}
