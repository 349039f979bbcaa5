// Package quant converts raw sizes and prices into exchange-legal increments.
// All functions are pure.
package quant

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"signalExecBot/internal/domain"
	"signalExecBot/internal/ports"
)

// bracketLimitSlippage offsets a bracket leg's limit price from its stop price.
const bracketLimitSlippage = 0.001

// QuantizeAmount rounds rawAmount toward zero to a multiple of lotSize.
func QuantizeAmount(rawAmount, lotSize float64) (float64, error) {
	if !(lotSize > 0) || math.IsInf(lotSize, 0) {
		return 0, fmt.Errorf("QuantizeAmount failed: %w: lot size %v", ports.ErrInvalidRule, lotSize)
	}
	if err := checkFinite("amount", rawAmount); err != nil {
		return 0, fmt.Errorf("QuantizeAmount failed: %w", err)
	}
	lot := decimal.NewFromFloat(lotSize)
	steps := decimal.NewFromFloat(rawAmount).Div(lot).Truncate(0)
	out, _ := steps.Mul(lot).Float64()
	return out, nil
}

// QuantizePrice rounds rawPrice half-up to the nearest multiple of tickSize and then to
// PriceDecimals(tickSize) places, which clears float noise without leaving the tick grid.
func QuantizePrice(rawPrice, tickSize float64) (float64, error) {
	if !(tickSize > 0) || math.IsInf(tickSize, 0) {
		return 0, fmt.Errorf("QuantizePrice failed: %w: tick size %v", ports.ErrInvalidRule, tickSize)
	}
	if err := checkFinite("price", rawPrice); err != nil {
		return 0, fmt.Errorf("QuantizePrice failed: %w", err)
	}
	tick := decimal.NewFromFloat(tickSize)
	steps := decimal.NewFromFloat(rawPrice).Div(tick).Round(0)
	out, _ := steps.Mul(tick).Round(PriceDecimals(tickSize)).Float64()
	return out, nil
}

// PriceDecimals is the number of decimal places needed to write any multiple of tickSize:
// the larger of -floor(log10(tickSize)) and the digits of tickSize itself, never negative.
// A tick of 0.25 needs two places, not one.
func PriceDecimals(tickSize float64) int32 {
	places := int32(-math.Floor(math.Log10(tickSize)))
	if digits := -decimal.NewFromFloat(tickSize).Exponent(); digits > places {
		places = digits
	}
	if places < 0 {
		return 0
	}
	return places
}

// FormatDecimal renders v in its shortest decimal form, e.g. 49.8 -> "49.8".
func FormatDecimal(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return decimal.NewFromFloat(v).String()
}

// Bracket quantizes stop-loss and take-profit levels for a position opened in direction
// at entry. A level that lands on or across the entry after rounding is moved one tick to
// the protective side. Zero levels stay zero.
func Bracket(direction domain.Direction, entry, stopLoss, takeProfit, tickSize float64) (float64, float64, error) {
	var err error
	if entry, err = QuantizePrice(entry, tickSize); err != nil {
		return 0, 0, err
	}
	long := direction != domain.Short
	tick := decimal.NewFromFloat(tickSize)
	e := decimal.NewFromFloat(entry)

	var sl, tp float64
	if stopLoss > 0 {
		if sl, err = QuantizePrice(stopLoss, tickSize); err != nil {
			return 0, 0, err
		}
		d := decimal.NewFromFloat(sl)
		if long && d.GreaterThanOrEqual(e) {
			d = e.Sub(tick)
		} else if !long && d.LessThanOrEqual(e) {
			d = e.Add(tick)
		}
		sl, _ = d.Round(PriceDecimals(tickSize)).Float64()
	}
	if takeProfit > 0 {
		if tp, err = QuantizePrice(takeProfit, tickSize); err != nil {
			return 0, 0, err
		}
		d := decimal.NewFromFloat(tp)
		if long && d.LessThanOrEqual(e) {
			d = e.Add(tick)
		} else if !long && d.GreaterThanOrEqual(e) {
			d = e.Sub(tick)
		}
		tp, _ = d.Round(PriceDecimals(tickSize)).Float64()
	}
	if sl < 0 || tp < 0 {
		return 0, 0, fmt.Errorf("Bracket failed: %w: level below zero (sl=%v tp=%v)", ports.ErrValidation, sl, tp)
	}
	return sl, tp, nil
}

// BracketLimit returns the limit price for a bracket leg triggered at stopPrice. Both legs
// close the position, so for a long the limit sits below the stop and for a short above it.
func BracketLimit(direction domain.Direction, stopPrice, tickSize float64) (float64, error) {
	factor := 1 - bracketLimitSlippage
	if direction == domain.Short {
		factor = 1 + bracketLimitSlippage
	}
	return QuantizePrice(stopPrice*factor, tickSize)
}

func checkFinite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s is not finite", ports.ErrValidation, name)
	}
	if v < 0 {
		return fmt.Errorf("%w: %s %v is negative", ports.ErrValidation, name, v)
	}
	return nil
}
