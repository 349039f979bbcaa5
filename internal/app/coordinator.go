// Package app holds the execution pipeline: the coordinator that turns approved signals into
// exchange orders, the dispatcher that feeds it, and the reconciler that keeps local positions
// in line with the exchange.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"signalExecBot/internal/domain"
	"signalExecBot/internal/metrics"
	"signalExecBot/internal/ports"
	"signalExecBot/internal/quant"
	"signalExecBot/internal/risk"
)

// RiskGate is the subset of risk.Gate the coordinator depends on.
type RiskGate interface {
	Evaluate(ctx context.Context, sig domain.Signal, exp risk.Exposure) risk.Decision
	RecordAttempt(symbol string, at time.Time)
}

// CoordinatorConfig holds the execution parameters.
type CoordinatorConfig struct {
	Retry           RetryPolicy
	SlippagePercent float64
	Now             func() time.Time
	// Sleep waits between retries; tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// CoordinatorDeps are the collaborators of an ExecutionCoordinator.
type CoordinatorDeps struct {
	Logger     ports.Logger
	Gate       RiskGate
	Rules      ports.RuleBook
	Signer     ports.RequestSigner
	Gateway    ports.ExchangeGateway
	Positions  ports.PositionRepository
	Trades     ports.TradeRepository // realized PNL for the daily loss limit
	Executions ports.ExecutionLog
	Locks      *SymbolLocks
	Pending    *PendingRegistry
}

// ExecutionCoordinator runs one signal through risk, quantization, signing and submission.
type ExecutionCoordinator struct {
	config CoordinatorConfig
	CoordinatorDeps
}

// NewExecutionCoordinator creates a new coordinator instance.
func NewExecutionCoordinator(cfg CoordinatorConfig, deps CoordinatorDeps) (*ExecutionCoordinator, error) {
	if deps.Logger == nil || deps.Gate == nil || deps.Rules == nil || deps.Signer == nil ||
		deps.Gateway == nil || deps.Positions == nil || deps.Trades == nil || deps.Executions == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for ExecutionCoordinator", ports.ErrConfigurationError)
	}
	if deps.Locks == nil {
		deps.Locks = NewSymbolLocks()
	}
	if deps.Pending == nil {
		deps.Pending = NewPendingRegistry()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	if cfg.SlippagePercent < 0 {
		return nil, fmt.Errorf("%w: slippage percent cannot be negative", ports.ErrConfigurationError)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &ExecutionCoordinator{config: cfg, CoordinatorDeps: deps}, nil
}

// submission is the state carried through one Execute call.
type submission struct {
	sig       domain.Signal
	direction domain.Direction
	sizing    risk.Sizing
	intent    domain.OrderIntent
	order     ports.OrderRequest
	attempts  int
}

// Execute processes one signal and returns its terminal outcome. A nil error is returned for
// successful, skipped and degraded executions; otherwise the error wraps the ports taxonomy.
// Exactly one outcome record is written per call.
func (c *ExecutionCoordinator) Execute(ctx context.Context, sig domain.Signal) (*domain.ExecutionResult, error) {
	op := "Execute"
	symbol := strings.ToUpper(sig.Symbol)
	sig.Symbol = symbol

	release, err := c.Locks.Acquire(ctx, symbol)
	if err != nil {
		return c.fail(ctx, &domain.ExecutionResult{Symbol: symbol}, err)
	}
	defer release()

	open, err := c.Positions.FindOpen(ctx)
	if err != nil {
		return c.fail(ctx, &domain.ExecutionResult{Symbol: symbol}, fmt.Errorf("%s failed: loading open positions: %w", op, err))
	}
	dayStart := c.config.Now().UTC().Truncate(24 * time.Hour)
	dailyPNL, err := c.Trades.RealizedPNLSince(ctx, dayStart)
	if err != nil {
		return c.fail(ctx, &domain.ExecutionResult{Symbol: symbol}, fmt.Errorf("%s failed: loading realized PNL: %w", op, err))
	}
	decision := c.Gate.Evaluate(ctx, sig, risk.Exposure{Open: open, Pending: c.Pending.Symbols(), DailyRealizedPNL: dailyPNL})
	if !decision.Approved {
		res := &domain.ExecutionResult{
			Symbol:      symbol,
			Outcome:     domain.OutcomeSkipped,
			SkipReason:  decision.Reason,
			ErrorDetail: decision.Detail,
		}
		return c.finish(ctx, res), nil
	}

	rule, ok := c.Rules.Rule(symbol)
	if !ok {
		return c.fail(ctx, &domain.ExecutionResult{Symbol: symbol},
			fmt.Errorf("%s failed: %w: no trading rule for %s", op, ports.ErrInvalidRule, symbol))
	}
	if err := rule.Validate(); err != nil {
		return c.fail(ctx, &domain.ExecutionResult{Symbol: symbol}, fmt.Errorf("%s failed: %w: %w", op, ports.ErrInvalidRule, err))
	}

	sub := &submission{sig: sig, direction: sig.Direction, sizing: decision.Sizing}
	sub.intent = c.buildIntent(sig, &sub.sizing, rule)
	sub.order, err = c.quantize(sub.intent, sub.direction, sub.sizing.EntryPrice, rule)
	if err != nil {
		return c.fail(ctx, &domain.ExecutionResult{Symbol: symbol, ClientOrderID: sub.intent.ClientOrderID}, fmt.Errorf("%s failed: %w", op, err))
	}

	c.Gate.RecordAttempt(symbol, c.config.Now())
	c.Logger.Info(ctx, op+": Submitting order", map[string]interface{}{
		"symbol":          symbol,
		"side":            sub.order.Side,
		"amount":          sub.order.Amount,
		"price":           sub.order.Price,
		"leverage":        sub.sizing.Leverage,
		"client_order_id": sub.order.ClientOrderID,
		"bracket":         sub.order.StopLoss != nil || sub.order.TakeProfit != nil,
	})

	res, err := c.submit(ctx, sub, sub.order)
	if err != nil && errors.Is(err, ports.ErrAttachmentUnauthorized) && hasLegs(sub.order) {
		return c.retryWithoutBracket(ctx, sub, err)
	}
	if err != nil {
		return c.handleFailure(ctx, sub, res, err)
	}

	bracketAttached := hasLegs(sub.order)
	var attachErr error
	if res.AttachmentError != "" && bracketAttached {
		// Order placed but the exchange reports the bracket did not attach.
		attachErr = c.attachBracket(ctx, sub)
		bracketAttached = attachErr == nil
		if attachErr != nil {
			attachErr = fmt.Errorf("%w: %s; %w", ports.ErrAttachmentDegraded, res.AttachmentError, attachErr)
		}
	}
	return c.accept(ctx, sub, res, bracketAttached, attachErr)
}

// buildIntent turns the gate's sizing into an order intent, capping leverage at the rule's maximum.
func (c *ExecutionCoordinator) buildIntent(sig domain.Signal, sizing *risk.Sizing, rule domain.SymbolTradingRule) domain.OrderIntent {
	if rule.MaxLeverage > 0 && sizing.Leverage > rule.MaxLeverage {
		sizing.Amount = sizing.Amount * float64(rule.MaxLeverage) / float64(sizing.Leverage)
		sizing.Notional = sizing.Amount * sizing.EntryPrice
		sizing.Leverage = rule.MaxLeverage
	}
	return domain.OrderIntent{
		Symbol:          sig.Symbol,
		Side:            domain.SideFor(sig.Direction),
		RawAmount:       sizing.Amount,
		RawPrice:        sig.LimitPrice,
		StopLoss:        sizing.StopLoss,
		TakeProfit:      sizing.TakeProfit,
		ClientOrderID:   uuid.NewString(),
		SlippagePercent: c.config.SlippagePercent,
	}
}

// quantize converts an intent into an exchange-legal order request.
func (c *ExecutionCoordinator) quantize(intent domain.OrderIntent, direction domain.Direction, entry float64, rule domain.SymbolTradingRule) (ports.OrderRequest, error) {
	amount, err := quant.QuantizeAmount(intent.RawAmount, rule.LotSize)
	if err != nil {
		return ports.OrderRequest{}, err
	}
	if amount <= 0 {
		return ports.OrderRequest{}, fmt.Errorf("%w: amount %v is below lot size %v", ports.ErrValidation, intent.RawAmount, rule.LotSize)
	}
	order := ports.OrderRequest{
		Symbol:          intent.Symbol,
		Side:            intent.Side,
		Amount:          amount,
		ReduceOnly:      intent.ReduceOnly,
		SlippagePercent: intent.SlippagePercent,
		ClientOrderID:   intent.ClientOrderID,
	}
	if intent.IsLimit() {
		if order.Price, err = quant.QuantizePrice(intent.RawPrice, rule.TickSize); err != nil {
			return ports.OrderRequest{}, err
		}
		entry = order.Price
	}
	if !intent.HasBracket() {
		return order, nil
	}
	sl, tp, err := quant.Bracket(direction, entry, intent.StopLoss, intent.TakeProfit, rule.TickSize)
	if err != nil {
		return ports.OrderRequest{}, err
	}
	if order.StopLoss, err = bracketLeg(direction, sl, rule.TickSize); err != nil {
		return ports.OrderRequest{}, err
	}
	if order.TakeProfit, err = bracketLeg(direction, tp, rule.TickSize); err != nil {
		return ports.OrderRequest{}, err
	}
	return order, nil
}

func bracketLeg(direction domain.Direction, stop, tick float64) (*ports.BracketLeg, error) {
	if stop <= 0 {
		return nil, nil
	}
	limit, err := quant.BracketLimit(direction, stop, tick)
	if err != nil {
		return nil, err
	}
	return &ports.BracketLeg{StopPrice: stop, LimitPrice: limit}, nil
}

func hasLegs(o ports.OrderRequest) bool {
	return o.StopLoss != nil || o.TakeProfit != nil
}

// submit signs and sends order, retrying transient failures. A fresh signature is made for
// every attempt; the client order id stays the same so the exchange can de-duplicate.
func (c *ExecutionCoordinator) submit(ctx context.Context, sub *submission, order ports.OrderRequest) (*domain.ExecutionResult, error) {
	op := "SubmitWithRetry"
	state := newRetryState(c.config.Retry)
	for {
		req, err := c.Signer.SignOrder(ctx, order)
		if err != nil {
			return nil, fmt.Errorf("%s failed: signing: %w", op, err)
		}
		res, err := c.Gateway.SubmitOrder(ctx, req)
		state.Record()
		sub.attempts++
		if err == nil {
			return res, nil
		}
		delay, retry := state.Next(err)
		if !retry {
			return res, err
		}
		c.Logger.Warn(ctx, op+": Transient exchange error, retrying", map[string]interface{}{
			"symbol":          order.Symbol,
			"attempt":         state.Attempts(),
			"delay":           delay.String(),
			"client_order_id": order.ClientOrderID,
			"error":           err.Error(),
		})
		if serr := c.config.Sleep(ctx, delay); serr != nil {
			return res, fmt.Errorf("%s failed: %w: %w (last error: %w)", op, ports.ErrContextCanceled, serr, err)
		}
	}
}

// retryWithoutBracket handles an order refused only because its signer may not attach brackets:
// the base order is placed on its own and the bracket is attached to the position afterwards.
func (c *ExecutionCoordinator) retryWithoutBracket(ctx context.Context, sub *submission, cause error) (*domain.ExecutionResult, error) {
	op := "RetryWithoutBracket"
	c.Logger.Warn(ctx, op+": Bracket attachment not authorized, placing base order alone", map[string]interface{}{
		"symbol":          sub.sig.Symbol,
		"client_order_id": sub.order.ClientOrderID,
		"error":           ports.ExchangeMessage(cause),
	})
	base := sub.order
	base.StopLoss, base.TakeProfit = nil, nil

	res, err := c.submit(ctx, sub, base)
	if err != nil {
		return c.handleFailure(ctx, sub, res, err)
	}
	attachErr := c.attachBracket(ctx, sub)
	if attachErr != nil {
		attachErr = fmt.Errorf("%w: %s; %w", ports.ErrAttachmentDegraded, ports.ExchangeMessage(cause), attachErr)
	}
	return c.accept(ctx, sub, res, attachErr == nil, attachErr)
}

// attachBracket makes a single attempt to set SL/TP on the freshly opened position.
func (c *ExecutionCoordinator) attachBracket(ctx context.Context, sub *submission) error {
	req, err := c.Signer.SignBracket(ctx, ports.BracketRequest{
		Symbol:     sub.order.Symbol,
		Side:       sub.order.Side,
		StopLoss:   sub.order.StopLoss,
		TakeProfit: sub.order.TakeProfit,
	})
	if err != nil {
		return err
	}
	return c.Gateway.SetPositionTPSL(ctx, req)
}

// accept records an order the exchange took and creates the local position when filled.
func (c *ExecutionCoordinator) accept(ctx context.Context, sub *submission, res *domain.ExecutionResult, bracketAttached bool, attachErr error) (*domain.ExecutionResult, error) {
	op := "AcceptOrder"
	if res == nil {
		res = &domain.ExecutionResult{Status: domain.ExecAccepted}
	}
	res.Symbol = sub.order.Symbol
	res.ClientOrderID = sub.order.ClientOrderID
	res.Attempts = sub.attempts
	res.Outcome = domain.OutcomeSuccess
	if attachErr != nil {
		res.Outcome = domain.OutcomeDegraded
		res.AttachmentError = attachErr.Error()
		c.Logger.Warn(ctx, op+": Position opened without exchange-side bracket", map[string]interface{}{
			"symbol":          res.Symbol,
			"client_order_id": res.ClientOrderID,
			"error":           res.AttachmentError,
		})
	}

	filled := res.FilledAmount
	if filled <= 0 && sub.order.Price == 0 {
		// Market orders that report no fill are assumed filled in full; the reconciler corrects drift.
		filled = sub.order.Amount
	}
	entry := res.AvgPrice
	if entry <= 0 {
		entry = sub.sizing.EntryPrice
		if sub.order.Price > 0 {
			entry = sub.order.Price
		}
	}
	var sl, tp float64
	if sub.order.StopLoss != nil {
		sl = sub.order.StopLoss.StopPrice
	}
	if sub.order.TakeProfit != nil {
		tp = sub.order.TakeProfit.StopPrice
	}

	if filled <= 0 {
		// Resting limit order: the reconciler adopts the position once it fills.
		c.Pending.Add(PendingOutcome{
			Symbol:        res.Symbol,
			Direction:     sub.direction,
			ClientOrderID: res.ClientOrderID,
			OrderID:       res.OrderID,
			Amount:        sub.order.Amount,
			StopLoss:      sl,
			TakeProfit:    tp,
			Leverage:      sub.sizing.Leverage,
			SubmittedAt:   c.config.Now(),
			Reason:        "limit order resting",
		})
		c.Logger.Info(ctx, op+": Limit order accepted without fill, awaiting reconciliation", map[string]interface{}{"symbol": res.Symbol, "orderID": res.OrderID})
		return c.finish(ctx, res), nil
	}
	res.FilledAmount = filled
	res.AvgPrice = entry

	now := c.config.Now().UTC()
	pos := &domain.Position{
		Symbol:          res.Symbol,
		Side:            sub.direction,
		Amount:          filled,
		EntryPrice:      entry,
		StopLoss:        sl,
		TakeProfit:      tp,
		Leverage:        sub.sizing.Leverage,
		Status:          domain.StatusOpen,
		EntryTime:       now,
		OrderID:         res.OrderID,
		ClientOrderID:   res.ClientOrderID,
		BracketAttached: bracketAttached,
		LastSyncedAt:    now,
	}
	// The order is live on the exchange, so the row is written even if the caller gave up.
	id, err := c.Positions.Create(context.WithoutCancel(ctx), pos)
	switch {
	case err == nil:
		res.PositionID = id
		c.Logger.Info(ctx, op+": Position opened", map[string]interface{}{
			"symbol":     res.Symbol,
			"positionID": id,
			"amount":     filled,
			"entryPrice": entry,
			"stopLoss":   sl,
			"takeProfit": tp,
		})
	case errors.Is(err, ports.ErrDuplicateEntry):
		c.Logger.Error(ctx, err, op+": Open position already recorded for symbol", map[string]interface{}{"symbol": res.Symbol})
	default:
		// The exchange holds the position; let the reconciler adopt it.
		c.Logger.Error(ctx, err, op+": Failed to save position, deferring to reconciler", map[string]interface{}{"symbol": res.Symbol})
		c.Pending.Add(PendingOutcome{
			Symbol:        res.Symbol,
			Direction:     sub.direction,
			ClientOrderID: res.ClientOrderID,
			OrderID:       res.OrderID,
			Amount:        filled,
			StopLoss:      sl,
			TakeProfit:    tp,
			Leverage:      sub.sizing.Leverage,
			SubmittedAt:   c.config.Now(),
			Reason:        "position not persisted",
		})
	}
	return c.finish(ctx, res), nil
}

// handleFailure classifies a terminal submission error into an outcome.
func (c *ExecutionCoordinator) handleFailure(ctx context.Context, sub *submission, res *domain.ExecutionResult, err error) (*domain.ExecutionResult, error) {
	op := "HandleFailure"
	if res == nil {
		res = &domain.ExecutionResult{Status: domain.ExecError}
	}
	res.Symbol = sub.order.Symbol
	res.ClientOrderID = sub.order.ClientOrderID
	res.Attempts = sub.attempts
	if res.ErrorDetail == "" {
		res.ErrorDetail = ports.ExchangeMessage(err)
	}

	switch {
	case errors.Is(err, ports.ErrUnknownOutcome):
		res.Outcome = domain.OutcomeUnknown
		c.Pending.Add(PendingOutcome{
			Symbol:        res.Symbol,
			Direction:     sub.direction,
			ClientOrderID: res.ClientOrderID,
			Amount:        sub.order.Amount,
			StopLoss:      legStop(sub.order.StopLoss),
			TakeProfit:    legStop(sub.order.TakeProfit),
			Leverage:      sub.sizing.Leverage,
			SubmittedAt:   c.config.Now(),
			Reason:        "unknown outcome",
		})
		c.Logger.Warn(ctx, op+": Order outcome unknown, deferring to reconciler", map[string]interface{}{
			"symbol":          res.Symbol,
			"client_order_id": res.ClientOrderID,
			"error":           err.Error(),
		})
	case errors.Is(err, ports.ErrRejectedByExchange), errors.Is(err, ports.ErrNotSupported):
		res.Outcome = domain.OutcomeRejected
		res.Status = domain.ExecRejected
		c.Logger.Error(ctx, err, op+": Order rejected by exchange", map[string]interface{}{
			"symbol":  res.Symbol,
			"message": res.ErrorDetail,
		})
		if errors.Is(err, ports.ErrRejectedByExchange) {
			c.revalidate(ctx, res.Symbol)
		}
	default:
		res.Outcome = domain.OutcomeFailed
		c.Logger.Error(ctx, err, op+": Order failed", map[string]interface{}{
			"symbol":   res.Symbol,
			"attempts": res.Attempts,
		})
	}
	return c.finish(ctx, res), err
}

// revalidate refreshes trading rules and checks the signing setup after an exchange rejection,
// which usually means stale precision data or a bad key.
func (c *ExecutionCoordinator) revalidate(ctx context.Context, symbol string) {
	op := "Revalidate"
	if err := c.Rules.Revalidate(ctx, symbol); err != nil {
		c.Logger.Error(ctx, err, op+": Trading rule reload failed", map[string]interface{}{"symbol": symbol})
	}
	if err := c.Signer.Validate(); err != nil {
		c.Logger.Error(ctx, err, op+": Signing configuration invalid")
	}
}

func legStop(l *ports.BracketLeg) float64 {
	if l == nil {
		return 0
	}
	return l.StopPrice
}

// fail records a failure that happened before anything was sent.
// Abandon records a skipped outcome for a signal that is dropped before evaluation.
func (c *ExecutionCoordinator) Abandon(ctx context.Context, sig domain.Signal, reason string) *domain.ExecutionResult {
	return c.finish(ctx, &domain.ExecutionResult{
		Symbol:      strings.ToUpper(sig.Symbol),
		Outcome:     domain.OutcomeSkipped,
		SkipReason:  reason,
		ErrorDetail: "signal not executed",
	})
}

func (c *ExecutionCoordinator) fail(ctx context.Context, res *domain.ExecutionResult, err error) (*domain.ExecutionResult, error) {
	res.Outcome = domain.OutcomeFailed
	res.Status = domain.ExecError
	res.ErrorDetail = err.Error()
	c.Logger.Error(ctx, err, "Execute: Signal not executed", map[string]interface{}{"symbol": res.Symbol})
	return c.finish(ctx, res), err
}

// finish writes the outcome record and counts it.
func (c *ExecutionCoordinator) finish(ctx context.Context, res *domain.ExecutionResult) *domain.ExecutionResult {
	if res.CreatedAt.IsZero() {
		res.CreatedAt = c.config.Now().UTC()
	}
	id, err := c.Executions.RecordExecution(context.WithoutCancel(ctx), res)
	if err != nil {
		c.Logger.Error(ctx, err, "Execute: Failed to record execution outcome", map[string]interface{}{
			"symbol":  res.Symbol,
			"outcome": res.Outcome,
		})
	} else {
		res.ID = id
	}
	metrics.ExecutionsTotal.WithLabelValues(string(res.Outcome)).Inc()
	c.Logger.Debug(ctx, "Execute: Outcome recorded", map[string]interface{}{
		"symbol":          res.Symbol,
		"outcome":         res.Outcome,
		"client_order_id": res.ClientOrderID,
		"attempts":        res.Attempts,
	})
	return res
}
