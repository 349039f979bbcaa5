package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"signalExecBot/internal/domain"
	"signalExecBot/internal/metrics"
	"signalExecBot/internal/ports"
)

// Reconciliation actions reported per symbol.
const (
	ActionClosed        = "closed"
	ActionResized       = "resized"
	ActionSideFlip      = "side_flip"
	ActionAdopted       = "adopted"
	ActionPendingFilled = "pending_filled"
	ActionPendingDrop   = "pending_not_filled"
)

// DefaultTolerance is the relative divergence tolerated before a local position is corrected.
const DefaultTolerance = 0.001

// ReconcilerConfig holds the reconciliation parameters.
type ReconcilerConfig struct {
	Interval        time.Duration
	AmountTolerance float64 // relative, e.g. 0.001 = 0.1%
	PriceTolerance  float64 // relative
	AdoptOrphans    bool    // track exchange positions that have no local row
	// PendingGrace keeps an unfilled pending outcome alive for this long before dropping it.
	PendingGrace    time.Duration
	DefaultLeverage int
	Now             func() time.Time
}

// Diff describes one correction applied to a symbol.
type Diff struct {
	Symbol         string
	Action         string
	LocalAmount    float64
	ExchangeAmount float64
	LocalEntry     float64
	ExchangeEntry  float64
	Detail         string
}

// Report summarises one reconciliation pass.
type Report struct {
	Timestamp time.Time
	Checked   int
	Diffs     []Diff
	Pending   []PendingOutcome // still unresolved after the pass
}

// Reconciler is the only writer that closes or resizes positions after creation.
type Reconciler struct {
	config    ReconcilerConfig
	logger    ports.Logger
	gateway   ports.ExchangeGateway
	signer    ports.RequestSigner
	positions ports.PositionRepository
	trades    ports.TradeRepository
	locks     *SymbolLocks
	pending   *PendingRegistry
}

// NewReconciler creates a new reconciler. locks and pending must be shared with the coordinator.
// signer is used to cancel resting orders whose pending outcome expires.
func NewReconciler(cfg ReconcilerConfig, logger ports.Logger, gateway ports.ExchangeGateway, signer ports.RequestSigner,
	positions ports.PositionRepository, trades ports.TradeRepository,
	locks *SymbolLocks, pending *PendingRegistry) (*Reconciler, error) {
	if logger == nil || gateway == nil || signer == nil || positions == nil || trades == nil || locks == nil || pending == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for Reconciler", ports.ErrConfigurationError)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.AmountTolerance < 0 || cfg.PriceTolerance < 0 {
		return nil, fmt.Errorf("%w: reconcile tolerances cannot be negative", ports.ErrConfigurationError)
	}
	if cfg.AmountTolerance == 0 {
		cfg.AmountTolerance = DefaultTolerance
	}
	if cfg.PriceTolerance == 0 {
		cfg.PriceTolerance = DefaultTolerance
	}
	if cfg.PendingGrace < 0 {
		cfg.PendingGrace = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		config:    cfg,
		logger:    logger,
		gateway:   gateway,
		signer:    signer,
		positions: positions,
		trades:    trades,
		locks:     locks,
		pending:   pending,
	}, nil
}

// Run reconciles immediately and then on every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info(ctx, "Reconciler started", map[string]interface{}{"interval": r.config.Interval.String()})
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.ReconcileOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error(ctx, err, "Reconciler: Pass failed, will retry next interval")
		}
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "Reconciler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ReconcileOnce compares every tracked symbol with the exchange snapshot and corrects local state.
// Nothing is changed when the snapshot cannot be fetched.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (*Report, error) {
	op := "ReconcileOnce"
	fetchedAt := r.config.Now()
	snapshot, err := r.gateway.FetchPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s failed: fetching exchange positions: %w", op, err)
	}
	exchange := make(map[string]*ports.ExchangePosition, len(snapshot))
	for i := range snapshot {
		exchange[strings.ToUpper(snapshot[i].Symbol)] = &snapshot[i]
	}

	local, err := r.positions.FindOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s failed: loading open positions: %w", op, err)
	}

	symbols := make(map[string]bool)
	for _, p := range local {
		symbols[strings.ToUpper(p.Symbol)] = true
	}
	for s := range r.pending.Symbols() {
		symbols[s] = true
	}
	if r.config.AdoptOrphans {
		for s := range exchange {
			symbols[s] = true
		}
	}
	ordered := make([]string, 0, len(symbols))
	for s := range symbols {
		ordered = append(ordered, s)
	}
	sort.Strings(ordered)

	report := &Report{Timestamp: fetchedAt.UTC()}
	for _, symbol := range ordered {
		diffs, err := r.reconcileSymbol(ctx, symbol, exchange[symbol], fetchedAt)
		if err != nil {
			if ctx.Err() != nil {
				return report, err
			}
			r.logger.Error(ctx, err, op+": Symbol reconciliation failed", map[string]interface{}{"symbol": symbol})
			continue
		}
		report.Checked++
		for _, d := range diffs {
			metrics.ReconcileActionsTotal.WithLabelValues(d.Action).Inc()
			r.logger.Info(ctx, op+": Local state corrected", map[string]interface{}{
				"symbol":         d.Symbol,
				"action":         d.Action,
				"localAmount":    d.LocalAmount,
				"exchangeAmount": d.ExchangeAmount,
				"localEntry":     d.LocalEntry,
				"exchangeEntry":  d.ExchangeEntry,
				"detail":         d.Detail,
			})
		}
		report.Diffs = append(report.Diffs, diffs...)
	}
	report.Pending = r.pending.List()
	for _, p := range report.Pending {
		r.logger.Info(ctx, op+": Order outcome still pending", map[string]interface{}{
			"symbol":          p.Symbol,
			"order_id":        p.OrderID,
			"client_order_id": p.ClientOrderID,
			"age":             fetchedAt.Sub(p.SubmittedAt).String(),
			"reason":          p.Reason,
		})
	}
	r.logger.Debug(ctx, op+" completed", map[string]interface{}{
		"checked": report.Checked,
		"diffs":   len(report.Diffs),
		"pending": len(report.Pending),
	})
	return report, nil
}

func (r *Reconciler) reconcileSymbol(ctx context.Context, symbol string, ex *ports.ExchangePosition, fetchedAt time.Time) ([]Diff, error) {
	release, err := r.locks.Acquire(ctx, symbol)
	if err != nil {
		return nil, err
	}
	defer release()

	local, err := r.positions.FindOpenBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	pend, hasPending := r.pending.Get(symbol)

	// Rows written after the snapshot was taken are checked on the next pass.
	if local != nil && local.EntryTime.After(fetchedAt) {
		return nil, nil
	}
	if local != nil {
		if hasPending {
			r.pending.Remove(symbol)
		}
		return r.reconcileLocal(ctx, local, ex)
	}

	if hasPending {
		if pend.SubmittedAt.After(fetchedAt) {
			return nil, nil
		}
		if ex != nil {
			return r.adoptPending(ctx, pend, ex)
		}
		if fetchedAt.Sub(pend.SubmittedAt) < r.config.PendingGrace {
			return nil, nil
		}
		return r.expirePending(ctx, pend)
	}

	if ex != nil && r.config.AdoptOrphans {
		pos := adoptedPosition(ex, r.config.Now().UTC())
		pos.Leverage = r.config.DefaultLeverage
		if _, err := r.positions.Create(ctx, pos); err != nil {
			return nil, err
		}
		return []Diff{{Symbol: symbol, Action: ActionAdopted, ExchangeAmount: ex.Amount, ExchangeEntry: ex.EntryPrice, Detail: "untracked exchange position"}}, nil
	}
	return nil, nil
}

// adoptPending turns a pending outcome that filled on the exchange into a tracked position.
func (r *Reconciler) adoptPending(ctx context.Context, pend PendingOutcome, ex *ports.ExchangePosition) ([]Diff, error) {
	pos := adoptedPosition(ex, r.config.Now().UTC())
	pos.StopLoss, pos.TakeProfit = pend.StopLoss, pend.TakeProfit
	pos.Leverage = pend.Leverage
	pos.OrderID, pos.ClientOrderID = pend.OrderID, pend.ClientOrderID
	pos.BracketAttached = pend.StopLoss > 0 || pend.TakeProfit > 0
	if _, err := r.positions.Create(ctx, pos); err != nil {
		return nil, err
	}
	r.pending.Remove(pend.Symbol)
	return []Diff{{Symbol: pend.Symbol, Action: ActionPendingFilled, ExchangeAmount: ex.Amount, ExchangeEntry: ex.EntryPrice, Detail: pend.Reason}}, nil
}

// expirePending cancels the order behind an unfilled pending outcome and drops the entry once
// the exchange confirms nothing is left resting. The entry stays when the cancel fails.
func (r *Reconciler) expirePending(ctx context.Context, pend PendingOutcome) ([]Diff, error) {
	op := "ExpirePending"
	if pend.OrderID != "" || pend.ClientOrderID != "" {
		req, err := r.signer.SignCancel(ctx, ports.CancelRequest{
			Symbol:        pend.Symbol,
			OrderID:       pend.OrderID,
			ClientOrderID: pend.ClientOrderID,
		})
		if err != nil {
			return nil, fmt.Errorf("%s failed: signing cancel: %w", op, err)
		}
		err = r.gateway.CancelOrder(ctx, req)
		switch {
		case err == nil:
			r.logger.Info(ctx, op+": Resting order cancelled", map[string]interface{}{
				"symbol":          pend.Symbol,
				"order_id":        pend.OrderID,
				"client_order_id": pend.ClientOrderID,
			})
		case errors.Is(err, ports.ErrNotFound):
			r.logger.Debug(ctx, op+": No resting order to cancel", map[string]interface{}{"symbol": pend.Symbol})
		default:
			return nil, fmt.Errorf("%s failed: cancelling order %s: %w", op, orderRef(pend), err)
		}

		// The order may have filled between the snapshot and the cancel.
		ex, err := r.fetchPosition(ctx, pend.Symbol)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
		if ex != nil {
			return r.adoptPending(ctx, pend, ex)
		}
	}
	r.pending.Remove(pend.Symbol)
	return []Diff{{Symbol: pend.Symbol, Action: ActionPendingDrop, LocalAmount: pend.Amount, Detail: pend.Reason}}, nil
}

func orderRef(p PendingOutcome) string {
	if p.OrderID != "" {
		return p.OrderID
	}
	return p.ClientOrderID
}

func (r *Reconciler) fetchPosition(ctx context.Context, symbol string) (*ports.ExchangePosition, error) {
	snapshot, err := r.gateway.FetchPositions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range snapshot {
		if strings.EqualFold(snapshot[i].Symbol, symbol) && snapshot[i].Amount > 0 {
			return &snapshot[i], nil
		}
	}
	return nil, nil
}

// reconcileLocal brings one open local position in line with the exchange.
func (r *Reconciler) reconcileLocal(ctx context.Context, local *domain.Position, ex *ports.ExchangePosition) ([]Diff, error) {
	now := r.config.Now().UTC()
	if ex == nil || ex.Amount <= 0 {
		d, err := r.closeLocal(ctx, local, "", now)
		if err != nil {
			return nil, err
		}
		return []Diff{d}, nil
	}

	if ex.Side != "" && ex.Side != local.Side {
		d, err := r.closeLocal(ctx, local, domain.CloseReasonSideFlip, now)
		if err != nil {
			return nil, err
		}
		pos := adoptedPosition(ex, now)
		pos.Leverage = local.Leverage
		if _, err := r.positions.Create(ctx, pos); err != nil {
			return []Diff{d}, err
		}
		d.Action = ActionSideFlip
		d.ExchangeAmount = ex.Amount
		d.ExchangeEntry = ex.EntryPrice
		return []Diff{d}, nil
	}

	var diffs []Diff
	amountOff := diverges(local.Amount, ex.Amount, r.config.AmountTolerance)
	entryOff := ex.EntryPrice > 0 && diverges(local.EntryPrice, ex.EntryPrice, r.config.PriceTolerance)
	if amountOff || entryOff {
		diffs = append(diffs, Diff{
			Symbol:         local.Symbol,
			Action:         ActionResized,
			LocalAmount:    local.Amount,
			ExchangeAmount: ex.Amount,
			LocalEntry:     local.EntryPrice,
			ExchangeEntry:  ex.EntryPrice,
		})
		if amountOff {
			local.Amount = ex.Amount
		}
		if entryOff {
			local.EntryPrice = ex.EntryPrice
		}
	}
	local.LastSyncedAt = now
	if err := r.positions.Update(ctx, local); err != nil {
		return nil, err
	}
	return diffs, nil
}

// closeLocal marks local closed at the current mark price and writes the trade record.
// An empty reason is inferred from the bracket levels.
func (r *Reconciler) closeLocal(ctx context.Context, local *domain.Position, reason domain.CloseReason, now time.Time) (Diff, error) {
	op := "ClosePosition"
	exit, err := r.gateway.GetMarkPrice(ctx, local.Symbol)
	if err != nil || exit <= 0 {
		r.logger.Warn(ctx, op+": Mark price unavailable, closing at entry price", map[string]interface{}{"symbol": local.Symbol})
		exit = local.EntryPrice
	}
	if reason == "" {
		reason = inferCloseReason(local, exit)
	}

	local.Status = domain.StatusClosed
	local.ExitPrice = exit
	local.ExitTime = now
	local.PNL = local.RealizedPNL(exit)
	local.CloseReason = reason
	local.LastSyncedAt = now
	if err := r.positions.Update(ctx, local); err != nil {
		return Diff{}, fmt.Errorf("%s failed: %w", op, err)
	}

	trade := &domain.Trade{
		PositionID:  local.ID,
		Symbol:      local.Symbol,
		Side:        local.Side,
		EntryPrice:  local.EntryPrice,
		ExitPrice:   exit,
		Amount:      local.Amount,
		Leverage:    local.Leverage,
		PNL:         local.PNL,
		EntryTime:   local.EntryTime,
		ExitTime:    now,
		CloseReason: reason,
	}
	if _, err := r.trades.CreateTrade(ctx, trade); err != nil {
		r.logger.Error(ctx, err, op+": Failed to save trade record", map[string]interface{}{"positionID": local.ID})
	}
	return Diff{
		Symbol:      local.Symbol,
		Action:      ActionClosed,
		LocalAmount: local.Amount,
		LocalEntry:  local.EntryPrice,
		Detail:      fmt.Sprintf("%s pnl=%.4f", reason, local.PNL),
	}, nil
}

// inferCloseReason guesses which bracket leg closed the position from the exit price.
func inferCloseReason(p *domain.Position, exit float64) domain.CloseReason {
	if p.IsLong() {
		switch {
		case p.StopLoss > 0 && exit <= p.StopLoss:
			return domain.CloseReasonStopLoss
		case p.TakeProfit > 0 && exit >= p.TakeProfit:
			return domain.CloseReasonTakeProfit
		}
	} else {
		switch {
		case p.StopLoss > 0 && exit >= p.StopLoss:
			return domain.CloseReasonStopLoss
		case p.TakeProfit > 0 && exit <= p.TakeProfit:
			return domain.CloseReasonTakeProfit
		}
	}
	return domain.CloseReasonExchange
}

func adoptedPosition(ex *ports.ExchangePosition, now time.Time) *domain.Position {
	side := ex.Side
	if side == "" {
		side = domain.Long
	}
	return &domain.Position{
		Symbol:       strings.ToUpper(ex.Symbol),
		Side:         side,
		Amount:       ex.Amount,
		EntryPrice:   ex.EntryPrice,
		Status:       domain.StatusOpen,
		EntryTime:    now,
		LastSyncedAt: now,
	}
}

// diverges reports whether a and b differ by more than tol relative to the larger magnitude.
func diverges(a, b, tol float64) bool {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return false
	}
	return math.Abs(a-b) > tol*scale
}
