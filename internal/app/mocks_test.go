package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"signalExecBot/internal/domain"
	"signalExecBot/internal/ports"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) warned(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.warnMsgs {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

type submitReply struct {
	res *domain.ExecutionResult
	err error
}

// mockGateway replays scripted SubmitOrder replies; the last reply repeats.
type mockGateway struct {
	mu        sync.Mutex
	replies   []submitReply
	submits   []*ports.SignedRequest
	delay     time.Duration
	tpslErr   error
	tpslCalls int

	positions []ports.ExchangePosition
	fetchErr  error
	marks     map[string]float64
	markErr   error

	cancels   []*ports.SignedRequest
	cancelErr error
	// filledOnCancel replaces positions once a cancel arrives, as if the order filled first.
	filledOnCancel []ports.ExchangePosition
}

func (m *mockGateway) SubmitOrder(ctx context.Context, req *ports.SignedRequest) (*domain.ExecutionResult, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits = append(m.submits, req)
	reply := submitReply{}
	if len(m.replies) > 0 {
		i := len(m.submits) - 1
		if i >= len(m.replies) {
			i = len(m.replies) - 1
		}
		reply = m.replies[i]
	}
	if reply.err != nil {
		res := &domain.ExecutionResult{Status: domain.ExecError}
		if reply.res != nil {
			cp := *reply.res
			res = &cp
		}
		return res, reply.err
	}
	res := &domain.ExecutionResult{Status: domain.ExecAccepted, OrderID: fmt.Sprintf("%d", len(m.submits))}
	if reply.res != nil {
		cp := *reply.res
		res = &cp
	}
	return res, nil
}

func (m *mockGateway) SetPositionTPSL(ctx context.Context, req *ports.SignedRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tpslCalls++
	return m.tpslErr
}

func (m *mockGateway) CancelOrder(ctx context.Context, req *ports.SignedRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels = append(m.cancels, req)
	if m.filledOnCancel != nil {
		m.positions = m.filledOnCancel
	}
	return m.cancelErr
}

func (m *mockGateway) FetchPositions(ctx context.Context) ([]ports.ExchangePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.positions, nil
}

func (m *mockGateway) cancelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels)
}

func (m *mockGateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	if m.markErr != nil {
		return 0, m.markErr
	}
	return m.marks[symbol], nil
}

func (m *mockGateway) submitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submits)
}

// mockSigner records the orders it was asked to sign.
type mockSigner struct {
	mu            sync.Mutex
	orders        []ports.OrderRequest
	brackets      []ports.BracketRequest
	cancels       []ports.CancelRequest
	signErr       error
	validateCalls int
}

func (m *mockSigner) SignOrder(ctx context.Context, order ports.OrderRequest) (*ports.SignedRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signErr != nil {
		return nil, m.signErr
	}
	m.orders = append(m.orders, order)
	op := "create_market_order"
	if order.Price > 0 {
		op = "create_order"
	}
	return &ports.SignedRequest{Operation: op, Signature: fmt.Sprintf("sig-%d", len(m.orders))}, nil
}

func (m *mockSigner) SignBracket(ctx context.Context, bracket ports.BracketRequest) (*ports.SignedRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brackets = append(m.brackets, bracket)
	return &ports.SignedRequest{Operation: "set_position_tpsl"}, nil
}

func (m *mockSigner) SignCancel(ctx context.Context, cancel ports.CancelRequest) (*ports.SignedRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signErr != nil {
		return nil, m.signErr
	}
	m.cancels = append(m.cancels, cancel)
	return &ports.SignedRequest{Operation: "cancel_order"}, nil
}

func (m *mockSigner) Validate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validateCalls++
	return nil
}

type mockRuleBook struct {
	mu              sync.Mutex
	rules           map[string]domain.SymbolTradingRule
	revalidateCalls int
}

func (m *mockRuleBook) Rule(symbol string) (domain.SymbolTradingRule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[symbol]
	return r, ok
}

func (m *mockRuleBook) Version() int64 { return 1 }

func (m *mockRuleBook) Revalidate(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revalidateCalls++
	return nil
}

// mockPositionRepo enforces one open row per symbol like the sqlite index does.
type mockPositionRepo struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[int64]*domain.Position
	createErr error
	updateErr error
}

func newMockPositionRepo(seed ...*domain.Position) *mockPositionRepo {
	m := &mockPositionRepo{rows: make(map[int64]*domain.Position)}
	for _, p := range seed {
		_, _ = m.Create(context.Background(), p)
	}
	return m
}

func (m *mockPositionRepo) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return 0, m.createErr
	}
	for _, r := range m.rows {
		if r.Symbol == pos.Symbol && r.Status == domain.StatusOpen && pos.Status == domain.StatusOpen {
			return 0, fmt.Errorf("create position: %w", ports.ErrDuplicateEntry)
		}
	}
	m.nextID++
	cp := *pos
	cp.ID = m.nextID
	m.rows[cp.ID] = &cp
	pos.ID = cp.ID
	return cp.ID, nil
}

func (m *mockPositionRepo) Update(ctx context.Context, pos *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.rows[pos.ID]; !ok {
		return ports.ErrNotFound
	}
	cp := *pos
	m.rows[pos.ID] = &cp
	return nil
}

func (m *mockPositionRepo) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Symbol == symbol && r.Status == domain.StatusOpen {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockPositionRepo) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	return m.filter(func(p *domain.Position) bool { return p.Status == domain.StatusOpen }), nil
}

func (m *mockPositionRepo) filter(keep func(*domain.Position) bool) []*domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Position, 0, len(m.rows))
	for _, r := range m.rows {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *mockPositionRepo) all() []*domain.Position {
	return m.filter(func(*domain.Position) bool { return true })
}

type mockTradeRepo struct {
	mu     sync.Mutex
	trades []*domain.Trade
	pnlErr error
}

func (m *mockTradeRepo) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *trade
	m.trades = append(m.trades, &cp)
	return int64(len(m.trades)), nil
}

func (m *mockTradeRepo) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTradeRepo) RealizedPNLSince(ctx context.Context, since time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pnlErr != nil {
		return 0, m.pnlErr
	}
	total := 0.0
	for _, t := range m.trades {
		if !t.ExitTime.Before(since) {
			total += t.PNL
		}
	}
	return total, nil
}

type mockExecLog struct {
	mu      sync.Mutex
	records []domain.ExecutionResult
}

func (m *mockExecLog) RecordExecution(ctx context.Context, res *domain.ExecutionResult) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *res)
	return int64(len(m.records)), nil
}

func (m *mockExecLog) FindExecutions(ctx context.Context, symbol string, limit int) ([]*domain.ExecutionResult, error) {
	return nil, nil
}

func (m *mockExecLog) outcomes() []domain.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Outcome, len(m.records))
	for i, r := range m.records {
		out[i] = r.Outcome
	}
	return out
}
