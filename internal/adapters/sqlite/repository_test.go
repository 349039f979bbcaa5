package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalExecBot/internal/domain"
	"signalExecBot/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "nested", "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newPosition(symbol string) *domain.Position {
	return &domain.Position{
		Symbol:          symbol,
		Side:            domain.Long,
		Amount:          0.01,
		EntryPrice:      50000,
		StopLoss:        49850,
		TakeProfit:      50250,
		Leverage:        5,
		Status:          domain.StatusOpen,
		EntryTime:       testNow,
		OrderID:         "9001",
		ClientOrderID:   "6f1c2a8e-4f7e-4b38-9f7d-1a2b3c4d5e6f",
		BracketAttached: true,
		LastSyncedAt:    testNow,
	}
}

func TestRepository_CreateAndFindPosition(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	pos := newPosition("BTC")
	id, err := repo.Create(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, id, pos.ID)

	got, err := repo.FindOpenBySymbol(ctx, "BTC")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.Long, got.Side)
	assert.Equal(t, 0.01, got.Amount)
	assert.Equal(t, 49850.0, got.StopLoss)
	assert.Equal(t, "9001", got.OrderID)
	assert.Equal(t, pos.ClientOrderID, got.ClientOrderID)
	assert.True(t, got.BracketAttached)
	assert.True(t, got.EntryTime.Equal(testNow))
	assert.True(t, got.LastSyncedAt.Equal(testNow))
	assert.True(t, got.ExitTime.IsZero())

	byID, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, got, byID)

	missing, err := repo.FindOpenBySymbol(ctx, "ETH")
	require.NoError(t, err)
	assert.Nil(t, missing)

	missing, err = repo.FindByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_OneOpenPositionPerSymbol(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	first := newPosition("BTC")
	_, err := repo.Create(ctx, first)
	require.NoError(t, err)

	_, err = repo.Create(ctx, newPosition("BTC"))
	assert.ErrorIs(t, err, ports.ErrDuplicateEntry)

	// other symbols are unaffected
	_, err = repo.Create(ctx, newPosition("ETH"))
	require.NoError(t, err)

	// once closed, a new position may be opened
	first.Status = domain.StatusClosed
	first.ExitPrice = 50100
	first.ExitTime = testNow.Add(time.Hour)
	first.PNL = 1
	first.CloseReason = domain.CloseReasonExchange
	require.NoError(t, repo.Update(ctx, first))

	_, err = repo.Create(ctx, newPosition("BTC"))
	require.NoError(t, err)

	open, err := repo.FindOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "BTC", open[0].Symbol)
	assert.Equal(t, "ETH", open[1].Symbol)
}

func TestRepository_UpdatePosition(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	pos := newPosition("SOL")
	_, err := repo.Create(ctx, pos)
	require.NoError(t, err)

	pos.Amount = 0.02
	pos.EntryPrice = 50100
	pos.LastSyncedAt = testNow.Add(time.Minute)
	require.NoError(t, repo.Update(ctx, pos))

	got, err := repo.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.02, got.Amount)
	assert.Equal(t, 50100.0, got.EntryPrice)
	assert.True(t, got.LastSyncedAt.Equal(testNow.Add(time.Minute)))

	pos.Status = domain.StatusClosed
	pos.ExitPrice = 49000
	pos.ExitTime = testNow.Add(2 * time.Hour)
	pos.PNL = pos.RealizedPNL(49000)
	pos.CloseReason = domain.CloseReasonStopLoss
	require.NoError(t, repo.Update(ctx, pos))

	got, err = repo.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, got.Status)
	assert.Equal(t, domain.CloseReasonStopLoss, got.CloseReason)
	assert.InDelta(t, -22.0, got.PNL, 1e-9)
	assert.True(t, got.ExitTime.Equal(testNow.Add(2*time.Hour)))

	total, err := repo.GetTotalProfit(ctx)
	require.NoError(t, err)
	assert.InDelta(t, -22.0, total, 1e-9)

	err = repo.Update(ctx, &domain.Position{ID: 12345, Symbol: "X", Status: domain.StatusOpen})
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestRepository_Trades(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	for i, reason := range []domain.CloseReason{domain.CloseReasonStopLoss, domain.CloseReasonTakeProfit, ""} {
		trade := &domain.Trade{
			PositionID:  int64(i + 1),
			Symbol:      "BTC",
			Side:        domain.Short,
			EntryPrice:  50000,
			ExitPrice:   49000,
			Amount:      0.01,
			Leverage:    5,
			PNL:         10,
			EntryTime:   testNow,
			ExitTime:    testNow.Add(time.Duration(i+1) * time.Hour),
			CloseReason: reason,
		}
		id, err := repo.CreateTrade(ctx, trade)
		require.NoError(t, err)
		assert.Equal(t, id, trade.ID)
	}

	trades, err := repo.FindBySymbol(ctx, "BTC", 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	// newest exit first; an empty reason reads back as Unknown
	assert.Equal(t, domain.CloseReasonUnknown, trades[0].CloseReason)
	assert.Equal(t, domain.CloseReasonTakeProfit, trades[1].CloseReason)
	assert.Equal(t, domain.Short, trades[0].Side)
	assert.Equal(t, int64(3), trades[0].PositionID)

	none, err := repo.FindBySymbol(ctx, "ETH", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepository_Executions(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	records := []*domain.ExecutionResult{
		{Symbol: "BTC", Outcome: domain.OutcomeSkipped, SkipReason: "cooldown", CreatedAt: testNow},
		{Symbol: "BTC", ClientOrderID: "c-1", OrderID: "1", Status: domain.ExecAccepted, Outcome: domain.OutcomeDegraded,
			AttachmentError: "not authorized", FilledAmount: 0.01, AvgPrice: 50000, Attempts: 2, PositionID: 4,
			CreatedAt: testNow.Add(time.Minute)},
		{Symbol: "ETH", Status: domain.ExecRejected, Outcome: domain.OutcomeRejected, ErrorDetail: "bad tick",
			Attempts: 1, CreatedAt: testNow.Add(2 * time.Minute)},
	}
	for _, r := range records {
		id, err := repo.RecordExecution(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, id, r.ID)
	}

	btc, err := repo.FindExecutions(ctx, "BTC", 10)
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.Equal(t, domain.OutcomeDegraded, btc[0].Outcome)
	assert.Equal(t, "not authorized", btc[0].AttachmentError)
	assert.Equal(t, int64(4), btc[0].PositionID)
	assert.Equal(t, 2, btc[0].Attempts)
	assert.True(t, btc[0].CreatedAt.Equal(testNow.Add(time.Minute)))
	assert.Equal(t, "cooldown", btc[1].SkipReason)

	all, err := repo.FindExecutions(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ETH", all[0].Symbol)
	assert.Equal(t, domain.ExecRejected, all[0].Status)
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}

func TestRepository_RealizedPNLSince(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	closes := []struct {
		exit time.Time
		pnl  float64
	}{
		{testNow.Add(-25 * time.Hour), -100},
		{testNow.Add(-time.Hour), -40},
		{testNow.Add(1500 * time.Millisecond), 15},
	}
	for _, c := range closes {
		_, err := repo.CreateTrade(ctx, &domain.Trade{
			Symbol: "BTC", Side: domain.Long, EntryPrice: 50000, ExitPrice: 49000, Amount: 0.01, Leverage: 5,
			PNL: c.pnl, EntryTime: c.exit.Add(-time.Hour), ExitTime: c.exit,
		})
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		since time.Time
		want  float64
	}{
		{"since UTC midnight", testNow.Truncate(24 * time.Hour), -25},
		{"boundary is inclusive", testNow.Add(-time.Hour), -25},
		{"everything", testNow.Add(-48 * time.Hour), -125},
		{"sub-second exit", testNow.Add(time.Second), 15},
		{"nothing yet", testNow.Add(time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.RealizedPNLSince(ctx, tt.since)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
