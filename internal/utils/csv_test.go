package utils

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalExecBot/internal/domain"
)

func TestWriteExecutionsCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteExecutionsCSV(&buf, []*domain.ExecutionResult{
		{
			Symbol: "BTC", Outcome: domain.OutcomeSuccess, Status: domain.ExecAccepted,
			ClientOrderID: "c-1", OrderID: "42", FilledAmount: 0.01, AvgPrice: 60000.5, Attempts: 2,
			CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
		{Symbol: "ETH", Outcome: domain.OutcomeSkipped, SkipReason: "cooldown, 120s left"},
	})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "outcome", rows[0][2])
	assert.Equal(t, []string{"2024-05-01T12:00:00Z", "BTC", "success", "accepted", "c-1", "42",
		"0.01", "60000.5", "2", "", "", ""}, rows[1])
	assert.Equal(t, "", rows[2][0])
	assert.Equal(t, "risk_skip", rows[2][2])
	assert.Equal(t, "cooldown, 120s left", rows[2][9])
}

func TestWriteTradesCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteTradesCSV(&buf, []*domain.Trade{{
		Symbol: "BTC", Side: domain.Short, Amount: 0.5, EntryPrice: 100, ExitPrice: 90,
		Leverage: 5, PNL: 5, CloseReason: domain.CloseReasonTakeProfit,
		EntryTime: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		ExitTime:  time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"2024-05-01T11:00:00Z", "BTC", "short", "0.5", "100", "90", "5", "5", "TP",
		"2024-05-01T10:00:00Z"}, rows[1])
}
