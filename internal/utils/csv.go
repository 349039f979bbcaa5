package utils

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"signalExecBot/internal/domain"
)

// WriteExecutionsCSV writes execution outcomes as CSV with a header row.
func WriteExecutionsCSV(w io.Writer, results []*domain.ExecutionResult) error {
	writer := csv.NewWriter(w)

	_ = writer.Write([]string{"created_at", "symbol", "outcome", "status", "client_order_id", "order_id",
		"filled_amount", "avg_price", "attempts", "skip_reason", "error_detail", "attachment_error"})

	for _, r := range results {
		_ = writer.Write([]string{
			formatTime(r.CreatedAt),
			r.Symbol,
			string(r.Outcome),
			string(r.Status),
			r.ClientOrderID,
			r.OrderID,
			formatFloat(r.FilledAmount),
			formatFloat(r.AvgPrice),
			strconv.Itoa(r.Attempts),
			r.SkipReason,
			r.ErrorDetail,
			r.AttachmentError,
		})
	}
	writer.Flush()
	return writer.Error()
}

// WriteTradesCSV writes realized trades as CSV with a header row.
func WriteTradesCSV(w io.Writer, trades []*domain.Trade) error {
	writer := csv.NewWriter(w)

	_ = writer.Write([]string{"exit_time", "symbol", "side", "amount", "entry_price", "exit_price",
		"leverage", "pnl", "close_reason", "entry_time"})

	for _, t := range trades {
		_ = writer.Write([]string{
			formatTime(t.ExitTime),
			t.Symbol,
			string(t.Side),
			formatFloat(t.Amount),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			strconv.Itoa(t.Leverage),
			formatFloat(t.PNL),
			string(t.CloseReason),
			formatTime(t.EntryTime),
		})
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
