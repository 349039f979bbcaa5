package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"signalExecBot/internal/domain"
	"signalExecBot/internal/ports"
)

// --- ExecutionLog Implementation ---

// RecordExecution stores the terminal outcome of one execute call.
func (r *Repository) RecordExecution(ctx context.Context, res *domain.ExecutionResult) (int64, error) {
	const query = `
	INSERT INTO executions (symbol, client_order_id, order_id, status, outcome, error_detail, skip_reason,
	                        attachment_error, filled_amount, avg_price, attempts, position_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var positionID sql.NullInt64
	if res.PositionID != 0 {
		positionID = sql.NullInt64{Int64: res.PositionID, Valid: true}
	}
	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	result, err := r.db.ExecContext(ctx, query,
		res.Symbol, res.ClientOrderID, res.OrderID, res.Status, res.Outcome, res.ErrorDetail, res.SkipReason,
		res.AttachmentError, res.FilledAmount, res.AvgPrice, res.Attempts, positionID, createdAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert execution for symbol %s: %w", res.Symbol, mapWriteError(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for execution %s: %w", res.Symbol, err)
	}
	res.ID = id
	return id, nil
}

// FindExecutions returns the latest outcomes for symbol, newest first. An empty symbol matches all.
func (r *Repository) FindExecutions(ctx context.Context, symbol string, limit int) ([]*domain.ExecutionResult, error) {
	const query = `
	SELECT id, symbol, client_order_id, order_id, status, outcome, error_detail, skip_reason,
	       attachment_error, filled_amount, avg_price, attempts, position_id, created_at
	FROM executions
	WHERE (? = '' OR symbol = ?)
	ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	out := make([]*domain.ExecutionResult, 0)
	for rows.Next() {
		res := &domain.ExecutionResult{}
		var status, outcome string
		var positionID sql.NullInt64
		if err := rows.Scan(&res.ID, &res.Symbol, &res.ClientOrderID, &res.OrderID, &status, &outcome,
			&res.ErrorDetail, &res.SkipReason, &res.AttachmentError, &res.FilledAmount, &res.AvgPrice,
			&res.Attempts, &positionID, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		res.Status = domain.ExecutionStatus(status)
		res.Outcome = domain.Outcome(outcome)
		if positionID.Valid {
			res.PositionID = positionID.Int64
		}
		out = append(out, res)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution rows: %w", err)
	}
	return out, nil
}
