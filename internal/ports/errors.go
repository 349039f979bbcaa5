package ports

import (
	"errors"
	"fmt"
)

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these so the core can classify them with errors.Is.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Pipeline taxonomy
	ErrValidation   = errors.New("validation error")
	ErrInvalidRule  = fmt.Errorf("invalid symbol trading rule: %w", ErrValidation)
	ErrRiskRejected = errors.New("rejected by risk gate")
	ErrClockSkew    = errors.New("signature timestamp outside exchange acceptance window")

	// Exchange Specific Errors
	ErrRejectedByExchange = errors.New("request rejected by exchange")
	ErrTransientServer    = errors.New("transient exchange server error")
	ErrNotSupported       = errors.New("operation not supported by exchange")
	ErrUnknownOutcome     = errors.New("order outcome unknown")
	// ErrAttachmentUnauthorized narrows ErrRejectedByExchange: the signing key may
	// place orders but not attach stop-loss/take-profit brackets.
	ErrAttachmentUnauthorized = fmt.Errorf("bracket attachment not authorized: %w", ErrRejectedByExchange)
	ErrAttachmentDegraded     = errors.New("order placed without bracket protection")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)

// ExchangeError carries the exchange's verbatim message alongside its classification.
type ExchangeError struct {
	Op         string
	StatusCode int
	Message    string
	Kind       error // one of the exchange sentinels above
}

func (e *ExchangeError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %v (status %d): %s", e.Op, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Message)
}

func (e *ExchangeError) Unwrap() error {
	return e.Kind
}

// ExchangeMessage extracts the exchange's message from err, or err.Error() when none is attached.
func ExchangeMessage(err error) string {
	if err == nil {
		return ""
	}
	var exErr *ExchangeError
	if errors.As(err, &exErr) && exErr.Message != "" {
		return exErr.Message
	}
	return err.Error()
}
