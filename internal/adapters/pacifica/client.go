// Package pacifica adapts the exchange's signed REST API to ports.ExchangeGateway.
package pacifica

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"signalExecBot/internal/domain"
	"signalExecBot/internal/metrics"
	"signalExecBot/internal/ports"
)

const (
	DefaultBaseURL = "https://api.pacifica.fi/api/v1"

	maxResponseBytes = 1 << 20
	maxMessageLen    = 200
)

// ServerClock receives the exchange clock observed on responses.
type ServerClock interface {
	ObserveServerTime(t time.Time)
}

// Config holds configuration for the exchange client.
type Config struct {
	BaseURL    string
	Account    string // account queried for positions
	Timeout    time.Duration
	RateLimit  float64 // requests per second, 0 = unlimited
	Burst      int
	HTTPClient *http.Client
	Clock      ServerClock // optional
	Logger     ports.Logger
	Now        func() time.Time
}

// Client implements ports.ExchangeGateway over HTTP. It holds no per-order state and never retries.
type Client struct {
	baseURL string
	account string
	http    *http.Client
	limiter *rate.Limiter
	clock   ServerClock
	logger  ports.Logger
	now     func() time.Time
}

// New creates a new exchange client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for exchange client")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w: %w", base, ports.ErrConfigurationError, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	cfg.Logger.Info(context.Background(), "Exchange client configured", map[string]interface{}{"baseURL": base, "rateLimit": cfg.RateLimit})
	return &Client{
		baseURL: base,
		account: cfg.Account,
		http:    httpClient,
		limiter: limiter,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		now:     now,
	}, nil
}

// SubmitOrder places a signed order. Exactly one HTTP call is made.
func (c *Client) SubmitOrder(ctx context.Context, req *ports.SignedRequest) (*domain.ExecutionResult, error) {
	op := "SubmitOrder"
	res := &domain.ExecutionResult{Status: domain.ExecError, CreatedAt: c.now().UTC()}

	payload, err := c.post(ctx, op, req)
	if err != nil {
		if errors.Is(err, ports.ErrRejectedByExchange) || errors.Is(err, ports.ErrNotSupported) {
			res.Status = domain.ExecRejected
		}
		res.ErrorDetail = ports.ExchangeMessage(err)
		return res, err
	}

	obj, _ := payload.(map[string]interface{})
	res.Status = domain.ExecAccepted
	res.OrderID = stringField(obj, "order_id", "orderId", "id", "i")
	res.ClientOrderID = stringField(obj, "client_order_id", "I")
	res.FilledAmount = numberField(obj, "filled_amount", "amount_filled", "filled")
	res.AvgPrice = numberField(obj, "avg_price", "average_price", "avg_filled_price")
	res.AttachmentError = stringField(obj, "tpsl_error", "stop_loss_error", "take_profit_error")
	if res.OrderID == "" {
		c.logger.Warn(ctx, op+": Order accepted without an order id", map[string]interface{}{"endpoint": req.Endpoint})
	}
	c.logger.Info(ctx, op+": Order accepted", map[string]interface{}{
		"endpoint": req.Endpoint,
		"orderID":  res.OrderID,
		"filled":   res.FilledAmount,
	})
	return res, nil
}

// SetPositionTPSL attaches stop-loss/take-profit to an open position.
func (c *Client) SetPositionTPSL(ctx context.Context, req *ports.SignedRequest) error {
	_, err := c.post(ctx, "SetPositionTPSL", req)
	return err
}

// CancelOrder cancels a resting order. Exactly one HTTP call is made.
func (c *Client) CancelOrder(ctx context.Context, req *ports.SignedRequest) error {
	op := "CancelOrder"
	if _, err := c.post(ctx, op, req); err != nil {
		var exErr *ports.ExchangeError
		if errors.As(err, &exErr) && errors.Is(exErr.Kind, ports.ErrRejectedByExchange) && isUnknownOrder(exErr.Message) {
			return fmt.Errorf("%s failed: %w: %w", op, ports.ErrNotFound, err)
		}
		return err
	}
	c.logger.Info(ctx, op+": Order cancelled", map[string]interface{}{"endpoint": req.Endpoint})
	return nil
}

// FetchPositions returns every open position of the configured account.
func (c *Client) FetchPositions(ctx context.Context) ([]ports.ExchangePosition, error) {
	op := "FetchPositions"
	q := url.Values{}
	q.Set("account", c.account)
	payload, err := c.get(ctx, op, EndpointPositions, q)
	if err != nil {
		return nil, err
	}
	items, ok := payload.([]interface{})
	if !ok && payload != nil {
		return nil, fmt.Errorf("%s failed: %w: unexpected payload %T", op, ports.ErrUnknown, payload)
	}

	positions := make([]ports.ExchangePosition, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		p := ports.ExchangePosition{
			Symbol:     strings.ToUpper(stringField(obj, "symbol")),
			Side:       parseSide(stringField(obj, "side")),
			Amount:     numberField(obj, "amount", "size"),
			EntryPrice: numberField(obj, "entry_price", "avg_entry_price"),
		}
		if p.Symbol == "" || p.Amount == 0 {
			continue
		}
		if p.Amount < 0 {
			p.Amount = -p.Amount
			p.Side = domain.Short
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// GetMarkPrice returns the mark price for symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetMarkPrice"
	payload, err := c.get(ctx, op, EndpointPrices, nil)
	if err != nil {
		return 0, err
	}
	items, _ := payload.([]interface{})
	for _, it := range items {
		obj, ok := it.(map[string]interface{})
		if !ok || !strings.EqualFold(stringField(obj, "symbol"), symbol) {
			continue
		}
		if price := numberField(obj, "mark", "mark_price", "mid", "price"); price > 0 {
			return price, nil
		}
	}
	return 0, fmt.Errorf("%s failed for %s: %w", op, symbol, ports.ErrNotFound)
}

func (c *Client) post(ctx context.Context, op string, req *ports.SignedRequest) (interface{}, error) {
	if req == nil {
		return nil, fmt.Errorf("%s failed: %w: nil request", op, ports.ErrValidation)
	}
	if req.Expired(c.now()) {
		c.count(req.Endpoint, "clock_skew")
		return nil, fmt.Errorf("%s failed: %w: signed request expired before submission", op, ports.ErrClockSkew)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+req.Endpoint, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrValidation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return c.do(ctx, op, req.Endpoint, httpReq)
}

func (c *Client) get(ctx context.Context, op, endpoint string, query url.Values) (interface{}, error) {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrValidation, err)
	}
	return c.do(ctx, op, endpoint, httpReq)
}

func (c *Client) do(ctx context.Context, op, endpoint string, httpReq *http.Request) (interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		// Nothing was sent, so the caller may safely retry.
		c.count(endpoint, "not_sent")
		return nil, &ports.ExchangeError{Op: op, Message: "rate limiter: " + err.Error(), Kind: ports.ErrTransientServer}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		kind := classifyTransport(err)
		c.count(endpoint, className(kind))
		c.logger.Error(ctx, err, op+" transport failure", map[string]interface{}{"endpoint": endpoint, "class": className(kind)})
		return nil, &ports.ExchangeError{Op: op, Message: err.Error(), Kind: kind}
	}
	defer resp.Body.Close()

	if c.clock != nil {
		if date, perr := http.ParseTime(resp.Header.Get("Date")); perr == nil {
			c.clock.ObserveServerTime(date)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		// The status line arrived, so the exchange processed the request; the body is lost.
		c.count(endpoint, "unknown")
		return nil, &ports.ExchangeError{Op: op, StatusCode: resp.StatusCode, Message: err.Error(), Kind: ports.ErrUnknownOutcome}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(body)
		kind := classifyStatus(resp.StatusCode, msg)
		c.count(endpoint, className(kind))
		c.logger.Warn(ctx, op+" rejected", map[string]interface{}{"endpoint": endpoint, "status": resp.StatusCode, "message": msg})
		return nil, &ports.ExchangeError{Op: op, StatusCode: resp.StatusCode, Message: msg, Kind: kind}
	}

	payload, success, err := unwrap(body)
	if err != nil {
		// A 2xx with an unreadable body: the order may exist.
		c.count(endpoint, "unknown")
		return nil, &ports.ExchangeError{Op: op, StatusCode: resp.StatusCode, Message: "unparseable response: " + err.Error(), Kind: ports.ErrUnknownOutcome}
	}
	if !success {
		msg := errorMessage(body)
		kind := classifyStatus(http.StatusBadRequest, msg)
		c.count(endpoint, className(kind))
		return nil, &ports.ExchangeError{Op: op, StatusCode: resp.StatusCode, Message: msg, Kind: kind}
	}
	c.count(endpoint, "ok")
	return payload, nil
}

func (c *Client) count(endpoint, class string) {
	metrics.GatewayRequestsTotal.WithLabelValues(endpoint, class).Inc()
}

// classifyStatus maps an HTTP status and exchange message to an error sentinel.
func classifyStatus(status int, msg string) error {
	switch {
	case status == http.StatusNotFound || status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented:
		return ports.ErrNotSupported
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return ports.ErrTransientServer
	case status >= 500:
		return ports.ErrTransientServer
	case status >= 400:
		if isAttachmentAuthError(status, msg) {
			return ports.ErrAttachmentUnauthorized
		}
		return ports.ErrRejectedByExchange
	default:
		return ports.ErrUnknown
	}
}

var (
	unknownOrderTerms = []string{"not found", "does not exist", "unknown order", "already filled", "already cancel", "already closed"}
	authTerms         = []string{"unauthorized", "not authorized", "permission", "forbidden", "not allowed", "agent"}
	bracketTerms      = []string{"tpsl", "tp/sl", "stop_loss", "stop loss", "take_profit", "take profit", "bracket"}
)

func isAttachmentAuthError(status int, msg string) bool {
	lower := strings.ToLower(msg)
	if !containsAny(lower, bracketTerms) {
		return false
	}
	return status == http.StatusUnauthorized || status == http.StatusForbidden || containsAny(lower, authTerms)
}

// isUnknownOrder reports whether a cancel rejection means no resting order is left.
func isUnknownOrder(msg string) bool {
	return containsAny(strings.ToLower(msg), unknownOrderTerms)
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// classifyTransport separates failures where the request provably never left
// from those where the exchange may have received it.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		// Canceled mid-flight: the exchange may still act on it.
		return ports.ErrUnknownOutcome
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ports.ErrTransientServer
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ports.ErrTransientServer
	}
	return ports.ErrUnknownOutcome
}

func className(kind error) string {
	switch {
	case errors.Is(kind, ports.ErrAttachmentUnauthorized):
		return "attachment_unauthorized"
	case errors.Is(kind, ports.ErrRejectedByExchange):
		return "rejected"
	case errors.Is(kind, ports.ErrTransientServer):
		return "transient"
	case errors.Is(kind, ports.ErrNotSupported):
		return "not_supported"
	case errors.Is(kind, ports.ErrUnknownOutcome):
		return "unknown"
	default:
		return "error"
	}
}

// parseSide returns "" for a missing or unrecognized side.
func parseSide(s string) domain.Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ask", "short", "sell":
		return domain.Short
	case "bid", "long", "buy":
		return domain.Long
	default:
		return ""
	}
}
