// Package binanceclient loads symbol trading rules from Binance USDⓈ-M futures exchange filters.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"signalExecBot/internal/domain"
	"signalExecBot/internal/ports"
)

const baseURLProduction = "https://fapi.binance.com"

// Client implements rules.Loader using the go-binance library.
type Client struct {
	futuresClient      *futures.Client
	logger             ports.Logger
	quoteAsset         string
	defaultMaxLeverage int
	symbols            map[string]bool // optional allow-list of base symbols
}

// Config holds configuration specific to the Binance rule loader.
type Config struct {
	BaseURL            string // defaults to production
	QuoteAsset         string // defaults to USDT
	DefaultMaxLeverage int
	Symbols            []string // base symbols to keep; empty keeps all
	Logger             ports.Logger
}

// New creates a new Binance rule loader. Only public endpoints are used, so no keys are needed.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	client := futures.NewClient("", "")
	client.BaseURL = baseURLProduction
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	quote := strings.ToUpper(cfg.QuoteAsset)
	if quote == "" {
		quote = "USDT"
	}
	var allow map[string]bool
	if len(cfg.Symbols) > 0 {
		allow = make(map[string]bool, len(cfg.Symbols))
		for _, s := range cfg.Symbols {
			allow[strings.ToUpper(strings.TrimSpace(s))] = true
		}
	}
	cfg.Logger.Info(context.Background(), "Binance rule loader configured", map[string]interface{}{"baseURL": client.BaseURL, "quoteAsset": quote})
	return &Client{
		futuresClient:      client,
		logger:             cfg.Logger,
		quoteAsset:         quote,
		defaultMaxLeverage: cfg.DefaultMaxLeverage,
		symbols:            allow,
	}, nil
}

// Load maps every trading perpetual's LOT_SIZE step and PRICE_FILTER tick to a rule
// keyed by its base asset.
func (c *Client) Load(ctx context.Context) ([]domain.SymbolTradingRule, error) {
	op := "LoadExchangeInfo"
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	out := make([]domain.SymbolTradingRule, 0, len(info.Symbols))
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Status != "TRADING" || s.ContractType != futures.ContractTypePerpetual || !strings.EqualFold(s.QuoteAsset, c.quoteAsset) {
			continue
		}
		base := strings.ToUpper(s.BaseAsset)
		if c.symbols != nil && !c.symbols[base] {
			continue
		}
		rule, err := c.translateSymbol(base, s)
		if err != nil {
			c.logger.Warn(ctx, op+": Skipping symbol with unreadable filters", map[string]interface{}{"symbol": s.Symbol, "reason": err.Error()})
			continue
		}
		out = append(out, rule)
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"rules": len(out)})
	return out, nil
}

func (c *Client) translateSymbol(base string, s *futures.Symbol) (domain.SymbolTradingRule, error) {
	lot := s.LotSizeFilter()
	price := s.PriceFilter()
	if lot == nil || price == nil {
		return domain.SymbolTradingRule{}, fmt.Errorf("missing LOT_SIZE or PRICE_FILTER")
	}
	step, err := strconv.ParseFloat(lot.StepSize, 64)
	if err != nil {
		return domain.SymbolTradingRule{}, fmt.Errorf("invalid step size %q: %w", lot.StepSize, err)
	}
	tick, err := strconv.ParseFloat(price.TickSize, 64)
	if err != nil {
		return domain.SymbolTradingRule{}, fmt.Errorf("invalid tick size %q: %w", price.TickSize, err)
	}
	return domain.SymbolTradingRule{
		Symbol:      base,
		LotSize:     step,
		TickSize:    tick,
		MaxLeverage: c.defaultMaxLeverage,
	}, nil
}

// handleError translates Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		mappedErr := ports.ErrUnknown
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrTransientServer
		case -1000, -1001: // Unknown / disconnected
			mappedErr = ports.ErrTransientServer
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}
	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}
