package pacifica

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"signalExecBot/internal/ports"
	"signalExecBot/internal/quant"
	"signalExecBot/internal/signing"
)

const (
	EndpointCreateMarket = "/orders/create_market"
	EndpointCreateLimit  = "/orders/create"
	EndpointCancelOrder  = "/orders/cancel"
	EndpointPositionTPSL = "/positions/tpsl"
	EndpointPositions    = "/positions"
	EndpointPrices       = "/info/prices"

	defaultTimeInForce = "GTC"
)

var (
	opCreateMarket = signing.Operation{Type: "create_market_order", Endpoint: EndpointCreateMarket}
	opCreateLimit  = signing.Operation{Type: "create_order", Endpoint: EndpointCreateLimit}
	opCancelOrder  = signing.Operation{Type: "cancel_order", Endpoint: EndpointCancelOrder}
	opPositionTPSL = signing.Operation{
		Type:         "set_position_tpsl",
		TypeKey:      "operation",
		Endpoint:     EndpointPositionTPSL,
		ExpiryWindow: 60 * time.Second,
		AgentField:   true,
	}
)

// RequestBuilder renders exchange payloads and signs them. It implements ports.RequestSigner.
type RequestBuilder struct {
	signer *signing.Signer
}

// NewRequestBuilder creates a RequestBuilder around signer.
func NewRequestBuilder(signer *signing.Signer) *RequestBuilder {
	return &RequestBuilder{signer: signer}
}

// SignOrder signs a market order, or a limit order when order.Price is set.
func (b *RequestBuilder) SignOrder(ctx context.Context, order ports.OrderRequest) (*ports.SignedRequest, error) {
	if order.Symbol == "" || order.Amount <= 0 || order.ClientOrderID == "" {
		return nil, fmt.Errorf("SignOrder failed: %w: symbol, positive amount and client order id are required", ports.ErrValidation)
	}
	fields := []signing.Field{
		signing.F("symbol", signing.String(strings.ToUpper(order.Symbol))),
		signing.F("side", signing.String(string(order.Side))),
		signing.F("amount", signing.String(quant.FormatDecimal(order.Amount))),
		signing.F("reduce_only", signing.Bool(order.ReduceOnly)),
		signing.F("client_order_id", signing.String(order.ClientOrderID)),
	}
	op := opCreateMarket
	if order.Price > 0 {
		op = opCreateLimit
		fields = append(fields,
			signing.F("price", signing.String(quant.FormatDecimal(order.Price))),
			signing.F("tif", signing.String(defaultTimeInForce)),
		)
	} else {
		fields = append(fields, signing.F("slippage_percent", signing.String(quant.FormatDecimal(order.SlippagePercent))))
	}
	fields = appendLegs(fields, order.StopLoss, order.TakeProfit)

	return b.signer.SignRequest(op, signing.Object(fields...))
}

// SignBracket signs a stop-loss/take-profit attachment for an open position.
func (b *RequestBuilder) SignBracket(ctx context.Context, bracket ports.BracketRequest) (*ports.SignedRequest, error) {
	if bracket.StopLoss == nil && bracket.TakeProfit == nil {
		return nil, fmt.Errorf("SignBracket failed: %w: at least one of stop loss or take profit is required", ports.ErrValidation)
	}
	fields := []signing.Field{
		signing.F("symbol", signing.String(strings.ToUpper(bracket.Symbol))),
		signing.F("side", signing.String(string(bracket.Side))),
	}
	fields = appendLegs(fields, bracket.StopLoss, bracket.TakeProfit)
	return b.signer.SignRequest(opPositionTPSL, signing.Object(fields...))
}

// SignCancel signs a cancel for a resting order, by exchange order id when known.
func (b *RequestBuilder) SignCancel(ctx context.Context, cancel ports.CancelRequest) (*ports.SignedRequest, error) {
	if cancel.Symbol == "" || (cancel.OrderID == "" && cancel.ClientOrderID == "") {
		return nil, fmt.Errorf("SignCancel failed: %w: symbol and an order id or client order id are required", ports.ErrValidation)
	}
	fields := []signing.Field{signing.F("symbol", signing.String(strings.ToUpper(cancel.Symbol)))}
	if cancel.OrderID != "" {
		// Exchange order ids are numeric; anything else is passed through verbatim.
		if id, err := strconv.ParseInt(cancel.OrderID, 10, 64); err == nil {
			fields = append(fields, signing.F("order_id", signing.Int(id)))
		} else {
			fields = append(fields, signing.F("order_id", signing.String(cancel.OrderID)))
		}
	} else {
		fields = append(fields, signing.F("client_order_id", signing.String(cancel.ClientOrderID)))
	}
	return b.signer.SignRequest(opCancelOrder, signing.Object(fields...))
}

// Validate checks the signing key configuration.
func (b *RequestBuilder) Validate() error {
	if b.signer == nil {
		return fmt.Errorf("request builder has no signer: %w", ports.ErrConfigurationError)
	}
	return b.signer.Validate()
}

func appendLegs(fields []signing.Field, sl, tp *ports.BracketLeg) []signing.Field {
	if sl != nil {
		fields = append(fields, signing.F("stop_loss", legValue(sl)))
	}
	if tp != nil {
		fields = append(fields, signing.F("take_profit", legValue(tp)))
	}
	return fields
}

func legValue(l *ports.BracketLeg) signing.Value {
	return signing.Object(
		signing.F("stop_price", signing.String(quant.FormatDecimal(l.StopPrice))),
		signing.F("limit_price", signing.String(quant.FormatDecimal(l.LimitPrice))),
	)
}
