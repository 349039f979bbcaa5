package wsfeed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"signalExecBot/internal/domain"
	"signalExecBot/internal/ports"
)

// signalMessage is the wire form of a signal. Timestamps are unix milliseconds.
//
//	{"symbol":"BTC","direction":"long","strength":0.8,"timestamp":1714564800000,
//	 "price":60000,"atr":300,"volume":1500,"volume_baseline":900}
type signalMessage struct {
	Symbol         string          `json:"symbol"`
	Direction      string          `json:"direction"`
	SignalType     string          `json:"signal_type"`
	Strength       float64         `json:"strength"`
	Timestamp      int64           `json:"timestamp"`
	SuggestedSize  float64         `json:"suggested_size"`
	Price          float64         `json:"price"`
	ATR            float64         `json:"atr"`
	Volume         float64         `json:"volume"`
	VolumeBaseline float64         `json:"volume_baseline"`
	LimitPrice     float64         `json:"limit_price"`
	Candles        []candleMessage `json:"candles"`
}

type candleMessage struct {
	OpenTime int64   `json:"t"`
	Open     float64 `json:"o"`
	High     float64 `json:"h"`
	Low      float64 `json:"l"`
	Close    float64 `json:"c"`
	Volume   float64 `json:"v"`
}

// envelope wraps signals as {"type":"signal","data":{...}} or {"type":"signals","data":[...]}.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one feed message into signals. It accepts a bare signal object, an array of
// signals, or an envelope around either. A missing timestamp is replaced by received.
func Decode(data []byte, received time.Time) ([]domain.Signal, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty message", ports.ErrValidation)
	}

	if data[0] == '{' {
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ports.ErrValidation, err)
		}
		if len(env.Data) > 0 {
			switch strings.ToLower(env.Type) {
			case "signal", "signals", "":
				return Decode(env.Data, received)
			default:
				return nil, fmt.Errorf("%w: unsupported message type %q", ports.ErrValidation, env.Type)
			}
		}
	}

	var msgs []signalMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("%w: %v", ports.ErrValidation, err)
		}
	} else {
		var m signalMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ports.ErrValidation, err)
		}
		msgs = []signalMessage{m}
	}

	out := make([]domain.Signal, 0, len(msgs))
	for _, m := range msgs {
		sig, err := m.toDomain(received)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

func (m signalMessage) toDomain(received time.Time) (domain.Signal, error) {
	symbol := strings.ToUpper(strings.TrimSpace(m.Symbol))
	if symbol == "" {
		return domain.Signal{}, fmt.Errorf("%w: signal without symbol", ports.ErrValidation)
	}
	dir, err := parseDirection(m.Direction, m.SignalType)
	if err != nil {
		return domain.Signal{}, err
	}

	ts := received
	if m.Timestamp > 0 {
		ts = time.UnixMilli(m.Timestamp).UTC()
	}

	sig := domain.Signal{
		Symbol:         symbol,
		Direction:      dir,
		Strength:       m.Strength,
		Timestamp:      ts,
		SuggestedSize:  m.SuggestedSize,
		Price:          m.Price,
		ATR:            m.ATR,
		Volume:         m.Volume,
		VolumeBaseline: m.VolumeBaseline,
		LimitPrice:     m.LimitPrice,
	}
	if len(m.Candles) > 0 {
		sig.Candles = make([]domain.Candle, len(m.Candles))
		for i, c := range m.Candles {
			sig.Candles[i] = domain.Candle{
				OpenTime: time.UnixMilli(c.OpenTime).UTC(),
				Open:     c.Open,
				High:     c.High,
				Low:      c.Low,
				Close:    c.Close,
				Volume:   c.Volume,
			}
		}
	}
	return sig, nil
}

// parseDirection accepts long/short and the buy/sell signal types strategies emit.
func parseDirection(direction, signalType string) (domain.Direction, error) {
	v := strings.ToLower(strings.TrimSpace(direction))
	if v == "" {
		v = strings.ToLower(strings.TrimSpace(signalType))
	}
	switch v {
	case "long", "buy", "bid":
		return domain.Long, nil
	case "short", "sell", "ask":
		return domain.Short, nil
	default:
		return "", fmt.Errorf("%w: unsupported signal direction %q", ports.ErrValidation, v)
	}
}
