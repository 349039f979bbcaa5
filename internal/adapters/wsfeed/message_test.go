package wsfeed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalExecBot/internal/domain"
	"signalExecBot/internal/ports"
)

var received = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []domain.Signal
	}{
		{
			name:    "bare object",
			payload: `{"symbol":"btc","direction":"long","strength":0.8,"timestamp":1714564800000,"price":60000,"atr":300,"volume":1500,"volume_baseline":900}`,
			want: []domain.Signal{{
				Symbol: "BTC", Direction: domain.Long, Strength: 0.8,
				Timestamp: time.UnixMilli(1714564800000).UTC(),
				Price:     60000, ATR: 300, Volume: 1500, VolumeBaseline: 900,
			}},
		},
		{
			name:    "signal type alias and missing timestamp",
			payload: `{"symbol":"ETH","signal_type":"sell","strength":0.7,"price":3000,"limit_price":3010}`,
			want: []domain.Signal{{
				Symbol: "ETH", Direction: domain.Short, Strength: 0.7,
				Timestamp: received, Price: 3000, LimitPrice: 3010,
			}},
		},
		{
			name:    "envelope with array",
			payload: `{"type":"signals","data":[{"symbol":"SOL","direction":"short","price":150},{"symbol":"BTC","direction":"buy","price":60000}]}`,
			want: []domain.Signal{
				{Symbol: "SOL", Direction: domain.Short, Timestamp: received, Price: 150},
				{Symbol: "BTC", Direction: domain.Long, Timestamp: received, Price: 60000},
			},
		},
		{
			name:    "candles",
			payload: `{"symbol":"BTC","direction":"long","price":100,"candles":[{"t":1714564800000,"o":99,"h":101,"l":98,"c":100,"v":10}]}`,
			want: []domain.Signal{{
				Symbol: "BTC", Direction: domain.Long, Timestamp: received, Price: 100,
				Candles: []domain.Candle{{
					OpenTime: time.UnixMilli(1714564800000).UTC(),
					Open:     99, High: 101, Low: 98, Close: 100, Volume: 10,
				}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.payload), received)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	payloads := map[string]string{
		"empty":             "  ",
		"malformed":         `{"symbol":`,
		"no symbol":         `{"direction":"long"}`,
		"close signal":      `{"symbol":"BTC","signal_type":"close_long"}`,
		"unknown envelope":  `{"type":"heartbeat","data":{"seq":1}}`,
		"bad item in batch": `[{"symbol":"BTC","direction":"long"},{"symbol":"ETH","direction":"up"}]`,
	}
	for name, p := range payloads {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(p), received)
			require.Error(t, err)
			assert.ErrorIs(t, err, ports.ErrValidation)
		})
	}
}
