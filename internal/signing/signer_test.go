package signing

import (
	"crypto/ed25519"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalExecBot/internal/ports"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testSeed() []byte {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return seed
}

func newTestSigner(t *testing.T, mutate func(*Config)) *Signer {
	t.Helper()
	cfg := Config{
		PrivateKey: base58.Encode(ed25519.NewKeyFromSeed(testSeed())),
		APIKey:     "api-key",
		Now:        func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func orderPayload() Value {
	return Object(
		F("symbol", String("BTC")),
		F("side", String("bid")),
		F("amount", String("0.1")),
		F("reduce_only", Bool(false)),
		F("slippage_percent", String("0.5")),
		F("client_order_id", String("c0ffee")),
	)
}

var marketOrder = Operation{Type: "create_market_order", Endpoint: "/orders/create_market"}

func TestParsePrivateKey(t *testing.T) {
	full := ed25519.NewKeyFromSeed(testSeed())

	fromSeed, err := ParsePrivateKey(base58.Encode(testSeed()))
	require.NoError(t, err)
	fromFull, err := ParsePrivateKey(base58.Encode(full))
	require.NoError(t, err)
	assert.Equal(t, fromFull, fromSeed)

	_, err = ParsePrivateKey("")
	assert.Error(t, err)
	_, err = ParsePrivateKey("0OIl") // not in the base58 alphabet
	assert.Error(t, err)
	_, err = ParsePrivateKey(base58.Encode([]byte{1, 2, 3}))
	assert.Error(t, err)

	corrupt := append([]byte(nil), full...)
	corrupt[40] ^= 0xff
	_, err = ParsePrivateKey(base58.Encode(corrupt))
	assert.Error(t, err)
}

func TestNew_RejectsMissingKey(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestSign_CanonicalAndVerifiable(t *testing.T) {
	s := newTestSigner(t, nil)
	h := s.NewHeader(marketOrder)

	canonical, sig, err := s.Sign(h, orderPayload())
	require.NoError(t, err)

	want := `{"data":{"amount":"0.1","client_order_id":"c0ffee","reduce_only":false,"side":"bid","slippage_percent":"0.5","symbol":"BTC"},` +
		`"expiry_window":5000,"timestamp":1714564800000,"type":"create_market_order"}`
	assert.Equal(t, want, string(canonical))

	rawSig, err := base58.Decode(sig)
	require.NoError(t, err)
	pub := ed25519.NewKeyFromSeed(testSeed()).Public().(ed25519.PublicKey)
	assert.True(t, ed25519.Verify(pub, canonical, rawSig))

	solSig, err := solana.SignatureFromBase58(sig)
	require.NoError(t, err)
	assert.True(t, solSig.Verify(solana.PublicKeyFromBytes(pub), canonical))
}

func TestSign_Deterministic(t *testing.T) {
	s := newTestSigner(t, nil)
	h := s.NewHeader(marketOrder)

	c1, s1, err := s.Sign(h, orderPayload())
	require.NoError(t, err)
	c2, s2, err := s.Sign(h, orderPayload())
	require.NoError(t, err)

	assert.Equal(t, c1, c2)
	assert.Equal(t, s1, s2)
}

func TestSign_KeyOrderIndependent(t *testing.T) {
	s := newTestSigner(t, nil)
	h := s.NewHeader(marketOrder)

	reordered := Object(
		F("client_order_id", String("c0ffee")),
		F("slippage_percent", String("0.5")),
		F("reduce_only", Bool(false)),
		F("amount", String("0.1")),
		F("side", String("bid")),
		F("symbol", String("BTC")),
	)

	c1, s1, err := s.Sign(h, orderPayload())
	require.NoError(t, err)
	c2, s2, err := s.Sign(h, reordered)
	require.NoError(t, err)
	assert.Equal(t, string(c1), string(c2))
	assert.Equal(t, s1, s2)
}

func TestSign_OperationTypeKey(t *testing.T) {
	s := newTestSigner(t, nil)
	h := s.NewHeader(Operation{Type: "set_position_tpsl", TypeKey: "operation", ExpiryWindow: time.Minute})

	canonical, _, err := s.Sign(h, Object(F("symbol", String("BTC"))))
	require.NoError(t, err)
	assert.Equal(t, `{"data":{"symbol":"BTC"},"expiry_window":60000,"operation":"set_position_tpsl","timestamp":1714564800000}`, string(canonical))
}

func TestSign_ClockSkew(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
		header func(h Header) Header
	}{
		{name: "server clock far ahead", offset: 10 * time.Second},
		{name: "server clock far behind", offset: -10 * time.Second},
		{name: "zero window", header: func(h Header) Header { h.ExpiryWindow = 0; return h }},
		{name: "window too long", header: func(h Header) Header { h.ExpiryWindow = 2 * time.Minute; return h }},
		{name: "already expired", header: func(h Header) Header { h.Timestamp = h.Timestamp.Add(-6 * time.Second); return h }},
		{name: "stamped in the future", header: func(h Header) Header { h.Timestamp = h.Timestamp.Add(30 * time.Second); return h }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSigner(t, nil)
			if tt.offset != 0 {
				s.ObserveServerTime(testNow.Add(tt.offset))
			}
			h := s.NewHeader(marketOrder)
			if tt.header != nil {
				h = tt.header(h)
			}
			_, _, err := s.Sign(h, orderPayload())
			assert.ErrorIs(t, err, ports.ErrClockSkew)
		})
	}
}

func TestSign_SmallOffsetAccepted(t *testing.T) {
	s := newTestSigner(t, nil)
	s.ObserveServerTime(testNow.Add(900 * time.Millisecond))
	assert.Equal(t, 900*time.Millisecond, s.ClockOffset())

	_, _, err := s.Sign(s.NewHeader(marketOrder), orderPayload())
	assert.NoError(t, err)
}

func TestSign_RejectsNonObjectPayload(t *testing.T) {
	s := newTestSigner(t, nil)
	_, _, err := s.Sign(s.NewHeader(marketOrder), Array())
	assert.ErrorIs(t, err, ports.ErrValidation)
}

func TestSignRequest_FlatBody(t *testing.T) {
	s := newTestSigner(t, nil)

	req, err := s.SignRequest(marketOrder, orderPayload())
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(req.Body, &body))

	assert.Equal(t, s.PublicKey(), body["account"])
	assert.Equal(t, req.Signature, body["signature"])
	assert.Equal(t, float64(1714564800000), body["timestamp"])
	assert.Equal(t, float64(5000), body["expiry_window"])
	assert.Equal(t, "BTC", body["symbol"])
	assert.Equal(t, "0.1", body["amount"])
	assert.NotContains(t, body, "data")
	assert.NotContains(t, body, "type")
	assert.NotContains(t, body, "agent_wallet")

	assert.True(t, strings.HasPrefix(string(req.Canonical), `{"data":{`))
	assert.Equal(t, "/orders/create_market", req.Endpoint)
	assert.Equal(t, testNow.Add(5*time.Second), req.ExpiresAt)
	assert.Equal(t, s.PublicKey(), req.Headers["X-Agent-Wallet"])
	assert.Equal(t, "api-key", req.Headers["X-API-Key"])
	assert.False(t, req.Expired(testNow))
	assert.True(t, req.Expired(testNow.Add(5*time.Second)))
}

func TestSignRequest_AgentFieldAndAccountOverride(t *testing.T) {
	s := newTestSigner(t, func(c *Config) {
		c.Account = "MainAccount111"
		c.APIKey = ""
	})

	req, err := s.SignRequest(Operation{Type: "set_position_tpsl", TypeKey: "operation", Endpoint: "/positions/tpsl", ExpiryWindow: time.Minute, AgentField: true},
		Object(F("symbol", String("ETH"))))
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "MainAccount111", body["account"])
	assert.Equal(t, s.PublicKey(), body["agent_wallet"])
	assert.Equal(t, float64(60000), body["expiry_window"])
	assert.NotContains(t, req.Headers, "X-API-Key")
}
