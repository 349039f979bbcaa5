package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical_SortsNestedObjects(t *testing.T) {
	v := Object(
		F("type", String("create_market_order")),
		F("timestamp", Int(1700000000000)),
		F("data", Object(
			F("symbol", String("BTC")),
			F("amount", String("0.1")),
			F("stop_loss", Object(
				F("stop_price", String("48000")),
				F("limit_price", String("47952")),
			)),
		)),
	)

	got, err := Canonical(v)
	require.NoError(t, err)
	assert.Equal(t,
		`{"data":{"amount":"0.1","stop_loss":{"limit_price":"47952","stop_price":"48000"},"symbol":"BTC"},"timestamp":1700000000000,"type":"create_market_order"}`,
		string(got))
}

func TestCanonical_ArraysKeepOrder(t *testing.T) {
	v := Object(F("list", Array(
		Object(F("b", Int(2)), F("a", Int(1))),
		Int(3),
		Array(Object(F("z", Bool(true)), F("y", Null()))),
	)))

	got, err := Canonical(v)
	require.NoError(t, err)
	assert.Equal(t, `{"list":[{"a":1,"b":2},3,[{"y":null,"z":true}]]}`, string(got))
}

func TestCanonical_InsertionOrderIndependent(t *testing.T) {
	a, err := Parse([]byte(`{"symbol":"ETH","side":"bid","nested":{"x":1,"a":[{"q":1,"p":2}]}}`))
	require.NoError(t, err)
	b, err := Parse([]byte(`{"nested":{"a":[{"p":2,"q":1}],"x":1},"side":"bid","symbol":"ETH"}`))
	require.NoError(t, err)

	ca, err := Canonical(a)
	require.NoError(t, err)
	cb, err := Canonical(b)
	require.NoError(t, err)
	assert.Equal(t, string(ca), string(cb))
}

func TestEncode_Strings(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "abc", want: `"abc"`},
		{name: "quote and backslash", in: `a"b\c`, want: `"a\"b\\c"`},
		{name: "control chars", in: "a\nb\tc\x01", want: `"a\nb\tc\u0001"`},
		{name: "html chars untouched", in: "<a&b>/", want: `"<a&b>/"`},
		{name: "non ascii", in: "é", want: `"\u00e9"`},
		{name: "astral plane", in: "😀", want: `"\ud83d\ude00"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(String(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestEncode_Floats(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{in: 0.5, want: "0.5"},
		{in: 100, want: "100.0"},
		{in: 1234567, want: "1234567.0"},
		{in: 0.0001, want: "0.0001"},
		{in: 0.00001, want: "1e-05"},
		{in: 1e16, want: "1e+16"},
		{in: -2.5, want: "-2.5"},
		{in: 0, want: "0.0"},
	}

	for _, tt := range tests {
		got, err := Encode(Float(tt.in))
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(got), "float %v", tt.in)
	}
}

func TestParse_PreservesNumbers(t *testing.T) {
	v, err := Parse([]byte(`{"a": 1.50, "b": [1, 2e3]}`))
	require.NoError(t, err)

	got, err := Encode(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1.50,"b":[1,2e3]}`, string(got))
}

func TestParse_RejectsTrailingData(t *testing.T) {
	_, err := Parse([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}

func TestValue_With(t *testing.T) {
	v := Object(F("a", Int(1)), F("b", Int(2)))
	v = v.With("a", Int(3)).With("c", Int(4))

	got, err := Encode(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"b":2,"c":4}`, string(got))

	c, ok := v.Get("c")
	require.True(t, ok)
	assert.Equal(t, KindInt, c.Kind())
}
