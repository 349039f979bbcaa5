// Package signing canonicalizes exchange payloads and signs them with the account's Ed25519 key.
package signing

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"signalExecBot/internal/ports"
)

const (
	DefaultExpiryWindow = 5 * time.Second
	DefaultMaxClockSkew = 2 * time.Second
	// MaxExpiryWindow is the longest window the exchange accepts.
	MaxExpiryWindow = 60 * time.Second

	dataKey = "data"
)

// Header is the signed envelope around a payload.
type Header struct {
	TypeKey      string // "type" unless the endpoint names it differently
	Type         string
	Timestamp    time.Time
	ExpiryWindow time.Duration
}

func (h Header) value() Value {
	key := h.TypeKey
	if key == "" {
		key = "type"
	}
	return Object(
		F(key, String(h.Type)),
		F("timestamp", Int(h.Timestamp.UnixMilli())),
		F("expiry_window", Int(h.ExpiryWindow.Milliseconds())),
	)
}

// Operation describes one signed exchange endpoint.
type Operation struct {
	Type         string
	TypeKey      string
	Endpoint     string
	ExpiryWindow time.Duration // zero = signer default
	// AgentField adds "agent_wallet" to the wire body.
	AgentField bool
}

// Config holds configuration for the Signer.
type Config struct {
	PrivateKey   string // base58, 64-byte keypair or 32-byte seed
	Account      string // account public key; defaults to the key's own public key
	APIKey       string
	ExpiryWindow time.Duration
	MaxClockSkew time.Duration
	Now          func() time.Time
}

// Signer produces canonical strings and signatures. It is safe for concurrent use.
type Signer struct {
	key      solana.PrivateKey
	account  string
	apiKey   string
	expiry   time.Duration
	maxSkew  time.Duration
	now      func() time.Time
	offsetMs atomic.Int64 // server clock minus local clock
}

// New creates a Signer from cfg.
func New(cfg Config) (*Signer, error) {
	key, err := ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("signing.New failed: %w: %w", ports.ErrConfigurationError, err)
	}
	s := &Signer{
		key:     key,
		account: cfg.Account,
		apiKey:  cfg.APIKey,
		expiry:  cfg.ExpiryWindow,
		maxSkew: cfg.MaxClockSkew,
		now:     cfg.Now,
	}
	if s.account == "" {
		s.account = key.PublicKey().String()
	}
	if s.expiry <= 0 {
		s.expiry = DefaultExpiryWindow
	}
	if s.maxSkew <= 0 {
		s.maxSkew = DefaultMaxClockSkew
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// ParsePrivateKey decodes a base58 Ed25519 keypair or seed.
func ParsePrivateKey(encoded string) (solana.PrivateKey, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("private key is not base58: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return solana.PrivateKey(ed25519.NewKeyFromSeed(raw)), nil
	case ed25519.PrivateKeySize:
		derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !bytes.Equal(derived, raw) {
			return nil, fmt.Errorf("private key public half does not match its seed")
		}
		return solana.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("private key has %d bytes, want 32 or 64", len(raw))
	}
}

// PublicKey returns the base58 public key of the signing key (the agent wallet).
func (s *Signer) PublicKey() string {
	return s.key.PublicKey().String()
}

// Account returns the account identifier placed in request bodies.
func (s *Signer) Account() string {
	return s.account
}

// Validate checks that a usable key is loaded.
func (s *Signer) Validate() error {
	if len(s.key) != ed25519.PrivateKeySize {
		return fmt.Errorf("signer key invalid: %w", ports.ErrConfigurationError)
	}
	return nil
}

// ObserveServerTime records the exchange clock as seen in a response.
func (s *Signer) ObserveServerTime(server time.Time) {
	if server.IsZero() {
		return
	}
	s.offsetMs.Store(server.Sub(s.now()).Milliseconds())
}

// ClockOffset is the last observed exchange clock minus the local clock.
func (s *Signer) ClockOffset() time.Duration {
	return time.Duration(s.offsetMs.Load()) * time.Millisecond
}

// NewHeader builds a header stamped with the local clock.
func (s *Signer) NewHeader(op Operation) Header {
	window := op.ExpiryWindow
	if window <= 0 {
		window = s.expiry
	}
	return Header{TypeKey: op.TypeKey, Type: op.Type, Timestamp: s.now(), ExpiryWindow: window}
}

// Sign wraps payload under "data", merges it with the header, sorts every object's keys,
// encodes the result compactly and signs the bytes. The signature is base58.
func (s *Signer) Sign(h Header, payload Value) ([]byte, string, error) {
	if err := s.checkClock(h); err != nil {
		return nil, "", err
	}
	if payload.Kind() != KindObject {
		return nil, "", fmt.Errorf("Sign failed: %w: payload must be an object", ports.ErrValidation)
	}
	msg := h.value().With(dataKey, payload)
	canonical, err := Canonical(msg)
	if err != nil {
		return nil, "", fmt.Errorf("Sign failed: %w: %w", ports.ErrValidation, err)
	}
	sig, err := s.key.Sign(canonical)
	if err != nil {
		return nil, "", fmt.Errorf("Sign failed: %w", err)
	}
	return canonical, sig.String(), nil
}

// SignRequest signs payload for op and assembles the flat wire body.
func (s *Signer) SignRequest(op Operation, payload Value) (*ports.SignedRequest, error) {
	h := s.NewHeader(op)
	canonical, sig, err := s.Sign(h, payload)
	if err != nil {
		return nil, err
	}

	body := Object(
		F("account", String(s.account)),
		F("signature", String(sig)),
		F("timestamp", Int(h.Timestamp.UnixMilli())),
		F("expiry_window", Int(h.ExpiryWindow.Milliseconds())),
	)
	if op.AgentField {
		body = body.With("agent_wallet", String(s.PublicKey()))
	}
	for _, f := range payload.Fields() {
		body = body.With(f.Key, f.Value)
	}
	encoded, err := Encode(body)
	if err != nil {
		return nil, fmt.Errorf("SignRequest failed: %w: %w", ports.ErrValidation, err)
	}

	headers := map[string]string{"X-Agent-Wallet": s.PublicKey()}
	if s.apiKey != "" {
		headers["X-API-Key"] = s.apiKey
	}
	return &ports.SignedRequest{
		Operation: op.Type,
		Endpoint:  op.Endpoint,
		Canonical: canonical,
		Signature: sig,
		Account:   s.account,
		Timestamp: h.Timestamp,
		ExpiresAt: h.Timestamp.Add(h.ExpiryWindow),
		Body:      encoded,
		Headers:   headers,
	}, nil
}

// checkClock rejects headers the exchange would refuse on arrival.
func (s *Signer) checkClock(h Header) error {
	if h.ExpiryWindow <= 0 || h.ExpiryWindow > MaxExpiryWindow {
		return fmt.Errorf("Sign failed: %w: expiry window %s outside (0, %s]", ports.ErrClockSkew, h.ExpiryWindow, MaxExpiryWindow)
	}
	offset := s.ClockOffset()
	if offset > s.maxSkew || offset < -s.maxSkew {
		return fmt.Errorf("Sign failed: %w: local clock off by %s (max %s)", ports.ErrClockSkew, offset, s.maxSkew)
	}
	serverNow := s.now().Add(offset)
	if !h.Timestamp.Add(h.ExpiryWindow).After(serverNow) {
		return fmt.Errorf("Sign failed: %w: header expired at %s", ports.ErrClockSkew, h.Timestamp.Add(h.ExpiryWindow).UTC().Format(time.RFC3339Nano))
	}
	if h.Timestamp.Sub(serverNow) > s.maxSkew {
		return fmt.Errorf("Sign failed: %w: header timestamp %s ahead of exchange clock", ports.ErrClockSkew, h.Timestamp.Sub(serverNow))
	}
	return nil
}
