// Package wsfeed receives strategy signals over a websocket connection.
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"signalExecBot/internal/domain"
	"signalExecBot/internal/ports"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadTimeout      = 60 * time.Second
	defaultPingInterval     = 20 * time.Second
	defaultMinBackoff       = time.Second
	defaultMaxBackoff       = 30 * time.Second
	readLimit               = 1 << 20
)

// Config holds the feed connection settings.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration // no message or pong within this window drops the connection
	PingInterval     time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	Logger           ports.Logger
	Now              func() time.Time
}

// Feed implements ports.SignalSource. It reconnects until the subscription context ends.
type Feed struct {
	cfg    Config
	dialer *websocket.Dialer
	logger ports.Logger
}

// New creates a websocket signal feed.
func New(cfg Config) (*Feed, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for signal feed", ports.ErrConfigurationError)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: signal feed URL is required", ports.ErrConfigurationError)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.ReadTimeout {
		cfg.PingInterval = cfg.ReadTimeout / 3
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Feed{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger: cfg.Logger,
	}, nil
}

// Subscribe delivers decoded signals to handler in arrival order. It returns when ctx is done.
func (f *Feed) Subscribe(ctx context.Context, handler func(domain.Signal)) error {
	op := "Subscribe"
	b := &backoff.Backoff{Min: f.cfg.MinBackoff, Max: f.cfg.MaxBackoff, Factor: 2, Jitter: true}

	for {
		delivered, err := f.consume(ctx, handler)
		if ctx.Err() != nil {
			return fmt.Errorf("%s failed: %w: %w", op, ports.ErrContextCanceled, ctx.Err())
		}
		if delivered > 0 {
			b.Reset()
		}
		delay := b.Duration()
		f.logger.Warn(ctx, op+": Signal feed disconnected, reconnecting", map[string]interface{}{
			"url":       f.cfg.URL,
			"error":     errString(err),
			"delivered": delivered,
			"delay":     delay.String(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s failed: %w: %w", op, ports.ErrContextCanceled, ctx.Err())
		case <-timer.C:
		}
	}
}

// consume runs one connection until it fails. It returns how many signals were delivered.
func (f *Feed) consume(ctx context.Context, handler func(domain.Signal)) (int, error) {
	op := "consume"
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: dial %s: %w", op, f.cfg.URL, err)
	}
	defer conn.Close()

	f.logger.Info(ctx, op+": Connected to signal feed", map[string]interface{}{"url": f.cfg.URL})

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.keepAlive(connCtx, conn)

	delivered := 0
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return delivered, fmt.Errorf("%s: feed closed the connection: %w", op, err)
			}
			return delivered, fmt.Errorf("%s: read: %w", op, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))

		signals, err := Decode(message, f.cfg.Now())
		if err != nil {
			f.logger.Warn(ctx, op+": Dropping undecodable signal message", map[string]interface{}{
				"error":   err.Error(),
				"payload": truncate(string(message)),
			})
			continue
		}
		for _, sig := range signals {
			handler(sig)
			delivered++
		}
	}
}

// keepAlive pings the server and closes the connection when ctx ends so a blocked read returns.
func (f *Feed) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return err.Error()
}

func truncate(s string) string {
	const max = 256
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
