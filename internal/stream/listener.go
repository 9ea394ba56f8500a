// Package stream consumes an exchange user-data websocket and turns its
// order updates into execution reports.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/tathienbao/exbroker/internal/broker"
	"github.com/tathienbao/exbroker/internal/metrics"
)

// ErrMaxRetries is returned when reconnecting gives up.
var ErrMaxRetries = errors.New("max reconnect attempts reached")

// Config configures the listener.
type Config struct {
	URL string

	InitialDelay time.Duration
	MaxDelay     time.Duration
	// MaxRetries limits consecutive reconnect attempts; 0 means unlimited.
	MaxRetries int

	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration

	Buffer int
}

// DefaultConfig returns the default reconnect schedule: 2s, 4s, 8s, 16s.
func DefaultConfig() Config {
	return Config{
		InitialDelay:   2 * time.Second,
		MaxDelay:       16 * time.Second,
		MaxRetries:     10,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
		Buffer:         256,
	}
}

// Listener is a broker.ReportSource backed by a websocket.
type Listener struct {
	cfg    Config
	rec    *metrics.Recorder
	logger *slog.Logger
	dialer websocket.Dialer

	state   atomic.Int32
	retries atomic.Int32
}

// New creates a listener for cfg.URL.
func New(cfg Config, rec *metrics.Recorder, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.NewRecorder()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}

	l := &Listener{
		cfg:    cfg,
		rec:    rec,
		logger: logger.With("component", "stream"),
		dialer: websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
	}
	l.state.Store(int32(broker.StateDisconnected))
	return l
}

// State returns the connection state.
func (l *Listener) State() broker.ConnectionState {
	return broker.ConnectionState(l.state.Load())
}

// Retries returns the number of consecutive failed reconnect attempts.
func (l *Listener) Retries() int {
	return int(l.retries.Load())
}

func (l *Listener) setState(s broker.ConnectionState) {
	l.state.Store(int32(s))
	l.rec.RecordStreamStatus(s == broker.StateConnected)
}

// Reports connects and streams execution reports until ctx is done or
// reconnecting gives up. The first connection attempt is synchronous.
func (l *Listener) Reports(ctx context.Context) (<-chan broker.ExecutionReport, error) {
	l.setState(broker.StateConnecting)
	conn, err := l.dial(ctx)
	if err != nil {
		l.setState(broker.StateError)
		return nil, err
	}
	l.setState(broker.StateConnected)
	l.logger.Info("stream connected", "url", l.cfg.URL)

	ch := make(chan broker.ExecutionReport, l.cfg.Buffer)
	go l.run(ctx, conn, ch)
	return ch, nil
}

func (l *Listener) dial(ctx context.Context) (*websocket.Conn, error) {
	if l.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.ConnectTimeout)
		defer cancel()
	}

	conn, _, err := l.dialer.DialContext(ctx, l.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", l.cfg.URL, err)
	}
	return conn, nil
}

func (l *Listener) run(ctx context.Context, conn *websocket.Conn, ch chan<- broker.ExecutionReport) {
	defer close(ch)

	bo := newBackOff(l.cfg)
	for {
		err := l.read(ctx, conn, ch)
		if ctx.Err() != nil {
			l.setState(broker.StateDisconnected)
			l.logger.Info("stream closed")
			return
		}

		l.logger.Warn("stream disconnected", "err", err)
		l.setState(broker.StateConnecting)

		conn, err = l.reconnect(ctx, bo)
		if err != nil {
			if ctx.Err() != nil {
				l.setState(broker.StateDisconnected)
				return
			}
			l.setState(broker.StateError)
			l.logger.Error("stream reconnect failed", "err", err)
			return
		}
		l.setState(broker.StateConnected)
		l.logger.Info("stream reconnected")
	}
}

// read pumps frames from conn until it fails or ctx is done.
func (l *Listener) read(ctx context.Context, conn *websocket.Conn, ch chan<- broker.ExecutionReport) error {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if l.cfg.PingInterval > 0 {
		idle := l.cfg.PingInterval + l.cfg.PongTimeout
		conn.SetReadDeadline(time.Now().Add(idle))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(idle))
		})
		go l.ping(conn, done)
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if l.cfg.PingInterval > 0 {
			conn.SetReadDeadline(time.Now().Add(l.cfg.PingInterval + l.cfg.PongTimeout))
		}

		rep, ok, err := Decode(frame)
		if err != nil {
			l.logger.Warn("dropping malformed frame", "err", err)
			l.rec.RecordError("stream_decode")
			continue
		}
		if !ok {
			continue
		}

		select {
		case ch <- rep:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Listener) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(l.cfg.PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				l.logger.Debug("ping failed", "err", err)
				return
			}
		}
	}
}

// newBackOff builds the reconnect schedule: InitialDelay doubling up to
// MaxDelay, without jitter.
func newBackOff(cfg Config) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()
	return bo
}

// reconnect dials until it succeeds, ctx is done or MaxRetries is exceeded.
// A successful dial resets bo.
func (l *Listener) reconnect(ctx context.Context, bo *backoff.ExponentialBackOff) (*websocket.Conn, error) {
	for {
		attempt := int(l.retries.Add(1))
		if l.cfg.MaxRetries > 0 && attempt > l.cfg.MaxRetries {
			return nil, fmt.Errorf("%w (%d)", ErrMaxRetries, l.cfg.MaxRetries)
		}
		delay := bo.NextBackOff()
		l.rec.RecordStreamReconnect()
		l.logger.Info("reconnecting", "delay", delay, "attempt", attempt)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		conn, err := l.dial(ctx)
		if err == nil {
			l.retries.Store(0)
			bo.Reset()
			return conn, nil
		}
		l.logger.Warn("reconnect failed", "attempt", attempt, "err", err)
	}
}

var _ broker.ReportSource = (*Listener)(nil)
