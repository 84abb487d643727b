// Package firehose decodes the binary repo-event subscription and owns the
// live websocket connection that delivers it.
package firehose

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Handler holds the two observer callbacks a Subscriber reports through.
// OnMessage is invoked once per decoded commit event; OnClose fires exactly
// once, after the read loop ends for any reason.
type Handler struct {
	OnMessage func(*CommitEvent)
	OnClose   func()
}

// Option configures a Subscriber before it dials.
type Option func(*Subscriber)

// WithLogger sets the subscriber's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Subscriber) { s.logger = logger }
}

// WithOpFilter sets a per-operation filter evaluated before payload
// extraction.
func WithOpFilter(filter OpFilter) Option {
	return func(s *Subscriber) { s.filter = filter }
}

// WithCursor requests replay from the given sequence number.
func WithCursor(seq int64) Option {
	return func(s *Subscriber) { s.cursor = seq }
}

// Subscriber owns one live subscription connection. Any transport or frame
// error is terminal for the connection; the only recovery path is a fresh
// Dial initiated by the owner from OnClose.
type Subscriber struct {
	url     string
	cursor  int64
	filter  OpFilter
	handler Handler
	logger  *slog.Logger

	conn      *websocket.Conn
	frames    atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the repo-event subscription at rawURL and starts reading
// frames. Decoded commit events are delivered to handler.OnMessage;
// housekeeping frames are dropped silently.
func Dial(ctx context.Context, rawURL string, handler Handler, opts ...Option) (*Subscriber, error) {
	s := &Subscriber{
		url:     rawURL,
		handler: handler,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	wsURL, err := s.buildURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial subscription: %w", err)
	}
	s.conn = conn

	s.logger.Info("connected to event stream", "url", wsURL)
	go s.readLoop()
	return s, nil
}

func (s *Subscriber) buildURL() (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("parse subscription url: %w", err)
	}
	if s.cursor > 0 {
		q := u.Query()
		q.Set("cursor", strconv.FormatInt(s.cursor, 10))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Frames returns the number of frames decoded so far on this connection.
func (s *Subscriber) Frames() int64 {
	return s.frames.Load()
}

// Close tears down the connection. It is idempotent and safe to call at any
// time; OnClose still fires exactly once via the read loop.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Subscriber) readLoop() {
	defer func() {
		_ = s.Close()
		if s.handler.OnClose != nil {
			s.handler.OnClose()
		}
	}()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Error("event stream read failed", "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		evt, err := DecodeFrame(data, s.filter)
		if err != nil {
			// fatal for this connection, per the frame contract
			s.logger.Error("event stream frame error", "error", err)
			return
		}
		s.frames.Add(1)

		if evt == nil {
			continue
		}
		if s.handler.OnMessage != nil {
			s.handler.OnMessage(evt)
		}
	}
}
