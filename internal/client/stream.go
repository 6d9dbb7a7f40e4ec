package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"swap-escrow/internal/domain"
)

// StreamConfig configures the event stream client.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    500 * time.Millisecond,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Stream receives swap events over a websocket and reconnects on failure.
// Events published while disconnected are not replayed, and an event may
// arrive more than once; de-duplicate on SwapEvent.DedupKey.
type Stream struct {
	url    string
	config StreamConfig

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	events     chan *domain.SwapEvent
	reconnects atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

// StreamURL builds the websocket URL of the event stream at endpoint.
func StreamURL(endpoint string, party domain.Identity) (string, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/v1/events/stream"
	if party != "" {
		u.RawQuery = url.Values{"party": {string(party)}}.Encode()
	}
	return u.String(), nil
}

// Subscribe connects to the event stream of endpoint, optionally filtered
// to events involving party. The first dial must succeed.
func Subscribe(ctx context.Context, endpoint string, party domain.Identity, config *StreamConfig) (*Stream, error) {
	wsURL, err := StreamURL(endpoint, party)
	if err != nil {
		return nil, err
	}

	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}

	s := &Stream{
		url:    wsURL,
		config: cfg,
		events: make(chan *domain.SwapEvent, 256),
		done:   make(chan struct{}),
	}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

// Events returns the channel events are delivered on. It is closed by Close.
func (s *Stream) Events() <-chan *domain.SwapEvent {
	return s.events
}

// Reconnects returns how many times the stream reconnected.
func (s *Stream) Reconnects() int64 {
	return s.reconnects.Load()
}

// Close closes the connection and the events channel.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.events)
	return nil
}

func (s *Stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetPingHandler(func(data string) error {
		s.connMu.Lock()
		defer s.connMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.config.WriteTimeout))
	})

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	return nil
}

// readLoop reads events and reconnects with exponential backoff on error.
func (s *Stream) readLoop() {
	defer s.wg.Done()

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || !s.reconnect() {
				return
			}
			continue
		}

		var e domain.SwapEvent
		if err := json.Unmarshal(message, &e); err != nil || !e.Kind.IsValid() {
			continue
		}
		select {
		case s.events <- &e:
		case <-s.done:
			return
		}
	}
}

// reconnect dials until it succeeds or the stream is closed.
func (s *Stream) reconnect() bool {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()

	delay := s.config.ReconnectDelay
	for {
		select {
		case <-s.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.connect(ctx)
		cancel()
		if err == nil {
			if s.closed.Load() {
				s.connMu.Lock()
				s.conn.Close()
				s.connMu.Unlock()
				return false
			}
			s.reconnects.Add(1)
			return true
		}

		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (s *Stream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				// A failed ping surfaces as a read error; readLoop reconnects.
				_ = s.conn.WriteMessage(websocket.PingMessage, nil)
			}
			s.connMu.Unlock()
		}
	}
}
