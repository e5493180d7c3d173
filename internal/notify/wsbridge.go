package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/accesspath/tracking/internal/model"
)

const (
	sendChSize   = 256
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
)

// wsMessage is the envelope pushed to the UI.
type wsMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// WSBridge streams engine events to the UI layer over a WebSocket with a
// single write goroutine. It implements Notifier: prompts the engine cannot
// show in-process are pushed to whatever UI is listening. Writes never
// block the engine; the send buffer drops when full.
type WSBridge struct {
	mu     sync.Mutex
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{}
	closed bool

	wsURL  string
	secret string

	// Cached hello message for reconnect replay.
	cachedHello []byte

	logger *slog.Logger
}

// NewWSBridge creates an unconnected bridge.
func NewWSBridge(logger *slog.Logger) *WSBridge {
	return &WSBridge{
		sendCh: make(chan []byte, sendChSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Dial connects to the UI WebSocket endpoint and starts the write loop.
func (b *WSBridge) Dial(rawURL, secret string) error {
	b.wsURL = rawURL
	b.secret = secret

	hello, _ := json.Marshal(wsMessage{Type: "hello"})
	b.mu.Lock()
	b.cachedHello = hello
	b.mu.Unlock()

	conn, err := b.dialOnce()
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	b.send(hello)
	go b.writeLoop()
	return nil
}

func (b *WSBridge) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(b.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", b.secret)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// Notify pushes a validation prompt to the UI.
func (b *WSBridge) Notify(req model.ValidationRequest) error {
	return b.publish("validation.prompt", req)
}

// PublishState pushes a tracking state snapshot to the UI.
func (b *WSBridge) PublishState(state model.TrackingState) error {
	return b.publish("tracking.state", state)
}

func (b *WSBridge) publish(msgType string, payload interface{}) error {
	data, err := json.Marshal(wsMessage{Type: msgType, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msgType, err)
	}
	b.send(data)
	return nil
}

// writeLoop drains sendCh and writes messages to the WebSocket.
// Only one writeLoop runs at a time; it returns on error or shutdown.
func (b *WSBridge) writeLoop() {
	for {
		select {
		case <-b.done:
			return
		case data := <-b.sendCh:
			b.mu.Lock()
			conn := b.conn
			b.mu.Unlock()

			if conn == nil {
				continue
			}

			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				b.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				go b.reconnect()
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				b.logger.Warn("WebSocket write error", "error", err)
				go b.reconnect()
				return
			}
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. On
// success it replays the hello message and restarts the write loop.
func (b *WSBridge) reconnect() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	b.mu.Unlock()

	backoff := time.Second
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-b.done:
			return
		default:
		}

		b.logger.Info("Reconnecting to UI WebSocket", "attempt", attempt, "backoff", backoff)
		time.Sleep(backoff)

		conn, err := b.dialOnce()
		if err != nil {
			b.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		b.mu.Lock()
		b.conn = conn
		cached := b.cachedHello
		b.mu.Unlock()

		if cached != nil {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
				_ = conn.WriteMessage(ws.TextMessage, cached)
			}
		}

		b.logger.Info("UI WebSocket reconnected", "attempt", attempt)
		go b.writeLoop()
		return
	}

	b.logger.Error("UI WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// send pushes data to the write loop. Non-blocking; drops if channel full.
func (b *WSBridge) send(data []byte) {
	select {
	case b.sendCh <- data:
	default:
		b.logger.Warn("UI WebSocket send channel full, dropping message")
	}
}

// Close sends a close frame and shuts down the write loop.
func (b *WSBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		)
		return conn.Close()
	}
	return nil
}
