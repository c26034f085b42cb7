package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// WebSocketConfig configures the WebSocket transport.
type WebSocketConfig struct {
	URL string
	// Token is sent as a bearer token on the handshake.
	Token            string
	HandshakeTimeout time.Duration
	// MaxElapsed bounds dial retries. Zero means 15s.
	MaxElapsed time.Duration
	// Buffer is the event channel capacity. Zero means 256.
	Buffer int
	Logger *slog.Logger
}

// envelope is the text frame format: {"event": name, "data": <json>}.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WebSocket is a Transport over a gorilla/websocket connection. Text frames carry
// JSON envelopes; binary frames carry the event name, a NUL byte and the payload.
type WebSocket struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
	log    *slog.Logger
	events chan Event

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	stop    chan struct{}
	wg      sync.WaitGroup

	connected atomic.Bool
}

// NewWebSocket returns a disconnected transport.
func NewWebSocket(cfg WebSocketConfig) *WebSocket {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 15 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &WebSocket{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		log:    log.With("component", "transport", "kind", "websocket"),
		events: make(chan Event, cfg.Buffer),
	}
}

// Events returns the event channel.
func (w *WebSocket) Events() <-chan Event { return w.events }

// Connected reports whether a connection is established.
func (w *WebSocket) Connected() bool { return w.connected.Load() }

// Connect dials the robot with exponential backoff. It emits "connect" on success
// and "connect_error" when every attempt failed. Connecting twice is a no-op.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return nil
	}

	header := http.Header{}
	if w.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+w.cfg.Token)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = w.cfg.MaxElapsed

	var conn *websocket.Conn
	err := backoff.Retry(func() error {
		c, resp, err := w.dialer.DialContext(ctx, w.cfg.URL, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return backoff.Permanent(err)
			}
			w.log.Warn("dial failed", "url", w.cfg.URL, "error", err)
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		w.log.Error("connect failed", "url", w.cfg.URL, "error", err)
		send(ctx, w.events, Event{Name: EventConnectError, Data: errorPayload(err)})
		return fmt.Errorf("websocket connect: %w", err)
	}

	w.conn = conn
	w.stop = make(chan struct{})
	w.connected.Store(true)
	send(ctx, w.events, Event{Name: EventConnect})

	w.wg.Add(1)
	go w.readLoop(conn, w.stop)
	w.log.Info("connected", "url", w.cfg.URL)
	return nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn, stop chan struct{}) {
	defer w.wg.Done()
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			w.connected.Store(false)
			select {
			case <-stop:
				// closed locally
				return
			default:
			}
			w.log.Warn("connection lost, reconnect with POST /api/live/connect", "error", err)
			w.detach(conn)
			select {
			case w.events <- Event{Name: EventDisconnect, Data: errorPayload(err)}:
			case <-stop:
			}
			return
		}

		ev, err := decodeFrame(typ, data)
		if err != nil {
			w.log.Warn("dropping frame", "error", err)
			continue
		}
		select {
		case w.events <- ev:
		case <-stop:
			return
		}
	}
}

// detach forgets conn after a remote close so that Connect can dial again.
func (w *WebSocket) detach(conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == conn {
		w.conn.Close()
		w.conn = nil
	}
}

func decodeFrame(typ int, data []byte) (Event, error) {
	switch typ {
	case websocket.TextMessage:
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return Event{}, fmt.Errorf("bad envelope: %w", err)
		}
		if env.Event == "" {
			return Event{}, fmt.Errorf("envelope without event name")
		}
		return Event{Name: env.Event, Data: env.Data}, nil
	case websocket.BinaryMessage:
		name, payload, ok := bytes.Cut(data, []byte{0})
		if !ok || len(name) == 0 {
			return Event{}, fmt.Errorf("binary frame without event name")
		}
		return Event{Name: string(name), Data: payload, Binary: true}, nil
	}
	return Event{}, fmt.Errorf("unsupported message type %d", typ)
}

// Emit sends a named message. Byte slices go out as binary frames, everything
// else is JSON encoded into a text envelope.
func (w *WebSocket) Emit(name string, payload any) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil || !w.connected.Load() {
		return ErrNotConnected
	}

	typ, frame, err := encodeFrame(name, payload)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := conn.WriteMessage(typ, frame); err != nil {
		return fmt.Errorf("websocket emit %s: %w", name, err)
	}
	return nil
}

func encodeFrame(name string, payload any) (int, []byte, error) {
	if b, ok := payload.([]byte); ok {
		frame := make([]byte, 0, len(name)+1+len(b))
		frame = append(frame, name...)
		frame = append(frame, 0)
		return websocket.BinaryMessage, append(frame, b...), nil
	}
	env := envelope{Event: name}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode %s payload: %w", name, err)
		}
		env.Data = data
	}
	frame, err := json.Marshal(env)
	return websocket.TextMessage, frame, err
}

// Close shuts the connection down and waits for the reader to exit. When a
// connection was open, the events it left queued are replaced by a disconnect.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	conn, stop := w.conn, w.stop
	w.conn = nil
	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	w.mu.Unlock()
	w.connected.Store(false)

	var err error
	if conn != nil {
		w.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		w.writeMu.Unlock()
		err = conn.Close()
	}
	w.wg.Wait()
	if conn != nil {
		discardAndDisconnect(w.events)
	}
	return err
}

func errorPayload(err error) []byte {
	b, _ := json.Marshal(map[string]string{"message": err.Error()})
	return b
}
