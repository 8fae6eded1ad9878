package network

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	WebSocketWriteWait      = 10 * time.Second
	WebSocketMaxMessageSize = 1024 * 1024
)

// WebSocketLink is a Transport over one websocket connection. Text and binary
// frames are both delivered to subscribers as raw payloads; outgoing payloads
// are written as text frames unless Binary is set.
type WebSocketLink struct {
	*Dispatcher

	conn   *websocket.Conn
	binary bool
	logger zerolog.Logger

	writeMu   sync.Mutex
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketLink starts the read loop on conn.
func NewWebSocketLink(conn *websocket.Conn, binary bool, logger zerolog.Logger) *WebSocketLink {
	logger = logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	l := &WebSocketLink{
		Dispatcher: NewDispatcher(logger),
		conn:       conn,
		binary:     binary,
		logger:     logger,
		done:       make(chan struct{}),
	}
	conn.SetReadLimit(WebSocketMaxMessageSize)
	go l.readLoop()
	return l
}

// DialWebSocket connects to a websocket endpoint such as ws://host:port/ws.
func DialWebSocket(ctx context.Context, url string, binary bool, logger zerolog.Logger) (*WebSocketLink, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocketLink(conn, binary, logger), nil
}

// WebSocketHandler upgrades incoming HTTP requests and hands every new link to
// accept. The link is closed when accept returns, so accept usually blocks on
// link.Done().
func WebSocketHandler(binary bool, logger zerolog.Logger, accept func(*WebSocketLink)) http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		link := NewWebSocketLink(conn, binary, logger)
		defer link.Close()
		accept(link)
	})
}

func (l *WebSocketLink) Send(payload []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	frame := websocket.TextMessage
	if l.binary {
		frame = websocket.BinaryMessage
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteWait)); err != nil {
		return err
	}
	return l.conn.WriteMessage(frame, payload)
}

// Done is closed once the connection stops reading.
func (l *WebSocketLink) Done() <-chan struct{} {
	return l.done
}

func (l *WebSocketLink) Close() error {
	l.closeOnce.Do(func() {
		l.writeMu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(WebSocketWriteWait))
		l.writeMu.Unlock()
		l.closeErr = l.conn.Close()
		l.markDone()
	})
	return l.closeErr
}

func (l *WebSocketLink) markDone() {
	l.doneOnce.Do(func() { close(l.done) })
}

func (l *WebSocketLink) readLoop() {
	defer l.markDone()
	for {
		_, payload, err := l.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) || errors.Is(err, websocket.ErrCloseSent) {
				l.logger.Debug().Err(err).Msg("websocket closed")
			} else {
				l.logger.Debug().Err(err).Msg("websocket read stopped")
			}
			return
		}
		l.Dispatch(payload)
	}
}
