package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ahrav/sonolive/internal/domain/discovery"
)

// wsTransport adapts a websocket to connections.Transport. Only the
// connection's writer calls WriteMessage; pings go through WriteControl,
// which gorilla allows concurrently.
type wsTransport struct {
	ws        *websocket.Conn
	writeWait time.Duration
	closeOnce sync.Once
}

func (t *wsTransport) WriteMessage(data []byte) error {
	if err := t.ws.SetWriteDeadline(time.Now().Add(t.writeWait)); err != nil {
		return err
	}
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) ping() error {
	return t.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeWait))
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		_ = t.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(t.writeWait))
		err = t.ws.Close()
	})
	return err
}

// ServeWebsocket attaches an upgraded websocket for principal and reads
// commands from it until the peer goes away or ctx ends. It blocks for the
// life of the connection.
func (s *Service) ServeWebsocket(ctx context.Context, ws *websocket.Conn, principal discovery.Principal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	transport := &wsTransport{ws: ws, writeWait: s.cfg.WriteWait}
	conn := s.NewConnection(uuid.New().String(), principal, transport)

	ws.SetReadLimit(s.cfg.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	if err := s.Subscribe(ctx, conn); err != nil {
		return err
	}
	defer s.Unsubscribe(context.WithoutCancel(ctx), conn.ID)

	go s.keepalive(ctx, conn.Done(), transport)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				s.logger.Warn(ctx, "observer read failed", "connection_id", conn.ID, "error", err)
			}
			return nil
		}
		// Rejections are delivered to the observer; nothing else to do here.
		_ = s.Forward(ctx, conn, data)
	}
}

func (s *Service) keepalive(ctx context.Context, done <-chan struct{}, t *wsTransport) {
	ticker := time.NewTicker(s.cfg.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := t.ping(); err != nil {
				s.logger.Debug(ctx, "ping failed", "error", err)
				return
			}
		}
	}
}
