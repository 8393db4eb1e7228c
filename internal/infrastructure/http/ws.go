package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/usecases"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingEvery  = 30 * time.Second
	wsMaxMessage = maxChatBody
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// wsEnvelope is one outward frame.
type wsEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// wsSink queues events for the connection's single writer goroutine.
type wsSink struct {
	ctx     context.Context
	writeCh chan<- wsEnvelope
}

// Send implements ports.EventSink.
func (s wsSink) Send(event string, data any) error {
	select {
	case s.writeCh <- wsEnvelope{Event: event, Data: data}:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// handleChatWS serves a socket on which each client text frame is one chat
// request. Requests are handled one at a time, in arrival order.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(wsMaxMessage)
	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		s.log.Warn("ws set read deadline failed", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	writeCh := make(chan wsEnvelope, 64)
	inbound := make(chan []byte, 16)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		// Closing unblocks the reader once the writer gives up.
		defer conn.Close()
		defer cancel()
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sink := wsSink{ctx: ctx, writeCh: writeCh}
		for {
			select {
			case <-ctx.Done():
				return
			case data := <-inbound:
				s.serveWSRequest(ctx, sink, data)
			}
		}
	}()

	// Reading here keeps pong handling alive while a request streams.
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("ws read failed", zap.Error(err))
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case inbound <- data:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	cancel()
	wg.Wait()
}

func (s *Server) serveWSRequest(ctx context.Context, sink wsSink, data []byte) {
	var req entities.ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		_ = sink.Send(entities.EventError, entities.ErrorEvent{Content: "Mensaje inválido.", Error: "invalid_request"})
		return
	}
	err := s.deps.Chat.HandleMessage(ctx, req, sink)
	switch {
	case err == nil:
	case errors.Is(err, usecases.ErrInvalidRequest):
		_ = sink.Send(entities.EventError, entities.ErrorEvent{Content: err.Error(), Error: "invalid_request"})
	default:
		s.log.Warn("ws chat request failed", zap.String("session_id", req.SessionID), zap.Error(err))
	}
}
