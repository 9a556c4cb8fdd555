package chatapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// maxFrameBytes bounds one inbound WebSocket frame.
const maxFrameBytes = 64 << 10

//nolint:gochecknoglobals // shared upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsReply is a ChatResponse with the HTTP status the same turn would have
// received.
type wsReply struct {
	ChatResponse
	Code int `json:"code"`
}

// handleWebSocket serves one chat connection. Each text frame is a
// ChatRequest and gets exactly one reply frame, in order. Frames are handled
// sequentially so a connection never races itself on a session.
func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return nil
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	ctx := c.Request().Context()
	client := clientKey(c)
	s.logger.Debug("🔌 websocket connected from %s", c.RealIP())
	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed: %v", err)
			}
			return nil
		}
		if kind != websocket.TextMessage {
			continue
		}

		var reply wsReply
		var req ChatRequest
		switch {
		case json.Unmarshal(frame, &req) != nil:
			reply = wsReply{ChatResponse: ChatResponse{Error: "invalid chat request frame"}, Code: http.StatusBadRequest}
		case s.limit != nil && s.limit.Allow(client) != nil:
			reply = wsReply{
				ChatResponse: ChatResponse{SessionID: req.SessionID, Error: "Too many messages. Please wait a moment and try again."},
				Code:         http.StatusTooManyRequests,
			}
		default:
			out, code := s.run(ctx, req)
			reply = wsReply{ChatResponse: out, Code: code}
		}
		if err := conn.WriteJSON(reply); err != nil {
			s.logger.Warn("websocket write failed: %v", err)
			return nil
		}
	}
}
