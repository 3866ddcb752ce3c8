package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/lore/pkg/rag"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon sits behind the operator's own ingress; origin policy
	// belongs there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is the frame exchanged on /ws. Client frames carry type
// "chat" with the query; server frames use status, stream, done and
// error.
type wsMessage struct {
	Type           string `json:"type"`
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendFrame(conn, wsMessage{Type: "error", Content: "invalid message"})
			continue
		}
		if msg.Type != "chat" || msg.Content == "" {
			s.sendFrame(conn, wsMessage{Type: "error", Content: "expected a chat message"})
			continue
		}

		s.streamAnswer(conn, r, msg)
	}
}

func (s *Server) streamAnswer(conn *websocket.Conn, r *http.Request, msg wsMessage) {
	s.sendFrame(conn, wsMessage{Type: "status", Content: "thinking"})

	fragments, _, err := s.deps.RAG.AnswerStream(r.Context(), rag.Request{
		Query:          msg.Content,
		ConversationID: msg.ConversationID,
	})
	if err != nil {
		s.sendFrame(conn, wsMessage{Type: "error", Content: err.Error()})
		return
	}

	for f := range fragments {
		if f.Err != nil {
			s.sendFrame(conn, wsMessage{Type: "error", Content: f.Err.Error()})
			return
		}
		s.sendFrame(conn, wsMessage{Type: "stream", Content: f.Content})
	}
	s.sendFrame(conn, wsMessage{Type: "done"})
}

func (s *Server) sendFrame(conn *websocket.Conn, msg wsMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debug("websocket write failed", zap.Error(err))
	}
}
