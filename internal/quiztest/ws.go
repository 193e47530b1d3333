package quiztest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"quiz-sync-client/internal/domain"
	"quiz-sync-client/internal/protocol"
)

// ServeWS upgrades a push connection and relays the session's broadcasts to it.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID, userID := q.Get("sessionId"), q.Get("token")
	if sessionID == "" || userID == "" {
		http.Error(w, "missing sessionId or token", http.StatusBadRequest)
		return
	}
	sess, ok := s.session(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	// Subscribe first so nothing broadcast after the client sees the
	// handshake complete is lost.
	frames, cancel := sess.subscribe()
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	direct := make(chan []byte, 4)
	readerDone := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		defer conn.Close()
		for {
			var frame []byte
			select {
			case f, ok := <-frames:
				if !ok {
					return
				}
				frame = f
			case f := <-direct:
				frame = f
			case <-readerDone:
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Msg("ws write failed")
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.reply(direct, sessionID, protocol.TypeError, protocol.ServerError{Message: "invalid message"})
			continue
		}
		switch env.Type {
		case protocol.TypeAnswerSubmit:
			var sub domain.AnswerSubmission
			if err := json.Unmarshal(env.Data, &sub); err != nil {
				s.reply(direct, sessionID, protocol.TypeError, protocol.ServerError{Message: "invalid answer payload"})
				continue
			}
			sess.pushAnswer(userID, sub)
		case protocol.TypeJoinSession, protocol.TypePong:
		case protocol.TypePing:
			s.reply(direct, sessionID, protocol.TypePong, nil)
		default:
			s.reply(direct, sessionID, protocol.TypeError, protocol.ServerError{Message: "unsupported message type"})
		}
	}

	close(readerDone)
	<-writerDone
}

func (s *Server) reply(direct chan<- []byte, sessionID string, t protocol.Type, data any) {
	frame, err := protocol.Encode(t, sessionID, data, s.now())
	if err != nil {
		return
	}
	select {
	case direct <- frame:
	default:
	}
}
