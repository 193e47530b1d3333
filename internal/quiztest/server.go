// Package quiztest runs an in-process quiz server for end-to-end tests of the
// client: the REST API under /api/v1 and the push channel at /ws.
package quiztest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-sync-client/internal/domain"
	"quiz-sync-client/internal/protocol"
	"quiz-sync-client/internal/transport/api"
)

// Server is a scripted quiz backend. Callers identify themselves with a bearer
// token (REST) or token query parameter (push); the token is the user id.
type Server struct {
	*httptest.Server

	now      func() time.Time
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session
	bank     []domain.Question
}

// NewServer starts a server that serves questions from bank in order. It is
// closed when the test ends.
func NewServer(t testing.TB, bank ...domain.Question) *Server {
	t.Helper()
	s := &Server{
		now:      time.Now,
		sessions: make(map[string]*session),
		bank:     bank,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/sessions/{id}/info", s.withSession(s.handleInfo))
	mux.HandleFunc("GET /api/v1/sessions/{id}/status", s.withSession(s.handleStatus))
	mux.HandleFunc("POST /api/v1/sessions/{id}/join", s.withSession(s.handleJoin))
	mux.HandleFunc("GET /api/v1/sessions/{id}/participants", s.withSession(s.handleParticipants))
	mux.HandleFunc("GET /api/v1/sessions/{id}/current-question", s.withSession(s.handleCurrentQuestion))
	mux.HandleFunc("POST /api/v1/sessions/{id}/answers", s.withSession(s.handleAnswer))
	mux.HandleFunc("PUT /api/v1/admin/sessions/{id}/control", s.withSession(s.handleControl))
	mux.HandleFunc("POST /api/v1/admin/sessions/{id}/generate-question", s.withSession(s.handleGenerate))
	mux.HandleFunc("POST /api/v1/admin/sessions/{id}/next-round", s.withSession(s.handleNextRound))
	mux.HandleFunc("POST /api/v1/admin/sessions/{id}/revival", s.withSession(s.handleRevival))
	mux.HandleFunc("/ws", s.ServeWS)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// WSURL is the push endpoint.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// CreateSession registers a session in the waiting phase unless info says otherwise.
func (s *Server) CreateSession(info domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[info.ID] = newSession(info, s.now)
}

func (s *Server) session(id string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Broadcast pushes an arbitrary event to every connection of a session.
func (s *Server) Broadcast(sessionID string, t protocol.Type, data any) {
	if sess, ok := s.session(sessionID); ok {
		sess.broadcast(t, data)
	}
}

// DropConnections closes every push connection of a session.
func (s *Server) DropConnections(sessionID string) {
	if sess, ok := s.session(sessionID); ok {
		sess.dropSubscribers()
	}
}

// ExpireRevival ends the open revival round as if its timer ran out.
func (s *Server) ExpireRevival(sessionID string) error {
	sess, ok := s.session(sessionID)
	if !ok {
		return errors.New("unknown session")
	}
	return sess.expireRevival()
}

// AnswerCounts reports how many submissions arrived over each path.
func (s *Server) AnswerCounts(sessionID string) (rest, push int) {
	if sess, ok := s.session(sessionID); ok {
		return sess.counts()
	}
	return 0, 0
}

// Participant returns the server's record of a user.
func (s *Server) Participant(sessionID, userID string) (domain.Participant, bool) {
	if sess, ok := s.session(sessionID); ok {
		return sess.participant(userID)
	}
	return domain.Participant{}, false
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session)

func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.session(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found")
			return
		}
		h(w, r, sess)
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request, sess *session) {
	writeOK(w, sess.snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, sess *session) {
	info := sess.snapshot()
	active := 0
	for _, p := range sess.roster() {
		if p.Status.InPlay() {
			active++
		}
	}
	writeOK(w, api.SessionStatus{
		SessionID:       info.ID,
		Status:          string(info.Phase),
		CurrentRound:    info.CurrentRound,
		ActiveCount:     active,
		MaxParticipants: info.MaxParticipants,
		TimeLimit:       info.Settings.AnswerTimeLimitSeconds,
		RevivalEnabled:  info.Settings.RevivalEnabled,
	})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, sess *session) {
	userID := bearer(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing token")
		return
	}
	var body struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "displayName is required")
		return
	}
	p := sess.join(userID, body.DisplayName)
	writeOK(w, api.JoinResult{
		ParticipantID: "p-" + userID,
		UserID:        userID,
		SessionID:     r.PathValue("id"),
		DisplayName:   p.DisplayName,
		Status:        string(p.Status),
		JoinedAt:      p.JoinedAt,
	})
}

func (s *Server) handleParticipants(w http.ResponseWriter, _ *http.Request, sess *session) {
	writeOK(w, sess.roster())
}

func (s *Server) handleCurrentQuestion(w http.ResponseWriter, _ *http.Request, sess *session) {
	q, ok := sess.currentQuestion()
	if !ok {
		writeError(w, http.StatusNotFound, "NO_ACTIVE_QUESTION", errNoQuestion.Error())
		return
	}
	writeOK(w, q)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request, sess *session) {
	var sub domain.AnswerSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid answer payload")
		return
	}
	out, err := sess.answer(bearer(r), sub)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, out)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request, sess *session) {
	var body struct {
		Action api.ControlAction `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid control payload")
		return
	}
	switch body.Action {
	case api.ActionStart:
		sess.setPhase(domain.PhaseActive)
	case api.ActionFinish:
		sess.setPhase(domain.PhaseFinished)
	default:
		writeError(w, http.StatusBadRequest, "INVALID_ACTION", "unknown action")
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleGenerate(w http.ResponseWriter, _ *http.Request, sess *session) {
	q, err := sess.openQuestion(s.bank)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, q)
}

func (s *Server) handleNextRound(w http.ResponseWriter, _ *http.Request, sess *session) {
	if _, err := sess.closeRound(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleRevival(w http.ResponseWriter, r *http.Request, sess *session) {
	var body struct {
		Count int `json:"count"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid revival payload")
			return
		}
	}
	if err := sess.openRevival(s.bank, body.Count); err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, nil)
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *api.Error `json:"error,omitempty"`
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Error: &api.Error{Code: code, Message: message}})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errDuplicate):
		writeError(w, http.StatusConflict, "ALREADY_ANSWERED", err.Error())
	case errors.Is(err, errNotParticipant), errors.Is(err, errNotCandidate):
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, errBadPhase), errors.Is(err, errNoCandidates), errors.Is(err, errNoQuestion), errors.Is(err, errWrongQuestion):
		writeError(w, http.StatusConflict, "INVALID_STATE", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
