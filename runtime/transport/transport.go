// Package transport implements C10: the HTTP session bootstrap (§6.2) and
// the transport-agnostic streaming channel (§6.1), routed with
// github.com/go-chi/chi/v5 and upgraded per-connection with
// github.com/gorilla/websocket. The channel framing itself (one JSON object
// per message, in order, delivered once per connected socket) is the only
// contract the core cares about — reconnection semantics are this
// package's concern, not the supervisor's.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/estatecopilot/runtime/runtime/bus"
	"github.com/estatecopilot/runtime/runtime/memory"
	"github.com/estatecopilot/runtime/runtime/session"
	"github.com/estatecopilot/runtime/runtime/supervisor"
	"github.com/estatecopilot/runtime/runtime/team"
	"github.com/estatecopilot/runtime/runtime/telemetry"
)

// Server wires the session bootstrap + streaming channel to a Supervisor.
type Server struct {
	sessions   session.Store
	messages   memory.MessageStore
	supervisor *supervisor.Supervisor
	sessionTTL time.Duration
	logger     telemetry.Logger
	upgrader   websocket.Upgrader
}

// New constructs a Server. sessionTTL bounds every bootstrapped session's
// ExpiresAt (§6.2 POST /start), which in turn bounds how long a HITL
// interrupt on that session may block (§7 HITLExpired).
func New(sessions session.Store, messages memory.MessageStore, sup *supervisor.Supervisor, sessionTTL time.Duration, logger telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Server{
		sessions:   sessions,
		messages:   messages,
		supervisor: sup,
		sessionTTL: sessionTTL,
		logger:     logger,
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// Routes returns the HTTP handler exposing §6.2's auxiliary endpoints plus
// the streaming channel's WebSocket upgrade route.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/start", s.handleStart)
	r.Get("/{session_id}", s.handleGetSession)
	r.Delete("/{session_id}", s.handleDeleteSession)
	r.Get("/sessions/{session_id}/messages", s.handleListMessages)
	r.Get("/sessions/{session_id}/stream", s.handleStream)
	return r
}

type startResponse struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleStart implements §6.2 `POST /start`.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	now := time.Now()
	sess, err := s.sessions.CreateSession(r.Context(), uuid.NewString(), body.UserID, now, now.Add(s.sessionTTL))
	if err != nil {
		s.logger.Error(r.Context(), "transport: create session failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	writeJSON(w, http.StatusOK, startResponse{SessionID: sess.ID, CreatedAt: sess.CreatedAt, ExpiresAt: sess.ExpiresAt})
}

// handleGetSession implements §6.2 `GET /{session_id}`.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	sess, err := s.sessions.LoadSession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleDeleteSession implements §6.2 `DELETE /{session_id}`.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if _, err := s.sessions.EndSession(r.Context(), id, time.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, "could not end session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleListMessages implements §6.2 `GET /sessions/{session_id}/messages`.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := s.messages.LoadMessages(r.Context(), id, limit)
	if err != nil {
		s.logger.Error(r.Context(), "transport: load messages failed", "session_id", id, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "could not load messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// inboundMessage is the union of §6.1's two inbound message shapes.
type inboundMessage struct {
	Type                string `json:"type"`
	Query               string `json:"query,omitempty"`
	EnableCheckpointing *bool  `json:"enable_checkpointing,omitempty"`
	Action              string `json:"action,omitempty"`
	Feedback            string `json:"feedback,omitempty"`
	Modifications       string `json:"modifications,omitempty"`
}

// wireMessage is one outbound frame: the event type and timestamp, plus the
// event's own fields flattened alongside them (§6.1's outbound table lists
// fields per type, not a nested "payload" object).
type wireMessage map[string]any

// handleStream implements §6.1's streaming channel over a WebSocket upgrade.
// One socket serves exactly one session; a "query" message starts a run in
// its own goroutine so the read loop keeps servicing "interrupt_response"
// messages while that run is blocked inside a HITL wait.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "transport: websocket upgrade failed", "session_id", sessionID, "error", err.Error())
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(msg wireMessage) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Warn(r.Context(), "transport: websocket write failed", "session_id", sessionID, "error", err.Error())
		}
	}

	send(wireMessage{"type": "connected", "session_id": sessionID, "timestamp": time.Now().UTC()})

	var requestSeq int64
	var wg sync.WaitGroup
	for {
		var in inboundMessage
		if err := conn.ReadJSON(&in); err != nil {
			break
		}

		switch in.Type {
		case "query":
			requestSeq++
			seq := requestSeq
			enableCheckpointing := true
			if in.EnableCheckpointing != nil {
				enableCheckpointing = *in.EnableCheckpointing
			}
			query := in.Query
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.runQuery(sessionID, query, seq, enableCheckpointing, send)
			}()
		case "interrupt_response":
			resp := team.InterruptResponse{Action: team.InterruptAction(in.Action), Feedback: in.Feedback}
			if resp.Feedback == "" {
				resp.Feedback = in.Modifications
			}
			if err := s.supervisor.ResumeInterrupt(sessionID, resp); err != nil {
				s.logger.Warn(r.Context(), "transport: resume interrupt failed", "session_id", sessionID, "error", err.Error())
			}
		}
	}
	wg.Wait()
}

// runQuery loads the session, drives one ProcessQuery run to completion,
// and streams every progress event out over send as it is emitted. It owns
// its own background context since the originating HTTP request's context
// is cancelled once the goroutine that spawned it returns to the read loop.
func (s *Server) runQuery(sessionID, query string, requestSeq int64, enableCheckpointing bool, send func(wireMessage)) {
	ctx := context.Background()

	sess, err := s.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		send(wireMessage{"type": "error", "timestamp": time.Now().UTC(), "message": "session not found or expired"})
		return
	}

	callback := func(_ context.Context, event bus.Event) error {
		send(toWireMessage(event))
		return nil
	}

	if _, err := s.supervisor.ProcessQuery(ctx, sess, query, requestSeq, enableCheckpointing, callback); err != nil {
		s.logger.Error(ctx, "transport: process query failed", "session_id", sessionID, "error", err.Error())
		send(wireMessage{"type": "error", "timestamp": time.Now().UTC(), "message": err.Error()})
	}
}

func toWireMessage(event bus.Event) wireMessage {
	msg := wireMessage{"type": string(event.Type), "timestamp": event.Timestamp.UTC()}
	for k, v := range event.Payload {
		msg[k] = v
	}
	return msg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
