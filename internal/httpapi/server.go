package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/giuliaferri/doctalk/internal/config"
	"github.com/giuliaferri/doctalk/internal/dialogue"
	"github.com/giuliaferri/doctalk/internal/observability"
	"github.com/giuliaferri/doctalk/internal/protocol"
	"github.com/giuliaferri/doctalk/internal/session"
)

// Orchestrator drives the turn loop for one websocket connection.
type Orchestrator interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	dialogue     dialogue.Service
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, orchestrator Orchestrator, dlg dialogue.Service, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		dialogue:     dlg,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other websites cannot drive the user's mic
				// session if the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/consult/session", s.handleCreateSession)
	r.Post("/v1/consult/session/{id}/end", s.handleEndSession)
	r.Get("/v1/consult/session/ws", s.handleSessionWS)
	r.Post("/v1/consult/session/{id}/summary", s.handleSummary)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"voice_provider":  s.cfg.VoiceProvider,
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	opts := session.Options{
		Continuous:      s.cfg.ContinuousMode,
		SilenceTimeout:  s.cfg.SilenceTimeout,
		PostSpeechDelay: s.cfg.PostSpeechDelay,
		Muted:           s.cfg.MuteDefault,
	}
	if req.Continuous != nil {
		opts.Continuous = *req.Continuous
	}
	if req.Muted != nil {
		opts.Muted = *req.Muted
	}
	if req.SilenceTimeoutMS != 0 {
		opts.SilenceTimeout = time.Duration(req.SilenceTimeoutMS) * time.Millisecond
	}
	if req.PostSpeechMS != 0 {
		opts.PostSpeechDelay = time.Duration(req.PostSpeechMS) * time.Millisecond
	}
	if opts.SilenceTimeout < 500*time.Millisecond {
		respondError(w, http.StatusBadRequest, "invalid_silence_timeout", "silence_timeout_ms must be at least 500")
		return
	}
	if opts.PostSpeechDelay < 0 {
		respondError(w, http.StatusBadRequest, "invalid_post_speech_delay", "post_speech_delay_ms must not be negative")
		return
	}

	sess := s.sessions.Create(req.UserID, opts)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:        sess.ID,
		UserID:           sess.UserID,
		Status:           sess.Status,
		Continuous:       sess.Options.Continuous,
		SilenceTimeoutMS: sess.Options.SilenceTimeout.Milliseconds(),
		PostSpeechMS:     sess.Options.PostSpeechDelay.Milliseconds(),
		Muted:            sess.Muted,
		StartedAt:        sess.StartedAt,
		LastActivityAt:   sess.LastActivityAt,
		InactivityTTLMS:  s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	respondJSON(w, http.StatusOK, sess)
}

// handleSummary condenses the session transcript into a short consultation
// summary. Works for active and ended sessions alike; an empty transcript
// still yields a summary.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	exchanges, err := s.sessions.Transcript(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	history := make([]dialogue.Message, 0, len(exchanges)*2)
	for _, ex := range exchanges {
		history = append(history,
			dialogue.Message{Role: dialogue.RoleUser, Content: ex.User},
			dialogue.Message{Role: dialogue.RoleAssistant, Content: ex.Assistant},
		)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.DialogueTimeout)
	defer cancel()
	summary, err := s.dialogue.Summarize(ctx, history)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ProviderErrors.WithLabelValues("dialogue", "summary_failed").Inc()
		}
		respondError(w, http.StatusBadGateway, "summary_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"exchanges":  len(exchanges),
		"summary":    summary,
	})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusConflict, "session_ended", "session is no longer active")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.orchestrator.RunConnection(ctx, sess, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok && s.metrics != nil {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if the
				// outbound queue is saturated.
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok && s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ClientEmotion:
		return m.Type, true
	case protocol.StateEvent:
		return m.Type, true
	case protocol.TranscriptEvent:
		return m.Type, true
	case protocol.ReplyEvent:
		return m.Type, true
	case protocol.AssistantAudio:
		return m.Type, true
	case protocol.PlaybackEvent:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
