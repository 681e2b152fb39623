// Package gateway hosts the HTTP surface of neurald: the executor WebSocket
// endpoint, the controller REST API, and the metrics/health endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/NeuralLift/browser-ai-integrations/pkg/bus"
	"github.com/NeuralLift/browser-ai-integrations/pkg/logging"
	"github.com/NeuralLift/browser-ai-integrations/pkg/memory"
	"github.com/NeuralLift/browser-ai-integrations/pkg/observability"
	"github.com/NeuralLift/browser-ai-integrations/pkg/protocol"
	"github.com/NeuralLift/browser-ai-integrations/pkg/session"
)

const maxActionBodyBytes = 64 << 10

// Config controls the gateway behavior.
type Config struct {
	BindAddress     string
	MaxSessions     int
	MaxMessageBytes int64
	InboundRate     float64
	InboundBurst    int
	Session         session.Config
}

// Server hosts the WebSocket endpoint executors dial and the JSON/HTTP API
// controllers drive sessions through.
type Server struct {
	cfg        Config
	registry   *session.Registry
	notes      *memory.Store
	events     bus.Bus
	log        *logging.Logger
	limiter    *connLimiter
	httpServer *http.Server
}

// NewServer constructs a gateway around the given session registry.
func NewServer(cfg Config, registry *session.Registry, notes *memory.Store, events bus.Bus, log *logging.Logger) *Server {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1:8750"
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1 << 20
	}
	if cfg.InboundRate <= 0 {
		cfg.InboundRate = 100
	}
	if cfg.InboundBurst <= 0 {
		cfg.InboundBurst = 200
	}
	if log == nil {
		log = logging.Discard()
	}
	s := &Server{
		cfg:      cfg,
		registry: registry,
		notes:    notes,
		events:   events,
		log:      log,
		limiter:  newConnLimiter(cfg.MaxSessions),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.BindAddress,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	router := chi.NewRouter()
	router.Get("/healthz", s.handleHealthz)
	router.Get("/metrics", promhttp.Handler().ServeHTTP)
	router.Get("/ws", s.handleExecutorWS)

	router.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Get("/{sessionID}", s.handleGetSession)
		r.Delete("/{sessionID}", s.handleCloseSession)
		r.Post("/{sessionID}/snapshot", s.handleSnapshot)
		r.Post("/{sessionID}/actions", s.handleDispatchAction)
		r.Post("/{sessionID}/cancel", s.handleCancelAction)
		r.Post("/{sessionID}/reset", s.handleResetSession)
	})

	router.Route("/api/memory", func(r chi.Router) {
		r.Get("/", s.handleListNotes)
		r.Post("/", s.handleAddNote)
		r.Delete("/{noteID}", s.handleDeleteNote)
	})

	return router
}

// Start serves until ctx is cancelled, then drains.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Len(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// handleExecutorWS accepts one executor connection and runs its session until
// the transport drops.
func (s *Server) handleExecutorWS(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Acquire() {
		respondError(w, http.StatusServiceUnavailable, errors.New("session limit reached"))
		return
	}
	defer s.limiter.Release()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn(logging.CategoryNetwork, "ws_accept_failed", "", err.Error(), nil)
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageBytes)

	id := uuid.NewString()
	sess := session.New(id, &wsConn{conn: conn}, s.cfg.Session,
		session.WithLogger(s.log),
		session.WithEventBus(s.events),
	)
	if err := s.registry.Add(sess); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "registration failed")
		return
	}
	metricActiveSessions.Inc()
	s.publish(bus.SubjectSessionCreated, id, nil)
	defer func() {
		if removed, ok := s.registry.Remove(id); ok {
			_ = removed.Close()
		}
		metricActiveSessions.Dec()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := sess.Handshake(ctx); err != nil {
		s.log.Warn(logging.CategoryNetwork, "handshake_failed", id, err.Error(), nil)
		return
	}
	startWSPing(ctx, conn)
	s.readPump(ctx, conn, sess)
}

// readPump decodes inbound envelopes and feeds them to the session until the
// connection drops or the session closes. A decode failure or protocol
// violation errors the session but keeps reading: the controller may still
// reset it over the REST API.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.InboundRate), s.cfg.InboundBurst)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && !errors.Is(err, context.Canceled) {
				s.log.Warn(logging.CategoryNetwork, "ws_read_failed", sess.ID(), err.Error(), nil)
			}
			return
		}
		metricMessages.WithLabelValues("inbound").Inc()

		msg, err := protocol.Decode(data)
		if err != nil {
			metricProtocolViolations.Inc()
			_ = sess.HandleDecodeError(err)
			continue
		}
		if err := sess.HandleMessage(ctx, msg); err != nil {
			if errors.Is(err, session.ErrSessionClosed) {
				return
			}
			if kind, ok := session.KindOf(err); ok && kind == session.KindProtocolError {
				metricProtocolViolations.Inc()
			}
		}
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{"sessions": s.registry.List()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, sess.Info())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.registry.Remove(id)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Errorf("session not found: %s", id))
		return
	}
	_ = sess.Close()
	respondJSON(w, map[string]string{"status": "closed", "id": id})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 0)

	ctx, span := observability.StartSpan(r.Context(), "gateway.snapshot")
	span.SetAttributes(observability.AttrSessionID.String(sess.ID()))
	defer span.End()

	snap, err := sess.RequestSnapshot(ctx, limit)
	if err != nil {
		metricSnapshots.WithLabelValues("error").Inc()
		observability.RecordError(ctx, err)
		respondError(w, statusForSessionError(err), err)
		return
	}
	metricSnapshots.WithLabelValues("ok").Inc()
	span.SetAttributes(
		observability.AttrGeneration.Int64(int64(snap.Generation)),
		observability.AttrElements.Int(len(snap.Tree)),
	)
	respondJSON(w, snap)
}

func (s *Server) handleDispatchAction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxActionBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	cmd, err := protocol.DecodeCommand(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, span := observability.StartSpan(r.Context(), "gateway.dispatch")
	span.SetAttributes(
		observability.AttrSessionID.String(sess.ID()),
		observability.AttrCommandType.String(cmd.CommandType()),
	)
	defer span.End()

	start := time.Now()
	result, err := sess.Dispatch(ctx, cmd)
	metricActionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metricActions.WithLabelValues(cmd.CommandType(), outcomeLabel(err)).Inc()
		observability.RecordError(ctx, err)
		respondError(w, statusForSessionError(err), err)
		return
	}
	metricActions.WithLabelValues(cmd.CommandType(), "ok").Inc()
	respondJSON(w, map[string]any{"success": true, "data": result.Data})
}

func (s *Server) handleCancelAction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if err := sess.Cancel(r.Context()); err != nil {
		respondError(w, statusForSessionError(err), err)
		return
	}
	respondJSON(w, map[string]string{"status": "cancel_requested"})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if err := sess.Reset(); err != nil {
		respondError(w, statusForSessionError(err), err)
		return
	}
	respondJSON(w, sess.Info())
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	if s.notes == nil {
		respondError(w, http.StatusNotImplemented, errors.New("memory store disabled"))
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	notes, err := s.notes.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, map[string]any{"notes": notes})
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	if s.notes == nil {
		respondError(w, http.StatusNotImplemented, errors.New("memory store disabled"))
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxActionBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Content == "" {
		respondError(w, http.StatusBadRequest, errors.New("content is required"))
		return
	}
	id, err := s.notes.Add(r.Context(), req.Content)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, map[string]any{"id": id})
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if s.notes == nil {
		respondError(w, http.StatusNotImplemented, errors.New("memory store disabled"))
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "noteID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid note id"))
		return
	}
	if err := s.notes.Delete(r.Context(), id); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			respondError(w, http.StatusNotFound, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Errorf("session not found: %s", id))
		return nil, false
	}
	return sess, true
}

func (s *Server) publish(subjectFmt, sessionID string, payload any) {
	if s.events == nil {
		return
	}
	var data []byte
	if payload != nil {
		data, _ = json.Marshal(payload)
	}
	_ = s.events.Publish(context.Background(), fmt.Sprintf(subjectFmt, sessionID), data)
}

// wsConn adapts a nhooyr connection to the session transport.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	metricMessages.WithLabelValues("outbound").Inc()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "session closed")
}

// statusForSessionError maps engine failures to HTTP statuses for the REST
// surface.
func statusForSessionError(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrSessionNotReady),
		errors.Is(err, session.ErrSessionErrored),
		errors.Is(err, session.ErrNoActionInFlight):
		return http.StatusConflict
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, session.ErrBlockedURL):
		return http.StatusForbidden
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	kind, _ := session.KindOf(err)
	switch kind {
	case session.KindRefNotFound:
		return http.StatusUnprocessableEntity
	case session.KindActionTimeout:
		return http.StatusGatewayTimeout
	case session.KindElementNotInteractable, session.KindExecutorFailure:
		return http.StatusBadGateway
	case session.KindProtocolError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func outcomeLabel(err error) string {
	if kind, ok := session.KindOf(err); ok {
		return string(kind)
	}
	return "error"
}
