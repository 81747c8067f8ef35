package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/skydz/dropwatch/internal/command"
	"github.com/skydz/dropwatch/internal/config"
	"github.com/skydz/dropwatch/internal/flightdata"
	"github.com/skydz/dropwatch/internal/monitor"
	"github.com/skydz/dropwatch/internal/session"
	"github.com/skydz/dropwatch/pkg/logger"
)

// Responder posts plain-text replies back to the command channel
type Responder interface {
	Post(ctx context.Context, text string) error
}

// Handler contains the API handlers
type Handler struct {
	monitorService *monitor.Service
	config         *config.Config
	responder      Responder
	logger         *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(monitorService *monitor.Service, cfg *config.Config, responder Responder, log *logger.Logger) *Handler {
	return &Handler{
		monitorService: monitorService,
		config:         cfg,
		responder:      responder,
		logger:         log.Named("api"),
	}
}

// GetHealth reports liveness and the active session count
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	active, err := h.monitorService.ListActiveSessions()
	if err != nil {
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to query sessions"})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": len(active),
	})
}

// startSessionRequest is the REST body for creating a session
type startSessionRequest struct {
	Requester string `json:"requester"`
	Channel   string `json:"channel"`
	Plane     string `json:"plane"`
	Zone      string `json:"dz,omitempty"`
}

// StartSession creates a monitoring session
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Requester == "" || req.Channel == "" || req.Plane == "" {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "requester, channel, and plane are required"})
		return
	}

	hex, _, ok := h.config.ResolveAircraft(req.Plane)
	if !ok {
		WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown aircraft %q (use a configured alias or an ICAO hex code)", req.Plane),
		})
		return
	}

	sess, err := h.monitorService.StartSession(r.Context(), req.Requester, req.Channel, hex, req.Zone)
	if err != nil {
		h.writeStartError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, sess)
}

// StopSession terminates a monitoring session
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFromURL(r)

	sess, err := h.monitorService.StopSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		h.logger.Error("Failed to stop session", logger.Error(err), logger.String("session_id", id))
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to stop session"})
		return
	}

	WriteJSON(w, http.StatusOK, sess)
}

// GetSession returns one session's current record
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFromURL(r)

	sess, err := h.monitorService.GetSession(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read session"})
		return
	}

	WriteJSON(w, http.StatusOK, sess)
}

// ListSessions returns all ACTIVE sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.monitorService.ListActiveSessions()
	if err != nil {
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list sessions"})
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// sessionIDFromURL rebuilds the session key from the requester and channel
// path segments. Session IDs embed a slash, so they cannot ride in a single
// URL parameter.
func sessionIDFromURL(r *http.Request) string {
	return session.Key(chi.URLParam(r, "requester"), chi.URLParam(r, "channel"))
}

func (h *Handler) writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrAlreadyActive):
		WriteJSON(w, http.StatusConflict, map[string]string{"error": "a session is already active for this requester"})
	case errors.Is(err, flightdata.ErrNotFound):
		WriteJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
}

// executeCommand runs a parsed command on behalf of a requester and returns
// the reply text. Used by the Slack transport; the REST handlers map the
// same operations onto status codes instead.
func (h *Handler) executeCommand(ctx context.Context, requester, channel string, cmd *command.Command) string {
	sessionID := session.Key(requester, channel)

	switch cmd.Kind {
	case command.KindStart:
		hex, name, ok := h.config.ResolveAircraft(cmd.Plane)
		if !ok {
			return fmt.Sprintf("❌ Unknown aircraft %q — use a configured alias or an ICAO hex code", cmd.Plane)
		}

		sess, err := h.monitorService.StartSession(ctx, requester, channel, hex, cmd.Zone)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrAlreadyActive):
				return "🔄 You already have an active session — `stop` it first"
			case errors.Is(err, flightdata.ErrNotFound):
				return fmt.Sprintf("❌ No data for aircraft %s — check the identifier", hex)
			default:
				return fmt.Sprintf("❌ Could not start tracking: %v", err)
			}
		}
		if sess.ZoneID != "" {
			return fmt.Sprintf("✅ Tracking %s at drop zone %s", name, sess.ZoneID)
		}
		return fmt.Sprintf("✅ Tracking %s (flight status only)", name)

	case command.KindStop:
		sess, err := h.monitorService.StopSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return "❌ No session to stop"
			}
			return fmt.Sprintf("❌ Could not stop tracking: %v", err)
		}
		return fmt.Sprintf("🛑 Stopped tracking %s", sess.AircraftID)

	case command.KindStatus:
		sess, err := h.monitorService.GetSession(sessionID)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return "❌ No session found — use `start plane=<id>` to begin"
			}
			return fmt.Sprintf("❌ Could not read session: %v", err)
		}
		reply := fmt.Sprintf("ℹ️ Session %s: aircraft %s, last state %s", sess.Status, sess.AircraftID, sess.LastState)
		if sess.ZoneID != "" {
			reply += fmt.Sprintf(", drop zone %s", sess.ZoneID)
		}
		if sess.ConsecutiveFailures > 0 {
			reply += fmt.Sprintf(" (%d consecutive poll failures)", sess.ConsecutiveFailures)
		}
		return reply

	default:
		return command.Usage
	}
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
