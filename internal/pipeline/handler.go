package pipeline

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"slam-pipeline/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handler exposes pipeline diagnostics and operator controls using go-chi.
type Handler struct {
	coord   *Coordinator
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler for coord. Metrics may be nil to disable
// metric recording (e.g. in tests).
func NewHandler(coord *Coordinator, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{coord: coord, log: log, metrics: m}
}

// Routes mounts the handler's endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/status", h.GetStatus)
	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{session_id}", h.GetSession)
	r.Post("/pause", h.Pause)
	r.Post("/resume", h.Resume)
	r.Post("/reset", h.Reset)
}

// sessionView is the JSON form of a SessionState.
type sessionView struct {
	SessionState
	LastSeq            uint64          `json:"last_seq,omitempty"`
	LastStatus         *TrackingStatus `json:"last_status,omitempty"`
	LastPosition       *Point3         `json:"last_position,omitempty"`
	LastProcessingTime time.Duration   `json:"last_processing_ns,omitempty"`
	MapPoints          int             `json:"map_points"`
}

func newSessionView(st SessionState) sessionView {
	v := sessionView{SessionState: st}
	if r := st.LastResult; r != nil {
		status := r.Status
		pos := r.Pose.Translation()
		v.LastSeq = r.Seq
		v.LastStatus = &status
		v.LastPosition = &pos
		v.LastProcessingTime = r.ProcessingTime
		v.MapPoints = len(r.MapPoints)
	}
	return v
}

// GetStatus handles GET /status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.coord.Status())
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.coord.Sessions()
	out := make([]sessionView, 0, len(sessions))
	for _, st := range sessions {
		out = append(out, newSessionView(st))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// GetSession handles GET /sessions/{session_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	st, ok := h.coord.Session(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, newSessionView(st))
}

// Pause handles POST /pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, "pause", func() error { return h.coord.SetPaused(true) })
}

// Resume handles POST /resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.control(w, "resume", func() error { return h.coord.SetPaused(false) })
}

// Reset handles POST /reset. The reset runs on the worker before its next
// packet, so the response is 202.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.control(w, "reset", h.coord.RequestReset)
}

func (h *Handler) control(w http.ResponseWriter, action string, apply func() error) {
	if err := apply(); err != nil {
		if errors.Is(err, ErrNotRunning) {
			h.log.Info("control rejected, pipeline not running", slog.String("action", action))
			w.WriteHeader(http.StatusConflict)
			return
		}
		h.log.Error("control failed", slog.String("action", action), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if action == "reset" {
		w.WriteHeader(http.StatusAccepted)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.metrics != nil {
		h.metrics.IncControl(action)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.log.Error("encode response failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}
