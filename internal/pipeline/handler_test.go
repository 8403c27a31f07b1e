package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"slam-pipeline/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, m *metrics.Metrics) (*Handler, *harness, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{trackFn: func(Frame, []InertialSample) (TrackingResult, error) {
		pose := IdentityPose()
		pose[12], pose[13], pose[14] = 1, 2, 3
		return TrackingResult{Status: StatusOK, Pose: pose, MapPoints: []Point3{{0, 0, 1}, {1, 0, 1}}}, nil
	}}
	hs := newHarness(t, Config{PollInterval: time.Millisecond}, func() Engine { return eng })
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewHandler(hs.c, log, m), hs, eng
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHandler_GetStatus(t *testing.T) {
	h, hs, _ := newTestHandler(t, nil)
	r := newTestRouter(h)
	require.NoError(t, hs.c.Start(context.Background()))
	tickUntilOutput(t, hs.c)

	rec := do(r, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["running"])
	assert.Equal(t, "OK", body["last_status"])
	assert.Contains(t, []any{"idle", "processing"}, body["worker_state"])
	assert.Equal(t, hs.c.Status().SessionID.String(), body["session_id"])
}

func TestHandler_GetStatus_beforeStart(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)
	rec := do(newTestRouter(h), http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var st struct {
		Running     bool   `json:"running"`
		WorkerState string `json:"worker_state"`
		LastStatus  string `json:"last_status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.Running)
	assert.Equal(t, "stopped", st.WorkerState)
	assert.Equal(t, "NOT_READY", st.LastStatus)
}

func TestHandler_PauseResume(t *testing.T) {
	m := metrics.New()
	h, hs, _ := newTestHandler(t, m)
	r := newTestRouter(h)

	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/pause").Code, "not running")

	require.NoError(t, hs.c.Start(context.Background()))
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/pause").Code)
	assert.True(t, hs.c.Paused())
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/resume").Code)
	assert.False(t, hs.c.Paused())

	body := do(m.Handler(nil), http.MethodGet, "/metrics").Body.String()
	assert.Contains(t, body, `slam_control_actions_total{action="pause"} 1`)
	assert.Contains(t, body, `slam_control_actions_total{action="resume"} 1`)
}

func TestHandler_Reset(t *testing.T) {
	h, hs, eng := newTestHandler(t, nil)
	r := newTestRouter(h)
	require.NoError(t, hs.c.Start(context.Background()))

	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/reset").Code)
	require.Eventually(t, func() bool { return eng.resets.Load() == 1 }, 2*time.Second, time.Millisecond)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)
	r := newTestRouter(h)

	assert.Equal(t, http.StatusMethodNotAllowed, do(r, http.MethodGet, "/pause").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(r, http.MethodPost, "/status").Code)
}

func TestHandler_Sessions(t *testing.T) {
	h, hs, _ := newTestHandler(t, nil)
	r := newTestRouter(h)
	require.NoError(t, hs.c.Start(context.Background()))
	out := tickUntilOutput(t, hs.c)
	require.NoError(t, hs.c.Stop())

	rec := do(r, http.MethodGet, "/sessions")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []struct {
		ID           uuid.UUID `json:"id"`
		Ended        bool      `json:"ended"`
		LastStatus   string    `json:"last_status"`
		LastPosition []float32 `json:"last_position"`
		MapPoints    int       `json:"map_points"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, out.SessionID, list[0].ID)
	assert.True(t, list[0].Ended)
	assert.Equal(t, "OK", list[0].LastStatus)
	assert.Equal(t, []float32{1, 2, 3}, list[0].LastPosition)
	assert.Equal(t, 2, list[0].MapPoints)

	rec = do(r, http.MethodGet, "/sessions/"+out.SessionID.String())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/sessions/"+uuid.NewString()).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/sessions/not-a-uuid").Code)
}
