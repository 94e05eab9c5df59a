package api

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/skyrun/pkg/engine"
	"github.com/openfroyo/skyrun/pkg/sequencer"
	"github.com/openfroyo/skyrun/pkg/stores"
	"github.com/openfroyo/skyrun/pkg/telemetry"
)

type fakeController struct {
	active      *engine.RunInfo
	running     []sequencer.RunningEntry
	skipped     int
	err         error
	canceled    string
	interrupted bool
	actor       string
}

func (f *fakeController) Active() (engine.RunInfo, bool) {
	if f.active == nil {
		return engine.RunInfo{}, false
	}
	return *f.active, true
}

func (f *fakeController) Status(_ context.Context, runID string) (engine.RunInfo, error) {
	if f.active != nil && f.active.ID == runID {
		return *f.active, nil
	}
	return engine.RunInfo{}, engine.ErrRunNotFound
}

func (f *fakeController) Running() []sequencer.RunningEntry { return f.running }

func (f *fakeController) Cancel(ctx context.Context, runID string) error {
	f.actor = engine.ActorFrom(ctx)
	f.canceled = runID
	return f.err
}

func (f *fakeController) Interrupt(ctx context.Context) error {
	f.actor = engine.ActorFrom(ctx)
	f.interrupted = true
	return f.err
}

func (f *fakeController) SkipCurrent(ctx context.Context) (int, error) {
	f.actor = engine.ActorFrom(ctx)
	return f.skipped, f.err
}

type fakeHistory struct {
	runs []*stores.Run
}

func (h *fakeHistory) ListRuns(_ context.Context, limit, offset int) ([]*stores.Run, error) {
	if offset >= len(h.runs) {
		return nil, nil
	}
	end := min(offset+limit, len(h.runs))
	return h.runs[offset:end], nil
}

func (h *fakeHistory) Summarize(_ context.Context, runID string) (*stores.RunSummary, error) {
	for _, r := range h.runs {
		if r.ID == runID {
			return &stores.RunSummary{RunID: runID, Statuses: map[string]int{"finished": 3}, Events: 6}, nil
		}
	}
	return nil, stores.ErrNotFound
}

func (h *fakeHistory) ListAuditEntries(_ context.Context, action *string, _, _ int) ([]*stores.AuditEntry, error) {
	entry := &stores.AuditEntry{Action: "run.skip", Actor: "api:test"}
	if action != nil && *action != entry.Action {
		return nil, nil
	}
	return []*stores.AuditEntry{entry}, nil
}

func newTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false
	tel, err := telemetry.NewTelemetry(cfg, telemetry.WithWriter(io.Discard))
	require.NoError(t, err)
	return tel
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	ctrl := &fakeController{}
	h := NewServer(ctrl, newTelemetry(t)).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Active)
	assert.Nil(t, resp.Run)

	ctrl.active = &engine.RunInfo{ID: "run-1", Sequence: "night", Status: engine.RunStatusRunning}
	rec = do(t, h, http.MethodGet, "/api/v1/status", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Active)
	require.NotNil(t, resp.Run)
	assert.Equal(t, "night", resp.Run.Sequence)

	rec = do(t, h, http.MethodGet, "/api/v1/runs/run-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/runs/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestControls(t *testing.T) {
	ctrl := &fakeController{skipped: 2}
	h := NewServer(ctrl, newTelemetry(t)).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/skip", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var skip SkipResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &skip))
	assert.Equal(t, 2, skip.Skipped)
	assert.True(t, strings.HasPrefix(ctrl.actor, "api:"), "actor = %q", ctrl.actor)

	rec = do(t, h, http.MethodPost, "/api/v1/interrupt", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, ctrl.interrupted)

	rec = do(t, h, http.MethodPost, "/api/v1/cancel", `{"run_id":"run-7"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "run-7", ctrl.canceled)

	rec = do(t, h, http.MethodPost, "/api/v1/cancel", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ctrl.err = engine.ErrNoActiveRun
	rec = do(t, h, http.MethodPost, "/api/v1/interrupt", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "no sequence is running")

	ctrl.err = errors.New("boom")
	rec = do(t, h, http.MethodPost, "/api/v1/skip", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/skip", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHistoryEndpoints(t *testing.T) {
	h := NewServer(&fakeController{}, newTelemetry(t)).Handler()
	rec := do(t, h, http.MethodGet, "/api/v1/runs", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	history := &fakeHistory{runs: []*stores.Run{{ID: "a", Sequence: "night"}, {ID: "b", Sequence: "flats"}}}
	h = NewServer(&fakeController{}, newTelemetry(t), WithHistory(history)).Handler()

	rec = do(t, h, http.MethodGet, "/api/v1/runs?limit=1&offset=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []*stores.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].ID)

	rec = do(t, h, http.MethodGet, "/api/v1/runs/a/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"finished":3`)

	rec = do(t, h, http.MethodGet, "/api/v1/runs/zzz/summary", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/audit?action=run.cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestHealthAndMetrics(t *testing.T) {
	tel := newTelemetry(t)
	healthy := true
	h := NewServer(&fakeController{}, tel,
		WithHealthCheck("store", func(context.Context) error { return nil }),
		WithHealthCheck("redis", func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("connection refused")
		}),
	).Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	tel.Metrics.RecordRunStarted("night")
	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "skyrun_runs_started_total")
}

func TestEventStream(t *testing.T) {
	tel := newTelemetry(t)
	srv := NewServer(&fakeController{}, tel)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events?types=run.started", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if line == "" {
				return strings.Join(lines, "\n")
			}
			lines = append(lines, line)
		}
	}
	assert.Contains(t, readEvent(), "event: ping")

	require.Eventually(t, func() bool { return srv.streams.Count() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, tel.Events.PublishRunCanceled("run-0"))
	require.NoError(t, tel.Events.PublishRunStarted("run-1", "night"))

	got := readEvent()
	assert.Contains(t, got, "event: run.started")
	assert.Contains(t, got, `"run_id":"run-1"`)
}

func TestSchedulerIntegration(t *testing.T) {
	tel := newTelemetry(t)
	sched := engine.NewScheduler(tel)
	h := NewServer(sched, tel).Handler()

	started := make(chan struct{})
	root := sequencer.NewRootContainer(sequencer.Metadata{Name: "night"})
	require.NoError(t, root.Add(newBlockingItem("wait", started)))

	runID, err := sched.Start(context.Background(), root, engine.StartOptions{})
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("item did not start")
	}

	rec := do(t, h, http.MethodGet, "/api/v1/running", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []RunningItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "/night/wait", items[0].Path)

	rec = do(t, h, http.MethodPost, "/api/v1/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := sched.Wait(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusCanceled, info.Status)
}

type blockingItem struct {
	*sequencer.ItemBase
	started chan struct{}
}

func newBlockingItem(name string, started chan struct{}) *blockingItem {
	return &blockingItem{ItemBase: sequencer.NewItemBase(sequencer.Metadata{Name: name}), started: started}
}

func (b *blockingItem) Execute(ctx context.Context, _ sequencer.ProgressSink) error {
	close(b.started)
	<-ctx.Done()
	return ctx.Err()
}

func (b *blockingItem) Clone() sequencer.Item {
	return &blockingItem{ItemBase: b.CloneItemBase(), started: make(chan struct{})}
}
