package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"ald-reactor/internal/actuator"
	"ald-reactor/internal/clock"
	"ald-reactor/internal/engine"
	"ald-reactor/internal/persistence"
	"ald-reactor/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	ctl  *engine.Controller
	act  *actuator.Recorder
	st   *StateTracker
	http *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	act := actuator.NewRecorder()
	eng := engine.New(engine.ReactorContext{
		Actuator: act,
		RunLog:   persistence.NewRunLog(filepath.Join(t.TempDir(), "Logs")),
		Clock:    clock.NewFake(time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)),
		Logger:   logger,
	})
	ctl := engine.NewController(eng, types.Params{Cycles: 1, InnerRepeats: 1, PlasmaPowerW: 150}, nil)
	st := NewStateTracker(nil)
	srv := httptest.NewServer(NewServer(ctl, st, nil, logger).Handler())
	t.Cleanup(func() {
		srv.Close()
		ctl.Wait()
	})
	return &testServer{ctl: ctl, act: act, st: st, http: srv}
}

func (ts *testServer) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(ts.http.URL+path, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestListRecipes(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.http.URL + "/api/recipes")
	require.NoError(t, err)
	defer resp.Body.Close()

	var list []RecipeInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 8)
	assert.Equal(t, "ALD", list[0].Name)
	assert.Equal(t, "(t1 + p1 + (t2 + p2) * N2) * N", list[0].Formula)
}

func TestSelectAndParamsReturnPlan(t *testing.T) {
	ts := newTestServer(t)

	resp, out := ts.post(t, "/api/recipe", map[string]string{"recipe": "ALD"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ALD", out["recipe"])

	resp, out = ts.post(t, "/api/params", ParamsRequest{
		Pulse1Ms: 15, Purge1: 40, Pulse2: 10, Purge2: 40, Cycles: 2, InnerRepeats: 1, Precursor1: "TEB", Precursor2: "H2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 180.03, out["total_s"], 1e-9)
	assert.Equal(t, []any{"Pulse TEB – 15 ms", "Purge TEB – 40 s", "Pulse H2 – 10 s", "Purge H2 – 40 s"}, out["labels"])
	assert.InDelta(t, 0.015, ts.ctl.Parameters().Pulse1, 1e-12)

	snap := ts.st.GetStateSnapshot()
	assert.Equal(t, "ALD", snap.Recipe)
	assert.Len(t, snap.Labels, 4)
}

func TestParamsRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, out := ts.post(t, "/api/params", ParamsRequest{Purge1: -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out["error"], "invalid parameter")

	resp, _ = ts.post(t, "/api/recipe", map[string]string{"recipe": "sputtering"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGoWithoutRecipe(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.post(t, "/api/go", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGoConflictAndStop(t *testing.T) {
	ts := newTestServer(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	ts.act.OnCall = func(call string) {
		if call == "gas_on(precursor1)" {
			close(entered)
			<-release
		}
	}

	resp, _ := ts.post(t, "/api/recipe", map[string]string{"recipe": "cvd"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.post(t, "/api/params", ParamsRequest{Pulse1Ms: 5000})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out := ts.post(t, "/api/go", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "2024-03-01-10:00:00", out["run_id"])
	<-entered

	resp, _ = ts.post(t, "/api/go", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = ts.post(t, "/api/plasma/test", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, out = ts.post(t, "/api/stop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["stopped"])

	close(release)
	ts.ctl.Wait()
	res, ok := ts.ctl.LastResult()
	require.True(t, ok)
	assert.Equal(t, types.StatusAborted, res.Status)

	_, out = ts.post(t, "/api/stop", nil)
	assert.Equal(t, false, out["stopped"])
}

func TestPlasmaTestEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.post(t, "/api/plasma/test", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"power(150)"}, ts.act.Calls())

	ts.act.FailOn("power(150)", errors.New("connection refused"))
	resp, out := ts.post(t, "/api/plasma/test", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, out["error"], "connection refused")
}

func TestStateEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.st.AddAlert(errors.New("relay stuck"))

	resp, err := http.Get(ts.http.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap GlobalState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, types.StatusIdle, snap.Run.Status)
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, "relay stuck", snap.Alerts[0].Message)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.http.URL + "/api/go")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
