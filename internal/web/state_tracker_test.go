package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ald-reactor/internal/types"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerFollowsRun(t *testing.T) {
	st := NewStateTracker(nil)
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return start.Add(12 * time.Second) }

	st.UpdateRun(types.RunState{RunID: "r1", Status: types.StatusInitializing, StartedAt: start, RemainingTotal: 90 * time.Second})
	st.UpdateEstimate(90*time.Second, start.Add(90*time.Second))
	st.UpdateCycle(1, 2)
	st.UpdateSubCycle(1, 3)
	st.UpdateStep(2, []string{"Pulse TEB – 15 ms", "Purge TEB – 40 s", "Plasma – 10 s", "Purge – 40 s"})
	st.UpdateTick(3*time.Second, 78*time.Second)

	snap := st.GetStateSnapshot()
	assert.Equal(t, "r1", snap.Run.RunID)
	assert.Equal(t, 1, snap.Run.Cycle)
	assert.Equal(t, 3, snap.Run.SubCycles)
	assert.Equal(t, "Plasma – 10 s", snap.Run.StepLabel)
	assert.Equal(t, 3.0, snap.Run.StepRemainingS)
	assert.Equal(t, 78.0, snap.Run.TotalRemainingS)
	assert.Equal(t, 12.0, snap.Run.ElapsedS)
	assert.Equal(t, 90.0, snap.Run.EstimateS)

	// 新的运行清空旧进度
	st.UpdateRun(types.RunState{RunID: "r2", Status: types.StatusInitializing})
	snap = st.GetStateSnapshot()
	assert.Empty(t, snap.Run.StepLabel)
	assert.Zero(t, snap.Run.EstimateS)
}

func TestTrackerKeepsRecentAlerts(t *testing.T) {
	st := NewStateTracker(nil)
	for i := 0; i < maxAlerts+5; i++ {
		st.AddAlert(fmt.Errorf("alert %d", i))
	}
	st.AddAlert(nil)

	snap := st.GetStateSnapshot()
	require.Len(t, snap.Alerts, maxAlerts)
	assert.Equal(t, "alert 5", snap.Alerts[0].Message)
	assert.Equal(t, fmt.Sprintf("alert %d", maxAlerts+4), snap.Alerts[maxAlerts-1].Message)

	// 快照是副本
	snap.Alerts[0].Message = "changed"
	assert.Equal(t, "alert 5", st.GetStateSnapshot().Alerts[0].Message)
}

func TestHubPushesSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)
	st := NewStateTracker(hub)
	st.SetSelection("PEALD", types.Params{Cycles: 3}, []string{"a", "b"})

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	// 新连接先收到最近一次快照
	var got GlobalState
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "PEALD", got.Recipe)

	st.UpdateRun(types.RunState{RunID: "r1", Status: types.StatusRunning})
	for got.Run.Status != types.StatusRunning {
		_, msg, err = conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(msg, &got))
	}
	assert.Equal(t, "r1", got.Run.RunID)
}
