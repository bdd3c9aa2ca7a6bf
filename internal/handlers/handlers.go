package handlers

import (
	"errors"
	"log/slog"

	"ald-reactor/internal/event"
	"ald-reactor/internal/metrics"
	"ald-reactor/internal/types"
	"ald-reactor/internal/web"
)

// RegisterEventHandlers 将所有事件处理器注册到事件总线
// 引擎只发布进度，监控、显示和日志各自订阅，互不影响
func RegisterEventHandlers(bus *event.Bus, st *web.StateTracker, logger *slog.Logger) {
	logger = logger.With("component", "events")

	// --- 指标处理器 (Metrics Handler) ---
	bus.Subscribe(event.RunStatusChanged, func(e event.Event) {
		switch e.State.Status {
		case types.StatusInitializing:
			metrics.RunActive.Set(1)
		case types.StatusCompleted:
			metrics.RunsTotal.WithLabelValues(e.State.Recipe, string(types.EndingNormal)).Inc()
		case types.StatusAborted:
			metrics.RunsTotal.WithLabelValues(e.State.Recipe, string(types.EndingForced)).Inc()
		case types.StatusIdle:
			metrics.RunActive.Set(0)
		}
	})

	// --- Web UI 处理器 (Web UI Handler) ---
	bus.Subscribe(event.RunStatusChanged, func(e event.Event) {
		st.UpdateRun(e.State)
	})
	bus.Subscribe(event.EstimateUpdated, func(e event.Event) {
		st.UpdateEstimate(e.Estimate, e.ETA)
	})
	bus.Subscribe(event.CycleStarted, func(e event.Event) {
		st.UpdateCycle(e.Index, e.Count)
	})
	bus.Subscribe(event.SubCycleStarted, func(e event.Event) {
		st.UpdateSubCycle(e.Index, e.Count)
	})
	bus.Subscribe(event.StepStarted, func(e event.Event) {
		st.UpdateStep(e.Index, e.Labels)
	})
	bus.Subscribe(event.Tick, func(e event.Event) {
		st.UpdateTick(e.StepRemaining, e.TotalRemaining)
	})
	bus.Subscribe(event.Alert, func(e event.Event) {
		st.AddAlert(e.Error)
	})

	// --- 日志处理器 (Logging Handler) ---
	bus.Subscribe(event.RunStatusChanged, func(e event.Event) {
		switch e.State.Status {
		case types.StatusCompleted:
			logger.Info("运行完成", "run_id", e.State.RunID, "recipe", e.State.Recipe)
		case types.StatusAborted:
			logger.Warn("运行被强制结束", "run_id", e.State.RunID, "recipe", e.State.Recipe,
				"cycle", e.State.Cycle, "cycles", e.State.Cycles)
		}
	})
	bus.Subscribe(event.Alert, func(e event.Event) {
		var aerr *types.ActuatorError
		if errors.As(e.Error, &aerr) {
			logger.Error("执行器告警", "op", aerr.Op, "line", aerr.Line, "error", aerr.Err)
			return
		}
		logger.Error("运行告警", "error", e.Error)
	})
}
