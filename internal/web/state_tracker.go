package web

import (
	"sync"
	"time"

	"ald-reactor/internal/types"
)

// maxAlerts 是操作员界面保留的最近告警条数
const maxAlerts = 20

// AlertView 是一条面向操作员的告警
type AlertView struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// RunView 是运行进度的显示视图，时长以秒表示
type RunView struct {
	types.RunState
	StepLabel       string    `json:"step_label,omitempty"`
	StepRemainingS  float64   `json:"step_remaining_s"`
	TotalRemainingS float64   `json:"total_remaining_s"`
	ElapsedS        float64   `json:"elapsed_s"`
	EstimateS       float64   `json:"estimate_s"`
	ETA             time.Time `json:"eta,omitempty"`
}

// GlobalState 代表操作员界面的实时状态快照
type GlobalState struct {
	Recipe string       `json:"recipe"` // 当前选择的配方
	Params types.Params `json:"params"`
	Labels []string     `json:"labels"` // 当前配方的步骤列表
	Run    RunView      `json:"run"`
	Alerts []AlertView  `json:"alerts"`
}

// StateTracker 负责追踪选择、参数和运行进度，并通知前端更新
type StateTracker struct {
	mu    sync.RWMutex
	state GlobalState
	hub   *Hub
	now   func() time.Time
}

// NewStateTracker 创建一个新的 StateTracker 实例，hub 可以为 nil
func NewStateTracker(hub *Hub) *StateTracker {
	return &StateTracker{
		state: GlobalState{Run: RunView{RunState: types.RunState{Status: types.StatusIdle}}},
		hub:   hub,
		now:   time.Now,
	}
}

// update 修改状态并向所有客户端广播最新的全局状态
func (st *StateTracker) update(fn func(s *GlobalState)) {
	st.mu.Lock()
	fn(&st.state)
	snapshot := st.copyLocked()
	st.mu.Unlock()

	if st.hub != nil {
		st.hub.BroadcastState(snapshot)
	}
}

// SetSelection 记录选择的配方、参数和步骤列表
func (st *StateTracker) SetSelection(recipe string, params types.Params, labels []string) {
	st.update(func(s *GlobalState) {
		s.Recipe = recipe
		s.Params = params
		s.Labels = append([]string(nil), labels...)
	})
}

// UpdateRun 在运行状态变化时更新快照
func (st *StateTracker) UpdateRun(state types.RunState) {
	st.update(func(s *GlobalState) {
		if state.RunID != s.Run.RunID {
			// 新的运行，清空上一次的进度
			s.Run = RunView{}
		}
		s.Run.RunState = state
		s.Run.ElapsedS = state.Elapsed.Seconds()
		s.Run.TotalRemainingS = state.RemainingTotal.Seconds()
	})
}

// UpdateCycle 更新外层循环序号
func (st *StateTracker) UpdateCycle(i, n int) {
	st.update(func(s *GlobalState) {
		s.Run.Cycle, s.Run.Cycles = i, n
	})
}

// UpdateSubCycle 更新子循环序号
func (st *StateTracker) UpdateSubCycle(j, n int) {
	st.update(func(s *GlobalState) {
		s.Run.SubCycle, s.Run.SubCycles = j, n
	})
}

// UpdateStep 高亮当前步骤
func (st *StateTracker) UpdateStep(index int, labels []string) {
	st.update(func(s *GlobalState) {
		s.Run.StepIndex = index
		if index >= 0 && index < len(labels) {
			s.Run.StepLabel = labels[index]
		}
		if len(labels) > 0 {
			s.Labels = append([]string(nil), labels...)
		}
	})
}

// UpdateTick 刷新倒计时
func (st *StateTracker) UpdateTick(stepRemaining, totalRemaining time.Duration) {
	st.update(func(s *GlobalState) {
		s.Run.StepRemainingS = stepRemaining.Seconds()
		s.Run.TotalRemainingS = totalRemaining.Seconds()
		if !s.Run.StartedAt.IsZero() {
			s.Run.ElapsedS = st.now().Sub(s.Run.StartedAt).Seconds()
		}
	})
}

// UpdateEstimate 记录预计时长和预计结束时间
func (st *StateTracker) UpdateEstimate(total time.Duration, eta time.Time) {
	st.update(func(s *GlobalState) {
		s.Run.EstimateS = total.Seconds()
		s.Run.ETA = eta
	})
}

// AddAlert 追加一条告警，只保留最近 maxAlerts 条
func (st *StateTracker) AddAlert(err error) {
	if err == nil {
		return
	}
	st.update(func(s *GlobalState) {
		s.Alerts = append(s.Alerts, AlertView{Time: st.now(), Message: err.Error()})
		if len(s.Alerts) > maxAlerts {
			s.Alerts = s.Alerts[len(s.Alerts)-maxAlerts:]
		}
	})
}

// GetStateSnapshot 返回当前全局状态的一个深拷贝副本
// 用于新客户端连接时获取一次全量数据
func (st *StateTracker) GetStateSnapshot() GlobalState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.copyLocked()
}

func (st *StateTracker) copyLocked() GlobalState {
	s := st.state
	s.Labels = append([]string(nil), st.state.Labels...)
	s.Alerts = append([]AlertView(nil), st.state.Alerts...)
	return s
}
