package fsm

import (
	"fmt"
	"log/slog"
	"sync"

	"ald-reactor/internal/types"
)

// State 复用运行状态类型，便于直接写入快照
type State = types.RunStatus

// Event 定义事件类型
type Event string

const (
	EventGo       Event = "GO"       // 操作员按下 GO
	EventReady    Event = "READY"    // 初始化完成 (含预等待)
	EventFinish   Event = "FINISH"   // 最后一个动作正常结束
	EventStop     Event = "STOP"     // STOP 或 context 取消
	EventFinalize Event = "FINALIZE" // 安全关断和日志收尾完成，回到空闲
)

// FSM 是一次配方运行的有限状态机
// IDLE -> INITIALIZING -> RUNNING -> {COMPLETED, ABORTED} -> IDLE
type FSM struct {
	Current State
	mu      sync.Mutex
	// transitions 定义状态转移表: CurrentState -> Event -> NextState
	transitions map[State]map[Event]State
	// callbacks 定义进入状态后的回调: State -> func()
	callbacks map[State]func(runID string)
	RunID     string
	logger    *slog.Logger
}

// New 创建处于 IDLE 状态的状态机，logger 可为 nil
func New(runID string, logger *slog.Logger) *FSM {
	f := &FSM{
		Current:     types.StatusIdle,
		RunID:       runID,
		transitions: make(map[State]map[Event]State),
		callbacks:   make(map[State]func(string)),
		logger:      logger,
	}
	f.initTransitions()
	return f
}

func (f *FSM) initTransitions() {
	f.addTransition(types.StatusIdle, EventGo, types.StatusInitializing)

	f.addTransition(types.StatusInitializing, EventReady, types.StatusRunning)
	f.addTransition(types.StatusInitializing, EventStop, types.StatusAborted) // 预等待期间停止

	f.addTransition(types.StatusRunning, EventFinish, types.StatusCompleted)
	f.addTransition(types.StatusRunning, EventStop, types.StatusAborted)

	f.addTransition(types.StatusCompleted, EventFinalize, types.StatusIdle)
	f.addTransition(types.StatusAborted, EventFinalize, types.StatusIdle)
}

func (f *FSM) addTransition(from State, event Event, to State) {
	if _, ok := f.transitions[from]; !ok {
		f.transitions[from] = make(map[Event]State)
	}
	f.transitions[from][event] = to
}

// RegisterCallback 注册状态进入时的回调
func (f *FSM) RegisterCallback(state State, callback func(runID string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks[state] = callback
}

// State 返回当前状态
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Current
}

// Fire 触发事件
func (f *FSM) Fire(event Event) error {
	f.mu.Lock()

	// 查找合法的转移
	nextState, ok := f.transitions[f.Current][event]
	if !ok {
		current := f.Current
		f.mu.Unlock()
		return fmt.Errorf("invalid transition: cannot fire event %s from state %s", event, current)
	}

	prevState := f.Current
	f.Current = nextState
	cb := f.callbacks[nextState]
	f.mu.Unlock()

	if f.logger != nil {
		f.logger.Debug("状态转移", "run_id", f.RunID, "from", prevState, "to", nextState, "event", event)
	}

	// 回调在锁外同步执行，回调中可以安全地再次调用 Fire
	if cb != nil {
		cb(f.RunID)
	}
	return nil
}
