package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"ald-reactor/internal/actuator"
	"ald-reactor/internal/fsm"
	"ald-reactor/internal/metrics"
	"ald-reactor/internal/persistence"
	"ald-reactor/internal/recipe"
	"ald-reactor/internal/types"
	"ald-reactor/internal/util"
)

// tickInterval 是倒计时的刷新粒度，最后一个 tick 可以小于 1 秒
const tickInterval = time.Second

// Engine 负责执行运行计划，驱动执行器、上报进度并写运行日志
// 引擎持有唯一的运行槽，同一时刻最多一个运行
type Engine struct {
	rc     ReactorContext
	logger *slog.Logger

	mu     sync.Mutex
	active *Run           // 占用运行槽的运行，空闲时为 nil
	last   types.RunState // 最近一次运行结束后的状态

	lastStamp string // 最近一次分配的运行 ID 的时间戳部分
	seq       int    // 同一秒内已分配的运行数
}

// New 创建引擎
func New(rc ReactorContext) *Engine {
	rc = rc.withDefaults()
	return &Engine{
		rc:     rc,
		logger: rc.Logger.With("component", "engine"),
		last:   types.RunState{Status: types.StatusIdle},
	}
}

// Busy 表示运行槽是否被占用
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active != nil
}

// Snapshot 返回当前运行状态的副本，空闲时返回最近一次运行的最终状态
func (e *Engine) Snapshot() types.RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return e.active.state
	}
	return e.last
}

// Run 依次执行 Start 和 Execute，阻塞到运行结束
func (e *Engine) Run(ctx context.Context, plan *recipe.Plan) (types.Result, error) {
	r, err := e.Start(plan)
	if err != nil {
		return types.Result{}, err
	}
	return r.Execute(ctx), nil
}

// Start 占用运行槽并生成运行 ID，运行槽已被占用时返回 ErrRunActive
func (e *Engine) Start(plan *recipe.Plan) (*Run, error) {
	if plan == nil || plan.Recipe == nil {
		return nil, fmt.Errorf("%w: empty plan", types.ErrInvalidParameter)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return nil, types.ErrRunActive
	}

	now := e.rc.Clock.Now()
	var timed time.Duration
	for _, a := range plan.Actions {
		timed += a.Duration()
	}
	r := &Run{
		e:     e,
		plan:  plan,
		start: now,
		timed: timed,
		state: types.RunState{
			RunID:          e.nextRunID(now, plan.Recipe.Name),
			Recipe:         plan.Recipe.Name,
			Status:         types.StatusIdle,
			StartedAt:      now,
			RemainingTotal: timed,
			Cycles:         plan.Cycles,
			SubCycles:      plan.SubCycles,
		},
	}
	e.active = r
	return r, nil
}

// nextRunID 以秒级时间戳作为运行 ID，同一秒内的后续运行追加 -2、-3 ...
// 必须在持有 e.mu 时调用
func (e *Engine) nextRunID(now time.Time, recipeName string) string {
	stamp := now.Format(types.TimestampLayout)
	if stamp == e.lastStamp {
		e.seq++
	} else {
		e.lastStamp, e.seq = stamp, 1
	}
	id := runID(stamp, e.seq)
	// 进程重启前同一秒写下的日志仍在磁盘上
	for e.rc.RunLog.Exists(id, recipeName) {
		e.seq++
		id = runID(stamp, e.seq)
	}
	return id
}

func runID(stamp string, seq int) string {
	if seq <= 1 {
		return stamp
	}
	return fmt.Sprintf("%s-%d", stamp, seq)
}

func (e *Engine) release(r *Run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == r {
		e.last = r.state
		e.active = nil
	}
}

// Run 是一次已占用运行槽的配方运行
type Run struct {
	e      *Engine
	plan   *recipe.Plan
	fsm    *fsm.FSM
	logger *slog.Logger

	start      time.Time     // GO 的时刻
	timedStart time.Time     // 定时部分开始的时刻
	running    bool          // 是否已进入定时部分
	timed      time.Duration // 全部动作的保持时长之和

	state    types.RunState // 由 e.mu 保护
	executed bool
}

// ID 返回运行 ID
func (r *Run) ID() string {
	return r.state.RunID
}

// Execute 执行运行直到完成或被取消，阻塞期间占用调用方 goroutine
// ctx 取消即 STOP：在 tick 边界检测，执行器命令本身不会被打断
func (r *Run) Execute(ctx context.Context) types.Result {
	if r.executed {
		return types.Result{RunID: r.ID(), Status: types.StatusIdle}
	}
	r.executed = true

	traceID, ok := util.TraceIDFromContext(ctx)
	if !ok {
		traceID = util.NewTraceID()
		ctx = util.ContextWithTraceID(ctx, traceID)
	}
	r.update(func(s *types.RunState) { s.TraceID = traceID })
	r.logger = r.e.logger.With("run_id", r.ID(), "recipe", r.plan.Recipe.Name, "trace_id", traceID)

	r.fsm = fsm.New(r.ID(), r.logger)
	for _, st := range []fsm.State{types.StatusInitializing, types.StatusRunning, types.StatusCompleted, types.StatusAborted} {
		r.fsm.RegisterCallback(st, func(string) { r.enter(st) })
	}
	r.fsm.RegisterCallback(types.StatusIdle, func(string) {
		r.update(func(s *types.RunState) { s.Status = types.StatusIdle })
		r.e.release(r)
		r.e.rc.Sink.OnStatus(r.snapshot())
	})

	_ = r.fsm.Fire(fsm.EventGo)
	r.logger.Info("配方开始运行", "total", r.plan.TotalDuration(), "cycles", r.plan.Cycles, "sub_cycles", r.plan.SubCycles)

	r.logWrite(r.e.rc.RunLog.Start(r.ID(), r.plan.Recipe.Name, r.start, r.plan.LogFields()))
	r.e.rc.Sink.OnEstimate(r.plan.Estimate(), r.start.Add(r.plan.Wait+r.timed))

	reason := r.initialize(ctx)
	if reason == nil {
		_ = r.fsm.Fire(fsm.EventReady)
		reason = r.execute(ctx)
	}
	if reason == nil {
		return r.complete(ctx)
	}
	return r.abort(ctx, reason)
}

// initialize 关闭射频和前驱体气路、恢复载气，等离子体配方设置功率，然后执行预等待
func (r *Run) initialize(ctx context.Context) error {
	if err := r.safeState(ctx, true); err != nil {
		return err
	}

	if r.plan.Recipe.Plasma {
		watts := r.plan.Params.PlasmaPowerW
		err := r.call(ctx, actuator.OpPower, "", func(c context.Context) error {
			return r.e.rc.Actuator.SetPlasmaPower(c, watts)
		})
		if err != nil {
			r.logWrite(r.e.rc.RunLog.Note(r.ID(), persistence.KeyPlasma, "No"))
			if r.e.rc.Policy.AbortOnActuatorFailure {
				return err
			}
		}
	}

	if wait, ok := r.plan.WaitAction(); ok {
		r.logger.Info("运行前等待", "wait", wait.Duration())
		if err := r.countdown(ctx, wait.Duration(), r.timed, r.plan.IncludeWait); err != nil {
			return err
		}
		metrics.StepDuration.WithLabelValues(string(wait.Kind)).Observe(wait.Seconds)
	}
	return nil
}

// execute 依次执行计划中的动作：先执行命令，再保持时长
func (r *Run) execute(ctx context.Context) error {
	r.timedStart = r.e.rc.Clock.Now()
	r.running = true

	sink := r.e.rc.Sink
	left := r.timed
	prevCycle, prevSub := 0, 0
	for _, a := range r.plan.Actions {
		if err := ctx.Err(); err != nil {
			return err
		}

		if a.Cycle != prevCycle {
			sink.OnCycle(a.Cycle, r.plan.Cycles)
		}
		if a.SubCycle > 0 && (a.SubCycle != prevSub || a.Cycle != prevCycle) {
			sink.OnSubCycle(a.SubCycle, r.plan.SubCycles)
		}
		prevCycle, prevSub = a.Cycle, a.SubCycle
		r.update(func(s *types.RunState) {
			s.Cycle = a.Cycle
			s.SubCycle = a.SubCycle
			s.StepIndex = a.StepIndex
		})
		sink.OnStep(a.StepIndex, r.plan.Labels)

		for _, c := range a.Commands {
			if err := r.apply(ctx, c); err != nil {
				return err
			}
		}

		hold := a.Duration()
		left -= hold
		if err := r.countdown(ctx, hold, left, true); err != nil {
			return err
		}
		metrics.StepDuration.WithLabelValues(string(a.Kind)).Observe(a.Seconds)

		if a.EndsCycle && r.plan.Recipe.Cyclic {
			r.logWrite(r.e.rc.RunLog.Checkpoint(r.ID(), a.Cycle, r.plan.Cycles))
			metrics.CyclesCompleted.WithLabelValues(r.plan.Recipe.Name).Inc()
		}
	}
	return nil
}

// countdown 以 1 秒为粒度保持 d，每个 tick 之前检查取消
// totalAfter 是本段之后剩余的定时总时长；includeStep 为 false 时本段不计入总剩余时长
func (r *Run) countdown(ctx context.Context, d, totalAfter time.Duration, includeStep bool) error {
	clk := r.e.rc.Clock
	deadline := clk.Now().Add(d)
	remaining := d
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		tick := tickInterval
		if remaining < tick {
			tick = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(tick):
		}

		now := clk.Now()
		remaining = deadline.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		total := totalAfter
		if includeStep {
			total += remaining
		}
		r.update(func(s *types.RunState) {
			s.Elapsed = now.Sub(r.start)
			s.RemainingTotal = total
		})
		r.e.rc.Sink.OnTick(remaining, total)
	}
	return nil
}

// apply 执行一条计划命令
func (r *Run) apply(ctx context.Context, c recipe.Command) error {
	act := r.e.rc.Actuator
	switch c.Op {
	case recipe.GasOn, recipe.GasOff:
		on := c.Op == recipe.GasOn
		return r.actuate(ctx, actuator.OpGas, c.Line, func(ctx context.Context) error {
			return act.SetGas(ctx, c.Line, on)
		})
	case recipe.RFOn, recipe.RFOff:
		on := c.Op == recipe.RFOn
		return r.actuate(ctx, actuator.OpRF, "", func(ctx context.Context) error {
			return act.SetRF(ctx, on)
		})
	}
	return fmt.Errorf("unknown command %q", c.Op)
}

// safeState 关闭射频和前驱体气路，载气恢复常开
// abortable 为 false 时 (安全关断) 忽略失败策略，始终执行全部命令
func (r *Run) safeState(ctx context.Context, abortable bool) error {
	cmds := []recipe.Command{
		{Op: recipe.RFOff},
		{Op: recipe.GasOff, Line: types.LinePrecursor1},
		{Op: recipe.GasOff, Line: types.LinePrecursor2},
		{Op: recipe.GasOn, Line: types.LineCarrier},
	}
	for _, c := range cmds {
		err := r.apply(ctx, c)
		if err != nil && abortable {
			return err
		}
	}
	return nil
}

// actuate 执行一条执行器命令；失败时上报，并按策略决定是否中止运行
func (r *Run) actuate(ctx context.Context, op string, line types.Line, fn func(context.Context) error) error {
	err := r.call(ctx, op, line, fn)
	if err != nil && r.e.rc.Policy.AbortOnActuatorFailure {
		return err
	}
	return nil
}

// call 在与运行取消解耦的 context 中执行命令，并以 ActuatorTimeout 限定 I/O 时长
func (r *Run) call(ctx context.Context, op string, line types.Line, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.e.rc.Policy.ActuatorTimeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	aerr := &types.ActuatorError{Op: op, Line: line, Err: err}
	metrics.ActuatorFailures.WithLabelValues(op).Inc()
	r.logger.Error("执行器命令失败", "op", op, "line", line, "error", err)
	r.e.rc.Sink.OnAlert(aerr)
	return aerr
}

func (r *Run) complete(ctx context.Context) types.Result {
	_ = r.fsm.Fire(fsm.EventFinish)
	_ = r.safeState(ctx, false)

	end := r.e.rc.Clock.Now()
	duration := end.Sub(r.start)
	r.logWrite(r.e.rc.RunLog.End(r.ID(), persistence.EndRecord{
		End: end, Ending: types.EndingNormal, Duration: duration, CyclesDone: -1,
	}))
	r.logger.Info("配方运行完成", "duration", duration)

	res := types.Result{RunID: r.ID(), Status: types.StatusCompleted, Ending: types.EndingNormal, Duration: duration}
	_ = r.fsm.Fire(fsm.EventFinalize)
	return res
}

// abort 立即安全关断，写入 ending forced、时长和估算的已完成循环数
func (r *Run) abort(ctx context.Context, reason error) types.Result {
	_ = r.fsm.Fire(fsm.EventStop)
	_ = r.safeState(ctx, false)

	end := r.e.rc.Clock.Now()
	duration := end.Sub(r.start)
	cyclesDone := r.cyclesDone(end)

	var aerr *types.ActuatorError
	if errors.As(reason, &aerr) {
		r.logWrite(r.e.rc.RunLog.Note(r.ID(), persistence.KeyReason, "actuator_failure"))
	}
	r.logWrite(r.e.rc.RunLog.End(r.ID(), persistence.EndRecord{
		End: end, Ending: types.EndingForced, Duration: duration, CyclesDone: cyclesDone,
	}))
	r.logger.Warn("配方运行被强制结束", "reason", reason, "duration", duration, "cycles_done", cyclesDone)

	res := types.Result{
		RunID:      r.ID(),
		Status:     types.StatusAborted,
		Ending:     types.EndingForced,
		Duration:   duration,
		CyclesDone: cyclesDone,
	}
	_ = r.fsm.Fire(fsm.EventFinalize)
	return res
}

// cyclesDone 估算已完成循环数: floor(定时部分已用时 / 单循环时长) + 1
// 定时部分开始之前结束的运行记为 0
func (r *Run) cyclesDone(end time.Time) int {
	if !r.running || r.plan.PerCycle <= 0 {
		return 0
	}
	elapsed := end.Sub(r.timedStart).Seconds()
	n := int(math.Floor(elapsed/r.plan.PerCycle)) + 1
	if r.plan.Cycles > 0 && n > r.plan.Cycles {
		n = r.plan.Cycles
	}
	return n
}

// enter 在 FSM 进入新状态后更新快照并通知 Sink
func (r *Run) enter(st fsm.State) {
	r.update(func(s *types.RunState) { s.Status = st })
	r.e.rc.Sink.OnStatus(r.snapshot())
}

// logWrite 运行日志失败不会中止运行，但必须让操作员看到
func (r *Run) logWrite(err error) {
	if err == nil {
		return
	}
	metrics.RunLogWriteFailures.Inc()
	r.logger.Error("运行日志写入失败", "error", err)
	r.e.rc.Sink.OnAlert(err)
}

func (r *Run) update(fn func(s *types.RunState)) {
	r.e.mu.Lock()
	defer r.e.mu.Unlock()
	fn(&r.state)
}

func (r *Run) snapshot() types.RunState {
	r.e.mu.Lock()
	defer r.e.mu.Unlock()
	return r.state
}
