package recipe

import (
	"fmt"
	"math"
	"strings"
	"time"

	"ald-reactor/internal/types"
)

// Op 是单条执行器命令的类型
type Op string

const (
	GasOn  Op = "gas_on"
	GasOff Op = "gas_off"
	RFOn   Op = "rf_on"
	RFOff  Op = "rf_off"
)

// Command 是一条有序执行的执行器命令
type Command struct {
	Op   Op
	Line types.Line // 仅 gas 命令有值
}

func (c Command) String() string {
	if c.Line != "" {
		return fmt.Sprintf("%s(%s)", c.Op, c.Line)
	}
	return string(c.Op)
}

// Action 是 RunPlan 中的一个具体动作：先执行 Commands，再保持 Seconds
type Action struct {
	Kind      StepKind
	Actor     Actor
	StepIndex int     // 对应 Plan.Labels 的索引
	Cycle     int     // 外层循环序号，从 1 开始
	SubCycle  int     // 子循环序号，从 1 开始；0 表示不在子循环块内
	Seconds   float64 // 保持时长
	Commands  []Command
	EndsCycle bool // 该动作结束后一个外层循环完成
}

// Duration 返回保持时长
func (a Action) Duration() time.Duration {
	return types.Seconds(a.Seconds)
}

// Plan 是配方模板对参数解析后的运行计划
type Plan struct {
	Recipe    *Recipe
	Params    types.Params
	Labels    []string // 界面上显示的步骤列表
	Actions   []Action
	Total     float64 // 定时部分总时长 (秒)，按配方公式计算
	PerCycle  float64 // 单个外层循环时长，用于强制结束时估算已完成循环数
	Cycles    int     // 上报的外层循环数 (单步配方为 1)
	SubCycles int     // 上报的子循环数 N2 (无子循环块为 0)

	Wait        time.Duration // 运行前等待
	IncludeWait bool          // 预等待是否计入 Estimate
}

// TotalDuration 返回定时部分总时长
func (p *Plan) TotalDuration() time.Duration {
	return types.Seconds(p.Total)
}

// Estimate 返回向操作员展示的预计时长
func (p *Plan) Estimate() time.Duration {
	if p.IncludeWait {
		return p.TotalDuration() + p.Wait
	}
	return p.TotalDuration()
}

// WaitAction 将运行前等待表示为一个不操作执行器的 Idle 动作，没有预等待时返回 false
func (p *Plan) WaitAction() (Action, bool) {
	if p.Wait <= 0 {
		return Action{}, false
	}
	return Action{Kind: Idle, Actor: NoActor, StepIndex: -1, Seconds: p.Wait.Seconds()}, true
}

// Option 调整解析行为
type Option func(*Plan)

// WithWait 覆盖配方默认的预等待设置 (来自配置文件)
func WithWait(wait time.Duration, includeInEstimate bool) Option {
	return func(p *Plan) {
		p.Wait = wait
		p.IncludeWait = includeInEstimate
	}
}

// Resolve 将配方模板解析为运行计划。纯函数，无副作用
func Resolve(kind Kind, params types.Params, opts ...Option) (*Plan, error) {
	r, err := Get(kind)
	if err != nil {
		return nil, err
	}
	return r.Resolve(params, opts...)
}

// Resolve 将当前配方解析为运行计划
func (r *Recipe) Resolve(params types.Params, opts ...Option) (*Plan, error) {
	if err := Validate(params); err != nil {
		return nil, err
	}
	total, err := r.Estimate(params)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Recipe:      r,
		Params:      params,
		Labels:      r.labels(params),
		Total:       total,
		Wait:        r.Wait,
		IncludeWait: r.IncludeWaitInEstimate,
	}
	for _, opt := range opts {
		opt(plan)
	}
	if plan.Wait < 0 {
		return nil, fmt.Errorf("%w: wait must be >= 0", types.ErrInvalidParameter)
	}

	if !r.Cyclic {
		plan.Cycles = 1
		plan.PerCycle = total
		plan.Actions = r.expandCycle(params, 1, 1)
		markCycleEnd(plan.Actions)
		return plan, nil
	}

	plan.Cycles = params.Cycles
	if r.hasInner() {
		plan.SubCycles = params.InnerRepeats
	}
	if params.Cycles > 0 {
		plan.PerCycle = total / float64(params.Cycles)
	}
	for i := 1; i <= params.Cycles; i++ {
		cycle := r.expandCycle(params, i, params.InnerRepeats)
		markCycleEnd(cycle)
		plan.Actions = append(plan.Actions, cycle...)
	}
	return plan, nil
}

// Validate 拒绝负时长、负次数以及非有限数
func Validate(p types.Params) error {
	durations := []struct {
		name  string
		value float64
	}{
		{"t1", p.Pulse1}, {"p1", p.Purge1}, {"t2", p.Pulse2}, {"p2", p.Purge2}, {"plasma", p.PlasmaPowerW},
	}
	for _, d := range durations {
		if math.IsNaN(d.value) || math.IsInf(d.value, 0) || d.value < 0 {
			return fmt.Errorf("%w: %s must be a finite value >= 0, got %v", types.ErrInvalidParameter, d.name, d.value)
		}
	}
	if p.Cycles < 0 {
		return fmt.Errorf("%w: N must be >= 0, got %d", types.ErrInvalidParameter, p.Cycles)
	}
	if p.InnerRepeats < 0 {
		return fmt.Errorf("%w: N2 must be >= 0, got %d", types.ErrInvalidParameter, p.InnerRepeats)
	}
	return nil
}

func (r *Recipe) hasInner() bool {
	for _, s := range r.Steps {
		if s.Inner {
			return true
		}
	}
	return false
}

// expandCycle 展开一个外层循环：先执行外层步骤，再将子循环块重复 inner 次
func (r *Recipe) expandCycle(p types.Params, cycle, inner int) []Action {
	var actions []Action
	var block []int
	for i, s := range r.Steps {
		if s.Inner {
			block = append(block, i)
			continue
		}
		actions = append(actions, r.action(p, i, cycle, 0))
	}
	if len(block) == 0 {
		return actions
	}
	for j := 1; j <= inner; j++ {
		for _, i := range block {
			actions = append(actions, r.action(p, i, cycle, j))
		}
	}
	return actions
}

func (r *Recipe) action(p types.Params, stepIndex, cycle, sub int) Action {
	s := r.Steps[stepIndex]
	return Action{
		Kind:      s.Kind,
		Actor:     s.Actor,
		StepIndex: stepIndex,
		Cycle:     cycle,
		SubCycle:  sub,
		Seconds:   paramSeconds(p, s.Param),
		Commands:  commands(s, p),
	}
}

// commands 生成步骤的执行器命令序列
// 开: [切断载气] -> 开气 -> [开 RF]；关: [关 RF] -> 关气 -> [恢复载气]
func commands(s Step, p types.Params) []Command {
	line := s.Actor.Line()
	// 只在 N2 子循环的前驱体 2 步骤切断载气，与日志中的 cut_carrier 一致
	cutCarrier := s.Inner && s.Actor == Precursor2 && p.CutCarrierDuringPulse2

	var cmds []Command
	switch s.Kind {
	case PulseGas, Plasma:
		if cutCarrier {
			cmds = append(cmds, Command{Op: GasOff, Line: types.LineCarrier})
		}
		if line != "" {
			cmds = append(cmds, Command{Op: GasOn, Line: line})
		}
		if s.RF {
			cmds = append(cmds, Command{Op: RFOn})
		}
	case PurgeGas:
		if s.RF {
			cmds = append(cmds, Command{Op: RFOff})
		}
		if line != "" {
			cmds = append(cmds, Command{Op: GasOff, Line: line})
		}
		if cutCarrier {
			cmds = append(cmds, Command{Op: GasOn, Line: types.LineCarrier})
		}
	}
	return cmds
}

func markCycleEnd(actions []Action) {
	if len(actions) > 0 {
		actions[len(actions)-1].EndsCycle = true
	}
}

func (r *Recipe) labels(p types.Params) []string {
	labels := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		gas := p.Precursor1
		if s.Actor == Precursor2 {
			gas = p.Precursor2
		}
		seconds := paramSeconds(p, s.Param)
		duration := types.FormatSeconds(seconds) + " s"
		if s.Millis {
			duration = fmt.Sprintf("%d ms", int(math.Round(seconds*1000)))
		}
		labels[i] = strings.NewReplacer("{gas}", gas, "{duration}", duration).Replace(s.LabelFormat)
	}
	return labels
}

// LogFields 返回运行开始时写入运行日志的参数块 (recipe 和 start 由 RunLog 写入)
func (p *Plan) LogFields() []types.Field {
	params := p.Params
	fields := make([]types.Field, 0, len(p.Recipe.LogKeys))
	for _, key := range p.Recipe.LogKeys {
		var value string
		switch key {
		case "t1", "p1", "t2", "p2":
			value = types.FormatSeconds(paramSeconds(params, key))
		case "N":
			value = fmt.Sprint(params.Cycles)
		case "N2":
			value = fmt.Sprint(params.InnerRepeats)
		case "plasma":
			value = types.FormatSeconds(params.PlasmaPowerW)
		case "time_per_cycle":
			value = types.FormatDuration(types.Seconds(p.PerCycle))
		default:
			continue
		}
		fields = append(fields, types.Field{Key: key, Value: value})
	}
	if p.Params.CutCarrierDuringPulse2 && p.Recipe.hasInner() {
		fields = append(fields, types.Field{Key: "cut_carrier", Value: "Yes"})
	}
	return fields
}
