package types

import "time"

// Line 定义气路 ID
// 使用字符串类型，方便在日志和配置中直接使用
type Line string

const (
	LinePrecursor1 Line = "precursor1" // 前驱体 1 阀门 (如 TEB)
	LinePrecursor2 Line = "precursor2" // 前驱体 2 / 等离子体气体阀门 (如 H2)
	LineCarrier    Line = "carrier"    // 载气 (Ar)，默认常开
)

// RunStatus 表示一次配方运行所处的状态，由 FSM 管理
type RunStatus string

const (
	StatusIdle         RunStatus = "IDLE"
	StatusInitializing RunStatus = "INITIALIZING"
	StatusRunning      RunStatus = "RUNNING"
	StatusCompleted    RunStatus = "COMPLETED"
	StatusAborted      RunStatus = "ABORTED"
)

// Ending 表示运行结束的方式，写入运行日志的 ending 字段
type Ending string

const (
	EndingNormal Ending = "normal"
	EndingForced Ending = "forced"
)

// Params 是一次运行的配方参数，运行开始后不可修改
// 时长统一以秒保存；界面上 t1 以毫秒输入，需先经 PulseFromMillis 转换
type Params struct {
	Pulse1                 float64 `json:"t1" mapstructure:"t1"`                   // 前驱体 1 脉冲时长 (s)
	Purge1                 float64 `json:"p1" mapstructure:"p1"`                   // 前驱体 1 吹扫时长 (s)
	Pulse2                 float64 `json:"t2" mapstructure:"t2"`                   // 前驱体 2 / 等离子体脉冲时长 (s)
	Purge2                 float64 `json:"p2" mapstructure:"p2"`                   // 前驱体 2 吹扫时长 (s)
	Cycles                 int     `json:"n" mapstructure:"n"`                     // 外层循环次数 N
	InnerRepeats           int     `json:"n2" mapstructure:"n2"`                   // 每个外层循环内前驱体 2 子循环次数 N2
	PlasmaPowerW           float64 `json:"plasma_w" mapstructure:"plasma_w"`       // 等离子体功率 (W)
	Precursor1             string  `json:"precursor1" mapstructure:"precursor1"`   // 前驱体 1 名称，仅用于显示和日志
	Precursor2             string  `json:"precursor2" mapstructure:"precursor2"`   // 前驱体 2 名称，仅用于显示和日志
	CutCarrierDuringPulse2 bool    `json:"cut_carrier" mapstructure:"cut_carrier"` // 前驱体 2 脉冲期间是否切断载气
}

// PulseFromMillis 将界面输入的毫秒转换为秒
func PulseFromMillis(ms float64) float64 {
	return ms / 1000
}

// RunState 是引擎独占持有的运行状态，对外只暴露快照
type RunState struct {
	RunID          string        `json:"run_id"`
	Recipe         string        `json:"recipe"`
	TraceID        string        `json:"trace_id,omitempty"`
	Status         RunStatus     `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	Elapsed        time.Duration `json:"elapsed"`
	RemainingTotal time.Duration `json:"remaining_total"`
	Cycle          int           `json:"cycle"`      // 当前外层循环 (从 1 开始)
	Cycles         int           `json:"cycles"`     // N
	SubCycle       int           `json:"sub_cycle"`  // 当前子循环 (从 1 开始，0 表示不在子循环内)
	SubCycles      int           `json:"sub_cycles"` // N2
	StepIndex      int           `json:"step_index"` // 当前步骤在步骤列表中的索引 (从 0 开始)
}

// Result 表示一次运行的最终结果
type Result struct {
	RunID      string        // 运行 ID
	Status     RunStatus     // COMPLETED 或 ABORTED
	Ending     Ending        // normal 或 forced
	Duration   time.Duration // 从 GO 到结束的总时长
	CyclesDone int           // 估算的已完成循环数，仅强制结束时有意义
}
