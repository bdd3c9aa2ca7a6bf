package recipe

import (
	"fmt"
	"strings"
	"time"

	"ald-reactor/internal/types"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
)

// Kind 是配方类型 ID，同时用作配置文件中的 key (viper 会将 key 转为小写)
type Kind string

const (
	ALD            Kind = "ald"
	PEALD          Kind = "peald"
	CVD            Kind = "cvd"
	PECVD          Kind = "pecvd"
	PulsedCVD      Kind = "pulsed_cvd"
	PulsedPECVD    Kind = "pulsed_pecvd"
	Purge          Kind = "purge"
	PlasmaCleaning Kind = "plasma_cleaning"
)

// StepKind 抽象步骤类型
type StepKind string

const (
	PulseGas StepKind = "PulseGas"
	PurgeGas StepKind = "PurgeGas"
	Plasma   StepKind = "Plasma"
	Idle     StepKind = "Idle"
)

// Actor 表示步骤作用的前驱体
type Actor string

const (
	Precursor1 Actor = "Precursor1"
	Precursor2 Actor = "Precursor2"
	NoActor    Actor = "None"
)

// Line 返回 Actor 对应的气路
func (a Actor) Line() types.Line {
	switch a {
	case Precursor1:
		return types.LinePrecursor1
	case Precursor2:
		return types.LinePrecursor2
	}
	return ""
}

// Step 是步骤模板中的一个抽象步骤
type Step struct {
	Kind        StepKind
	Actor       Actor
	Param       string // 时长取自哪个参数: t1 / p1 / t2 / p2
	LabelFormat string // 支持 {gas} 和 {duration} 占位符
	Millis      bool   // 标签中时长以毫秒显示
	RF          bool   // 脉冲步骤: 开气后开 RF；吹扫步骤: 关气前关 RF
	Inner       bool   // 属于 N2 子循环块
}

// Recipe 是配方目录中的一条声明式定义
type Recipe struct {
	Kind    Kind
	Name    string   // 显示名称，同时用于日志文件名
	Steps   []Step   // 有序步骤模板
	Cyclic  bool     // 是否按 N 次外层循环执行
	Plasma  bool     // 初始化阶段需要设置等离子体功率
	Formula string   // 总时长公式 (expr 语法)
	LogKeys []string // 写入运行日志的参数 key

	// Wait 是运行前的等待倒计时 (载气稳定)，不计入定时总时长
	Wait                  time.Duration
	IncludeWaitInEstimate bool

	program *vm.Program
}

// formulaEnv 定义公式可用的变量，仅用于编译期类型检查
var formulaEnv = map[string]interface{}{
	"t1": 0.0, "p1": 0.0, "t2": 0.0, "p2": 0.0, "N": 0.0, "N2": 0.0,
}

const cycleFormula = "(t1 + p1 + (t2 + p2) * N2) * N"

var catalog = []*Recipe{
	{
		Kind: ALD, Name: "ALD", Cyclic: true, Formula: cycleFormula,
		LogKeys: []string{"t1", "p1", "t2", "p2", "N", "N2", "time_per_cycle"},
		Steps: []Step{
			{Kind: PulseGas, Actor: Precursor1, Param: "t1", LabelFormat: "Pulse {gas} – {duration}", Millis: true},
			{Kind: PurgeGas, Actor: Precursor1, Param: "p1", LabelFormat: "Purge {gas} – {duration}"},
			{Kind: PulseGas, Actor: Precursor2, Param: "t2", LabelFormat: "Pulse {gas} – {duration}", Inner: true},
			{Kind: PurgeGas, Actor: Precursor2, Param: "p2", LabelFormat: "Purge {gas} – {duration}", Inner: true},
		},
	},
	{
		Kind: PEALD, Name: "PEALD", Cyclic: true, Plasma: true, Formula: cycleFormula,
		LogKeys: []string{"t1", "p1", "t2", "p2", "N", "N2", "plasma", "time_per_cycle"},
		Steps: []Step{
			{Kind: PulseGas, Actor: Precursor1, Param: "t1", LabelFormat: "Pulse {gas} – {duration}", Millis: true},
			{Kind: PurgeGas, Actor: Precursor1, Param: "p1", LabelFormat: "Purge {gas} – {duration}"},
			{Kind: PulseGas, Actor: Precursor2, Param: "t2", LabelFormat: "Pulse {gas} + Plasma – {duration}", RF: true, Inner: true},
			{Kind: PurgeGas, Actor: Precursor2, Param: "p2", LabelFormat: "Purge {gas} – {duration}", RF: true, Inner: true},
		},
	},
	{
		Kind: CVD, Name: "CVD", Formula: "t1",
		LogKeys: []string{"t1", "time_per_cycle"},
		Steps: []Step{
			{Kind: PulseGas, Actor: Precursor1, Param: "t1", LabelFormat: "Pulse {gas} – {duration}"},
		},
	},
	{
		Kind: PulsedCVD, Name: "Pulsed CVD", Cyclic: true, Formula: "(t1 + p1) * N",
		LogKeys: []string{"t1", "p1", "N", "time_per_cycle"},
		Steps: []Step{
			{Kind: PulseGas, Actor: Precursor1, Param: "t1", LabelFormat: "Pulse {gas} – {duration}", Millis: true},
			{Kind: PurgeGas, Actor: Precursor1, Param: "p1", LabelFormat: "Purge {gas} – {duration}"},
		},
	},
	{
		Kind: PECVD, Name: "PECVD", Plasma: true, Formula: "t1",
		LogKeys: []string{"t1", "plasma", "time_per_cycle"},
		Steps: []Step{
			{Kind: PulseGas, Actor: Precursor1, Param: "t1", LabelFormat: "Pulse {gas} + Plasma – {duration}", RF: true},
		},
	},
	{
		Kind: PulsedPECVD, Name: "Pulsed PECVD", Cyclic: true, Plasma: true, Formula: cycleFormula,
		LogKeys: []string{"t1", "p1", "t2", "p2", "N", "N2", "plasma", "time_per_cycle"},
		Steps: []Step{
			{Kind: PulseGas, Actor: Precursor1, Param: "t1", LabelFormat: "Pulse {gas} – {duration}", Millis: true},
			{Kind: PurgeGas, Actor: Precursor1, Param: "p1", LabelFormat: "Purge {gas} – {duration}"},
			{Kind: Plasma, Actor: Precursor2, Param: "t2", LabelFormat: "Plasma – {duration}", RF: true, Inner: true},
			{Kind: PurgeGas, Actor: Precursor2, Param: "p2", LabelFormat: "Purge – {duration}", RF: true, Inner: true},
		},
	},
	{
		Kind: Purge, Name: "Purge", Formula: "t1",
		LogKeys: []string{"t1"},
		Steps: []Step{
			{Kind: PulseGas, Actor: Precursor1, Param: "t1", LabelFormat: "Pulse {gas} – {duration}"},
		},
	},
	{
		Kind: PlasmaCleaning, Name: "Plasma Cleaning", Plasma: true, Formula: "t2",
		LogKeys: []string{"t2", "plasma"},
		Steps: []Step{
			{Kind: Plasma, Actor: Precursor2, Param: "t2", LabelFormat: "Pulse {gas} – {duration}", RF: true},
		},
	},
}

var byKind = make(map[Kind]*Recipe)

func init() {
	for _, r := range catalog {
		program, err := expr.Compile(r.Formula, expr.Env(formulaEnv), expr.AsFloat64())
		if err != nil {
			panic(fmt.Sprintf("recipe %s: formula %q: %v", r.Kind, r.Formula, err))
		}
		r.program = program
		byKind[r.Kind] = r
	}
}

// Catalog 按界面顺序返回所有配方
func Catalog() []*Recipe {
	out := make([]*Recipe, len(catalog))
	copy(out, catalog)
	return out
}

// Get 按类型 ID 查找配方
func Get(kind Kind) (*Recipe, error) {
	r, ok := byKind[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownRecipe, kind)
	}
	return r, nil
}

// Lookup 接受类型 ID 或显示名称，大小写不敏感 ("Pulsed PECVD", "pulsed_pecvd", "ALD")
func Lookup(name string) (*Recipe, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, " ", "_")
	if r, ok := byKind[Kind(key)]; ok {
		return r, nil
	}
	for _, r := range catalog {
		if strings.EqualFold(r.Name, strings.TrimSpace(name)) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", types.ErrUnknownRecipe, name)
}

// Estimate 计算声明的总时长公式 (秒)
func (r *Recipe) Estimate(p types.Params) (float64, error) {
	out, err := expr.Run(r.program, formulaVars(p))
	if err != nil {
		return 0, fmt.Errorf("recipe %s: evaluate formula: %w", r.Kind, err)
	}
	total, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("recipe %s: formula result is not a number", r.Kind)
	}
	return total, nil
}

func formulaVars(p types.Params) map[string]interface{} {
	return map[string]interface{}{
		"t1": p.Pulse1, "p1": p.Purge1, "t2": p.Pulse2, "p2": p.Purge2,
		"N": float64(p.Cycles), "N2": float64(p.InnerRepeats),
	}
}

func paramSeconds(p types.Params, key string) float64 {
	switch key {
	case "t1":
		return p.Pulse1
	case "p1":
		return p.Purge1
	case "t2":
		return p.Pulse2
	case "p2":
		return p.Purge2
	}
	return 0
}
