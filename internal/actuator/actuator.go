package actuator

import (
	"context"

	"ald-reactor/internal/types"
)

// GasSetter 控制单条或多条气路的开关
type GasSetter interface {
	SetGas(ctx context.Context, line types.Line, on bool) error
}

// Actuator 定义引擎依赖的执行器能力
// 实现可以是本地继电器板、远程继电器网关或测试用的记录器
// 所有调用都是同步的，调用方负责通过 ctx 限定超时
type Actuator interface {
	GasSetter
	SetRF(ctx context.Context, on bool) error
	SetPlasmaPower(ctx context.Context, watts float64) error
}

// 执行器操作名，用于错误、日志和指标标签
const (
	OpGas   = "gas"
	OpRF    = "rf"
	OpPower = "power"
)
