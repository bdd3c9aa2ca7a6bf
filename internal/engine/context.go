package engine

import (
	"io"
	"log/slog"
	"time"

	"ald-reactor/internal/actuator"
	"ald-reactor/internal/clock"
	"ald-reactor/internal/persistence"
)

// Policy 定义引擎对故障的处理策略
type Policy struct {
	// AbortOnActuatorFailure 为 true 时任何执行器失败都会强制结束运行
	// 默认 false：报告失败并继续运行 (如等离子体设置失败时记录 plasma_active No)
	AbortOnActuatorFailure bool
	// ActuatorTimeout 限定单条执行器命令的 I/O 时长
	ActuatorTimeout time.Duration
}

// DefaultActuatorTimeout 是未配置时单条执行器命令的超时
const DefaultActuatorTimeout = 2 * time.Second

// ReactorContext 是启动时构造一次、显式传给引擎的依赖集合
// 执行器和射频电源连接是进程级独占资源，只能通过这里访问
type ReactorContext struct {
	Actuator actuator.Actuator
	Sink     Sink
	RunLog   *persistence.RunLog
	Clock    clock.Clock
	Logger   *slog.Logger
	Policy   Policy
}

// withDefaults 为未设置的依赖填入默认实现
func (rc ReactorContext) withDefaults() ReactorContext {
	if rc.Sink == nil {
		rc.Sink = NopSink{}
	}
	if rc.Clock == nil {
		rc.Clock = clock.Real{}
	}
	if rc.Logger == nil {
		rc.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if rc.RunLog == nil {
		rc.RunLog = persistence.NewRunLog("Logs")
	}
	if rc.Policy.ActuatorTimeout <= 0 {
		rc.Policy.ActuatorTimeout = DefaultActuatorTimeout
	}
	return rc
}
