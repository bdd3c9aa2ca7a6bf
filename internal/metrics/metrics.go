package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 定义 Prometheus 监控指标
var (
	// RunsTotal 计数器：结束的运行总数
	// 按配方和结束方式 (normal/forced) 分类
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reactor_runs_total",
		Help: "The total number of finished recipe runs",
	}, []string{"recipe", "ending"})

	// RunActive 仪表盘：当前是否有配方在运行 (0/1)
	RunActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reactor_run_active",
		Help: "Whether a recipe run currently owns the reactor",
	})

	// ActuatorFailures 计数器：执行器命令失败次数，按操作 (gas/rf/power) 分类
	ActuatorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reactor_actuator_failures_total",
		Help: "The total number of failed actuator commands",
	}, []string{"op"})

	// RunLogWriteFailures 计数器：运行日志写入失败次数
	RunLogWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reactor_runlog_write_failures_total",
		Help: "The total number of failed run log writes",
	})

	// CyclesCompleted 计数器：完成的外层循环数
	CyclesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reactor_cycles_completed_total",
		Help: "The total number of completed outer cycles",
	}, []string{"recipe"})

	// StepDuration 直方图：各类步骤的保持时长
	// 脉冲通常为毫秒级，吹扫为数十秒
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reactor_step_duration_seconds",
		Help:    "Hold time of executed recipe steps",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 900},
	}, []string{"kind"})
)
