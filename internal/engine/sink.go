package engine

import (
	"time"

	"ald-reactor/internal/types"
)

// Sink 接收运行进度，只做观察，不影响运行
// 所有方法在运行 goroutine 中同步调用，实现不能阻塞
type Sink interface {
	OnCycle(i, n int)
	OnSubCycle(j, n int)
	OnStep(index int, labels []string)
	OnTick(stepRemaining, totalRemaining time.Duration)
	OnEstimate(total time.Duration, eta time.Time)
	OnStatus(state types.RunState)
	// OnAlert 是面向操作员的错误通道 (执行器失败、日志写入失败)
	OnAlert(err error)
}

// NopSink 丢弃所有进度
type NopSink struct{}

func (NopSink) OnCycle(int, int)                    {}
func (NopSink) OnSubCycle(int, int)                 {}
func (NopSink) OnStep(int, []string)                {}
func (NopSink) OnTick(time.Duration, time.Duration) {}
func (NopSink) OnEstimate(time.Duration, time.Time) {}
func (NopSink) OnStatus(types.RunState)             {}
func (NopSink) OnAlert(error)                       {}

// Sinks 将进度依次转发给多个 Sink
type Sinks []Sink

func (s Sinks) OnCycle(i, n int) {
	for _, sink := range s {
		sink.OnCycle(i, n)
	}
}

func (s Sinks) OnSubCycle(j, n int) {
	for _, sink := range s {
		sink.OnSubCycle(j, n)
	}
}

func (s Sinks) OnStep(index int, labels []string) {
	for _, sink := range s {
		sink.OnStep(index, labels)
	}
}

func (s Sinks) OnTick(stepRemaining, totalRemaining time.Duration) {
	for _, sink := range s {
		sink.OnTick(stepRemaining, totalRemaining)
	}
}

func (s Sinks) OnEstimate(total time.Duration, eta time.Time) {
	for _, sink := range s {
		sink.OnEstimate(total, eta)
	}
}

func (s Sinks) OnStatus(state types.RunState) {
	for _, sink := range s {
		sink.OnStatus(state)
	}
}

func (s Sinks) OnAlert(err error) {
	for _, sink := range s {
		sink.OnAlert(err)
	}
}
