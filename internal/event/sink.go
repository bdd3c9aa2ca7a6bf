package event

import (
	"time"

	"ald-reactor/internal/types"
)

// Sink 把引擎的进度回调转换为总线事件
type Sink struct {
	bus *Bus
}

// NewSink 创建发布到 bus 的进度接收器
func NewSink(bus *Bus) *Sink {
	return &Sink{bus: bus}
}

func (s *Sink) OnCycle(i, n int) {
	s.bus.Publish(Event{Type: CycleStarted, Index: i, Count: n})
}

func (s *Sink) OnSubCycle(j, n int) {
	s.bus.Publish(Event{Type: SubCycleStarted, Index: j, Count: n})
}

func (s *Sink) OnStep(index int, labels []string) {
	s.bus.Publish(Event{Type: StepStarted, Index: index, Labels: labels})
}

func (s *Sink) OnTick(stepRemaining, totalRemaining time.Duration) {
	s.bus.Publish(Event{Type: Tick, StepRemaining: stepRemaining, TotalRemaining: totalRemaining})
}

func (s *Sink) OnEstimate(total time.Duration, eta time.Time) {
	s.bus.Publish(Event{Type: EstimateUpdated, Estimate: total, ETA: eta})
}

func (s *Sink) OnStatus(state types.RunState) {
	s.bus.Publish(Event{Type: RunStatusChanged, State: state})
}

func (s *Sink) OnAlert(err error) {
	s.bus.Publish(Event{Type: Alert, Error: err})
}
