package actuator

import (
	"context"
	"fmt"
	"sync"

	"ald-reactor/internal/types"
)

// Recorder 记录收到的全部命令，可按命令注入失败，用于测试
// 命令格式: gas_on(precursor1) / gas_off(carrier) / rf_on / rf_off / power(300)
type Recorder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error

	// OnCall 在每条命令记录之后调用 (可为 nil)
	OnCall func(call string)
}

func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[string]error)}
}

// FailOn 让指定命令返回 err
func (r *Recorder) FailOn(call string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[call] = err
}

// Calls 返回已记录命令的副本
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Reset 清空已记录的命令
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) SetGas(ctx context.Context, line types.Line, on bool) error {
	op := "gas_off"
	if on {
		op = "gas_on"
	}
	return r.record(fmt.Sprintf("%s(%s)", op, line))
}

func (r *Recorder) SetRF(ctx context.Context, on bool) error {
	if on {
		return r.record("rf_on")
	}
	return r.record("rf_off")
}

func (r *Recorder) SetPlasmaPower(ctx context.Context, watts float64) error {
	return r.record(fmt.Sprintf("power(%s)", types.FormatSeconds(watts)))
}

func (r *Recorder) record(call string) error {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	err := r.fail[call]
	hook := r.OnCall
	r.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return err
}
