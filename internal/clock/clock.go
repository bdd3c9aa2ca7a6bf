package clock

import (
	"sync"
	"time"
)

// Clock 抽象时间源，使倒计时可以在测试中脱离真实时钟
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real 使用系统单调时钟
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake 是自动推进的假时钟：每次 After 立即把当前时间推进 d 并返回已就绪的通道
// 引擎的整个运行在测试中瞬间完成，但虚拟时间与真实运行一致
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake 创建一个从 start 开始的假时钟
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	if d > 0 {
		f.now = f.now.Add(d)
	}
	now := f.now
	f.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance 手动推进时间
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
