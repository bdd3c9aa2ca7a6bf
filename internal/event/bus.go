package event

import (
	"sync"
	"time"

	"ald-reactor/internal/types"
)

// EventType 定义事件的类型
type EventType string

// 定义所有运行事件类型
const (
	RunStatusChanged EventType = "RunStatusChanged" // 运行状态变化 (FSM 进入新状态)
	CycleStarted     EventType = "CycleStarted"     // 外层循环开始
	SubCycleStarted  EventType = "SubCycleStarted"  // 子循环开始
	StepStarted      EventType = "StepStarted"      // 步骤开始执行
	Tick             EventType = "Tick"             // 倒计时刷新
	EstimateUpdated  EventType = "EstimateUpdated"  // 预计时长和结束时间
	Alert            EventType = "Alert"            // 需要操作员关注的错误
)

// Event 结构体定义了事件的数据负载，按类型只填充相关字段
type Event struct {
	Type EventType

	State types.RunState // RunStatusChanged

	Index  int      // 循环 / 子循环序号 (从 1 开始) 或步骤索引 (从 0 开始)
	Count  int      // 循环 / 子循环总数
	Labels []string // StepStarted: 步骤列表

	StepRemaining  time.Duration // Tick
	TotalRemaining time.Duration // Tick
	Estimate       time.Duration // EstimateUpdated
	ETA            time.Time     // EstimateUpdated

	Error error // Alert
}

// Handler 是事件处理函数的签名
type Handler func(e Event)

// Bus 是一个简单的内存事件总线
// 处理器在发布者的 goroutine 中按订阅顺序同步执行，保证进度事件的顺序
// 处理器不能阻塞，耗时操作需自行转交给其他 goroutine
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler // 存储事件类型到多个处理函数的映射
}

// NewBus 创建一个新的事件总线实例
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe 订阅一个特定类型的事件
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish 发布一个事件，所有订阅了该事件类型的处理器都将被调用
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := b.handlers[e.Type]
	b.mu.RUnlock()

	// 在锁外调用，处理器中可以继续订阅或发布
	for _, handler := range handlers {
		handler(e)
	}
}
