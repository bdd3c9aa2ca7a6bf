package actuator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"ald-reactor/internal/types"
)

const (
	// RelayBoardAddr 是继电器扩展板的 I2C 地址
	RelayBoardAddr = 0x10
	relayOn        = 0xFF
	relayOff       = 0x00
	relayCount     = 4
)

// DefaultRelayMap 是气路到继电器通道的默认接线
var DefaultRelayMap = map[types.Line]int{
	types.LinePrecursor1: 1,
	types.LinePrecursor2: 2,
	types.LineCarrier:    3,
}

// ErrInjected 是模拟板按失败率注入的传输错误
var ErrInjected = errors.New("simulated transport failure")

// BoardState 是模拟板当前寄存器和射频电源状态的快照
type BoardState struct {
	Relays       map[int]bool        `json:"relays"`
	Lines        map[types.Line]bool `json:"lines"`
	RFOn         bool                `json:"rf_on"`
	PlasmaPowerW float64             `json:"plasma_power_w"`
}

// Simulated 模拟 I2C 继电器板 (地址 0x10，通道 1..4) 和射频电源
// 用于开发环境和 relay-gateway 服务
type Simulated struct {
	relayMap map[types.Line]int
	logger   *slog.Logger

	// Latency 模拟总线延迟；FailRate 为每次调用注入传输错误的概率
	Latency  time.Duration
	FailRate float64

	mu        sync.Mutex
	registers [relayCount + 1]byte // 下标即通道号，0 不使用
	rfOn      bool
	powerW    float64
}

// NewSimulated 创建模拟板，relayMap 为空时使用默认接线
func NewSimulated(relayMap map[types.Line]int, logger *slog.Logger) (*Simulated, error) {
	if len(relayMap) == 0 {
		relayMap = DefaultRelayMap
	}
	m := make(map[types.Line]int, len(relayMap))
	for line, ch := range relayMap {
		if ch < 1 || ch > relayCount {
			return nil, &types.ValidationError{Field: "relay channel for " + string(line), Value: float64(ch), Min: 1, Max: relayCount}
		}
		m[line] = ch
	}
	return &Simulated{
		relayMap: m,
		logger:   logger.With("component", "simulated_board", "i2c_addr", fmt.Sprintf("0x%02x", RelayBoardAddr)),
	}, nil
}

// SetGas 写继电器寄存器: 0xFF 吸合 (开阀)，0x00 释放
func (s *Simulated) SetGas(ctx context.Context, line types.Line, on bool) error {
	ch, ok := s.relayMap[line]
	if !ok {
		return fmt.Errorf("no relay wired for line %q", line)
	}
	if err := s.bus(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	value := byte(relayOff)
	if on {
		value = relayOn
	}
	s.registers[ch] = value
	s.logger.Debug("写继电器寄存器", "line", line, "relay", ch, "value", fmt.Sprintf("0x%02X", value))
	return nil
}

// SetRF 开关射频输出
func (s *Simulated) SetRF(ctx context.Context, on bool) error {
	if err := s.bus(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rfOn = on
	s.logger.Debug("射频输出", "on", on, "power_w", s.powerW)
	return nil
}

// SetPlasmaPower 设置射频功率设定值
func (s *Simulated) SetPlasmaPower(ctx context.Context, watts float64) error {
	if err := s.bus(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.powerW = watts
	s.logger.Debug("射频功率设定", "power_w", watts)
	return nil
}

// State 返回当前状态快照
func (s *Simulated) State() BoardState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := BoardState{
		Relays:       make(map[int]bool, relayCount),
		Lines:        make(map[types.Line]bool, len(s.relayMap)),
		RFOn:         s.rfOn,
		PlasmaPowerW: s.powerW,
	}
	for ch := 1; ch <= relayCount; ch++ {
		st.Relays[ch] = s.registers[ch] == relayOn
	}
	for line, ch := range s.relayMap {
		st.Lines[line] = s.registers[ch] == relayOn
	}
	return st
}

// bus 模拟一次总线传输的耗时和失败
func (s *Simulated) bus(ctx context.Context) error {
	if s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.FailRate > 0 && rand.Float64() < s.FailRate {
		return ErrInjected
	}
	return nil
}
