package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter 参数非法 (负时长或负次数)，运行不会启动
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrUnknownRecipe 未知的配方类型
	ErrUnknownRecipe = errors.New("unknown recipe")
	// ErrRunActive 已有配方在运行，GO 被拒绝
	ErrRunActive = errors.New("a run is already active")
)

// ActuatorError 表示执行器传输层失败 (I2C / RS232 / 以太网)
// 引擎在本地恢复：记录日志、通知操作员，运行继续
type ActuatorError struct {
	Op   string // gas / rf / power
	Line Line   // 仅 gas 操作时有值
	Err  error
}

func (e *ActuatorError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("actuator %s %s: %v", e.Op, e.Line, e.Err)
	}
	return fmt.Sprintf("actuator %s: %v", e.Op, e.Err)
}

func (e *ActuatorError) Unwrap() error { return e.Err }

// LogWriteError 表示运行日志写入失败，审计日志尽力而为，不影响运行
type LogWriteError struct {
	RunID string
	Err   error
}

func (e *LogWriteError) Error() string {
	return fmt.Sprintf("run log %s: %v", e.RunID, e.Err)
}

func (e *LogWriteError) Unwrap() error { return e.Err }

// ValidationError 表示发往设备的命令参数越界 (如 MKS 通道号)
type ValidationError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s must be between %g and %g, got %g", e.Field, e.Min, e.Max, e.Value)
}
