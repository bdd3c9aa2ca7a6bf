package actuator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"ald-reactor/internal/types"

	"go.bug.st/serial"
)

// mksRanges 是 RA 命令返回的量程代码到满量程 (SCCM) 的映射
var mksRanges = map[int]float64{
	0: 1, 1: 2, 2: 5, 3: 10, 4: 20, 5: 50, 6: 100, 7: 200, 8: 500, 9: 1000,
	10: 2000, 11: 5000, 12: 10000, 13: 20000, 14: 50000, 15: 100000,
	16: 200000, 17: 400000, 18: 500000, 38: 30000, 39: 300000,
}

// ErrReadTimeout 表示控制器在超时时间内没有返回完整的一行
var ErrReadTimeout = errors.New("mks: read timeout")

// MKS 是 MKS 多通道流量控制器的 RS232 驱动
// 命令以 "\r\n" 结尾，查询命令返回一行文本
type MKS struct {
	port   io.ReadWriteCloser
	logger *slog.Logger
	mu     sync.Mutex
}

// OpenMKS 打开串口: 9600 波特率，8 数据位，奇校验，1 停止位
func OpenMKS(portName string, readTimeout time.Duration, logger *slog.Logger) (*MKS, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.OddParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	if readTimeout > 0 {
		if err := port.SetReadTimeout(readTimeout); err != nil {
			port.Close()
			return nil, err
		}
	}
	return NewMKS(port, logger.With("port", portName)), nil
}

// NewMKS 在已打开的连接上创建驱动
func NewMKS(port io.ReadWriteCloser, logger *slog.Logger) *MKS {
	return &MKS{port: port, logger: logger.With("component", "mks")}
}

func (m *MKS) Close() error {
	return m.port.Close()
}

// OnAll 打开全部通道
func (m *MKS) OnAll() error { return m.send("ON 0") }

// OffAll 关闭全部通道
func (m *MKS) OffAll() error { return m.send("OF 0") }

// On 打开通道 (0 表示全部)
func (m *MKS) On(channel int) error {
	if err := checkChannel(channel, 0); err != nil {
		return err
	}
	return m.send(fmt.Sprintf("ON %d", channel))
}

// Off 关闭通道 (0 表示全部)
func (m *MKS) Off(channel int) error {
	if err := checkChannel(channel, 0); err != nil {
		return err
	}
	return m.send(fmt.Sprintf("OF %d", channel))
}

// CorrectionFactor 读取通道的气体校正系数
func (m *MKS) CorrectionFactor(channel int) (float64, error) {
	if err := checkChannel(channel, 1); err != nil {
		return 0, err
	}
	v, err := m.queryFloat(fmt.Sprintf("GC %d R", channel))
	if err != nil {
		return 0, err
	}
	return v / 100, nil
}

// Range 返回通道的满量程 (SCCM)，已乘以校正系数
func (m *MKS) Range(channel int) (float64, error) {
	factor, err := m.CorrectionFactor(channel)
	if err != nil {
		return 0, err
	}
	code, err := m.queryFloat(fmt.Sprintf("RA %d R", channel))
	if err != nil {
		return 0, err
	}
	sccm, ok := mksRanges[int(code)]
	if !ok {
		return 0, fmt.Errorf("mks: unknown range code %v on channel %d", code, channel)
	}
	return sccm * factor, nil
}

// SetSetpoint 设置通道流量设定值 (SCCM)，以满量程的千分比发送
func (m *MKS) SetSetpoint(channel int, sccm float64) error {
	if err := checkChannel(channel, 1); err != nil {
		return err
	}
	full, err := m.Range(channel)
	if err != nil {
		return err
	}
	if sccm < 0 || sccm > full {
		return &types.ValidationError{Field: "setpoint", Value: sccm, Min: 0, Max: full}
	}
	permil := int(sccm * 1000 / full)
	return m.send(fmt.Sprintf("FS %d %d", channel, permil))
}

// ActualFlow 读取通道实际流量 (SCCM)
func (m *MKS) ActualFlow(channel int) (float64, error) {
	if err := checkChannel(channel, 1); err != nil {
		return 0, err
	}
	full, err := m.Range(channel)
	if err != nil {
		return 0, err
	}
	v, err := m.queryFloat(fmt.Sprintf("FL %d", channel))
	if err != nil {
		return 0, err
	}
	return v / 1000 * full, nil
}

func checkChannel(channel, lowest int) error {
	if channel < lowest || channel > 4 {
		return &types.ValidationError{Field: "channel", Value: float64(channel), Min: float64(lowest), Max: 4}
	}
	return nil
}

func (m *MKS) send(cmd string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Debug("发送命令", "cmd", cmd)
	_, err := io.WriteString(m.port, cmd+"\r\n")
	return err
}

func (m *MKS) queryFloat(cmd string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug("发送查询", "cmd", cmd)
	if _, err := io.WriteString(m.port, cmd+"\r\n"); err != nil {
		return 0, err
	}
	line, err := m.readLine()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return 0, fmt.Errorf("mks: bad reply to %q: %w", cmd, err)
	}
	return v, nil
}

// readLine 逐字节读取到 '\n'。串口读超时时 Read 返回 (0, nil)
func (m *MKS) readLine() (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := m.port.Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "", ErrReadTimeout
		}
		if buf[0] == '\n' {
			return sb.String(), nil
		}
		sb.WriteByte(buf[0])
	}
}

// MKSLine 将 MKS 控制器的一个通道作为气路开关 (通常是载气)
type MKSLine struct {
	MKS     *MKS
	Channel int
}

func (l *MKSLine) SetGas(ctx context.Context, line types.Line, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if on {
		return l.MKS.On(l.Channel)
	}
	return l.MKS.Off(l.Channel)
}
