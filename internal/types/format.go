package types

import (
	"fmt"
	"strconv"
	"time"
)

// TimestampLayout 是运行 ID 和日志文件名使用的时间格式
const TimestampLayout = "2006-01-02-15:04:05"

// Field 是运行日志中的一行 key/value
type Field struct {
	Key   string
	Value string
}

// FormatSeconds 以最短形式输出秒数 (0.015, 40, 180.03)
func FormatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// FormatDuration 以 H:MM:SS[.ffffff] 的形式输出时长，与历史日志格式保持一致
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	micros := d.Microseconds()
	secs := micros / 1e6
	frac := micros % 1e6
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	if frac == 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d:%02d.%06d", h, m, s, frac)
}

// Seconds 将浮点秒转换为 time.Duration (四舍五入到纳秒)
func Seconds(s float64) time.Duration {
	return time.Duration(s*float64(time.Second) + 0.5)
}
