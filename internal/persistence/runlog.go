package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ald-reactor/internal/types"
)

// RecordTimeLayout 是 start / end 字段的时间格式
const RecordTimeLayout = "2006-01-02 15:04:05"

// 运行日志中使用的 key
const (
	KeyRecipe     = "recipe"
	KeyStart      = "start"
	KeyEnd        = "end"
	KeyDuration   = "duration"
	KeyEnding     = "ending"
	KeyCyclesDone = "cycles_done"
	KeyPlasma     = "plasma_active"
	KeyReason     = "reason"
)

// EndRecord 是运行结束时写入的字段
type EndRecord struct {
	End        time.Time
	Ending     types.Ending
	Duration   time.Duration
	CyclesDone int // < 0 表示不写入
}

// RunLog 是每次运行一个文本文件的追加式审计日志
// 每行格式为 "key<padding>value"，写入后立即 fsync
type RunLog struct {
	dir   string
	mu    sync.Mutex
	files map[string]*os.File // runID -> 文件句柄
	paths map[string]string   // runID -> 文件路径
}

// NewRunLog 创建运行日志，目录在第一次 Start 时创建
func NewRunLog(dir string) *RunLog {
	return &RunLog{
		dir:   dir,
		files: make(map[string]*os.File),
		paths: make(map[string]string),
	}
}

// Dir 返回日志目录
func (l *RunLog) Dir() string {
	return l.dir
}

// PathFor 返回运行日志文件路径: <dir>/<runID>_<recipe>.txt
func (l *RunLog) PathFor(runID, recipeName string) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s_%s.txt", runID, recipeName))
}

// Exists 表示该运行的日志文件是否已在磁盘上
func (l *RunLog) Exists(runID, recipeName string) bool {
	_, err := os.Stat(l.PathFor(runID, recipeName))
	return err == nil
}

// Start 创建日志文件并写入参数块
func (l *RunLog) Start(runID, recipeName string, start time.Time, fields []types.Field) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.paths[runID] = l.PathFor(runID, recipeName)

	lines := make([]types.Field, 0, len(fields)+2)
	lines = append(lines,
		types.Field{Key: KeyRecipe, Value: recipeName},
		types.Field{Key: KeyStart, Value: start.Format(RecordTimeLayout)},
	)
	lines = append(lines, fields...)
	return l.write(runID, lines...)
}

// Checkpoint 追加一行 cycles_done，读取时以最后一行为准
func (l *RunLog) Checkpoint(runID string, cycle, cycles int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(runID, types.Field{Key: KeyCyclesDone, Value: fmt.Sprint(cycle)})
}

// Note 追加一行附加信息 (如 plasma_active No)
func (l *RunLog) Note(runID, key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(runID, types.Field{Key: key, Value: value})
}

// End 写入结束块并关闭文件
func (l *RunLog) End(runID string, rec EndRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines := []types.Field{
		{Key: KeyEnd, Value: rec.End.Format(RecordTimeLayout)},
		{Key: KeyDuration, Value: types.FormatDuration(rec.Duration.Truncate(time.Second))},
		{Key: KeyEnding, Value: string(rec.Ending)},
	}
	if rec.CyclesDone >= 0 {
		lines = append(lines, types.Field{Key: KeyCyclesDone, Value: fmt.Sprint(rec.CyclesDone)})
	}
	err := l.write(runID, lines...)

	if f, ok := l.files[runID]; ok {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &types.LogWriteError{RunID: runID, Err: cerr}
		}
		delete(l.files, runID)
	}
	delete(l.paths, runID)
	return err
}

// Close 关闭所有仍打开的日志文件
func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var first error
	for id, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(l.files, id)
	}
	return first
}

// write 必须在持有锁时调用
// 文件在首次写入时打开，上一次打开失败 (如磁盘未挂载) 的运行会在后续写入时重试
func (l *RunLog) write(runID string, lines ...types.Field) error {
	f, err := l.open(runID)
	if err != nil {
		return &types.LogWriteError{RunID: runID, Err: err}
	}

	var buf []byte
	for _, line := range lines {
		buf = append(buf, formatLine(line.Key, line.Value)...)
	}
	if _, err := f.Write(buf); err != nil {
		return &types.LogWriteError{RunID: runID, Err: err}
	}
	// 确保数据被刷新到磁盘，断电后仍可重建运行进度
	if err := f.Sync(); err != nil {
		return &types.LogWriteError{RunID: runID, Err: err}
	}
	return nil
}

func (l *RunLog) open(runID string) (*os.File, error) {
	if f, ok := l.files[runID]; ok {
		return f, nil
	}
	path, ok := l.paths[runID]
	if !ok {
		return nil, fmt.Errorf("run %s was not started", runID)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	// O_APPEND: 追加写入, O_CREATE: 文件不存在则创建
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	l.files[runID] = f
	return f, nil
}

func formatLine(key, value string) string {
	return fmt.Sprintf("%-15s  %s\n", key, value)
}
