package persistence

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Record 是从日志文件中读回的一次运行
type Record struct {
	Path   string
	Values map[string]string // 同一 key 出现多次时以最后一行为准
	Keys   []string          // key 首次出现的顺序
}

// Get 返回 key 的最后一个值
func (r *Record) Get(key string) (string, bool) {
	v, ok := r.Values[key]
	return v, ok
}

// RunID 由文件名中的时间戳部分得出
func (r *Record) RunID() string {
	base := strings.TrimSuffix(filepath.Base(r.Path), filepath.Ext(r.Path))
	id, _, _ := strings.Cut(base, "_")
	return id
}

// Recipe 返回 recipe 字段
func (r *Record) Recipe() string {
	return r.Values[KeyRecipe]
}

// Started 返回 start 字段解析出的时间
func (r *Record) Started() (time.Time, bool) {
	v, ok := r.Values[KeyStart]
	if !ok {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(RecordTimeLayout, v, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CyclesDone 返回最后一个 cycles_done 值
func (r *Record) CyclesDone() (int, bool) {
	v, ok := r.Values[KeyCyclesDone]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Interrupted 表示日志有 start 但没有 ending，即运行过程中进程退出
func (r *Record) Interrupted() bool {
	_, started := r.Values[KeyStart]
	_, ended := r.Values[KeyEnding]
	return started && !ended
}

// ReadRecord 解析一个运行日志文件
func ReadRecord(path string) (*Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rec := &Record{Path: path, Values: make(map[string]string)}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		if _, seen := rec.Values[key]; !seen {
			rec.Keys = append(rec.Keys, key)
		}
		rec.Values[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rec, nil
}

// ScanInterrupted 在启动时扫描日志目录，返回未写入 ending 的运行
// 目录不存在时返回空结果
func ScanInterrupted(dir string) ([]*Record, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".txt" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var interrupted []*Record
	for _, name := range names {
		rec, err := ReadRecord(filepath.Join(dir, name))
		if err != nil {
			// 忽略无法读取的文件
			continue
		}
		if rec.Interrupted() {
			interrupted = append(interrupted, rec)
		}
	}
	return interrupted, nil
}
