package dashboard

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"ApartmentFinder/src/datasource/file"
	"ApartmentFinder/src/processor"
)

// ErrNotLoaded 还没有可用的清洗数据
var ErrNotLoaded = errors.New("清洗数据尚未加载")

// Store 持有当前的清洗结果，Table本身不可变，只替换指针
type Store struct {
	path     string
	opts     file.Options
	naValues []string

	mu       sync.RWMutex
	table    *processor.Table
	loadedAt time.Time
}

func NewStore(path string, opts file.Options, naValues []string) *Store {
	return &Store{path: path, opts: opts, naValues: naValues}
}

// Path 清洗结果文件路径
func (s *Store) Path() string { return s.path }

// Load 读取清洗结果文件(csv/xlsx)并校验表头，只做列投影不再清洗
func (s *Store) Load() error {
	records, err := file.ReadRecords(s.path, s.opts)
	if err != nil {
		return err
	}
	table, err := processor.LoadTable(records, s.naValues)
	if err != nil {
		return fmt.Errorf("加载 %s 失败: %w", s.path, err)
	}
	s.Set(table)
	return nil
}

// Set 替换当前表
func (s *Store) Set(t *processor.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = t
	s.loadedAt = time.Now()
}

// Table 当前表，未加载时返回ErrNotLoaded
func (s *Store) Table() (*processor.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.table == nil {
		return nil, ErrNotLoaded
	}
	return s.table, nil
}

func (s *Store) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}
