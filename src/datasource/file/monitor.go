// monitor.go
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileMonitor 监听单个文件的变化。监听的是所在目录，
// 这样原子重命名替换文件后仍能收到事件。
type FileMonitor struct {
	path    string
	watcher *fsnotify.Watcher
	lastMod time.Time
	lastLen int64
	mu      sync.Mutex
}

func NewFileMonitor(path string) (*FileMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听失败: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("监听目录 %s 失败: %w", dir, err)
	}

	m := &FileMonitor{path: filepath.Clean(path), watcher: watcher}
	if info, err := os.Stat(path); err == nil {
		m.lastMod, m.lastLen = info.ModTime(), info.Size()
	}
	return m, nil
}

// Watch 阻塞直到ctx取消或监听关闭，文件内容变化时调用handler
func (m *FileMonitor) Watch(ctx context.Context, handler func(string)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != m.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if m.changed() {
				handler(m.path)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("文件监听出错: %w", err)
		}
	}
}

// changed 修改时间或大小与上次不同
func (m *FileMonitor) changed() bool {
	info, err := os.Stat(m.path)
	if err != nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if info.ModTime().Equal(m.lastMod) && info.Size() == m.lastLen {
		return false
	}
	m.lastMod, m.lastLen = info.ModTime(), info.Size()
	return true
}

func (m *FileMonitor) Close() error {
	return m.watcher.Close()
}
