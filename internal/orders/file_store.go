package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileStore JSON文件订单库。文件整体载入内存，
// 可选地监控文件变化并自动重载。
type FileStore struct {
	path string

	mu     sync.RWMutex
	orders map[string]Order

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewFileStore 载入订单文件并创建存储
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path:   path,
		stopCh: make(chan struct{}),
	}

	if err := fs.reload(); err != nil {
		return nil, err
	}

	return fs, nil
}

// reload 重新读取订单文件
func (fs *FileStore) reload() error {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return fmt.Errorf("read orders file failed: %w", err)
	}

	var orders map[string]Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return fmt.Errorf("parse orders file %s failed: %w", fs.path, err)
	}

	fs.mu.Lock()
	fs.orders = orders
	fs.mu.Unlock()

	log.Printf("Orders database loaded: %s (%d orders)", fs.path, len(orders))
	return nil
}

// Watch 监控订单文件变化并自动重载。重载失败时保留旧数据。
func (fs *FileStore) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher failed: %w", err)
	}

	// 监听所在目录，编辑器保存常用rename+create而非直接write
	if err := watcher.Add(filepath.Dir(fs.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch orders dir failed: %w", err)
	}

	fs.watcher = watcher
	fs.wg.Add(1)

	go func() {
		defer fs.wg.Done()

		for {
			select {
			case <-fs.stopCh:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(fs.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := fs.reload(); err != nil {
					log.Printf("Orders reload failed, keeping previous data: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Orders watcher error: %v", err)
			}
		}
	}()

	return nil
}

// Close 停止文件监控
func (fs *FileStore) Close() error {
	close(fs.stopCh)

	var err error
	if fs.watcher != nil {
		err = fs.watcher.Close()
	}
	fs.wg.Wait()
	return err
}

// Lookup 按订单号精确查询
func (fs *FileStore) Lookup(ctx context.Context, orderNumber string) (Order, error) {
	key := NormalizeOrderNumber(orderNumber)

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	order, ok := fs.orders[key]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// SearchByPhone 按归一化号码线性扫描全部订单
func (fs *FileStore) SearchByPhone(ctx context.Context, phone string) (Order, error) {
	target := NormalizePhone(phone)
	if target == "" {
		return nil, ErrOrderNotFound
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	for _, order := range fs.orders {
		if NormalizePhone(customerPhone(order)) == target {
			return order, nil
		}
	}

	return nil, ErrOrderNotFound
}

// Len 当前载入的订单数量
func (fs *FileStore) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.orders)
}
