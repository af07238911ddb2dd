package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileKV persists every key into a single JSON object on disk, the way a
// browser keeps localStorage for one origin. Each write rewrites the file
// through a temp file and rename.
type FileKV struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
}

// OpenFileKV loads path, creating its directory when needed. A missing file
// is an empty store.
func OpenFileKV(path string) (*FileKV, error) {
	if path == "" {
		return nil, errors.New("存储文件路径为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	kv := &FileKV{path: path, values: make(map[string]string)}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return kv, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取存储文件失败: %w", err)
	}
	if len(content) == 0 {
		return kv, nil
	}
	if err := json.Unmarshal(content, &kv.values); err != nil {
		return nil, fmt.Errorf("解析存储文件失败: %w", err)
	}
	if kv.values == nil {
		kv.values = make(map[string]string)
	}
	return kv, nil
}

func (f *FileKV) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *FileKV) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.values[key]
	f.values[key] = value
	if err := f.flushLocked(); err != nil {
		if had {
			f.values[key] = prev
		} else {
			delete(f.values, key)
		}
		return err
	}
	return nil
}

func (f *FileKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.values[key]
	if !had {
		return nil
	}
	delete(f.values, key)
	if err := f.flushLocked(); err != nil {
		f.values[key] = prev
		return err
	}
	return nil
}

func (f *FileKV) Close() error { return nil }

func (f *FileKV) flushLocked() error {
	encoded, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化存储失败: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return fmt.Errorf("写入存储文件失败: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("替换存储文件失败: %w", err)
	}
	return nil
}
