package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// tempPrefix 标记尚未发布的临时文件，Sweeper 只清理该前缀的文件。
const tempPrefix = ".tmp-"

// DiskTier 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<root>/<hash[:2]>/<hash>            # 已发布的正文
//	<root>/<hash[:2]>/.tmp-<hash>-*     # 写入中的临时文件
//
// 写入通过临时文件 + rename 保证原子性，并发读者不会看到半个文件。
type DiskTier struct {
	root string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// NewDiskTier 以 root 为根目录构建磁盘层，整个进程复用一份实例。
func NewDiskTier(root string) (*DiskTier, error) {
	if root == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &DiskTier{
		root:  abs,
		locks: make(map[string]*entryLock),
	}, nil
}

// Root 返回磁盘层根目录。
func (d *DiskTier) Root() string {
	return d.root
}

func (d *DiskTier) Source() Source {
	return SourceDisk
}

// Path 返回缓存键对应的正文文件路径。
func (d *DiskTier) Path(key string) string {
	hashed := HashKey(key)
	return filepath.Join(d.root, hashed[:2], hashed)
}

func (d *DiskTier) Save(ctx context.Context, key string, body []byte) (string, error) {
	hashed := HashKey(key)
	unlock := d.lockEntry(hashed)
	defer unlock()

	filePath := d.Path(key)
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	tempFile, err := os.CreateTemp(dir, tempPrefix+hashed+"-*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, bytes.NewReader(body))
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return "", err
	}
	return filePath, nil
}

func (d *DiskTier) Get(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath := d.Path(key)
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	body, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return body, nil
}

func (d *DiskTier) Delete(ctx context.Context, key string) error {
	unlock := d.lockEntry(HashKey(key))
	defer unlock()

	if err := os.Remove(d.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (d *DiskTier) lockEntry(hashed string) func() {
	d.mu.Lock()
	lock := d.locks[hashed]
	if lock == nil {
		lock = &entryLock{}
		d.locks[hashed] = lock
	}
	lock.refs++
	d.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		d.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(d.locks, hashed)
		}
		d.mu.Unlock()
	}
}

func isTempFile(name string) bool {
	return strings.HasPrefix(name, tempPrefix)
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
