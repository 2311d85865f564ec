package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/http/httpguts"

	"github.com/quik-cdn/quik-edge/internal/storage"
)

// snapshotVersion 标记快照格式，格式不兼容时整体丢弃。
const snapshotVersion = 1

type snapshotFile struct {
	Version int              `json:"version"`
	Entries []snapshotRecord `json:"entries"`
}

type snapshotRecord struct {
	Key                    string         `json:"key"`
	Size                   int64          `json:"size"`
	Expires                int64          `json:"expires"`
	MaxAgeMs               int64          `json:"maxAgeMs"`
	StaleWhileRevalidateMs int64          `json:"staleWhileRevalidateMs"`
	StaleIfErrorMs         int64          `json:"staleIfErrorMs"`
	ETag                   string         `json:"etag,omitempty"`
	LastModified           string         `json:"lastModified,omitempty"`
	Headers                Header         `json:"headers"`
	Path                   string         `json:"path"`
	Source                 storage.Source `json:"source"`
}

// SaveSnapshot 将磁盘层条目按给定顺序（LRU → MRU）原子写入 path。
// 内存层条目在重启后没有正文，因此不会写入快照。
func SaveSnapshot(path string, entries []Entry) error {
	file := snapshotFile{Version: snapshotVersion, Entries: make([]snapshotRecord, 0, len(entries))}
	for _, e := range entries {
		if e.Source != storage.SourceDisk {
			continue
		}
		file.Entries = append(file.Entries, snapshotRecord{
			Key:                    e.Key,
			Size:                   e.Size,
			Expires:                e.Expires.UnixMilli(),
			MaxAgeMs:               e.MaxAge.Milliseconds(),
			StaleWhileRevalidateMs: e.StaleWhileRevalidate.Milliseconds(),
			StaleIfErrorMs:         e.StaleIfError.Milliseconds(),
			ETag:                   e.ETag,
			LastModified:           e.LastModified,
			Headers:                e.Header,
			Path:                   e.Path,
			Source:                 e.Source,
		})
	}

	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-snapshot-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// SkippedRecord 描述加载快照时被丢弃的记录。
type SkippedRecord struct {
	Key    string
	Reason string
}

// LoadSnapshot 读取快照并返回可恢复的条目（LRU → MRU）。文件不存在时返回空结果；
// 校验失败的单条记录被跳过并在 skipped 中说明原因，不会中断加载。
func LoadSnapshot(path string) (entries []Entry, skipped []SkippedRecord, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read snapshot: %w", err)
	}

	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if file.Version != snapshotVersion {
		return nil, nil, fmt.Errorf("unsupported snapshot version %d", file.Version)
	}

	for _, record := range file.Entries {
		if reason := validateRecord(record); reason != "" {
			skipped = append(skipped, SkippedRecord{Key: record.Key, Reason: reason})
			continue
		}
		maxAge := time.Duration(record.MaxAgeMs) * time.Millisecond
		entries = append(entries, Entry{
			Key:                  record.Key,
			Size:                 record.Size,
			Expires:              time.UnixMilli(record.Expires),
			MaxAge:               maxAge,
			StaleWhileRevalidate: time.Duration(record.StaleWhileRevalidateMs) * time.Millisecond,
			StaleIfError:         time.Duration(record.StaleIfErrorMs) * time.Millisecond,
			ETag:                 record.ETag,
			LastModified:         record.LastModified,
			Header:               record.Headers,
			Path:                 record.Path,
			Source:               record.Source,
		})
	}
	return entries, skipped, nil
}

func validateRecord(record snapshotRecord) string {
	switch {
	case record.Key == "":
		return "empty key"
	case record.Source != storage.SourceDisk:
		return "non-disk source"
	case record.Size < 0 || record.MaxAgeMs < 0 || record.StaleWhileRevalidateMs < 0 || record.StaleIfErrorMs < 0:
		return "negative field"
	case record.Path == "":
		return "empty path"
	}
	for _, field := range record.Headers {
		if !httpguts.ValidHeaderFieldName(field.Name) || !httpguts.ValidHeaderFieldValue(field.Value) {
			return "invalid header"
		}
	}
	info, err := os.Stat(record.Path)
	if err != nil || info.IsDir() {
		return "missing body"
	}
	if info.Size() != record.Size {
		return "size mismatch"
	}
	return ""
}

// Persister 在索引变更后异步重写快照。多次 MarkDirty 会合并为一次写入。
type Persister struct {
	path    string
	entries func() []Entry
	logger  *logrus.Logger
	dirty   chan struct{}
}

// NewPersister 构造快照写入器，entries 通常为 Index.Entries。
func NewPersister(path string, entries func() []Entry, logger *logrus.Logger) *Persister {
	return &Persister{
		path:    path,
		entries: entries,
		logger:  logger,
		dirty:   make(chan struct{}, 1),
	}
}

// MarkDirty 通知需要重写快照，永不阻塞。
func (p *Persister) MarkDirty() {
	if p == nil {
		return
	}
	select {
	case p.dirty <- struct{}{}:
	default:
	}
}

// Run 在 ctx 结束前持续处理脏标记，退出前不会自动落盘，由调用方执行 Flush。
func (p *Persister) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.dirty:
			if err := p.Flush(); err != nil {
				p.logger.WithFields(logrus.Fields{
					"action": "snapshot",
					"path":   p.path,
				}).WithError(err).Warn("snapshot_write_failed")
			}
		}
	}
}

// Flush 立即同步写出当前索引。
func (p *Persister) Flush() error {
	return SaveSnapshot(p.path, p.entries())
}
