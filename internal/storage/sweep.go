package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// SweepTemp 删除早于 now-retention 的孤立临时文件，返回删除数量。
// 正在写入的临时文件修改时间足够新，不会被误删。
func (d *DiskTier) SweepTemp(now time.Time, retention time.Duration) (int, error) {
	cutoff := now.Add(-retention)
	removed := 0
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if entry.IsDir() || !isTempFile(entry.Name()) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

// Sweeper 周期性清理磁盘层的孤立临时文件。
type Sweeper struct {
	Disk      *DiskTier
	Interval  time.Duration
	Retention time.Duration
	Logger    *logrus.Logger
	Now       func() time.Time
}

// Run 阻塞运行直到 ctx 结束；单次清理失败只记录日志，不终止循环。
func (s Sweeper) Run(ctx context.Context) error {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := s.Disk.SweepTemp(now(), s.Retention)
			fields := logrus.Fields{
				"action":  "sweep_temp",
				"root":    s.Disk.Root(),
				"removed": removed,
			}
			if err != nil {
				s.Logger.WithFields(fields).WithError(err).Warn("sweep_failed")
				continue
			}
			if removed > 0 {
				s.Logger.WithFields(fields).Info("sweep_complete")
			}
		}
	}
}
