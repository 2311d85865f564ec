package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Source 标记缓存正文所在的存储层。
type Source string

const (
	SourceMemory Source = "memory"
	SourceDisk   Source = "disk"
)

// Valid 表示 Source 是否为已知的存储层。
func (s Source) Valid() bool {
	return s == SourceMemory || s == SourceDisk
}

// ErrNotFound 表示存储层中不存在对应正文。
var ErrNotFound = errors.New("storage: body not found")

// Tier 是内存层与磁盘层共享的读写契约，key 为缓存键原文，由实现自行哈希。
type Tier interface {
	Source() Source
	// Save 写入完整正文并返回定位符（内存句柄或文件路径）。
	Save(ctx context.Context, key string, body []byte) (string, error)
	// Get 读取完整正文，不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete 删除正文，不存在时视为成功。
	Delete(ctx context.Context, key string) error
}

// HashKey 返回缓存键的 sha256 十六进制摘要，作为两层共用的定位基础。
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// BytesToMB 将字节数换算为 MB。
func BytesToMB(size int64) float64 {
	return float64(size) / (1024 * 1024)
}

// Decide 根据正文大小选择存储层：不超过阈值进入内存，超过阈值落盘。
func Decide(sizeMB, thresholdMB float64) Source {
	if sizeMB > thresholdMB {
		return SourceDisk
	}
	return SourceMemory
}

// Tiers 聚合两层存储与分层阈值，供缓存流水线按大小路由读写与回收。
type Tiers struct {
	Memory      Tier
	Disk        Tier
	ThresholdMB float64
}

// Decide 以字节数为输入做分层判定，与写入时使用同一阈值。
func (t Tiers) Decide(size int64) Source {
	return Decide(BytesToMB(size), t.ThresholdMB)
}

// For 返回 Source 对应的存储层。
func (t Tiers) For(source Source) Tier {
	if source == SourceDisk {
		return t.Disk
	}
	return t.Memory
}
