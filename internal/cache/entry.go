package cache

import (
	"time"

	"github.com/quik-cdn/quik-edge/internal/storage"
)

// Entry 描述一个已缓存的响应：新鲜度窗口、校验器、响应头以及正文所在位置。
// Entry 按值传递；304 续期时通过 Index.Set 写入新副本，不在原地修改。
type Entry struct {
	Key                  string
	Size                 int64
	Expires              time.Time
	MaxAge               time.Duration
	StaleWhileRevalidate time.Duration
	StaleIfError         time.Duration
	ETag                 string
	LastModified         string
	Header               Header
	Path                 string
	Source               storage.Source
}

// StoredAt 返回写入（或最近一次续期）时间，即 Expires - MaxAge。
func (e Entry) StoredAt() time.Time {
	return e.Expires.Add(-e.MaxAge)
}

// Clone 返回头信息独立的副本。
func (e Entry) Clone() Entry {
	e.Header = e.Header.Clone()
	return e
}
