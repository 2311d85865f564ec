package routes

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/quik-cdn/quik-edge/internal/cache"
	"github.com/quik-cdn/quik-edge/internal/server"
)

// CacheInspector 是诊断接口对缓存流水线的只读视图，外加显式失效能力。
type CacheInspector interface {
	Entries() []cache.Entry
	Capacity() int
	Invalidate(key string) bool
	Now() time.Time
	PendingRevalidations() int64
}

// RegisterCacheRoutes 暴露 /-/cache 诊断接口：GET 查询索引概况，DELETE 按键失效。
func RegisterCacheRoutes(app *fiber.App, inspector CacheInspector, logger *logrus.Logger) {
	if app == nil || inspector == nil {
		return
	}

	app.Get("/-/cache", func(c fiber.Ctx) error {
		entries := inspector.Entries()
		return c.JSON(cachePayload{
			Capacity:             inspector.Capacity(),
			Length:               len(entries),
			PendingRevalidations: inspector.PendingRevalidations(),
			Entries:              encodeEntries(entries, inspector.Now()),
		})
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		key := strings.TrimSpace(c.Query("key"))
		if key == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cache_key_required"})
		}
		if !inspector.Invalidate(key) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_key_not_found"})
		}
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"action":     "invalidate",
				"cache_key":  key,
				"request_id": server.RequestID(c),
			}).Info("cache_invalidated")
		}
		return c.JSON(fiber.Map{"invalidated": key})
	})
}

type cachePayload struct {
	Capacity             int            `json:"capacity"`
	Length               int            `json:"length"`
	PendingRevalidations int64          `json:"pending_revalidations"`
	Entries              []entryPayload `json:"entries"`
}

type entryPayload struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	Source    string    `json:"source"`
	Expires   time.Time `json:"expires"`
	AgeSecond int       `json:"age_seconds"`
	Fresh     bool      `json:"fresh"`
	ETag      string    `json:"etag,omitempty"`
}

// encodeEntries 按 MRU 在前输出，便于查看最近访问的条目。
func encodeEntries(entries []cache.Entry, now time.Time) []entryPayload {
	result := make([]entryPayload, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		result = append(result, entryPayload{
			Key:       entry.Key,
			Size:      entry.Size,
			Source:    string(entry.Source),
			Expires:   entry.Expires,
			AgeSecond: cache.Age(entry, now),
			Fresh:     cache.IsFresh(entry, now),
			ETag:      entry.ETag,
		})
	}
	return result
}
