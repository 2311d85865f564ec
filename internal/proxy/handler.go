package proxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/quik-cdn/quik-edge/internal/cache"
	"github.com/quik-cdn/quik-edge/internal/logging"
	"github.com/quik-cdn/quik-edge/internal/origin"
	"github.com/quik-cdn/quik-edge/internal/storage"
)

// cache-status 取值，标记响应来自流水线的哪个分支。
const (
	StatusBypass               = "bypass"
	StatusMiss                 = "miss"
	StatusHit                  = "hit"
	StatusStaleWhileRevalidate = "stale-while-revalidate"
	StatusStaleIfError         = "stale-if-error"
	StatusRevalidated          = "revalidated"
	StatusRefreshed            = "refreshed"
)

// Fetcher 是流水线对源站客户端的最小依赖，*origin.Client 实现了它。
type Fetcher interface {
	Fetch(ctx context.Context, target string, header http.Header) (*origin.Response, error)
	URL(path, rawQuery string) string
}

// Options 汇总 Handler 依赖，均在进程启动时构建一次。
type Options struct {
	Index             *cache.Index
	Tiers             storage.Tiers
	Origin            Fetcher
	Tasks             *TaskGroup
	Persister         *cache.Persister
	Logger            *logrus.Logger
	MaxCacheableBytes int64
	Now               func() time.Time
}

// Handler 负责 orchestrate “查索引 → 判定新鲜度 → 回源/校验 → 写存储” 的全流程，
// 对外暴露 Fiber handler。索引只管元数据，正文的写入与回收都由 Handler 完成。
type Handler struct {
	index     *cache.Index
	tiers     storage.Tiers
	origin    Fetcher
	tasks     *TaskGroup
	persister *cache.Persister
	logger    *logrus.Logger
	maxBytes  int64
	now       func() time.Time
}

// NewHandler constructs the pipeline; Tasks and Persister are optional.
func NewHandler(opts Options) (*Handler, error) {
	switch {
	case opts.Index == nil:
		return nil, errors.New("cache index is required")
	case opts.Tiers.Memory == nil || opts.Tiers.Disk == nil:
		return nil, errors.New("memory and disk tiers are required")
	case opts.Origin == nil:
		return nil, errors.New("origin client is required")
	case opts.Logger == nil:
		return nil, errors.New("logger is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	tasks := opts.Tasks
	if tasks == nil {
		tasks = NewTaskGroup(0)
	}
	return &Handler{
		index:     opts.Index,
		tiers:     opts.Tiers,
		origin:    opts.Origin,
		tasks:     tasks,
		persister: opts.Persister,
		logger:    opts.Logger,
		maxBytes:  opts.MaxCacheableBytes,
		now:       now,
	}, nil
}

// Handle 执行方法校验、缓存查找与新鲜度分流，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	req := ParseRequest(c)
	if !req.Cacheable() {
		return h.methodNotAllowed(c, req, started)
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	entry, ok := h.index.Get(req.Key)
	if !ok {
		return h.serveMiss(ctx, c, req, started)
	}

	now := h.now()
	switch {
	case cache.IsFresh(entry, now):
		return h.serveEntry(ctx, c, req, entry, StatusHit, started)
	case cache.CanServeStaleWhileRevalidate(entry, now):
		body, err := h.readBody(ctx, entry)
		if err != nil {
			return h.storageFailure(c, req, StatusStaleWhileRevalidate, started, err)
		}
		h.scheduleRevalidation(req, entry)
		return h.sendEntry(c, req, entry, body, StatusStaleWhileRevalidate, started)
	default:
		return h.revalidateAndServe(ctx, c, req, entry, started)
	}
}

func (h *Handler) serveMiss(ctx context.Context, c fiber.Ctx, req Request, started time.Time) error {
	resp, err := h.origin.Fetch(ctx, h.origin.URL(req.Path, req.RawQuery), nil)
	if err != nil {
		return h.badGateway(c, req, started, err)
	}
	if resp.StatusCode != http.StatusOK {
		return h.sendOrigin(c, req, resp, StatusBypass, "", started)
	}

	directives := cache.ParseCacheControl(resp.Header.Get("Cache-Control"))
	if directives.NoStore {
		return h.sendOrigin(c, req, resp, StatusBypass, "", started)
	}
	if h.tooLarge(resp) {
		return h.sendOrigin(c, req, resp, StatusBypass, skipTooLarge, started)
	}

	if _, err := h.install(ctx, req.Key, resp, directives, nil); err != nil {
		h.logger.WithFields(logging.RequestFields(req.Host, req.Method, req.Key, StatusMiss)).
			WithError(err).Warn("cache_save_failed")
	}
	return h.sendOrigin(c, req, resp, StatusMiss, "", started)
}

// serveEntry 从条目所属存储层读取正文并返回，读取失败时返回 500。
func (h *Handler) serveEntry(ctx context.Context, c fiber.Ctx, req Request, entry cache.Entry, status string, started time.Time) error {
	body, err := h.readBody(ctx, entry)
	if err != nil {
		return h.storageFailure(c, req, status, started, err)
	}
	return h.sendEntry(c, req, entry, body, status, started)
}

// readBody 读取条目正文。索引声称存在但正文已缺失时移除该条目，下一次请求会重新回源。
func (h *Handler) readBody(ctx context.Context, entry cache.Entry) ([]byte, error) {
	body, err := h.tiers.For(entry.Source).Get(ctx, entry.Key)
	if err != nil && errors.Is(err, storage.ErrNotFound) {
		h.Invalidate(entry.Key)
	}
	return body, err
}

func (h *Handler) tooLarge(resp *origin.Response) bool {
	return h.maxBytes > 0 && int64(len(resp.Body)) > h.maxBytes
}

// install 将 200 响应写入存储层并安装到索引。previous 为被替换的旧条目，
// 仅当索引中的条目仍是 previous 且旧正文位于另一层时才删除旧正文；被 LRU 淘汰的条目也在此回收。
func (h *Handler) install(ctx context.Context, key string, resp *origin.Response, directives cache.Directives, previous *cache.Entry) (cache.Entry, error) {
	now := h.now()
	size := int64(len(resp.Body))
	source := h.tiers.Decide(size)

	locator, err := h.tiers.For(source).Save(ctx, key, resp.Body)
	if err != nil {
		return cache.Entry{}, err
	}

	maxAge := cache.MaxAgeFrom(directives, resp.Header.Get("Expires"), now)
	entry := cache.Entry{
		Key:                  key,
		Size:                 size,
		Expires:              now.Add(maxAge),
		MaxAge:               maxAge,
		StaleWhileRevalidate: directives.StaleWhileRevalidate,
		StaleIfError:         directives.StaleIfError,
		ETag:                 resp.Header.Get("ETag"),
		LastModified:         resp.Header.Get("Last-Modified"),
		Header:               storedHeader(resp.Header),
		Path:                 locator,
		Source:               source,
	}

	if previous != nil && h.index.Replace(key, entry, sameBodyAs(*previous)) {
		if previous.Source.Valid() && previous.Source != source {
			h.deleteBody(*previous)
		}
	} else if evicted, ok := h.index.Set(key, entry); ok {
		// 新键，或回源期间旧条目已被淘汰、替换：按新条目插入，旧正文由淘汰方回收。
		h.deleteBody(evicted)
	}
	h.persister.MarkDirty()
	return entry, nil
}

// Invalidate 移除条目并回收其正文，返回条目是否存在。
func (h *Handler) Invalidate(key string) bool {
	entry, ok := h.index.Delete(key)
	if !ok {
		return false
	}
	h.deleteBody(entry)
	h.persister.MarkDirty()
	return true
}

// Restore 按 LRU → MRU 顺序回放快照条目，超出容量的部分按正常淘汰回收。
func (h *Handler) Restore(entries []cache.Entry) int {
	for _, entry := range entries {
		if evicted, ok := h.index.Set(entry.Key, entry); ok {
			h.deleteBody(evicted)
		}
	}
	return h.index.Len()
}

// Entries 返回索引中的条目（LRU → MRU），供诊断接口使用。
func (h *Handler) Entries() []cache.Entry {
	return h.index.Entries()
}

// Capacity 返回索引容量。
func (h *Handler) Capacity() int {
	return h.index.Capacity()
}

// Now 返回流水线使用的时钟，诊断接口据此计算 Age。
func (h *Handler) Now() time.Time {
	return h.now()
}

// PendingRevalidations 返回尚未完成的后台重验证数量。
func (h *Handler) PendingRevalidations() int64 {
	return h.tasks.Pending()
}

// deleteBody 从条目记录的 Source 层删除正文，Source 缺失（旧快照）时才按大小推断层级。
// 淘汰发生在请求之外的语义中，不继承请求 ctx。
func (h *Handler) deleteBody(entry cache.Entry) {
	source := entry.Source
	if !source.Valid() {
		source = h.tiers.Decide(entry.Size)
	}
	if err := h.tiers.For(source).Delete(context.Background(), entry.Key); err != nil {
		h.logger.WithFields(logrus.Fields{
			"action":    "reclaim",
			"cache_key": entry.Key,
			"source":    string(source),
		}).WithError(err).Warn("evict_reclaim_failed")
	}
}

func (h *Handler) logResult(req Request, c fiber.Ctx, status int, cacheStatus string, started time.Time, err error) {
	fields := logging.RequestFields(req.Host, req.Method, req.Key, cacheStatus)
	fields["action"] = "proxy"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID := string(c.Response().Header.Peek("X-Request-ID")); requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}
