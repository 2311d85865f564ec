package proxy

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/quik-cdn/quik-edge/internal/cache"
	"github.com/quik-cdn/quik-edge/internal/logging"
	"github.com/quik-cdn/quik-edge/internal/origin"
)

type outcome int

const (
	// outcomeNotModified: 304，条目已续期，正文不变。
	outcomeNotModified outcome = iota
	// outcomeReplaced: 200，正文与全部时间/校验字段已替换。
	outcomeReplaced
	// outcomeUncacheable: 200 但不可缓存（no-store 或超过上限），旧条目已移除。
	outcomeUncacheable
	// outcomeVanished: 304 返回前条目已被淘汰、失效或替换，索引未改动。
	outcomeVanished
)

type revalidation struct {
	outcome outcome
	entry   cache.Entry
	resp    *origin.Response
	skip    string
}

// conditionalHeader 优先使用 ETag，其次 Last-Modified；两者都没有时发送普通 GET。
func conditionalHeader(entry cache.Entry) http.Header {
	header := http.Header{}
	switch {
	case entry.ETag != "":
		header.Set("If-None-Match", entry.ETag)
	case entry.LastModified != "":
		header.Set("If-Modified-Since", entry.LastModified)
	}
	return header
}

// revalidate 向源站发起条件请求并把结果写回索引。失败（传输错误、重试耗尽、
// 304/200 以外的状态码）时返回 error，索引保持不变。
func (h *Handler) revalidate(ctx context.Context, req Request, entry cache.Entry) (revalidation, error) {
	resp, err := h.origin.Fetch(ctx, h.origin.URL(req.Path, req.RawQuery), conditionalHeader(entry))
	if err != nil {
		return revalidation{}, err
	}

	switch resp.StatusCode {
	case http.StatusNotModified:
		updated := h.extend(entry, resp)
		if !h.index.Replace(req.Key, updated, sameBodyAs(entry)) {
			// 旧正文可能已被回收，304 不能凭空复活条目。
			return revalidation{outcome: outcomeVanished, resp: resp}, nil
		}
		h.persister.MarkDirty()
		return revalidation{outcome: outcomeNotModified, entry: updated, resp: resp}, nil

	case http.StatusOK:
		directives := cache.ParseCacheControl(resp.Header.Get("Cache-Control"))
		skip := ""
		if h.tooLarge(resp) {
			skip = skipTooLarge
		}
		if directives.NoStore || skip != "" {
			h.Invalidate(req.Key)
			return revalidation{outcome: outcomeUncacheable, resp: resp, skip: skip}, nil
		}
		replaced, err := h.install(ctx, req.Key, resp, directives, &entry)
		if err != nil {
			// 新正文没能落盘，旧条目与旧正文保持原样。
			h.logger.WithFields(logging.RequestFields(req.Host, req.Method, req.Key, StatusRefreshed)).
				WithError(err).Warn("cache_save_failed")
			return revalidation{outcome: outcomeReplaced, entry: entry, resp: resp}, nil
		}
		return revalidation{outcome: outcomeReplaced, entry: replaced, resp: resp}, nil

	default:
		return revalidation{}, fmt.Errorf("unexpected origin status %d", resp.StatusCode)
	}
}

// extend 处理 304：更新时间、校验字段与 304 携带的端到端头部，正文不变。
// 响应未携带 Cache-Control/Expires 时沿用原有窗口。
func (h *Handler) extend(entry cache.Entry, resp *origin.Response) cache.Entry {
	now := h.now()
	updated := entry.Clone()

	cacheControl := resp.Header.Get("Cache-Control")
	expires := resp.Header.Get("Expires")
	if cacheControl != "" || expires != "" {
		directives := cache.ParseCacheControl(cacheControl)
		updated.MaxAge = cache.MaxAgeFrom(directives, expires, now)
		updated.StaleWhileRevalidate = directives.StaleWhileRevalidate
		updated.StaleIfError = directives.StaleIfError
	}
	updated.Expires = now.Add(updated.MaxAge)

	if etag := resp.Header.Get("ETag"); etag != "" {
		updated.ETag = etag
	}
	if lastModified := resp.Header.Get("Last-Modified"); lastModified != "" {
		updated.LastModified = lastModified
	}
	for name, values := range origin.EndToEndHeader(resp.Header) {
		if skipStoredHeader(name) || len(values) == 0 {
			continue
		}
		name = strings.ToLower(name)
		if len(values) == 1 {
			updated.Header = updated.Header.Set(name, values[0])
			continue
		}
		// 多值头整体替换为 304 中的取值。
		updated.Header = updated.Header.Del(name)
		for _, value := range values {
			updated.Header = append(updated.Header, cache.HeaderField{Name: name, Value: value})
		}
	}
	return updated
}

func (h *Handler) stillIndexed(key string, entry cache.Entry) bool {
	current, ok := h.index.Peek(key)
	return ok && cache.SameBody(current, entry)
}

func sameBodyAs(entry cache.Entry) func(cache.Entry) bool {
	return func(current cache.Entry) bool { return cache.SameBody(current, entry) }
}

// scheduleRevalidation 在后台执行 SWR 校验；任务组已满时跳过本次校验。
func (h *Handler) scheduleRevalidation(req Request, entry cache.Entry) {
	started := h.tasks.TryGo(func(ctx context.Context) error {
		result, err := h.revalidate(ctx, req, entry)
		fields := logging.RequestFields(req.Host, req.Method, req.Key, StatusStaleWhileRevalidate)
		fields["action"] = "revalidate"
		if err != nil {
			h.logger.WithFields(fields).WithError(err).Warn("revalidate_failed")
			return nil
		}
		fields["outcome"] = result.outcome.String()
		h.logger.WithFields(fields).Debug("revalidate_complete")
		return nil
	})
	if !started {
		h.logger.WithFields(logrus.Fields{
			"action":    "revalidate",
			"cache_key": req.Key,
		}).Warn("revalidate_skipped")
	}
}

// revalidateAndServe 处理超出 SWR 窗口的过期条目：同步校验后按结果返回，
// 失败时在 SIE 窗口内返回旧正文，否则 502。
func (h *Handler) revalidateAndServe(ctx context.Context, c fiber.Ctx, req Request, entry cache.Entry, started time.Time) error {
	result, err := h.revalidate(ctx, req, entry)
	if err != nil {
		// 条目在回源期间被淘汰时已没有可用的旧正文。
		if cache.CanServeStaleIfError(entry, h.now()) && h.stillIndexed(req.Key, entry) {
			h.logger.WithFields(logging.RequestFields(req.Host, req.Method, req.Key, StatusStaleIfError)).
				WithError(err).Warn("revalidate_failed")
			return h.serveEntry(ctx, c, req, entry, StatusStaleIfError, started)
		}
		return h.badGateway(c, req, started, err)
	}

	switch result.outcome {
	case outcomeNotModified:
		return h.serveEntry(ctx, c, req, result.entry, StatusRevalidated, started)
	case outcomeVanished:
		return h.serveMiss(ctx, c, req, started)
	case outcomeUncacheable:
		return h.sendOrigin(c, req, result.resp, StatusBypass, result.skip, started)
	default:
		return h.sendOrigin(c, req, result.resp, StatusRefreshed, "", started)
	}
}

func (o outcome) String() string {
	switch o {
	case outcomeNotModified:
		return "not_modified"
	case outcomeReplaced:
		return "replaced"
	case outcomeUncacheable:
		return "uncacheable"
	case outcomeVanished:
		return "vanished"
	default:
		return "unknown"
	}
}
