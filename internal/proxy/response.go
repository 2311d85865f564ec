package proxy

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/quik-cdn/quik-edge/internal/cache"
	"github.com/quik-cdn/quik-edge/internal/origin"
)

const (
	headerCacheStatus = "cache-status"
	headerCacheSkip   = "X-Cache-Skip"
	skipTooLarge      = "too-large"
)

// sendOrigin 直接返回源站响应。miss 与 refreshed 的正文刚刚写入缓存，Age 为 0；
// bypass 不携带 Age。
func (h *Handler) sendOrigin(c fiber.Ctx, req Request, resp *origin.Response, cacheStatus, skip string, started time.Time) error {
	copyResponseHeaders(c, resp.Header)
	c.Set(headerCacheStatus, cacheStatus)
	if cacheStatus != StatusBypass {
		c.Set(fiber.HeaderAge, "0")
	}
	if skip != "" {
		c.Set(headerCacheSkip, skip)
	}
	return h.writeBody(c, req, resp.StatusCode, resp.Body, cacheStatus, started)
}

// sendEntry 以缓存条目返回，Age 按条目写入时间计算。
func (h *Handler) sendEntry(c fiber.Ctx, req Request, entry cache.Entry, body []byte, cacheStatus string, started time.Time) error {
	for _, field := range entry.Header {
		if skipStoredHeader(field.Name) {
			continue
		}
		c.Response().Header.Add(field.Name, field.Value)
	}
	c.Set(headerCacheStatus, cacheStatus)
	c.Set(fiber.HeaderAge, strconv.Itoa(cache.Age(entry, h.now())))
	return h.writeBody(c, req, fiber.StatusOK, body, cacheStatus, started)
}

// writeBody 写出状态码与正文；HEAD 请求保留 Content-Length 但不写正文。
func (h *Handler) writeBody(c fiber.Ctx, req Request, status int, body []byte, cacheStatus string, started time.Time) error {
	c.Status(status)
	if req.IsHead() {
		c.Response().Header.SetContentLength(len(body))
		h.logResult(req, c, status, cacheStatus, started, nil)
		return nil
	}
	err := c.Send(body)
	h.logResult(req, c, status, cacheStatus, started, err)
	return err
}

func (h *Handler) methodNotAllowed(c fiber.Ctx, req Request, started time.Time) error {
	c.Set(fiber.HeaderAllow, "GET, HEAD")
	c.Set(headerCacheStatus, StatusBypass)
	h.logResult(req, c, fiber.StatusMethodNotAllowed, StatusBypass, started, nil)
	return h.writeError(c, fiber.StatusMethodNotAllowed, "method_not_allowed")
}

func (h *Handler) badGateway(c fiber.Ctx, req Request, started time.Time, err error) error {
	c.Set(headerCacheStatus, StatusBypass)
	h.logResult(req, c, fiber.StatusBadGateway, StatusBypass, started, err)
	return h.writeError(c, fiber.StatusBadGateway, "origin_unavailable")
}

func (h *Handler) storageFailure(c fiber.Ctx, req Request, cacheStatus string, started time.Time, err error) error {
	c.Set(headerCacheStatus, cacheStatus)
	h.logResult(req, c, fiber.StatusInternalServerError, cacheStatus, started, err)
	return h.writeError(c, fiber.StatusInternalServerError, "cache_read_failed")
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range origin.EndToEndHeader(headers) {
		if skipStoredHeader(key) {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}

// storedHeader 保存去掉 hop-by-hop 字段后的源站头部。
func storedHeader(headers http.Header) cache.Header {
	return cache.FromHTTP(origin.EndToEndHeader(headers))
}

// skipStoredHeader 过滤由本层重新生成的头部。
func skipStoredHeader(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "age", headerCacheStatus, "x-cache-skip":
		return true
	default:
		return origin.IsHopByHopHeader(name)
	}
}
