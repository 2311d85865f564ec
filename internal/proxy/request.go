package proxy

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/quik-cdn/quik-edge/internal/cache"
)

// Request 是从 Fiber 上下文中拷贝出的请求视图。fasthttp 会复用底层缓冲区，
// 这里的字段都是独立字符串，可以安全地交给后台任务。
type Request struct {
	Method   string
	Host     string
	Path     string
	RawQuery string
	Query    url.Values
	Key      string
}

// ParseRequest 规范化方法、Host、路径与查询参数，并据此生成缓存键。
func ParseRequest(c fiber.Ctx) Request {
	uri := c.Request().URI()
	rawQuery := string(uri.QueryString())
	query, _ := url.ParseQuery(rawQuery)

	req := Request{
		Method:   strings.ToUpper(c.Method()),
		Host:     strings.ToLower(string(c.Request().Host())),
		Path:     normalizeRequestPath(string(uri.Path())),
		RawQuery: rawQuery,
		Query:    query,
	}
	req.Key = cache.Key(req.Method, req.Host, req.Path, req.Query)
	return req
}

// Cacheable 表示方法是否进入缓存流水线，其余方法一律 405。
func (r Request) Cacheable() bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}

func (r Request) IsHead() bool {
	return r.Method == http.MethodHead
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	clean := path.Clean("/" + raw)
	if strings.HasSuffix(raw, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}
