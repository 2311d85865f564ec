package origin

import (
	"net"
	"net/http"
	"net/textproto"
	"time"
)

// baseTransport 集中配置拨号与握手超时，连接池参数在 newTransport 中按配置覆盖。
var baseTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// newTransport 按源站配置克隆连接池：每个源站最多 MaxConnections 条连接，
// 空闲连接在 min(KeepAliveTimeout, KeepAliveMaxTimeout) 后回收。
func newTransport(opts Options) *http.Transport {
	transport := baseTransport.Clone()
	if opts.MaxConnections > 0 {
		transport.MaxConnsPerHost = opts.MaxConnections
		transport.MaxIdleConnsPerHost = opts.MaxConnections
	}
	if idle := idleTimeout(opts.KeepAliveTimeout, opts.KeepAliveMaxTimeout); idle > 0 {
		transport.IdleConnTimeout = idle
	}
	return transport
}

func idleTimeout(keepAlive, keepAliveMax time.Duration) time.Duration {
	switch {
	case keepAlive <= 0:
		return keepAliveMax
	case keepAliveMax <= 0:
		return keepAlive
	case keepAliveMax < keepAlive:
		return keepAliveMax
	default:
		return keepAlive
	}
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// EndToEndHeader 返回去除 hop-by-hop 字段后的头部副本。
func EndToEndHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
	return dst
}
