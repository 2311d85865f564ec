package cache

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Directives 是响应 Cache-Control 中与边缘缓存相关的部分。
type Directives struct {
	MaxAge               time.Duration
	HasMaxAge            bool
	StaleWhileRevalidate time.Duration
	StaleIfError         time.Duration
	NoStore              bool
}

// ParseCacheControl 解析 Cache-Control。s-maxage 无论出现顺序都覆盖 max-age；
// 无法解析的数值被忽略，对应窗口保持为 0。
func ParseCacheControl(value string) Directives {
	var (
		d          Directives
		sMaxAge    time.Duration
		hasSMaxAge bool
	)
	for _, raw := range strings.Split(value, ",") {
		name, arg, _ := strings.Cut(strings.TrimSpace(raw), "=")
		name = strings.ToLower(strings.TrimSpace(name))
		arg = strings.Trim(strings.TrimSpace(arg), `"`)

		switch name {
		case "no-store":
			d.NoStore = true
		case "max-age":
			if secs, ok := parseSeconds(arg); ok {
				d.MaxAge = secs
				d.HasMaxAge = true
			}
		case "s-maxage":
			if secs, ok := parseSeconds(arg); ok {
				sMaxAge = secs
				hasSMaxAge = true
			}
		case "stale-while-revalidate":
			if secs, ok := parseSeconds(arg); ok {
				d.StaleWhileRevalidate = secs
			}
		case "stale-if-error":
			if secs, ok := parseSeconds(arg); ok {
				d.StaleIfError = secs
			}
		}
	}
	if hasSMaxAge {
		d.MaxAge = sMaxAge
		d.HasMaxAge = true
	}
	return d
}

// MaxAgeFrom 计算响应的新鲜期：优先 Cache-Control，其次 Expires - now（不小于 0），
// 两者都缺失或无法解析时为 0。
func MaxAgeFrom(d Directives, expires string, now time.Time) time.Duration {
	if d.HasMaxAge {
		return d.MaxAge
	}
	if expires == "" {
		return 0
	}
	at, err := http.ParseTime(expires)
	if err != nil {
		return 0
	}
	if remaining := at.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

// maxDeltaSeconds 是 time.Duration 能表示的最大秒数，更大的值按此截断。
const maxDeltaSeconds = math.MaxInt64 / int64(time.Second)

// parseSeconds 解析 delta-seconds。超出 Duration 范围的值按上限截断，不会回绕成负数。
func parseSeconds(value string) (time.Duration, bool) {
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	if secs < 0 {
		return 0, false
	}
	if secs > maxDeltaSeconds {
		secs = maxDeltaSeconds
	}
	return time.Duration(secs) * time.Second, true
}
