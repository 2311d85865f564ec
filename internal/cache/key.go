package cache

import (
	"net/url"
	"sort"
	"strings"
)

// Key 生成规范化缓存键：METHOD:host:path?k1=v1&k2=v2。
// 查询参数按名称排序，名称与取值均经过 QueryEscape；同名多值拆成独立的
// name=value 对并保留原始顺序。因此参数书写顺序不同的请求会命中同一条目，
// 而 a=1&a=2 与 a=1,2、a=1%26b%3D2 与 a=1&b=2 得到不同的键。
func Key(method, host, path string, query url.Values) string {
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.Grow(len(method) + len(host) + len(path) + 3 + 16*len(names))
	b.WriteString(method)
	b.WriteByte(':')
	b.WriteString(host)
	b.WriteByte(':')
	b.WriteString(path)
	b.WriteByte('?')
	first := true
	for _, name := range names {
		escaped := url.QueryEscape(name)
		for _, value := range query[name] {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(escaped)
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(value))
		}
	}
	return b.String()
}
