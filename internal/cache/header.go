package cache

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
)

// HeaderField 是一条有序响应头。
type HeaderField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Header 保留源站响应头的原始顺序，查找时大小写不敏感。
// 同名多值的头以多条 HeaderField 表示。
type Header []HeaderField

// Get 返回第一个同名头的值。
func (h Header) Get(name string) string {
	for _, field := range h {
		if strings.EqualFold(field.Name, name) {
			return field.Value
		}
	}
	return ""
}

// Set 替换同名头：保留首个出现位置，删除其余重复项；不存在时追加到末尾。
func (h Header) Set(name, value string) Header {
	out := h[:0:0]
	replaced := false
	for _, field := range h {
		if strings.EqualFold(field.Name, name) {
			if replaced {
				continue
			}
			field.Value = value
			replaced = true
		}
		out = append(out, field)
	}
	if !replaced {
		out = append(out, HeaderField{Name: name, Value: value})
	}
	return out
}

// Del 删除所有同名头。
func (h Header) Del(name string) Header {
	out := h[:0:0]
	for _, field := range h {
		if strings.EqualFold(field.Name, name) {
			continue
		}
		out = append(out, field)
	}
	return out
}

// Clone 返回独立副本，调用方可以放心修改。
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	return append(Header(nil), h...)
}

// FromHTTP 将 http.Header 转为有序头。http.Header 本身无序，
// 这里按 canonical 名称字典序输出，保证快照内容稳定。
func FromHTTP(src http.Header) Header {
	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Header, 0, len(names))
	for _, name := range names {
		for _, value := range src[name] {
			out = append(out, HeaderField{Name: strings.ToLower(name), Value: value})
		}
	}
	return out
}

// MarshalJSON 以 [[name, value], ...] 的形式序列化，与快照格式一致。
func (h Header) MarshalJSON() ([]byte, error) {
	pairs := make([][2]string, 0, len(h))
	for _, field := range h {
		pairs = append(pairs, [2]string{field.Name, field.Value})
	}
	return json.Marshal(pairs)
}

func (h *Header) UnmarshalJSON(data []byte) error {
	var pairs [][]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	out := make(Header, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			return errors.New("header pair must have exactly two elements")
		}
		out = append(out, HeaderField{Name: pair[0], Value: pair[1]})
	}
	*h = out
	return nil
}
