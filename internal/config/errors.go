package config

import "fmt"

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// newFieldError 创建包含字段路径与原因的 error，便于 CLI 定位。
func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// sectionField 拼接段落级字段路径，例如 Origin.BaseURL。
func sectionField(section, field string) string {
	return fmt.Sprintf("%s.%s", section, field)
}

// popField 用于拼接 POP 级字段路径，方便输出 GeoLB.POP[xxx].Field 形式。
func popField(name, field string) string {
	if name == "" {
		return fmt.Sprintf("GeoLB.POP[].%s", field)
	}
	return fmt.Sprintf("GeoLB.POP[%s].%s", name, field)
}
