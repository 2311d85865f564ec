package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fixturePath 返回 testdata 下的配置样例。
func fixturePath(name string) string {
	return filepath.Join("testdata", name)
}

// withOrigin 在顶层片段后追加最小的 [Origin] 段，只关心全局字段的用例无需重复书写。
func withOrigin(top string) string {
	return strings.TrimSpace(top) + "\n\n[Origin]\nBaseURL = \"http://localhost:3001\"\n"
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}
