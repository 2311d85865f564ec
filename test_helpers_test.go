package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// configFixture 指向 internal/config/testdata 中的样例；根包测试的工作目录即仓库根目录。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("internal", "config", "testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("缺少配置样例 %s: %v", name, err)
	}
	return path
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}

// edgeConfig 生成指向给定源站与缓存目录的最小配置，extra 追加到顶层字段之后。
func edgeConfig(t *testing.T, originURL, storageDir, extra string) string {
	t.Helper()
	return writeConfigFile(t, fmt.Sprintf(`
LogLevel = "error"
StoragePath = "%s"
ListenPort = 5000
%s

[Origin]
BaseURL = "%s"
MaxRetries = 0
`, storageDir, strings.TrimSpace(extra), originURL))
}
