package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"200ms" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述边缘节点的运行时行为：监听、日志、缓存容量与分层阈值。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	StoragePath        string   `mapstructure:"StoragePath"`
	SnapshotPath       string   `mapstructure:"SnapshotPath"`
	CacheCapacity      int      `mapstructure:"CacheCapacity"`
	MemoryThresholdMB  float64  `mapstructure:"MemoryThresholdMB"`
	MaxCacheableMB     float64  `mapstructure:"MaxCacheableMB"`
	SweepInterval      Duration `mapstructure:"SweepInterval"`
	TempFileRetention  Duration `mapstructure:"TempFileRetention"`
	MaxBackgroundTasks int      `mapstructure:"MaxBackgroundTasks"`
	ShutdownTimeout    Duration `mapstructure:"ShutdownTimeout"`
	TLSCertFile        string   `mapstructure:"TLSCertFile"`
	TLSKeyFile         string   `mapstructure:"TLSKeyFile"`
}

// OriginConfig 决定边缘节点如何与源站交互：连接池、重试与退避参数。
type OriginConfig struct {
	BaseURL             string   `mapstructure:"BaseURL"`
	RequestTimeout      Duration `mapstructure:"RequestTimeout"`
	KeepAliveTimeout    Duration `mapstructure:"KeepAliveTimeout"`
	KeepAliveMaxTimeout Duration `mapstructure:"KeepAliveMaxTimeout"`
	MaxConnections      int      `mapstructure:"MaxConnections"`
	Pipelining          int      `mapstructure:"Pipelining"`
	MaxRetries          int      `mapstructure:"MaxRetries"`
	BaseBackoff         Duration `mapstructure:"BaseBackoff"`
	MaxBackoff          Duration `mapstructure:"MaxBackoff"`
	RetryOnHTTPError    bool     `mapstructure:"RetryOnHTTPError"`
}

// POPConfig 描述一个可被负载均衡器选中的边缘节点。
type POPConfig struct {
	Name    string `mapstructure:"Name"`
	Region  string `mapstructure:"Region"`
	Address string `mapstructure:"Address"`
}

// RegionConfig 将一组 CIDR 映射到地理区域。
type RegionConfig struct {
	Name  string   `mapstructure:"Name"`
	CIDRs []string `mapstructure:"CIDRs"`
}

// GeoLBConfig 仅由 cmd/geolb 使用：健康探测参数与 POP 列表。
type GeoLBConfig struct {
	ListenPort          int            `mapstructure:"ListenPort"`
	ProbeInterval       Duration       `mapstructure:"ProbeInterval"`
	ProbeTimeout        Duration       `mapstructure:"ProbeTimeout"`
	HealthPath          string         `mapstructure:"HealthPath"`
	ProbeScheme         string         `mapstructure:"ProbeScheme"`
	InsecureSkipVerify  bool           `mapstructure:"InsecureSkipVerify"`
	MaxConcurrentProbes int            `mapstructure:"MaxConcurrentProbes"`
	TTL                 Duration       `mapstructure:"TTL"`
	POPs                []POPConfig    `mapstructure:"POP"`
	Regions             []RegionConfig `mapstructure:"Region"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Origin OriginConfig `mapstructure:"Origin"`
	GeoLB  GeoLBConfig  `mapstructure:"GeoLB"`
}

// TLSEnabled 表示是否同时配置了证书与私钥。
func (g GlobalConfig) TLSEnabled() bool {
	return g.TLSCertFile != "" && g.TLSKeyFile != ""
}

// Scheme 输出 `https` 或 `http`，供启动日志使用。
func (g GlobalConfig) Scheme() string {
	if g.TLSEnabled() {
		return "https"
	}
	return "http"
}

// MemoryThresholdBytes 将 MB 阈值换算为字节数。
func (g GlobalConfig) MemoryThresholdBytes() int64 {
	return int64(g.MemoryThresholdMB * 1024 * 1024)
}

// MaxCacheableBytes 返回可缓存正文的硬上限（字节）。
func (g GlobalConfig) MaxCacheableBytes() int64 {
	return int64(g.MaxCacheableMB * 1024 * 1024)
}
