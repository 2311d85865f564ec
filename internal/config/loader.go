package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析边缘节点的 TOML 配置，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage
	if cfg.Global.SnapshotPath == "" {
		cfg.Global.SnapshotPath = filepath.Join(absStorage, "index.json")
	}

	return cfg, nil
}

// LoadGeoLB 读取同一份配置文件，但只校验 [GeoLB] 段，供 cmd/geolb 使用。
func LoadGeoLB(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateGeoLB(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyOriginDefaults(&cfg.Origin)
	applyGeoLBDefaults(&cfg.GeoLB)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8443)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("CacheCapacity", 100)
	v.SetDefault("MemoryThresholdMB", 1)
	v.SetDefault("MaxCacheableMB", 512)
	v.SetDefault("SweepInterval", "1h")
	v.SetDefault("TempFileRetention", "1h")
	v.SetDefault("MaxBackgroundTasks", 64)
	v.SetDefault("ShutdownTimeout", "10s")

	v.SetDefault("Origin.RequestTimeout", "30s")
	v.SetDefault("Origin.KeepAliveTimeout", "10s")
	v.SetDefault("Origin.KeepAliveMaxTimeout", "60s")
	v.SetDefault("Origin.MaxConnections", 10)
	v.SetDefault("Origin.Pipelining", 0)
	v.SetDefault("Origin.MaxRetries", 3)
	v.SetDefault("Origin.BaseBackoff", "200ms")
	v.SetDefault("Origin.MaxBackoff", "2s")
	v.SetDefault("Origin.RetryOnHTTPError", true)

	v.SetDefault("GeoLB.ListenPort", 5333)
	v.SetDefault("GeoLB.ProbeInterval", "30s")
	v.SetDefault("GeoLB.ProbeTimeout", "5s")
	v.SetDefault("GeoLB.HealthPath", "/-/healthz")
	v.SetDefault("GeoLB.ProbeScheme", "https")
	v.SetDefault("GeoLB.InsecureSkipVerify", true)
	v.SetDefault("GeoLB.MaxConcurrentProbes", 8)
	v.SetDefault("GeoLB.TTL", "30s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 8443
	}
	if g.CacheCapacity == 0 {
		g.CacheCapacity = 100
	}
	if g.SweepInterval.DurationValue() == 0 {
		g.SweepInterval = Duration(time.Hour)
	}
	if g.TempFileRetention.DurationValue() == 0 {
		g.TempFileRetention = Duration(time.Hour)
	}
	if g.ShutdownTimeout.DurationValue() == 0 {
		g.ShutdownTimeout = Duration(10 * time.Second)
	}
}

func applyOriginDefaults(o *OriginConfig) {
	if o.RequestTimeout.DurationValue() == 0 {
		o.RequestTimeout = Duration(30 * time.Second)
	}
	if o.KeepAliveTimeout.DurationValue() == 0 {
		o.KeepAliveTimeout = Duration(10 * time.Second)
	}
	if o.KeepAliveMaxTimeout.DurationValue() == 0 {
		o.KeepAliveMaxTimeout = Duration(60 * time.Second)
	}
	if o.BaseBackoff.DurationValue() == 0 {
		o.BaseBackoff = Duration(200 * time.Millisecond)
	}
	if o.MaxBackoff.DurationValue() == 0 {
		o.MaxBackoff = Duration(2 * time.Second)
	}
}

func applyGeoLBDefaults(g *GeoLBConfig) {
	if g.ProbeInterval.DurationValue() == 0 {
		g.ProbeInterval = Duration(30 * time.Second)
	}
	if g.ProbeTimeout.DurationValue() == 0 {
		g.ProbeTimeout = Duration(5 * time.Second)
	}
	if g.TTL.DurationValue() == 0 {
		g.TTL = Duration(30 * time.Second)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
