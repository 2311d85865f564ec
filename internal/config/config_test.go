package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := fixturePath("valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应被转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	if cfg.Global.SnapshotPath != filepath.Join(cfg.Global.StoragePath, "index.json") {
		t.Fatalf("SnapshotPath 应默认落在 StoragePath 下，得到 %s", cfg.Global.SnapshotPath)
	}
	if cfg.Global.SweepInterval.DurationValue() != time.Hour {
		t.Fatalf("SweepInterval 应默认 1h，得到 %s", cfg.Global.SweepInterval.DurationValue())
	}
	if cfg.Origin.BaseBackoff.DurationValue() != 200*time.Millisecond {
		t.Fatalf("BaseBackoff 解析错误: %s", cfg.Origin.BaseBackoff.DurationValue())
	}
	if cfg.Origin.KeepAliveTimeout.DurationValue() != 10*time.Second {
		t.Fatalf("KeepAliveTimeout 应默认 10s")
	}
	if cfg.Origin.MaxConnections != 10 {
		t.Fatalf("MaxConnections 应默认 10，得到 %d", cfg.Origin.MaxConnections)
	}
	if !cfg.Origin.RetryOnHTTPError {
		t.Fatalf("RetryOnHTTPError 应默认开启")
	}
	if cfg.Global.MemoryThresholdBytes() != 1024*1024 {
		t.Fatalf("MemoryThresholdBytes 换算错误: %d", cfg.Global.MemoryThresholdBytes())
	}
}

func TestLoadParsesGeoLBSection(t *testing.T) {
	cfg, err := LoadGeoLB(fixturePath("valid.toml"))
	if err != nil {
		t.Fatalf("LoadGeoLB 返回错误: %v", err)
	}
	if len(cfg.GeoLB.POPs) != 2 {
		t.Fatalf("应解析出 2 个 POP，得到 %d", len(cfg.GeoLB.POPs))
	}
	if cfg.GeoLB.ProbeInterval.DurationValue() != 30*time.Second {
		t.Fatalf("整数秒应被解析为 Duration，得到 %s", cfg.GeoLB.ProbeInterval.DurationValue())
	}
	if len(cfg.GeoLB.Regions) != 1 || cfg.GeoLB.Regions[0].CIDRs[0] != "203.0.113.0/24" {
		t.Fatalf("Region 解析错误: %+v", cfg.GeoLB.Regions)
	}
}

func TestValidateRejectsMissingOrigin(t *testing.T) {
	cfgPath := fixturePath("missing.toml")

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("缺少源站的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateRequiresTLSPairs(t *testing.T) {
	cfg := validConfig()
	cfg.Global.TLSCertFile = "cert.pem"
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("仅提供证书时应返回 FieldError，得到 %v", err)
	}
	if fieldErr.Field != "Global.TLSCertFile/TLSKeyFile" {
		t.Fatalf("字段路径错误: %s", fieldErr.Field)
	}
}

func TestOriginValidation(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*OriginConfig)
		shouldErr bool
	}{
		{"valid", func(*OriginConfig) {}, false},
		{"missing base url", func(o *OriginConfig) { o.BaseURL = "" }, true},
		{"bad scheme", func(o *OriginConfig) { o.BaseURL = "ftp://origin" }, true},
		{"negative retries", func(o *OriginConfig) { o.MaxRetries = -1 }, true},
		{"zero retries ok", func(o *OriginConfig) { o.MaxRetries = 0 }, false},
		{"max backoff below base", func(o *OriginConfig) { o.MaxBackoff = Duration(time.Millisecond) }, true},
		{"no connections", func(o *OriginConfig) { o.MaxConnections = 0 }, true},
		{"keepalive above max", func(o *OriginConfig) { o.KeepAliveTimeout = Duration(2 * time.Minute) }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg.Origin)
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateGeoLBRejectsBadCIDR(t *testing.T) {
	cfg := validConfig()
	cfg.GeoLB.Regions = []RegionConfig{{Name: "EU", CIDRs: []string{"not-a-cidr"}}}
	if err := cfg.ValidateGeoLB(); err == nil {
		t.Fatalf("无效 CIDR 应报错")
	}
}

func TestValidateGeoLBRejectsDuplicatePOP(t *testing.T) {
	cfg := validConfig()
	cfg.GeoLB.POPs = append(cfg.GeoLB.POPs, cfg.GeoLB.POPs[0])
	if err := cfg.ValidateGeoLB(); err == nil {
		t.Fatalf("重复 POP 名称应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:        8443,
			StoragePath:       "./data",
			CacheCapacity:     10,
			MemoryThresholdMB: 1,
			MaxCacheableMB:    16,
			SweepInterval:     Duration(time.Hour),
			TempFileRetention: Duration(time.Hour),
		},
		Origin: OriginConfig{
			BaseURL:             "http://localhost:3001",
			RequestTimeout:      Duration(time.Second),
			KeepAliveTimeout:    Duration(10 * time.Second),
			KeepAliveMaxTimeout: Duration(time.Minute),
			MaxConnections:      4,
			MaxRetries:          1,
			BaseBackoff:         Duration(10 * time.Millisecond),
			MaxBackoff:          Duration(time.Second),
		},
		GeoLB: GeoLBConfig{
			ListenPort:          5333,
			ProbeInterval:       Duration(time.Second),
			ProbeTimeout:        Duration(time.Second),
			HealthPath:          "/-/healthz",
			ProbeScheme:         "https",
			MaxConcurrentProbes: 2,
			POPs: []POPConfig{
				{Name: "sg-1", Region: "SG", Address: "10.0.0.1:8443"},
			},
		},
	}
}
