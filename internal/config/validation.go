package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// Validate 针对边缘节点做语义级别校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.CacheCapacity <= 0 {
		return newFieldError("Global.CacheCapacity", "必须大于 0")
	}
	if g.MemoryThresholdMB < 0 {
		return newFieldError("Global.MemoryThresholdMB", "不能为负数")
	}
	if g.MaxCacheableMB <= 0 {
		return newFieldError("Global.MaxCacheableMB", "必须大于 0")
	}
	if g.MaxCacheableMB < g.MemoryThresholdMB {
		return newFieldError("Global.MaxCacheableMB", "不能小于 MemoryThresholdMB")
	}
	if g.SweepInterval.DurationValue() <= 0 {
		return newFieldError("Global.SweepInterval", "必须大于 0")
	}
	if g.TempFileRetention.DurationValue() <= 0 {
		return newFieldError("Global.TempFileRetention", "必须大于 0")
	}
	if g.MaxBackgroundTasks < 0 {
		return newFieldError("Global.MaxBackgroundTasks", "不能为负数")
	}
	if (g.TLSCertFile == "") != (g.TLSKeyFile == "") {
		return newFieldError("Global.TLSCertFile/TLSKeyFile", "必须同时提供或同时留空")
	}

	return c.Origin.validate()
}

func (o OriginConfig) validate() error {
	if err := validateUpstream(o.BaseURL); err != nil {
		return fmt.Errorf("%s: %w", sectionField("Origin", "BaseURL"), err)
	}
	if o.RequestTimeout.DurationValue() <= 0 {
		return newFieldError(sectionField("Origin", "RequestTimeout"), "必须大于 0")
	}
	if o.KeepAliveTimeout.DurationValue() <= 0 {
		return newFieldError(sectionField("Origin", "KeepAliveTimeout"), "必须大于 0")
	}
	if o.KeepAliveMaxTimeout.DurationValue() < o.KeepAliveTimeout.DurationValue() {
		return newFieldError(sectionField("Origin", "KeepAliveMaxTimeout"), "不能小于 KeepAliveTimeout")
	}
	if o.MaxConnections <= 0 {
		return newFieldError(sectionField("Origin", "MaxConnections"), "必须大于 0")
	}
	if o.Pipelining < 0 {
		return newFieldError(sectionField("Origin", "Pipelining"), "不能为负数")
	}
	if o.MaxRetries < 0 {
		return newFieldError(sectionField("Origin", "MaxRetries"), "不能为负数")
	}
	if o.BaseBackoff.DurationValue() <= 0 {
		return newFieldError(sectionField("Origin", "BaseBackoff"), "必须大于 0")
	}
	if o.MaxBackoff.DurationValue() < o.BaseBackoff.DurationValue() {
		return newFieldError(sectionField("Origin", "MaxBackoff"), "不能小于 BaseBackoff")
	}
	return nil
}

// ValidateGeoLB 校验负载均衡器所需的 POP 与区域配置。
func (c *Config) ValidateGeoLB() error {
	if c == nil {
		return errors.New("配置为空")
	}
	g := c.GeoLB
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError(sectionField("GeoLB", "ListenPort"), "必须在 1-65535")
	}
	if g.ProbeInterval.DurationValue() <= 0 {
		return newFieldError(sectionField("GeoLB", "ProbeInterval"), "必须大于 0")
	}
	if g.ProbeTimeout.DurationValue() <= 0 {
		return newFieldError(sectionField("GeoLB", "ProbeTimeout"), "必须大于 0")
	}
	if !strings.HasPrefix(g.HealthPath, "/") {
		return newFieldError(sectionField("GeoLB", "HealthPath"), "必须以 / 开头")
	}
	if g.ProbeScheme != "http" && g.ProbeScheme != "https" {
		return newFieldError(sectionField("GeoLB", "ProbeScheme"), "仅支持 http/https")
	}
	if g.MaxConcurrentProbes <= 0 {
		return newFieldError(sectionField("GeoLB", "MaxConcurrentProbes"), "必须大于 0")
	}
	if len(g.POPs) == 0 {
		return errors.New("至少需要配置一个 POP")
	}

	seen := map[string]struct{}{}
	for _, pop := range g.POPs {
		if pop.Name == "" {
			return newFieldError("GeoLB.POP[].Name", "不能为空")
		}
		if _, exists := seen[pop.Name]; exists {
			return newFieldError(popField(pop.Name, "Name"), "重复")
		}
		seen[pop.Name] = struct{}{}
		if strings.TrimSpace(pop.Address) == "" {
			return newFieldError(popField(pop.Name, "Address"), "不能为空")
		}
		if strings.Contains(pop.Address, "/") {
			return newFieldError(popField(pop.Name, "Address"), "不允许包含路径或协议头")
		}
	}

	for _, region := range g.Regions {
		if region.Name == "" {
			return newFieldError("GeoLB.Region[].Name", "不能为空")
		}
		for _, cidr := range region.CIDRs {
			if _, err := netip.ParsePrefix(cidr); err != nil {
				return newFieldError(fmt.Sprintf("GeoLB.Region[%s].CIDRs", region.Name), fmt.Sprintf("无效 CIDR: %s", cidr))
			}
		}
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return nil
}
