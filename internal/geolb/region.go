package geolb

import (
	"fmt"
	"net/netip"
	"sort"

	"github.com/quik-cdn/quik-edge/internal/config"
)

type regionPrefix struct {
	prefix netip.Prefix
	region string
}

// RegionTable 按最长前缀匹配把客户端地址映射到区域。
type RegionTable struct {
	prefixes []regionPrefix
}

// NewRegionTable 解析 [[GeoLB.Region]] 中的 CIDR。
func NewRegionTable(regions []config.RegionConfig) (*RegionTable, error) {
	table := &RegionTable{}
	for _, region := range regions {
		for _, cidr := range region.CIDRs {
			prefix, err := netip.ParsePrefix(cidr)
			if err != nil {
				return nil, fmt.Errorf("区域 %s 的 CIDR 无效: %w", region.Name, err)
			}
			table.prefixes = append(table.prefixes, regionPrefix{prefix: prefix.Masked(), region: region.Name})
		}
	}
	sort.SliceStable(table.prefixes, func(i, j int) bool {
		return table.prefixes[i].prefix.Bits() > table.prefixes[j].prefix.Bits()
	})
	return table, nil
}

// Lookup 返回地址所属区域；无法识别时返回 false。
func (t *RegionTable) Lookup(addr netip.Addr) (string, bool) {
	if t == nil || !addr.IsValid() {
		return "", false
	}
	addr = addr.Unmap()
	for _, entry := range t.prefixes {
		if entry.prefix.Contains(addr) {
			return entry.region, true
		}
	}
	return "", false
}
