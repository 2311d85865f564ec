package geolb

import (
	"errors"
	"math/rand/v2"
	"net/netip"
)

// ErrNoHealthyPOP 表示没有可用 POP，调用方应回复 SERVFAIL。
var ErrNoHealthyPOP = errors.New("no healthy pop")

// Selector 结合区域表与注册表挑选 POP。
type Selector struct {
	Registry *Registry
	Regions  *RegionTable
	// Intn 仅在测试中替换，用于固定随机选择。
	Intn func(n int) int
}

// Resolve 优先返回客户端区域内的最佳 POP，其次全局健康池。
func (s *Selector) Resolve(client netip.Addr) (POP, error) {
	if region, ok := s.Regions.Lookup(client); ok {
		if pop, ok := s.PickBest(s.Registry.Healthy(region)); ok {
			return pop, nil
		}
	}
	if pop, ok := s.PickBest(s.Registry.HealthyAll()); ok {
		return pop, nil
	}
	return POP{}, ErrNoHealthyPOP
}

// PickBest 选出延迟最低的已测量候选；全部未测量时随机挑选。
func (s *Selector) PickBest(candidates []Candidate) (POP, bool) {
	if len(candidates) == 0 {
		return POP{}, false
	}
	var best *Candidate
	for i := range candidates {
		c := &candidates[i]
		if !c.Measured {
			continue
		}
		if best == nil || c.Latency < best.Latency {
			best = c
		}
	}
	if best != nil {
		return best.POP, true
	}
	intn := s.Intn
	if intn == nil {
		intn = rand.IntN
	}
	return candidates[intn(len(candidates))].POP, true
}
