package geolb

import (
	"sort"
	"sync"
	"time"

	"github.com/quik-cdn/quik-edge/internal/config"
)

const (
	regionCandidateLimit = 10
	globalCandidateLimit = 20
)

// POP 是一个可被选中的边缘节点。
type POP struct {
	Name    string
	Region  string
	Address string
}

// Status 记录最近一次探测结果；Measured 为 false 时 Latency 无意义。
type Status struct {
	Healthy   bool
	Latency   time.Duration
	Measured  bool
	CheckedAt time.Time
}

// Candidate 是带状态的 POP 快照。
type Candidate struct {
	POP
	Status
}

// Registry 保存所有 POP 及其健康状态，并发安全。
type Registry struct {
	mu     sync.RWMutex
	order  []string
	pops   map[string]POP
	status map[string]Status
}

// NewRegistry 创建注册表；未探测的 POP 视为不健康。
func NewRegistry(pops []POP) *Registry {
	r := &Registry{
		pops:   make(map[string]POP, len(pops)),
		status: make(map[string]Status, len(pops)),
	}
	for _, pop := range pops {
		if _, exists := r.pops[pop.Name]; exists {
			continue
		}
		r.order = append(r.order, pop.Name)
		r.pops[pop.Name] = pop
	}
	return r
}

// RegistryFromConfig 将 [[GeoLB.POP]] 转换为注册表。
func RegistryFromConfig(cfg config.GeoLBConfig) *Registry {
	pops := make([]POP, 0, len(cfg.POPs))
	for _, p := range cfg.POPs {
		pops = append(pops, POP{Name: p.Name, Region: p.Region, Address: p.Address})
	}
	return NewRegistry(pops)
}

// POPs 按注册顺序返回全部 POP。
func (r *Registry) POPs() []POP {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]POP, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.pops[name])
	}
	return result
}

// Update 写入探测结果，未知 POP 会被忽略。
func (r *Registry) Update(name string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pops[name]; !ok {
		return
	}
	if !status.Healthy {
		status.Latency = 0
		status.Measured = false
	}
	r.status[name] = status
}

// Status 返回 POP 的当前状态。
func (r *Registry) Status(name string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.pops[name]; !ok {
		return Status{}, false
	}
	return r.status[name], true
}

// Healthy 返回某区域内的健康 POP，按延迟升序（未测量的排最后）。
func (r *Registry) Healthy(region string) []Candidate {
	return r.collect(func(p POP) bool { return p.Region == region }, regionCandidateLimit)
}

// HealthyAll 返回全局健康 POP，排序规则同 Healthy。
func (r *Registry) HealthyAll() []Candidate {
	return r.collect(func(POP) bool { return true }, globalCandidateLimit)
}

func (r *Registry) collect(match func(POP) bool, limit int) []Candidate {
	r.mu.RLock()
	result := make([]Candidate, 0, len(r.order))
	for _, name := range r.order {
		pop := r.pops[name]
		status := r.status[name]
		if !status.Healthy || !match(pop) {
			continue
		}
		result = append(result, Candidate{POP: pop, Status: status})
	}
	r.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Measured != b.Measured {
			return a.Measured
		}
		if a.Measured && a.Latency != b.Latency {
			return a.Latency < b.Latency
		}
		return a.Name < b.Name
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
