package geolb

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quik-cdn/quik-edge/internal/config"
)

// Prober 周期性探测所有 POP 的健康端点并更新注册表。
type Prober struct {
	Registry      *Registry
	Client        *http.Client
	Logger        *logrus.Logger
	Scheme        string
	HealthPath    string
	Interval      time.Duration
	MaxConcurrent int
	Now           func() time.Time
}

// NewProber 按 [GeoLB] 配置构建探测器。证书校验可关闭，POP 通常以 IP 访问。
func NewProber(cfg config.GeoLBConfig, registry *Registry, logger *logrus.Logger) *Prober {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	return &Prober{
		Registry:      registry,
		Client:        &http.Client{Transport: transport, Timeout: cfg.ProbeTimeout.DurationValue()},
		Logger:        logger,
		Scheme:        cfg.ProbeScheme,
		HealthPath:    cfg.HealthPath,
		Interval:      cfg.ProbeInterval.DurationValue(),
		MaxConcurrent: cfg.MaxConcurrentProbes,
	}
}

// Run 立即探测一轮，之后按 Interval 重复，直到 ctx 取消。
func (p *Prober) Run(ctx context.Context) {
	p.ProbeAll(ctx)
	if p.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll 并发探测全部 POP，单个失败不会影响其他 POP。
func (p *Prober) ProbeAll(ctx context.Context) {
	group, groupCtx := errgroup.WithContext(ctx)
	if p.MaxConcurrent > 0 {
		group.SetLimit(p.MaxConcurrent)
	}
	for _, pop := range p.Registry.POPs() {
		group.Go(func() error {
			status, err := p.probe(groupCtx, pop)
			p.Registry.Update(pop.Name, status)
			p.logResult(pop, status, err)
			return nil
		})
	}
	_ = group.Wait()
}

func (p *Prober) probe(ctx context.Context, pop POP) (Status, error) {
	now := p.now()
	target := fmt.Sprintf("%s://%s%s", p.Scheme, pop.Address, p.HealthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Status{CheckedAt: now}, err
	}
	started := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return Status{CheckedAt: now}, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	latency := time.Since(started)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Status{CheckedAt: now}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return Status{Healthy: true, Latency: latency, Measured: true, CheckedAt: now}, nil
}

func (p *Prober) logResult(pop POP, status Status, err error) {
	if p.Logger == nil {
		return
	}
	entry := p.Logger.WithFields(logrus.Fields{
		"action": "probe",
		"pop":    pop.Name,
		"region": pop.Region,
	})
	if status.Healthy {
		entry.WithField("latency_ms", status.Latency.Milliseconds()).Info("pop_healthy")
		return
	}
	entry.WithError(err).Warn("pop_unhealthy")
}

func (p *Prober) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
