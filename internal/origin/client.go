package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/quik-cdn/quik-edge/internal/config"
)

// ErrOriginUnavailable 表示重试耗尽后仍无法从源站得到可用响应。
var ErrOriginUnavailable = errors.New("origin unavailable")

// Options 控制连接池、重试与退避。
type Options struct {
	BaseURL             string
	RequestTimeout      time.Duration
	KeepAliveTimeout    time.Duration
	KeepAliveMaxTimeout time.Duration
	MaxConnections      int
	Pipelining          int
	MaxRetries          int
	BaseBackoff         time.Duration
	MaxBackoff          time.Duration
	RetryOnHTTPError    bool
	Logger              *logrus.Logger
}

// OptionsFromConfig 将 [Origin] 配置段转换为客户端参数。
func OptionsFromConfig(cfg config.OriginConfig, logger *logrus.Logger) Options {
	return Options{
		BaseURL:             cfg.BaseURL,
		RequestTimeout:      cfg.RequestTimeout.DurationValue(),
		KeepAliveTimeout:    cfg.KeepAliveTimeout.DurationValue(),
		KeepAliveMaxTimeout: cfg.KeepAliveMaxTimeout.DurationValue(),
		MaxConnections:      cfg.MaxConnections,
		Pipelining:          cfg.Pipelining,
		MaxRetries:          cfg.MaxRetries,
		BaseBackoff:         cfg.BaseBackoff.DurationValue(),
		MaxBackoff:          cfg.MaxBackoff.DurationValue(),
		RetryOnHTTPError:    cfg.RetryOnHTTPError,
		Logger:              logger,
	}
}

// Response 是完整缓冲的源站响应，每个调用方拿到独立副本。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Clone 深拷贝状态、头部与正文。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       append([]byte(nil), r.Body...),
	}
}

// Client 是进程内唯一的源站客户端。
type Client struct {
	base      *url.URL
	opts      Options
	http      *http.Client
	transport *http.Transport
	metrics   *Metrics
	logger    *logrus.Logger
	limiter   *semaphore.Weighted
	flights   singleflight.Group

	// 合并后的请求运行在 Client 自身的生命周期上，单个调用方断开不会中止它。
	ctx    context.Context
	cancel context.CancelFunc

	sleep func(ctx context.Context, d time.Duration) error
}

// New 构建客户端；metrics 为 nil 时使用未注册的指标。
func New(opts Options, metrics *Metrics) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("origin url must be http or https: %s", opts.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("origin url missing host: %s", opts.BaseURL)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	inflight := int64(opts.MaxConnections)
	if inflight < 1 {
		inflight = 1
	}
	if opts.Pipelining > 1 {
		inflight *= int64(opts.Pipelining)
	}

	transport := newTransport(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		base:      base,
		opts:      opts,
		http:      &http.Client{Timeout: opts.RequestTimeout, Transport: transport},
		transport: transport,
		metrics:   metrics,
		logger:    logger,
		limiter:   semaphore.NewWeighted(inflight),
		ctx:       ctx,
		cancel:    cancel,
		sleep:     sleepContext,
	}, nil
}

// URL 将请求路径与原始查询串拼接到源站基址上。
func (c *Client) URL(path, rawQuery string) string {
	target := *c.base
	target.Path = strings.TrimSuffix(c.base.Path, "/") + path
	target.RawPath = ""
	target.RawQuery = rawQuery
	return target.String()
}

// Fetch 是带合并的 FetchWithRetry：相同目标（以及相同校验头）的并发调用只产生
// 一次源站请求。调用方只在自己的 ctx 上等待结果。
func (c *Client) Fetch(ctx context.Context, target string, header http.Header) (*Response, error) {
	leader := false
	ch := c.flights.DoChan(flightKey(target, header), func() (interface{}, error) {
		leader = true
		return c.FetchWithRetry(c.ctx, target, header)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if !leader {
			c.metrics.Coalesced.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Response).Clone(), nil
	}
}

// FetchWithRetry 对传输错误（以及开启 RetryOnHTTPError 时的 5xx）按
// min(base*2^(attempt-1), max) 退避重试，重试次数耗尽返回 ErrOriginUnavailable。
// 其余状态码原样返回，由调用方决定如何处理。
func (c *Client) FetchWithRetry(ctx context.Context, target string, header http.Header) (*Response, error) {
	attempt := 0
	for {
		resp, err := c.do(ctx, target, header)
		if err == nil && !(c.opts.RetryOnHTTPError && resp.StatusCode >= http.StatusInternalServerError) {
			return resp, nil
		}
		if err != nil {
			c.metrics.Errors.Inc()
		} else {
			err = fmt.Errorf("origin status %d", resp.StatusCode)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		attempt++
		if attempt > c.opts.MaxRetries {
			c.metrics.Failures.Inc()
			c.logger.WithFields(logrus.Fields{
				"action":   "origin_fetch",
				"url":      target,
				"attempts": attempt,
			}).WithError(err).Warn("origin_unavailable")
			return nil, fmt.Errorf("%w: %v", ErrOriginUnavailable, err)
		}

		c.metrics.Retries.Inc()
		delay := c.backoff(attempt)
		c.logger.WithFields(logrus.Fields{
			"action":  "origin_fetch",
			"url":     target,
			"attempt": attempt,
			"delay":   delay.String(),
		}).WithError(err).Debug("origin_retry")
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) do(ctx context.Context, target string, header http.Header) (*Response, error) {
	if err := c.limiter.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.limiter.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	c.metrics.Fetches.Inc()
	c.metrics.Active.Inc()
	defer c.metrics.Active.Dec()

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.metrics.Latency.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("read origin body: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.opts.MaxBackoff > 0 && delay >= c.opts.MaxBackoff {
			return c.opts.MaxBackoff
		}
	}
	if c.opts.MaxBackoff > 0 && delay > c.opts.MaxBackoff {
		return c.opts.MaxBackoff
	}
	return delay
}

// Close 取消所有进行中的合并请求并关闭空闲连接。
func (c *Client) Close() {
	c.cancel()
	c.transport.CloseIdleConnections()
}

// flightKey 在带条件头时把校验值并入键，避免普通请求收到只属于条件请求的 304。
func flightKey(target string, header http.Header) string {
	inm := header.Get("If-None-Match")
	ims := header.Get("If-Modified-Since")
	if inm == "" && ims == "" {
		return target
	}
	return target + "\x00inm=" + inm + "\x00ims=" + ims
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
