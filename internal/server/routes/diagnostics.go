package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterHealthRoutes 暴露 /-/healthz 存活探针，负载均衡器的健康探测依赖它。
func RegisterHealthRoutes(app *fiber.App) {
	if app == nil {
		return
	}
	app.Get("/-/healthz", func(c fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString("OK")
	})
}

// RegisterMetricsRoutes 以 Prometheus 文本格式暴露 gatherer 中的指标。
func RegisterMetricsRoutes(app *fiber.App, gatherer prometheus.Gatherer) {
	if app == nil || gatherer == nil {
		return
	}
	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	app.Get("/-/metrics", adaptor.HTTPHandler(handler))
}
