package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/quik-cdn/quik-edge/internal/config"
	"github.com/quik-cdn/quik-edge/internal/geolb"
	"github.com/quik-cdn/quik-edge/internal/logging"
	"github.com/quik-cdn/quik-edge/internal/server/routes"
	"github.com/quik-cdn/quik-edge/internal/version"
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	fs := flag.NewFlagSet("geolb", flag.ContinueOnError)
	configPath := fs.String("config", "", "配置文件路径（默认 ./config.toml，可被 QUIK_EDGE_CONFIG 覆盖）")
	showVer := fs.Bool("version", false, "显示版本信息")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if *showVer {
		fmt.Fprintln(stdOut, version.Named("quik-geolb"))
		return
	}

	path := *configPath
	if path == "" {
		path = os.Getenv("QUIK_EDGE_CONFIG")
	}
	os.Exit(run(path))
}

func run(path string) int {
	cfg, err := config.LoadGeoLB(path)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}
	logger, err := logging.InitLogger(cfg.Global, "geolb")
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	registry := geolb.RegistryFromConfig(cfg.GeoLB)
	regions, err := geolb.NewRegionTable(cfg.GeoLB.Regions)
	if err != nil {
		fmt.Fprintf(stdErr, "解析区域表失败: %v\n", err)
		return 1
	}
	selector := &geolb.Selector{Registry: registry, Regions: regions}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prober := geolb.NewProber(cfg.GeoLB, registry, logger)
	go prober.Run(ctx)

	app := newApp(selector, cfg.GeoLB.TTL.DurationValue(), logger)
	fields := logging.BaseFields("startup", path)
	fields["pops"] = len(cfg.GeoLB.POPs)
	fields["listen_port"] = cfg.GeoLB.ListenPort
	fields["version"] = version.Named("quik-geolb")
	logger.WithFields(fields).Info("负载均衡器启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", cfg.GeoLB.ListenPort), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			logger.WithField("action", "shutdown").WithError(err).Warn("server_shutdown_failed")
		}
	}
	return 0
}

type resolveResponse struct {
	Name    string `json:"name"`
	Region  string `json:"region"`
	Address string `json:"address"`
	TTL     int    `json:"ttl"`
}

// newApp 暴露 /resolve 查询接口：client 参数缺省时使用调用方 IP。
func newApp(selector *geolb.Selector, ttl time.Duration, logger *logrus.Logger) *fiber.App {
	app := fiber.New()
	app.Use(recover.New())
	routes.RegisterHealthRoutes(app)

	app.Get("/resolve", func(c fiber.Ctx) error {
		raw := strings.TrimSpace(c.Query("client"))
		if raw == "" {
			raw = c.IP()
		}
		client, err := netip.ParseAddr(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_client"})
		}

		pop, err := selector.Resolve(client)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"action": "resolve",
				"client": client.String(),
			}).WithError(err).Warn("servfail")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "servfail"})
		}

		logger.WithFields(logrus.Fields{
			"action": "resolve",
			"client": client.String(),
			"pop":    pop.Name,
		}).Debug("resolved")
		return c.JSON(resolveResponse{
			Name:    pop.Name,
			Region:  pop.Region,
			Address: pop.Address,
			TTL:     int(ttl / time.Second),
		})
	})
	return app
}
