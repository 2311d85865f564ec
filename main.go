package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/quik-cdn/quik-edge/internal/cache"
	"github.com/quik-cdn/quik-edge/internal/config"
	"github.com/quik-cdn/quik-edge/internal/logging"
	"github.com/quik-cdn/quik-edge/internal/origin"
	"github.com/quik-cdn/quik-edge/internal/proxy"
	"github.com/quik-cdn/quik-edge/internal/server"
	"github.com/quik-cdn/quik-edge/internal/server/routes"
	"github.com/quik-cdn/quik-edge/internal/storage"
	"github.com/quik-cdn/quik-edge/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global, "edge")
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origin"] = cfg.Origin.BaseURL
		fields["capacity"] = cfg.Global.CacheCapacity
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origin"] = cfg.Origin.BaseURL
	fields["listen_port"] = cfg.Global.ListenPort
	fields["scheme"] = cfg.Global.Scheme()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("quik-edge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 QUIK_EDGE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("QUIK_EDGE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// edge 持有一个运行中的边缘节点的全部组件，关闭顺序由 shutdown 统一管理。
type edge struct {
	app       *fiber.App
	handler   *proxy.Handler
	tasks     *proxy.TaskGroup
	persister *cache.Persister
	client    *origin.Client
	cancel    context.CancelFunc
}

// buildEdge 按“存储 → 索引/快照 → 源站客户端 → 流水线 → Fiber”顺序组装节点，
// 所有请求共享同一个索引、存储与连接池。
func buildEdge(cfg *config.Config, logger *logrus.Logger) (*edge, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	disk, err := storage.NewDiskTier(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}
	tiers := storage.Tiers{
		Memory:      storage.NewMemoryTier(),
		Disk:        disk,
		ThresholdMB: cfg.Global.MemoryThresholdMB,
	}
	index := cache.NewIndex(cfg.Global.CacheCapacity)
	persister := cache.NewPersister(cfg.Global.SnapshotPath, index.Entries, logger)

	client, err := origin.New(origin.OptionsFromConfig(cfg.Origin, logger), origin.NewMetrics(registry))
	if err != nil {
		return nil, fmt.Errorf("初始化源站客户端失败: %w", err)
	}

	tasks := proxy.NewTaskGroup(cfg.Global.MaxBackgroundTasks)
	handler, err := proxy.NewHandler(proxy.Options{
		Index:             index,
		Tiers:             tiers,
		Origin:            client,
		Tasks:             tasks,
		Persister:         persister,
		Logger:            logger,
		MaxCacheableBytes: cfg.Global.MaxCacheableBytes(),
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	restoreSnapshot(cfg.Global.SnapshotPath, handler, logger)

	app, err := server.NewApp(server.AppOptions{
		Logger: logger,
		Proxy:  handler,
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	routes.RegisterHealthRoutes(app)
	routes.RegisterMetricsRoutes(app, registry)
	routes.RegisterCacheRoutes(app, handler, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = persister.Run(ctx) }()
	sweeper := storage.Sweeper{
		Disk:      disk,
		Interval:  cfg.Global.SweepInterval.DurationValue(),
		Retention: cfg.Global.TempFileRetention.DurationValue(),
		Logger:    logger,
	}
	go func() { _ = sweeper.Run(ctx) }()

	return &edge{
		app:       app,
		handler:   handler,
		tasks:     tasks,
		persister: persister,
		client:    client,
		cancel:    cancel,
	}, nil
}

// restoreSnapshot 回放上次退出时的磁盘条目；快照损坏只影响冷启动命中率。
func restoreSnapshot(path string, handler *proxy.Handler, logger *logrus.Logger) {
	entries, skipped, err := cache.LoadSnapshot(path)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"action": "snapshot_restore",
			"path":   path,
		}).WithError(err).Warn("snapshot_load_failed")
		return
	}
	for _, record := range skipped {
		logger.WithFields(logrus.Fields{
			"action":    "snapshot_restore",
			"cache_key": record.Key,
			"reason":    record.Reason,
		}).Warn("snapshot_record_skipped")
	}
	restored := handler.Restore(entries)
	logger.WithFields(logrus.Fields{
		"action":   "snapshot_restore",
		"path":     path,
		"restored": restored,
		"skipped":  len(skipped),
	}).Info("snapshot_loaded")
}

// shutdown 依次停止接收请求、等待后台重验证、落盘快照并关闭源站连接。
func (e *edge) shutdown(cfg *config.Config, logger *logrus.Logger) {
	timeout := cfg.Global.ShutdownTimeout.DurationValue()
	if err := e.app.ShutdownWithTimeout(timeout); err != nil {
		logger.WithField("action", "shutdown").WithError(err).Warn("server_shutdown_failed")
	}
	if err := e.tasks.Shutdown(timeout); err != nil {
		logger.WithFields(logrus.Fields{
			"action":  "shutdown",
			"pending": e.tasks.Pending(),
		}).WithError(err).Warn("background_tasks_abandoned")
	}
	e.cancel()
	if err := e.persister.Flush(); err != nil {
		logger.WithField("action", "shutdown").WithError(err).Warn("snapshot_write_failed")
	}
	e.client.Close()
	logger.WithField("action", "shutdown").Info("edge_stopped")
}

func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	node, err := buildEdge(cfg, logger)
	if err != nil {
		return err
	}

	port := cfg.Global.ListenPort
	listenCfg := fiber.ListenConfig{DisableStartupMessage: true}
	if cfg.Global.TLSEnabled() {
		listenCfg.CertFile = cfg.Global.TLSCertFile
		listenCfg.CertKeyFile = cfg.Global.TLSKeyFile
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
		"scheme": cfg.Global.Scheme(),
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- node.app.Listen(fmt.Sprintf(":%d", port), listenCfg)
	}()

	select {
	case err := <-errCh:
		node.shutdown(cfg, logger)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-ctx.Done():
		node.shutdown(cfg, logger)
		return <-errCh
	}
}
