package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	v1 "boqbalance/internal/api/v1"
	"boqbalance/internal/config"
	"boqbalance/internal/exporter"
	"boqbalance/internal/importer"
	"boqbalance/internal/server"
	"boqbalance/internal/service/calculator"
	"boqbalance/internal/service/iteration"
	"boqbalance/internal/service/matching"
	"boqbalance/internal/service/project"
	"boqbalance/internal/service/reconcile"
	"boqbalance/internal/service/session"
	"boqbalance/internal/store"
)

var (
	port      = flag.Int("port", 0, "服务端口 (config.toml 优先；仅当未显式配置 port 时生效)")
	devMode   = flag.Bool("dev", false, "开发模式")
	dataDir   = flag.String("dataDir", "", "数据目录 (覆盖配置文件)")
	configDir = flag.String("config", "", "config.toml 所在目录 (默认为可执行文件目录)")
)

func main() {
	flag.Parse()

	fmt.Println("==========================================")
	fmt.Println("  BOQ Balance - 工程量清单预算对账工具")
	fmt.Println("==========================================")

	// 加载配置
	cfg, info, err := config.LoadConfigWithInfo(*configDir)
	if err != nil {
		log.Printf("加载配置失败，使用默认配置: %v", err)
		cfg = config.DefaultConfig()
		info = config.LoadConfigInfo{}
	}

	// 命令行参数覆盖配置
	if *port > 0 && !info.PortSpecified {
		cfg.Server.Port = *port
	}
	if *devMode {
		cfg.Server.DevMode = true
	}
	if *dataDir != "" {
		cfg.Data.DataDir = *dataDir
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置无效: %v", err)
	}

	level := slog.LevelInfo
	if cfg.Server.DevMode {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// 确保数据目录存在
	dir, err := config.EnsureDataDir(cfg)
	if err != nil {
		log.Fatalf("创建数据目录失败: %v", err)
	}
	fmt.Printf("数据目录: %s\n", dir)

	st, err := store.New(filepath.Join(dir, "boqbalance.db"))
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer st.Close()
	if cfg.Data.AutoBackup {
		if path, err := st.Backup(filepath.Join(dir, "backups"), time.Now()); err != nil {
			logger.Warn("database backup failed", "error", err)
		} else {
			logger.Info("database backed up", "path", path)
		}
	}

	registry := session.NewRegistry(cfg.OptimizeParams())
	projects, err := project.NewManager(filepath.Join(dir, "sessions"), registry, st, logger)
	if err != nil {
		log.Fatalf("初始化会话目录失败: %v", err)
	}

	matcher := matching.New(nil, cfg.MatchingOptions(), logger)
	controller := iteration.NewController(calculator.NewOptimizer(logger), cfg.Adjuster(), logger)
	recon := reconcile.New(matcher, controller, st, logger)

	// 恢复会话并重建匹配结果
	restored, err := projects.Load()
	if err != nil {
		log.Fatalf("读取会话失败: %v", err)
	}
	for _, r := range restored {
		if err := recon.Restore(context.Background(), r.Session, r.Overrides); err != nil {
			logger.Warn("rebuild match failed", "session", r.Session.ID(), "error", err)
		}
	}
	fmt.Printf("已恢复 %d 个会话\n", len(restored))

	handler := v1.NewHandler(v1.Options{
		Projects:   projects,
		Sessions:   registry,
		Reconciler: recon,
		Importer:   importer.NewCoordinator(st, logger),
		Store:      st,
		Exporter:   exporter.NewExporter(cfg.Excel.CurrencyPlaces),
		UploadDir:  filepath.Join(dir, "uploads"),
		Timeout:    time.Duration(cfg.Server.RequestTimeout) * time.Second,
		Logger:     logger,
	})
	srv := server.NewServer(cfg, handler, projects)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		fmt.Printf("服务启动中，监听端口 %d ...\n", cfg.Server.Port)
		if err := srv.Run(addr); err != nil {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()
	fmt.Printf("API 地址: http://localhost:%d/api/v1/status\n", cfg.Server.Port)
	fmt.Println("\n按 Ctrl+C 停止服务...")

	// 等待信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\n正在关闭服务...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("关闭服务失败: %v", err)
	}
	if err := srv.SaveNow(); err != nil {
		log.Printf("退出前保存失败: %v", err)
	}
}
