package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mpdemo/config"
	"mpdemo/server"
)

// 入口：启动 HTTP + WebSocket 服务，并初始化房间管理器
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "server listen address, e.g. :2567")
	flag.StringVar(&cfg.LogFile, "log", cfg.LogFile, "log file path, empty for stderr")
	flag.StringVar(&cfg.LogLevel, "level", cfg.LogLevel, "log level: debug, info, warn, error")
	flag.StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "static web directory, empty to disable")
	flag.DurationVar(&cfg.EmptyRoomTTL, "empty-room-ttl", cfg.EmptyRoomTTL, "lifetime of a created room nobody joined")
	flag.Parse()

	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := server.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	rm := server.NewManager(server.ManagerOptions{EmptyRoomTTL: cfg.EmptyRoomTTL})
	srv := &http.Server{Addr: cfg.Addr, Handler: server.NewRouter(rm, cfg.StaticDir)}

	// 优雅退出（Ctrl+C）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		server.Log.Infof("listening on %s (ws endpoint: /ws)", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		server.Log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return rm.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		server.Log.Errorf("server exited: %v", err)
		server.SyncLogger()
		os.Exit(1)
	}
}
