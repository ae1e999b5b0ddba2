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

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/qianlnk/mafia/config"
	"github.com/qianlnk/mafia/logger"
	"github.com/qianlnk/mafia/services"
	"github.com/qianlnk/mafia/storage"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// 配置未加载前只能用默认日志
		base := logger.New("info", true)
		base.Fatal().Err(err).Msg("加载配置失败")
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("服务异常退出")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	roles, err := services.NewRoleRegistry(services.DefaultRoles())
	if err != nil {
		return err
	}
	table, err := services.NewPhaseTable(cfg.Game)
	if err != nil {
		return err
	}

	var (
		archive services.ResultArchive
		results services.ResultLister
	)
	if cfg.Storage.Path != "" {
		store, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		archive, results = store, store
		log.Info().Str("path", cfg.Storage.Path).Msg("对局存档已启用")
	}

	sockets := services.NewWebSocketManager(cfg.Server.ActionsPerSecond, cfg.Server.ActionBurst, log)
	rooms, err := services.NewRoomManager(cfg.Game, roles, table, sockets, archive, log)
	if err != nil {
		return err
	}
	defer rooms.Close()
	sockets.SetRoomManager(rooms)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go rooms.Run(ctx)

	server := services.NewServer(rooms, sockets, results, cfg.Server.AllowedOrigins, log)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("服务器启动")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("正在关闭服务器")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
