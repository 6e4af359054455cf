package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"polyfit/pkg/api"
	"polyfit/pkg/config"
	"polyfit/pkg/core"
	"polyfit/pkg/logger"
	"polyfit/pkg/network"
)

// main 是 polyfit 服务器的入口：HTTP + 二进制 TCP 共用一个 Workspace。
func main() {
	configPath := flag.String("config", "", "path to polyfit.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "polyfit server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.FromConfig(cfg.Log.Level, cfg.Log.Format)

	ws, err := core.NewWorkspace(cfg, log)
	if err != nil {
		return err
	}
	defer ws.Close()

	httpSrv := api.NewServer(ws, log)
	tcpSrv := network.NewTCPServer(ws, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Start(cfg.Server.Addr) })
	g.Go(func() error { return tcpSrv.Start(cfg.Server.TCPAddr) })
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tcpSrv.Close()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
