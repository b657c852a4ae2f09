// Command tlvcached runs a standalone cache instance from a YAML
// configuration file, stopping it in an orderly fashion on SIGINT/SIGTERM.
// It exists mainly as wiring glue: the library is normally embedded.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/marekvnovak/tlvcache"
	"github.com/marekvnovak/tlvcache/config"
)

func main() {
	path := flag.String("config", "tlvcache.yaml", "path to the YAML configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(slog.String("service", "tlvcached"))

	cfg, err := config.Load(*path)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	cache, err := tlvcache.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("cache construction failed", "err", err)
		os.Exit(1)
	}
	if err := cache.Start(); err != nil {
		logger.Error("cache start failed", "err", err)
		os.Exit(1)
	}
	logger.Info("working", "describe", cache.Describe())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	done := make(chan struct{})
	if err := cache.Stop(func() { close(done) }); err != nil {
		logger.Error("stop failed", "err", err)
		os.Exit(1)
	}
	<-done
	logger.Info("stopped")
}
