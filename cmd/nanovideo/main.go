// Command nanovideo: cached media download service.
//
//	serve  Run the HTTP API (default when no subcommand is given)
//	mount  Expose the download cache as a read-only FUSE directory
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/nanovideo/nanovideo/internal/api"
	"github.com/nanovideo/nanovideo/internal/cache"
	"github.com/nanovideo/nanovideo/internal/cachefs"
	"github.com/nanovideo/nanovideo/internal/config"
	"github.com/nanovideo/nanovideo/internal/fetch"
	"github.com/nanovideo/nanovideo/internal/history"
	"github.com/nanovideo/nanovideo/internal/ytdlp"
)

const shutdownGrace = 10 * time.Second

func main() {
	_ = config.LoadEnvFile(".env")
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveConfig := serveCmd.String("config", "", "Optional YAML config file (env vars still win)")
	serveAddr := serveCmd.String("addr", "", "Listen address override (default: HOST:PORT)")
	serveDebug := serveCmd.Bool("debug", false, "Enable debug logging")

	mountCmd := flag.NewFlagSet("mount", flag.ExitOnError)
	mountConfig := mountCmd.String("config", "", "Optional YAML config file")
	mountPoint := mountCmd.String("mount", "", "Mount point (default: NANOVIDEO_MOUNT)")

	args := os.Args[1:]
	sub := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "serve":
		_ = serveCmd.Parse(args)
		if *serveDebug {
			log.SetLevel(log.DebugLevel)
		}
		cfg, err := config.Load(*serveConfig)
		if err != nil {
			log.WithError(err).Fatal("load config")
		}
		addr := cfg.Addr()
		if *serveAddr != "" {
			addr = *serveAddr
		}
		runServe(cfg, addr)

	case "mount":
		_ = mountCmd.Parse(args)
		cfg, err := config.Load(*mountConfig)
		if err != nil {
			log.WithError(err).Fatal("load config")
		}
		mp := cfg.MountPoint
		if *mountPoint != "" {
			mp = *mountPoint
		}
		runMount(cfg, mp)

	default:
		fmt.Fprintf(os.Stderr, "Usage: %s [serve|mount] [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  serve  Run the HTTP API (default)\n")
		fmt.Fprintf(os.Stderr, "  mount  Mount the download cache read-only via FUSE\n")
		os.Exit(1)
	}
}

func runServe(cfg *config.Config, addr string) {
	ix := &cache.Index{Dir: cfg.DownloadsDir}
	if err := ix.EnsureDir(); err != nil {
		log.WithError(err).WithField("dir", cfg.DownloadsDir).Fatal("cache directory unusable")
	}

	tool := ytdlp.New(cfg.YtdlpPath)
	if !tool.Available() {
		log.WithField("path", cfg.YtdlpPath).Warn("extractor tool not found; only direct file URLs will work")
	}

	coord := fetch.New(ix, tool, fetch.Options{
		MaxConcurrent: cfg.MaxConcurrentFetches,
		StartInterval: cfg.FetchStartInterval,
		StartBurst:    cfg.FetchStartBurst,
		Timeout:       cfg.FetchTimeout,
	})

	var hist *history.Store
	if h, err := history.Open(cfg.HistoryPath); err != nil {
		log.WithError(err).Warn("history ledger disabled")
	} else {
		hist = h
		defer hist.Close()
		coord.SetRecorder(hist)
	}

	srv := api.New(cfg, ix, coord, tool, hist, tool.Available)
	defer srv.Close()
	httpSrv := &http.Server{
		Handler:           srv.Echo(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.WithError(err).WithField("addr", addr).Fatal("listen")
	}
	if cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConns)
	}

	go func() {
		log.WithFields(log.Fields{
			"addr":      addr,
			"cache_dir": cfg.DownloadsDir,
			"max_conns": cfg.MaxConns,
		}).Info("serving")
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("serve")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
	}
}

func runMount(cfg *config.Config, mountPoint string) {
	ix := &cache.Index{Dir: cfg.DownloadsDir}
	if err := ix.EnsureDir(); err != nil {
		log.WithError(err).WithField("dir", cfg.DownloadsDir).Fatal("cache directory unusable")
	}

	srv, err := cachefs.Mount(mountPoint, ix)
	if err != nil {
		log.WithError(err).WithField("mount", mountPoint).Fatal("mount failed")
	}
	log.WithFields(log.Fields{"mount": mountPoint, "cache_dir": cfg.DownloadsDir}).Info("mounted")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info("unmounting")
		if err := srv.Unmount(); err != nil {
			log.WithError(err).Warn("unmount failed; try fusermount -u")
		}
	}()
	srv.Wait()
}
