package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/norish-recipes/norish-sub000/internal/config"
	"github.com/norish-recipes/norish-sub000/internal/runtime"
	httpserver "github.com/norish-recipes/norish-sub000/internal/server/http"
	pebblestore "github.com/norish-recipes/norish-sub000/internal/storage/pebble"
	logpkg "github.com/norish-recipes/norish-sub000/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	DataDir       string
	HTTPAddr      string
	ConfigPath    string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
}

// Run starts the background runtime and HTTP server and blocks until ctx is
// cancelled or a shutdown signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := cfgpkg.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	cfgpkg.FromEnv(&cfg)
	if opts.HTTPAddr != "" {
		cfg.HTTPAddr = opts.HTTPAddr
	}
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")

	logCfg := &logpkg.Config{
		Level:  getenvDefault("NORISH_LOG_LEVEL", "info"),
		Format: getenvDefault("NORISH_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(logCfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{
		DataDir:       storeDir,
		Config:        cfg,
		Logger:        procLogger,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return err
	}
	if err := rt.Start(sctx); err != nil {
		_ = rt.Close(context.Background())
		return err
	}

	procLogger.Info("starting norish background server",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("dataDir", storeDir),
		logpkg.Str("policy", cfg.VisibilityPolicy),
		logpkg.Str("level", logCfg.Level),
		logpkg.Str("format", logCfg.Format),
	)

	hsrv := httpserver.New(rt)
	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		return hsrv.ListenAndServe(gctx, cfg.HTTPAddr)
	})
	err = g.Wait()
	hsrv.Close()

	closeCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownGraceMs)*time.Millisecond+5*time.Second)
	defer cancel()
	if cerr := rt.Close(closeCtx); cerr != nil && err == nil {
		err = cerr
	}
	if sctx.Err() != nil {
		return nil
	}
	return err
}
