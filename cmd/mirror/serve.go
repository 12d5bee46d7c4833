package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/mirror/internal/config"
	"github.com/vango-dev/mirror/internal/errors"
)

// serveFlags maps command-line flags to configuration keys.
var serveFlags = []struct {
	name, short, key, usage string
}{
	{"addr", "a", "addr", "Listen address"},
	{"base-path", "", "base_path", "Path the UI endpoints are mounted at"},
	{"log-level", "", "log.level", "Log level (debug, info, warn, error)"},
	{"log-format", "", "log.format", "Log format (text, json)"},
	{"push", "", "server.push_mode", "Push mode (disabled, manual, automatic)"},
	{"transport", "", "server.push_transport", "Push transport (websocket, websocket-xhr, long-polling)"},
	{"store", "", "store.sessions", "Session store (memory, sqlite:<path>, postgres:<dsn>)"},
	{"upload-dir", "", "upload.dir", "Directory for uploaded files"},
}

func serveCmd(loader *config.Loader, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo UI",
		Long: `Start the HTTP server hosting the demo UI.

Settings come from the configuration file, MIRROR_* environment
variables and the flags below, in increasing precedence. Changes to
the configuration file are picked up for the log level while running.

Examples:
  mirror serve
  mirror serve --addr=127.0.0.1:9000 --push=automatic --transport=long-polling
  mirror serve --store=sqlite:sessions.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, loader, *configPath, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	for _, f := range serveFlags {
		cmd.Flags().StringP(f.name, f.short, "", f.usage)
		if err := loader.BindFlag(f.key, cmd.Flags().Lookup(f.name)); err != nil {
			panic(err)
		}
	}

	return cmd
}

// newLogger creates the process logger. level can be changed afterwards.
func newLogger(cfg config.LogConfig, level *slog.LevelVar, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// watchLevel applies log level changes of the configuration file.
func watchLevel(loader *config.Loader, level *slog.LevelVar, logger *slog.Logger) {
	loader.Watch(func(cfg *config.Config, err error) {
		if err != nil {
			logger.Warn("ignoring invalid configuration change", "error", err)
			return
		}
		l, _ := cfg.Log.SlogLevel()
		if l != level.Level() {
			level.Set(l)
			logger.Info("log level changed", "level", l)
		}
	})
}

func runServe(ctx context.Context, loader *config.Loader, configPath string, out, logOut io.Writer) error {
	cfg, err := loader.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := new(slog.LevelVar)
	l, _ := cfg.Log.SlogLevel()
	level.Set(l)
	logger := newLogger(cfg.Log, level, logOut)
	slog.SetDefault(logger)
	if cfg.Path() != "" {
		watchLevel(loader, level, logger)
	}

	svc, err := newService(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		// Release the stores opened by newService.
		_ = svc.shutdown(context.Background())
		return errors.New("E140").WithKey(cfg.Addr).Wrap(err)
	}

	printBanner(out)
	success(out, "Listening on http://%s%s", displayAddr(ln.Addr()), cfg.BasePath)
	if cfg.Path() != "" {
		info(out, "config    %s", cfg.Path())
	}
	info(out, "push      %s (%s)", cfg.Server.PushMode, cfg.Server.PushTransport)
	info(out, "sessions  %s", storeKind(cfg.Store.Sessions))
	if cfg.Metrics.Enabled {
		info(out, "metrics   %s", cfg.Metrics.Path)
	}
	if cfg.Upload.S3.Bucket != "" {
		info(out, "uploads   s3://%s/%s", cfg.Upload.S3.Bucket, cfg.Upload.S3.Prefix)
	} else {
		info(out, "uploads   %s", cfg.Upload.Dir)
	}
	if !cfg.Server.ProductionMode {
		warn(out, "Development mode: set server.production_mode for deployments")
	}
	fmt.Fprintln(out)

	srv := &http.Server{
		Handler:           svc.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return errors.New("E140").WithKey(cfg.Addr).Wrap(err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		httpErr := srv.Shutdown(shutdownCtx)
		if err := svc.shutdown(shutdownCtx); err != nil {
			return err
		}
		if httpErr != nil {
			return errors.New("E141").Wrap(httpErr)
		}
		return nil
	})
	return g.Wait()
}

func displayAddr(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if ok && tcp.IP.IsUnspecified() {
		return fmt.Sprintf("localhost:%d", tcp.Port)
	}
	return addr.String()
}

// storeKind hides the DSN, which may hold credentials.
func storeKind(spec string) string {
	kind, _, _ := strings.Cut(spec, ":")
	return kind
}
