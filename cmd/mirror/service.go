package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/vango-dev/mirror/internal/config"
	"github.com/vango-dev/mirror/internal/demo"
	"github.com/vango-dev/mirror/internal/errors"
	"github.com/vango-dev/mirror/pkg/middleware"
	"github.com/vango-dev/mirror/pkg/server"
	"github.com/vango-dev/mirror/pkg/session"
	"github.com/vango-dev/mirror/pkg/upload"
)

// service is everything serve runs: the UI manager, its stores and the
// HTTP routes in front of it.
type service struct {
	manager  *server.Manager
	handler  http.Handler
	sessions session.Store
	tracer   *sdktrace.TracerProvider
	logger   *slog.Logger
}

// newService wires the stores, observability and the demo UI into a
// manager. reg receives the metrics when they are enabled.
func newService(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) (*service, error) {
	sc, err := cfg.ServerConfig()
	if err != nil {
		return nil, err
	}

	sessions, err := session.Open(ctx, cfg.Store.Sessions)
	if err != nil {
		return nil, errors.New("E120").WithKey("store.sessions").Wrap(err)
	}
	uploads, err := newUploadStore(cfg.Upload)
	if err != nil {
		sessions.Close()
		return nil, err
	}
	uploadConfig := upload.DefaultConfig()
	uploadConfig.MaxFileSize = cfg.Upload.MaxSize

	s := &service{sessions: sessions, logger: logger}
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithSessionStore(sessions),
		server.WithUploadStore(uploads, uploadConfig),
		server.WithUIInit(demo.New(logger.With("component", "demo")).Init),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	if cfg.Metrics.Enabled {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics := middleware.Prometheus(
			middleware.WithNamespace(cfg.Metrics.Namespace),
			middleware.WithRegistry(reg),
		)
		opts = append(opts, server.WithObserver(metrics))
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	if cfg.Tracing.Enabled {
		s.tracer = newTracerProvider(logger.With("component", "tracing"))
		opts = append(opts, server.WithMiddleware(middleware.OpenTelemetry(
			middleware.WithTracerName(cfg.Tracing.TracerName),
			middleware.WithTracerProvider(s.tracer),
		)))
	}

	s.manager = server.NewManager(sc, opts...)
	mount := cfg.BasePath
	if mount == "" {
		mount = "/"
	}
	r.Mount(mount, s.manager.Handler(cfg.BasePath))
	s.handler = r
	return s, nil
}

// shutdown closes the UIs, persists their sessions and releases the
// stores.
func (s *service) shutdown(ctx context.Context) error {
	var errs []error
	if err := s.manager.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.sessions.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.tracer != nil {
		if err := s.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := stderrors.Join(errs...); err != nil {
		return errors.New("E141").Wrap(err)
	}
	return nil
}

// newUploadStore returns an S3 store when a bucket is configured and a
// disk store otherwise.
func newUploadStore(cfg config.UploadConfig) (upload.Store, error) {
	if cfg.S3.Bucket == "" {
		store, err := upload.NewDiskStore(cfg.Dir, cfg.MaxSize)
		if err != nil {
			return nil, errors.New("E122").WithKey("upload.dir").Wrap(err)
		}
		return store, nil
	}
	return upload.NewS3Store(newS3Client(cfg.S3), cfg.S3.Bucket, cfg.S3.Prefix, cfg.MaxSize), nil
}

// newS3Client builds a client from the configuration. Without keys in the
// configuration the standard AWS environment variables are used.
func newS3Client(cfg config.S3Config) *s3.Client {
	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		c := aws.Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Source:          "mirror configuration",
		}
		if c.AccessKeyID == "" {
			c = aws.Credentials{
				AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
				SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
				Source:          "environment",
			}
		}
		if c.AccessKeyID == "" {
			return aws.Credentials{}, stderrors.New("no S3 credentials configured")
		}
		return c, nil
	})

	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.PathStyle,
		Credentials:  aws.NewCredentialsCache(creds),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}
