package redeployr

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	cfg "github.com/loykin/redeployr/internal/config"
	"github.com/loykin/redeployr/internal/history"
	"github.com/loykin/redeployr/internal/history/factory"
	"github.com/loykin/redeployr/internal/logger"
	"github.com/loykin/redeployr/internal/metrics"
	iapi "github.com/loykin/redeployr/internal/server"
	"github.com/loykin/redeployr/internal/supervisor"
	"github.com/loykin/redeployr/internal/updater"
	"github.com/loykin/redeployr/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type WorkerSpec = worker.Spec

type WorkerStatus = worker.Status

type UpdateStep = updater.Step

type Options = supervisor.Options

type RedeployOptions = supervisor.RedeployOptions

type Report = supervisor.Report

type PhaseResult = supervisor.PhaseResult

type Config = cfg.FileConfig

type LogConfig = logger.Config

type HistorySink = history.Sink

type HistoryEvent = history.Event

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.

type Supervisor struct{ inner *supervisor.Supervisor }

func New(opts Options) (*Supervisor, error) {
	inner, err := supervisor.New(opts)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: inner}, nil
}

func (s *Supervisor) Redeploy(ctx context.Context, opts RedeployOptions) (*Report, error) {
	return s.inner.Redeploy(ctx, opts)
}
func (s *Supervisor) Stop(ctx context.Context) (*Report, error)  { return s.inner.Stop(ctx) }
func (s *Supervisor) Start(ctx context.Context) (*Report, error) { return s.inner.Start(ctx) }
func (s *Supervisor) Status(ctx context.Context) WorkerStatus    { return s.inner.Status(ctx) }
func (s *Supervisor) History(ctx context.Context, limit int) ([]HistoryEvent, error) {
	return s.inner.History(ctx, limit)
}

func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

// NewLogger builds a slog logger from the [log] section of a config.
func NewLogger(c LogConfig) *slog.Logger { return c.NewSlogger() }

// NewSinkFromDSN builds a history sink from a DSN. Supported schemes are
// sqlite:// (or a bare file path), postgres://, clickhouse:// and
// opensearch://. The caller owns the sink and should close it when done.
func NewSinkFromDSN(dsn string) (HistorySink, error) {
	return factory.NewSinkFromDSN(dsn)
}

// NewHTTPServer starts an HTTP server exposing the agent API using the given supervisor.
func NewHTTPServer(addr, basePath string, s *Supervisor) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.inner)
}

// Metrics helpers (public facade)

type SamplerConfig = metrics.SamplerConfig

type WorkerSampler = metrics.WorkerSampler

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewWorkerSampler builds a CPU and memory sampler for the managed worker.
// It stays inert until Start and unless the config enables it.
func NewWorkerSampler(c SamplerConfig) *WorkerSampler { return metrics.NewWorkerSampler(c) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
