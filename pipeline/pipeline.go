// Package pipeline assembles the tracer, metrics collector, and alerting
// engine into one in-process telemetry pipeline, wired from configuration.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/instantcocoa/pulse/alerting"
	"github.com/instantcocoa/pulse/metrics"
	"github.com/instantcocoa/pulse/pkg/cache"
	"github.com/instantcocoa/pulse/pkg/config"
	"github.com/instantcocoa/pulse/pkg/database"
	"github.com/instantcocoa/pulse/tracer"
)

// Pipeline owns the three telemetry components plus the external resources
// (Postgres, Redis, OTLP) they export to.
type Pipeline struct {
	cfg    *config.Config
	logger *slog.Logger

	Tracer  *tracer.Tracer
	Metrics *metrics.Collector
	Alerts  *alerting.Engine

	db    *database.DB
	redis *cache.Client
	otlp  *tracer.OTLPExporter

	sampler *systemSampler
}

// Health is a point-in-time snapshot across all components.
type Health struct {
	Tracing      tracer.Health
	ActiveTraces int
	MetricSeries int
	MetricPoints uint64
	Alerting     alerting.Stats
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(
		"service", cfg.ServiceName,
		"version", cfg.Version,
	)
}

// New builds a pipeline from configuration. External resources are connected
// eagerly so misconfiguration surfaces at startup rather than at first export.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = NewLogger(cfg)
	}

	hostname, _ := os.Hostname()

	tcfg := tracer.DefaultConfig(cfg.ServiceName)
	tcfg.ServiceVersion = cfg.Version
	tcfg.Environment = cfg.Environment
	tcfg.Hostname = hostname
	tcfg.SamplingRate = cfg.SamplingRate
	tcfg.MaxSpansPerTrace = cfg.MaxSpansPerTrace
	tcfg.MaxTraceAge = cfg.MaxTraceAge

	mcfg := metrics.DefaultConfig()
	mcfg.DefaultTags = map[string]string{
		"service":     cfg.ServiceName,
		"environment": cfg.Environment,
	}
	mcfg.AggregationWindows = cfg.AggregationWindows
	mcfg.RetentionRaw = cfg.RetentionRaw
	mcfg.MaxSeries = cfg.MaxSeries
	mcfg.FlushInterval = cfg.FlushInterval

	acfg := alerting.DefaultConfig()
	acfg.EvaluationInterval = cfg.EvaluationInterval

	p := &Pipeline{
		cfg:     cfg,
		logger:  logger,
		Tracer:  tracer.New(tcfg, logger),
		Metrics: metrics.NewCollector(mcfg, logger),
	}
	p.Alerts = alerting.New(acfg, p.Metrics, logger)
	p.sampler = newSystemSampler(p.Metrics, defaultSampleInterval, logger)

	if err := p.wireExporters(ctx); err != nil {
		p.closeResources(ctx)
		return nil, err
	}
	if err := p.wireAlertChannels(ctx); err != nil {
		p.closeResources(ctx)
		return nil, err
	}

	return p, nil
}

func (p *Pipeline) wireExporters(ctx context.Context) error {
	if p.cfg.Environment == "development" {
		p.Tracer.RegisterExporter(tracer.NewLogExporter(p.logger))
		p.Metrics.RegisterExporter(metrics.NewLogExporter(p.logger))
	}

	if p.cfg.OTLPEndpoint != "" {
		hostname, _ := os.Hostname()
		exp, err := tracer.NewOTLPExporter(ctx, p.cfg.OTLPEndpoint, p.cfg.OTLPInsecure, tracer.Process{
			ServiceName:    p.cfg.ServiceName,
			ServiceVersion: p.cfg.Version,
			Hostname:       hostname,
			Environment:    p.cfg.Environment,
		})
		if err != nil {
			return fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		p.otlp = exp
		p.Tracer.RegisterExporter(exp)
		p.logger.InfoContext(ctx, "otlp span exporter enabled", "endpoint", p.cfg.OTLPEndpoint)
	}

	if p.cfg.UsePostgresSink() {
		dbCfg := database.DefaultConfig()
		dbCfg.Host = p.cfg.DBHost
		dbCfg.Port = p.cfg.DBPort
		dbCfg.User = p.cfg.DBUser
		dbCfg.Password = p.cfg.DBPassword
		dbCfg.Database = p.cfg.DBName
		dbCfg.SSLMode = p.cfg.DBSSLMode

		db, err := database.Connect(ctx, dbCfg)
		if err != nil {
			return fmt.Errorf("failed to connect metrics sink: %w", err)
		}
		p.db = db.WithLogger(p.logger)

		sink := metrics.NewPostgresExporter(p.db)
		if err := sink.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare metrics sink schema: %w", err)
		}
		p.Metrics.RegisterExporter(sink)
		p.logger.InfoContext(ctx, "postgres metrics sink enabled", "host", p.cfg.DBHost, "database", p.cfg.DBName)
	}

	return nil
}

func (p *Pipeline) wireAlertChannels(ctx context.Context) error {
	if p.cfg.UseRedisChannel() {
		rcfg := cache.DefaultConfig()
		rcfg.Addr = p.cfg.RedisAddr

		client, err := cache.Connect(ctx, rcfg)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		p.redis = client.WithLogger(p.logger).WithKeyPrefix("pulse")
		p.logger.InfoContext(ctx, "redis alert channel transport enabled", "addr", p.cfg.RedisAddr)
	}

	if p.cfg.RulesFile == "" {
		return nil
	}

	rs, err := alerting.LoadRuleSet(p.cfg.RulesFile)
	if err != nil {
		return fmt.Errorf("failed to load alert rules: %w", err)
	}

	build := func(ch alerting.ChannelConfig) (alerting.Notifier, error) {
		if ch.Type == "redis" {
			if p.redis == nil {
				return nil, fmt.Errorf("channel %q requires PULSE_REDIS_ADDR", ch.ID)
			}
			stream := ch.Config["channel"]
			if stream == "" {
				stream = "alerts"
			}
			return alerting.NewRedisChannel(ch.ID, p.redis, stream), nil
		}
		return alerting.DefaultNotifierBuilder()(ch)
	}

	if err := p.Alerts.ApplyRuleSet(rs, build); err != nil {
		return fmt.Errorf("failed to apply alert rules: %w", err)
	}
	p.logger.InfoContext(ctx, "alert rules loaded",
		"file", p.cfg.RulesFile,
		"rules", len(rs.Rules),
		"channels", len(rs.Channels),
	)
	return nil
}

// Start launches all component loops.
func (p *Pipeline) Start() {
	p.Tracer.Start()
	p.Metrics.Start()
	p.Alerts.Start()
	p.sampler.Start()
	p.logger.Info("telemetry pipeline started")
}

// Shutdown stops components in dependency order and releases external
// resources. It drains buffered traces and flushes pending aggregates.
func (p *Pipeline) Shutdown(ctx context.Context) {
	p.sampler.Stop()
	p.Alerts.Stop()
	p.Metrics.Stop()
	p.Tracer.Stop()
	p.closeResources(ctx)
	p.logger.Info("telemetry pipeline stopped")
}

func (p *Pipeline) closeResources(ctx context.Context) {
	if p.otlp != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := p.otlp.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn("otlp exporter shutdown failed", "error", err)
		}
		cancel()
		p.otlp = nil
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			p.logger.Warn("metrics sink close failed", "error", err)
		}
		p.db = nil
	}
	if p.redis != nil {
		if err := p.redis.Close(); err != nil {
			p.logger.Warn("redis close failed", "error", err)
		}
		p.redis = nil
	}
}

// Health reports component counters for the run daemon's status output.
func (p *Pipeline) Health() Health {
	return Health{
		Tracing:      p.Tracer.Health(),
		ActiveTraces: p.Tracer.ActiveTraces(),
		MetricSeries: p.Metrics.SeriesCount(),
		MetricPoints: p.Metrics.PointTotal(),
		Alerting:     p.Alerts.Stats(),
	}
}
