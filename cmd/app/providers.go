package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/sunspot/internal/domain/building"
	"github.com/yanqian/sunspot/internal/domain/confidence"
	"github.com/yanqian/sunspot/internal/domain/exposure"
	"github.com/yanqian/sunspot/internal/domain/precompute"
	"github.com/yanqian/sunspot/internal/domain/shadow"
	"github.com/yanqian/sunspot/internal/domain/solar"
	"github.com/yanqian/sunspot/internal/domain/timeline"
	"github.com/yanqian/sunspot/internal/domain/venue"
	"github.com/yanqian/sunspot/internal/domain/weather"
	"github.com/yanqian/sunspot/internal/infra/config"
	"github.com/yanqian/sunspot/internal/infra/queue"
	"github.com/yanqian/sunspot/internal/infra/scheduler"
	"github.com/yanqian/sunspot/internal/infra/snapshot"
	"github.com/yanqian/sunspot/internal/infra/venuerepo"
	"github.com/yanqian/sunspot/internal/infra/weatherprovider"
	"github.com/yanqian/sunspot/internal/infra/weatherstore"
	"github.com/yanqian/sunspot/internal/infra/windowcache"
	"github.com/yanqian/sunspot/internal/infra/windowrepo"
	"github.com/yanqian/sunspot/pkg/metrics"
	"github.com/yanqian/sunspot/pkg/util"
)

func provideClock() util.Clock {
	return util.NowUTC
}

func provideMetrics() (*metrics.Engine, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.NewEngine(registry)
}

// providePostgresPool returns nil when no DSN is configured or the database
// is unreachable; repositories then fall back to memory.
func providePostgresPool(cfg *config.Config, logger *slog.Logger) *pgxpool.Pool {
	dsn := strings.TrimSpace(cfg.Postgres.DSN)
	if dsn == "" {
		logger.Info("postgres dsn not set, using memory repositories")
		return nil
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Error("invalid postgres dsn, using memory repositories", "error", err)
		return nil
	}
	if cfg.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = cfg.Postgres.MaxConns
	}
	if cfg.Postgres.MinConns > 0 {
		poolConfig.MinConns = cfg.Postgres.MinConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("failed to initialize postgres pool, using memory repositories", "error", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres ping failed, using memory repositories", "error", err)
		pool.Close()
		return nil
	}
	logger.Info("postgres repositories enabled")
	return pool
}

// provideValkeyClient returns nil when Valkey is disabled or unreachable.
func provideValkeyClient(cfg *config.Config, logger *slog.Logger) valkey.Client {
	if !cfg.Valkey.Enabled {
		return nil
	}
	opt, err := buildValkeyOptions(cfg)
	if err != nil {
		logger.Error("invalid valkey configuration, using local cache and queue", "error", err)
		return nil
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		logger.Error("failed to create valkey client, using local cache and queue", "error", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		logger.Error("valkey ping failed, using local cache and queue", "error", err)
		client.Close()
		return nil
	}
	logger.Info("valkey enabled", "addr", cfg.Valkey.Addr)
	return client
}

func buildValkeyOptions(cfg *config.Config) (valkey.ClientOption, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	if strings.Contains(cfg.Valkey.Addr, "://") {
		opt, err = valkey.ParseURL(cfg.Valkey.Addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{cfg.Valkey.Addr}}
	}
	if err != nil {
		return valkey.ClientOption{}, err
	}
	return opt, nil
}

func provideVenueRepository(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) venue.Repository {
	if pool != nil {
		return venuerepo.NewPostgresRepository(pool)
	}
	repo := venuerepo.NewMemoryRepository()
	if path := strings.TrimSpace(cfg.Venues.SeedPath); path != "" {
		patios, buildings, err := repo.Seed(context.Background(), path)
		if err != nil {
			logger.Error("failed to seed venues", "path", path, "error", err)
		} else {
			logger.Info("venues seeded", "path", path, "patios", patios, "buildings", buildings)
		}
	}
	return repo
}

func providePatioRepository(repo venue.Repository) venue.PatioRepository {
	return repo
}

func provideWeatherStore(pool *pgxpool.Pool) weather.Store {
	if pool != nil {
		return weatherstore.NewPostgresStore(pool)
	}
	return weatherstore.NewMemoryStore()
}

func provideWindowRepository(pool *pgxpool.Pool) precompute.WindowRepository {
	if pool != nil {
		return windowrepo.NewPostgresWindowRepository(pool)
	}
	return windowrepo.NewMemoryWindowRepository()
}

func provideJobRunRepository(pool *pgxpool.Pool) precompute.JobRunRepository {
	if pool != nil {
		return windowrepo.NewPostgresJobRunRepository(pool)
	}
	return windowrepo.NewMemoryJobRunRepository()
}

func provideScheduleCache(cfg *config.Config, client valkey.Client, m *metrics.Engine, logger *slog.Logger) *windowcache.Tiered {
	local := windowcache.NewMemoryCache(cfg.Precompute.CacheTTL)
	if client == nil {
		return windowcache.NewTiered(local, nil, nil, m, logger)
	}
	shared := windowcache.NewValkeyCache(client, cfg.Valkey.Prefix, cfg.Precompute.CacheTTL)
	evictions := windowcache.NewValkeyEvictions(client, cfg.Valkey.Prefix, logger)
	return windowcache.NewTiered(local, shared, evictions, m, logger)
}

func provideSnapshotExporter(cfg *config.Config, clock util.Clock, logger *slog.Logger) precompute.SnapshotExporter {
	if !cfg.Storage.Enabled {
		return snapshot.NewExporter(snapshot.NewMemoryStorage(), clock)
	}
	store, err := snapshot.NewR2Storage(cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.Bucket, cfg.Storage.Region, logger)
	if err != nil {
		logger.Error("failed to init snapshot storage, keeping snapshots in memory", "error", err)
		return snapshot.NewExporter(snapshot.NewMemoryStorage(), clock)
	}
	logger.Info("snapshot storage enabled", "bucket", cfg.Storage.Bucket)
	return snapshot.NewExporter(store, clock)
}

func provideWeatherProviders(cfg *config.Config, clock util.Clock, logger *slog.Logger) []weather.Provider {
	if cfg.Weather.Mock {
		logger.Info("weather mock provider enabled")
		return []weather.Provider{weatherprovider.NewMockProvider(0.2, 0.8, clock)}
	}
	httpCfg := weatherprovider.DefaultHTTPClientConfig()
	if cfg.Weather.Timeout > 0 {
		httpCfg.Client = &http.Client{Timeout: cfg.Weather.Timeout}
	}
	if cfg.Weather.MaxRetries >= 0 {
		httpCfg.Backoff.MaxRetries = cfg.Weather.MaxRetries
	}
	httpCfg.UserAgent = cfg.Weather.UserAgent
	providers := []weather.Provider{weatherprovider.NewOpenMeteoProvider(cfg.Weather.PrimaryURL, httpCfg, clock)}
	if strings.TrimSpace(cfg.Weather.SecondaryURL) != "" {
		providers = append(providers, weatherprovider.NewMetNoProvider(cfg.Weather.SecondaryURL, httpCfg, clock))
	}
	return providers
}

func provideWeatherConfig(cfg *config.Config) weather.Config {
	wc := weather.DefaultConfig()
	wc.Lookback = cfg.Weather.Lookback
	wc.MaxAge = cfg.Weather.MaxAge
	wc.Retention = cfg.Weather.Retention
	wc.IngestHorizon = cfg.Weather.IngestHorizon
	wc.IngestWorkers = cfg.Weather.IngestWorkers
	return wc
}

func provideSolarCalculator(cfg *config.Config) solar.Calculator {
	return solar.NewCachedCalculator(solar.NewCalculator(), cfg.Engine.SolarCacheTTL)
}

func provideHeightManager(cfg *config.Config) *building.Manager {
	h := cfg.Engine.Heights
	return building.NewManager(building.Config{
		DefaultHeight:  h.DefaultHeight,
		MetersPerLevel: h.MetersPerLevel,
		MinHeuristic:   h.MinHeuristic,
		MaxHeuristic:   h.MaxHeuristic,
	})
}

func provideShadowConfig(cfg *config.Config) shadow.Config {
	s := cfg.Engine.Shadow
	return shadow.Config{
		MaxShadowLength:   s.MaxShadowLength,
		MaxBuildingHeight: s.MaxBuildingHeight,
		MinElevation:      s.MinElevation,
		ZenithElevation:   s.ZenithElevation,
	}
}

func provideExposureThresholds(cfg *config.Config) exposure.Thresholds {
	return exposure.Thresholds{
		SunnyBelow:      cfg.Engine.Exposure.SunnyBelow,
		ShadedAtOrAbove: cfg.Engine.Exposure.ShadedAtOrAbove,
	}
}

func provideConfidenceCalculator(cfg *config.Config) *confidence.Calculator {
	c := cfg.Engine.Confidence
	return confidence.NewCalculator(confidence.Config{
		GeometryWeight: c.GeometryWeight,
		WeatherWeight:  c.WeatherWeight,
		NowcastHorizon: c.NowcastHorizon,
		DecayHorizon:   c.DecayHorizon,
		MinDecayFactor: c.MinDecayFactor,
		ForecastCap:    c.ForecastCap,
		DegradedCap:    c.DegradedCap,
	})
}

func provideTimelineConfig(cfg *config.Config) timeline.Config {
	t := cfg.Timeline
	policy := timeline.DefaultWindowPolicy()
	policy.MinDuration = t.MinWindow
	policy.MergeGap = t.MergeGap
	policy.RecommendCloudMax = t.RecommendCloudMax
	return timeline.Config{
		DefaultResolution:     t.DefaultResolution,
		MinResolution:         t.MinResolution,
		MaxRange:              t.MaxRange,
		MaxBatch:              t.MaxBatch,
		Workers:               t.Workers,
		LiveCacheTTL:          t.LiveCacheTTL,
		DefaultTimezone:       t.DefaultTimezone,
		PrecomputedResolution: cfg.Precompute.Resolution,
		InterpolationFactor:   t.InterpolationFactor,
		Windows:               policy,
	}
}

func providePrecomputeConfig(cfg *config.Config) precompute.Config {
	p := cfg.Precompute
	return precompute.Config{
		Resolution:    p.Resolution,
		Workers:       p.Workers,
		Timezone:      p.Timezone,
		Days:          p.Days,
		StaleRunAfter: p.StaleRunAfter,
		Windows:       provideTimelineConfig(cfg).Windows,
	}
}

// provideJobQueue picks the Valkey queue when a client is available and
// routes delivered jobs to the precompute service.
func provideJobQueue(cfg *config.Config, client valkey.Client, svc *precompute.Service, logger *slog.Logger) queue.HandlerQueue {
	var q queue.HandlerQueue
	if client != nil {
		q = queue.NewValkeyQueue(client, cfg.Precompute.QueueKey, logger)
	} else {
		q = queue.NewImmediateQueue(nil)
	}
	q.SetHandler(svc.HandleJob)
	svc.SetQueue(q)
	return q
}

func provideScheduler(cfg *config.Config, svc *precompute.Service, ws *weather.Service, patios venue.PatioRepository, logger *slog.Logger) *scheduler.Scheduler {
	return scheduler.New(scheduler.Config{
		PrecomputeEnabled: cfg.Precompute.Enabled,
		DailyAt:           cfg.Precompute.DailyAt,
		Timezone:          cfg.Precompute.Timezone,
		RunOnStart:        cfg.Precompute.RunOnStart,
		IngestInterval:    cfg.Weather.IngestInterval,
	}, svc, ws, patios, logger)
}
