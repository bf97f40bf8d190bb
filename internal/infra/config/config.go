package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Engine     EngineConfig     `yaml:"engine"`
	Timeline   TimelineConfig   `yaml:"timeline"`
	Weather    WeatherConfig    `yaml:"weather"`
	Precompute PrecomputeConfig `yaml:"precompute"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Valkey     ValkeyConfig     `yaml:"valkey"`
	Storage    StorageConfig    `yaml:"storage"`
	Venues     VenuesConfig     `yaml:"venues"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address      string          `yaml:"address"`
	ReadTimeout  time.Duration   `yaml:"readTimeout"`
	WriteTimeout time.Duration   `yaml:"writeTimeout"`
	RateLimit    RateLimitConfig `yaml:"rateLimit"`
	Retry        RetryConfig     `yaml:"retry"`
	CORS         CORSConfig      `yaml:"cors"`
	// AdminToken guards the admin endpoints when set.
	AdminToken string `yaml:"adminToken"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// RetryConfig configures best-effort retries for idempotent requests.
type RetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	Exclude     []string      `yaml:"exclude"`
}

// CORSConfig lists the origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// EngineConfig tunes the per-tick pipeline.
type EngineConfig struct {
	SolarCacheTTL time.Duration    `yaml:"solarCacheTtl"`
	Shadow        ShadowConfig     `yaml:"shadow"`
	Heights       HeightConfig     `yaml:"heights"`
	Exposure      ExposureConfig   `yaml:"exposure"`
	Confidence    ConfidenceConfig `yaml:"confidence"`
}

// ShadowConfig bounds shadow projection.
type ShadowConfig struct {
	MaxShadowLength   float64 `yaml:"maxShadowLength"`
	MaxBuildingHeight float64 `yaml:"maxBuildingHeight"`
	MinElevation      float64 `yaml:"minElevation"`
	ZenithElevation   float64 `yaml:"zenithElevation"`
}

// HeightConfig drives the heuristic height fallback.
type HeightConfig struct {
	DefaultHeight  float64 `yaml:"defaultHeight"`
	MetersPerLevel float64 `yaml:"metersPerLevel"`
	MinHeuristic   float64 `yaml:"minHeuristic"`
	MaxHeuristic   float64 `yaml:"maxHeuristic"`
}

// ExposureConfig holds the shaded-fraction thresholds.
type ExposureConfig struct {
	SunnyBelow      float64 `yaml:"sunnyBelow"`
	ShadedAtOrAbove float64 `yaml:"shadedAtOrAbove"`
}

// ConfidenceConfig holds blend weights, decay and caps.
type ConfidenceConfig struct {
	GeometryWeight float64       `yaml:"geometryWeight"`
	WeatherWeight  float64       `yaml:"weatherWeight"`
	NowcastHorizon time.Duration `yaml:"nowcastHorizon"`
	DecayHorizon   time.Duration `yaml:"decayHorizon"`
	MinDecayFactor float64       `yaml:"minDecayFactor"`
	ForecastCap    float64       `yaml:"forecastCap"`
	DegradedCap    float64       `yaml:"degradedCap"`
}

// TimelineConfig bounds timeline requests and window rules.
type TimelineConfig struct {
	DefaultResolution   time.Duration `yaml:"defaultResolution"`
	MinResolution       time.Duration `yaml:"minResolution"`
	MaxRange            time.Duration `yaml:"maxRange"`
	MaxBatch            int           `yaml:"maxBatch"`
	MinWindow           time.Duration `yaml:"minWindow"`
	MergeGap            time.Duration `yaml:"mergeGap"`
	InterpolationFactor int           `yaml:"interpolationFactor"`
	RecommendCloudMax   float64       `yaml:"recommendCloudMax"`
	Workers             int           `yaml:"workers"`
	LiveCacheTTL        time.Duration `yaml:"liveCacheTtl"`
	DefaultTimezone     string        `yaml:"defaultTimezone"`
}

// WeatherConfig controls providers and ingestion.
type WeatherConfig struct {
	PrimaryURL     string        `yaml:"primaryUrl"`
	SecondaryURL   string        `yaml:"secondaryUrl"`
	UserAgent      string        `yaml:"userAgent"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"maxRetries"`
	IngestInterval time.Duration `yaml:"ingestInterval"`
	IngestHorizon  time.Duration `yaml:"ingestHorizon"`
	IngestWorkers  int           `yaml:"ingestWorkers"`
	Retention      time.Duration `yaml:"retention"`
	Lookback       time.Duration `yaml:"lookback"`
	MaxAge         time.Duration `yaml:"maxAge"`
	// Mock replaces both providers with the deterministic mock.
	Mock bool `yaml:"mock"`
}

// PrecomputeConfig controls the daily materialization job.
type PrecomputeConfig struct {
	Enabled bool `yaml:"enabled"`
	// DailyAt is the local wall time of the daily run, "HH:MM".
	DailyAt       string        `yaml:"dailyAt"`
	Timezone      string        `yaml:"timezone"`
	Workers       int           `yaml:"workers"`
	Days          int           `yaml:"days"`
	Resolution    time.Duration `yaml:"resolution"`
	CacheTTL      time.Duration `yaml:"cacheTtl"`
	StaleRunAfter time.Duration `yaml:"staleRunAfter"`
	QueueKey      string        `yaml:"queueKey"`
	// RunOnStart triggers one run right after the scheduler starts.
	RunOnStart bool `yaml:"runOnStart"`
}

// PostgresConfig contains DSN and pooling settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// ValkeyConfig contains connection information for the shared cache and queue.
type ValkeyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Prefix  string `yaml:"prefix"`
}

// StorageConfig points at the S3-compatible bucket for window snapshots.
type StorageConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
}

// VenuesConfig points at the GeoJSON seed used by the in-memory venue repository.
type VenuesConfig struct {
	SeedPath string `yaml:"seedPath"`
}

// Load reads configuration from an optional .env file, a YAML file and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	envString("HTTP_ADDRESS", &cfg.HTTP.Address)
	envString("HTTP_ADMIN_TOKEN", &cfg.HTTP.AdminToken)
	if v := os.Getenv("HTTP_CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.CORS.AllowedOrigins = splitList(v)
	}
	envBool("HTTP_RATE_LIMIT_ENABLED", &cfg.HTTP.RateLimit.Enabled)
	envInt("HTTP_RATE_LIMIT_RPM", &cfg.HTTP.RateLimit.RequestsPerMinute)
	envInt("HTTP_RATE_LIMIT_BURST", &cfg.HTTP.RateLimit.Burst)
	envBool("HTTP_RETRY_ENABLED", &cfg.HTTP.Retry.Enabled)
	envInt("HTTP_RETRY_MAX_ATTEMPTS", &cfg.HTTP.Retry.MaxAttempts)
	envDuration("HTTP_RETRY_BASE_BACKOFF", &cfg.HTTP.Retry.BaseBackoff)

	envDuration("TIMELINE_DEFAULT_RESOLUTION", &cfg.Timeline.DefaultResolution)
	envDuration("TIMELINE_MAX_RANGE", &cfg.Timeline.MaxRange)
	envInt("TIMELINE_MAX_BATCH", &cfg.Timeline.MaxBatch)
	envInt("TIMELINE_WORKERS", &cfg.Timeline.Workers)
	envString("TIMELINE_DEFAULT_TIMEZONE", &cfg.Timeline.DefaultTimezone)

	envString("WEATHER_PRIMARY_URL", &cfg.Weather.PrimaryURL)
	envString("WEATHER_SECONDARY_URL", &cfg.Weather.SecondaryURL)
	envString("WEATHER_USER_AGENT", &cfg.Weather.UserAgent)
	envDuration("WEATHER_INGEST_INTERVAL", &cfg.Weather.IngestInterval)
	envDuration("WEATHER_RETENTION", &cfg.Weather.Retention)
	envBool("WEATHER_MOCK", &cfg.Weather.Mock)

	envBool("PRECOMPUTE_ENABLED", &cfg.Precompute.Enabled)
	envString("PRECOMPUTE_DAILY_AT", &cfg.Precompute.DailyAt)
	envString("PRECOMPUTE_TIMEZONE", &cfg.Precompute.Timezone)
	envInt("PRECOMPUTE_WORKERS", &cfg.Precompute.Workers)
	envDuration("PRECOMPUTE_CACHE_TTL", &cfg.Precompute.CacheTTL)
	envBool("PRECOMPUTE_RUN_ON_START", &cfg.Precompute.RunOnStart)

	envString("POSTGRES_DSN", &cfg.Postgres.DSN)
	if v := os.Getenv("POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("POSTGRES_MIN_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MinConns = int32(parsed)
		}
	}

	envBool("VALKEY_ENABLED", &cfg.Valkey.Enabled)
	envString("VALKEY_ADDR", &cfg.Valkey.Addr)
	envString("VALKEY_PREFIX", &cfg.Valkey.Prefix)

	envBool("STORAGE_ENABLED", &cfg.Storage.Enabled)
	envString("STORAGE_ENDPOINT", &cfg.Storage.Endpoint)
	envString("STORAGE_ACCESS_KEY", &cfg.Storage.AccessKey)
	envString("STORAGE_SECRET_KEY", &cfg.Storage.SecretKey)
	envString("STORAGE_BUCKET", &cfg.Storage.Bucket)
	envString("STORAGE_REGION", &cfg.Storage.Region)

	envString("VENUES_SEED_PATH", &cfg.Venues.SeedPath)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "1" || strings.EqualFold(v, "true")
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             40,
			},
			Retry: RetryConfig{
				Enabled:     true,
				MaxAttempts: 3,
				BaseBackoff: 150 * time.Millisecond,
				Exclude: []string{
					"/api/v1/admin/",
				},
			},
		},
		Engine: EngineConfig{
			SolarCacheTTL: time.Hour,
			Shadow: ShadowConfig{
				MaxShadowLength:   500,
				MaxBuildingHeight: 60,
				MinElevation:      5,
				ZenithElevation:   89.9,
			},
			Heights: HeightConfig{
				DefaultHeight:  10,
				MetersPerLevel: 3,
				MinHeuristic:   3,
				MaxHeuristic:   60,
			},
			Exposure: ExposureConfig{
				SunnyBelow:      0.25,
				ShadedAtOrAbove: 0.75,
			},
			Confidence: ConfidenceConfig{
				GeometryWeight: 0.6,
				WeatherWeight:  0.4,
				NowcastHorizon: 2 * time.Hour,
				DecayHorizon:   72 * time.Hour,
				MinDecayFactor: 0.3,
				ForecastCap:    90,
				DegradedCap:    60,
			},
		},
		Timeline: TimelineConfig{
			DefaultResolution:   10 * time.Minute,
			MinResolution:       time.Minute,
			MaxRange:            48 * time.Hour,
			MaxBatch:            100,
			MinWindow:           30 * time.Minute,
			MergeGap:            0,
			InterpolationFactor: 2,
			RecommendCloudMax:   0.6,
			Workers:             8,
			LiveCacheTTL:        10 * time.Minute,
			DefaultTimezone:     "Europe/Stockholm",
		},
		Weather: WeatherConfig{
			PrimaryURL:     "https://api.open-meteo.com/v1/forecast",
			SecondaryURL:   "https://api.met.no/weatherapi/locationforecast/2.0/compact",
			UserAgent:      "sunspot/1.0 github.com/yanqian/sunspot",
			Timeout:        10 * time.Second,
			MaxRetries:     2,
			IngestInterval: 10 * time.Minute,
			IngestHorizon:  48 * time.Hour,
			IngestWorkers:  4,
			Retention:      7 * 24 * time.Hour,
			Lookback:       3 * time.Hour,
			MaxAge:         3 * time.Hour,
		},
		Precompute: PrecomputeConfig{
			Enabled:       true,
			DailyAt:       "03:00",
			Timezone:      "Europe/Stockholm",
			Workers:       4,
			Days:          2,
			Resolution:    10 * time.Minute,
			CacheTTL:      36 * time.Hour,
			StaleRunAfter: 2 * time.Hour,
			QueueKey:      "sunspot:jobs",
		},
		Postgres: PostgresConfig{
			MaxConns: 8,
		},
		Valkey: ValkeyConfig{
			Prefix: "sunspot",
		},
		Storage: StorageConfig{
			Bucket: "sunspot-windows",
			Region: "auto",
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	if c.HTTP.Retry.Enabled {
		if c.HTTP.Retry.MaxAttempts <= 0 {
			return errors.New("http.retry.maxAttempts must be positive")
		}
		if c.HTTP.Retry.BaseBackoff <= 0 {
			return errors.New("http.retry.baseBackoff must be positive")
		}
	}
	e := c.Engine.Exposure
	if e.SunnyBelow < 0 || e.ShadedAtOrAbove > 1 || e.SunnyBelow > e.ShadedAtOrAbove {
		return errors.New("engine.exposure thresholds must satisfy 0 <= sunnyBelow <= shadedAtOrAbove <= 1")
	}
	if c.Engine.Shadow.MaxShadowLength <= 0 {
		return errors.New("engine.shadow.maxShadowLength must be positive")
	}
	if z := c.Engine.Shadow.ZenithElevation; z <= 0 || z > 90 {
		return errors.New("engine.shadow.zenithElevation must be within (0, 90]")
	}
	conf := c.Engine.Confidence
	if conf.GeometryWeight < 0 || conf.WeatherWeight < 0 || conf.GeometryWeight+conf.WeatherWeight <= 0 {
		return errors.New("engine.confidence weights must be non-negative and not both zero")
	}
	if conf.ForecastCap <= 0 || conf.ForecastCap > 100 || conf.DegradedCap <= 0 || conf.DegradedCap > 100 {
		return errors.New("engine.confidence caps must be within (0, 100]")
	}
	if c.Timeline.DefaultResolution <= 0 || c.Timeline.MinResolution <= 0 {
		return errors.New("timeline resolutions must be positive")
	}
	if c.Timeline.DefaultResolution < c.Timeline.MinResolution {
		return errors.New("timeline.defaultResolution cannot be below timeline.minResolution")
	}
	if c.Timeline.MaxRange <= 0 {
		return errors.New("timeline.maxRange must be positive")
	}
	if c.Timeline.MaxBatch <= 0 {
		return errors.New("timeline.maxBatch must be positive")
	}
	if c.Timeline.MinWindow <= 0 {
		return errors.New("timeline.minWindow must be positive")
	}
	if c.Timeline.MergeGap < 0 {
		return errors.New("timeline.mergeGap cannot be negative")
	}
	if !c.Weather.Mock && strings.TrimSpace(c.Weather.PrimaryURL) == "" {
		return errors.New("weather.primaryUrl cannot be empty")
	}
	if c.Weather.IngestInterval <= 0 {
		return errors.New("weather.ingestInterval must be positive")
	}
	if c.Weather.Retention <= 0 {
		return errors.New("weather.retention must be positive")
	}
	if c.Precompute.Enabled {
		if _, err := time.Parse("15:04", c.Precompute.DailyAt); err != nil {
			return fmt.Errorf("precompute.dailyAt must be HH:MM: %w", err)
		}
		if _, err := time.LoadLocation(c.Precompute.Timezone); err != nil {
			return fmt.Errorf("precompute.timezone: %w", err)
		}
	}
	if c.Precompute.Resolution <= 0 {
		return errors.New("precompute.resolution must be positive")
	}
	if c.Precompute.CacheTTL <= 0 {
		return errors.New("precompute.cacheTtl must be positive")
	}
	if c.Valkey.Enabled && strings.TrimSpace(c.Valkey.Addr) == "" {
		return errors.New("valkey.addr cannot be empty when valkey is enabled")
	}
	if c.Storage.Enabled && (strings.TrimSpace(c.Storage.Endpoint) == "" || strings.TrimSpace(c.Storage.Bucket) == "") {
		return errors.New("storage.endpoint and storage.bucket are required when storage is enabled")
	}
	return nil
}
