//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/yanqian/sunspot/internal/bootstrap"
	"github.com/yanqian/sunspot/internal/domain/exposure"
	"github.com/yanqian/sunspot/internal/domain/precompute"
	"github.com/yanqian/sunspot/internal/domain/shadow"
	"github.com/yanqian/sunspot/internal/domain/timeline"
	"github.com/yanqian/sunspot/internal/domain/weather"
	"github.com/yanqian/sunspot/internal/infra/config"
	"github.com/yanqian/sunspot/internal/infra/windowcache"
	httpiface "github.com/yanqian/sunspot/internal/interface/http"
	"github.com/yanqian/sunspot/pkg/logger"
)

var storageSet = wire.NewSet(
	providePostgresPool,
	provideValkeyClient,
	provideVenueRepository,
	providePatioRepository,
	provideWeatherStore,
	provideWindowRepository,
	provideJobRunRepository,
	provideScheduleCache,
	provideSnapshotExporter,
	wire.Bind(new(precompute.Cache), new(*windowcache.Tiered)),
	wire.Bind(new(timeline.ScheduleReader), new(*windowcache.Tiered)),
)

var engineSet = wire.NewSet(
	provideSolarCalculator,
	provideHeightManager,
	provideShadowConfig,
	provideExposureThresholds,
	provideConfidenceCalculator,
	shadow.NewEngine,
	exposure.NewService,
	provideWeatherConfig,
	provideWeatherProviders,
	weather.NewService,
	wire.Bind(new(timeline.WeatherSource), new(*weather.Service)),
	provideTimelineConfig,
	timeline.NewService,
	wire.Bind(new(precompute.Calculator), new(*timeline.Service)),
	wire.Bind(new(precompute.LiveInvalidator), new(*timeline.Service)),
	providePrecomputeConfig,
	precompute.NewService,
)

func initializeApp() (*bootstrap.App, error) {
	wire.Build(
		config.Load,
		logger.New,
		provideClock,
		provideMetrics,
		storageSet,
		engineSet,
		provideJobQueue,
		provideScheduler,
		wire.Bind(new(httpiface.TimelineService), new(*timeline.Service)),
		wire.Bind(new(httpiface.PrecomputeService), new(*precompute.Service)),
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil
}
