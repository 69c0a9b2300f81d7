// cmd/swap-engine/main.go
package main

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"swapflow/internal/pkg/bootstrap"
	"swapflow/internal/pkg/logger"
	"swapflow/internal/pkg/metrics"
	"swapflow/internal/service/order/application"
	"swapflow/internal/service/order/infrastructure"
	"swapflow/internal/service/order/interfaces"
	"swapflow/internal/service/order/lifecycle"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	if err := bootstrap.Init(""); err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	cfg := bootstrap.GetCurrentConfig()
	logger.Init(cfg.App.Name, cfg.Log.Level, cfg.Log.Format)
	log := logger.L()

	// 1. 持久化
	db, err := infrastructure.OpenDatabase(infrastructure.DBOptions{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	repo := infrastructure.NewGormOrderRepository(db)
	if cfg.Database.AutoMigrate {
		if err := repo.AutoMigrate(); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate schema")
		}
	}

	// 2. 领域协作者
	venues, err := buildVenues(cfg.Venues)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build venue registry")
	}
	notifier := lifecycle.New()
	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)
	tracer := otel.Tracer(cfg.App.Name)

	policy, err := application.NewAdmissionPolicy(cfg.Admission.Rule)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid admission rule")
	}

	// 3. 任务队列与编排器
	queue, err := buildQueue(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build step queue")
	}
	orchestrator := application.NewOrchestrator(repo, venues, notifier, queue.scheduler, tracer, orderMetrics)
	runners, closers := queue.wire(orchestrator)

	// 4. 对外接口
	service := application.NewOrderApplicationService(repo, queue.scheduler, policy, tracer)
	stream := interfaces.NewWsHandler(service, notifier)
	handler := interfaces.NewOrderHandler(service, stream)

	// 5. 可选组件: 事件中继、卡单巡检
	relayRunners, relayClosers := buildEventRelay(cfg.Redis, notifier)
	runners = append(runners, relayRunners...)
	closers = append(closers, relayClosers...)

	if cfg.Recovery.Enabled {
		locker, closeLocker, err := buildLocker(cfg.Infra.Zookeeper)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build sweeper lock")
		}
		if closeLocker != nil {
			closers = append(closers, closeLocker)
		}
		runners = append(runners, application.NewStaleOrderSweeper(repo, queue.scheduler, locker,
			cfg.Recovery.Interval, cfg.Recovery.StaleAfter, cfg.Recovery.BatchSize))
	}

	closers = append(closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: cfg.App.Name,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		Runners: runners,
		Closers: closers,
	})
	if err != nil {
		log.Error().Err(err).Msg("service exited with error")
		os.Exit(1)
	}
}
