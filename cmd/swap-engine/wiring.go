// cmd/swap-engine/wiring.go
package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"swapflow/internal/pkg/bootstrap"
	"swapflow/internal/pkg/mq"
	"swapflow/internal/service/order/application"
	"swapflow/internal/service/order/domain"
	"swapflow/internal/service/order/domain/port"
	"swapflow/internal/service/order/infrastructure/adapter"
	"swapflow/internal/service/order/infrastructure/venue"
	"swapflow/internal/service/order/interfaces"
	"swapflow/internal/service/order/lifecycle"
	"swapflow/internal/zookeeper"
)

const sweeperLockResource = "swapflow-stale-order-sweeper"

func buildVenues(cfg bootstrap.VenuesConfig) (*venue.Registry, error) {
	venues := make([]port.Venue, 0, len(cfg.Mocks))
	for _, m := range cfg.Mocks {
		venues = append(venues, venue.NewMockVenue(venue.MockConfig{
			ID:               domain.VenueID(m.ID),
			BasePrice:        decimal.NewFromFloat(m.BasePrice),
			FeeRate:          decimal.NewFromFloat(m.FeeRate),
			QuoteVarianceMin: m.QuoteVariance[0],
			QuoteVarianceMax: m.QuoteVariance[1],
			ExecVarianceMin:  m.ExecVariance[0],
			ExecVarianceMax:  m.ExecVariance[1],
			QuoteLatency:     m.QuoteLatency,
			SwapLatencyMin:   m.SwapLatencyMin,
			SwapLatencyMax:   m.SwapLatencyMax,
			FailureRate:      m.FailureRate,
			Seed:             m.Seed,
		}))
	}
	preference := venue.DefaultPreference
	if len(cfg.Preference) > 0 {
		preference = make([]domain.VenueID, 0, len(cfg.Preference))
		for _, id := range cfg.Preference {
			preference = append(preference, domain.VenueID(id))
		}
	}
	return venue.NewRegistry(preference, venues...)
}

// stepQueue 屏蔽两种队列驱动的装配差异
type stepQueue struct {
	scheduler port.StepScheduler
	wire      func(runner port.StepRunner) ([]bootstrap.Runner, []func() error)
}

func buildQueue(cfg *bootstrap.Config) (*stepQueue, error) {
	policy := mq.RetryPolicy{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BaseDelay:   cfg.Queue.BackoffBase,
		MaxDelay:    cfg.Queue.BackoffMax,
	}

	switch cfg.Queue.Driver {
	case "memory":
		opts := adapter.DefaultLocalQueueOptions()
		opts.Concurrency = cfg.Queue.Concurrency
		opts.Policy = policy
		opts.RemoveOnComplete = cfg.Queue.RemoveOnComplete
		opts.RemoveOnFail = cfg.Queue.RemoveOnFail
		q := adapter.NewLocalStepQueue(opts)
		return &stepQueue{
			scheduler: q,
			wire: func(runner port.StepRunner) ([]bootstrap.Runner, []func() error) {
				q.Attach(runner)
				return []bootstrap.Runner{q}, nil
			},
		}, nil

	case "kafka":
		k := cfg.Kafka
		producer := adapter.NewSchedulerKafkaAdapter(k.Brokers, k.StepTopic)
		return &stepQueue{
			scheduler: producer,
			wire: func(runner port.StepRunner) ([]bootstrap.Runner, []func() error) {
				retryWriter := mq.NewKafkaWriter(k.Brokers, k.RetryTopic)
				dltWriter := mq.NewKafkaWriter(k.Brokers, k.DeadLetterTopic)
				failures := mq.NewFailureHandler(policy, retryWriter, dltWriter, interfaces.ExhaustionHook(runner))

				var runners []bootstrap.Runner
				for i := 0; i < cfg.Queue.Concurrency; i++ {
					runners = append(runners,
						interfaces.NewStepConsumerAdapter(fmt.Sprintf("step-%d", i),
							mq.NewKafkaReader(k.Brokers, k.StepTopic, k.GroupID), runner, failures),
						interfaces.NewStepConsumerAdapter(fmt.Sprintf("retry-%d", i),
							mq.NewKafkaReader(k.Brokers, k.RetryTopic, k.GroupID+"-retry"), runner, failures),
					)
				}
				runners = append(runners, interfaces.NewDltConsumerAdapter(
					mq.NewKafkaReader(k.Brokers, k.DeadLetterTopic, k.GroupID+"-dlt")))

				closers := []func() error{producer.Close, retryWriter.Close, dltWriter.Close}
				return runners, closers
			},
		}, nil
	}
	return nil, fmt.Errorf("unsupported queue driver %q", cfg.Queue.Driver)
}

func buildEventRelay(cfg bootstrap.RedisConfig, notifier *lifecycle.Notifier) ([]bootstrap.Runner, []func() error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	relay := adapter.NewEventRedisAdapter(client, cfg.Channel, cfg.Buffer)
	notifier.Subscribe(relay.Listen)
	return []bootstrap.Runner{relay}, []func() error{client.Close}
}

func buildLocker(cfg bootstrap.ZookeeperConfig) (port.Locker, func() error, error) {
	if !cfg.Enabled {
		return application.NewLocalLocker(), nil, nil
	}
	conn, err := zookeeper.Connect(cfg.Servers, cfg.SessionTimeout)
	if err != nil {
		return nil, nil, err
	}
	lock, err := zookeeper.NewDistributedLock(conn, sweeperLockResource, cfg.LockTimeout)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return lock, func() error { conn.Close(); return nil }, nil
}
