package adapter

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"swapflow/internal/pkg/logger"
	"swapflow/internal/service/order/domain"
)

// RedisPublisher 是 *redis.Client 的最小子集
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// EventRedisAdapter 把进程内的订单事件转发到 Redis pub/sub,
// 供其他网关节点订阅。频道: <prefix>:<orderId> 与 <prefix>:all。
// 缓冲区满时丢弃事件, 与进程内通知一样是至多一次语义。
type EventRedisAdapter struct {
	client RedisPublisher
	prefix string
	buf    chan domain.OrderEvent

	dropped atomic.Int64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewEventRedisAdapter(client RedisPublisher, prefix string, buffer int) *EventRedisAdapter {
	if buffer <= 0 {
		buffer = 1024
	}
	if prefix == "" {
		prefix = "order-events"
	}
	return &EventRedisAdapter{client: client, prefix: prefix, buf: make(chan domain.OrderEvent, buffer)}
}

// Listen 满足 lifecycle.Listener, 不阻塞发布方
func (a *EventRedisAdapter) Listen(event domain.OrderEvent) {
	select {
	case a.buf <- event:
	default:
		a.dropped.Add(1)
	}
}

func (a *EventRedisAdapter) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				a.drain()
				return
			case ev := <-a.buf:
				a.forward(ctx, ev)
			}
		}
	}()
	logger.Ctx(ctx).Info().Str("prefix", a.prefix).Msg("✅ redis event relay started")
	return nil
}

// drain 在退出前尽力转发缓冲区中剩余的事件
func (a *EventRedisAdapter) drain() {
	for {
		select {
		case ev := <-a.buf:
			a.forward(context.Background(), ev)
		default:
			return
		}
	}
}

func (a *EventRedisAdapter) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	logger.Ctx(ctx).Info().Int64("dropped", a.dropped.Load()).Msg("✅ redis event relay stopped")
}

func (a *EventRedisAdapter) forward(ctx context.Context, ev domain.OrderEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", ev.OrderID).Msg("failed to marshal order event")
		return
	}
	for _, ch := range []string{a.prefix + ":" + ev.OrderID, a.prefix + ":all"} {
		if err := a.client.Publish(ctx, ch, payload).Err(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("channel", ch).Msg("failed to publish order event to redis")
		}
	}
}

// Dropped 返回因缓冲区满而丢弃的事件数
func (a *EventRedisAdapter) Dropped() int64 {
	return a.dropped.Load()
}
