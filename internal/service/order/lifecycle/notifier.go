// internal/service/order/lifecycle/notifier.go
package lifecycle

import (
	"sync"
	"time"

	"swapflow/internal/pkg/logger"
	"swapflow/internal/service/order/domain"
)

// Listener 接收订单状态变更事件; 订阅者需要自行按订单 ID 过滤。
type Listener func(event domain.OrderEvent)

// Subscription 是订阅句柄, 用于取消订阅
type Subscription struct {
	id uint64
}

type entry struct {
	id       uint64
	listener Listener
}

// Notifier 是进程内的状态变更发布/订阅中继。
// 不持久化事件, 不缓冲, 只投递给发布时已注册的监听者。
type Notifier struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners []entry
	now       func() time.Time
}

func New() *Notifier {
	return &Notifier{now: time.Now}
}

// Subscribe 注册监听者
func (n *Notifier) Subscribe(l Listener) Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	n.listeners = append(n.listeners, entry{id: n.nextID, listener: l})
	return Subscription{id: n.nextID}
}

// Unsubscribe 注销监听者, 重复调用无副作用
func (n *Notifier) Unsubscribe(s Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, e := range n.listeners {
		if e.id == s.id {
			n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
			return
		}
	}
}

// Publish 按注册顺序同步调用所有监听者后返回。
// 监听者在回调中可以安全地取消订阅。
func (n *Notifier) Publish(orderID string, status domain.State, data *domain.EventData) {
	n.mu.RLock()
	snapshot := make([]entry, len(n.listeners))
	copy(snapshot, n.listeners)
	n.mu.RUnlock()

	event := domain.OrderEvent{OrderID: orderID, Status: status, Data: data, At: n.now().UTC()}
	for _, e := range snapshot {
		n.deliver(e, event)
	}
}

func (n *Notifier) deliver(e entry, event domain.OrderEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error().
				Interface("panic", r).
				Str("order_id", event.OrderID).
				Str("status", event.Status.String()).
				Msg("lifecycle listener panicked")
		}
	}()
	e.listener(event)
}

// Len 返回当前监听者数量
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}
