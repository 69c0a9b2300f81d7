package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"swapflow/internal/pkg/logger"
	"swapflow/internal/service/order/application"
	"swapflow/internal/service/order/domain"
	"swapflow/internal/service/order/lifecycle"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

type wsCreated struct {
	Type    string       `json:"type"`
	OrderID string       `json:"orderId"`
	Status  domain.State `json:"status"`
}

type wsStatus struct {
	Type      string            `json:"type"`
	OrderID   string            `json:"orderId"`
	Status    domain.State      `json:"status"`
	Data      *domain.EventData `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type wsError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type outbound struct {
	payload []byte
	last    bool
}

// WsHandler 提供 /api/orders/execute:
// 客户端发送下单请求后, 服务端推送该订单的每一次状态变更, 到达终态后关闭连接。
// 携带 ?orderId= 时改为观察已有订单。
type WsHandler struct {
	service  *application.OrderApplicationService
	notifier *lifecycle.Notifier
	upgrader websocket.Upgrader
}

func NewWsHandler(service *application.OrderApplicationService, notifier *lifecycle.Notifier) *WsHandler {
	return &WsHandler{
		service:  service,
		notifier: notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool { // 简化处理，允许所有跨域
				return true
			},
		},
	}
}

// streamClient 是一个WebSocket连接的代表
type streamClient struct {
	conn *websocket.Conn
	send chan outbound
	done chan struct{}

	mu      sync.Mutex
	orderID string
	sub     *lifecycle.Subscription
	closed  sync.Once
}

func (h *WsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &streamClient{conn: conn, send: make(chan outbound, sendBuffer), done: make(chan struct{})}
	ctx := context.WithoutCancel(r.Context())

	go c.writePump()
	if orderID := r.URL.Query().Get("orderId"); orderID != "" {
		h.watch(ctx, c, orderID)
	}
	c.readPump(func(raw []byte) { h.onMessage(ctx, c, raw) })
	h.release(c)
}

func (h *WsHandler) onMessage(ctx context.Context, c *streamClient, raw []byte) {
	if c.currentOrder() != "" {
		c.enqueue(mustJSON(wsError{Type: "error", Error: "an order is already streaming on this connection"}), false)
		return
	}
	var req application.CreateOrderRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.enqueue(mustJSON(wsError{Type: "error", Error: "Invalid message format"}), false)
		return
	}

	_, err := h.service.SubmitOrder(ctx, req, application.WithBeforeEnqueue(func(orderID string) {
		c.enqueue(mustJSON(wsCreated{Type: "order_created", OrderID: orderID, Status: domain.StatePending}), false)
		h.subscribe(c, orderID)
	}))
	if err != nil {
		c.enqueue(mustJSON(wsError{Type: "error", Error: err.Error()}), false)
	}
}

// watch 先订阅再读取当前状态, 避免两者之间的事件丢失
func (h *WsHandler) watch(ctx context.Context, c *streamClient, orderID string) {
	h.subscribe(c, orderID)
	view, err := h.service.GetOrder(ctx, orderID)
	if err != nil {
		c.enqueue(mustJSON(wsError{Type: "error", Error: err.Error()}), true)
		return
	}
	c.enqueue(mustJSON(wsStatus{Type: "status_update", OrderID: view.ID, Status: view.Status, Timestamp: view.UpdatedAt}),
		view.Status.IsTerminal())
}

func (h *WsHandler) subscribe(c *streamClient, orderID string) {
	sub := h.notifier.Subscribe(func(ev domain.OrderEvent) {
		if ev.OrderID != orderID {
			return
		}
		c.enqueue(mustJSON(wsStatus{
			Type:      "status_update",
			OrderID:   ev.OrderID,
			Status:    ev.Status,
			Data:      ev.Data,
			Timestamp: ev.At,
		}), ev.Status.IsTerminal())
	})
	c.mu.Lock()
	c.orderID = orderID
	c.sub = &sub
	c.mu.Unlock()
}

func (h *WsHandler) release(c *streamClient) {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		h.notifier.Unsubscribe(*sub)
	}
	c.close()
}

func (c *streamClient) currentOrder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orderID
}

// enqueue 不阻塞发布方; 客户端过慢时丢弃消息
func (c *streamClient) enqueue(payload []byte, last bool) {
	select {
	case <-c.done:
	case c.send <- outbound{payload: payload, last: last}:
	default:
		logger.L().Warn().Str("order_id", c.currentOrder()).Msg("websocket client too slow, dropping event")
	}
}

func (c *streamClient) close() {
	c.closed.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *streamClient) readPump(handle func([]byte)) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		handle(raw)
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.payload); err != nil {
				return
			}
			if msg.last {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "order finished"),
					time.Now().Add(writeWait))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
