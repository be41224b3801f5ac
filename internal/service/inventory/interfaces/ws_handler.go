// internal/service/inventory/interfaces/ws_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"

	"serialstock/internal/pkg/logger"
	"serialstock/internal/pkg/mq"
	"serialstock/internal/service/inventory/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 管理工具从任意来源连入，鉴权在网关层完成
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StockEventHub 把 Kafka 上的状态流转事件实时推给连入的管理端。
// 维护所有活跃连接并负责广播。
type StockEventHub struct {
	clients    map[*wsClient]struct{}
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	lock       sync.RWMutex
}

// NewStockEventHub 创建事件推送中心
func NewStockEventHub() *StockEventHub {
	return &StockEventHub{
		clients:    make(map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 64),
	}
}

// Run 驱动注册/注销/广播循环，直到 ctx 结束
func (h *StockEventHub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.lock.Lock()
			h.clients[client] = struct{}{}
			h.lock.Unlock()
		case client := <-h.unregister:
			h.lock.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.lock.Unlock()
		case msg := <-h.broadcast:
			h.lock.RLock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// 慢消费者不阻塞广播，直接丢弃本条
				}
			}
			h.lock.RUnlock()
		case <-ctx.Done():
			return
		}
	}
}

// ConsumeEvents 从 Kafka 主题消费状态事件并灌入广播通道
func (h *StockEventHub) ConsumeEvents(ctx context.Context, reader *kafka.Reader) error {
	defer reader.Close()
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not read stock event, retrying")
			time.Sleep(time.Second)
			continue
		}

		eventCtx := mq.ExtractTraceContext(ctx, msg.Headers)
		var event domain.StockEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Ctx(eventCtx).Error().Err(err).Msg("malformed stock event skipped")
		} else if !h.publish(ctx, msg.Value) {
			return nil
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(eventCtx).Error().Err(err).Msg("failed to commit stock event offset")
		}
	}
}

// publish 把事件灌入广播通道。
// 通道满且 Run 已随 ctx 退出时不能无限阻塞，此时返回 false 让消费循环收尾。
func (h *StockEventHub) publish(ctx context.Context, payload []byte) bool {
	select {
	case h.broadcast <- payload:
		return true
	case <-ctx.Done():
		return false
	}
}

// ServeWs 把 HTTP 连接升级为 WebSocket 并接入中心
func (h *StockEventHub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &wsClient{hub: h, conn: conn, send: make(chan []byte, 16)}
	h.register <- client
	go client.writePump()
	go client.readPump()
}

// wsClient 是一个 WebSocket 连接的代表
type wsClient struct {
	hub  *StockEventHub
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		// 客户端只发心跳，读失败即断开
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
