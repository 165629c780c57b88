package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

// Hub fans subscriber events out to connected operator consoles.
type Hub struct {
	// 按订阅的 external key 分组，空字符串表示接收全部事件
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	log     zerolog.Logger
}

type Client struct {
	Key  string
	Conn *websocket.Conn
	mu   sync.Mutex // 写锁，防止并发写入
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		log:     log.With().Str("component", "ws_hub").Logger(),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.Key] == nil {
		h.clients[client.Key] = make(map[*Client]struct{})
	}
	h.clients[client.Key][client] = struct{}{}
	h.log.Debug().Str("filter", client.Key).Int("total", h.countLocked()).Msg("console connected")
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[client.Key]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.clients, client.Key)
		}
	}
	h.log.Debug().Str("filter", client.Key).Msg("console disconnected")
}

// Broadcast 发送给订阅了 key 的连接以及订阅全部事件的连接
func (h *Hub) Broadcast(key string, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	// 复制一份引用，避免长时间持锁
	var targets []*Client
	for c := range h.clients[""] {
		targets = append(targets, c)
	}
	if key != "" {
		for c := range h.clients[key] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.mu.Lock()
		_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.Conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			h.log.Warn().Err(err).Str("filter", c.Key).Msg("write to console failed")
		}
	}
	return nil
}

// ConnectionCount 获取在线连接数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

func (h *Hub) countLocked() int {
	total := 0
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}
