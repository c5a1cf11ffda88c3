package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"messenger/internal/metrics"
)

// Hub 管理按用户划分的子 Hub，实现延迟创建与并发安全。
// 一个用户可以同时持有多条连接，推送会发到该用户的全部在线连接。
type Hub struct {
	mu       sync.RWMutex
	users    map[uint]*UserHub
	lastSeen map[uint]time.Time
}

func NewHub() *Hub {
	return &Hub{users: make(map[uint]*UserHub), lastSeen: make(map[uint]time.Time)}
}

// GetUser 若用户的子 Hub 未初始化则懒加载一个。
func (h *Hub) GetUser(userID uint) *UserHub {
	h.mu.RLock()
	uh := h.users[userID]
	h.mu.RUnlock()
	if uh != nil {
		return uh
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	uh = h.users[userID]
	if uh != nil {
		return uh
	}
	uh = NewUserHub(h, userID)
	h.users[userID] = uh
	go uh.run()
	return uh
}

func (h *Hub) Online(userID uint) int {
	h.mu.RLock()
	uh := h.users[userID]
	h.mu.RUnlock()
	if uh == nil {
		return 0
	}
	return uh.Online()
}

// Presence 返回用户是否在线以及最后活跃时间。从未连接过的用户返回零值时间。
func (h *Hub) Presence(userID uint) (bool, time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	uh := h.users[userID]
	online := uh != nil && uh.Online() > 0
	return online, h.lastSeen[userID]
}

func (h *Hub) touch(userID uint) {
	h.mu.Lock()
	h.lastSeen[userID] = time.Now()
	h.mu.Unlock()
}

// Publish 将消息推送给接收方的子 Hub。尽力而为：接收方不在线或事件队列
// 已满时直接丢弃，绝不阻塞调用方，未送达的消息仍可通过历史查询取回。
func (h *Hub) Publish(receiverID uint, payload []byte) {
	h.mu.RLock()
	uh := h.users[receiverID]
	h.mu.RUnlock()
	if uh == nil {
		metrics.DeliveriesDropped.Inc()
		return
	}
	select {
	case uh.events <- payload:
	default:
		metrics.DeliveriesDropped.Inc()
	}
}

type UserHub struct {
	hub        *Hub
	userID     uint
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	events     chan []byte
	online     int32
}

func NewUserHub(hub *Hub, userID uint) *UserHub {
	return &UserHub{
		hub:        hub,
		userID:     userID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan []byte, 256),
	}
}

func (uh *UserHub) run() {
	for {
		select {
		case c := <-uh.register:
			uh.clients[c] = true
			atomic.StoreInt32(&uh.online, int32(len(uh.clients)))
			metrics.WsConnections.Inc()
			uh.hub.touch(uh.userID)
		case c := <-uh.unregister:
			if _, ok := uh.clients[c]; ok {
				delete(uh.clients, c)
				close(c.send)
				atomic.StoreInt32(&uh.online, int32(len(uh.clients)))
				metrics.WsConnections.Dec()
				uh.hub.touch(uh.userID)
			}
		case payload := <-uh.events:
			// 子 Hub 还在但连接已全部断开，这次投递同样算丢弃
			if len(uh.clients) == 0 {
				metrics.DeliveriesDropped.Inc()
				continue
			}
			for c := range uh.clients {
				select {
				case c.send <- payload:
				default:
					close(c.send)
					delete(uh.clients, c)
					atomic.StoreInt32(&uh.online, int32(len(uh.clients)))
					metrics.WsConnections.Dec()
				}
			}
		}
	}
}

// Online 返回该用户当前的连接数，供 REST 接口复用。
func (uh *UserHub) Online() int { return int(atomic.LoadInt32(&uh.online)) }
