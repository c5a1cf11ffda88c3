package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"messenger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client 是一条已注册的 websocket 连接，handle 全局唯一。
type Client struct {
	hub      *UserHub
	conn     *websocket.Conn
	send     chan []byte
	handle   string
	userID   uint
	identity *service.IdentityService
	convs    *service.ConversationService
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type InboundMessage struct {
	Type        string `json:"type"`
	ReceiverID  uint   `json:"receiver_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// Serve 校验会话后将请求升级为 websocket 并注册到对应用户的子 Hub。
// 注册成功后先回发 connected 事件，携带这条连接的 handle。
// 连接断开即注销，多次关闭同一连接无副作用。
func Serve(h *Hub, sessions *service.SessionService, identity *service.IdentityService, convs *service.ConversationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 浏览器 WebSocket API 无法自定义请求头，允许通过查询参数传令牌
		authz := c.GetHeader("Authorization")
		token := c.Query("token")
		if token == "" && len(authz) > 7 && (authz[:7] == "Bearer " || authz[:7] == "bearer ") {
			token = authz[7:]
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"kind": "invalid_token", "error": "missing token"})
			return
		}
		user, err := sessions.Validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"kind": service.Kind(err), "error": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		uh := h.GetUser(user.ID)
		client := &Client{
			hub:      uh,
			conn:     conn,
			send:     make(chan []byte, 256),
			handle:   uuid.NewString(),
			userID:   user.ID,
			identity: identity,
			convs:    convs,
		}
		uh.register <- client
		client.ack(map[string]interface{}{"type": "connected", "handle": client.handle})
		log.Info().Uint("user_id", user.ID).Str("handle", client.handle).Msg("ws connected")

		go client.writePump()
		client.readPump()
	}
}

// ack 尽力把事件回发到本连接，队列满则丢弃。
func (c *Client) ack(evt map[string]interface{}) {
	b, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
		log.Info().Uint("user_id", c.userID).Str("handle", c.handle).Msg("ws disconnected")
	}()
	c.conn.SetReadLimit(1 << 20) // 1MB
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in InboundMessage
		if err := json.Unmarshal(data, &in); err != nil || in.Type != "message" {
			continue
		}
		// 与 HTTP 发送路径一致：接收方必须存在才允许落库
		if _, err := c.identity.Get(in.ReceiverID); err != nil {
			c.ack(map[string]interface{}{"type": "error", "kind": service.Kind(err), "error": err.Error()})
			continue
		}
		dto, err := c.convs.Append(c.userID, in.ReceiverID, in.Content, in.MessageType)
		if err != nil {
			c.ack(map[string]interface{}{"type": "error", "kind": service.Kind(err), "error": err.Error()})
			continue
		}
		// 发送方在本连接上收到落库后的消息作为回执
		if b, merr := json.Marshal(dto); merr == nil {
			select {
			case c.send <- b:
			default:
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
