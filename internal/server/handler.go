package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"messenger/internal/service"
	"messenger/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	identity *service.IdentityService
	sessions *service.SessionService
	convs    *service.ConversationService
	admin    *service.AdminService
	hub      *ws.Hub
}

func NewHandler(identity *service.IdentityService, sessions *service.SessionService, convs *service.ConversationService, admin *service.AdminService, hub *ws.Hub) *Handler {
	return &Handler{identity: identity, sessions: sessions, convs: convs, admin: admin, hub: hub}
}

// Register 处理用户注册请求，成功后直接签发会话令牌。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		FullName string `json:"full_name"`
		Password string `json:"password"`
		Bio      string `json:"bio"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid password"})
		return
	}
	user, err := h.identity.Register(req.Username, req.Email, req.FullName, req.Password, req.Bio)
	if err != nil {
		log.Warn().Err(err).Str("username", req.Username).Msg("register")
		writeError(c, err)
		return
	}
	token, err := h.sessions.Issue(user.ID)
	if err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("register issue token")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": service.ToUserDTO(user), "token": token})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid payload"})
		return
	}
	user, err := h.identity.Authenticate(req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	token, err := h.sessions.Issue(user.ID)
	if err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("login issue token")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": service.ToUserDTO(user), "token": token})
}

// Verify 查询令牌是否有效。无效令牌返回 200 与 valid=false，而不是 4xx。
func (h *Handler) Verify(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid payload"})
		return
	}
	user, err := h.sessions.Validate(req.Token)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"valid": false, "kind": service.Kind(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "user": service.ToUserDTO(user)})
}

// Logout 吊销当前会话令牌。
func (h *Handler) Logout(c *gin.Context) {
	if err := h.sessions.Revoke(currentToken(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SendMessage 向指定用户发送私信。
func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		ReceiverID  uint   `json:"receiver_id"`
		Content     string `json:"content"`
		MessageType string `json:"message_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid payload"})
		return
	}
	sender := currentUser(c)
	if _, err := h.identity.Get(req.ReceiverID); err != nil {
		writeError(c, err)
		return
	}
	msg, err := h.convs.Append(sender.ID, req.ReceiverID, req.Content, req.MessageType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// ListMessages 分页查询当前用户与对方之间的消息。
func (h *Handler) ListMessages(c *gin.Context) {
	otherID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil || otherID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid user id"})
		return
	}
	limitStr := c.Query("limit")
	if limitStr == "" {
		limitStr = "50"
	}
	limit, _ := strconv.Atoi(limitStr)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var beforeID uint
	if bid := c.Query("before_id"); bid != "" {
		if v, err := strconv.Atoi(bid); err == nil && v > 0 {
			beforeID = uint(v)
		}
	}
	user := currentUser(c)
	msgs, err := h.convs.Fetch(user.ID, uint(otherID), limit, beforeID)
	if err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Int("other_id", otherID).Msg("list messages")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// MarkRead 将当前用户收到的消息标记为已读，返回实际转换的条数。
func (h *Handler) MarkRead(c *gin.Context) {
	var req struct {
		MessageIDs []uint `json:"message_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid payload"})
		return
	}
	count, err := h.convs.MarkRead(req.MessageIDs, currentUser(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// Block 拉黑指定用户。
func (h *Handler) Block(c *gin.Context) {
	var req struct {
		UserID uint `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid payload"})
		return
	}
	if _, err := h.identity.Get(req.UserID); err != nil {
		writeError(c, err)
		return
	}
	if err := h.convs.Block(currentUser(c).ID, req.UserID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Unblock 解除拉黑。
func (h *Handler) Unblock(c *gin.Context) {
	blockedID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil || blockedID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid user id"})
		return
	}
	if err := h.convs.Unblock(currentUser(c).ID, uint(blockedID)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Presence 查询用户在线状态与最后活跃时间。
func (h *Handler) Presence(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("id"))
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid user id"})
		return
	}
	online, lastSeen := h.hub.Presence(uint(userID))
	resp := gin.H{"is_online": online}
	if lastSeen.IsZero() {
		resp["last_seen"] = nil
	} else {
		resp["last_seen"] = lastSeen
	}
	c.JSON(http.StatusOK, resp)
}

// AdminListUsers 返回用户列表，不含凭证信息。
func (h *Handler) AdminListUsers(c *gin.Context) {
	users, err := h.admin.ListUsers(currentUser(c), 100)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "total": len(users)})
}

// AdminReadConversation 特权读取任意两人之间的消息，访问会被审计。
func (h *Handler) AdminReadConversation(c *gin.Context) {
	userA, errA := strconv.Atoi(c.Query("user_a"))
	userB, errB := strconv.Atoi(c.Query("user_b"))
	if errA != nil || errB != nil || userA <= 0 || userB <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid user pair"})
		return
	}
	admin := currentUser(c)
	msgs, err := h.admin.ReadConversation(admin, uint(userA), uint(userB))
	if err != nil {
		log.Error().Err(err).Uint("admin_id", admin.ID).Msg("admin read conversation")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// AdminBan 封禁用户。duration_seconds 省略或为 0 表示永久封禁。
func (h *Handler) AdminBan(c *gin.Context) {
	var req struct {
		TargetUserID    uint   `json:"target_user_id"`
		Reason          string `json:"reason"`
		DurationSeconds int64  `json:"duration_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.TargetUserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid payload"})
		return
	}
	rec, err := h.admin.BanUser(currentUser(c), req.TargetUserID, req.Reason, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ban": rec})
}

// AdminUnban 解除封禁。
func (h *Handler) AdminUnban(c *gin.Context) {
	var req struct {
		TargetUserID uint `json:"target_user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.TargetUserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation_error", "error": "invalid payload"})
		return
	}
	if err := h.admin.UnbanUser(currentUser(c), req.TargetUserID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// AdminAudit 返回最近的审计记录。
func (h *Handler) AdminAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.admin.Audit(limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": entries})
}
