package server

import (
	"net/http"
	"time"

	"messenger/internal/config"
	"messenger/internal/metrics"
	"messenger/internal/mw"
	"messenger/internal/service"
	"messenger/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, gdb *gorm.DB, hub *ws.Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率，避免接口被刷爆。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	identity := service.NewIdentityService(gdb)
	sessions := service.NewSessionService(gdb, cfg)
	convs := service.NewConversationService(gdb, hub)
	admin := service.NewAdminService(gdb, sessions, identity, convs)
	h := NewHandler(identity, sessions, convs, admin, hub)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/verify", h.Verify)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(SessionMiddleware(sessions))
	authed.POST("/auth/logout", h.Logout)
	authed.POST("/messages", h.SendMessage)
	authed.GET("/messages/:user_id", h.ListMessages)
	authed.POST("/messages/read", h.MarkRead)
	authed.POST("/blocks", h.Block)
	authed.DELETE("/blocks/:user_id", h.Unblock)
	authed.GET("/users/:id/presence", h.Presence)

	// 管理接口，要求管理员会话。
	adm := api.Group("/admin")
	adm.Use(AdminMiddleware(admin))
	adm.GET("/users", h.AdminListUsers)
	adm.GET("/conversations", h.AdminReadConversation)
	adm.POST("/ban", h.AdminBan)
	adm.POST("/unban", h.AdminUnban)
	adm.GET("/audit", h.AdminAudit)

	r.GET("/ws", ws.Serve(hub, sessions, identity, convs))

	return r
}
