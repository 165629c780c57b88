package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/qs3c/vpn_access_server/internal/pkg/jwt"
	"github.com/qs3c/vpn_access_server/internal/pkg/response"
	"github.com/qs3c/vpn_access_server/internal/pkg/ws"
	"github.com/qs3c/vpn_access_server/internal/service"
)

type EventsHandler struct {
	hub       *ws.Hub
	jwtSecret string
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

// NewEventsHandler 只允许 allowedOrigins 中的浏览器来源，空列表时不校验 Origin
func NewEventsHandler(hub *ws.Hub, jwtSecret string, allowedOrigins []string, log zerolog.Logger) *EventsHandler {
	h := &EventsHandler{
		hub:       hub,
		jwtSecret: jwtSecret,
		log:       log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Stream 推送订阅事件，key 为空时推送全部
// GET /api/v1/events/ws?token=xxx&key=yyy
func (h *EventsHandler) Stream(c *gin.Context) {
	// 浏览器 WebSocket 无法设置 Header，token 走 query
	token := c.Query("token")
	if token == "" {
		response.AuthError(c, "请提供认证信息")
		return
	}

	claims, err := jwt.ParseToken(token, h.jwtSecret)
	if err != nil {
		response.AuthError(c, "认证失败或已过期")
		return
	}
	if claims.Role != jwt.RoleOperator {
		response.PermissionError(c, "")
		return
	}

	key := c.Query("key")
	if key != "" {
		if err := service.ValidateKey(key); err != nil {
			response.ParamError(c, err.Error())
			return
		}
	}

	// 升级连接
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &ws.Client{Key: key, Conn: conn}
	h.hub.Register(client)

	// 保持连接，读取消息（主要用于检测断开）
	go func() {
		defer func() {
			h.hub.Unregister(client)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
