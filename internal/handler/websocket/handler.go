package websocket

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"

	"codemeet/internal/hub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler 负责处理 WebSocket 升级请求、分配连接标识符并
// 把新连接注册到 Hub。房间归属在连接建立后由客户端的 join 事件确定。
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
}

// NewWebSocketHandler 创建 WebSocketHandler 实例
func NewWebSocketHandler(h *hub.Hub) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// 允许所有来源连接 (生产环境应配置具体的允许来源)
		CheckOrigin: func(r *http.Request) bool {
			// TODO: Implement proper origin checking for production
			return true
		},
	}

	return &WebSocketHandler{upgrader: upgrader, hub: h}
}

// HandleConnection 处理 WebSocket 连接请求。
// URL 格式: GET /ws
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	connID, err := newConnID()
	if err != nil {
		logrus.WithError(err).Error("WS Handler: failed to generate connection id")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	logCtx := logrus.WithField("conn_id", connID)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经发送了 HTTP 错误响应，这里只记录日志
		logCtx.WithError(err).Error("WS Handler: failed to upgrade connection")
		return
	}
	logCtx.Info("WS Handler: connection upgraded to WebSocket")

	client := hub.NewClient(h.hub, conn, connID)

	registerMsg := hub.HubMessage{
		Type:   "register",
		ConnID: connID,
		Client: client,
	}
	if !h.hub.QueueMessage(registerMsg) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		return
	}

	client.Run()
	logCtx.Info("WS Handler: client read/write pumps started")
}

// newConnID 生成一个不透明的连接标识符 (16 字节随机数的十六进制)。
func newConnID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
