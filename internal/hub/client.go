package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
// connID 是传输层分配的不透明标识符，在连接存活期间不会复用。
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	connID string
	send   chan []byte // 用于向此客户端发送消息的缓冲通道
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, connID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		connID: connID,
		send:   make(chan []byte, 256),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) ConnID() string { return c.connID }
func (c *Client) CloseConn()     { c.conn.Close() }

// ReadPump 将消息从 WebSocket 连接泵送到 Hub 的处理通道。
// 它在自己的 goroutine 中运行；连接关闭即退出并请求注销，
// 这是 disconnect 事件的唯一来源。
func (c *Client) ReadPump() {
	defer func() {
		unregisterMsg := HubMessage{Type: "unregister", ConnID: c.connID, Client: c}
		if !c.hub.QueueMessage(unregisterMsg) {
			logrus.WithField("conn_id", c.connID).Warn("Failed to queue unregister message, Hub unavailable")
		}
		c.conn.Close()
		logrus.WithField("conn_id", c.connID).Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			logCtx := logrus.WithField("conn_id", c.connID)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed normally or read error")
			}
			break
		}

		// 只处理文本消息
		if messageType != websocket.TextMessage {
			logrus.WithField("conn_id", c.connID).Debugf("Received non-text message type: %d", messageType)
			continue
		}

		eventMsg := HubMessage{
			Type:    "event",
			ConnID:  c.connID,
			RawData: message,
		}
		// 非阻塞入队；Hub 处理不过来或已关闭时丢弃 (QueueMessage 自己记日志)
		c.hub.QueueMessage(eventMsg)
	}
}

// WritePump 将消息从 Client 的 send 通道泵送到 WebSocket 连接，
// 并定期发送 Ping 保活。它在自己的 goroutine 中运行。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logrus.WithField("conn_id", c.connID).Info("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道被 Hub 关闭了（注销时）
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithField("conn_id", c.connID).WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logrus.WithField("conn_id", c.connID).WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}
