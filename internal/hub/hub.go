package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"codemeet/internal/dto"
	"codemeet/internal/service"

	"github.com/sirupsen/logrus"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	// 信令 SDP 和笔记全文都走这条通道，上限放宽一些
	maxMessageSize = 64 * 1024
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type    string  // "register", "unregister", "event"
	ConnID  string  // 来源连接的 SID
	Client  *Client // 仅用于 register/unregister
	RawData []byte  // 仅用于 event (原始 WebSocket 帧)
}

// Hub 是传输边界：维护活跃连接集合，按到达顺序串行处理每个入站
// 事件 (单一 Run 循环保证了同一连接的更新按接收顺序广播)，把事件
// 分发给 Service 层并投递其产出的发射。
type Hub struct {
	messageChan chan HubMessage
	done        chan struct{} // 关闭后拒绝新消息并令 Run 退出

	// 活跃连接，connID -> Client
	clients   map[string]*Client
	clientsMu sync.RWMutex

	signaling *service.SignalingService
	collab    *service.CollaborationService
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(signaling *service.SignalingService, collab *service.CollaborationService) *Hub {
	if signaling == nil {
		panic("SignalingService cannot be nil for Hub")
	}
	if collab == nil {
		panic("CollaborationService cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		done:        make(chan struct{}),
		clients:     make(map[string]*Client),
		signaling:   signaling,
		collab:      collab,
	}
}

// Run 启动 Hub 的主事件处理循环。
// 它应该在一个单独的 goroutine 中运行；Close 使其退出。
// 事件必须在循环内同步处理：每个入站事件对房间状态是一个
// "读 → 改 → 发射" 的原子步骤，并发的 join 和断开不会交错出
// 不一致的成员列表。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	for {
		select {
		case <-h.done:
			log.Info("Hub is shutting down...")
			return
		case msg := <-h.messageChan:
			switch msg.Type {
			case "register":
				h.registerClient(msg.Client)
			case "unregister":
				h.unregisterClient(msg.Client)
			case "event":
				h.dispatch(msg.ConnID, msg.RawData)
			default:
				log.Warnf("Hub: received unknown message type: %s from conn %s", msg.Type, msg.ConnID)
			}
		}
	}
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。
// 这是 Client 和 Handler 向 Hub 发送消息的安全方式。
// 返回 true 如果消息成功入队，false 如果队列已满或 Hub 已关闭。
// messageChan 从不被 close，关闭检查只看 done：WebSocket 连接在
// HTTP 服务器 Shutdown 之后仍可能存活，它们迟到的帧必须被安静拒绝
// 而不是撞上已关闭的通道。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case <-h.done:
		logrus.WithFields(logrus.Fields{
			"message_type": msg.Type,
			"conn_id":      msg.ConnID,
		}).Debug("Hub closed, rejecting message")
		return false
	default:
	}

	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"message_type": msg.Type,
			"conn_id":      msg.ConnID,
		}).Warn("Hub message channel full, dropping message")
		return false
	}
}

// Close 通知 Hub 停止：Run 循环退出，后续的 QueueMessage 被拒绝。
func (h *Hub) Close() {
	close(h.done)
}

// registerClient 把连接加入活跃集合。此时它还不属于任何房间，
// 房间归属由随后的 join 事件建立。
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: attempted to register a nil client")
		return
	}
	h.clientsMu.Lock()
	h.clients[client.ConnID()] = client
	h.clientsMu.Unlock()
	logrus.WithField("conn_id", client.ConnID()).Info("Client registered to Hub")
}

// unregisterClient 把连接移出活跃集合并触发断开协议：
// 房间成员列表的清理和 peer_left 通知都由 SignalingService 完成。
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: attempted to unregister a nil client")
		return
	}
	connID := client.ConnID()
	logCtx := logrus.WithField("conn_id", connID)

	h.clientsMu.Lock()
	if _, ok := h.clients[connID]; ok {
		// 只有仍在集合里的连接才关闭 send：map 删除保证 close 只发生一次
		delete(h.clients, connID)
		close(client.send)
	} else {
		// 重复断开：后续的 Disconnect 也会安静地 no-op
		logCtx.Debug("Client not found in Hub during unregister")
	}
	h.clientsMu.Unlock()

	h.deliver(h.signaling.Disconnect(connID))
	logCtx.Info("Client unregistered from Hub")
}

// dispatch 解析入站帧并分发到对应的处理器。事件集是封闭的，
// 未知事件记日志后丢弃。孤儿事件 (连接不在任何房间) 由 Service
// 层静默吞掉，这里不需要额外防护。
func (h *Hub) dispatch(connID string, raw []byte) {
	logCtx := logrus.WithField("conn_id", connID)

	var env dto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logCtx.WithError(err).Warn("Hub: failed to unmarshal inbound envelope")
		return
	}

	switch env.Event {
	case dto.EventJoin:
		var p dto.JoinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.Room == "" {
			logCtx.Warn("Hub: invalid join payload")
			return
		}
		// 使用后台 context：join 的持久化读写不应被原始请求取消
		h.deliver(h.signaling.Join(context.Background(), p.Room, connID))

	case dto.EventSignal:
		var p dto.SignalPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.TargetSID == "" {
			logCtx.Warn("Hub: invalid signal payload")
			return
		}
		h.deliver(h.signaling.Relay(connID, p.TargetSID, p.Signal))

	case dto.EventNotesUpdate:
		var p dto.NotesPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			logCtx.Warn("Hub: invalid notes_update payload")
			return
		}
		h.deliver(h.collab.UpdateNotes(connID, p.Text))

	case dto.EventCodeUpdate:
		var p dto.CodePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			logCtx.Warn("Hub: invalid code_update payload")
			return
		}
		h.deliver(h.collab.UpdateCode(connID, p.Language, p.Code))

	case dto.EventLanguageUpdate:
		var p dto.LanguagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			logCtx.Warn("Hub: invalid language_update payload")
			return
		}
		h.deliver(h.collab.UpdateLanguage(connID, p.Language))

	case dto.EventEndMeeting:
		h.deliver(h.collab.EndMeeting(connID))

	default:
		logCtx.Warnf("Hub: received unknown event: %s", env.Event)
	}
}

// deliver 把 Service 产出的发射逐条投递到目标连接。
// 每条发射只序列化一次；目标不在活跃集合 (已断开) 时静默跳过，
// 发送队列满时丢弃并记警告，由该客户端的 WritePump 处理后续。
func (h *Hub) deliver(out []dto.Outbound) {
	for _, o := range out {
		payload, err := o.Marshal()
		if err != nil {
			logrus.WithError(err).WithField("event", o.Event).
				Error("Hub: failed to marshal outbound event")
			continue
		}

		h.clientsMu.RLock()
		targets := make([]*Client, 0, len(o.To))
		for _, connID := range o.To {
			if c, ok := h.clients[connID]; ok {
				targets = append(targets, c)
			}
		}
		h.clientsMu.RUnlock()

		for _, c := range targets {
			select {
			case c.send <- payload:
			default:
				logrus.WithFields(logrus.Fields{
					"conn_id": c.ConnID(),
					"event":   o.Event,
				}).Warn("Client send channel full, dropping outbound event")
			}
		}
	}
}
