package dto

import "encoding/json"

// 入站事件名。集合是封闭的：Hub 的分发 switch 必须穷举这些常量，
// 新增事件类型是一个编译期可检查的改动。
const (
	EventJoin           = "join"
	EventSignal         = "signal"
	EventNotesUpdate    = "notes_update"
	EventCodeUpdate     = "code_update"
	EventLanguageUpdate = "language_update"
	EventEndMeeting     = "end_meeting"
)

// 出站事件名。
const (
	EventRoomState    = "room_state"
	EventRoomFull     = "room_full"
	EventInitiatePeer = "initiate_peer_connection"
	EventPeerLeft     = "peer_left"
	EventMeetingEnded = "meeting_ended"
	// signal / notes_update / code_update / language_update 入站出站同名
)

// Envelope 是 WebSocket 上的消息封装：{"event": "...", "data": {...}}。
// Data 保持原始字节，由具体的事件处理器再解析。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// --- 入站 payload ---

type JoinPayload struct {
	Room string `json:"room"`
}

type SignalPayload struct {
	TargetSID string          `json:"target_sid"`
	Signal    json.RawMessage `json:"signal"` // offer/answer/ICE candidate，核心不解释内容
}

type NotesPayload struct {
	Text string `json:"text"`
}

type CodePayload struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"` // 省略时回落到房间当前激活语言
}

type LanguagePayload struct {
	Language string `json:"language"`
}

// --- 出站 payload ---

// InitiatePeerPayload 指示一个连接发起或等待对端握手。
// CreateOffer 为 true 的一方是 offerer。
type InitiatePeerPayload struct {
	PeerSID     string `json:"peer_sid"`
	CreateOffer bool   `json:"create_offer"`
}

// SignalForward 是转发给目标连接的信令，附带来源 SID。
type SignalForward struct {
	SenderSID string          `json:"sender_sid"`
	Signal    json.RawMessage `json:"signal"`
}

type PeerLeftPayload struct {
	SID string `json:"sid"`
}

type MeetingEndedPayload struct {
	Notes string `json:"notes"`
}

type RoomFullPayload struct {
	Room string `json:"room"`
}

// Outbound 表示一次待投递的出站发射：向 To 中的每个连接发送一条
// {Event, Payload} 消息。Service 层只产出 Outbound，投递由 Hub 完成，
// 投递失败 (连接已断开、发送队列满) 不回传给 Service。
type Outbound struct {
	To      []string
	Event   string
	Payload interface{}
}

// Marshal 把发射编码为线上的 Envelope 字节。
func (o Outbound) Marshal() ([]byte, error) {
	data, err := json.Marshal(o.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: o.Event, Data: data})
}
