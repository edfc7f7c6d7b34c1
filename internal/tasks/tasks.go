package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量。每种任务对应持久化网关的一个幂等 upsert，
// 由 worker at-least-once 地执行，失败按 asynq 的策略重试。
const (
	TypeMeetingUpsert    = "meeting:upsert"    // 确保会议记录存在 / 刷新活跃时间
	TypeParticipantJoin  = "participant:join"  // 记录一次加入事件
	TypeParticipantLeave = "participant:leave" // 补写离开时间
	TypeNoteUpsert       = "note:upsert"       // 覆写最新笔记内容
)

// MeetingUpsertPayload 是 meeting:upsert 任务的数据结构
type MeetingUpsertPayload struct {
	RoomID string `json:"room_id"`
}

// ParticipantJoinPayload 是 participant:join 任务的数据结构
type ParticipantJoinPayload struct {
	RoomID   string    `json:"room_id"`
	SID      string    `json:"sid"`
	JoinedAt time.Time `json:"joined_at"`
}

// ParticipantLeavePayload 是 participant:leave 任务的数据结构
type ParticipantLeavePayload struct {
	SID    string    `json:"sid"`
	LeftAt time.Time `json:"left_at"`
}

// NoteUpsertPayload 是 note:upsert 任务的数据结构
type NoteUpsertPayload struct {
	RoomID  string `json:"room_id"`
	Content string `json:"content"`
}

// NewMeetingUpsertTask 创建一个会议 upsert 任务
func NewMeetingUpsertTask(roomID string) (*asynq.Task, error) {
	payload, err := json.Marshal(MeetingUpsertPayload{RoomID: roomID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeMeetingUpsert, payload), nil
}

// NewParticipantJoinTask 创建一个参会者加入记录任务
func NewParticipantJoinTask(roomID, sid string, at time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(ParticipantJoinPayload{RoomID: roomID, SID: sid, JoinedAt: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeParticipantJoin, payload), nil
}

// NewParticipantLeaveTask 创建一个参会者离开记录任务
func NewParticipantLeaveTask(sid string, at time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(ParticipantLeavePayload{SID: sid, LeftAt: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeParticipantLeave, payload), nil
}

// NewNoteUpsertTask 创建一个笔记 upsert 任务
func NewNoteUpsertTask(roomID, content string) (*asynq.Task, error) {
	payload, err := json.Marshal(NoteUpsertPayload{RoomID: roomID, Content: content})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeNoteUpsert, payload), nil
}
