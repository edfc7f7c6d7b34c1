package repository

import (
	"context"
	"time"
)

// MeetingRepository 定义会议历史记录的持久化操作。
// 所有写入都是以 room_id / sid 为键的幂等 upsert：它们由后台任务
// at-least-once 地重放，重复执行必须得到同样的结果。
// 持久化层永远不是实时广播的数据来源，实时状态以内存中的 Document 为准。
type MeetingRepository interface {
	// UpsertMeeting 确保 roomID 对应的会议记录存在并刷新其活跃时间。
	UpsertMeeting(ctx context.Context, roomID string) error

	// RecordJoin 为一次加入事件追加参会者行。
	RecordJoin(ctx context.Context, roomID, sid string, at time.Time) error

	// RecordLeave 补写指定连接最近一次未关闭的参会记录的离开时间。
	// 幂等：已经关闭或找不到记录时不报错。
	RecordLeave(ctx context.Context, sid string, at time.Time) error

	// UpsertNote 覆写会议的最新笔记内容 (每个会议一行)。
	UpsertNote(ctx context.Context, roomID, content string) error

	// GetNote 读取会议的最新持久化笔记。
	// 会议或笔记不存在时返回 ErrNotFound。
	GetNote(ctx context.Context, roomID string) (string, error)
}
