package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"codemeet/internal/repository"
	"codemeet/internal/tasks"
)

// PersistenceHandler 处理会议历史的持久化任务。
// payload 解析失败属于不可恢复错误，用 asynq.SkipRetry 终止重试；
// 数据库错误返回给 asynq 按退避策略重试 (at-least-once)。
type PersistenceHandler struct {
	meetingRepo repository.MeetingRepository
}

// NewPersistenceHandler 创建 Handler 实例
func NewPersistenceHandler(meetingRepo repository.MeetingRepository) *PersistenceHandler {
	if meetingRepo == nil {
		panic("MeetingRepository cannot be nil for PersistenceHandler")
	}
	return &PersistenceHandler{meetingRepo: meetingRepo}
}

// HandleMeetingUpsert 实现 meeting:upsert 任务
func (h *PersistenceHandler) HandleMeetingUpsert(ctx context.Context, t *asynq.Task) error {
	var payload tasks.MeetingUpsertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("Worker: failed to unmarshal meeting upsert payload")
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := h.meetingRepo.UpsertMeeting(ctx, payload.RoomID); err != nil {
		logrus.WithError(err).WithField("room_id", payload.RoomID).Error("Worker: meeting upsert failed")
		return err
	}
	logrus.WithField("room_id", payload.RoomID).Debug("Worker: meeting upserted")
	return nil
}

// HandleParticipantJoin 实现 participant:join 任务
func (h *PersistenceHandler) HandleParticipantJoin(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ParticipantJoinPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("Worker: failed to unmarshal participant join payload")
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := h.meetingRepo.RecordJoin(ctx, payload.RoomID, payload.SID, payload.JoinedAt); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": payload.RoomID, "sid": payload.SID}).
			Error("Worker: record join failed")
		return err
	}
	return nil
}

// HandleParticipantLeave 实现 participant:leave 任务
func (h *PersistenceHandler) HandleParticipantLeave(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ParticipantLeavePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("Worker: failed to unmarshal participant leave payload")
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := h.meetingRepo.RecordLeave(ctx, payload.SID, payload.LeftAt); err != nil {
		logrus.WithError(err).WithField("sid", payload.SID).Error("Worker: record leave failed")
		return err
	}
	return nil
}

// HandleNoteUpsert 实现 note:upsert 任务
func (h *PersistenceHandler) HandleNoteUpsert(ctx context.Context, t *asynq.Task) error {
	var payload tasks.NoteUpsertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("Worker: failed to unmarshal note upsert payload")
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := h.meetingRepo.UpsertNote(ctx, payload.RoomID, payload.Content); err != nil {
		logrus.WithError(err).WithField("room_id", payload.RoomID).Error("Worker: note upsert failed")
		return err
	}
	logrus.WithFields(logrus.Fields{"room_id": payload.RoomID, "size": len(payload.Content)}).
		Debug("Worker: note upserted")
	return nil
}
