package service

import (
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"codemeet/internal/dto"
	"codemeet/internal/room"
	"codemeet/internal/tasks"
)

// CollaborationService 负责共享文档的实时同步：应用笔记 / 代码 /
// 语言更新 (逐字段 last-writer-wins)，把新值广播给房间里的其他成员，
// 并把需要持久化的内容异步送往后台任务。
// 所有操作对孤儿连接 (不在任何房间里) 都是静默 no-op。
type CollaborationService struct {
	store    *room.Store
	enqueuer TaskEnqueuer
}

// NewCollaborationService 创建 CollaborationService 实例。
func NewCollaborationService(store *room.Store, enqueuer TaskEnqueuer) *CollaborationService {
	if store == nil {
		panic("room.Store cannot be nil for CollaborationService")
	}
	if enqueuer == nil {
		panic("TaskEnqueuer cannot be nil for CollaborationService")
	}
	return &CollaborationService{store: store, enqueuer: enqueuer}
}

// UpdateNotes 覆写房间笔记并广播给除发送者外的成员，
// 同时调度一次笔记的持久化 upsert。
func (s *CollaborationService) UpdateNotes(connID, text string) []dto.Outbound {
	roomID, others, ok := s.store.SetNotes(connID, text)
	if !ok {
		return nil
	}
	s.enqueue(tasks.NewNoteUpsertTask(roomID, text))

	if len(others) == 0 {
		return nil
	}
	return []dto.Outbound{{
		To:      others,
		Event:   dto.EventNotesUpdate,
		Payload: dto.NotesPayload{Text: text},
	}}
}

// UpdateCode 覆写指定语言的代码缓冲区并广播给其他成员。
// language 省略时落在房间当前激活语言上；广播里带上实际生效的语言。
func (s *CollaborationService) UpdateCode(connID, language, code string) []dto.Outbound {
	_, effLang, others, ok := s.store.SetCode(connID, language, code)
	if !ok {
		return nil
	}
	if len(others) == 0 {
		return nil
	}
	return []dto.Outbound{{
		To:      others,
		Event:   dto.EventCodeUpdate,
		Payload: dto.CodePayload{Code: code, Language: effLang},
	}}
}

// UpdateLanguage 切换房间的激活语言并广播给其他成员。
// 不传输任何代码内容，客户端自己渲染对应缓冲区。
func (s *CollaborationService) UpdateLanguage(connID, language string) []dto.Outbound {
	_, others, ok := s.store.SetLanguage(connID, language)
	if !ok {
		return nil
	}
	if len(others) == 0 {
		return nil
	}
	return []dto.Outbound{{
		To:      others,
		Event:   dto.EventLanguageUpdate,
		Payload: dto.LanguagePayload{Language: language},
	}}
}

// EndMeeting 向全房间 (包括发送者) 广播当前笔记作为终场摘要。
// 不删除房间也不断开成员：会议结束后仍允许继续编辑，
// 连接的终止交给传输层和客户端。
func (s *CollaborationService) EndMeeting(connID string) []dto.Outbound {
	roomID, notes, members, ok := s.store.Notes(connID)
	if !ok {
		return nil
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "conn_id": connID}).Info("Meeting ended")
	return []dto.Outbound{{
		To:      members,
		Event:   dto.EventMeetingEnded,
		Payload: dto.MeetingEndedPayload{Notes: notes},
	}}
}

// enqueue 异步投递持久化任务，失败只记日志 (内存文档仍是实时数据源)。
func (s *CollaborationService) enqueue(task *asynq.Task, err error) {
	if err != nil {
		logrus.WithError(err).Error("Failed to build persistence task")
		return
	}
	go func() {
		if _, err := s.enqueuer.Enqueue(task); err != nil {
			logrus.WithError(err).WithField("task_type", task.Type()).
				Error("Failed to enqueue persistence task")
		}
	}()
}
