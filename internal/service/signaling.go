package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"codemeet/internal/dto"
	"codemeet/internal/repository"
	"codemeet/internal/room"
	"codemeet/internal/tasks"
)

// TaskEnqueuer 抽象 asynq.Client，便于在单元测试中替换。
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// seedFetchTimeout 限制为新房间读取历史笔记的时间。
// 这是 join 路径上唯一的同步数据库访问，超时后按空笔记继续。
const seedFetchTimeout = 500 * time.Millisecond

// SignalingService 负责房间生命周期和两方配对协议：
// 加入时分配 offerer/answerer 角色、转发不透明的信令载荷、
// 断开时通知幸存成员并触发离开记录的落盘。
type SignalingService struct {
	store       *room.Store
	meetingRepo repository.MeetingRepository
	enqueuer    TaskEnqueuer
}

// NewSignalingService 创建 SignalingService 实例。
func NewSignalingService(store *room.Store, meetingRepo repository.MeetingRepository, enqueuer TaskEnqueuer) *SignalingService {
	if store == nil {
		panic("room.Store cannot be nil for SignalingService")
	}
	if meetingRepo == nil {
		panic("MeetingRepository cannot be nil for SignalingService")
	}
	if enqueuer == nil {
		panic("TaskEnqueuer cannot be nil for SignalingService")
	}
	return &SignalingService{store: store, meetingRepo: meetingRepo, enqueuer: enqueuer}
}

// Join 处理一个连接加入房间。
// 新成员先收到当前文档快照 (room_state)，如果房间里已有人，
// 新成员作为 offerer 被指示向既有成员发起握手，既有成员作为 answerer
// 被告知等待来自新成员的 offer。首位成员不会收到进一步指令，只等待。
func (s *SignalingService) Join(ctx context.Context, roomID, connID string) []dto.Outbound {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "conn_id": connID})

	// 房间不存在时尝试用持久化的笔记做初值，让重建的房间从上次
	// 保存的内容继续。读取失败只降级为空笔记，从不阻断加入。
	seed := ""
	if len(s.store.Members(roomID)) == 0 {
		seed = s.fetchSeedNotes(ctx, roomID, logCtx)
	}

	res := s.store.Join(roomID, connID, seed)
	if res.Full {
		logCtx.Warn("Join rejected: room already has two members")
		return []dto.Outbound{{
			To:      []string{connID},
			Event:   dto.EventRoomFull,
			Payload: dto.RoomFullPayload{Room: roomID},
		}}
	}
	if res.Rejoined {
		// 重复 join 只回放当前文档快照：不重新配对 (对端的 WebRTC
		// 会话还在)，也不重复记录加入事件
		logCtx.Debug("Duplicate join, replaying document snapshot only")
		return []dto.Outbound{{
			To:      []string{connID},
			Event:   dto.EventRoomState,
			Payload: res.Doc,
		}}
	}
	logCtx.WithField("member_count", len(res.Others)+1).Info("Client joined room")

	// 持久化路径与广播路径解耦：入队失败只记日志
	s.enqueue(tasks.NewMeetingUpsertTask(roomID))
	s.enqueue(tasks.NewParticipantJoinTask(roomID, connID, time.Now().UTC()))

	out := []dto.Outbound{{
		To:      []string{connID},
		Event:   dto.EventRoomState,
		Payload: res.Doc,
	}}

	if len(res.Others) > 0 {
		// 配对只针对第一个既有成员：后到者发起 offer
		answerer := res.Others[0]
		out = append(out,
			dto.Outbound{
				To:      []string{connID},
				Event:   dto.EventInitiatePeer,
				Payload: dto.InitiatePeerPayload{PeerSID: answerer, CreateOffer: true},
			},
			dto.Outbound{
				To:      []string{answerer},
				Event:   dto.EventInitiatePeer,
				Payload: dto.InitiatePeerPayload{PeerSID: connID, CreateOffer: false},
			},
		)
	}
	return out
}

// Relay 把不透明的信令载荷 (offer / answer / ICE candidate) 原样转发给
// 目标连接，附带来源 SID。目标不可达时静默丢弃，这不是应用错误。
func (s *SignalingService) Relay(senderID, targetID string, signal json.RawMessage) []dto.Outbound {
	if !s.store.Has(targetID) {
		logrus.WithFields(logrus.Fields{"sender": senderID, "target": targetID}).
			Debug("Relay: target not attributed to any room, dropping signal")
		return nil
	}
	return []dto.Outbound{{
		To:      []string{targetID},
		Event:   dto.EventSignal,
		Payload: dto.SignalForward{SenderSID: senderID, Signal: signal},
	}}
}

// Disconnect 处理一个连接的断开：把它从所在房间移除，向剩余成员发
// peer_left，房间清空时在删除前把笔记冲刷到持久化网关。
// 未归属任何房间的连接 (重复断开) 不产生任何发射。
func (s *SignalingService) Disconnect(connID string) []dto.Outbound {
	res, ok := s.store.Leave(connID)
	if !ok {
		return nil
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": res.RoomID, "conn_id": connID})
	logCtx.Info("Client left room")

	s.enqueue(tasks.NewParticipantLeaveTask(connID, time.Now().UTC()))
	if res.Deleted {
		// 房间即将从内存消失，这是笔记最后的落盘机会
		s.enqueue(tasks.NewNoteUpsertTask(res.RoomID, res.Notes))
		logCtx.Info("Room empty, removed from store")
	}

	if len(res.Remaining) == 0 {
		return nil
	}
	return []dto.Outbound{{
		To:      res.Remaining,
		Event:   dto.EventPeerLeft,
		Payload: dto.PeerLeftPayload{SID: connID},
	}}
}

// fetchSeedNotes 读取房间的历史笔记，没有记录或出错时返回空串。
func (s *SignalingService) fetchSeedNotes(ctx context.Context, roomID string, logCtx *logrus.Entry) string {
	fetchCtx, cancel := context.WithTimeout(ctx, seedFetchTimeout)
	defer cancel()
	notes, err := s.meetingRepo.GetNote(fetchCtx, roomID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logCtx.WithError(err).Warn("Failed to fetch persisted notes, starting empty")
		}
		return ""
	}
	return notes
}

// enqueue 异步投递持久化任务。慢或失败的 Redis 不能拖慢信令路径，
// 所以入队本身也放到 goroutine 里，失败只记日志。
func (s *SignalingService) enqueue(task *asynq.Task, err error) {
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
