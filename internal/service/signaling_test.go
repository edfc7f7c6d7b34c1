package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"codemeet/internal/domain"
	"codemeet/internal/dto"
	"codemeet/internal/repository"
	"codemeet/internal/repository/mocks"
	"codemeet/internal/room"
	"codemeet/internal/service"
	"codemeet/internal/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeEnqueuer 记录被投递的任务类型，代替真实的 asynq.Client。
type fakeEnqueuer struct {
	mu    sync.Mutex
	seen  []string
	byTyp map[string][]byte
}

func newFakeEnqueuer() *fakeEnqueuer {
	return &fakeEnqueuer{byTyp: make(map[string][]byte)}
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, task.Type())
	f.byTyp[task.Type()] = task.Payload()
	return &asynq.TaskInfo{}, nil
}

func (f *fakeEnqueuer) count(taskType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.seen {
		if t == taskType {
			n++
		}
	}
	return n
}

func (f *fakeEnqueuer) payload(taskType string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byTyp[taskType]
}

func newSignaling(t *testing.T) (*service.SignalingService, *room.Store, *mocks.MeetingRepository, *fakeEnqueuer) {
	t.Helper()
	store := room.NewStore()
	repo := new(mocks.MeetingRepository)
	enq := newFakeEnqueuer()
	return service.NewSignalingService(store, repo, enq), store, repo, enq
}

// findOutbound 在发射列表中找指定事件，找不到时测试失败。
func findOutbound(t *testing.T, out []dto.Outbound, event string, to string) dto.Outbound {
	t.Helper()
	for _, o := range out {
		if o.Event != event {
			continue
		}
		for _, target := range o.To {
			if target == to {
				return o
			}
		}
	}
	t.Fatalf("no %s emission addressed to %s in %+v", event, to, out)
	return dto.Outbound{}
}

func TestJoinFirstMemberWaits(t *testing.T) {
	svc, _, repo, enq := newSignaling(t)
	repo.On("GetNote", mock.Anything, "room1").Return("", repository.ErrNotFound).Once()

	out := svc.Join(context.Background(), "room1", "A")

	require.Len(t, out, 1, "首位成员只收到文档快照，没有配对指令")
	assert.Equal(t, dto.EventRoomState, out[0].Event)
	assert.Equal(t, []string{"A"}, out[0].To)

	// 持久化路径：会议 upsert + 加入记录
	require.Eventually(t, func() bool {
		return enq.count(tasks.TypeMeetingUpsert) == 1 && enq.count(tasks.TypeParticipantJoin) == 1
	}, time.Second, 10*time.Millisecond)
	repo.AssertExpectations(t)
}

func TestJoinSecondMemberGetsPairingInstructions(t *testing.T) {
	svc, _, repo, _ := newSignaling(t)
	repo.On("GetNote", mock.Anything, "room1").Return("", repository.ErrNotFound).Once()

	svc.Join(context.Background(), "room1", "A")
	out := svc.Join(context.Background(), "room1", "B")

	// 后到者 B 是 offerer，指向既有成员 A
	ob := findOutbound(t, out, dto.EventInitiatePeer, "B")
	pb := ob.Payload.(dto.InitiatePeerPayload)
	assert.Equal(t, "A", pb.PeerSID)
	assert.True(t, pb.CreateOffer)

	// 先到者 A 是 answerer，等待来自 B 的 offer
	oa := findOutbound(t, out, dto.EventInitiatePeer, "A")
	pa := oa.Payload.(dto.InitiatePeerPayload)
	assert.Equal(t, "B", pa.PeerSID)
	assert.False(t, pa.CreateOffer)

	// B 也要先收到文档快照
	findOutbound(t, out, dto.EventRoomState, "B")
}

func TestJoinSeedsNotesFromPersistedNote(t *testing.T) {
	svc, store, repo, _ := newSignaling(t)
	repo.On("GetNote", mock.Anything, "room1").Return("restored", nil).Once()

	out := svc.Join(context.Background(), "room1", "A")

	state := findOutbound(t, out, dto.EventRoomState, "A")
	assert.Equal(t, "restored", state.Payload.(domain.Document).Notes)

	doc, ok := store.Snapshot("room1")
	require.True(t, ok)
	assert.Equal(t, "restored", doc.Notes)
}

func TestJoinDuplicateReplaysSnapshotOnly(t *testing.T) {
	svc, _, repo, enq := newSignaling(t)
	repo.On("GetNote", mock.Anything, "room1").Return("", repository.ErrNotFound).Once()
	svc.Join(context.Background(), "room1", "A")
	svc.Join(context.Background(), "room1", "B")
	require.Eventually(t, func() bool {
		return enq.count(tasks.TypeParticipantJoin) == 2
	}, time.Second, 10*time.Millisecond)

	out := svc.Join(context.Background(), "room1", "B")

	// 重复 join 只回放文档快照：不重新配对，不重复记录加入
	require.Len(t, out, 1)
	assert.Equal(t, dto.EventRoomState, out[0].Event)
	assert.Equal(t, []string{"B"}, out[0].To)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, enq.count(tasks.TypeParticipantJoin))
	assert.Equal(t, 2, enq.count(tasks.TypeMeetingUpsert))
}

func TestJoinFullRoomRejected(t *testing.T) {
	svc, store, repo, _ := newSignaling(t)
	repo.On("GetNote", mock.Anything, "room1").Return("", repository.ErrNotFound).Once()

	svc.Join(context.Background(), "room1", "A")
	svc.Join(context.Background(), "room1", "B")
	out := svc.Join(context.Background(), "room1", "C")

	require.Len(t, out, 1)
	assert.Equal(t, dto.EventRoomFull, out[0].Event)
	assert.Equal(t, []string{"C"}, out[0].To)
	assert.Equal(t, []string{"A", "B"}, store.Members("room1"))
}

func TestRelayForwardsOpaquePayload(t *testing.T) {
	svc, _, repo, _ := newSignaling(t)
	repo.On("GetNote", mock.Anything, "room1").Return("", repository.ErrNotFound).Once()
	svc.Join(context.Background(), "room1", "A")
	svc.Join(context.Background(), "room1", "B")

	signal := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	out := svc.Relay("B", "A", signal)

	require.Len(t, out, 1)
	assert.Equal(t, dto.EventSignal, out[0].Event)
	assert.Equal(t, []string{"A"}, out[0].To)
	fwd := out[0].Payload.(dto.SignalForward)
	assert.Equal(t, "B", fwd.SenderSID)
	assert.JSONEq(t, string(signal), string(fwd.Signal), "载荷原样转发，不解释内容")
}

func TestRelayToUnreachableTargetIsSilent(t *testing.T) {
	svc, _, _, _ := newSignaling(t)

	out := svc.Relay("A", "nobody", json.RawMessage(`{}`))
	assert.Nil(t, out, "目标不可达不是应用错误")
}

func TestDisconnectNotifiesRemainingMember(t *testing.T) {
	svc, store, repo, enq := newSignaling(t)
	repo.On("GetNote", mock.Anything, "room1").Return("", repository.ErrNotFound).Once()
	svc.Join(context.Background(), "room1", "A")
	svc.Join(context.Background(), "room1", "B")

	out := svc.Disconnect("A")

	require.Len(t, out, 1)
	assert.Equal(t, dto.EventPeerLeft, out[0].Event)
	assert.Equal(t, []string{"B"}, out[0].To)
	assert.Equal(t, dto.PeerLeftPayload{SID: "A"}, out[0].Payload)
	assert.Equal(t, []string{"B"}, store.Members("room1"))

	require.Eventually(t, func() bool {
		return enq.count(tasks.TypeParticipantLeave) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDisconnectLastMemberFlushesNotes(t *testing.T) {
	svc, store, repo, enq := newSignaling(t)
	repo.On("GetNote", mock.Anything, "room1").Return("", repository.ErrNotFound).Once()
	svc.Join(context.Background(), "room1", "A")
	store.SetNotes("A", "the minutes")

	out := svc.Disconnect("A")

	assert.Empty(t, out, "没有剩余成员时不发 peer_left")
	assert.Empty(t, store.Members("room1"))

	// 房间删除前把最终笔记送往持久化
	require.Eventually(t, func() bool {
		return enq.count(tasks.TypeNoteUpsert) == 1
	}, time.Second, 10*time.Millisecond)
	var payload tasks.NoteUpsertPayload
	require.NoError(t, json.Unmarshal(enq.payload(tasks.TypeNoteUpsert), &payload))
	assert.Equal(t, "the minutes", payload.Content)
}

func TestDisconnectUnknownConnection(t *testing.T) {
	svc, _, _, enq := newSignaling(t)

	out := svc.Disconnect("ghost")
	assert.Nil(t, out, "重复断开不产生发射也不报错")

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, enq.count(tasks.TypeParticipantLeave))
}
