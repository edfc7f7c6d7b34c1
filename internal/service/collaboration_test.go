package service_test

import (
	"testing"
	"time"

	"codemeet/internal/dto"
	"codemeet/internal/room"
	"codemeet/internal/service"
	"codemeet/internal/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCollab(t *testing.T) (*service.CollaborationService, *room.Store, *fakeEnqueuer) {
	t.Helper()
	store := room.NewStore()
	enq := newFakeEnqueuer()
	return service.NewCollaborationService(store, enq), store, enq
}

func TestUpdateNotesLastWriterWinsAndExcludesSender(t *testing.T) {
	svc, store, enq := newCollab(t)
	store.Join("room1", "A", "")
	store.Join("room1", "B", "")

	outA := svc.UpdateNotes("A", "hello")
	outB := svc.UpdateNotes("B", "world")

	// A 的更新只广播给 B，B 的更新只广播给 A：发送者永远不会收到自己的回声
	require.Len(t, outA, 1)
	assert.Equal(t, []string{"B"}, outA[0].To)
	require.Len(t, outB, 1)
	assert.Equal(t, []string{"A"}, outB[0].To)
	assert.Equal(t, dto.NotesPayload{Text: "world"}, outB[0].Payload)

	// 后写者胜
	doc, _ := store.Snapshot("room1")
	assert.Equal(t, "world", doc.Notes)

	// 每次更新都调度一次笔记落盘
	require.Eventually(t, func() bool {
		return enq.count(tasks.TypeNoteUpsert) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestUpdateNotesOrphanConnection(t *testing.T) {
	svc, _, enq := newCollab(t)

	out := svc.UpdateNotes("ghost", "text")
	assert.Nil(t, out, "孤儿事件静默丢弃")

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, enq.count(tasks.TypeNoteUpsert))
}

func TestUpdateNotesAloneInRoom(t *testing.T) {
	svc, store, enq := newCollab(t)
	store.Join("room1", "A", "")

	out := svc.UpdateNotes("A", "solo")
	assert.Empty(t, out, "没有其他成员时无需广播")

	// 但持久化照常进行
	require.Eventually(t, func() bool {
		return enq.count(tasks.TypeNoteUpsert) == 1
	}, time.Second, 10*time.Millisecond)

	doc, _ := store.Snapshot("room1")
	assert.Equal(t, "solo", doc.Notes)
}

func TestUpdateCodeBroadcastsEffectiveLanguage(t *testing.T) {
	svc, store, _ := newCollab(t)
	store.Join("room1", "A", "")
	store.Join("room1", "B", "")

	out := svc.UpdateCode("A", "", "x = 1")

	require.Len(t, out, 1)
	assert.Equal(t, []string{"B"}, out[0].To)
	// 省略语言时广播里带上实际生效的激活语言
	assert.Equal(t, dto.CodePayload{Code: "x = 1", Language: "python"}, out[0].Payload)
}

func TestUpdateCodeKeepsBuffersIndependent(t *testing.T) {
	svc, store, _ := newCollab(t)
	store.Join("room1", "A", "")
	store.Join("room1", "B", "")

	svc.UpdateCode("A", "java", "x=1")
	svc.UpdateCode("A", "cpp", "y=2")

	doc, _ := store.Snapshot("room1")
	assert.Equal(t, "x=1", doc.Codes["java"])
	assert.Equal(t, "y=2", doc.Codes["cpp"])
	assert.Equal(t, "", doc.Codes["python"])
}

func TestUpdateLanguageDoesNotTouchCode(t *testing.T) {
	svc, store, _ := newCollab(t)
	store.Join("room1", "A", "")
	store.Join("room1", "B", "")
	svc.UpdateCode("A", "python", "print(1)")

	out := svc.UpdateLanguage("A", "java")

	require.Len(t, out, 1)
	assert.Equal(t, dto.LanguagePayload{Language: "java"}, out[0].Payload)
	assert.Equal(t, []string{"B"}, out[0].To)

	doc, _ := store.Snapshot("room1")
	assert.Equal(t, "java", doc.Language)
	assert.Equal(t, "print(1)", doc.Codes["python"], "切换语言不清空缓冲区")
}

func TestEndMeetingBroadcastsToEveryoneIncludingSender(t *testing.T) {
	svc, store, _ := newCollab(t)
	store.Join("room1", "A", "")
	store.Join("room1", "B", "")
	svc.UpdateNotes("A", "final summary")

	out := svc.EndMeeting("A")

	require.Len(t, out, 1)
	assert.Equal(t, dto.EventMeetingEnded, out[0].Event)
	assert.Equal(t, []string{"A", "B"}, out[0].To, "终场摘要包含发送者本人")
	assert.Equal(t, dto.MeetingEndedPayload{Notes: "final summary"}, out[0].Payload)

	// 房间保持完好：会议结束后仍可继续编辑
	assert.Equal(t, []string{"A", "B"}, store.Members("room1"))
}

func TestEndMeetingOrphan(t *testing.T) {
	svc, _, _ := newCollab(t)
	assert.Nil(t, svc.EndMeeting("ghost"))
}
