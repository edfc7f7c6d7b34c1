package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"codemeet/internal/repository/mocks"
	"codemeet/internal/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHandleNoteUpsert(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	handler := NewPersistenceHandler(repo)
	repo.On("UpsertNote", mock.Anything, "room1", "content").Return(nil).Once()

	task, err := tasks.NewNoteUpsertTask("room1", "content")
	require.NoError(t, err)

	err = handler.HandleNoteUpsert(context.Background(), task)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestHandleNoteUpsertMalformedPayloadSkipsRetry(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	handler := NewPersistenceHandler(repo)

	task := asynq.NewTask(tasks.TypeNoteUpsert, []byte("{not json"))
	err := handler.HandleNoteUpsert(context.Background(), task)

	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "坏载荷不应重试")
	repo.AssertNotCalled(t, "UpsertNote", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleNoteUpsertRepositoryErrorIsRetryable(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	handler := NewPersistenceHandler(repo)
	dbErr := errors.New("connection refused")
	repo.On("UpsertNote", mock.Anything, "room1", "content").Return(dbErr).Once()

	task, _ := tasks.NewNoteUpsertTask("room1", "content")
	err := handler.HandleNoteUpsert(context.Background(), task)

	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "数据库错误交给 asynq 重试")
}

func TestHandleMeetingUpsert(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	handler := NewPersistenceHandler(repo)
	repo.On("UpsertMeeting", mock.Anything, "room1").Return(nil).Once()

	task, _ := tasks.NewMeetingUpsertTask("room1")
	assert.NoError(t, handler.HandleMeetingUpsert(context.Background(), task))
	repo.AssertExpectations(t)
}

func TestHandleParticipantJoin(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	handler := NewPersistenceHandler(repo)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo.On("RecordJoin", mock.Anything, "room1", "sid-1", at).Return(nil).Once()

	task, _ := tasks.NewParticipantJoinTask("room1", "sid-1", at)
	assert.NoError(t, handler.HandleParticipantJoin(context.Background(), task))
	repo.AssertExpectations(t)
}

func TestHandleParticipantLeave(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	handler := NewPersistenceHandler(repo)
	at := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	repo.On("RecordLeave", mock.Anything, "sid-1", at).Return(nil).Once()

	task, _ := tasks.NewParticipantLeaveTask("sid-1", at)
	assert.NoError(t, handler.HandleParticipantLeave(context.Background(), task))
	repo.AssertExpectations(t)
}
