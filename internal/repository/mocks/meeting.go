package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MeetingRepository 是 repository.MeetingRepository 的 mock 实现，供单元测试使用。
type MeetingRepository struct {
	mock.Mock
}

func (m *MeetingRepository) UpsertMeeting(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func (m *MeetingRepository) RecordJoin(ctx context.Context, roomID, sid string, at time.Time) error {
	args := m.Called(ctx, roomID, sid, at)
	return args.Error(0)
}

func (m *MeetingRepository) RecordLeave(ctx context.Context, sid string, at time.Time) error {
	args := m.Called(ctx, sid, at)
	return args.Error(0)
}

func (m *MeetingRepository) UpsertNote(ctx context.Context, roomID, content string) error {
	args := m.Called(ctx, roomID, content)
	return args.Error(0)
}

func (m *MeetingRepository) GetNote(ctx context.Context, roomID string) (string, error) {
	args := m.Called(ctx, roomID)
	return args.String(0), args.Error(1)
}
