package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"codemeet/internal/domain"
	"codemeet/internal/repository"
)

// GormMeetingRepository 是 MeetingRepository 接口的 GORM 实现
type GormMeetingRepository struct {
	db *gorm.DB
}

// NewGormMeetingRepository 创建 GormMeetingRepository 实例
func NewGormMeetingRepository(db *gorm.DB) *GormMeetingRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMeetingRepository")
	}
	return &GormMeetingRepository{db: db}
}

// UpsertMeeting 确保会议记录存在。同一 room_id 的并发 upsert 依赖
// 唯一索引去重：冲突时只刷新 updated_at。
func (r *GormMeetingRepository) UpsertMeeting(ctx context.Context, roomID string) error {
	meeting := domain.Meeting{RoomID: roomID}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"updated_at": time.Now().UTC()}),
		}).
		Create(&meeting).Error
	if err != nil {
		return fmt.Errorf("gorm: upsert meeting (room_id: %s): %w", roomID, err)
	}
	return nil
}

// RecordJoin 为一次加入事件追加参会者行。会议行缺失时先补建，
// 任务重放乱序 (join 先于 meeting upsert 执行) 也能落库。
func (r *GormMeetingRepository) RecordJoin(ctx context.Context, roomID, sid string, at time.Time) error {
	meeting, err := r.findOrCreateMeeting(ctx, roomID)
	if err != nil {
		return err
	}

	// 幂等保护：同一 (meeting, sid) 的未关闭参会行只保留一条
	var count int64
	err = r.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("meeting_id = ? AND sid = ? AND left_at IS NULL", meeting.ID, sid).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("gorm: count open participants (sid: %s): %w", sid, err)
	}
	if count > 0 {
		return nil
	}

	participant := domain.Participant{MeetingID: meeting.ID, SID: sid, JoinedAt: at}
	if err := r.db.WithContext(ctx).Create(&participant).Error; err != nil {
		return fmt.Errorf("gorm: record join (room_id: %s, sid: %s): %w", roomID, sid, err)
	}
	return nil
}

// RecordLeave 补写最近一条未关闭的参会记录。找不到对应行时静默成功，
// 因为重复断开和任务重试都会走到这里。
func (r *GormMeetingRepository) RecordLeave(ctx context.Context, sid string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("sid = ? AND left_at IS NULL", sid).
		Update("left_at", at)
	if result.Error != nil {
		return fmt.Errorf("gorm: record leave (sid: %s): %w", sid, result.Error)
	}
	return nil
}

// UpsertNote 覆写会议的最新笔记内容。
func (r *GormMeetingRepository) UpsertNote(ctx context.Context, roomID, content string) error {
	meeting, err := r.findOrCreateMeeting(ctx, roomID)
	if err != nil {
		return err
	}

	note := domain.Note{MeetingID: meeting.ID, Content: content}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "meeting_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"content":    content,
				"updated_at": time.Now().UTC(),
			}),
		}).
		Create(&note).Error
	if err != nil {
		return fmt.Errorf("gorm: upsert note (room_id: %s): %w", roomID, err)
	}
	return nil
}

// GetNote 读取会议的最新持久化笔记。
func (r *GormMeetingRepository) GetNote(ctx context.Context, roomID string) (string, error) {
	var meeting domain.Meeting
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).First(&meeting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", repository.ErrMeetingNotFound
		}
		return "", fmt.Errorf("gorm: find meeting by room_id '%s': %w", roomID, err)
	}

	var note domain.Note
	err = r.db.WithContext(ctx).Where("meeting_id = ?", meeting.ID).First(&note).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", repository.ErrNoteNotFound
		}
		return "", fmt.Errorf("gorm: find note for meeting %d: %w", meeting.ID, err)
	}
	return note.Content, nil
}

// findOrCreateMeeting 按 room_id 取会议行，缺失时创建。
// 并发创建撞唯一索引时重查一次。
func (r *GormMeetingRepository) findOrCreateMeeting(ctx context.Context, roomID string) (*domain.Meeting, error) {
	var meeting domain.Meeting
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).First(&meeting).Error
	if err == nil {
		return &meeting, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("gorm: find meeting by room_id '%s': %w", roomID, err)
	}

	meeting = domain.Meeting{RoomID: roomID}
	err = r.db.WithContext(ctx).Create(&meeting).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			// 另一个任务刚刚创建了它，重查
			if err := r.db.WithContext(ctx).Where("room_id = ?", roomID).First(&meeting).Error; err != nil {
				return nil, fmt.Errorf("gorm: refetch meeting after duplicate (room_id: %s): %w", roomID, err)
			}
			return &meeting, nil
		}
		return nil, fmt.Errorf("gorm: create meeting (room_id: %s): %w", roomID, err)
	}
	return &meeting, nil
}
