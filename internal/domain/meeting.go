package domain

import "time"

// Meeting 表示一次会议的持久化记录，以房间 ID 为唯一键。
// 核心只把它当作 upsert 目标，实时状态永远以内存中的 Document 为准。
type Meeting struct {
	ID        uint      `gorm:"primaryKey"`                    // 会议记录的唯一标识符 (主键)
	RoomID    string    `gorm:"uniqueIndex;size:191;not null"` // 外部提供的房间 ID，必须唯一
	CreatedAt time.Time `gorm:"autoCreateTime"`                // 会议首次被记录的时间 (GORM 自动填充)
	UpdatedAt time.Time `gorm:"autoUpdateTime"`                // 最后一次活动时间 (GORM 自动填充)
}

// Participant 表示一次加入事件：谁 (连接 SID) 在什么时候进入了哪个会议。
// LeftAt 在断开时补写，可能为空 (进程崩溃时不会回填)。
type Participant struct {
	ID        uint       `gorm:"primaryKey"`
	MeetingID uint       `gorm:"index;not null"`        // 所属会议 ID (外键关联 Meeting.ID)
	SID       string     `gorm:"index;size:191;not null"` // 传输层分配的连接标识符
	JoinedAt  time.Time  `gorm:"not null"`
	LeftAt    *time.Time // 离开时间，未离开时为 NULL
}

// Note 表示一个会议的最新笔记内容，每个会议只保留一行。
type Note struct {
	ID        uint      `gorm:"primaryKey"`
	MeetingID uint      `gorm:"uniqueIndex;not null"` // 每个会议一行笔记
	Content   string    `gorm:"type:text"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
