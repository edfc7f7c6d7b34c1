package room

import (
	"sync"

	"codemeet/internal/domain"

	"github.com/sirupsen/logrus"
)

// MaxMembers 是一个房间允许的最大活跃成员数。两方通话的配对协议
// 只定义了 offerer/answerer 两个角色，因此超出的 join 会被显式拒绝，
// 而不是默默接受一个永远收不到配对指令的第三人。
const MaxMembers = 2

// Room 是一个活跃房间的内存模型：按到达顺序排列的成员列表加上共享文档。
// 成员顺序决定信令角色 (后到者为 offerer)。
type Room struct {
	ID      string
	Members []string // 连接 SID，长度 ∈ {1, 2}
	Doc     domain.Document
}

// Store 持有全部活跃房间以及连接到房间的反向索引。
// 两个 map 由同一把锁保护，任何变更都在同一次加锁内同时落到两边，
// 保证 "connID ∈ room.Members ⇔ conns[connID] == roomID" 恒成立。
// 所有方法都不做 I/O、不阻塞，每次调用恰好一次加锁。
type Store struct {
	mu    sync.Mutex
	rooms map[string]*Room
	conns map[string]string // connID -> roomID
}

// NewStore 创建一个空的 Store。
func NewStore() *Store {
	return &Store{
		rooms: make(map[string]*Room),
		conns: make(map[string]string),
	}
}

// JoinResult 是 Join 在锁内收集好的全部快照，调用方据此完成发射，
// 不需要再回到 Store 读取状态。
type JoinResult struct {
	Doc      domain.Document // 加入时刻的文档快照 (深拷贝)
	Others   []string        // 本次加入之前已存在的成员
	Created  bool            // 房间是否由本次调用创建
	Full     bool            // 房间已满，本次加入被拒绝
	Rejoined bool            // connID 在调用前已是成员，本次调用未改变任何状态
}

// Join 将 connID 加入 roomID，房间不存在时懒创建 (笔记以 seedNotes 为初值)。
// 重复加入是幂等的：不产生重复的成员条目。满员时拒绝，两个索引都不变。
func (s *Store) Join(roomID, connID, seedNotes string) JoinResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	created := false
	if !ok {
		r = &Room{
			ID:  roomID,
			Doc: domain.NewDocument(seedNotes),
		}
		s.rooms[roomID] = r
		created = true
	}

	// 重复 join：已经是成员则什么都不做，快照照常返回
	for _, m := range r.Members {
		if m == connID {
			return JoinResult{Doc: r.Doc.Clone(), Others: othersOf(r.Members, connID), Rejoined: true}
		}
	}

	if len(r.Members) >= MaxMembers {
		return JoinResult{Full: true}
	}

	others := make([]string, len(r.Members))
	copy(others, r.Members)

	r.Members = append(r.Members, connID)
	s.conns[connID] = roomID

	return JoinResult{Doc: r.Doc.Clone(), Others: others, Created: created}
}

// LeaveResult 描述一次成功的离开。
type LeaveResult struct {
	RoomID    string
	Remaining []string // 离开后仍在房间里的成员
	Notes     string   // 离开时刻的笔记内容，房间被删除时用于最终落盘
	Deleted   bool     // 房间是否因为清空而被删除
}

// Leave 通过反向索引找到 connID 所在的房间并移除它。
// 最后一个成员离开时立刻删除房间，文档状态随之丢弃。
// connID 不属于任何房间时返回 ok=false (例如重复断开)。
func (s *Store) Leave(connID string) (LeaveResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomID, ok := s.conns[connID]
	if !ok {
		return LeaveResult{}, false
	}
	delete(s.conns, connID)

	r, ok := s.rooms[roomID]
	if !ok {
		// 索引不一致说明同一逻辑步骤的配对约定被破坏了
		logrus.WithFields(logrus.Fields{"conn_id": connID, "room_id": roomID}).
			Error("Store: connection indexed to a room that does not exist")
		return LeaveResult{RoomID: roomID}, true
	}

	r.Members = othersOf(r.Members, connID)

	res := LeaveResult{
		RoomID:    roomID,
		Remaining: append([]string(nil), r.Members...),
		Notes:     r.Doc.Notes,
	}
	if len(r.Members) == 0 {
		delete(s.rooms, roomID)
		res.Deleted = true
	}
	return res, true
}

// RoomOf 返回 connID 当前所在的房间。
func (s *Store) RoomOf(connID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.conns[connID]
	return roomID, ok
}

// Has 报告 connID 是否归属于某个房间 (信令转发用它校验目标可达性)。
func (s *Store) Has(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[connID]
	return ok
}

// SetNotes 覆写 connID 所在房间的笔记 (last-writer-wins)。
// 返回房间 ID 和除发送者之外的成员列表。孤儿连接时 ok=false。
func (s *Store) SetNotes(connID, text string) (roomID string, others []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.roomOfLocked(connID)
	if r == nil {
		return "", nil, false
	}
	r.Doc.Notes = text
	return r.ID, othersOf(r.Members, connID), true
}

// SetCode 覆写指定语言的代码缓冲区。language 为空时回落到房间当前
// 激活语言；返回实际写入的语言。各语言缓冲区相互独立。
func (s *Store) SetCode(connID, language, code string) (roomID, effLang string, others []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.roomOfLocked(connID)
	if r == nil {
		return "", "", nil, false
	}
	if language == "" {
		language = r.Doc.Language
	}
	r.Doc.Codes[language] = code
	return r.ID, language, othersOf(r.Members, connID), true
}

// SetLanguage 切换房间的激活语言。不触碰任何代码缓冲区：
// 客户端自己负责渲染对应语言的内容。
func (s *Store) SetLanguage(connID, language string) (roomID string, others []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.roomOfLocked(connID)
	if r == nil {
		return "", nil, false
	}
	r.Doc.Language = language
	return r.ID, othersOf(r.Members, connID), true
}

// Notes 返回 connID 所在房间的当前笔记和完整成员列表 (含发送者)，
// 供 end_meeting 向全房间广播终场摘要。
func (s *Store) Notes(connID string) (roomID, notes string, members []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.roomOfLocked(connID)
	if r == nil {
		return "", "", nil, false
	}
	return r.ID, r.Doc.Notes, append([]string(nil), r.Members...), true
}

// Snapshot 返回房间文档的深拷贝，发送给新加入的成员。
func (s *Store) Snapshot(roomID string) (domain.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return domain.Document{}, false
	}
	return r.Doc.Clone(), true
}

// Members 返回房间当前成员的快照。
func (s *Store) Members(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]string(nil), r.Members...)
}

// roomOfLocked 在持锁状态下通过反向索引解析房间，孤儿连接返回 nil。
func (s *Store) roomOfLocked(connID string) *Room {
	roomID, ok := s.conns[connID]
	if !ok {
		return nil
	}
	return s.rooms[roomID]
}

// othersOf 返回去掉 connID 之后的成员列表副本。
func othersOf(members []string, connID string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != connID {
			out = append(out, m)
		}
	}
	return out
}
