package http

import (
	"errors"
	"net/http"

	"codemeet/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MeetingHandler 封装了会议历史查询相关的 HTTP 处理逻辑。
// 它只读持久化记录，从不触碰实时的房间状态。
type MeetingHandler struct {
	meetingRepo repository.MeetingRepository
}

// NewMeetingHandler 创建 MeetingHandler 实例
func NewMeetingHandler(meetingRepo repository.MeetingRepository) *MeetingHandler {
	if meetingRepo == nil {
		panic("MeetingRepository cannot be nil for MeetingHandler")
	}
	return &MeetingHandler{meetingRepo: meetingRepo}
}

// NotesResponse 定义笔记查询的响应结构体
type NotesResponse struct {
	RoomID string `json:"room_id"`
	Notes  string `json:"notes"`
}

// GetNotes 返回一个会议最近一次持久化的笔记内容。
// GET /api/meetings/:roomId/notes
func (h *MeetingHandler) GetNotes(c *gin.Context) {
	roomID := c.Param("roomId")
	if roomID == "" {
		ErrorResponse(c, http.StatusBadRequest, "room id is required")
		return
	}
	logCtx := logrus.WithField("room_id", roomID)

	notes, err := h.meetingRepo.GetNote(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			ErrorResponse(c, http.StatusNotFound, "no notes recorded for this meeting")
			return
		}
		logCtx.WithError(err).Error("Handler.GetNotes: failed to fetch persisted notes")
		ErrorResponse(c, http.StatusInternalServerError, "failed to fetch notes")
		return
	}

	SuccessResponse(c, http.StatusOK, NotesResponse{RoomID: roomID, Notes: notes})
}
