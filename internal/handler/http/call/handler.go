package call

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet-backend/internal/domain"
	"duet-backend/internal/middleware"
	apperrors "duet-backend/pkg/errors"
	"duet-backend/pkg/logger"
	"duet-backend/pkg/pagination"
	"duet-backend/pkg/response"
)

// HistoryRepository lists a user's call history, newest first
type HistoryRepository interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallHistoryEntry, error)
}

// RoomRepository is the room directory
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	Get(ctx context.Context, id string) (*domain.Room, error)
	Members(ctx context.Context, id string) ([]uuid.UUID, error)
}

// Handler handles call history and room HTTP requests
type Handler struct {
	history HistoryRepository
	rooms   RoomRepository
	now     func() time.Time
}

// NewHandler creates a new call handler
func NewHandler(history HistoryRepository, rooms RoomRepository) *Handler {
	return &Handler{
		history: history,
		rooms:   rooms,
		now:     time.Now,
	}
}

// ListHistory returns the caller's call history
// GET /v1/calls/history?page=1&limit=20
func (h *Handler) ListHistory(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	params, err := pagination.Parse(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	entries, err := h.history.ListByUser(c.Request.Context(), user.UserID, params.Limit, params.Offset)
	if err != nil {
		response.FromError(c, apperrors.DatabaseError(err))
		return
	}

	response.Success(c, http.StatusOK, pagination.NewPage(params, entries))
}

// CreateRoomRequest represents room creation request
type CreateRoomRequest struct {
	Name    string `json:"name"`
	IsVideo bool   `json:"isVideo"`
}

// CreateRoom registers a group call room. The creator joins it over the
// signaling websocket.
// POST /v1/rooms
func (h *Handler) CreateRoom(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "Invalid request body")
		return
	}

	room, err := domain.NewRoom(req.Name, req.IsVideo, user.UserID, h.now())
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.rooms.Create(c.Request.Context(), room); err != nil {
		response.FromError(c, directoryError(err))
		return
	}

	logger.FromContext(c.Request.Context()).Info("Room created",
		zap.String("room_id", room.ID),
		zap.String("user_id", user.UserID.String()),
		zap.Bool("is_video", room.IsVideo))

	response.Success(c, http.StatusCreated, room)
}

// RoomResponse is a room with its current members
type RoomResponse struct {
	*domain.Room
	Members []uuid.UUID `json:"members"`
}

// GetRoom returns a room and who is in it
// GET /v1/rooms/:id
func (h *Handler) GetRoom(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		response.ValidationError(c, "Invalid room ID")
		return
	}

	room, err := h.rooms.Get(c.Request.Context(), id)
	if errors.Is(err, domain.ErrRoomNotFound) {
		response.FromError(c, apperrors.RoomNotFoundError())
		return
	}
	if err != nil {
		response.FromError(c, directoryError(err))
		return
	}

	members, err := h.rooms.Members(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, directoryError(err))
		return
	}
	if members == nil {
		members = []uuid.UUID{}
	}

	response.Success(c, http.StatusOK, RoomResponse{Room: room, Members: members})
}

func directoryError(err error) *apperrors.AppError {
	return apperrors.WrapWithStatus(apperrors.ErrCodeServiceUnavail, "Room directory unavailable", http.StatusServiceUnavailable, err)
}
