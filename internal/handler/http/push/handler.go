package push

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet-backend/internal/middleware"
	apperrors "duet-backend/pkg/errors"
	"duet-backend/pkg/logger"
	"duet-backend/pkg/push"
	"duet-backend/pkg/response"
)

// TokenService registers the devices that ring for incoming calls
type TokenService interface {
	RegisterToken(ctx context.Context, token *push.Token) error
	UnregisterToken(ctx context.Context, userID uuid.UUID, token string) error
}

// Handler handles push notification HTTP requests
type Handler struct {
	pushService TokenService
	now         func() time.Time
}

// NewHandler creates a new push notification handler
func NewHandler(pushService TokenService) *Handler {
	return &Handler{
		pushService: pushService,
		now:         time.Now,
	}
}

// RegisterTokenRequest represents request to register a push token
type RegisterTokenRequest struct {
	Token    string         `json:"token" binding:"required"`
	Type     push.TokenType `json:"type" binding:"required,oneof=fcm apns"`
	Platform string         `json:"platform" binding:"omitempty,oneof=ios android web"`
}

// RegisterToken registers a device for incoming-call pushes
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	now := h.now().Unix()
	token := &push.Token{
		ID:        uuid.New(),
		UserID:    user.UserID,
		Token:     req.Token,
		Type:      req.Type,
		Platform:  req.Platform,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.pushService.RegisterToken(c.Request.Context(), token); err != nil {
		response.FromError(c, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to register token", err))
		return
	}

	logger.FromContext(c.Request.Context()).Info("Push token registered",
		zap.String("user_id", user.UserID.String()),
		zap.String("token_type", string(req.Type)),
		zap.String("platform", req.Platform))

	response.Success(c, http.StatusOK, gin.H{"token_id": token.ID})
}

// UnregisterTokenRequest represents request to unregister a push token
type UnregisterTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// UnregisterToken removes one of the caller's devices
// DELETE /v1/push/tokens
func (h *Handler) UnregisterToken(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req UnregisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	err := h.pushService.UnregisterToken(c.Request.Context(), user.UserID, req.Token)
	if errors.Is(err, push.ErrTokenNotFound) {
		response.NotFound(c, "Token not found")
		return
	}
	if err != nil {
		response.FromError(c, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to unregister token", err))
		return
	}

	logger.FromContext(c.Request.Context()).Info("Push token unregistered",
		zap.String("user_id", user.UserID.String()))

	response.Success(c, http.StatusOK, gin.H{"message": "Token unregistered"})
}
