package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsSetStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		code   ErrorCode
		status int
	}{
		{"validation", ValidationError("bad"), ErrCodeValidation, http.StatusBadRequest},
		{"unauthorized", UnauthorizedError("who"), ErrCodeUnauthorized, http.StatusUnauthorized},
		{"not found", NotFoundError("Token"), ErrCodeNotFound, http.StatusNotFound},
		{"room not found", RoomNotFoundError(), ErrCodeRoomNotFound, http.StatusNotFound},
		{"busy", BusyError(), ErrCodeCallBusy, http.StatusConflict},
		{"room full", RoomFullError(), ErrCodeRoomFull, http.StatusConflict},
		{"signaling", SignalingError(stderrors.New("redis down")), ErrCodeSignalingTransport, http.StatusServiceUnavailable},
		{"database", DatabaseError(stderrors.New("timeout")), ErrCodeDatabase, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.StatusCode)
		})
	}
	assert.Equal(t, "Token not found", NotFoundError("Token").Message)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("permission denied")
	err := MediaAccessError(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "MEDIA_ACCESS_FAILED")
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, "Media access failed", err.Message)
}

func TestHasCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("join: %w", RoomFullError())

	assert.True(t, IsAppError(err))
	assert.True(t, HasCode(err, ErrCodeRoomFull))
	assert.False(t, HasCode(err, ErrCodeRoomNotFound))
	assert.False(t, HasCode(stderrors.New("plain"), ErrCodeRoomFull))
}

func TestGetAppError(t *testing.T) {
	busy := BusyError()
	assert.Same(t, busy, GetAppError(fmt.Errorf("call: %w", busy)))

	plain := stderrors.New("boom")
	got := GetAppError(plain)
	require.NotNil(t, got)
	assert.Equal(t, ErrCodeInternal, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
	assert.ErrorIs(t, got, plain)
}
