package push

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"duet-backend/internal/middleware"
	"duet-backend/pkg/jwt"
	"duet-backend/pkg/push"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockTokens struct{ mock.Mock }

func (m *mockTokens) RegisterToken(ctx context.Context, token *push.Token) error {
	return m.Called(ctx, token).Error(0)
}

func (m *mockTokens) UnregisterToken(ctx context.Context, userID uuid.UUID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

func setup(t *testing.T) (*gin.Engine, *mockTokens, uuid.UUID, string) {
	t.Helper()
	manager := jwt.NewJWTManager("test-secret", time.Minute)
	user := uuid.New()
	token, err := manager.GenerateAccessToken(user, "Ada")
	require.NoError(t, err)

	svc := &mockTokens{}
	h := NewHandler(svc)
	r := gin.New()
	v1 := r.Group("/v1", middleware.AuthMiddleware(manager))
	v1.POST("/push/tokens", h.RegisterToken)
	v1.DELETE("/push/tokens", h.UnregisterToken)

	t.Cleanup(func() { svc.AssertExpectations(t) })
	return r, svc, user, token
}

func send(r *gin.Engine, method, token string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, "/v1/push/tokens", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterToken(t *testing.T) {
	r, svc, user, token := setup(t)
	svc.On("RegisterToken", mock.Anything, mock.MatchedBy(func(tok *push.Token) bool {
		return tok.UserID == user && tok.Token == "fcm-device" && tok.Type == push.TokenTypeFCM && tok.Active
	})).Return(nil)

	w := send(r, http.MethodPost, token, RegisterTokenRequest{Token: "fcm-device", Type: push.TokenTypeFCM, Platform: "android"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "token_id")
}

func TestRegisterTokenValidation(t *testing.T) {
	r, _, _, token := setup(t)

	w := send(r, http.MethodPost, token, map[string]string{"token": "x", "type": "web"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = send(r, http.MethodPost, token, map[string]string{"token": "x", "type": "apns", "platform": "fridge"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnregisterToken(t *testing.T) {
	r, svc, user, token := setup(t)
	svc.On("UnregisterToken", mock.Anything, user, "mine").Return(nil)
	svc.On("UnregisterToken", mock.Anything, user, "theirs").Return(push.ErrTokenNotFound)

	w := send(r, http.MethodDelete, token, UnregisterTokenRequest{Token: "mine"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = send(r, http.MethodDelete, token, UnregisterTokenRequest{Token: "theirs"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
