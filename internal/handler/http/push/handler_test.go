package push

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercall-backend/pkg/push"
)

// memoryTokenRepo is an in-memory TokenRepository for handler tests.
type memoryTokenRepo struct {
	mu     sync.Mutex
	tokens map[uuid.UUID][]*push.Token
}

func newMemoryTokenRepo() *memoryTokenRepo {
	return &memoryTokenRepo{tokens: make(map[uuid.UUID][]*push.Token)}
}

func (r *memoryTokenRepo) Store(ctx context.Context, token *push.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token.UserID] = append(r.tokens[token.UserID], token)
	return nil
}

func (r *memoryTokenRepo) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[userID], nil
}

func (r *memoryTokenRepo) Remove(ctx context.Context, userID uuid.UUID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.tokens[userID][:0]
	for _, t := range r.tokens[userID] {
		if t.Token != token {
			kept = append(kept, t)
		}
	}
	r.tokens[userID] = kept
	return nil
}

func (r *memoryTokenRepo) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, userID)
	return nil
}

func (r *memoryTokenRepo) count(userID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens[userID])
}

func setupRouter(userID uuid.UUID) (*gin.Engine, *memoryTokenRepo) {
	gin.SetMode(gin.TestMode)

	repo := newMemoryTokenRepo()
	svc := push.NewService(&push.MockProvider{}, repo)
	handler := NewHandler(svc)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if userID != uuid.Nil {
			c.Set("user_id", userID)
		}
		c.Next()
	})
	router.POST("/v1/push/tokens", handler.RegisterToken)
	router.DELETE("/v1/push/tokens", handler.UnregisterToken)
	router.DELETE("/v1/push/tokens/all", handler.UnregisterAllTokens)

	return router, repo
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRegisterToken(t *testing.T) {
	userID := uuid.New()
	router, repo := setupRouter(userID)

	w := doJSON(router, http.MethodPost, "/v1/push/tokens", gin.H{
		"token":    "device-token-1",
		"type":     "fcm",
		"platform": "android",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, 1, repo.count(userID))

	stored, err := repo.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "device-token-1", stored[0].Token)
	assert.Equal(t, push.TokenTypeFCM, stored[0].Type)
	assert.NotZero(t, stored[0].CreatedAt)
}

func TestRegisterToken_InvalidType(t *testing.T) {
	userID := uuid.New()
	router, repo := setupRouter(userID)

	w := doJSON(router, http.MethodPost, "/v1/push/tokens", gin.H{
		"token": "device-token-1",
		"type":  "carrier-pigeon",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, repo.count(userID))
}

func TestRegisterToken_InvalidPlatform(t *testing.T) {
	userID := uuid.New()
	router, repo := setupRouter(userID)

	w := doJSON(router, http.MethodPost, "/v1/push/tokens", gin.H{
		"token":    "device-token-1",
		"type":     "apns",
		"platform": "blackberry",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, repo.count(userID))
}

func TestRegisterToken_Unauthenticated(t *testing.T) {
	router, _ := setupRouter(uuid.Nil)

	w := doJSON(router, http.MethodPost, "/v1/push/tokens", gin.H{
		"token": "device-token-1",
		"type":  "fcm",
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUnregisterToken(t *testing.T) {
	userID := uuid.New()
	router, repo := setupRouter(userID)

	repo.Store(context.Background(), &push.Token{UserID: userID, Token: "keep", Type: push.TokenTypeFCM})
	repo.Store(context.Background(), &push.Token{UserID: userID, Token: "drop", Type: push.TokenTypeFCM})

	w := doJSON(router, http.MethodDelete, "/v1/push/tokens", gin.H{"token": "drop"})

	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, repo.count(userID))

	stored, err := repo.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "keep", stored[0].Token)
}

func TestUnregisterAllTokens(t *testing.T) {
	userID := uuid.New()
	router, repo := setupRouter(userID)

	repo.Store(context.Background(), &push.Token{UserID: userID, Token: "one", Type: push.TokenTypeFCM})
	repo.Store(context.Background(), &push.Token{UserID: userID, Token: "two", Type: push.TokenTypeAPNs})

	w := doJSON(router, http.MethodDelete, "/v1/push/tokens/all", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, repo.count(userID))
}
