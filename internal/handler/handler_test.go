package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexchat/internal/cache"
	"nexchat/internal/chat"
	"nexchat/internal/config"
	"nexchat/internal/middleware"
	"nexchat/internal/model"
	"nexchat/internal/realtime"
	"nexchat/internal/repository"
	"nexchat/internal/service"
	"nexchat/pkg/jwt"
	"nexchat/pkg/response"
)

type stubGenerator struct{ reply string }

func (s stubGenerator) Generate(context.Context, string) (string, error) {
	if s.reply == "" {
		return "", errors.New("no reply configured")
	}
	return s.reply, nil
}

type apiFixture struct {
	router *gin.Engine
	cache  *cache.RedisCache
	broker *realtime.LocalBroker
}

func newAPIFixture(t *testing.T, gen service.TextGenerator) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := repository.OpenDatabase(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:h_%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
	}, false)
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc := cache.NewRedisCacheFromClient(client)

	jwtService := jwt.NewJWTService("0123456789abcdef0123456789abcdef", time.Hour, 24*time.Hour)
	broker := realtime.NewLocalBroker(nil)

	authSvc := service.NewAuthService(repository.NewUserRepository(db), rc, jwtService, nil)
	profileSvc := service.NewProfileService(repository.NewProfileRepository(db), rc, time.Minute, nil)
	messageSvc := service.NewMessageService(repository.NewMessageRepository(db), broker, nil)
	aiSvc := service.NewAIService(gen, messageSvc, config.AIConfig{Model: "m", ContextSize: 5}, nil)

	r := gin.New()
	requireAuth := middleware.AuthMiddleware(jwtService, rc)
	NewHealthHandler(map[string]Pinger{"redis": rc}).RegisterRoutes(r)
	v1 := r.Group("/api/v1")
	NewAuthHandler(authSvc, nil).RegisterRoutes(v1, requireAuth)
	NewProfileHandler(profileSvc, nil).RegisterRoutes(v1, requireAuth)
	NewChatHandler(messageSvc, profileSvc, aiSvc, rc, time.Minute, nil).RegisterRoutes(v1, requireAuth)
	NewAIHandler(aiSvc).RegisterRoutes(v1, requireAuth)

	return &apiFixture{router: r, cache: rc, broker: broker}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// signIn 注册并登录，返回 Access Token、Refresh Token 与用户 ID
func (f *apiFixture) signIn(t *testing.T, email string) (string, string, string) {
	t.Helper()
	code, _ := f.do(t, http.MethodPost, "/api/v1/auth/signup", "", service.SignUpRequest{Email: email, Password: "secret1"})
	require.Equal(t, http.StatusCreated, code)

	code, env := f.do(t, http.MethodPost, "/api/v1/auth/signin", "", service.SignInRequest{Email: email, Password: "secret1"})
	require.Equal(t, http.StatusOK, code)
	res := decode[service.SignInResponse](t, env.Data)
	return res.AccessToken, res.RefreshToken, res.User.ID
}

func TestAuthFlow(t *testing.T) {
	f := newAPIFixture(t, stubGenerator{})

	code, env := f.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{"email": "not-an-email", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.CodeBadRequest, env.Code)

	access, refresh, userID := f.signIn(t, "neo@example.com")

	code, env = f.do(t, http.MethodPost, "/api/v1/auth/signup", "", service.SignUpRequest{Email: "neo@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.CodeUserExists, env.Code)

	code, env = f.do(t, http.MethodPost, "/api/v1/auth/signin", "", service.SignInRequest{Email: "neo@example.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, response.CodePasswordWrong, env.Code)

	code, env = f.do(t, http.MethodGet, "/api/v1/auth/session", access, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, userID, decode[SessionResponse](t, env.Data).UserID)

	code, _ = f.do(t, http.MethodPost, "/api/v1/auth/refresh", "", service.RefreshRequest{RefreshToken: refresh})
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodPost, "/api/v1/auth/signout", access, SignOutRequest{RefreshToken: refresh})
	require.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodGet, "/api/v1/auth/session", access, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = f.do(t, http.MethodPost, "/api/v1/auth/refresh", "", service.RefreshRequest{RefreshToken: refresh})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestProfileEndpoints(t *testing.T) {
	f := newAPIFixture(t, stubGenerator{})
	access, _, userID := f.signIn(t, "neo@example.com")

	code, env := f.do(t, http.MethodGet, "/api/v1/profile", access, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.CodeProfileNotFound, env.Code)

	code, env = f.do(t, http.MethodGet, "/api/v1/profile/username", access, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, service.UnknownUsername, decode[UsernameResponse](t, env.Data).Username)

	code, _ = f.do(t, http.MethodPost, "/api/v1/profile/onboard", access, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = f.do(t, http.MethodPost, "/api/v1/profile/onboard", access, service.OnboardRequest{Username: "neo", Age: 30})
	require.Equal(t, http.StatusOK, code)
	p := decode[model.Profile](t, env.Data)
	assert.Equal(t, userID, p.UserID)
	assert.Equal(t, 30, p.Age)

	code, env = f.do(t, http.MethodGet, "/api/v1/profile/username", access, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "neo", decode[UsernameResponse](t, env.Data).Username)
}

func TestChatSendAndHistory(t *testing.T) {
	f := newAPIFixture(t, stubGenerator{reply: "hello from ai"})
	access, _, userID := f.signIn(t, "neo@example.com")
	other, _, _ := f.signIn(t, "trinity@example.com")

	code, _ := f.do(t, http.MethodPost, "/api/v1/profile/onboard", access, service.OnboardRequest{Username: "neo"})
	require.Equal(t, http.StatusOK, code)

	sub := f.broker.Subscribe(model.TablePrivateChats, realtime.InUserIDs(userID, model.AIUserID(userID)))
	defer sub.Close()

	code, env := f.do(t, http.MethodPost, "/api/v1/chats/private/send", access, SendRequest{Message: "hi there"})
	require.Equal(t, http.StatusOK, code, env.Message)
	res := decode[chat.SendResult](t, env.Data)
	require.NotNil(t, res.User)
	require.NotNil(t, res.AI)
	assert.Equal(t, "neo", res.User.Username)
	assert.Equal(t, "hello from ai", res.AI.Message)
	assert.Equal(t, model.AIUserID(userID), res.AI.UserID)

	assert.Equal(t, res.User.ID, (<-sub.Events()).New.ID)
	assert.Equal(t, res.AI.ID, (<-sub.Events()).New.ID)

	code, env = f.do(t, http.MethodGet, "/api/v1/chats/private", access, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]model.Message](t, env.Data), 2)

	// 别人看不到这段私聊，也不能改
	code, env = f.do(t, http.MethodGet, "/api/v1/chats/private", other, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[[]model.Message](t, env.Data))

	path := fmt.Sprintf("/api/v1/chats/private/%d", res.User.ID)
	code, _ = f.do(t, http.MethodPut, path, other, UpdateRequest{Message: "hacked"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = f.do(t, http.MethodDelete, path, other, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = f.do(t, http.MethodPut, path, access, UpdateRequest{Message: "hi again"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "hi again", decode[model.Message](t, env.Data).Message)

	code, _ = f.do(t, http.MethodDelete, path, access, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, env = f.do(t, http.MethodDelete, path, access, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.CodeMessageNotFound, env.Code)

	code, _ = f.do(t, http.MethodGet, "/api/v1/chats/bogus", access, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPost, "/api/v1/chats/public/send", access, SendRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestChatPublicSendRespectsMarker(t *testing.T) {
	f := newAPIFixture(t, stubGenerator{reply: "group reply"})
	access, _, _ := f.signIn(t, "neo@example.com")

	code, env := f.do(t, http.MethodPost, "/api/v1/chats/public/send", access, SendRequest{Message: "plain hello"})
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(env.Data), "group reply")

	code, env = f.do(t, http.MethodPost, "/api/v1/chats/public/send", access, SendRequest{Message: "-ai say hi"})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "group reply")
	assert.Contains(t, string(env.Data), `"message":"say hi"`)

	code, env = f.do(t, http.MethodGet, "/api/v1/chats/public/recent?limit=2", access, nil)
	require.Equal(t, http.StatusOK, code)
	recent := decode[[]model.Message](t, env.Data)
	require.Len(t, recent, 2)
	assert.Equal(t, model.SenderAI, recent[0].Sender)
	assert.Equal(t, "say hi", recent[1].Message)

	// 用户名未设置时使用占位名
	assert.Equal(t, service.UnknownUsername, recent[1].Username)
}

func TestChatSendLockRejectsConcurrentSend(t *testing.T) {
	f := newAPIFixture(t, stubGenerator{reply: "r"})
	access, _, userID := f.signIn(t, "neo@example.com")

	release, err := f.cache.AcquireSendLock(context.Background(), userID, string(model.ChannelPrivate), time.Minute)
	require.NoError(t, err)

	code, env := f.do(t, http.MethodPost, "/api/v1/chats/private/send", access, SendRequest{Message: "hi"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.CodeSendPending, env.Code)

	release()
	code, _ = f.do(t, http.MethodPost, "/api/v1/chats/private/send", access, SendRequest{Message: "hi"})
	assert.Equal(t, http.StatusOK, code)
}

func TestChatAppendChecksIdentity(t *testing.T) {
	f := newAPIFixture(t, stubGenerator{})
	access, _, userID := f.signIn(t, "neo@example.com")

	code, _ := f.do(t, http.MethodPost, "/api/v1/chats/public", access, AppendRequest{UserID: "someone-else", Message: "spoof"})
	assert.Equal(t, http.StatusForbidden, code)

	code, env := f.do(t, http.MethodPost, "/api/v1/chats/public", access, AppendRequest{Sender: model.SenderAI, Message: "as my ai"})
	require.Equal(t, http.StatusCreated, code)
	row := decode[model.Message](t, env.Data)
	assert.Equal(t, model.AIUserID(userID), row.UserID)
	assert.Equal(t, model.AIUsername, row.Username)
}

func TestAIReplyEndpoint(t *testing.T) {
	f := newAPIFixture(t, stubGenerator{})
	access, _, _ := f.signIn(t, "neo@example.com")

	code, _ := f.do(t, http.MethodPost, "/api/v1/ai/reply", access, ReplyRequest{Prompt: "hi", Mode: "LOUD"})
	assert.Equal(t, http.StatusBadRequest, code)

	// 生成失败时返回兜底文本
	code, env := f.do(t, http.MethodPost, "/api/v1/ai/reply", access, ReplyRequest{Prompt: "hi", Mode: model.ModeOneOnOne})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Oops, I couldn’t think of a reply!", decode[ReplyResponse](t, env.Data).Reply)

	code, _ = f.do(t, http.MethodPost, "/api/v1/ai/reply", "", ReplyRequest{Prompt: "hi", Mode: model.ModeOneOnOne})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHealthHandler(map[string]Pinger{
		"ok":   PingFunc(func(context.Context) error { return nil }),
		"down": PingFunc(func(context.Context) error { return errors.New("refused") }),
	}).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"ok":"ok","down":"refused"}}`, rec.Body.String())
}
