package server

import (
	"context"
	"encoding/json"
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
	"gorm.io/gorm"

	"nexchat/internal/cache"
	"nexchat/internal/client"
	"nexchat/internal/config"
	"nexchat/internal/model"
	"nexchat/internal/repository"
	"nexchat/pkg/response"
)

type nopGenerator struct{}

func (nopGenerator) Generate(context.Context, string) (string, error) { return "ok", nil }

func testConfig(backend string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, Mode: "test"},
		JWT: config.JWTConfig{
			Secret:        "0123456789abcdef0123456789abcdef",
			AccessExpire:  time.Hour,
			RefreshExpire: 24 * time.Hour,
		},
		AI: config.AIConfig{Model: "test-model", ContextSize: 5},
		Chat: config.ChatConfig{
			SendLockTTL:      time.Minute,
			UsernameCacheTTL: time.Minute,
			RealtimeBackend:  backend,
		},
	}
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := repository.OpenDatabase(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          "file:s_" + name + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
	}, false)
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// start 运行一个实例，返回其地址
func start(t *testing.T, d Deps) string {
	t.Helper()
	srv := New(d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.RunBackground(ctx)
	}()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		cancel()
		<-done
		ts.Close()
	})
	return ts.URL
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	url := start(t, Deps{
		Config:    testConfig("local"),
		DB:        openDB(t),
		Cache:     cache.NewRedisCacheFromClient(rdb),
		Generator: nopGenerator{},
	})

	resp, err := http.Get(url + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(url + "/api/v1/nowhere")
	require.NoError(t, err)
	var env response.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, response.CodeNotFound, env.Code)

	mr.SetError("redis down")
	resp, err = http.Get(url + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// 两个实例共享数据库与 Redis，一个实例上的写入推送到另一个实例的订阅者
func TestRedisBackendAcrossInstances(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	rc := cache.NewRedisCacheFromClient(rdb)
	db := openDB(t)

	deps := Deps{Config: testConfig("redis"), DB: db, Cache: rc, Generator: nopGenerator{}}
	urlA := start(t, deps)
	urlB := start(t, deps)

	// 等两个转发器都完成 PSUBSCRIBE
	require.Eventually(t, func() bool { return mr.PubSubNumPat() == 2 }, 2*time.Second, 10*time.Millisecond)

	api := client.NewClient(urlA)
	_, err := api.SignUp(ctx, "neo@example.com", "secret1")
	require.NoError(t, err)
	_, err = api.Login(ctx, "neo@example.com", "secret1")
	require.NoError(t, err)

	rt, err := client.DialRealtime(ctx, urlB, api.Token(), nil)
	require.NoError(t, err)
	defer rt.Close()
	sub, err := rt.Subscribe(ctx, model.TablePublicChats, "")
	require.NoError(t, err)
	defer sub.Close()

	res, err := api.Send(ctx, model.ChannelPublic, "across instances")
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, model.ChangeInsert, ev.Type)
		require.NotNil(t, ev.New)
		assert.Equal(t, res.User.ID, ev.New.ID)
		assert.Equal(t, "across instances", ev.New.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("no change event from the other instance")
	}
}
