package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexchat/internal/model"
	"nexchat/internal/repository"
)

func TestProfileOnboardCreatesThenMerges(t *testing.T) {
	c, _ := newTestCache(t)
	svc := NewProfileService(repository.NewProfileRepository(openTestDB(t)), c, time.Minute, nil)

	_, err := svc.Get(bg(), "u1")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	p, err := svc.Onboard(bg(), "u1", &OnboardRequest{Username: "neo"})
	require.NoError(t, err)
	assert.Equal(t, "neo", p.Username)
	assert.Zero(t, p.Age)

	var blob model.ChatsBlob
	require.NoError(t, json.Unmarshal(p.Chats, &blob))
	require.Len(t, blob.Interactions, 1)
	assert.Equal(t, "Hi, neo! Welcome to the chat.", blob.Interactions[0].Message)
	assert.Equal(t, model.AIUsername, blob.Interactions[0].Sender)

	// 已有字段不会被覆盖，空字段被补全
	p, err = svc.Onboard(bg(), "u1", &OnboardRequest{Username: "thomas", Name: "Thomas Anderson", Age: 37})
	require.NoError(t, err)
	assert.Equal(t, "neo", p.Username)
	assert.Equal(t, "Thomas Anderson", p.Name)
	assert.Equal(t, 37, p.Age)

	again, err := svc.Onboard(bg(), "u1", &OnboardRequest{Username: "thomas", Name: "Thomas Anderson", Age: 37})
	require.NoError(t, err)
	assert.Equal(t, p.Username, again.Username)
	assert.Equal(t, p.Name, again.Name)
	assert.Equal(t, p.Age, again.Age)

	got, err := svc.Get(bg(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Thomas Anderson", got.Name)
}

func TestProfileUsernameFallbackAndCache(t *testing.T) {
	c, mr := newTestCache(t)
	svc := NewProfileService(repository.NewProfileRepository(openTestDB(t)), c, time.Minute, nil)

	assert.Equal(t, UnknownUsername, svc.Username(bg(), "nobody"))

	_, err := svc.Onboard(bg(), "u1", &OnboardRequest{Username: "neo"})
	require.NoError(t, err)

	assert.Equal(t, "neo", svc.Username(bg(), "u1"))
	cached, ok := c.GetUsername(bg(), "u1")
	require.True(t, ok)
	assert.Equal(t, "neo", cached)

	mr.FastForward(2 * time.Minute)
	_, ok = c.GetUsername(bg(), "u1")
	assert.False(t, ok)
}

func TestProfileUsernameWithoutCache(t *testing.T) {
	svc := NewProfileService(repository.NewProfileRepository(openTestDB(t)), nil, 0, nil)
	_, err := svc.Onboard(bg(), "u1", &OnboardRequest{Username: "neo"})
	require.NoError(t, err)
	assert.Equal(t, "neo", svc.Username(bg(), "u1"))
}
