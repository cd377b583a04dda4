package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexchat/internal/chat"
	"nexchat/internal/config"
	"nexchat/internal/model"
)

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func (f *fakeGenerator) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeRecent struct {
	rows []model.Message
	err  error
	kind model.ChannelKind
	n    int
}

func (f *fakeRecent) Recent(_ context.Context, kind model.ChannelKind, limit int) ([]model.Message, error) {
	f.kind, f.n = kind, limit
	return f.rows, f.err
}

func testAIConfig() config.AIConfig {
	return config.AIConfig{Model: "gemini-1.5-pro", Timeout: time.Second, ContextSize: 5}
}

func TestAIReplyOneOnOne(t *testing.T) {
	gen := &fakeGenerator{reply: "  doing great  "}
	svc := NewAIService(gen, &fakeRecent{}, testAIConfig(), nil)

	got := svc.Reply(bg(), "how are you?", model.ModeOneOnOne)
	assert.Equal(t, "doing great", got)
	assert.Equal(t, `You’re a friendly AI chatting one-on-one with a user. Respond naturally to: "how are you?"`, gen.last())
}

func TestAIReplyGroupUsesChronologicalContext(t *testing.T) {
	gen := &fakeGenerator{reply: "sure"}
	// 最新的在前
	recent := &fakeRecent{rows: []model.Message{
		{Username: "carol", Message: "third"},
		{Username: "bob", Message: "second"},
		{Username: "alice", Message: "first"},
	}}
	svc := NewAIService(gen, recent, testAIConfig(), nil)

	assert.Equal(t, "sure", svc.Reply(bg(), "what do you think?", model.ModeGroup))
	assert.Equal(t, model.ChannelPublic, recent.kind)
	assert.Equal(t, 5, recent.n)

	want := "You’re an AI user in a public chat with multiple people. Here’s the recent conversation:\n" +
		"alice: first\nbob: second\ncarol: third\n" +
		`Now respond to this message as part of the group: "what do you think?"`
	assert.Equal(t, want, gen.last())
}

func TestAIReplyFallback(t *testing.T) {
	tests := []struct {
		name   string
		gen    *fakeGenerator
		recent *fakeRecent
		mode   model.Mode
	}{
		{"generator error", &fakeGenerator{err: errors.New("quota")}, &fakeRecent{}, model.ModeOneOnOne},
		{"empty text", &fakeGenerator{reply: "   "}, &fakeRecent{}, model.ModeOneOnOne},
		{"context error", &fakeGenerator{reply: "never"}, &fakeRecent{err: fmt.Errorf("db down")}, model.ModeGroup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewAIService(tt.gen, tt.recent, testAIConfig(), nil)
			assert.Equal(t, chat.FallbackReply, svc.Reply(bg(), "hi", tt.mode))
		})
	}
}

func TestAIReplyGroupContextFromStore(t *testing.T) {
	svc, _ := newMessageService(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, text := range []string{"m1", "m2", "m3", "m4", "m5", "m6"} {
		m := userRow(alice, text)
		m.Username = "alice"
		m.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_, err := svc.Append(bg(), model.ChannelPublic, m)
		require.NoError(t, err)
	}

	gen := &fakeGenerator{reply: "ok"}
	ai := NewAIService(gen, svc, testAIConfig(), nil)
	ai.Reply(bg(), "m6", model.ModeGroup)

	assert.Contains(t, gen.last(), "conversation:\nalice: m2\nalice: m3\nalice: m4\nalice: m5\nalice: m6\nNow respond")
}
