package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexchat/internal/chat"
	"nexchat/internal/model"
	"nexchat/internal/realtime"
	"nexchat/internal/repository"
)

const (
	alice = "aaaa1111-0000-0000-0000-000000000001"
	bob   = "bbbb2222-0000-0000-0000-000000000002"
)

func newMessageService(t *testing.T) (*MessageService, *realtime.LocalBroker) {
	t.Helper()
	broker := realtime.NewLocalBroker(nil)
	return NewMessageService(repository.NewMessageRepository(openTestDB(t)), broker, nil), broker
}

func next(t *testing.T, sub chat.Subscription) model.ChangeEvent {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}
	return model.ChangeEvent{}
}

func userRow(userID, text string) *model.Message {
	return &model.Message{UserID: userID, Sender: model.SenderUser, Username: "x", Message: text}
}

func TestMessageAppendPublishesInsert(t *testing.T) {
	svc, broker := newMessageService(t)

	sub, err := svc.Subscribe(bg(), model.ChannelPublic, alice)
	require.NoError(t, err)
	defer sub.Close()

	stored, err := svc.Append(bg(), model.ChannelPublic, userRow(alice, "hello"))
	require.NoError(t, err)
	assert.NotZero(t, stored.ID)
	assert.False(t, stored.CreatedAt.IsZero())

	ev := next(t, sub)
	assert.Equal(t, model.ChangeInsert, ev.Type)
	assert.Equal(t, model.TablePublicChats, ev.Table)
	assert.Equal(t, stored.ID, ev.New.ID)

	sub.Close()
	assert.Equal(t, 0, broker.Count())

	_, err = svc.Append(bg(), model.ChannelPublic, &model.Message{UserID: alice, Sender: "robot", Message: "x"})
	assert.ErrorIs(t, err, chat.ErrWrite)
	_, err = svc.Append(bg(), model.ChannelKind("nope"), userRow(alice, "x"))
	assert.ErrorIs(t, err, chat.ErrWrite)
}

func TestMessagePrivateHistoryAndSubscriptionScoped(t *testing.T) {
	svc, _ := newMessageService(t)

	sub, err := svc.Subscribe(bg(), model.ChannelPrivate, alice)
	require.NoError(t, err)
	defer sub.Close()

	_, err = svc.Append(bg(), model.ChannelPrivate, userRow(bob, "bob private"))
	require.NoError(t, err)
	mine, err := svc.Append(bg(), model.ChannelPrivate, userRow(alice, "alice private"))
	require.NoError(t, err)
	ai, err := svc.Append(bg(), model.ChannelPrivate, &model.Message{
		UserID: model.AIUserID(alice), Sender: model.SenderAI, Username: model.AIUsername, Message: "reply",
	})
	require.NoError(t, err)

	history, err := svc.FetchHistory(bg(), model.ChannelPrivate, alice)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, mine.ID, history[0].ID)
	assert.Equal(t, ai.ID, history[1].ID)

	// bob 的行不会推给 alice
	assert.Equal(t, mine.ID, next(t, sub).New.ID)
	assert.Equal(t, ai.ID, next(t, sub).New.ID)

	all, err := svc.FetchHistory(bg(), model.ChannelPublic, alice)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMessageAppendAsChecksIdentity(t *testing.T) {
	svc, _ := newMessageService(t)

	_, err := svc.AppendAs(bg(), alice, model.ChannelPublic, userRow(bob, "spoof"))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.AppendAs(bg(), alice, model.ChannelPublic, &model.Message{
		UserID: model.AIUserID(bob), Sender: model.SenderAI, Message: "spoof",
	})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.AppendAs(bg(), alice, model.ChannelPublic, &model.Message{
		UserID: model.AIUserID(alice), Sender: model.SenderAI, Username: model.AIUsername, Message: "ok",
	})
	assert.NoError(t, err)
}

func TestMessageUpdateAndDelete(t *testing.T) {
	svc, _ := newMessageService(t)

	row, err := svc.Append(bg(), model.ChannelPublic, userRow(alice, "typo"))
	require.NoError(t, err)

	sub, err := svc.Subscribe(bg(), model.ChannelPublic, alice)
	require.NoError(t, err)
	defer sub.Close()

	_, err = svc.Update(bg(), bob, model.ChannelPublic, row.ID, "hijack")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Update(bg(), alice, model.ChannelPublic, 9999, "x")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, err = svc.Update(bg(), alice, model.ChannelPublic, row.ID, "  ")
	assert.ErrorIs(t, err, chat.ErrEmptyMessage)

	updated, err := svc.Update(bg(), alice, model.ChannelPublic, row.ID, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", updated.Message)

	ev := next(t, sub)
	assert.Equal(t, model.ChangeUpdate, ev.Type)
	assert.Equal(t, "fixed", ev.New.Message)
	assert.Equal(t, "typo", ev.Old.Message)

	assert.ErrorIs(t, svc.Delete(bg(), bob, model.ChannelPublic, row.ID), ErrForbidden)
	require.NoError(t, svc.Delete(bg(), alice, model.ChannelPublic, row.ID))

	ev = next(t, sub)
	assert.Equal(t, model.ChangeDelete, ev.Type)
	assert.Equal(t, row.ID, ev.Old.ID)
	assert.Nil(t, ev.New)

	assert.ErrorIs(t, svc.Delete(bg(), alice, model.ChannelPublic, row.ID), ErrMessageNotFound)
}

func TestMessageRecent(t *testing.T) {
	svc, _ := newMessageService(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		m := userRow(alice, string(rune('a'+i)))
		m.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_, err := svc.Append(bg(), model.ChannelPublic, m)
		require.NoError(t, err)
	}

	recent, err := svc.Recent(bg(), model.ChannelPublic, 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, "g", recent[0].Message)
	assert.Equal(t, "c", recent[4].Message)

	none, err := svc.Recent(bg(), model.ChannelPublic, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// 服务端进程内直接驱动 Synchronizer
func TestMessageServiceBacksSynchronizer(t *testing.T) {
	svc, _ := newMessageService(t)
	gen := &fakeGenerator{reply: "hello human"}
	ai := NewAIService(gen, svc, testAIConfig(), nil)

	s := chat.NewSynchronizer(svc, ai, nil)
	defer s.Close()

	require.NoError(t, s.Mount(bg(), model.ChannelPrivate, alice, "alice"))
	res, err := s.Send(bg(), "hi")
	require.NoError(t, err)
	require.NotNil(t, res.AI)
	assert.Equal(t, "hello human", res.AI.Message)

	assert.Eventually(t, func() bool { return len(s.Messages()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, s.Messages(), 2)
}
