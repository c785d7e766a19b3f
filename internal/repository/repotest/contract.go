// Package repotest: одни и те же проверки поведения для всех реализаций репозиториев.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HasheemYodhin/ys/internal/model"
	"github.com/HasheemYodhin/ys/internal/repository"
)

// Backend: свежий пустой набор репозиториев.
type Backend struct {
	Users         repository.Users
	Conversations repository.Conversations
	Messages      repository.Messages
}

// Run прогоняет проверки; newBackend вызывается на каждый подтест.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("users", func(t *testing.T) { testUsers(t, newBackend(t)) })
	t.Run("unique conversations", func(t *testing.T) { testCreateUnique(t, newBackend(t)) })
	t.Run("list and preview", func(t *testing.T) { testListForUser(t, newBackend(t)) })
	t.Run("recent messages", func(t *testing.T) { testListRecent(t, newBackend(t)) })
	t.Run("mark read", func(t *testing.T) { testMarkRead(t, newBackend(t)) })
	t.Run("soft delete", func(t *testing.T) { testSoftDelete(t, newBackend(t)) })
	t.Run("vote", func(t *testing.T) { testVote(t, newBackend(t)) })
	t.Run("concurrent votes", func(t *testing.T) { testConcurrentVotes(t, newBackend(t)) })
}

func NewUser(t *testing.T, users repository.Users, name string) *model.User {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	u := &model.User{
		ID:        uuid.New().String(),
		Email:     name + "-" + uuid.New().String()[:8] + "@yshr.com",
		FullName:  name,
		Role:      "Employee",
		LastSeen:  now,
		CreatedAt: now,
	}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

func newGroup(t *testing.T, convs repository.Conversations, members ...string) *model.Conversation {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	name := "team"
	c := &model.Conversation{
		ID:           uuid.New().String(),
		Type:         model.ConversationGroup,
		Name:         &name,
		Participants: members,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, convs.Create(context.Background(), c))
	return c
}

func newMessage(t *testing.T, msgs repository.Messages, conv, sender string, at time.Time) *model.Message {
	t.Helper()
	m := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conv,
		SenderID:       sender,
		SenderName:     "x",
		Content:        "hello " + at.Format(time.RFC3339Nano),
		Attachments:    []model.Attachment{},
		Kind:           model.KindText,
		Timestamp:      at,
		ReadBy:         []string{sender},
	}
	require.NoError(t, msgs.Create(context.Background(), m))
	return m
}

func testUsers(t *testing.T, b Backend) {
	ctx := context.Background()
	anna := NewUser(t, b.Users, "Anna")
	bob := NewUser(t, b.Users, "Bob")

	got, err := b.Users.GetByEmail(ctx, anna.Email)
	require.NoError(t, err)
	assert.Equal(t, anna.ID, got.ID)

	_, err = b.Users.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	many, err := b.Users.GetMany(ctx, []string{bob.ID, anna.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, many, 2)

	others, err := b.Users.ListExcept(ctx, anna.ID)
	require.NoError(t, err)
	for _, u := range others {
		assert.NotEqual(t, anna.ID, u.ID)
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, b.Users.SetPresence(ctx, anna.ID, true, model.StatusIdle, at))
	got, err = b.Users.GetByID(ctx, anna.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOnline)
	assert.Equal(t, model.StatusIdle, got.CurrentStatus)
	assert.True(t, got.LastSeen.Equal(at))

	require.NoError(t, b.Users.ResetOnline(ctx))
	got, err = b.Users.GetByID(ctx, anna.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOnline)
	assert.Equal(t, model.StatusOffline, got.CurrentStatus)
}

func testCreateUnique(t *testing.T, b Backend) {
	ctx := context.Background()
	a := NewUser(t, b.Users, "A")
	c := NewUser(t, b.Users, "C")
	key := model.DirectKey(a.ID, c.ID)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]int{}
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := time.Now().UTC()
			conv, isNew, err := b.Conversations.CreateUnique(ctx, &model.Conversation{
				ID:           uuid.New().String(),
				Type:         model.ConversationDirect,
				Participants: []string{a.ID, c.ID},
				UniqueKey:    key,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[conv.ID]++
			if isNew {
				created++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)
}

func testListForUser(t *testing.T, b Backend) {
	ctx := context.Background()
	a := NewUser(t, b.Users, "A")
	c := NewUser(t, b.Users, "C")
	older := newGroup(t, b.Conversations, a.ID, c.ID)
	newer := newGroup(t, b.Conversations, a.ID)
	newGroup(t, b.Conversations, c.ID)

	at := time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond)
	require.NoError(t, b.Conversations.UpdatePreview(ctx, older.ID, "latest", at))

	list, err := b.Conversations.ListForUser(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older.ID, list[0].ID)
	assert.Equal(t, newer.ID, list[1].ID)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "latest", *list[0].LastMessage)
	assert.True(t, list[0].UpdatedAt.Equal(at))

	assert.ErrorIs(t, b.Conversations.UpdatePreview(ctx, "missing", "x", at), repository.ErrNotFound)
}

func testListRecent(t *testing.T, b Backend) {
	ctx := context.Background()
	a := NewUser(t, b.Users, "A")
	conv := newGroup(t, b.Conversations, a.ID)
	base := time.Now().UTC().Truncate(time.Millisecond)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, newMessage(t, b.Messages, conv.ID, a.ID, base.Add(time.Duration(i)*time.Second)).ID)
	}
	_, err := b.Messages.SoftDelete(ctx, ids[4])
	require.NoError(t, err)

	got, err := b.Messages.ListRecent(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{ids[1], ids[2], ids[3]}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func testMarkRead(t *testing.T, b Backend) {
	ctx := context.Background()
	a := NewUser(t, b.Users, "A")
	c := NewUser(t, b.Users, "C")
	conv := newGroup(t, b.Conversations, a.ID, c.ID)
	now := time.Now().UTC().Truncate(time.Millisecond)
	fromA := newMessage(t, b.Messages, conv.ID, a.ID, now)
	fromC := newMessage(t, b.Messages, conv.ID, c.ID, now.Add(time.Second))
	later := newMessage(t, b.Messages, conv.ID, a.ID, now.Add(2*time.Second))

	require.NoError(t, b.Messages.MarkRead(ctx, conv.ID, c.ID, fromC.Timestamp))
	require.NoError(t, b.Messages.MarkRead(ctx, conv.ID, c.ID, fromC.Timestamp))

	got, err := b.Messages.GetByID(ctx, fromA.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, c.ID}, got.ReadBy)

	got, err = b.Messages.GetByID(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, got.ReadBy)

	got, err = b.Messages.GetByID(ctx, fromC.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, got.ReadBy)
}

func testSoftDelete(t *testing.T, b Backend) {
	ctx := context.Background()
	a := NewUser(t, b.Users, "A")
	conv := newGroup(t, b.Conversations, a.ID)
	m := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       a.ID,
		Content:        "secret",
		Attachments:    []model.Attachment{{URL: "/api/files/x.png", Type: "image/png", Name: "x.png"}},
		Kind:           model.KindImage,
		Timestamp:      time.Now().UTC(),
		ReadBy:         []string{a.ID},
	}
	require.NoError(t, b.Messages.Create(ctx, m))

	deleted, err := b.Messages.SoftDelete(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.Equal(t, model.DeletedPlaceholder, deleted.Content)
	assert.Len(t, deleted.Attachments, 1)

	_, err = b.Messages.SoftDelete(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func newPoll(t *testing.T, b Backend, conv, sender string) *model.Message {
	t.Helper()
	md, err := model.DecodeMetadata(model.KindPoll, []byte(`{"question":"Lunch?","options":[{"text":"Pizza"},{"text":"Sushi"},{"text":"Salad"}]}`))
	require.NoError(t, err)
	m := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conv,
		SenderID:       sender,
		Content:        "Lunch?",
		Attachments:    []model.Attachment{},
		Kind:           model.KindPoll,
		Metadata:       md,
		Timestamp:      time.Now().UTC(),
		ReadBy:         []string{sender},
	}
	require.NoError(t, b.Messages.Create(context.Background(), m))
	return m
}

func testVote(t *testing.T, b Backend) {
	ctx := context.Background()
	a := NewUser(t, b.Users, "A")
	conv := newGroup(t, b.Conversations, a.ID)
	poll := newPoll(t, b, conv.ID, a.ID)

	got, err := b.Messages.Vote(ctx, poll.ID, 0, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Metadata.Poll.VotesOf("u1"))

	got, err = b.Messages.Vote(ctx, poll.ID, 2, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Metadata.Poll.VotesOf("u1"))
	assert.Empty(t, got.Metadata.Poll.Options[0].Votes)

	// Повторный голос за тот же вариант ничего не меняет.
	got, err = b.Messages.Vote(ctx, poll.ID, 2, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, got.Metadata.Poll.Options[2].Votes)

	_, err = b.Messages.Vote(ctx, poll.ID, 3, "u1")
	assert.ErrorIs(t, err, repository.ErrBadOption)
	_, err = b.Messages.Vote(ctx, poll.ID, -1, "u1")
	assert.ErrorIs(t, err, repository.ErrBadOption)

	text := newMessage(t, b.Messages, conv.ID, a.ID, time.Now().UTC())
	_, err = b.Messages.Vote(ctx, text.ID, 0, "u1")
	assert.ErrorIs(t, err, repository.ErrNotPoll)
}

func testConcurrentVotes(t *testing.T, b Backend) {
	ctx := context.Background()
	a := NewUser(t, b.Users, "A")
	conv := newGroup(t, b.Conversations, a.ID)
	poll := newPoll(t, b, conv.ID, a.ID)

	const voters = 20
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			voter := "voter-" + string(rune('a'+i))
			// Каждый голосует то за один, то за другой вариант; остаться должен последний.
			for opt := 0; opt < 3; opt++ {
				_, err := b.Messages.Vote(ctx, poll.ID, (i+opt)%3, voter)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := b.Messages.GetByID(ctx, poll.ID)
	require.NoError(t, err)
	total := 0
	seen := map[string]bool{}
	for _, o := range got.Metadata.Poll.Options {
		for _, v := range o.Votes {
			assert.False(t, seen[v], "voter %s counted twice", v)
			seen[v] = true
			total++
		}
	}
	assert.Equal(t, voters, total)
}
