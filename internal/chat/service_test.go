package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HasheemYodhin/ys/internal/apperr"
	"github.com/HasheemYodhin/ys/internal/event"
	"github.com/HasheemYodhin/ys/internal/model"
	"github.com/HasheemYodhin/ys/internal/repository"
	"github.com/HasheemYodhin/ys/internal/repository/memory"
	"github.com/HasheemYodhin/ys/internal/repository/repotest"
)

type sent struct {
	room string // пусто для глобальной рассылки
	ev   event.Envelope
}

type fakePublisher struct {
	mu     sync.Mutex
	events []sent
}

func (p *fakePublisher) BroadcastToRoom(room string, ev event.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, sent{room, ev})
}

func (p *fakePublisher) BroadcastAll(ev event.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, sent{"", ev})
}

func (p *fakePublisher) all() []sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sent(nil), p.events...)
}

type fakeReplier struct {
	mu      sync.Mutex
	prompts []string
}

func (r *fakeReplier) Trigger(_, prompt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
}

type notification struct{ user, title, body string }

type fakeNotifier struct {
	ch chan notification
}

func (n *fakeNotifier) Notify(_ context.Context, userID, title, body string, _ map[string]string) {
	n.ch <- notification{userID, title, body}
}

type onlineSet map[string]bool

func (o onlineSet) Online(id string) bool { return o[id] }

type fixture struct {
	svc   *Service
	store *memory.Store
	pub   *fakePublisher
	alice *model.User
	bob   *model.User
	carol *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	pub := &fakePublisher{}
	f := &fixture{
		svc:   NewService(store.Conversations(), store.Messages(), store.Users(), pub),
		store: store,
		pub:   pub,
	}
	f.alice = repotest.NewUser(t, store.Users(), "Alice")
	f.bob = repotest.NewUser(t, store.Users(), "Bob")
	f.carol = repotest.NewUser(t, store.Users(), "Carol")
	return f
}

func (f *fixture) direct(t *testing.T) *model.Conversation {
	t.Helper()
	c, _, err := f.svc.GetOrCreateDirect(context.Background(), f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	return c
}

func (f *fixture) post(t *testing.T, conv, sender, content string) *model.Message {
	t.Helper()
	m, err := f.svc.PostMessage(context.Background(), sender, PostMessageRequest{ConversationID: conv, Content: content})
	require.NoError(t, err)
	return m
}

func TestGetOrCreateDirect_Unique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.svc.GetOrCreateDirect(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	assert.True(t, created)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := f.alice.ID, f.bob.ID
			if i%2 == 0 {
				a, b = b, a
			}
			c, created, err := f.svc.GetOrCreateDirect(ctx, a, b)
			assert.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.ID, c.ID)
		}(i)
	}
	wg.Wait()
}

func TestGetOrCreateDirect_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.GetOrCreateDirect(ctx, f.alice.ID, "nobody")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, _, err = f.svc.GetOrCreateDirect(ctx, f.alice.ID, f.alice.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestGetOrCreateDirect_ColonIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"a:b", "c", "a", "b:c"} {
		require.NoError(t, f.store.Users().Create(ctx, &model.User{ID: id, Email: id + "@yshr.com", FullName: id}))
	}

	first, created, err := f.svc.GetOrCreateDirect(ctx, "a:b", "c")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.svc.GetOrCreateDirect(ctx, "a", "b:c")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
	assert.ElementsMatch(t, []string{"a", "b:c"}, second.Participants)

	again, created, err := f.svc.GetOrCreateDirect(ctx, "c", "a:b")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestGetOrCreateDirect_RejectsForeignConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, f.store.Conversations().Create(ctx, &model.Conversation{
		ID:           "foreign",
		Type:         model.ConversationDirect,
		Participants: []string{f.alice.ID, f.carol.ID},
		UniqueKey:    model.DirectKey(f.alice.ID, f.bob.ID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}))

	c, _, err := f.svc.GetOrCreateDirect(ctx, f.alice.ID, f.bob.ID)
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Equal(t, apperr.CodeInternal, apperr.As(err).Code)
}

func TestCreateConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, created, err := f.svc.CreateConversation(ctx, f.alice.ID, CreateConversationRequest{
		Type:         model.ConversationGroup,
		Name:         "  Design  ",
		Participants: []string{f.bob.ID, f.bob.ID, f.alice.ID, f.carol.ID},
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Design", *g.Name)
	assert.Equal(t, []string{f.alice.ID, f.bob.ID, f.carol.ID}, g.Participants)

	_, _, err = f.svc.CreateConversation(ctx, f.alice.ID, CreateConversationRequest{Type: model.ConversationGroup})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, _, err = f.svc.CreateConversation(ctx, f.alice.ID, CreateConversationRequest{
		Type:         model.ConversationDirect,
		Participants: []string{f.bob.ID, f.carol.ID},
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	ai, created, err := f.svc.CreateConversation(ctx, f.alice.ID, CreateConversationRequest{Type: model.ConversationAI})
	require.NoError(t, err)
	assert.True(t, created)
	again, created, err := f.svc.CreateConversation(ctx, f.alice.ID, CreateConversationRequest{Type: model.ConversationAI})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ai.ID, again.ID)
	assert.Equal(t, model.AIWelcome, *again.LastMessage)

	_, _, err = f.svc.CreateConversation(ctx, f.alice.ID, CreateConversationRequest{Type: "channel"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestListForUser_ResolvesParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	direct := f.direct(t)
	ai, _, err := f.svc.GetOrCreateAI(ctx, f.alice.ID)
	require.NoError(t, err)
	f.post(t, direct.ID, f.bob.ID, "ping")

	list, err := f.svc.ListForUser(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, direct.ID, list[0].ID)
	require.Len(t, list[0].ParticipantsData, 1)
	assert.Equal(t, f.bob.ID, list[0].ParticipantsData[0].ID)
	assert.Equal(t, "ping", *list[0].LastMessage)

	assert.Equal(t, ai.ID, list[1].ID)
	require.Len(t, list[1].ParticipantsData, 1)
	assert.Equal(t, model.AIUserID, list[1].ParticipantsData[0].ID)
}

func TestPostMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t)

	m := f.post(t, conv.ID, f.alice.ID, "hello")
	assert.Equal(t, "Alice", m.SenderName)
	assert.Equal(t, []string{f.alice.ID}, m.ReadBy)
	assert.Equal(t, model.KindText, m.Kind)

	events := f.pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, conv.ID, events[0].room)
	assert.Equal(t, event.NewMessage, events[0].ev.Type)

	_, err := f.svc.PostMessage(ctx, f.carol.ID, PostMessageRequest{ConversationID: conv.ID, Content: "sneaky"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.PostMessage(ctx, f.alice.ID, PostMessageRequest{ConversationID: conv.ID})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.PostMessage(ctx, f.alice.ID, PostMessageRequest{ConversationID: "missing", Content: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.PostMessage(ctx, f.alice.ID, PostMessageRequest{ConversationID: conv.ID, Content: "x", Kind: "sticker"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPostMessage_AttachmentPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t)

	_, err := f.svc.PostMessage(ctx, f.alice.ID, PostMessageRequest{
		ConversationID: conv.ID,
		Kind:           model.KindImage,
		Attachments:    []model.Attachment{{URL: "/api/files/a.png", Type: "image/png", Name: "a.png"}},
	})
	require.NoError(t, err)

	got, err := f.store.Conversations().GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sent an image", *got.LastMessage)
}

func TestPostMessage_TimestampsIncrease(t *testing.T) {
	f := newFixture(t)
	conv := f.direct(t)
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }

	a := f.post(t, conv.ID, f.alice.ID, "one")
	b := f.post(t, conv.ID, f.bob.ID, "two")
	assert.True(t, b.Timestamp.After(a.Timestamp))
}

func TestPostMessage_NotifiesOfflineParticipants(t *testing.T) {
	f := newFixture(t)
	notifier := &fakeNotifier{ch: make(chan notification, 4)}
	f.svc.SetNotifier(notifier)
	f.svc.SetPresence(onlineSet{f.bob.ID: true})

	g, err := f.svc.CreateGroup(context.Background(), f.alice.ID, "team", []string{f.bob.ID, f.carol.ID})
	require.NoError(t, err)
	f.post(t, g.ID, f.alice.ID, strings.Repeat("я", 300))

	select {
	case n := <-notifier.ch:
		assert.Equal(t, f.carol.ID, n.user)
		assert.Equal(t, "Alice", n.title)
		assert.Equal(t, pushBodyMax, len([]rune(n.body)))
	case <-time.After(2 * time.Second):
		t.Fatal("no push notification")
	}
	select {
	case n := <-notifier.ch:
		t.Fatalf("unexpected notification for %s", n.user)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPostMessage_TriggersAI(t *testing.T) {
	f := newFixture(t)
	replier := &fakeReplier{}
	f.svc.SetReplier(replier)
	ai, _, err := f.svc.GetOrCreateAI(context.Background(), f.alice.ID)
	require.NoError(t, err)

	f.post(t, ai.ID, f.alice.ID, "How many leave days do I have?")
	f.post(t, f.direct(t).ID, f.alice.ID, "not for the bot")
	assert.Equal(t, []string{"How many leave days do I have?"}, replier.prompts)

	reply, err := f.svc.PostAIReply(context.Background(), ai.ID, "You have 12 days.")
	require.NoError(t, err)
	assert.Equal(t, model.AIUserID, reply.SenderID)
	require.NotNil(t, reply.Metadata)
	assert.True(t, reply.Metadata.AI.IsAI)
}

func TestListMessages_MarksRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t)
	for i := 0; i < 5; i++ {
		f.post(t, conv.ID, f.alice.ID, "msg")
	}

	got, err := f.svc.ListMessages(ctx, conv.ID, f.bob.ID, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, m := range got {
		assert.True(t, m.IsReadBy(f.bob.ID))
	}
	stored, err := f.store.Messages().ListRecent(ctx, conv.ID, 5)
	require.NoError(t, err)
	for _, m := range stored {
		assert.True(t, m.IsReadBy(f.bob.ID))
	}

	_, err = f.svc.ListMessages(ctx, conv.ID, f.carol.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

// racingMessages коммитит сообщение сразу после выборки страницы.
type racingMessages struct {
	repository.Messages
	afterList func()
}

func (r *racingMessages) ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	msgs, err := r.Messages.ListRecent(ctx, conversationID, limit)
	if r.afterList != nil {
		r.afterList()
		r.afterList = nil
	}
	return msgs, err
}

func TestListMessages_LeavesUnseenMessagesUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t)
	seen := f.post(t, conv.ID, f.alice.ID, "seen")

	racing := &racingMessages{Messages: f.store.Messages()}
	svc := NewService(f.store.Conversations(), racing, f.store.Users(), f.pub)
	var unseen *model.Message
	racing.afterList = func() { unseen = f.post(t, conv.ID, f.alice.ID, "unseen") }

	got, err := svc.ListMessages(ctx, conv.ID, f.bob.ID, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, seen.ID, got[0].ID)

	stored, err := f.store.Messages().GetByID(ctx, seen.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsReadBy(f.bob.ID))

	require.NotNil(t, unseen)
	stored, err = f.store.Messages().GetByID(ctx, unseen.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsReadBy(f.bob.ID))
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t)
	m := f.post(t, conv.ID, f.alice.ID, "oops")

	_, err := f.svc.DeleteMessage(ctx, m.ID, f.bob.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	deleted, err := f.svc.DeleteMessage(ctx, m.ID, f.alice.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	events := f.pub.all()
	last := events[len(events)-1]
	assert.Equal(t, conv.ID, last.room)
	assert.Equal(t, event.MessageDeleted, last.ev.Type)

	list, err := f.svc.ListMessages(ctx, conv.ID, f.alice.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.svc.DeleteMessage(ctx, "missing", f.alice.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestVote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.svc.CreateGroup(ctx, f.alice.ID, "team", []string{f.bob.ID})
	require.NoError(t, err)
	poll, err := f.svc.PostMessage(ctx, f.alice.ID, PostMessageRequest{
		ConversationID: g.ID,
		Content:        "Offsite?",
		Kind:           model.KindPoll,
		Metadata:       json.RawMessage(`{"question":"Offsite?","options":[{"text":"Yes"},{"text":"No"}]}`),
	})
	require.NoError(t, err)

	updated, err := f.svc.Vote(ctx, poll.ID, 1, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Metadata.Poll.VotesOf(f.bob.ID))

	events := f.pub.all()
	last := events[len(events)-1]
	assert.Equal(t, "", last.room)
	assert.Equal(t, event.MessageUpdate, last.ev.Type)

	_, err = f.svc.Vote(ctx, poll.ID, 5, f.bob.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Vote(ctx, poll.ID, 0, f.carol.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	text := f.post(t, g.ID, f.alice.ID, "plain")
	_, err = f.svc.Vote(ctx, text.ID, 0, f.bob.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Vote(ctx, "missing", 0, f.bob.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestListUsers_ExcludesCaller(t *testing.T) {
	f := newFixture(t)
	users, err := f.svc.ListUsers(context.Background(), f.alice.ID)
	require.NoError(t, err)
	assert.Len(t, users, 2)
	for _, u := range users {
		assert.NotEqual(t, f.alice.ID, u.ID)
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "hi", Preview(&model.Message{Content: "hi"}))
	assert.Equal(t, "Sent a voice message", Preview(&model.Message{Kind: model.KindAudio}))
	assert.Equal(t, "Sent a file", Preview(&model.Message{Kind: model.KindFile}))
	assert.Equal(t, "Sent an attachment", Preview(&model.Message{Kind: model.KindText, Attachments: []model.Attachment{{URL: "x"}}}))
}
