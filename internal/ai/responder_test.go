package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/HasheemYodhin/ys/internal/event"
	"github.com/HasheemYodhin/ys/internal/model"
)

type generatorFunc func(ctx context.Context, prompt string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

type recorder struct {
	mu      sync.Mutex
	replies map[string][]string
	typing  []string
}

func (r *recorder) PostAIReply(_ context.Context, conv, text string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replies == nil {
		r.replies = map[string][]string{}
	}
	r.replies[conv] = append(r.replies[conv], text)
	return &model.Message{ConversationID: conv, Content: text}, nil
}

func (r *recorder) BroadcastToRoom(room string, ev event.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.Type == event.UserTyping && ev.Payload.(event.TypingPayload).UserID == model.AIUserID {
		r.typing = append(r.typing, room)
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.replies {
		n += len(v)
	}
	return n
}

func echo() Generator {
	return generatorFunc(func(_ context.Context, p string) (string, error) { return "re: " + p, nil })
}

func TestResponder_Replies(t *testing.T) {
	rec := &recorder{}
	r := NewResponder(echo(), rec, rec, Options{}, nil)

	r.Trigger("c1", "hello")
	r.Trigger("c2", "salary date?")
	require.NoError(t, r.Shutdown(context.Background()))

	assert.Equal(t, []string{"re: hello"}, rec.replies["c1"])
	assert.Equal(t, []string{"re: salary date?"}, rec.replies["c2"])
	assert.ElementsMatch(t, []string{"c1", "c2"}, rec.typing)
}

func TestResponder_TriggerDoesNotBlock(t *testing.T) {
	rec := &recorder{}
	release := make(chan struct{})
	gen := generatorFunc(func(ctx context.Context, _ string) (string, error) {
		<-release
		return "late", nil
	})
	r := NewResponder(gen, rec, rec, Options{ThinkDelay: 10 * time.Millisecond}, nil)

	start := time.Now()
	r.Trigger("c1", "x")
	assert.Less(t, time.Since(start), 10*time.Millisecond)
	assert.Zero(t, rec.count())

	close(release)
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, 1, rec.count())
}

func TestResponder_FailureMeansNoReply(t *testing.T) {
	rec := &recorder{}
	gen := generatorFunc(func(context.Context, string) (string, error) { return "", errors.New("boom") })
	r := NewResponder(gen, rec, rec, Options{}, nil)

	r.Trigger("c1", "x")
	r.Trigger("c1", "y")
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Zero(t, rec.count())

	panicky := NewResponder(generatorFunc(func(context.Context, string) (string, error) { panic("oops") }), rec, rec, Options{}, nil)
	panicky.Trigger("c1", "x")
	require.NoError(t, panicky.Shutdown(context.Background()))
	assert.Zero(t, rec.count())
}

func TestResponder_RateLimited(t *testing.T) {
	rec := &recorder{}
	r := NewResponder(echo(), rec, rec, Options{Limit: rate.Every(time.Hour), Burst: 1}, nil)
	for i := 0; i < 3; i++ {
		r.Trigger("c1", "x")
	}
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, 1, rec.count())
}

func TestResponder_ShutdownCancelsSlowTasks(t *testing.T) {
	rec := &recorder{}
	r := NewResponder(echo(), rec, rec, Options{ThinkDelay: time.Hour}, nil)
	r.Trigger("c1", "x")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Shutdown(ctx), context.DeadlineExceeded)
	assert.Zero(t, rec.count())

	r.Trigger("c1", "after shutdown")
	assert.Zero(t, rec.count())
}
