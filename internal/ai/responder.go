// Package ai: фоновые ответы ассистента в ai-беседах.
package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HasheemYodhin/ys/internal/event"
	"github.com/HasheemYodhin/ys/internal/logger"
	"github.com/HasheemYodhin/ys/internal/metrics"
	"github.com/HasheemYodhin/ys/internal/model"
	"golang.org/x/time/rate"
)

const (
	DefaultThinkDelay  = time.Second
	DefaultTypingDelay = 1500 * time.Millisecond

	taskTimeout = 90 * time.Second
)

// ReplyPoster сохраняет сообщение ассистента и рассылает его.
type ReplyPoster interface {
	PostAIReply(ctx context.Context, conversationID, text string) (*model.Message, error)
}

// RoomPublisher отправляет индикатор набора.
type RoomPublisher interface {
	BroadcastToRoom(room string, ev event.Envelope)
}

type Options struct {
	ThinkDelay  time.Duration
	TypingDelay time.Duration
	// Limit: не больше стольких вызовов генерации в секунду; 0 снимает ограничение.
	Limit rate.Limit
	Burst int
}

// Responder запускает по одной отвязанной задаче на сообщение. Результат задачи
// запросу, который её породил, не возвращается.
type Responder struct {
	gen     Generator
	poster  ReplyPoster
	pub     RoomPublisher
	opts    Options
	limiter *rate.Limiter
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewResponder(gen Generator, poster ReplyPoster, pub RoomPublisher, opts Options, m *metrics.Metrics) *Responder {
	if opts.ThinkDelay < 0 {
		opts.ThinkDelay = 0
	}
	if opts.TypingDelay < 0 {
		opts.TypingDelay = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Responder{
		gen:     gen,
		poster:  poster,
		pub:     pub,
		opts:    opts,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
	if opts.Limit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(opts.Limit, burst)
	}
	return r
}

// Trigger ставит ответ на prompt в беседе conversationID и сразу возвращается.
func (r *Responder) Trigger(conversationID, prompt string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		logger.Debugf("ai: responder stopped, dropping trigger conv=%s", conversationID)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorf("ai: reply task panic conv=%s: %v", conversationID, rec)
				r.metrics.AIReply("panic")
			}
		}()
		result := "ok"
		if err := r.reply(conversationID, prompt); err != nil {
			result = "error"
			if errors.Is(err, ErrUnavailable) {
				result = "unavailable"
			}
			logger.Errorf("ai: reply conv=%s: %v", conversationID, err)
		}
		r.metrics.AIReply(result)
	}()
}

func (r *Responder) reply(conversationID, prompt string) error {
	ctx, cancel := context.WithTimeout(r.ctx, taskTimeout)
	defer cancel()

	if err := sleep(ctx, r.opts.ThinkDelay); err != nil {
		return err
	}
	r.pub.BroadcastToRoom(conversationID, event.Envelope{Type: event.UserTyping, Payload: event.TypingPayload{
		UserID:         model.AIUserID,
		UserName:       model.AIName,
		ConversationID: conversationID,
	}})
	if err := sleep(ctx, r.opts.TypingDelay); err != nil {
		return err
	}
	if r.limiter != nil && !r.limiter.Allow() {
		return errors.New("generation rate limit exceeded")
	}
	text, err := r.gen.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if _, err := r.poster.PostAIReply(ctx, conversationID, text); err != nil {
		return fmt.Errorf("post reply: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown перестаёт принимать задачи и ждёт текущие. Если ctx истёк раньше,
// оставшиеся задачи отменяются.
func (r *Responder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
