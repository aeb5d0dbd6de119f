//go:generate go run go.uber.org/mock/mockgen -source=pipeline.go -destination=mocks/mock_pipeline.go -package=mocks
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/metrics"
	"github.com/hilthontt/parley/internal/infrastructure/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultMaxContentLength = 32 * 1024
	publishTimeout          = 5 * time.Second
)

// EventPublisher forwards broadcast messages to systems outside the
// process. Failures never affect delivery.
type EventPublisher interface {
	Publish(ctx context.Context, event MessageEvent) error
}

type Pipeline struct {
	store     MembershipStore
	registry  *Registry
	publisher EventPublisher
	maxLen    int

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	// Per-chat locks keep persist order and broadcast order identical.
	// An entry lives only while some Handle call holds or waits on it.
	locksMu sync.Mutex
	locks   map[domain.ChatID]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

type PipelineOption func(*Pipeline)

func WithPublisher(p EventPublisher) PipelineOption {
	return func(pl *Pipeline) { pl.publisher = p }
}

func WithMaxContentLength(n int) PipelineOption {
	return func(pl *Pipeline) {
		if n > 0 {
			pl.maxLen = n
		}
	}
}

func NewPipeline(store MembershipStore, registry *Registry, logger *zap.SugaredLogger, m *metrics.Metrics, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	p := &Pipeline{
		store:    store,
		registry: registry,
		maxLen:   DefaultMaxContentLength,
		logger:   logger,
		metrics:  m,
		tracer:   tracing.GetTracer("parley/ws"),
		locks:    make(map[domain.ChatID]*chatLock),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) lockChat(chatID domain.ChatID) *chatLock {
	p.locksMu.Lock()
	l, ok := p.locks[chatID]
	if !ok {
		l = &chatLock{}
		p.locks[chatID] = l
	}
	l.refs++
	p.locksMu.Unlock()

	l.mu.Lock()
	return l
}

func (p *Pipeline) unlockChat(chatID domain.ChatID, l *chatLock) {
	l.mu.Unlock()

	p.locksMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(p.locks, chatID)
	}
	p.locksMu.Unlock()
}

// Handle persists raw as a message from the session's user, then broadcasts
// it to the chat. Nothing is broadcast unless the message was stored.
func (p *Pipeline) Handle(ctx context.Context, session *Session, raw []byte) (*MessageEvent, error) {
	ctx, span := p.tracer.Start(ctx, "ws.pipeline",
		trace.WithAttributes(
			attribute.Int64("chat.id", int64(session.Chat.ID)),
			attribute.Int64("user.id", int64(session.User.ID)),
		))
	defer span.End()

	content := string(raw)
	if err := p.validate(content); err != nil {
		span.SetStatus(codes.Error, "invalid content")
		return nil, err
	}

	lock := p.lockChat(session.Chat.ID)
	defer p.unlockChat(session.Chat.ID, lock)

	msg, err := p.store.PersistMessage(ctx, session.User.ID, session.Chat.ID, content)
	if err != nil {
		p.metrics.PersistFailed()
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	p.metrics.MessagePersisted()

	event := NewMessageEvent(msg, session.User.Username)
	payload, err := json.Marshal(event)
	if err != nil {
		// The message is stored; history will still serve it.
		return nil, fmt.Errorf("encode message %d: %w", msg.ID, err)
	}

	delivered := p.registry.Broadcast(session.Chat.ID, payload)
	span.SetAttributes(attribute.Int("ws.delivered", delivered))

	p.publish(ctx, event)

	return &event, nil
}

func (p *Pipeline) validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidContent)
	}
	if len(content) > p.maxLen {
		return fmt.Errorf("%w: message exceeds %d bytes", ErrInvalidContent, p.maxLen)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("%w: message is not valid UTF-8", ErrInvalidContent)
	}
	return nil
}

func (p *Pipeline) publish(ctx context.Context, event MessageEvent) {
	if p.publisher == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		if err := p.publisher.Publish(ctx, event); err != nil {
			p.logger.Warnw("failed to publish message event",
				"messageId", event.ID, "chatId", event.ChatID, "error", err)
		}
	}()
}
