package ws

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/parley/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// Hub ties admission, the registry and the message pipeline together. It is
// the entry point the HTTP layer talks to.
type Hub struct {
	handshake *Handshake
	registry  *Registry
	pipeline  *Pipeline
	clientCfg ClientConfig

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewHub(handshake *Handshake, registry *Registry, pipeline *Pipeline, clientCfg ClientConfig, logger *zap.SugaredLogger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		handshake: handshake,
		registry:  registry,
		pipeline:  pipeline,
		clientCfg: clientCfg.withDefaults(),
		logger:    logger,
		metrics:   m,
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Admit runs the handshake and registers ch on success. A channel already
// registered for the same (user, chat) is replaced and closed.
func (h *Hub) Admit(ctx context.Context, creds Credentials, ch Channel) (*Session, error) {
	session, err := h.handshake.Admit(ctx, creds)
	if err != nil {
		h.metrics.HandshakeRejection(Reason(err))
		if errors.Is(err, ErrHandshakeUnavailable) {
			h.logger.Errorw("handshake failed", "user", creds.ClaimedUser, "chatId", creds.ChatID, "error", err)
		} else {
			h.logger.Infow("handshake rejected", "user", creds.ClaimedUser, "chatId", creds.ChatID, "reason", Reason(err))
		}
		return nil, err
	}

	if previous := h.registry.Register(session.User.ID, session.Chat.ID, ch); previous != nil && previous != ch {
		h.logger.Infow("replacing existing connection", "userId", session.User.ID, "chatId", session.Chat.ID)
		if c, ok := previous.(*Client); ok {
			_ = c.CloseWith(websocket.CloseNormalClosure, "replaced by a newer connection")
		} else {
			closeChannel(previous)
		}
	}

	h.logger.Infow("connection admitted", "sessionId", session.ID, "userId", session.User.ID, "chatId", session.Chat.ID)
	return session, nil
}

// Receive handles one inbound payload from an admitted session.
func (h *Hub) Receive(ctx context.Context, session *Session, raw []byte) error {
	_, err := h.pipeline.Handle(ctx, session, raw)
	if err != nil && !errors.Is(err, ErrInvalidContent) {
		h.logger.Warnw("message rejected", "sessionId", session.ID, "chatId", session.Chat.ID, "error", err)
	}
	return err
}

// Leave drops ch from the registry if it is still the registered channel
// for the session.
func (h *Hub) Leave(session *Session, ch Channel) {
	if h.registry.Release(session.User.ID, session.Chat.ID, ch) {
		h.logger.Infow("connection closed", "sessionId", session.ID, "userId", session.User.ID, "chatId", session.Chat.ID)
	}
}

// Serve owns an upgraded connection for its whole life: admission, the
// write pump, the read loop and teardown. It returns when the peer is gone.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, creds Credentials) {
	client := NewClient(conn, h.clientCfg, h.logger)

	session, err := h.Admit(ctx, creds, client)
	if err != nil {
		client.reject(CloseCode(err), CloseReason(err))
		return
	}

	go client.writePump()
	defer func() {
		h.Leave(session, client)
		_ = client.Close()
	}()

	client.readLoop(ctx, h, session)
}

// Shutdown closes every live connection.
func (h *Hub) Shutdown() {
	n := h.registry.CloseAll()
	h.logger.Infow("hub shut down", "closedConnections", n)
}
