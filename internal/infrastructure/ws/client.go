package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/parley/internal/infrastructure/configs"
	"go.uber.org/zap"
)

// frameHeadroom is how far the transport read limit sits above
// MaxMessageSize, so content slightly over the cap reaches the pipeline and
// is answered with an error event instead of a 1009 close.
const frameHeadroom = 4 * 1024

type ClientConfig struct {
	SendQueueSize  int
	MaxMessageSize int64
	// ReadLimit caps a single inbound frame. Frames above it close the
	// connection with 1009.
	ReadLimit  int64
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

func NewClientConfig(cfg configs.WSConfig) ClientConfig {
	c := ClientConfig{
		SendQueueSize:  cfg.SendQueueSize,
		MaxMessageSize: cfg.MaxMessageSize,
		ReadLimit:      cfg.ReadLimit,
		WriteWait:      cfg.WriteWait,
		PongWait:       cfg.PongWait,
		PingPeriod:     cfg.PingPeriod,
	}
	return c.withDefaults()
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 64
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxContentLength
	}
	if c.ReadLimit <= c.MaxMessageSize {
		c.ReadLimit = 2*c.MaxMessageSize + frameHeadroom
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	return c
}

// Client is the gorilla-backed Channel. Outbound payloads go through a
// bounded queue drained by writePump; inbound frames are read by readLoop.
type Client struct {
	ID     string
	conn   *connWrapper
	send   chan []byte
	cfg    ClientConfig
	logger *zap.SugaredLogger

	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string
}

func NewClient(conn *websocket.Conn, cfg ClientConfig, logger *zap.SugaredLogger) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		ID:        uuid.NewString(),
		conn:      newConnWrapper(conn),
		send:      make(chan []byte, cfg.SendQueueSize), // buffered to avoid dead-locks on slow clients
		cfg:       cfg,
		logger:    logger,
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

// Send enqueues payload without blocking. A full queue or a closed client
// fails with ErrDeliveryFailed.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrDeliveryFailed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return ErrDeliveryFailed
	}
}

func (c *Client) Close() error {
	return c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith stops the client. The write pump sends the close frame.
func (c *Client) CloseWith(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = reason
		close(c.done)
	})
	return nil
}

// reject closes a connection that never got admitted.
func (c *Client) reject(code int, reason string) {
	_ = c.CloseWith(code, reason)
	_ = c.conn.WriteClose(code, reason, c.cfg.WriteWait)
	_ = c.conn.Close()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			if err := c.conn.WriteText(payload, c.cfg.WriteWait); err != nil {
				c.logger.Debugw("ws write failed", "clientId", c.ID, "error", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WritePing(c.cfg.WriteWait); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteClose(c.closeCode, c.closeText, c.cfg.WriteWait)
			return
		}
	}
}

type receiver interface {
	Receive(ctx context.Context, session *Session, raw []byte) error
}

// readLoop processes inbound frames one at a time until the peer goes away.
func (c *Client) readLoop(ctx context.Context, r receiver, session *Session) {
	conn := c.conn.conn
	conn.SetReadLimit(c.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Infow("ws read error", "clientId", c.ID, "sessionId", session.ID, "error", err)
			}
			return
		}

		if msgType != websocket.TextMessage {
			c.sendError(NewError(CodeUnsupportedFrame, "only text frames are accepted", false))
			continue
		}

		err = r.Receive(ctx, session, raw)
		switch {
		case err == nil:
		case errors.Is(err, ErrInvalidContent):
			c.sendError(NewError(CodeInvalidContent, err.Error(), false))
		case errors.Is(err, ErrPersistence):
			c.sendError(NewError(CodePersistence, "message was not saved, try again", true))
		default:
			c.logger.Errorw("ws message handling failed", "sessionId", session.ID, "error", err)
		}
	}
}

func (c *Client) sendError(payload ErrorPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := c.Send(data); err != nil {
		c.logger.Debugw("could not deliver error event", "clientId", c.ID, "error", err)
	}
}
