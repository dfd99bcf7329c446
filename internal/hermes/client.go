package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectBlockCompleted is published by the experiment front end when a
	// subject finishes a block and its trials are logged.
	SubjectBlockCompleted = "lab.experiment.block.completed"
	// SubjectBlockScored carries the feedback report computed for a block.
	SubjectBlockScored = "lab.calibre.block.scored"
	// SubjectRegistered announces a calibre instance on startup.
	SubjectRegistered = "lab.agent.calibre.registered"
)

// BlockCompleted asks for a block of a session to be scored.
type BlockCompleted struct {
	SessionID string `json:"session_id"`
	Block     string `json:"block"`
}

// BlockScored is emitted once a block's feedback report has been stored.
type BlockScored struct {
	SessionID            string  `json:"session_id"`
	Block                string  `json:"block"`
	Trials               int     `json:"trials"`
	Accuracy             int     `json:"accuracy"`
	Calibration          int     `json:"calibration"`
	CalibrationAvailable bool    `json:"calibration_available"`
	Joint                float64 `json:"joint"`
	Message              string  `json:"message"`
	ScoredAt             string  `json:"scored_at"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("calibre"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Drain flushes pending messages and waits for in-flight handlers before
// closing the connection.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
