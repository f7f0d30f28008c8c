// internal/queue/nats.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/weftlabs/loom/internal/config"
	"github.com/weftlabs/loom/internal/models"
	"github.com/weftlabs/loom/internal/telemetry"
)

// Client wraps the NATS connection used to fan execution requests out to
// runners. Runners subscribe in a queue group, so each request is delivered
// to exactly one of them.
type Client struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	config config.NATSConfig
}

func NewClient(cfg config.NATSConfig) (*Client, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("loom"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{
		conn:   conn,
		config: cfg,
	}, nil
}

// PublishExecution enqueues one execution request. The flush round trip
// confirms the server received it before we report success to the caller.
func (c *Client) PublishExecution(ctx context.Context, req *models.ExecutionRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal execution request: %w", err)
	}

	if err := c.conn.Publish(c.config.Subject, data); err != nil {
		return fmt.Errorf("failed to publish execution request: %w", err)
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush execution request: %w", err)
	}

	telemetry.EnqueuedTotal.Inc()
	return nil
}

// ConsumeExecutions subscribes this process to the execution subject as a
// queue group member and returns the delivery channel.
func (c *Client) ConsumeExecutions(ctx context.Context) (<-chan *nats.Msg, error) {
	ch := make(chan *nats.Msg, 64)
	sub, err := c.conn.ChanQueueSubscribe(c.config.Subject, c.config.QueueGroup, ch)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", c.config.Subject, err)
	}

	c.sub = sub
	return ch, nil
}

// Connected reports whether the NATS connection is currently up.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Close drains in-flight messages and closes the connection.
func (c *Client) Close() error {
	return c.conn.Drain()
}
