// internal/bus/nats.go
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// HandlerTimeout bounds the context handed to subscription handlers.
const HandlerTimeout = 30 * time.Second

type Client struct{ nc *nats.Conn }

func Connect(url string, opts ...nats.Option) (*Client, error) {
	base := []nats.Option{
		nats.Name("simple-production"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
	}
	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

// NewClient wraps an existing connection.
func NewClient(nc *nats.Conn) *Client { return &Client{nc: nc} }

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

func (c *Client) SubscribeJSON(subject string, handler func(ctx context.Context, data []byte)) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), HandlerTimeout)
		defer cancel()
		handler(ctx, msg.Data)
	})
}

// QueueSubscribeJSON delivers each message to one member of the queue group.
func (c *Client) QueueSubscribeJSON(subject, queue string, handler func(ctx context.Context, data []byte)) (*nats.Subscription, error) {
	return c.nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), HandlerTimeout)
		defer cancel()
		handler(ctx, msg.Data)
	})
}

// ErrNoResponders is returned by RequestJSON when nobody serves the subject.
var ErrNoResponders = errors.New("no responders")

// RequestJSON sends req and decodes the reply into resp. The deadline comes
// from ctx.
func (c *Client) RequestJSON(ctx context.Context, subject string, req, resp any) error {
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	msg, err := c.nc.RequestWithContext(ctx, subject, b)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("%s: %w", subject, ErrNoResponders)
		}
		return err
	}
	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("decode reply from %s: %w", subject, err)
	}
	return nil
}

// ReplyJSON answers a request message.
func ReplyJSON(msg *nats.Msg, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return msg.Respond(b)
}

// ServeJSON answers requests on subject with the handler's reply. Handlers
// in the same queue group share the load.
func (c *Client) ServeJSON(subject, queue string, handler func(ctx context.Context, data []byte) any) (*nats.Subscription, error) {
	return c.nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), HandlerTimeout)
		defer cancel()
		_ = ReplyJSON(msg, handler(ctx, msg.Data))
	})
}
