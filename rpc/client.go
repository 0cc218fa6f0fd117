package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
)

// Notification is a server-to-client message received by Client.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Unmarshal decodes the params of n into v.
func (n Notification) Unmarshal(v any) error {
	return json.Unmarshal(n.Params, v)
}

// Client is a minimal editor-side peer. It queues the notifications sent by
// the server in arrival order so tests can wait for them.
type Client struct {
	*jsonrpc2.Conn

	mu      sync.Mutex
	pending []Notification
	signal  chan struct{}
}

func NewClient(ctx context.Context, rwc io.ReadWriteCloser) *Client {
	c := &Client{signal: make(chan struct{}, 1)}
	// not async: notifications must be queued in the order they were sent
	c.Conn = jsonrpc2.NewConn(
		ctx,
		jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}),
		c,
	)
	return c
}

func (c *Client) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if !req.Notif {
		conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: "client does not handle " + req.Method,
		})
		return
	}

	n := Notification{Method: req.Method}
	if req.Params != nil {
		n.Params = append(json.RawMessage(nil), *req.Params...)
	}

	c.mu.Lock()
	c.pending = append(c.pending, n)
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *Client) Call(method string, payload any, result any) error {
	return c.Conn.Call(context.Background(), method, payload, result)
}

func (c *Client) Notify(method string, payload any) error {
	return c.Conn.Notify(context.Background(), method, payload)
}

// Await returns the next notification with the given method. Notifications
// received before it are discarded.
func (c *Client) Await(ctx context.Context, method string) (Notification, error) {
	for {
		if n, ok := c.next(method); ok {
			return n, nil
		}

		select {
		case <-c.signal:
		case <-ctx.Done():
			return Notification{}, fmt.Errorf("waiting for %s: %w", method, ctx.Err())
		}
	}
}

func (c *Client) next(method string) (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, n := range c.pending {
		if n.Method == method {
			c.pending = c.pending[i+1:]
			return n, true
		}
	}

	c.pending = nil
	return Notification{}, false
}
