package rpc

import (
	"context"
	"errors"
	"io"

	"github.com/sourcegraph/jsonrpc2"
)

type HandlerFunc func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request)

func (h HandlerFunc) Handle(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) {
	h(ctx, c, r)
}

// Stream joins a reader and a writer into the single stream jsonrpc2
// expects, e.g. os.Stdin and os.Stdout.
type Stream struct {
	io.ReadCloser
	io.WriteCloser
}

func (s *Stream) Read(p []byte) (n int, err error) {
	return s.ReadCloser.Read(p)
}

func (s *Stream) Write(p []byte) (n int, err error) {
	return s.WriteCloser.Write(p)
}

// Close closes both halves, even when the first one fails.
func (s *Stream) Close() error {
	return errors.Join(s.ReadCloser.Close(), s.WriteCloser.Close())
}

// OrderedHandler runs notifications on the read loop, one at a time and in
// arrival order, and hands requests to their own goroutine. A request is read
// only once every notification sent before it has been handled.
func OrderedHandler(h jsonrpc2.Handler) jsonrpc2.Handler {
	return HandlerFunc(func(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) {
		if r.Notif {
			h.Handle(ctx, c, r)
			return
		}
		go h.Handle(ctx, c, r)
	})
}

// NewConn serves h over rwc using LSP header framing. Notifications are
// handled in order, requests concurrently.
func NewConn(ctx context.Context, rwc io.ReadWriteCloser, h jsonrpc2.Handler) *jsonrpc2.Conn {
	return jsonrpc2.NewConn(
		ctx,
		jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}),
		OrderedHandler(h),
	)
}
