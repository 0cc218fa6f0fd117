package lsp_server

import (
	"context"
	"strings"

	lsp "go.lsp.dev/protocol"
)

// clientLogWriter forwards log output to the client as window/logMessage.
// Output written while no client is connected is dropped.
type clientLogWriter struct {
	server *LspServer
}

func (w *clientLogWriter) Write(p []byte) (int, error) {
	conn := w.server.getConn()
	if conn == nil {
		return len(p), nil
	}

	message := strings.TrimRight(string(p), "\n")
	if len(message) == 0 {
		return len(p), nil
	}

	// a failed notification must not fail the other log sinks
	_ = conn.Notify(context.Background(), lsp.MethodWindowLogMessage, lsp.LogMessageParams{
		Type:    lsp.MessageTypeLog,
		Message: message,
	})
	return len(p), nil
}
