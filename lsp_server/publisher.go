package lsp_server

import (
	"context"
	"errors"

	"github.com/checkerls/checkerls/server/wire"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// DiagnosticSource is reported as the source of every published diagnostic.
const DiagnosticSource = "checker-framework"

var errNotConnected = errors.New("client is not connected")

// Publish sends the full diagnostic set of u to the client, replacing the
// previously published one.
func (s *LspServer) Publish(ctx context.Context, u uri.URI, diags []wire.Diagnostic) error {
	conn := s.getConn()
	if conn == nil {
		return errNotConnected
	}

	return conn.Notify(ctx, lsp.MethodTextDocumentPublishDiagnostics, lsp.PublishDiagnosticsParams{
		URI:         u,
		Diagnostics: toProtocolDiagnostics(diags),
	})
}

// toProtocolDiagnostics never returns nil, clients read a missing array as
// "no change" rather than "no diagnostics".
func toProtocolDiagnostics(diags []wire.Diagnostic) []lsp.Diagnostic {
	result := make([]lsp.Diagnostic, 0, len(diags))
	for _, d := range diags {
		diag := lsp.Diagnostic{
			Range:    d.Range.ToProtocol(),
			Severity: d.Severity.ToProtocol(),
			Source:   DiagnosticSource,
			Message:  d.Message,
		}
		if len(d.Code) != 0 {
			diag.Code = d.Code
		}
		result = append(result, diag)
	}
	return result
}
