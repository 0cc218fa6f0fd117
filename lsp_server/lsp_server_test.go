package lsp_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/checkerls/checkerls/server/config"
	"github.com/checkerls/checkerls/server/logger"
	"github.com/checkerls/checkerls/server/rpc"
	"github.com/checkerls/checkerls/server/wire"
	"github.com/checkerls/checkerls/server/worker"
	"github.com/sourcegraph/jsonrpc2"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

type fakeWorker struct {
	mu        sync.Mutex
	submitted [][]string
	commands  []config.WorkerCommand
	stopped   bool
	submitErr error
}

func (w *fakeWorker) Submit(files []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitErr != nil {
		return w.submitErr
	}
	w.submitted = append(w.submitted, append([]string(nil), files...))
	return nil
}

func (w *fakeWorker) Start(ctx context.Context, cmd config.WorkerCommand) error {
	return w.Replace(ctx, cmd)
}

func (w *fakeWorker) Replace(ctx context.Context, cmd config.WorkerCommand) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commands = append(w.commands, cmd)
	w.stopped = false
	return nil
}

func (w *fakeWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	return nil
}

func (w *fakeWorker) submissions() [][]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]string(nil), w.submitted...)
}

func (w *fakeWorker) lastCommand() (config.WorkerCommand, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.commands) == 0 {
		return config.WorkerCommand{}, 0
	}
	return w.commands[len(w.commands)-1], len(w.commands)
}

func (w *fakeWorker) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

func testSettings() config.Settings {
	return config.Default().Merge(config.Settings{
		FrameworkPath: "/opt/checker-framework",
		Checkers:      []string{"nullness"},
	})
}

type runResult struct {
	code int
	err  error
}

type harness struct {
	srv     *LspServer
	client  *rpc.Client
	worker  *fakeWorker
	batches chan wire.Batch
	result  chan runResult
}

func Setup(t *testing.T, configure ...func(*Options)) *harness {
	t.Helper()

	h := &harness{
		worker:  &fakeWorker{},
		batches: make(chan wire.Batch, 4),
		result:  make(chan runResult, 1),
	}

	opts := Options{
		Settings: testSettings(),
		Worker:   h.worker,
		Batches:  h.batches,
		Version:  "1.0",
	}
	for _, fn := range configure {
		fn(&opts)
	}

	serverConn, clientConn := net.Pipe()
	h.srv = NewServer(opts)

	go func() {
		code, err := h.srv.Run(context.Background(), serverConn)
		h.result <- runResult{code: code, err: err}
	}()

	h.client = rpc.NewClient(context.Background(), clientConn)
	t.Cleanup(func() { h.client.Close() })
	return h
}

func initialize(client *rpc.Client) (lsp.InitializeResult, error) {
	var result lsp.InitializeResult
	err := client.Call(lsp.MethodInitialize, nil, &result)
	if err == nil {
		client.Notify(lsp.MethodInitialized, nil)
	}
	return result, err
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func await(t *testing.T, client *rpc.Client, method string, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := client.Await(ctx, method)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Unmarshal(v); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) open(t *testing.T, u uri.URI) {
	t.Helper()
	before := len(h.worker.submissions())

	err := h.client.Notify(lsp.MethodTextDocumentDidOpen, lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{
			URI:        u,
			LanguageID: "java",
			Text:       "class Main {}",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, "check request", func() bool {
		return len(h.worker.submissions()) > before
	})
}

func (h *harness) send(t *testing.T, line string) {
	t.Helper()
	batch, err := wire.DecodeLine([]byte(line))
	if err != nil {
		t.Fatal(err)
	}
	h.batches <- batch
}

const mainURI = uri.URI("file:///src/Main.java")

const mainBatch = `{"diags":[` +
	`{"source":"/src/Main.java","kind":"ERROR","position":100,"startPosition":100,"endPosition":101,"lineNumber":11,"columnNumber":8,"code":"dereference.of.nullable","message":"dereference of possibly-null reference"},` +
	`{"source":"/src/Main.java","kind":"NOTE","position":-1,"startPosition":-1,"endPosition":-1,"lineNumber":3,"columnNumber":5,"message":"[lsp.type.information] checker=nullness;kind=USED_TYPE;type=@NonNull String;range=(2, 4, 2, 9)"}` +
	`]}`

func TestInitialize(t *testing.T) {
	h := Setup(t)

	result, err := initialize(h.client)
	if err != nil {
		t.Fatal(err)
	}

	if result.ServerInfo == nil || result.ServerInfo.Name != "checkerls" {
		t.Errorf("Expected %v, got %v", "checkerls", result.ServerInfo)
	}

	if result.ServerInfo.Version != "1.0" {
		t.Errorf("Expected %v, got %v", "1.0", result.ServerInfo.Version)
	}

	if hover, ok := result.Capabilities.HoverProvider.(bool); !ok || !hover {
		t.Errorf("Expected hover provider, got %v", result.Capabilities.HoverProvider)
	}

	tdSync, ok := result.Capabilities.TextDocumentSync.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected sync options, got %v", result.Capabilities.TextDocumentSync)
	}

	if change := lsp.TextDocumentSyncKind(tdSync["change"].(float64)); change != lsp.TextDocumentSyncKindFull {
		t.Errorf("Expected %v, got %v", lsp.TextDocumentSyncKindFull, change)
	}

	if tdSync["openClose"] != true {
		t.Errorf("Expected openClose, got %v", tdSync["openClose"])
	}

	if _, ok := tdSync["save"]; !ok {
		t.Error("Expected save notifications to be requested")
	}
}

func TestRun_StartsWorker(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	cmd, count := h.worker.lastCommand()
	if count != 1 {
		t.Fatalf("Expected %v, got %v", 1, count)
	}

	if !strings.Contains(cmd.String(), "org.checkerframework.checker.nullness.NullnessChecker") {
		t.Errorf("Expected nullness processor, got %s", cmd)
	}
}

func TestRun_InvalidSettings(t *testing.T) {
	srv := NewServer(Options{Settings: config.Default(), Worker: &fakeWorker{}})

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	code, err := srv.Run(context.Background(), serverConn)
	if err == nil {
		t.Fatal("Expected an error")
	}

	if code != 1 {
		t.Errorf("Expected %v, got %v", 1, code)
	}
}

func TestShutdown(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	var result interface{}
	if err := h.client.Call(lsp.MethodShutdown, nil, &result); err != nil {
		t.Fatal(err)
	}

	if result != nil {
		t.Errorf("Expected nil, got %v", result)
	}

	if !h.worker.isStopped() {
		t.Error("Expected worker to be stopped")
	}
}

func TestExit(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	var result interface{}
	if err := h.client.Call(lsp.MethodShutdown, nil, &result); err != nil {
		t.Fatal(err)
	}

	if err := h.client.Notify(lsp.MethodExit, nil); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-h.result:
		if res.err != nil {
			t.Fatal(res.err)
		}
		if res.code != 0 {
			t.Errorf("Expected 0, got %v", res.code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit")
	}
}

func TestExit_WithoutShutdown(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	if err := h.client.Notify(lsp.MethodExit, nil); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-h.result:
		if res.code != 1 {
			t.Errorf("Expected 1, got %v", res.code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit")
	}
}

func TestMethodTextDocumentDidOpen(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	h.open(t, mainURI)

	submissions := h.worker.submissions()
	if len(submissions) != 1 || len(submissions[0]) != 1 || submissions[0][0] != "/src/Main.java" {
		t.Errorf("Expected %v, got %v", [][]string{{"/src/Main.java"}}, submissions)
	}

	if _, ok := h.srv.Sessions().Get(mainURI); !ok {
		t.Error("Expected document to be opened")
	}
}

func TestMethodTextDocumentDidOpen_NotAFile(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	err := h.client.Notify(lsp.MethodTextDocumentDidOpen, lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{
			URI:  "untitled:Untitled-1",
			Text: "class Scratch {}",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, "session", func() bool {
		_, ok := h.srv.Sessions().Get("untitled:Untitled-1")
		return ok
	})

	if submissions := h.worker.submissions(); len(submissions) != 0 {
		t.Errorf("Expected no check requests, got %v", submissions)
	}
}

func TestMethodTextDocumentDidOpen_NoPayload(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	h.client.Notify(lsp.MethodTextDocumentDidOpen, nil)

	// the connection must survive a malformed notification
	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}
}

func TestMethodTextDocumentDidOpen_SubmitError(t *testing.T) {
	h := Setup(t)
	h.worker.submitErr = fmt.Errorf("%w: worker exited", worker.ErrWorkerStream)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	err := h.client.Notify(lsp.MethodTextDocumentDidOpen, lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{URI: mainURI},
	})
	if err != nil {
		t.Fatal(err)
	}

	var params lsp.ShowMessageParams
	await(t, h.client, lsp.MethodWindowShowMessage, &params)

	if params.Type != lsp.MessageTypeError {
		t.Errorf("Expected %v, got %v", lsp.MessageTypeError, params.Type)
	}

	if !strings.Contains(params.Message, "worker exited") {
		t.Errorf("Expected the worker error, got %q", params.Message)
	}
}

func TestPublishDiagnostics(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	h.open(t, mainURI)
	h.send(t, mainBatch)

	var params lsp.PublishDiagnosticsParams
	await(t, h.client, lsp.MethodTextDocumentPublishDiagnostics, &params)

	if params.URI != mainURI {
		t.Errorf("Expected %v, got %v", mainURI, params.URI)
	}

	if len(params.Diagnostics) != 1 {
		t.Fatalf("Expected %v, got %v", 1, len(params.Diagnostics))
	}

	diag := params.Diagnostics[0]
	if diag.Source != DiagnosticSource {
		t.Errorf("Expected %v, got %v", DiagnosticSource, diag.Source)
	}

	if diag.Severity != lsp.DiagnosticSeverityError {
		t.Errorf("Expected %v, got %v", lsp.DiagnosticSeverityError, diag.Severity)
	}

	expRange := lsp.Range{
		Start: lsp.Position{Line: 10, Character: 7},
		End:   lsp.Position{Line: 10, Character: 8},
	}
	if diag.Range != expRange {
		t.Errorf("Expected %v, got %v", expRange, diag.Range)
	}

	if diag.Code != "dereference.of.nullable" {
		t.Errorf("Expected %v, got %v", "dereference.of.nullable", diag.Code)
	}
}

func TestMethodTextDocumentHover(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	h.open(t, mainURI)
	h.send(t, mainBatch)

	var published lsp.PublishDiagnosticsParams
	await(t, h.client, lsp.MethodTextDocumentPublishDiagnostics, &published)

	hoverAt := func(line, character uint32) *lsp.Hover {
		var result *lsp.Hover
		err := h.client.Call(lsp.MethodTextDocumentHover, lsp.HoverParams{
			TextDocumentPositionParams: lsp.TextDocumentPositionParams{
				TextDocument: lsp.TextDocumentIdentifier{URI: mainURI},
				Position:     lsp.Position{Line: line, Character: character},
			},
		}, &result)
		if err != nil {
			t.Fatal(err)
		}
		return result
	}

	result := hoverAt(2, 6)
	if result == nil {
		t.Fatal("Expected hover text")
	}

	if result.Contents.Kind != lsp.PlainText {
		t.Errorf("Expected %v, got %v", lsp.PlainText, result.Contents.Kind)
	}

	if result.Contents.Value != "nullness: @NonNull String" {
		t.Errorf("Expected %v, got %v", "nullness: @NonNull String", result.Contents.Value)
	}

	if result := hoverAt(2, 9); result != nil {
		t.Errorf("Expected nil, got %v", result)
	}
}

func TestMethodTextDocumentHover_NoPayload(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	var result interface{}
	err := h.client.Call(lsp.MethodTextDocumentHover, nil, &result)

	var jErr *jsonrpc2.Error
	if !errors.As(err, &jErr) {
		t.Fatalf("Expected a jsonrpc2 error, got %v", err)
	}

	if jErr.Message != "Params field is null" {
		t.Errorf("Expected %v, got %v", "Params field is null", jErr.Message)
	}
}

func TestMethodTextDocumentDidClose(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	h.open(t, mainURI)
	h.send(t, mainBatch)

	var params lsp.PublishDiagnosticsParams
	await(t, h.client, lsp.MethodTextDocumentPublishDiagnostics, &params)

	err := h.client.Notify(lsp.MethodTextDocumentDidClose, lsp.DidCloseTextDocumentParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: mainURI},
	})
	if err != nil {
		t.Fatal(err)
	}

	params = lsp.PublishDiagnosticsParams{}
	await(t, h.client, lsp.MethodTextDocumentPublishDiagnostics, &params)

	if params.Diagnostics == nil || len(params.Diagnostics) != 0 {
		t.Errorf("Expected an empty diagnostic array, got %v", params.Diagnostics)
	}

	if _, ok := h.srv.Sessions().Get(mainURI); ok {
		t.Error("Expected document to be closed")
	}
}

func TestMethodTextDocumentDidClose_RightAfterOpen(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	const count = 200
	for i := 0; i < count; i++ {
		u := uri.File(fmt.Sprintf("/src/P%d.java", i))

		err := h.client.Notify(lsp.MethodTextDocumentDidOpen, lsp.DidOpenTextDocumentParams{
			TextDocument: lsp.TextDocumentItem{URI: u, LanguageID: "java"},
		})
		if err != nil {
			t.Fatal(err)
		}

		err = h.client.Notify(lsp.MethodTextDocumentDidClose, lsp.DidCloseTextDocumentParams{
			TextDocument: lsp.TextDocumentIdentifier{URI: u},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	// the request is read only after every notification before it is handled
	var result *lsp.Hover
	err := h.client.Call(lsp.MethodTextDocumentHover, lsp.HoverParams{
		TextDocumentPositionParams: lsp.TextDocumentPositionParams{
			TextDocument: lsp.TextDocumentIdentifier{URI: uri.File("/src/P0.java")},
		},
	}, &result)
	if err != nil {
		t.Fatal(err)
	}

	if result != nil {
		t.Errorf("Expected nil, got %v", result)
	}

	if uris := h.srv.Sessions().URIs(); len(uris) != 0 {
		t.Errorf("Expected every document to be closed, got %v", uris)
	}

	if got := len(h.worker.submissions()); got != count {
		t.Errorf("Expected %v, got %v", count, got)
	}
}

func TestMethodTextDocumentDidSave(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	h.open(t, mainURI)
	h.send(t, mainBatch)

	var params lsp.PublishDiagnosticsParams
	await(t, h.client, lsp.MethodTextDocumentPublishDiagnostics, &params)

	err := h.client.Notify(lsp.MethodTextDocumentDidSave, lsp.DidSaveTextDocumentParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: mainURI},
	})
	if err != nil {
		t.Fatal(err)
	}

	params = lsp.PublishDiagnosticsParams{}
	await(t, h.client, lsp.MethodTextDocumentPublishDiagnostics, &params)

	if len(params.Diagnostics) != 0 {
		t.Errorf("Expected diagnostics of the old contents to be withdrawn, got %v", params.Diagnostics)
	}

	eventually(t, "check request", func() bool {
		return len(h.worker.submissions()) == 2
	})
}

func TestMethodTextDocumentDidChange(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	h.open(t, mainURI)

	err := h.client.Notify(lsp.MethodTextDocumentDidChange, lsp.DidChangeTextDocumentParams{
		TextDocument: lsp.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: lsp.TextDocumentIdentifier{URI: mainURI},
			Version:                2,
		},
		ContentChanges: []lsp.TextDocumentContentChangeEvent{{Text: "class Main { }"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Wait for the change to be handled
	time.Sleep(100 * time.Millisecond)

	if submissions := h.worker.submissions(); len(submissions) != 1 {
		t.Errorf("Expected edits not to trigger checks, got %v", submissions)
	}
}

func TestDidChangeConfiguration(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	h.open(t, mainURI)

	err := h.client.Notify(lsp.MethodWorkspaceDidChangeConfiguration, map[string]any{
		"settings": map[string]any{
			config.SectionKey: map[string]any{
				"checkers": []string{"interning"},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, "worker replacement", func() bool {
		_, count := h.worker.lastCommand()
		return count == 2
	})

	cmd, _ := h.worker.lastCommand()
	if !strings.Contains(cmd.String(), "org.checkerframework.checker.interning.InterningChecker") {
		t.Errorf("Expected interning processor, got %s", cmd)
	}

	eventually(t, "open documents to be checked again", func() bool {
		return len(h.worker.submissions()) == 2
	})

	if checkers := h.srv.Settings().Checkers; len(checkers) != 1 || checkers[0] != "interning" {
		t.Errorf("Expected %v, got %v", []string{"interning"}, checkers)
	}

	if path := h.srv.Settings().FrameworkPath; path != "/opt/checker-framework" {
		t.Errorf("Expected %v, got %v", "/opt/checker-framework", path)
	}
}

func TestDidChangeConfiguration_Invalid(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	err := h.client.Notify(lsp.MethodWorkspaceDidChangeConfiguration, map[string]any{
		"settings": map[string]any{
			config.SectionKey: map[string]any{
				"checkers": []string{"nulness"},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var params lsp.ShowMessageParams
	await(t, h.client, lsp.MethodWindowShowMessage, &params)

	if !strings.Contains(params.Message, `did you mean "nullness"`) {
		t.Errorf("Expected a suggestion, got %q", params.Message)
	}

	if _, count := h.worker.lastCommand(); count != 1 {
		t.Errorf("Expected the worker to be kept, got %v commands", count)
	}
}

func TestUnsupportedMethod(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	var result interface{}
	err := h.client.Call(lsp.MethodTextDocumentCompletion, nil, &result)

	var jErr *jsonrpc2.Error
	if !errors.As(err, &jErr) {
		t.Fatalf("Expected a jsonrpc2 error, got %v", err)
	}

	if jErr.Code != jsonrpc2.CodeMethodNotFound {
		t.Errorf("Expected %v, got %v", jsonrpc2.CodeMethodNotFound, jErr.Code)
	}
}

func TestLogMessage(t *testing.T) {
	h := Setup(t)

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	var params lsp.LogMessageParams
	await(t, h.client, lsp.MethodWindowLogMessage, &params)

	if params.Message != "server> client initialized" {
		t.Errorf("Expected %v, got %v", "server> client initialized", params.Message)
	}
}

func TestHistory(t *testing.T) {
	history, err := logger.NewMemoryHistory()
	if err != nil {
		t.Fatal(err)
	}
	defer history.Close()

	h := Setup(t, func(opts *Options) {
		opts.History = history
	})

	if _, err := initialize(h.client); err != nil {
		t.Fatal(err)
	}

	h.open(t, mainURI)
	h.send(t, mainBatch)

	var params lsp.PublishDiagnosticsParams
	await(t, h.client, lsp.MethodTextDocumentPublishDiagnostics, &params)

	var entries []logger.CheckEntry
	eventually(t, "published check", func() bool {
		it, err := history.Checks(logger.CheckFilter{Kind: logger.CheckPublished})
		if err != nil {
			t.Fatal(err)
		}
		entries, err = it.List()
		if err != nil {
			t.Fatal(err)
		}
		return len(entries) == 1
	})

	if entries[0].File != "/src/Main.java" || entries[0].Diagnostics != 1 || entries[0].Notes != 1 {
		t.Errorf("Expected one diagnostic and one note for /src/Main.java, got %+v", entries[0])
	}

	eventually(t, "submitted check", func() bool {
		it, err := history.Checks(logger.CheckFilter{Kind: logger.CheckSubmitted})
		if err != nil {
			t.Fatal(err)
		}
		entries, err = it.List()
		if err != nil {
			t.Fatal(err)
		}
		return len(entries) == 1
	})
}
