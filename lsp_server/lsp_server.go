package lsp_server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/checkerls/checkerls/server/config"
	"github.com/checkerls/checkerls/server/logger"
	"github.com/checkerls/checkerls/server/release"
	"github.com/checkerls/checkerls/server/router"
	"github.com/checkerls/checkerls/server/rpc"
	"github.com/checkerls/checkerls/server/session"
	"github.com/checkerls/checkerls/server/wire"
	"github.com/checkerls/checkerls/server/worker"
	"github.com/sourcegraph/jsonrpc2"
	lsp "go.lsp.dev/protocol"
)

// Worker runs checks for the server. It is implemented by worker.Supervisor.
type Worker interface {
	session.Checker
	Start(ctx context.Context, cmd config.WorkerCommand) error
	Replace(ctx context.Context, cmd config.WorkerCommand) error
	Stop(ctx context.Context) error
}

type Options struct {
	Settings config.Settings

	// LogOutput receives the server logs in addition to window/logMessage.
	LogOutput io.Writer

	// History records worker and check events when non-nil.
	History *logger.History

	// Worker replaces the worker process supervisor. Its results are then
	// expected on Batches.
	Worker  Worker
	Batches chan wire.Batch

	Version string
}

type LspServer struct {
	conn     *jsonrpc2.Conn
	connMu   sync.RWMutex
	log      *log.Logger
	version  string
	worker   Worker
	sessions *session.Store
	router   *router.Router
	batches  chan wire.Batch
	recorder *recorder
	doneChan chan int

	// settingsMu also serializes reconfigurations
	settingsMu sync.Mutex
	settings   config.Settings

	shutdown atomic.Bool
}

func NewServer(opts Options) *LspServer {
	s := &LspServer{
		version:  opts.Version,
		worker:   opts.Worker,
		batches:  opts.Batches,
		settings: opts.Settings,
		doneChan: make(chan int, 1),
	}

	if len(s.version) == 0 {
		s.version = release.Version()
	}

	if s.batches == nil {
		s.batches = make(chan wire.Batch, 16)
	}

	logOutput := opts.LogOutput
	if logOutput == nil {
		logOutput = io.Discard
	}
	logOutput = io.MultiWriter(logOutput, &clientLogWriter{server: s})

	s.log = log.New(logOutput, "server> ", 0)
	s.recorder = newRecorder(opts.History, log.New(logOutput, "history> ", 0))

	if s.worker == nil {
		s.worker = worker.NewSupervisor(worker.Options{
			Log:     log.New(logOutput, "worker> ", 0),
			Batches: s.batches,
			Hooks:   s.recorder.hooks(),
		})
	}
	s.recorder.worker = s.worker

	s.sessions = session.NewStore(s, s, s.log)
	s.router = router.New(
		s.sessions,
		log.New(logOutput, "router> ", 0),
		router.WithOnRouted(s.recorder.routed),
	)
	return s
}

func (s *LspServer) Settings() config.Settings {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	return s.settings
}

// Sessions exposes the open documents of the server.
func (s *LspServer) Sessions() *session.Store {
	return s.sessions
}

func (s *LspServer) getConn() *jsonrpc2.Conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}

func (s *LspServer) setConn(conn *jsonrpc2.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conn = conn
}

// Submit forwards a check request to the worker and records it.
func (s *LspServer) Submit(files []string) error {
	if err := s.worker.Submit(files); err != nil {
		return err
	}
	s.recorder.submitted(files)
	return nil
}

// Reconfigure overlays settings on the current ones, replaces the worker with
// one built from the result and checks every open document again. Invalid
// settings leave the running worker untouched.
func (s *LspServer) Reconfigure(ctx context.Context, settings config.Settings) error {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	merged := s.settings.Merge(settings)
	cmd, err := merged.WorkerCommand()
	if err != nil {
		return err
	}
	s.settings = merged

	if err := s.worker.Replace(ctx, cmd); err != nil {
		return err
	}
	return s.sessions.Resubmit(ctx)
}

// Run starts the worker and serves the editor over rwc until the client
// exits or disconnects. The returned code follows the LSP exit rules: 0 if
// shutdown was requested before exit, 1 otherwise.
func (s *LspServer) Run(ctx context.Context, rwc io.ReadWriteCloser) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd, err := s.Settings().WorkerCommand()
	if err != nil {
		return 1, err
	}

	if err := s.worker.Start(ctx, cmd); err != nil {
		return 1, err
	}

	conn := rpc.NewConn(ctx, rwc, s)
	s.setConn(conn)

	go s.router.Run(ctx, s.batches)

	code := 1
	select {
	case code = <-s.doneChan:
	case <-conn.DisconnectNotify():
		s.log.Println("client disconnected")
	case <-ctx.Done():
	}

	s.setConn(nil)
	conn.Close()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*worker.DefaultGracePeriod)
	defer stopCancel()
	if err := s.worker.Stop(stopCtx); err != nil {
		s.log.Printf("unable to stop worker: %s\n", err)
	}

	return code, nil
}

func decodePayload[T any](ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) *T {
	if r.Params == nil || string(*r.Params) == "null" {
		replyError(ctx, c, r, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeInvalidParams,
			Message: "Params field is null",
		})
		return nil
	}

	var payload *T
	if err := json.Unmarshal(*r.Params, &payload); err != nil {
		replyError(ctx, c, r, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeInvalidParams,
			Message: "Unable to decode params of method " + r.Method,
		})
		return nil
	}
	return payload
}

// replyError answers requests only, notifications have no one to reply to.
func replyError(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request, err *jsonrpc2.Error) {
	if r.Notif {
		return
	}
	c.ReplyWithError(ctx, r.ID, err)
}

type didChangeConfigurationParams struct {
	Settings json.RawMessage `json:"settings"`
}

func (s *LspServer) Handle(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) {
	switch r.Method {
	case lsp.MethodInitialize:
		c.Reply(ctx, r.ID, lsp.InitializeResult{
			Capabilities: lsp.ServerCapabilities{
				TextDocumentSync: lsp.TextDocumentSyncOptions{
					OpenClose: true,
					Change:    lsp.TextDocumentSyncKindFull,
					Save:      &lsp.SaveOptions{},
				},
				HoverProvider: true,
			},
			ServerInfo: &lsp.ServerInfo{
				Name:    release.Name,
				Version: s.version,
			},
		})
	case lsp.MethodInitialized:
		s.log.Println("client initialized")
	case lsp.MethodShutdown:
		s.shutdown.Store(true)
		if err := s.worker.Stop(ctx); err != nil {
			s.log.Printf("unable to stop worker: %s\n", err)
		}
		c.Reply(ctx, r.ID, json.RawMessage("null"))
	case lsp.MethodExit:
		code := 1
		if s.shutdown.Load() {
			code = 0
		}

		select {
		case s.doneChan <- code:
		default:
		}
	case lsp.MethodTextDocumentDidOpen:
		payload := decodePayload[lsp.DidOpenTextDocumentParams](ctx, c, r)
		if payload == nil {
			return
		}

		if err := s.sessions.Open(ctx, payload.TextDocument.URI); err != nil {
			s.showError(ctx, c, "Unable to check %s: %s", payload.TextDocument.URI, err)
		}
	case lsp.MethodTextDocumentDidChange:
		payload := decodePayload[lsp.DidChangeTextDocumentParams](ctx, c, r)
		if payload == nil {
			return
		}

		s.sessions.Change(payload.TextDocument.URI)
	case lsp.MethodTextDocumentDidSave:
		payload := decodePayload[lsp.DidSaveTextDocumentParams](ctx, c, r)
		if payload == nil {
			return
		}

		if err := s.sessions.Save(ctx, payload.TextDocument.URI); err != nil {
			s.showError(ctx, c, "Unable to check %s: %s", payload.TextDocument.URI, err)
		}
	case lsp.MethodTextDocumentDidClose:
		payload := decodePayload[lsp.DidCloseTextDocumentParams](ctx, c, r)
		if payload == nil {
			return
		}

		if err := s.sessions.Close(ctx, payload.TextDocument.URI); err != nil {
			s.log.Printf("unable to clear diagnostics of %s: %s\n", payload.TextDocument.URI, err)
		}
	case lsp.MethodTextDocumentHover:
		payload := decodePayload[lsp.HoverParams](ctx, c, r)
		if payload == nil {
			return
		}

		text, ok := s.sessions.Hover(payload.TextDocument.URI, wire.PositionFromProtocol(payload.Position))
		if !ok {
			c.Reply(ctx, r.ID, json.RawMessage("null"))
			return
		}

		c.Reply(ctx, r.ID, lsp.Hover{
			Contents: lsp.MarkupContent{
				Kind:  lsp.PlainText,
				Value: text,
			},
		})
	case lsp.MethodWorkspaceDidChangeConfiguration:
		payload := decodePayload[didChangeConfigurationParams](ctx, c, r)
		if payload == nil {
			return
		}

		settings, err := config.DecodeSection(payload.Settings)
		if err != nil {
			s.showError(ctx, c, "Invalid %s settings: %s", config.SectionKey, err)
			return
		}

		start := time.Now()
		if err := s.Reconfigure(ctx, settings); err != nil {
			s.showError(ctx, c, "Unable to apply %s settings: %s", config.SectionKey, err)
			return
		}
		s.log.Printf("worker reconfigured in %s\n", time.Since(start))
	default:
		if r.Notif {
			return
		}

		c.ReplyWithError(ctx, r.ID, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: fmt.Sprintf("method %s is not supported", r.Method),
		})
	}
}

func (s *LspServer) showError(ctx context.Context, c *jsonrpc2.Conn, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	s.log.Println(message)

	c.Notify(ctx, lsp.MethodWindowShowMessage, lsp.ShowMessageParams{
		Type:    lsp.MessageTypeError,
		Message: message,
	})
}
