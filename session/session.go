package session

import (
	"context"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/checkerls/checkerls/server/posindex"
	"github.com/checkerls/checkerls/server/wire"
	"go.lsp.dev/uri"
	"golang.org/x/exp/maps"
)

// Publisher turns a file's diagnostics into an outward notification.
type Publisher interface {
	Publish(ctx context.Context, u uri.URI, diags []wire.Diagnostic) error
}

// Checker accepts check requests for files on disk.
type Checker interface {
	Submit(files []string) error
}

// Hover is the text shown for a range of a file.
type Hover struct {
	Range wire.Range
	Text  string
}

// File is the state kept for one open document. Writers hold mu; hover reads
// only go through the index, which has its own lock.
type File struct {
	URI      uri.URI
	OpenedAt time.Time

	mu          sync.Mutex
	closed      bool
	diagnostics []wire.Diagnostic
	index       *posindex.Index
}

func newFile(u uri.URI) *File {
	return &File{
		URI:         u,
		OpenedAt:    time.Now(),
		diagnostics: []wire.Diagnostic{},
		index:       posindex.New(),
	}
}

// Diagnostics returns a copy of the last published diagnostics.
func (f *File) Diagnostics() []wire.Diagnostic {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Diagnostic{}, f.diagnostics...)
}

func (f *File) Index() *posindex.Index {
	return f.index
}

// clear empties the file and reports whether it had diagnostics. The caller
// holds mu.
func (f *File) clear() bool {
	had := len(f.diagnostics) != 0
	f.diagnostics = []wire.Diagnostic{}
	f.index.Clear()
	return had
}

type Store struct {
	mu    sync.RWMutex
	files map[uri.URI]*File

	checker   Checker
	publisher Publisher
	log       *log.Logger
}

func NewStore(checker Checker, publisher Publisher, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{
		files:     map[uri.URI]*File{},
		checker:   checker,
		publisher: publisher,
		log:       logger,
	}
}

func (s *Store) getOrCreate(u uri.URI) *File {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[u]
	if !ok {
		f = newFile(u)
		s.files[u] = f
	}
	return f
}

func (s *Store) Get(u uri.URI) (*File, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[u]
	return f, ok
}

// URIs lists the open documents in sorted order.
func (s *Store) URIs() []uri.URI {
	s.mu.RLock()
	uris := maps.Keys(s.files)
	s.mu.RUnlock()

	sort.Slice(uris, func(i, j int) bool { return uris[i] < uris[j] })
	return uris
}

// Open creates the session of u if needed, clears it and requests a check.
func (s *Store) Open(ctx context.Context, u uri.URI) error {
	f := s.getOrCreate(wire.FileURI(string(u)))
	return s.recheck(ctx, f, false)
}

// Save behaves like Open, but also withdraws diagnostics published for the
// previous contents of the file.
func (s *Store) Save(ctx context.Context, u uri.URI) error {
	f := s.getOrCreate(wire.FileURI(string(u)))
	return s.recheck(ctx, f, true)
}

func (s *Store) recheck(ctx context.Context, f *File, unpublish bool) error {
	f.mu.Lock()
	had := f.clear()
	if unpublish && had {
		s.publish(ctx, f.URI, []wire.Diagnostic{})
	}
	f.mu.Unlock()

	if !wire.IsFileURI(f.URI) {
		s.log.Printf("not checking %s: not a file on disk\n", f.URI)
		return nil
	}

	return s.checker.Submit([]string{f.URI.Filename()})
}

// Change is a no-op: the worker only ever reads files from disk.
func (s *Store) Change(u uri.URI) {}

// Close drops the session of u and clears its diagnostics in the editor.
func (s *Store) Close(ctx context.Context, u uri.URI) error {
	u = wire.FileURI(string(u))

	s.mu.Lock()
	f, ok := s.files[u]
	delete(s.files, u)
	s.mu.Unlock()

	if !ok {
		return s.publisher.Publish(ctx, u, []wire.Diagnostic{})
	}

	// publishing under mu orders the empty set after any result already
	// being published for f
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.clear()
	return s.publisher.Publish(ctx, u, []wire.Diagnostic{})
}

func (s *Store) Hover(u uri.URI, pos wire.Position) (string, bool) {
	f, ok := s.Get(wire.FileURI(string(u)))
	if !ok {
		return "", false
	}
	return f.index.Lookup(pos)
}

// Replace swaps the contents of an open session for a fresh check result and
// publishes the diagnostics. It reports false when u has no open session.
func (s *Store) Replace(ctx context.Context, u uri.URI, diags []wire.Diagnostic, hovers []Hover) (bool, error) {
	f, ok := s.Get(u)
	if !ok {
		return false, nil
	}
	return s.replace(ctx, f, diags, hovers)
}

// replace reports false when f was closed after it was looked up.
func (s *Store) replace(ctx context.Context, f *File, diags []wire.Diagnostic, hovers []Hover) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false, nil
	}

	f.index.Clear()
	for _, h := range hovers {
		f.index.Insert(h.Range, h.Text)
	}

	if diags == nil {
		diags = []wire.Diagnostic{}
	}
	f.diagnostics = diags

	return true, s.publisher.Publish(ctx, f.URI, diags)
}

// Resubmit clears every open session and checks all of them in one request.
// It is used after the worker has been replaced.
func (s *Store) Resubmit(ctx context.Context) error {
	var paths []string
	for _, u := range s.URIs() {
		f, ok := s.Get(u)
		if !ok {
			continue
		}

		f.mu.Lock()
		if f.clear() {
			s.publish(ctx, u, []wire.Diagnostic{})
		}
		f.mu.Unlock()

		if wire.IsFileURI(u) {
			paths = append(paths, u.Filename())
		}
	}

	return s.checker.Submit(paths)
}

func (s *Store) publish(ctx context.Context, u uri.URI, diags []wire.Diagnostic) {
	if err := s.publisher.Publish(ctx, u, diags); err != nil {
		s.log.Printf("unable to publish diagnostics for %s: %s\n", u, err)
	}
}
