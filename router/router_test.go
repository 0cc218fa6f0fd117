package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/checkerls/checkerls/server/session"
	"github.com/checkerls/checkerls/server/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/uri"
)

type nopChecker struct{}

func (nopChecker) Submit(files []string) error { return nil }

type recordingPublisher struct {
	mu    sync.Mutex
	calls map[uri.URI][][]wire.Diagnostic
}

func (p *recordingPublisher) Publish(ctx context.Context, u uri.URI, diags []wire.Diagnostic) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[uri.URI][][]wire.Diagnostic{}
	}
	p.calls[u] = append(p.calls[u], diags)
	return nil
}

func (p *recordingPublisher) last(u uri.URI) ([]wire.Diagnostic, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	calls := p.calls[u]
	if len(calls) == 0 {
		return nil, 0
	}
	return calls[len(calls)-1], len(calls)
}

func setup(t *testing.T, open ...uri.URI) (*Router, *session.Store, *recordingPublisher, *[]Routed) {
	t.Helper()
	pub := &recordingPublisher{}
	store := session.NewStore(nopChecker{}, pub, nil)
	for _, u := range open {
		require.NoError(t, store.Open(context.Background(), u))
	}

	var routed []Routed
	r := New(store, nil, WithOnRouted(func(ro Routed) { routed = append(routed, ro) }))
	return r, store, pub, &routed
}

func decode(t *testing.T, line string) wire.Batch {
	t.Helper()
	batch, err := wire.DecodeLine([]byte(line))
	require.NoError(t, err)
	return batch
}

func TestRoute_OrdinaryAndNote(t *testing.T) {
	fileA := uri.File("/src/A.java")
	r, store, pub, routed := setup(t, fileA)

	r.Route(context.Background(), decode(t, `{"diags":[`+
		`{"source":"/src/A.java","kind":"ERROR","position":100,"startPosition":100,"endPosition":101,"lineNumber":11,"columnNumber":8,"message":"cannot find symbol"},`+
		`{"source":"/src/A.java","kind":"NOTE","position":-1,"startPosition":-1,"endPosition":-1,"lineNumber":3,"columnNumber":5,"message":"[lsp.type.information] checker=nullness;kind=USED_TYPE;type=@NonNull String;range=(2, 4, 2, 9)"}`+
		`]}`))

	diags, calls := pub.last(fileA)
	require.Equal(t, 1, calls)
	require.Len(t, diags, 1)
	assert.Equal(t, "cannot find symbol", diags[0].Message)
	assert.Equal(t, wire.Position{Line: 10, Character: 7}, diags[0].Range.Start)
	assert.Equal(t, wire.Position{Line: 10, Character: 8}, diags[0].Range.End)

	f, ok := store.Get(fileA)
	require.True(t, ok)
	assert.Equal(t, 1, f.Index().Len())

	text, ok := store.Hover(fileA, wire.Position{Line: 2, Character: 6})
	require.True(t, ok)
	assert.Equal(t, "nullness: @NonNull String", text)

	assert.Equal(t, []Routed{{URI: fileA, Diagnostics: 1, Notes: 1}}, *routed)
}

func TestRoute_NoSessionDropped(t *testing.T) {
	r, _, pub, routed := setup(t)

	r.Route(context.Background(), decode(t, `{"diags":[{"source":"/src/Closed.java","kind":"ERROR","lineNumber":1,"columnNumber":1,"message":"m"}]}`))

	_, calls := pub.last(uri.File("/src/Closed.java"))
	assert.Equal(t, 0, calls)
	assert.Empty(t, *routed)
}

func TestRoute_ReplaceOnPublish(t *testing.T) {
	fileA := uri.File("/src/A.java")
	r, _, pub, _ := setup(t, fileA)
	ctx := context.Background()

	r.Route(ctx, decode(t, `{"diags":[{"source":"/src/A.java","kind":"ERROR","lineNumber":1,"columnNumber":1,"message":"first"},{"source":"/src/A.java","kind":"WARNING","lineNumber":2,"columnNumber":1,"message":"second"}]}`))
	r.Route(ctx, decode(t, `{"diags":[{"source":"/src/A.java","kind":"WARNING","lineNumber":5,"columnNumber":1,"message":"third"}]}`))

	diags, calls := pub.last(fileA)
	assert.Equal(t, 2, calls)
	require.Len(t, diags, 1)
	assert.Equal(t, "third", diags[0].Message)
}

func TestRoute_SeveralFiles(t *testing.T) {
	fileA := uri.File("/src/A.java")
	fileB := uri.File("/src/B.java")
	r, _, pub, routed := setup(t, fileA, fileB)

	r.Route(context.Background(), decode(t, `{"diags":[`+
		`{"source":"/src/B.java","kind":"ERROR","lineNumber":1,"columnNumber":1,"message":"b1"},`+
		`{"fileUri":"file:/src/A.java","kind":"ERROR","lineNumber":1,"columnNumber":1,"message":"a1"},`+
		`{"source":"/src/A.java","kind":"NOTE","lineNumber":1,"columnNumber":1,"message":"a2"}`+
		`]}`))

	diagsA, _ := pub.last(fileA)
	diagsB, _ := pub.last(fileB)
	assert.Len(t, diagsA, 2)
	assert.Len(t, diagsB, 1)
	assert.Equal(t, []Routed{
		{URI: fileB, Diagnostics: 1},
		{URI: fileA, Diagnostics: 2},
	}, *routed)
}

func TestRoute_BadNoteKeepsDiagnostics(t *testing.T) {
	fileA := uri.File("/src/A.java")
	r, store, pub, _ := setup(t, fileA)

	r.Route(context.Background(), decode(t, `{"diags":[`+
		`{"source":"/src/A.java","kind":"NOTE","lineNumber":1,"columnNumber":1,"message":"[lsp.type.information] checker=nullness;kind=USED_TYPE"},`+
		`{"source":"/src/A.java","kind":"ERROR","lineNumber":1,"columnNumber":1,"message":"real"}`+
		`]}`))

	diags, _ := pub.last(fileA)
	require.Len(t, diags, 1)
	assert.Equal(t, "real", diags[0].Message)

	f, _ := store.Get(fileA)
	assert.Equal(t, 0, f.Index().Len())
}

func TestRun_MalformedLineBetweenGoodOnes(t *testing.T) {
	fileA := uri.File("/src/A.java")
	fileB := uri.File("/src/B.java")
	r, _, pub, _ := setup(t, fileA, fileB)

	lines := []string{
		`{"diags":[{"source":"/src/A.java","kind":"ERROR","lineNumber":1,"columnNumber":1,"message":"a"}]}`,
		`{"diags":[{"source":`,
		`{"diags":[{"source":"/src/B.java","kind":"ERROR","lineNumber":1,"columnNumber":1,"message":"b"}]}`,
	}

	batches := make(chan wire.Batch, len(lines))
	for _, line := range lines {
		if batch, err := wire.DecodeLine([]byte(line)); err == nil {
			batches <- batch
		}
	}
	close(batches)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), batches)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("router did not stop after the channel closed")
	}

	_, callsA := pub.last(fileA)
	_, callsB := pub.last(fileB)
	assert.Equal(t, 1, callsA)
	assert.Equal(t, 1, callsB)
}

func note(checker, kind, typ string, l1, c1, l2, c2 int) wire.TypeInfo {
	return wire.TypeInfo{
		Checker: checker,
		Kind:    kind,
		Type:    typ,
		Range: wire.Range{
			Start: wire.Position{Line: l1, Character: c1},
			End:   wire.Position{Line: l2, Character: c2},
		},
	}
}

func TestFormatHovers(t *testing.T) {
	hovers := FormatHovers([]wire.TypeInfo{
		note("nullness", "USED_TYPE", "@Nullable String", 1, 0, 1, 5),
		note("nullness", "DECLARED_TYPE", "@NonNull String", 1, 0, 1, 5),
		note("interning", "USED_TYPE", "@Interned String", 1, 0, 1, 5),
		note("interning", "DECLARED_TYPE", "@Interned String", 1, 0, 1, 5),
		note("nullness", "USED_TYPE", "@Nullable String", 1, 0, 1, 5),
	})

	require.Len(t, hovers, 1)
	assert.Equal(t,
		"nullness (used): @Nullable String\n"+
			"nullness (declared): @NonNull String\n"+
			"interning: @Interned String",
		hovers[0].Text)
}

func TestFormatHovers_OrderedForNesting(t *testing.T) {
	hovers := FormatHovers([]wire.TypeInfo{
		note("nullness", "USED_TYPE", "inner", 0, 5, 0, 8),
		note("nullness", "USED_TYPE", "outer", 0, 0, 0, 20),
		note("nullness", "USED_TYPE", "prefix", 0, 0, 0, 3),
	})

	require.Len(t, hovers, 3)
	assert.Equal(t, "nullness: outer", hovers[0].Text)
	assert.Equal(t, "nullness: prefix", hovers[1].Text)
	assert.Equal(t, "nullness: inner", hovers[2].Text)
}
