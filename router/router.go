package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/checkerls/checkerls/server/session"
	"github.com/checkerls/checkerls/server/wire"
	"go.lsp.dev/uri"
)

// Sessions is the part of the session store the router writes to.
type Sessions interface {
	Replace(ctx context.Context, u uri.URI, diags []wire.Diagnostic, hovers []session.Hover) (bool, error)
}

// Routed describes the result of routing one file of a batch.
type Routed struct {
	URI         uri.URI
	Diagnostics int
	Notes       int
}

type Option func(*Router)

// WithOnRouted registers fn to be called for every file whose session was
// updated.
func WithOnRouted(fn func(Routed)) Option {
	return func(r *Router) {
		r.onRouted = fn
	}
}

// Router splits decoded batches into diagnostics and hover text and hands
// them to the sessions of the files they belong to.
type Router struct {
	sessions Sessions
	log      *log.Logger
	onRouted func(Routed)
}

func New(sessions Sessions, logger *log.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	r := &Router{sessions: sessions, log: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run routes batches until ctx is done or the channel is closed.
func (r *Router) Run(ctx context.Context, batches <-chan wire.Batch) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			r.Route(ctx, batch)
		}
	}
}

// Route replaces the session contents of every file named in batch. Files
// without an open session are skipped.
func (r *Router) Route(ctx context.Context, batch wire.Batch) {
	uris, groups := groupByURI(batch)

	for _, u := range uris {
		diags, notes := r.partition(groups[u])
		hovers := FormatHovers(notes)

		ok, err := r.sessions.Replace(ctx, u, diags, hovers)
		if err != nil {
			r.log.Printf("unable to publish diagnostics for %s: %s\n", u, err)
		}
		if !ok {
			recordDropped(ctx, "no_session", len(groups[u]))
			r.log.Printf("no open session for %s, dropping %d entries\n", u, len(groups[u]))
			continue
		}

		recordRouted(ctx, len(diags), len(notes))
		if r.onRouted != nil {
			r.onRouted(Routed{URI: u, Diagnostics: len(diags), Notes: len(notes)})
		}
	}
}

// groupByURI is Batch.ByFile keyed by the normalised URI, so a path and a
// file URI naming the same file end up in one group.
func groupByURI(batch wire.Batch) ([]uri.URI, map[uri.URI][]wire.Entry) {
	files, byFile := batch.ByFile()

	uris := make([]uri.URI, 0, len(files))
	groups := make(map[uri.URI][]wire.Entry, len(files))
	for _, f := range files {
		u := wire.FileURI(f)
		if _, ok := groups[u]; !ok {
			uris = append(uris, u)
		}
		groups[u] = append(groups[u], byFile[f]...)
	}
	return uris, groups
}

func (r *Router) partition(entries []wire.Entry) ([]wire.Diagnostic, []wire.TypeInfo) {
	diags := []wire.Diagnostic{}
	var notes []wire.TypeInfo

	for _, e := range entries {
		switch e := e.(type) {
		case wire.Ordinary:
			diags = append(diags, e.Diagnostic)
		case wire.TypeNote:
			notes = append(notes, e.Info)
		case wire.Unrecognized:
			recordDropped(context.Background(), "unrecognized", 1)
			if errors.Is(e.Err, wire.ErrTypeInfoParse) {
				r.log.Printf("dropping type information note for %s: %s\n", e.File(), e.Err)
			} else {
				r.log.Printf("dropping diagnostic for %s: %s\n", e.File(), e.Err)
			}
		}
	}
	return diags, notes
}

type typeKey struct {
	tag string
	typ string
}

type contribution struct {
	checker string
	types   []typeKey
	seen    map[typeKey]bool
	typeSet map[string]bool
}

// FormatHovers builds one hover per distinct range. Each checker that
// reported a type at the range contributes lines in the order the checkers
// were first seen. A checker that reported a single type contributes
// "checker: type"; otherwise every distinct type gets its own
// "checker (tag): type" line.
//
// The hovers are ordered by start, wider ranges first, so that inserting
// them in order keeps nested ranges reachable.
func FormatHovers(notes []wire.TypeInfo) []session.Hover {
	var ranges []wire.Range
	byRange := map[wire.Range][]*contribution{}

	for _, n := range notes {
		contribs, ok := byRange[n.Range]
		if !ok {
			ranges = append(ranges, n.Range)
		}

		var c *contribution
		for _, existing := range contribs {
			if existing.checker == n.Checker {
				c = existing
				break
			}
		}
		if c == nil {
			c = &contribution{checker: n.Checker, seen: map[typeKey]bool{}, typeSet: map[string]bool{}}
			byRange[n.Range] = append(contribs, c)
		}

		key := typeKey{tag: n.Tag(), typ: n.Type}
		if !c.seen[key] {
			c.seen[key] = true
			c.types = append(c.types, key)
		}
		c.typeSet[n.Type] = true
	}

	hovers := make([]session.Hover, 0, len(ranges))
	for _, rng := range ranges {
		var lines []string
		for _, c := range byRange[rng] {
			if len(c.typeSet) == 1 {
				lines = append(lines, fmt.Sprintf("%s: %s", c.checker, c.types[0].typ))
				continue
			}
			for _, t := range c.types {
				lines = append(lines, fmt.Sprintf("%s (%s): %s", c.checker, t.tag, t.typ))
			}
		}
		hovers = append(hovers, session.Hover{Range: rng, Text: strings.Join(lines, "\n")})
	}

	sort.SliceStable(hovers, func(i, j int) bool {
		a, b := hovers[i].Range, hovers[j].Range
		if cmp := a.Start.Compare(b.Start); cmp != 0 {
			return cmp < 0
		}
		return b.End.Less(a.End)
	})
	return hovers
}
