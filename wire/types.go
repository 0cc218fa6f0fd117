package wire

import (
	"fmt"

	lsp "go.lsp.dev/protocol"
)

// Position is a 0-based (line, character) location inside a file.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Compare orders positions by line first, then by character.
func (p Position) Compare(o Position) int {
	switch {
	case p.Line < o.Line:
		return -1
	case p.Line > o.Line:
		return 1
	case p.Character < o.Character:
		return -1
	case p.Character > o.Character:
		return 1
	}
	return 0
}

func (p Position) Less(o Position) bool {
	return p.Compare(o) < 0
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Character)
}

func (p Position) ToProtocol() lsp.Position {
	return lsp.Position{
		Line:      uint32(max(p.Line, 0)),
		Character: uint32(max(p.Character, 0)),
	}
}

func PositionFromProtocol(p lsp.Position) Position {
	return Position{Line: int(p.Line), Character: int(p.Character)}
}

// Range is the half-open interval [Start, End).
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

func (r Range) IsEmpty() bool {
	return !r.Start.Less(r.End)
}

func (r Range) Contains(p Position) bool {
	return !p.Less(r.Start) && p.Less(r.End)
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start, r.End)
}

func (r Range) ToProtocol() lsp.Range {
	return lsp.Range{Start: r.Start.ToProtocol(), End: r.End.ToProtocol()}
}

// Severity uses the same numeric values as the LSP DiagnosticSeverity.
type Severity int

const (
	SeverityError       Severity = 1
	SeverityWarning     Severity = 2
	SeverityInformation Severity = 3
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "info"
	}
	return "unknown"
}

func (s Severity) ToProtocol() lsp.DiagnosticSeverity {
	return lsp.DiagnosticSeverity(s)
}

// Kind is the javac diagnostic kind reported by the worker.
type Kind string

const (
	KindError            Kind = "ERROR"
	KindWarning          Kind = "WARNING"
	KindMandatoryWarning Kind = "MANDATORY_WARNING"
	KindNote             Kind = "NOTE"
	KindOther            Kind = "OTHER"
)

// Severity maps a kind onto the closed severity set. Unknown kinds report false.
func (k Kind) Severity() (Severity, bool) {
	switch k {
	case KindError:
		return SeverityError, true
	case KindWarning, KindMandatoryWarning:
		return SeverityWarning, true
	case KindNote, KindOther:
		return SeverityInformation, true
	}
	return 0, false
}

// Diagnostic is one ordinary issue reported by the worker, already converted
// to 0-based coordinates.
type Diagnostic struct {
	File     string
	Kind     Kind
	Severity Severity
	Range    Range
	Message  string
	Code     string
}

// TypeInfo is a type information note. Its range is taken verbatim from the
// worker, which already reports 0-based coordinates for notes.
type TypeInfo struct {
	File    string
	Checker string
	// Kind is the raw "<KIND>_TYPE" value, eg. USED_TYPE.
	Kind  string
	Type  string
	Range Range
}

// Tag is the lower-cased semantic tag of the note, eg. "used" for USED_TYPE.
func (t TypeInfo) Tag() string {
	return kindTag(t.Kind)
}

// Entry is one decoded element of a batch. The set of implementations is
// closed: Ordinary, TypeNote and Unrecognized.
type Entry interface {
	File() string
	isEntry()
}

type Ordinary struct {
	Diagnostic Diagnostic
}

type TypeNote struct {
	Info TypeInfo
}

// Unrecognized keeps the raw diagnostic that could not be classified along
// with the reason.
type Unrecognized struct {
	Raw RawDiagnostic
	Err error
}

func (e Ordinary) File() string     { return e.Diagnostic.File }
func (e TypeNote) File() string     { return e.Info.File }
func (e Unrecognized) File() string { return e.Raw.source() }

func (Ordinary) isEntry()     {}
func (TypeNote) isEntry()     {}
func (Unrecognized) isEntry() {}

// Batch holds the entries decoded from one line of worker output.
type Batch struct {
	Entries []Entry
}

// ByFile groups the entries of the batch by their source file. The returned
// file list keeps the order in which each file was first seen.
func (b Batch) ByFile() ([]string, map[string][]Entry) {
	files := []string{}
	groups := map[string][]Entry{}
	for _, e := range b.Entries {
		f := e.File()
		if _, ok := groups[f]; !ok {
			files = append(files, f)
		}
		groups[f] = append(groups[f], e)
	}
	return files, groups
}
