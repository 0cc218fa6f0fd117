package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// RawDiagnostic is the JSON shape of a single diagnostic written by the
// worker. Line and column numbers are 1-based, offsets are character offsets
// from the start of the file and -1 stands for "no position".
type RawDiagnostic struct {
	Source        string       `json:"source,omitempty"`
	FileURI       string       `json:"fileUri,omitempty"`
	Kind          string       `json:"kind"`
	Position      int64        `json:"position"`
	StartPosition int64        `json:"startPosition"`
	EndPosition   int64        `json:"endPosition"`
	LineNumber    int64        `json:"lineNumber"`
	ColumnNumber  int64        `json:"columnNumber"`
	Code          string       `json:"code,omitempty"`
	Message       string       `json:"message"`
	TypeInfo      *RawTypeInfo `json:"typeInfo,omitempty"`
}

// RawTypeInfo is the structured form of a type information note. Workers
// that emit it do not need to encode the note into the message.
type RawTypeInfo struct {
	Checker string `json:"checker"`
	Kind    string `json:"kind"`
	Type    string `json:"type"`
	// Range is startLine, startCol, endLine, endCol, all 0-based.
	Range [4]int `json:"range"`
}

// rawBatch is the line written by the worker. Diags is a pointer so that a
// line without the field is told apart from an empty batch.
type rawBatch struct {
	Diags *[]RawDiagnostic `json:"diags"`
}

// source prefers the "source" field and falls back to "fileUri", the field
// name used by older workers.
func (d RawDiagnostic) source() string {
	if len(d.Source) != 0 {
		return d.Source
	}
	return d.FileURI
}

// DecodeLine decodes one line of worker output into a batch.
func DecodeLine(line []byte) (Batch, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Batch{}, &DecodeError{Line: line, Err: errors.New("expected a JSON object")}
	}

	var rb rawBatch
	if err := json.Unmarshal(trimmed, &rb); err != nil {
		return Batch{}, &DecodeError{Line: line, Err: err}
	}
	if rb.Diags == nil {
		return Batch{}, &DecodeError{Line: line, Err: errors.New(`missing "diags" array`)}
	}

	batch := Batch{Entries: make([]Entry, 0, len(*rb.Diags))}
	for _, raw := range *rb.Diags {
		batch.Entries = append(batch.Entries, decodeEntry(raw))
	}
	return batch, nil
}

func decodeEntry(raw RawDiagnostic) Entry {
	if raw.TypeInfo != nil {
		info, err := raw.TypeInfo.decode()
		if err != nil {
			return Unrecognized{Raw: raw, Err: err}
		}
		info.File = raw.source()
		return TypeNote{Info: info}
	}

	if IsTypeInfoMessage(raw.Message) {
		info, err := ParseTypeInfo(raw.Message)
		if err != nil {
			return Unrecognized{Raw: raw, Err: err}
		}
		info.File = raw.source()
		return TypeNote{Info: info}
	}

	kind := Kind(raw.Kind)
	severity, ok := kind.Severity()
	if !ok {
		return Unrecognized{Raw: raw, Err: fmt.Errorf("unknown diagnostic kind %q", raw.Kind)}
	}

	return Ordinary{Diagnostic: Diagnostic{
		File:     raw.source(),
		Kind:     kind,
		Severity: severity,
		Range:    raw.toRange(),
		Message:  raw.Message,
		Code:     raw.Code,
	}}
}

// toRange converts the worker's 1-based coordinates. The worker only reports
// single-line ranges: the end column is derived from the offset width.
func (d RawDiagnostic) toRange() Range {
	start := Position{
		Line:      int(max(d.LineNumber-1, 0)),
		Character: int(max(d.ColumnNumber-1, 0)),
	}

	width := 0
	if d.StartPosition >= 0 && d.EndPosition >= d.StartPosition {
		width = int(d.EndPosition - d.StartPosition)
	}

	return Range{
		Start: start,
		End:   Position{Line: start.Line, Character: start.Character + width},
	}
}

func (t *RawTypeInfo) decode() (TypeInfo, error) {
	if len(t.Checker) == 0 || len(t.Kind) == 0 {
		return TypeInfo{}, &TypeInfoParseError{
			Message: fmt.Sprintf("%+v", *t),
			Reason:  "checker and kind are required",
		}
	}

	r := Range{
		Start: Position{Line: t.Range[0], Character: t.Range[1]},
		End:   Position{Line: t.Range[2], Character: t.Range[3]},
	}
	if r.End.Less(r.Start) {
		return TypeInfo{}, &TypeInfoParseError{
			Message: fmt.Sprintf("%+v", *t),
			Reason:  fmt.Sprintf("range end %s precedes start %s", r.End, r.Start),
		}
	}

	return TypeInfo{Checker: t.Checker, Kind: t.Kind, Type: t.Type, Range: r}, nil
}

// EncodeLine renders a batch as one line of worker output, terminated by a
// newline. It is the inverse of DecodeLine for entries DecodeLine produces.
func EncodeLine(b Batch) ([]byte, error) {
	raws := make([]RawDiagnostic, 0, len(b.Entries))
	for _, e := range b.Entries {
		raws = append(raws, encodeEntry(e))
	}

	data, err := json.Marshal(rawBatch{Diags: &raws})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func encodeEntry(e Entry) RawDiagnostic {
	switch e := e.(type) {
	case Ordinary:
		d := e.Diagnostic
		width := 0
		if d.Range.End.Line == d.Range.Start.Line && d.Range.End.Character > d.Range.Start.Character {
			width = d.Range.End.Character - d.Range.Start.Character
		}

		kind := d.Kind
		if len(kind) == 0 {
			kind = kindForSeverity(d.Severity)
		}

		return RawDiagnostic{
			Source:        d.File,
			Kind:          string(kind),
			Position:      0,
			StartPosition: 0,
			EndPosition:   int64(width),
			LineNumber:    int64(d.Range.Start.Line + 1),
			ColumnNumber:  int64(d.Range.Start.Character + 1),
			Code:          d.Code,
			Message:       d.Message,
		}
	case TypeNote:
		t := e.Info
		return RawDiagnostic{
			Source:        t.File,
			Kind:          string(KindNote),
			Position:      -1,
			StartPosition: -1,
			EndPosition:   -1,
			LineNumber:    int64(t.Range.Start.Line + 1),
			ColumnNumber:  int64(t.Range.Start.Character + 1),
			Message:       FormatTypeInfo(t),
			TypeInfo: &RawTypeInfo{
				Checker: t.Checker,
				Kind:    t.Kind,
				Type:    t.Type,
				Range:   [4]int{t.Range.Start.Line, t.Range.Start.Character, t.Range.End.Line, t.Range.End.Character},
			},
		}
	case Unrecognized:
		return e.Raw
	}
	panic(fmt.Sprintf("wire: unknown entry type %T", e))
}

func kindForSeverity(s Severity) Kind {
	switch s {
	case SeverityError:
		return KindError
	case SeverityWarning:
		return KindWarning
	}
	return KindNote
}
