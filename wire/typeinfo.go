package wire

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TypeInfoMarker identifies diagnostics that carry type information for
// hovers rather than an issue to display.
const TypeInfoMarker = "lsp.type.information"

var rangePattern = regexp.MustCompile(`^range=\((\d+),\s*(\d+),\s*(\d+),\s*(\d+)\)$`)

// IsTypeInfoMessage reports whether msg carries a type information note.
func IsTypeInfoMessage(msg string) bool {
	return strings.Contains(msg, TypeInfoMarker)
}

// ParseTypeInfo parses the legacy note format:
//
//	[lsp.type.information] checker=<name>;kind=<KIND>_TYPE;type=<expr>;range=(l1, c1, l2, c2)
//
// The type expression may itself contain ';' since the fields are located by
// name and the range by the last separator.
func ParseTypeInfo(msg string) (TypeInfo, error) {
	fail := func(format string, args ...any) (TypeInfo, error) {
		return TypeInfo{}, &TypeInfoParseError{Message: msg, Reason: fmt.Sprintf(format, args...)}
	}

	body := msg
	if idx := strings.Index(body, TypeInfoMarker); idx >= 0 {
		body = body[idx+len(TypeInfoMarker):]
	}
	body = strings.TrimLeft(body, "]): \t")

	if !strings.HasPrefix(body, "checker=") {
		return fail("missing checker field")
	}

	last := strings.LastIndex(body, ";")
	if last < 0 {
		return fail("missing range field")
	}

	fields, rangePart := body[:last], strings.TrimSpace(body[last+1:])
	kindIdx := strings.Index(fields, ";kind=")
	if kindIdx < 0 {
		return fail("missing kind field")
	}

	typeIdx := strings.Index(fields[kindIdx:], ";type=")
	if typeIdx < 0 {
		return fail("missing type field")
	}
	typeIdx += kindIdx

	info := TypeInfo{
		Checker: strings.TrimSpace(fields[len("checker="):kindIdx]),
		Kind:    strings.TrimSpace(fields[kindIdx+len(";kind=") : typeIdx]),
		Type:    strings.TrimSpace(fields[typeIdx+len(";type="):]),
	}

	if len(info.Checker) == 0 {
		return fail("empty checker name")
	} else if len(info.Kind) == 0 {
		return fail("empty kind")
	}

	r, err := parseRange(rangePart)
	if err != nil {
		return fail("%s", err.Error())
	}

	info.Range = r
	return info, nil
}

func parseRange(s string) (Range, error) {
	m := rangePattern.FindStringSubmatch(s)
	if m == nil {
		return Range{}, fmt.Errorf("unexpected range %q", s)
	}

	var nums [4]int
	for i := range nums {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Range{}, err
		}
		nums[i] = n
	}

	r := Range{
		Start: Position{Line: nums[0], Character: nums[1]},
		End:   Position{Line: nums[2], Character: nums[3]},
	}
	if r.End.Less(r.Start) {
		return Range{}, fmt.Errorf("range end %s precedes start %s", r.End, r.Start)
	}
	return r, nil
}

// FormatTypeInfo renders a note back into the legacy message format.
func FormatTypeInfo(t TypeInfo) string {
	return fmt.Sprintf("[%s] checker=%s;kind=%s;type=%s;range=(%d, %d, %d, %d)",
		TypeInfoMarker, t.Checker, t.Kind, t.Type,
		t.Range.Start.Line, t.Range.Start.Character, t.Range.End.Line, t.Range.End.Character)
}

func kindTag(kind string) string {
	return strings.ToLower(strings.TrimSuffix(kind, "_TYPE"))
}
