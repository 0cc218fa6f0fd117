package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// checkerAliases maps the short checker names accepted in settings to the
// processor class names passed to the worker.
var checkerAliases = map[string]string{
	"aliasing":       "org.checkerframework.common.aliasing.AliasingChecker",
	"constant-value": "org.checkerframework.common.value.ValueChecker",
	"fenum":          "org.checkerframework.checker.fenum.FenumChecker",
	"formatter":      "org.checkerframework.checker.formatter.FormatterChecker",
	"guieffect":      "org.checkerframework.checker.guieffect.GuiEffectChecker",
	"i18n-formatter": "org.checkerframework.checker.i18nformatter.I18nFormatterChecker",
	"index":          "org.checkerframework.checker.index.IndexChecker",
	"interning":      "org.checkerframework.checker.interning.InterningChecker",
	"lock":           "org.checkerframework.checker.lock.LockChecker",
	"nullness":       "org.checkerframework.checker.nullness.NullnessChecker",
	"optional":       "org.checkerframework.checker.optional.OptionalChecker",
	"propkey":        "org.checkerframework.checker.propkey.PropertyKeyChecker",
	"regex":          "org.checkerframework.checker.regex.RegexChecker",
	"signature":      "org.checkerframework.checker.signature.SignatureChecker",
	"signedness":     "org.checkerframework.checker.signedness.SignednessChecker",
	"tainting":       "org.checkerframework.checker.tainting.TaintingChecker",
	"units":          "org.checkerframework.checker.units.UnitsChecker",
}

// maxSuggestDistance bounds how far a misspelled alias may be from a known
// one to still be suggested.
const maxSuggestDistance = 3

// UnknownCheckerError is returned for a short checker name with no alias.
type UnknownCheckerError struct {
	Name       string
	Suggestion string
}

func (e *UnknownCheckerError) Error() string {
	if len(e.Suggestion) != 0 {
		return fmt.Sprintf("unknown checker %q, did you mean %q?", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unknown checker %q", e.Name)
}

// ResolveChecker returns the class name for name. Fully qualified names are
// returned unchanged.
func ResolveChecker(name string) (string, error) {
	name = strings.TrimSpace(name)
	if strings.Contains(name, ".") {
		return name, nil
	}

	if class, ok := checkerAliases[strings.ToLower(name)]; ok {
		return class, nil
	}

	return "", &UnknownCheckerError{Name: name, Suggestion: SuggestChecker(name)}
}

// SuggestChecker returns the closest known alias, or an empty string when
// nothing is close enough.
func SuggestChecker(name string) string {
	name = strings.ToLower(name)
	minDist := 0
	suggestion := ""

	for _, alias := range CheckerAliases() {
		dist := levenshtein.ComputeDistance(name, alias)
		if suggestion == "" || dist < minDist {
			minDist = dist
			suggestion = alias
		}
	}

	if minDist > maxSuggestDistance {
		return ""
	}
	return suggestion
}

// CheckerAliases lists the known short names in sorted order.
func CheckerAliases() []string {
	names := make([]string, 0, len(checkerAliases))
	for name := range checkerAliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
