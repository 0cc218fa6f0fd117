package wire

import (
	"net/url"
	"path/filepath"
	"strings"

	"go.lsp.dev/uri"
)

// FileURI normalises a file identifier into the canonical file URI used as a
// session key. Workers report either absolute paths or file URIs, and the JVM
// writes file URIs with a single slash (file:/home/...), so both forms are
// reduced to a path first.
func FileURI(source string) uri.URI {
	if strings.HasPrefix(source, "file:") {
		if u, err := url.Parse(source); err == nil && len(u.Path) != 0 {
			return uri.File(u.Path)
		}
		return uri.URI(source)
	}

	if filepath.IsAbs(source) {
		return uri.File(filepath.Clean(source))
	}

	return uri.URI(source)
}

// IsFileURI reports whether u can be converted to a path on disk.
func IsFileURI(u uri.URI) bool {
	return strings.HasPrefix(string(u), uri.FileScheme+"://")
}
