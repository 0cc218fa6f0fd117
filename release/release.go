package release

import (
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

// Name is reported to clients in the initialize result.
const Name = "checkerls"

func Version() string {
	return fmt.Sprintf("%s %s", versioninfo.Short(), versioninfo.Version)
}
