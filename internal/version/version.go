// Package version reports the SDK version. CommitHash is set with -ldflags.
package version

import (
	"fmt"
	"strings"
)

// CommitHash is the git commit of this build, if known.
var CommitHash string

const (
	sdkMajor uint = 0
	sdkMinor uint = 3
	sdkPatch uint = 0

	// sdkPreRelease may only contain [0-9A-Za-z-].
	sdkPreRelease = ""

	productName = "tsl-go-sdk"
)

// Version returns the SemVer string of the SDK.
func Version() string {
	v := fmt.Sprintf("%d.%d.%d", sdkMajor, sdkMinor, sdkPatch)
	if pre := sanitize(sdkPreRelease); pre != "" {
		v += "-" + pre
	}
	return v
}

// UserAgent is sent with every HTTP request.
func UserAgent() string {
	ua := productName + "/" + Version()
	if c := sanitize(strings.TrimSpace(CommitHash)); c != "" {
		ua += " (" + c + ")"
	}
	return ua
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-':
			return r
		default:
			return -1
		}
	}, s)
}
