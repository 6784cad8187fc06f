//go:build e2e

package e2e

import (
	"regexp"
	"strings"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func StripAnsi(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// ErrorLines returns the lines of a console log logged at error level.
func ErrorLines(log string) []string {
	var out []string
	for _, line := range strings.Split(StripAnsi(log), "\n") {
		if strings.Contains(line, "ERR") {
			out = append(out, line)
		}
	}
	return out
}
