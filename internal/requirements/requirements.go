// Package requirements contains the small amount of text handling locked
// installs need: splitting extras suffixes off install arguments, and
// cleaning up exported requirements before they are used as constraints.
package requirements

import (
	"regexp"
	"strings"
)

var extrasPattern = regexp.MustCompile(`^(.+?)\[([^\]]*)\]$`)

// SplitExtras separates an optional extras suffix from an install argument.
// "flask[async]" yields ("flask", ["async"]); arguments without a suffix
// are returned unchanged with nil extras.
func SplitExtras(arg string) (base string, extras []string) {
	m := extrasPattern.FindStringSubmatch(arg)
	if m == nil {
		return arg, nil
	}

	for _, extra := range strings.Split(m[2], ",") {
		extra = strings.TrimSpace(extra)
		if extra != "" {
			extras = append(extras, extra)
		}
	}
	return m[1], extras
}

// JoinExtras renders an extras suffix for an install argument.
func JoinExtras(base string, extras []string) string {
	if len(extras) == 0 {
		return base
	}
	return base + "[" + strings.Join(extras, ",") + "]"
}

// Sanitize removes warning lines that poetry mixes into exported
// requirements on stdout. It returns the cleaned text and the removed
// lines.
func Sanitize(text string) (string, []string) {
	var (
		clean    strings.Builder
		warnings []string
	)

	for _, line := range strings.SplitAfter(text, "\n") {
		if strings.HasPrefix(line, "Warning:") {
			warnings = append(warnings, strings.TrimRight(line, "\n"))
			continue
		}
		clean.WriteString(line)
	}

	return clean.String(), warnings
}
