package util

import "strings"

// Truthy reports whether s is one of the usual spellings of true in env
// vars: true, 1, yes or on, ignoring case and surrounding whitespace.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}

	return false
}
