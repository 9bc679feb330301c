// Package util provides small string and path helpers shared across the
// identity adapter packages.
package util

import "strings"

// SafeTruncate returns at most maxLen bytes of s.
// A negative maxLen yields "".
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// FirstNonEmpty returns the first argument that is not blank.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// NormalizePath strips trailing slashes so "/health/" and "/health" compare
// equal. The root path stays "/".
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

// HasPathPrefix reports whether path equals prefix or lies below it on a
// segment boundary, so "/auth" matches "/auth/github" but not "/authz".
func HasPathPrefix(path, prefix string) bool {
	path = NormalizePath(path)
	prefix = NormalizePath(prefix)
	if prefix == "/" {
		return true
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// Contains reports whether values contains v.
func Contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
