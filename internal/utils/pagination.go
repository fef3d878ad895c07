// Package utils holds small helpers shared across layers, independent of
// any routing or persistence logic.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def when s is empty or not a
// valid integer.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageWindow normalizes raw page/page_size query values into a 1-based
// page and a size clamped to [1, maxSize]. Out-of-range or unparsable
// values fall back to the defaults used by the list endpoints.
func PageWindow(rawPage, rawSize string, defSize, maxSize int) (page, size int) {
	page = AtoiDefault(rawPage, 1)
	if page < 1 {
		page = 1
	}
	size = AtoiDefault(rawSize, defSize)
	if size < 1 || size > maxSize {
		size = defSize
	}
	return page, size
}
