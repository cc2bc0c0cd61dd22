//go:build !unix

// ABOUTME: Fallback for platforms without mmap support
// ABOUTME: Shared regions are unavailable; allocated stores still work
package ring

import (
	"errors"
	"fmt"
)

var errNoMmap = errors.New("shared regions require a unix platform")

func MapFile(path string, capacity int) (*Store, error) {
	return nil, fmt.Errorf("map %s: %w", path, errNoMmap)
}
