//go:build unix

// ABOUTME: Shared-memory backed store using an mmapped file
// ABOUTME: The file is the pre-established region both sides agree on
package ring

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/harper/pencil-bridge/internal/infrastructure/record"
)

// MapFile maps path as a region of capacity records, creating or growing the
// file as needed. The mapping is shared so writes from another process that
// maps the same file are visible once the notify handshake says so.
func MapFile(path string, capacity int) (*Store, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("map %s: capacity must be positive, got %d", path, capacity)
	}
	size := capacity * record.Size

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open region: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat region: %w", err)
	}
	if info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, fmt.Errorf("size region: %w", err)
		}
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap region: %w", err)
	}

	st, err := FromRegion(mem)
	if err != nil {
		_ = unix.Munmap(mem)
		return nil, err
	}
	st.unmap = func() error { return unix.Munmap(mem) }
	return st, nil
}
