// ABOUTME: Fixed-capacity circular store of stylus sample records
// ABOUTME: Typed view over a byte region shared with the native producer
package ring

import (
	"errors"
	"fmt"

	"github.com/harper/pencil-bridge/internal/domain/sample"
	"github.com/harper/pencil-bridge/internal/infrastructure/record"
)

var ErrRegionSize = errors.New("region size is not a positive multiple of the record size")

// Store is a bounded view over N record slots. It holds no head or tail;
// callers supply the valid range on every drain. There is no locking: the
// producer writes and the consumer reads under an external handshake.
type Store struct {
	mem   []byte
	n     int
	unmap func() error
}

// New allocates a region for capacity records.
func New(capacity int) *Store {
	if capacity <= 0 {
		panic(fmt.Sprintf("ring: capacity must be positive, got %d", capacity))
	}
	return &Store{mem: make([]byte, capacity*record.Size), n: capacity}
}

// FromRegion wraps memory owned by someone else. The Store never grows or
// frees it.
func FromRegion(mem []byte) (*Store, error) {
	if len(mem) == 0 || len(mem)%record.Size != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrRegionSize, len(mem))
	}
	return &Store{mem: mem, n: len(mem) / record.Size}, nil
}

func (s *Store) Capacity() int {
	return s.n
}

// Read decodes the record at index. An index outside [0, Capacity) is a
// programmer error and panics.
func (s *Store) Read(index int) sample.Sample {
	return record.Decode(s.slot(index))
}

// Write encodes smp into the slot at index. Producer side only.
func (s *Store) Write(index int, smp sample.Sample) {
	record.Encode(s.slot(index), smp)
}

func (s *Store) NextIndex(index int) int {
	index++
	if index == s.n {
		return 0
	}
	return index
}

// Close releases a mapped region. It is a no-op for allocated or wrapped stores.
func (s *Store) Close() error {
	if s.unmap == nil {
		return nil
	}
	err := s.unmap()
	s.unmap = nil
	s.mem = nil
	return err
}

func (s *Store) slot(index int) []byte {
	if index < 0 || index >= s.n {
		panic(fmt.Sprintf("ring: index %d out of range [0, %d)", index, s.n))
	}
	off := index * record.Size
	return s.mem[off : off+record.Size]
}
