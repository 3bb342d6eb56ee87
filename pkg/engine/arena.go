package engine

import (
	"errors"
	"fmt"
)

// DefaultArenaSize is the tensor arena budget in bytes.
const DefaultArenaSize = 128 * 1024

// wordSize is the size of one arena slot. Tensors are float32, so the arena
// is word-aligned storage.
const wordSize = 4

// ErrArenaExhausted is returned when a tensor does not fit in the arena.
var ErrArenaExhausted = errors.New("tensor arena exhausted")

// Arena is a fixed-size scratch region that backs every tensor of a model.
//
// Memory is handed out with a bump pointer and never returned: all tensors are
// carved out once while the model is being allocated and then reused on every
// inference.
type Arena struct {
	buf  []float32
	used int
}

// NewArena allocates an arena of size bytes, rounded down to whole words.
func NewArena(size int) *Arena {
	if size < 0 {
		size = 0
	}
	return &Arena{buf: make([]float32, size/wordSize)}
}

// Alloc reserves n float32 elements.
func (a *Arena) Alloc(n int) ([]float32, error) {
	if n < 0 {
		return nil, fmt.Errorf("invalid tensor size %d", n)
	}
	if a.used+n > len(a.buf) {
		return nil, fmt.Errorf("%w: need %d bytes, %d of %d in use",
			ErrArenaExhausted, n*wordSize, a.used*wordSize, a.Size())
	}
	s := a.buf[a.used : a.used+n : a.used+n]
	a.used += n
	return s, nil
}

// Size returns the arena capacity in bytes.
func (a *Arena) Size() int {
	return len(a.buf) * wordSize
}

// Used returns the number of bytes handed out.
func (a *Arena) Used() int {
	return a.used * wordSize
}
