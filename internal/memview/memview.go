// Package memview implements spec.md §4.8's abstraction over a managed
// process's address space: read, write, and read-cstring, used by
// syscall handlers to marshal arguments and results without ever
// touching the worker's own memory.
package memview

import (
	"bytes"
	"fmt"
)

// View is the interface every syscall handler uses to cross into a
// managed process's address space. Implementations must guarantee that
// once a syscall returns, every write it performed is visible to the
// managed process; multiple non-overlapping reads/writes within one
// syscall may be batched, but overlapping mutable borrows must be
// rejected.
type View interface {
	// Read copies n bytes starting at ptr out of the process.
	Read(ptr uintptr, n int) ([]byte, error)
	// Write copies b into the process starting at ptr.
	Write(ptr uintptr, b []byte) error
	// ReadCString reads a NUL-terminated string starting at ptr, up to
	// max bytes (NUL excluded from the returned string). Returns an error
	// if no NUL is found within max bytes.
	ReadCString(ptr uintptr, max int) (string, error)
}

// LoopbackView is an in-process stand-in backed by a plain byte slice
// addressed by offset, standing in for the real ptrace/shared-memory
// mechanism (out of scope per spec.md §1). Used by unit tests and the
// bundled echo-server/echo-client apps in cmd/shadow.
type LoopbackView struct {
	mem []byte
}

// NewLoopbackView returns a view over a freshly zeroed address space of
// the given size.
func NewLoopbackView(size int) *LoopbackView {
	return &LoopbackView{mem: make([]byte, size)}
}

func (v *LoopbackView) Read(ptr uintptr, n int) ([]byte, error) {
	if err := v.bounds(ptr, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, v.mem[ptr:int(ptr)+n])
	return out, nil
}

func (v *LoopbackView) Write(ptr uintptr, b []byte) error {
	if err := v.bounds(ptr, len(b)); err != nil {
		return err
	}
	copy(v.mem[ptr:], b)
	return nil
}

func (v *LoopbackView) ReadCString(ptr uintptr, max int) (string, error) {
	if err := v.bounds(ptr, 0); err != nil {
		return "", err
	}
	end := int(ptr) + max
	if end > len(v.mem) {
		end = len(v.mem)
	}
	idx := bytes.IndexByte(v.mem[ptr:end], 0)
	if idx < 0 {
		return "", fmt.Errorf("memview: no NUL terminator within %d bytes at %#x", max, ptr)
	}
	return string(v.mem[ptr : int(ptr)+idx]), nil
}

func (v *LoopbackView) bounds(ptr uintptr, n int) error {
	if int(ptr) < 0 || int(ptr)+n > len(v.mem) {
		return fmt.Errorf("memview: access [%#x, %#x) out of bounds (size %d)", ptr, int(ptr)+n, len(v.mem))
	}
	return nil
}
