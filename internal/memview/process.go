package memview

import (
	"bytes"
	"fmt"

	"golang.org/x/sys/unix"
)

// ProcessVMView reads and writes a managed process's address space via
// process_vm_readv(2)/process_vm_writev(2), the same out-of-process
// mechanism the teacher's own FFI layer uses to cross a privilege
// boundary without attaching a debugger.
type ProcessVMView struct {
	pid int
}

// NewProcessVMView returns a view targeting the OS process pid.
func NewProcessVMView(pid int) *ProcessVMView {
	return &ProcessVMView{pid: pid}
}

func (v *ProcessVMView) Read(ptr uintptr, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(n)}}
	remote := []unix.RemoteIovec{{Base: ptr, Len: n}}

	got, err := unix.ProcessVMReadv(v.pid, local, remote, 0)
	if err != nil {
		return nil, fmt.Errorf("memview: process_vm_readv(pid=%d, ptr=%#x, n=%d): %w", v.pid, ptr, n, err)
	}
	return buf[:got], nil
}

func (v *ProcessVMView) Write(ptr uintptr, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: &b[0], Len: uint64(len(b))}}
	remote := []unix.RemoteIovec{{Base: ptr, Len: len(b)}}

	n, err := unix.ProcessVMWritev(v.pid, local, remote, 0)
	if err != nil {
		return fmt.Errorf("memview: process_vm_writev(pid=%d, ptr=%#x, n=%d): %w", v.pid, ptr, len(b), err)
	}
	if n != len(b) {
		return fmt.Errorf("memview: short process_vm_writev: wrote %d of %d bytes", n, len(b))
	}
	return nil
}

func (v *ProcessVMView) ReadCString(ptr uintptr, max int) (string, error) {
	b, err := v.Read(ptr, max)
	if err != nil {
		return "", err
	}
	idx := bytes.IndexByte(b, 0)
	if idx < 0 {
		return "", fmt.Errorf("memview: no NUL terminator within %d bytes at %#x", max, ptr)
	}
	return string(b[:idx]), nil
}
