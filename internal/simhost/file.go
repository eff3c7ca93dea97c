package simhost

import "os"

// RegularFile wraps a real OS file the simulator opened on the managed
// process's behalf, per spec.md §4.9. File I/O is treated as instantaneous
// in virtual time (see SPEC_FULL.md §9's open-question resolution), so no
// blocking condition is ever associated with one.
type RegularFile struct {
	*Base
	OSFile   *os.File
	// AbsPath is the absolute path this file was opened against, used to
	// resolve openat(2) calls through this descriptor as a directory fd.
	AbsPath string
}

// NewRegularFile wraps an already-opened OS file.
func NewRegularFile(f *os.File, absPath string) *RegularFile {
	return &RegularFile{
		Base:    NewBase(ACTIVE | READABLE | WRITABLE),
		OSFile:  f,
		AbsPath: absPath,
	}
}

func (f *RegularFile) Close() error {
	f.SetStatus(CLOSED)
	return f.OSFile.Close()
}
