// Package fs implements the kernel's open-file boundary between the
// syscall layer and the backends that actually move bytes: in-memory
// pipes and the tty/console device. It knows nothing about a directory
// tree; a File is always created already resolved to a concrete backend.
package fs

import "gopheros/kernel"

var (
	errBadFileDescriptor = &kernel.Error{Module: "fs", Message: "bad file descriptor"}
	errWouldBlock        = &kernel.Error{Module: "fs", Message: "operation would block"}
	errNotSupported      = &kernel.Error{Module: "fs", Message: "operation not supported by this file"}
	errBrokenPipe        = &kernel.Error{Module: "fs", Message: "broken pipe"}
)

// ErrWouldBlock is returned by a File's Read/Write when the operation could
// not complete immediately and the caller (kernel/syscall) should park the
// task and retry rather than treat it as a hard failure.
var ErrWouldBlock = errWouldBlock

// SeekWhence mirrors the lseek(2) whence argument.
type SeekWhence int

const (
	SeekSet SeekWhence = iota
	SeekCur
	SeekEnd
)

// File is implemented by every open-file backend reachable through the
// syscall gate's read/write/lseek/close/ioctl boundary.
type File interface {
	Read(buf []byte) (int, *kernel.Error)
	Write(buf []byte) (int, *kernel.Error)
	Seek(offset int64, whence SeekWhence) (int64, *kernel.Error)
	Close() *kernel.Error
	Ioctl(req uintptr, arg uintptr) (uintptr, *kernel.Error)
}

// maxOpenFiles bounds the global open-file table; task FD tables index
// into it.
const maxOpenFiles = 256

// table is the kernel-wide open-file table. A task's FDTable holds indices
// into it; multiple tasks (e.g. a forked parent/child) can share an entry,
// which is why entries are reference counted rather than owned outright.
var table [maxOpenFiles]*entry

type entry struct {
	file   File
	refcnt int32
}

// Install places f into the first free table slot and returns its global
// file-table index (distinct from any task's per-fd number). If every slot
// is taken it returns -1 and an "open file table exhausted" error.
func Install(f File) (int32, *kernel.Error) {
	for i := range table {
		if table[i] == nil {
			table[i] = &entry{file: f, refcnt: 1}
			return int32(i), nil
		}
	}
	return -1, &kernel.Error{Module: "fs", Message: "open file table exhausted"}
}

// Lookup returns the File installed at global index idx.
func Lookup(idx int32) (File, *kernel.Error) {
	if idx < 0 || int(idx) >= len(table) || table[idx] == nil {
		return nil, errBadFileDescriptor
	}
	return table[idx].file, nil
}

// Dup increments idx's reference count, used when a task forks and its FD
// table entries end up pointing at the same global slots as its parent's.
func Dup(idx int32) *kernel.Error {
	if idx < 0 || int(idx) >= len(table) || table[idx] == nil {
		return errBadFileDescriptor
	}
	table[idx].refcnt++
	return nil
}

// Release drops one reference to idx's entry, closing and freeing the slot
// once the count reaches zero.
func Release(idx int32) *kernel.Error {
	if idx < 0 || int(idx) >= len(table) || table[idx] == nil {
		return errBadFileDescriptor
	}
	e := table[idx]
	e.refcnt--
	if e.refcnt > 0 {
		return nil
	}
	table[idx] = nil
	return e.file.Close()
}
