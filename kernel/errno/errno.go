// Package errno defines the Linux-compatible errno values the syscall gate
// encodes as negative return values (-errno), together with helpers to
// produce and recognize that encoding. It does not map *kernel.Error values
// to errnos; each syscall picks the errno it returns.
package errno

// Errno is a positive error number; syscalls return its negation.
type Errno int32

const (
	EPERM   = Errno(1)
	ENOENT  = Errno(2)
	ESRCH   = Errno(3)
	EINTR   = Errno(4)
	EIO     = Errno(5)
	ENOEXEC = Errno(8)
	EBADF   = Errno(9)
	ECHILD  = Errno(10)
	EAGAIN  = Errno(11)
	ENOMEM  = Errno(12)
	EACCES  = Errno(13)
	EFAULT  = Errno(14)
	ENOTDIR = Errno(20)
	EINVAL  = Errno(22)
	EMFILE  = Errno(24)
	ENOTTY  = Errno(25)
	ESPIPE  = Errno(29)
	ENOSYS  = Errno(38)
)

// maxErrno bounds the range [-4095, -1] a syscall return value must fall
// within to be recognized as -errno rather than a valid result.
const maxErrno = 4095

// IsValid reports whether ret, interpreted as a syscall return value, lies
// in the negative errno encoding range.
func IsValid(ret int64) bool {
	return ret >= -maxErrno && ret <= -1
}

// Negate returns the syscall return value encoding e.
func (e Errno) Negate() int64 { return -int64(e) }
