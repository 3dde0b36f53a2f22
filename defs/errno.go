//go:build linux

package defs

import "strconv"

import "golang.org/x/sys/unix"

// errno values follow the x86-64 Linux ABI; x/sys agrees on every linux port
// but mips. system calls return them negated.
const (
	EPERM        Err_t = Err_t(unix.EPERM)
	ENOENT       Err_t = Err_t(unix.ENOENT)
	ESRCH        Err_t = Err_t(unix.ESRCH)
	EINTR        Err_t = Err_t(unix.EINTR)
	EIO          Err_t = Err_t(unix.EIO)
	E2BIG        Err_t = Err_t(unix.E2BIG)
	ENOEXEC      Err_t = Err_t(unix.ENOEXEC)
	EBADF        Err_t = Err_t(unix.EBADF)
	EAGAIN       Err_t = Err_t(unix.EAGAIN)
	ENOMEM       Err_t = Err_t(unix.ENOMEM)
	EACCES       Err_t = Err_t(unix.EACCES)
	EFAULT       Err_t = Err_t(unix.EFAULT)
	EEXIST       Err_t = Err_t(unix.EEXIST)
	ENOTDIR      Err_t = Err_t(unix.ENOTDIR)
	EISDIR       Err_t = Err_t(unix.EISDIR)
	EINVAL       Err_t = Err_t(unix.EINVAL)
	EMFILE       Err_t = Err_t(unix.EMFILE)
	ENOSPC       Err_t = Err_t(unix.ENOSPC)
	ENAMETOOLONG Err_t = Err_t(unix.ENAMETOOLONG)
	ENOSYS       Err_t = Err_t(unix.ENOSYS)
	ELOOP        Err_t = Err_t(unix.ELOOP)
	ETIMEDOUT    Err_t = Err_t(unix.ETIMEDOUT)
	EOWNERDEAD   Err_t = Err_t(unix.EOWNERDEAD)
)

type Err_t int

// Error makes an Err_t usable wherever an error is expected, e.g. when a
// kernel code crosses into setup code. the sign is ignored.
func (e Err_t) Error() string {
	if e < 0 {
		e = -e
	}
	return unix.ErrnoName(unix.Errno(e)) + ": " + unix.Errno(e).Error()
}

// Errname returns the symbolic name of e, e.g. "EAGAIN".
func Errname(e Err_t) string {
	if e < 0 {
		e = -e
	}
	if n := unix.ErrnoName(unix.Errno(e)); n != "" {
		return n
	}
	return "errno" + strconv.Itoa(int(e))
}
