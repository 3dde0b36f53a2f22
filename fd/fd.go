package fd

import "path"
import "sync"
import "sync/atomic"

import "github.com/Starry-Mix-THU/starry-mix/defs"

const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fdops_i is what the descriptor layer needs from an open file.
type Fdops_i interface {
	Close() defs.Err_t
	// another descriptor now refers to the same open file
	Reopen() defs.Err_t
}

type Fd_t struct {
	// fops is an interface implemented via a "pointer receiver", thus fops
	// is a reference, not a value
	Fops  Fdops_i
	Perms int
}

func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	err := nfd.Fops.Reopen()
	if err != 0 {
		return nil, err
	}
	return nfd, 0
}

func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}

// Fdtable_t is a process's descriptor table. threads and CLONE_FILES
// children share one table by reference.
type Fdtable_t struct {
	// protects Fds
	Fdl sync.Mutex
	Fds []*Fd_t
	ref int32
}

func Mkfdtable() *Fdtable_t {
	return &Fdtable_t{ref: 1}
}

func (ft *Fdtable_t) Refup() {
	atomic.AddInt32(&ft.ref, 1)
}

// Refdown drops a reference; the last one closes every descriptor.
func (ft *Fdtable_t) Refdown() bool {
	c := atomic.AddInt32(&ft.ref, -1)
	if c < 0 {
		panic("fdtable refcount underflow")
	}
	if c != 0 {
		return false
	}
	ft.Fdl.Lock()
	for i := range ft.Fds {
		if ft.Fds[i] != nil {
			Close_panic(ft.Fds[i])
			ft.Fds[i] = nil
		}
	}
	ft.Fdl.Unlock()
	return true
}

func (ft *Fdtable_t) Refs() int {
	return int(atomic.LoadInt32(&ft.ref))
}

// Fd_insert installs f at the lowest free descriptor.
func (ft *Fdtable_t) Fd_insert(f *Fd_t) int {
	ft.Fdl.Lock()
	defer ft.Fdl.Unlock()
	for i := range ft.Fds {
		if ft.Fds[i] == nil {
			ft.Fds[i] = f
			return i
		}
	}
	ft.Fds = append(ft.Fds, f)
	return len(ft.Fds) - 1
}

func (ft *Fdtable_t) Fd_get(fdn int) (*Fd_t, bool) {
	ft.Fdl.Lock()
	defer ft.Fdl.Unlock()
	if fdn < 0 || fdn >= len(ft.Fds) || ft.Fds[fdn] == nil {
		return nil, false
	}
	return ft.Fds[fdn], true
}

func (ft *Fdtable_t) Fd_close(fdn int) defs.Err_t {
	ft.Fdl.Lock()
	if fdn < 0 || fdn >= len(ft.Fds) || ft.Fds[fdn] == nil {
		ft.Fdl.Unlock()
		return -defs.EBADF
	}
	f := ft.Fds[fdn]
	ft.Fds[fdn] = nil
	ft.Fdl.Unlock()
	return f.Fops.Close()
}

// Copy returns an independent table holding a reopened copy of every
// descriptor. the source is locked for the duration of the copy.
func (ft *Fdtable_t) Copy() (*Fdtable_t, defs.Err_t) {
	ft.Fdl.Lock()
	defer ft.Fdl.Unlock()
	nt := Mkfdtable()
	nt.Fds = make([]*Fd_t, len(ft.Fds))
	for i := range ft.Fds {
		if ft.Fds[i] == nil {
			continue
		}
		tfd, err := Copyfd(ft.Fds[i])
		if err != 0 {
			for j := 0; j < i; j++ {
				if nt.Fds[j] != nil {
					Close_panic(nt.Fds[j])
				}
			}
			return nil, err
		}
		nt.Fds[i] = tfd
	}
	return nt, 0
}

// Cwd_t is a process's filesystem context.
type Cwd_t struct {
	sync.Mutex // to serialize chdirs
	Fd         *Fd_t
	Path       string
	ref        int32
}

func MkRootCwd(fd *Fd_t) *Cwd_t {
	return &Cwd_t{Fd: fd, Path: "/", ref: 1}
}

func (cwd *Cwd_t) Fullpath(p string) string {
	if path.IsAbs(p) {
		return p
	}
	cwd.Lock()
	defer cwd.Unlock()
	return cwd.Path + "/" + p
}

func (cwd *Cwd_t) Canonicalpath(p string) string {
	return path.Clean(cwd.Fullpath(p))
}

// Chdir moves the context to dir, which f refers to.
func (cwd *Cwd_t) Chdir(f *Fd_t, dir string) {
	dir = cwd.Canonicalpath(dir)
	cwd.Lock()
	old := cwd.Fd
	cwd.Fd = f
	cwd.Path = dir
	cwd.Unlock()
	if old != nil {
		Close_panic(old)
	}
}

func (cwd *Cwd_t) Refup() {
	atomic.AddInt32(&cwd.ref, 1)
}

func (cwd *Cwd_t) Refdown() bool {
	c := atomic.AddInt32(&cwd.ref, -1)
	if c < 0 {
		panic("cwd refcount underflow")
	}
	if c != 0 {
		return false
	}
	cwd.Lock()
	if cwd.Fd != nil {
		Close_panic(cwd.Fd)
		cwd.Fd = nil
	}
	cwd.Unlock()
	return true
}

// Copy returns an independent context at the same directory.
func (cwd *Cwd_t) Copy() (*Cwd_t, defs.Err_t) {
	cwd.Lock()
	defer cwd.Unlock()
	nc := &Cwd_t{Path: cwd.Path, ref: 1}
	if cwd.Fd != nil {
		tfd, err := Copyfd(cwd.Fd)
		if err != 0 {
			return nil, err
		}
		nc.Fd = tfd
	}
	return nc, 0
}
