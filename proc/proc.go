package proc

import "sync"
import "sync/atomic"

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/fd"
import "github.com/Starry-Mix-THU/starry-mix/futex"
import "github.com/Starry-Mix-THU/starry-mix/vm"

type Sigact_t struct {
	Handler  uintptr
	Flags    uint64
	Restorer uintptr
	Mask     uint64
}

// Sigacts_t is a signal action table. CLONE_SIGHAND children share their
// parent's table by reference.
type Sigacts_t struct {
	sync.Mutex
	Acts [defs.NSIG]Sigact_t
}

func Mksigacts() *Sigacts_t {
	return &Sigacts_t{}
}

func (sa *Sigacts_t) Get(sig int) (Sigact_t, defs.Err_t) {
	if sig <= 0 || sig > defs.NSIG {
		return Sigact_t{}, -defs.EINVAL
	}
	sa.Lock()
	defer sa.Unlock()
	return sa.Acts[sig-1], 0
}

func (sa *Sigacts_t) Set(sig int, act Sigact_t) defs.Err_t {
	if sig <= 0 || sig > defs.NSIG || sig == defs.SIGKILL {
		return -defs.EINVAL
	}
	sa.Lock()
	sa.Acts[sig-1] = act
	sa.Unlock()
	return 0
}

// Childexit_t records a child process that exited.
type Childexit_t struct {
	Pid     int
	Status  int
	Exitsig int
}

type Proc_t struct {
	Pid  int
	Name string

	// Address space
	Vm *vm.Vm_t
	// shared with every process using the same address space
	Futexes *futex.Table_t
	Sigacts *Sigacts_t
	Fds     *fd.Fdtable_t
	Cwd     *fd.Cwd_t

	umask   atomic.Uint32
	exepath atomic.Pointer[string]
	// signal sent to the parent when this process exits; 0 for none
	Exitsig int

	// protects the fields below
	sync.Mutex
	parent   *Proc_t
	children map[int]*Proc_t
	threads  map[defs.Tid_t]*Thread_t
	exited   []Childexit_t
	dead     bool
}

func (p *Proc_t) Umask() uint32 {
	return p.umask.Load()
}

func (p *Proc_t) Set_umask(m uint32) uint32 {
	return p.umask.Swap(m & 0777)
}

func (p *Proc_t) Exepath() string {
	if s := p.exepath.Load(); s != nil {
		return *s
	}
	return ""
}

func (p *Proc_t) Set_exepath(s string) {
	p.exepath.Store(&s)
}

func (p *Proc_t) Parent() *Proc_t {
	p.Lock()
	defer p.Unlock()
	return p.parent
}

func (p *Proc_t) Nthreads() int {
	p.Lock()
	defer p.Unlock()
	return len(p.threads)
}

func (p *Proc_t) Child(pid int) (*Proc_t, bool) {
	p.Lock()
	defer p.Unlock()
	c, ok := p.children[pid]
	return c, ok
}

// Exited returns the children that exited so far, oldest first.
func (p *Proc_t) Exited() []Childexit_t {
	p.Lock()
	defer p.Unlock()
	return append([]Childexit_t(nil), p.exited...)
}

// Thread0 returns some live thread of p, the lowest tid if any.
func (p *Proc_t) Thread0() (*Thread_t, bool) {
	p.Lock()
	defer p.Unlock()
	var ret *Thread_t
	for tid, t := range p.threads {
		if ret == nil || tid < ret.Tid {
			ret = t
		}
	}
	return ret, ret != nil
}

// registers a prospective child. fails if p is gone.
func (p *Proc_t) addchild(c *Proc_t) bool {
	p.Lock()
	defer p.Unlock()
	if p.dead {
		return false
	}
	p.children[c.Pid] = c
	return true
}

func (p *Proc_t) childexit(c *Proc_t, status int) {
	p.Lock()
	delete(p.children, c.Pid)
	p.exited = append(p.exited, Childexit_t{Pid: c.Pid, Status: status,
		Exitsig: c.Exitsig})
	p.Unlock()
}

func (p *Proc_t) addthread(t *Thread_t) bool {
	p.Lock()
	defer p.Unlock()
	if p.dead {
		return false
	}
	p.threads[t.Tid] = t
	return true
}

// removes t; returns true if t was the last thread, in which case p is
// marked dead.
func (p *Proc_t) delthread(t *Thread_t) bool {
	p.Lock()
	defer p.Unlock()
	delete(p.threads, t.Tid)
	if len(p.threads) == 0 {
		p.dead = true
		return true
	}
	return false
}
