package proc

import "sync/atomic"

import "go.uber.org/zap"

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/fd"
import "github.com/Starry-Mix-THU/starry-mix/futex"
import "github.com/Starry-Mix-THU/starry-mix/hashtable"
import "github.com/Starry-Mix-THU/starry-mix/limits"
import "github.com/Starry-Mix-THU/starry-mix/sched"
import "github.com/Starry-Mix-THU/starry-mix/stats"
import "github.com/Starry-Mix-THU/starry-mix/vm"

// Proctab_t holds every process and thread of one kernel instance, together
// with what clone needs from the rest of the kernel.
type Proctab_t struct {
	Sched sched.Sched_i
	// the kernel's own mappings, copied into each new address space
	Kvm  *vm.Vm_t
	Arch string
	Lim  *limits.Syslimit_t
	St   *stats.Stats_t
	Log  *zap.Logger

	procs   *hashtable.Hashtable_t[int, *Proc_t]
	threads *hashtable.Hashtable_t[defs.Tid_t, *Thread_t]
	nexttid atomic.Int64
}

func Mkproctab(s sched.Sched_i, kvm *vm.Vm_t, arch string, lim *limits.Syslimit_t,
	st *stats.Stats_t, log *zap.Logger) *Proctab_t {
	if log == nil {
		log = zap.NewNop()
	}
	if st == nil {
		st = stats.Discard()
	}
	sz := lim.Sysprocs.Remain()
	if sz < 1 {
		sz = 1
	}
	return &Proctab_t{
		Sched:   s,
		Kvm:     kvm,
		Arch:    arch,
		Lim:     lim,
		St:      st,
		Log:     log,
		procs:   hashtable.MkHash[int, *Proc_t](sz),
		threads: hashtable.MkHash[defs.Tid_t, *Thread_t](sz),
	}
}

func (pt *Proctab_t) Tid_new() defs.Tid_t {
	return defs.Tid_t(pt.nexttid.Add(1))
}

func (pt *Proctab_t) Thread(tid defs.Tid_t) (*Thread_t, bool) {
	return pt.threads.Get(tid)
}

func (pt *Proctab_t) Proc(pid int) (*Proc_t, bool) {
	return pt.procs.Get(pid)
}

func (pt *Proctab_t) Nthreads() int {
	return pt.threads.Size()
}

func (pt *Proctab_t) Nprocs() int {
	return pt.procs.Size()
}

// Procattr_t is the state a new process starts with.
type Procattr_t struct {
	Name    string
	Parent  *Proc_t
	Vm      *vm.Vm_t
	Futexes *futex.Table_t
	Sigacts *Sigacts_t
	Fds     *fd.Fdtable_t
	Cwd     *fd.Cwd_t
	Umask   uint32
	Exepath string
	Exitsig int
}

// Proc_new creates a process with the given pid and registers it with its
// parent and the process table. the process takes over the references in
// pa.
func (pt *Proctab_t) Proc_new(pid int, pa *Procattr_t) (*Proc_t, defs.Err_t) {
	if !pt.Lim.Sysprocs.Take() {
		return nil, -defs.ENOMEM
	}
	p := &Proc_t{
		Pid:      pid,
		Name:     pa.Name,
		Vm:       pa.Vm,
		Futexes:  pa.Futexes,
		Sigacts:  pa.Sigacts,
		Fds:      pa.Fds,
		Cwd:      pa.Cwd,
		Exitsig:  pa.Exitsig,
		parent:   pa.Parent,
		children: make(map[int]*Proc_t),
		threads:  make(map[defs.Tid_t]*Thread_t),
	}
	if p.Futexes == nil {
		p.Futexes = futex.Mktable(pt.Lim, pt.St, pt.Log)
	}
	if p.Sigacts == nil {
		p.Sigacts = Mksigacts()
	}
	p.umask.Store(pa.Umask)
	p.Set_exepath(pa.Exepath)
	if pa.Parent != nil && !pa.Parent.addchild(p) {
		pt.Lim.Sysprocs.Give()
		return nil, -defs.ESRCH
	}
	if _, ok := pt.procs.Set(pid, p); !ok {
		panic("pid reused")
	}
	return p, 0
}

// Thread_new creates a thread of p. it is not visible to anyone until it
// is started.
func (pt *Proctab_t) Thread_new(p *Proc_t, tid defs.Tid_t) *Thread_t {
	return mkthread(p, tid)
}

// Start registers t and hands it to the scheduler; body then runs on t's
// behalf. t exits when body returns.
func (pt *Proctab_t) Start(t *Thread_t, name string, tf *defs.Tf_t,
	body func(*Thread_t)) defs.Err_t {
	if !t.Proc.addthread(t) {
		return -defs.ESRCH
	}
	// registered before it can run, so that anyone looking the tid up
	// after the clone returns finds it.
	if _, ok := pt.threads.Set(t.Tid, t); !ok {
		panic("tid reused")
	}
	pt.St.Threads.Inc()

	task := sched.Mktask(t.Tid, name, tf)
	task.Pmap = t.Proc.Vm.P_pmap
	task.Ext = t
	live := pt.Sched.Spawn(task, func(*sched.Task_t) {
		<-t.ready
		if body != nil {
			body(t)
		}
		pt.Exit(t, 0)
	})
	t.Init_task(live)
	return 0
}
