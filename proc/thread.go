package proc

import "sync/atomic"
import "weak"

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/sched"
import "github.com/Starry-Mix-THU/starry-mix/tinfo"

type Thread_t struct {
	Tid  defs.Tid_t
	Proc *Proc_t
	Note *tinfo.Tnote_t

	// wake filter of the thread's current futex wait
	Futex_bitset atomic.Uint32
	// user address of the robust list head, 0 if none
	Robust_list atomic.Uintptr
	// cleared and woken when the thread exits
	Clear_child_tid atomic.Uintptr

	// the scheduler's handle for this thread. set once, after the
	// scheduler accepted the task.
	task  weak.Pointer[sched.Task_t]
	ready chan struct{}

	waiter *sched.Waiter_t
}

func mkthread(p *Proc_t, tid defs.Tid_t) *Thread_t {
	t := &Thread_t{Tid: tid, Proc: p, Note: tinfo.Mknote(tid),
		ready: make(chan struct{})}
	t.Futex_bitset.Store(defs.FUTEX_BITSET_MATCH_ANY)
	return t
}

// Init_task records the live handle the scheduler returned for t.
func (t *Thread_t) Init_task(task *sched.Task_t) {
	select {
	case <-t.ready:
		panic("task set twice")
	default:
	}
	t.task = weak.Make(task)
	t.waiter = sched.Mkwaiter(task)
	close(t.ready)
}

// Task returns t's scheduler handle, nil once the task is gone. must not be
// called before Init_task.
func (t *Thread_t) Task() *sched.Task_t {
	select {
	case <-t.ready:
	default:
		panic("task used before spawn")
	}
	return t.task.Value()
}

// Waiter is the wait queue entry t blocks on.
func (t *Thread_t) Waiter() *sched.Waiter_t {
	<-t.ready
	return t.waiter
}

// the user memory accessors below take addresses that may come from user
// space. callers wrap them in t.Note.Useraccess; a fault outside that scope
// is a kernel bug.

func (t *Thread_t) ufault(err defs.Err_t) defs.Err_t {
	if err == -defs.EFAULT && !t.Note.Accessing_user() {
		panic("user memory fault outside user access")
	}
	return err
}

func (t *Thread_t) Userreadn(va uintptr, n int) (int, defs.Err_t) {
	v, err := t.Proc.Vm.Userreadn(va, n)
	return v, t.ufault(err)
}

func (t *Thread_t) Userwriten(va uintptr, n, val int) defs.Err_t {
	return t.ufault(t.Proc.Vm.Userwriten(va, n, val))
}

func (t *Thread_t) K2user(src []uint8, uva uintptr) defs.Err_t {
	return t.ufault(t.Proc.Vm.K2user(src, uva))
}

func (t *Thread_t) User2k(dst []uint8, uva uintptr) defs.Err_t {
	return t.ufault(t.Proc.Vm.User2k(dst, uva))
}

func (t *Thread_t) Usertimespec(va uintptr) (defs.Timespec_t, defs.Err_t) {
	ts, err := t.Proc.Vm.Usertimespec(va)
	return ts, t.ufault(err)
}

// Userwritable only checks the mapping, so it never faults.
func (t *Thread_t) Userwritable(va uintptr, n int) defs.Err_t {
	return t.Proc.Vm.Userwritable(va, n)
}
