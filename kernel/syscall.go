package kernel

import "time"

import "go.uber.org/zap"

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/futex"
import "github.com/Starry-Mix-THU/starry-mix/proc"

// Syscall dispatches the system call described by t's trap frame. threads
// created by clone or fork run child.
func (k *Kernel_t) Syscall(t *proc.Thread_t, tf *defs.Tf_t,
	child func(*proc.Thread_t)) int {
	sysno := int(tf[defs.TF_RAX])
	a1 := tf[defs.TF_RDI]
	a2 := tf[defs.TF_RSI]
	a3 := tf[defs.TF_RDX]
	// syscall clobbers rcx, so the fourth argument is passed in r10
	a4 := tf[defs.TF_R10]
	a5 := tf[defs.TF_R8]
	a6 := tf[defs.TF_R9]

	var ret int
	switch sysno {
	case defs.SYS_FUTEX:
		ret = k.Sys_futex(t, a1, int(a2), uint32(a3), a4, a5, uint32(a6))
	case defs.SYS_SET_ROBUST_LIST:
		ret = k.Sys_set_robust_list(t, a1, int(a2))
	case defs.SYS_GET_ROBUST_LIST:
		ret = k.Sys_get_robust_list(t, int(a1), a2, a3)
	case defs.SYS_SET_TID_ADDRESS:
		ret = k.Sys_set_tid_address(t, a1)
	case defs.SYS_GETTID:
		ret = int(t.Tid)
	case defs.SYS_CLONE:
		ret = k.Sys_clone(t, uint64(a1), a2, a3, a4, a5, tf, child)
	case defs.SYS_FORK:
		ret = k.Sys_fork(t, tf, child)
	case defs.SYS_EXIT:
		k.Sys_exit(t, int(a1))
	default:
		k.Log.Debug("unknown syscall", zap.Int("sysno", sysno),
			zap.Int("tid", int(t.Tid)))
		ret = int(-defs.ENOSYS)
	}
	return ret
}

var futexcmds = map[int]string{
	defs.FUTEX_WAIT:        "wait",
	defs.FUTEX_WAKE:        "wake",
	defs.FUTEX_REQUEUE:     "requeue",
	defs.FUTEX_CMP_REQUEUE: "cmp_requeue",
	defs.FUTEX_WAIT_BITSET: "wait_bitset",
	defs.FUTEX_WAKE_BITSET: "wake_bitset",
}

// Sys_futex implements futex(2). utime is the timeout pointer of the wait
// commands and the requeue count of the requeue commands. futex words are
// private to the caller's address space, so FUTEX_PRIVATE_FLAG changes
// nothing.
func (k *Kernel_t) Sys_futex(t *proc.Thread_t, uaddr uintptr, op int, val uint32,
	utime, uaddr2 uintptr, val3 uint32) int {
	cmd := op & defs.FUTEX_CMD_MASK
	name, ok := futexcmds[cmd]
	if !ok {
		name = "other"
	}
	var ret int
	err := t.Note.Useraccess(func() defs.Err_t {
		var err defs.Err_t
		ret, err = k.futex(t, cmd, op, uaddr, val, utime, uaddr2, val3)
		return err
	})
	k.St.Futexop(name, err)
	if err != 0 {
		return int(err)
	}
	return ret
}

func (k *Kernel_t) futex(t *proc.Thread_t, cmd, op int, uaddr uintptr, val uint32,
	utime, uaddr2 uintptr, val3 uint32) (int, defs.Err_t) {
	if uaddr%4 != 0 {
		return 0, -defs.EINVAL
	}
	p := t.Proc
	tb := p.Futexes
	space := p.Vm.Id()
	key := futex.Key_t{Space: space, Addr: uaddr}

	switch cmd {
	case defs.FUTEX_WAIT, defs.FUTEX_WAIT_BITSET:
		bitset := defs.FUTEX_BITSET_MATCH_ANY
		if cmd == defs.FUTEX_WAIT_BITSET {
			bitset = val3
		}
		if bitset == 0 {
			return 0, -defs.EINVAL
		}
		deadline, err := k.deadline(t, utime, cmd == defs.FUTEX_WAIT_BITSET,
			op&defs.FUTEX_CLOCK_REALTIME != 0)
		if err != 0 {
			return 0, err
		}
		t.Futex_bitset.Store(bitset)
		k.Log.Debug("futex wait", zap.Int("tid", int(t.Tid)),
			zap.Uintptr("uaddr", uaddr), zap.Uint32("val", val))
		return 0, tb.Wait(t.Waiter(), t, key, uaddr, val, deadline, bitset)
	case defs.FUTEX_WAKE, defs.FUTEX_WAKE_BITSET:
		bitset := defs.FUTEX_BITSET_MATCH_ANY
		if cmd == defs.FUTEX_WAKE_BITSET {
			bitset = val3
		}
		if bitset == 0 {
			return 0, -defs.EINVAL
		}
		return tb.Wake(key, int(val), bitset), 0
	case defs.FUTEX_REQUEUE, defs.FUTEX_CMP_REQUEUE:
		n, n2 := int32(val), int32(utime)
		if n < 0 || n2 < 0 {
			return 0, -defs.EINVAL
		}
		if uaddr2%4 != 0 {
			return 0, -defs.EINVAL
		}
		var cmp *uint32
		if cmd == defs.FUTEX_CMP_REQUEUE {
			cmp = &val3
		}
		key2 := futex.Key_t{Space: space, Addr: uaddr2}
		return tb.Requeue(t, key, uaddr, int(n), int(n2), key2, cmp)
	}
	return 0, -defs.ENOSYS
}

// converts a futex timeout to a deadline; the zero time if there is none.
// FUTEX_WAIT takes a relative timeout, FUTEX_WAIT_BITSET an absolute time on
// the monotonic clock, or on the wall clock with FUTEX_CLOCK_REALTIME.
func (k *Kernel_t) deadline(t *proc.Thread_t, utime uintptr, abs,
	realtime bool) (time.Time, defs.Err_t) {
	if utime == 0 {
		return time.Time{}, 0
	}
	ts, err := t.Usertimespec(utime)
	if err != 0 {
		return time.Time{}, err
	}
	d, err := ts.Duration()
	if err != 0 {
		return time.Time{}, err
	}
	now := time.Now()
	switch {
	case !abs:
		return now.Add(d), 0
	case realtime:
		return time.Unix(ts.Sec, ts.Nsec), 0
	}
	return now.Add(d - k.Monotonic()), 0
}

// Sys_set_robust_list records head as the caller's robust list.
func (k *Kernel_t) Sys_set_robust_list(t *proc.Thread_t, head uintptr, sz int) int {
	if sz != defs.SIZEOF_ROBUST_LIST_HEAD {
		return int(-defs.EINVAL)
	}
	t.Robust_list.Store(head)
	return 0
}

// Sys_get_robust_list stores the robust list head of thread tid, or of the
// caller if tid is 0, at headp and the head's size at szp.
func (k *Kernel_t) Sys_get_robust_list(t *proc.Thread_t, tid int, headp,
	szp uintptr) int {
	thr := t
	if tid != 0 {
		var ok bool
		if thr, ok = k.Procs.Thread(defs.Tid_t(tid)); !ok {
			return int(-defs.ESRCH)
		}
	}
	return int(t.Note.Useraccess(func() defs.Err_t {
		if err := t.Userwriten(headp, 8, int(thr.Robust_list.Load())); err != 0 {
			return err
		}
		return t.Userwriten(szp, 8, defs.SIZEOF_ROBUST_LIST_HEAD)
	}))
}

// Sys_set_tid_address sets the word the caller clears and wakes when it
// exits. returns the caller's tid.
func (k *Kernel_t) Sys_set_tid_address(t *proc.Thread_t, tidptr uintptr) int {
	t.Clear_child_tid.Store(tidptr)
	return int(t.Tid)
}

// Sys_clone implements clone(2) with the x86-64 argument order. tf is the
// caller's user context; the new thread runs child.
func (k *Kernel_t) Sys_clone(t *proc.Thread_t, flags uint64, stack, ptid, ctid,
	tls uintptr, tf *defs.Tf_t, child func(*proc.Thread_t)) int {
	tid, err := k.Procs.Clone(t, &proc.Cloneargs_t{
		Flags: flags,
		Stack: stack,
		Ptid:  ptid,
		Ctid:  ctid,
		Tls:   tls,
		Tf:    tf,
	}, child)
	if err != 0 {
		return int(err)
	}
	return int(tid)
}

// Sys_fork is clone with nothing shared and SIGCHLD sent on exit.
func (k *Kernel_t) Sys_fork(t *proc.Thread_t, tf *defs.Tf_t,
	child func(*proc.Thread_t)) int {
	return k.Sys_clone(t, defs.SIGCHLD, 0, 0, 0, 0, tf, child)
}

// Sys_exit ends the calling thread. the thread's body must return right
// after.
func (k *Kernel_t) Sys_exit(t *proc.Thread_t, status int) {
	k.Procs.Exit(t, status)
}
