package proc

import "go.uber.org/zap"

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/fd"
import "github.com/Starry-Mix-THU/starry-mix/futex"
import "github.com/Starry-Mix-THU/starry-mix/vm"

// Cloneargs_t are the arguments of clone(2).
type Cloneargs_t struct {
	// flag word; the low byte is the exit signal
	Flags uint64
	// new stack pointer, 0 to keep the caller's
	Stack uintptr
	Ptid  uintptr
	Ctid  uintptr
	Tls   uintptr
	// the caller's user context
	Tf *defs.Tf_t
}

// Check_clone validates a clone flag set.
func Check_clone(fl defs.Cloneset_t, sig int) defs.Err_t {
	if sig > defs.NSIG {
		return -defs.EINVAL
	}
	if sig != 0 && fl.Hasall(defs.Mkcloneset(defs.CLONE_THREAD, defs.CLONE_PARENT)) {
		return -defs.EINVAL
	}
	if fl.Has(defs.CLONE_THREAD) &&
		!fl.Hasall(defs.Mkcloneset(defs.CLONE_VM, defs.CLONE_SIGHAND)) {
		return -defs.EINVAL
	}
	return 0
}

// Clone creates a thread from t as clone(2) describes and starts it running
// body. returns the new thread's tid.
func (pt *Proctab_t) Clone(t *Thread_t, ca *Cloneargs_t,
	body func(*Thread_t)) (defs.Tid_t, defs.Err_t) {
	fl, sig := defs.Parseclone(ca.Flags)
	if err := Check_clone(fl, sig); err != 0 {
		pt.Log.Debug("clone: bad flags", zap.Stringer("flags", fl),
			zap.Int("sig", sig))
		return 0, err
	}

	var ctf defs.Tf_t
	if ca.Tf != nil {
		ctf = *ca.Tf
	}
	if ca.Stack != 0 {
		ctf[defs.TF_RSP] = ca.Stack
	}
	if fl.Has(defs.CLONE_SETTLS) {
		ctf[defs.TF_FSBASE] = ca.Tls
	}
	ctf[defs.TF_RAX] = 0

	if fl.Has(defs.CLONE_CHILD_SETTID) {
		if err := t.Userwritable(ca.Ctid, 4); err != 0 {
			return 0, err
		}
	}

	tid := pt.Tid_new()
	if fl.Has(defs.CLONE_PARENT_SETTID) {
		err := t.Note.Useraccess(func() defs.Err_t {
			return t.Userwriten(ca.Ptid, 4, int(tid))
		})
		if err != 0 {
			return 0, err
		}
	}

	var p *Proc_t
	kind := "thread"
	if fl.Has(defs.CLONE_THREAD) {
		p = t.Proc
	} else {
		var err defs.Err_t
		if p, err = pt.fork(t, fl, sig, int(tid)); err != 0 {
			return 0, err
		}
		kind = "process"
		if fl.Has(defs.CLONE_VM) {
			kind = "vmshare"
		}
	}

	if fl.Has(defs.CLONE_CHILD_SETTID) {
		// the child's copy of the word, which differs from the caller's
		// after a fork
		err := t.Note.Useraccess(func() defs.Err_t {
			return p.Vm.Userwriten(ca.Ctid, 4, int(tid))
		})
		if err != 0 {
			pt.abort(p, t)
			return 0, err
		}
	}

	nt := pt.Thread_new(p, tid)
	if fl.Has(defs.CLONE_CHILD_CLEARTID) {
		nt.Clear_child_tid.Store(ca.Ctid)
	}
	if err := pt.Start(nt, p.Name, &ctf, body); err != 0 {
		pt.abort(p, t)
		return 0, err
	}
	pt.St.Clones.WithLabelValues(kind).Inc()
	pt.Log.Debug("clone", zap.Int("tid", int(t.Tid)), zap.Int("child", int(tid)),
		zap.Stringer("flags", fl), zap.String("kind", kind))
	return tid, 0
}

// builds the process for a non-CLONE_THREAD clone.
func (pt *Proctab_t) fork(t *Thread_t, fl defs.Cloneset_t, sig int,
	pid int) (*Proc_t, defs.Err_t) {
	cur := t.Proc
	parent := cur
	if fl.Has(defs.CLONE_PARENT) {
		if parent = cur.Parent(); parent == nil {
			return nil, -defs.EINVAL
		}
	}

	var nvm *vm.Vm_t
	var futexes *futex.Table_t
	if fl.Has(defs.CLONE_VM) {
		cur.Vm.Refup()
		nvm = cur.Vm
		futexes = cur.Futexes
	} else {
		var err defs.Err_t
		if nvm, err = cur.Vm.Fork(); err != 0 {
			return nil, err
		}
		if pt.Kvm != nil {
			nvm.Copy_kernel(pt.Kvm, pt.Arch)
		}
	}

	sigacts := Mksigacts()
	if fl.Has(defs.CLONE_SIGHAND) {
		sigacts = parent.Sigacts
	}

	fds, cwd, err := share_or_copy(cur, fl)
	if err != 0 {
		nvm.Refdown()
		return nil, err
	}

	p, err := pt.Proc_new(pid, &Procattr_t{
		Name:    cur.Name,
		Parent:  parent,
		Vm:      nvm,
		Futexes: futexes,
		Sigacts: sigacts,
		Fds:     fds,
		Cwd:     cwd,
		Umask:   cur.Umask(),
		Exepath: cur.Exepath(),
		Exitsig: sig,
	})
	if err != 0 {
		nvm.Refdown()
		fds.Refdown()
		cwd.Refdown()
		return nil, err
	}
	return p, 0
}

// the child's fd table and fs context: the caller's own ones when shared,
// copies otherwise. copies are made under the source's lock.
func share_or_copy(cur *Proc_t, fl defs.Cloneset_t) (*fd.Fdtable_t, *fd.Cwd_t, defs.Err_t) {
	var fds *fd.Fdtable_t
	if fl.Has(defs.CLONE_FILES) {
		cur.Fds.Refup()
		fds = cur.Fds
	} else {
		var err defs.Err_t
		if fds, err = cur.Fds.Copy(); err != 0 {
			return nil, nil, err
		}
	}
	if fl.Has(defs.CLONE_FS) {
		cur.Cwd.Refup()
		return fds, cur.Cwd, 0
	}
	cwd, err := cur.Cwd.Copy()
	if err != 0 {
		fds.Refdown()
		return nil, nil, err
	}
	return fds, cwd, 0
}

// undoes a process created by a clone that failed before its first thread
// started. a thread clone leaves nothing to undo.
func (pt *Proctab_t) abort(p *Proc_t, t *Thread_t) {
	if p == t.Proc {
		return
	}
	p.Lock()
	p.dead = true
	p.Unlock()
	pt.procdone(p, 0, false)
}
