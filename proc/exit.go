package proc

import "go.uber.org/zap"

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/futex"

// Exit ends thread t. the thread's robust futexes are marked owner-dead,
// its clear-child-tid word is zeroed and woken, and it leaves the thread
// table. the last thread of a process takes the process down with it.
// only the first call for a thread has any effect.
func (pt *Proctab_t) Exit(t *Thread_t, status int) {
	if !t.Note.Mark_exiting() {
		return
	}
	p := t.Proc
	space := p.Vm.Id()

	if head := t.Robust_list.Load(); head != 0 {
		err := t.Note.Useraccess(func() defs.Err_t {
			return p.Futexes.Exit_robust_list(t, space, head)
		})
		if err != 0 {
			pt.Log.Debug("robust list walk failed", zap.Int("tid", int(t.Tid)),
				zap.Uintptr("head", head), zap.Error(err))
		}
	}

	if ctid := t.Clear_child_tid.Load(); ctid != 0 {
		err := t.Note.Useraccess(func() defs.Err_t {
			return t.Userwriten(ctid, 4, 0)
		})
		if err == 0 {
			p.Futexes.Wake(futex.Key_t{Space: space, Addr: ctid}, 1,
				defs.FUTEX_BITSET_MATCH_ANY)
		}
	}

	if !pt.threads.Del(t.Tid) {
		panic("exiting thread not registered")
	}
	pt.St.Threads.Dec()
	if p.delthread(t) {
		pt.procdone(p, status, true)
	}
}

// releases a dead process's resources and notifies its parent.
func (pt *Proctab_t) procdone(p *Proc_t, status int, notify bool) {
	p.Vm.Refdown()
	p.Fds.Refdown()
	p.Cwd.Refdown()
	pt.procs.Del(p.Pid)
	pt.Lim.Sysprocs.Give()
	if par := p.Parent(); par != nil {
		if notify {
			par.childexit(p, status)
		} else {
			par.Lock()
			delete(par.children, p.Pid)
			par.Unlock()
		}
	}
	pt.Log.Debug("process exit", zap.Int("pid", p.Pid), zap.Int("status", status),
		zap.Int("exitsig", p.Exitsig))
}
