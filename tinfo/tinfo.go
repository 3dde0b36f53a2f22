package tinfo

import "sync/atomic"

import "github.com/Starry-Mix-THU/starry-mix/defs"

// Tnote_t is the kernel's per-thread bookkeeping that is not part of the
// process-visible thread state.
type Tnote_t struct {
	Tid defs.Tid_t
	// nesting depth of Useraccess scopes
	useraccess int32
	// set once the thread has started exiting
	exiting atomic.Bool
}

func Mknote(tid defs.Tid_t) *Tnote_t {
	return &Tnote_t{Tid: tid}
}

// Useraccess runs f with user memory access enabled for this thread. faults
// taken inside f are reported as errors instead of being treated as kernel
// bugs. the previous state is restored however f returns.
func (t *Tnote_t) Useraccess(f func() defs.Err_t) defs.Err_t {
	atomic.AddInt32(&t.useraccess, 1)
	defer atomic.AddInt32(&t.useraccess, -1)
	return f()
}

func (t *Tnote_t) Accessing_user() bool {
	return atomic.LoadInt32(&t.useraccess) > 0
}

// Mark_exiting returns false if the thread was already exiting.
func (t *Tnote_t) Mark_exiting() bool {
	return t.exiting.CompareAndSwap(false, true)
}

func (t *Tnote_t) Exiting() bool {
	return t.exiting.Load()
}
