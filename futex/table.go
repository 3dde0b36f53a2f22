package futex

import "sync"
import "sync/atomic"

import "go.uber.org/zap"

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/limits"
import "github.com/Starry-Mix-THU/starry-mix/sched"
import "github.com/Starry-Mix-THU/starry-mix/stats"

// Key_t names a futex word: an address within one address space. the same
// address in two address spaces gives two different keys.
type Key_t struct {
	Space uint64
	Addr  uintptr
}

type Futex_t struct {
	key Key_t
	wq  *sched.Waitq_t
	// set when a thread died holding the lock; consumed by the next
	// waiter it wakes
	owner_dead atomic.Bool
	// threads using this futex: waiters and in-flight wakers. protected
	// by the table lock.
	users int
}

func (f *Futex_t) Key() Key_t {
	return f.key
}

func (f *Futex_t) Nwaiters() int {
	return f.wq.Len()
}

func (f *Futex_t) Owner_dead() bool {
	return f.owner_dead.Load()
}

// Table_t maps keys to futexes. a futex is created on first use and
// dropped once it has neither users nor waiters.
//
// lock order: table lock, then futex wait queue locks.
type Table_t struct {
	sync.Mutex
	m map[Key_t]*Futex_t
	// the futex owning each wait queue
	byq map[*sched.Waitq_t]*Futex_t
	lim *limits.Sysatomic_t
	st  *stats.Stats_t
	log *zap.Logger
}

func Mktable(lim *limits.Syslimit_t, st *stats.Stats_t, log *zap.Logger) *Table_t {
	if log == nil {
		log = zap.NewNop()
	}
	if st == nil {
		st = stats.Discard()
	}
	return &Table_t{
		m:   make(map[Key_t]*Futex_t),
		byq: make(map[*sched.Waitq_t]*Futex_t),
		lim: &lim.Futexes,
		st:  st,
		log: log,
	}
}

func (tb *Table_t) Len() int {
	tb.Lock()
	defer tb.Unlock()
	return len(tb.m)
}

// Get_or_insert returns the futex for k, creating it if needed. the caller
// must Put it when done.
func (tb *Table_t) Get_or_insert(k Key_t) (*Futex_t, defs.Err_t) {
	tb.Lock()
	defer tb.Unlock()
	return tb._get(k, true)
}

// Get returns the futex for k, or nil if k has none. a non-nil result must
// be Put.
func (tb *Table_t) Get(k Key_t) *Futex_t {
	tb.Lock()
	defer tb.Unlock()
	f, _ := tb._get(k, false)
	return f
}

func (tb *Table_t) Put(f *Futex_t) {
	tb.Lock()
	tb._put(f)
	tb.Unlock()
}

func (tb *Table_t) _get(k Key_t, create bool) (*Futex_t, defs.Err_t) {
	if f, ok := tb.m[k]; ok {
		f.users++
		return f, 0
	}
	if !create {
		return nil, 0
	}
	if !tb.lim.Take() {
		tb.log.Debug("futex limit reached", zap.Uintptr("uaddr", k.Addr))
		return nil, -defs.ENOMEM
	}
	f := &Futex_t{key: k, wq: sched.Mkwaitq(), users: 1}
	tb.m[k] = f
	tb.byq[f.wq] = f
	tb.st.Futexes.Inc()
	return f, 0
}

func (tb *Table_t) _put(f *Futex_t) {
	f.users--
	if f.users < 0 {
		panic("futex users underflow")
	}
	tb._sweep(f)
}

func (tb *Table_t) _sweep(f *Futex_t) {
	if f.users != 0 || f.wq.Len() != 0 {
		return
	}
	if tb.m[f.key] != f {
		return
	}
	delete(tb.m, f.key)
	delete(tb.byq, f.wq)
	tb.lim.Give()
	tb.st.Futexes.Dec()
}

// Owner_died marks the futex for k as abandoned by its owner and wakes one
// waiter. keys without a futex are ignored. returns true if a futex was
// found.
func (tb *Table_t) Owner_died(k Key_t) bool {
	f := tb.Get(k)
	if f == nil {
		return false
	}
	f.owner_dead.Store(true)
	f.wq.Notify_one()
	tb.Put(f)
	tb.st.Robustdeaths.Inc()
	return true
}
