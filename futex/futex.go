package futex

import "time"

import "go.uber.org/zap"

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/sched"

// Umem_i is user memory as seen by the calling thread.
type Umem_i interface {
	Userreadn(va uintptr, n int) (int, defs.Err_t)
}

// resolve_t is the wait predicate. its first evaluation runs under the wait
// queue lock before the waiter is registered and re-reads the futex word;
// every later evaluation happens after a wake and succeeds.
type resolve_t struct {
	um       Umem_i
	addr     uintptr
	val      uint32
	resolved bool
	mismatch bool
	err      defs.Err_t
}

func (r *resolve_t) cond() bool {
	if r.resolved {
		return true
	}
	r.resolved = true
	v, err := r.um.Userreadn(r.addr, 4)
	if err != 0 {
		r.err = err
		r.mismatch = true
	} else if uint32(v) != r.val {
		r.mismatch = true
	}
	return r.mismatch
}

// Wait blocks w until the futex at key is woken, if the word at addr still
// holds val. a zero deadline waits forever.
func (tb *Table_t) Wait(w *sched.Waiter_t, um Umem_i, key Key_t, addr uintptr,
	val uint32, deadline time.Time, bitset uint32) defs.Err_t {
	if bitset == 0 {
		return -defs.EINVAL
	}
	cur, err := um.Userreadn(addr, 4)
	if err != 0 {
		return err
	}
	if uint32(cur) != val {
		return -defs.EAGAIN
	}

	f, err := tb.Get_or_insert(key)
	if err != 0 {
		return err
	}
	w.Bitset = bitset
	rs := &resolve_t{um: um, addr: addr, val: val}
	timedout := f.wq.Wait_until(w, rs.cond, deadline)

	// a requeued waiter ends up on another futex's queue and holds its
	// reference there.
	tb.Lock()
	fin := f
	if q := w.Lastq(); q != nil {
		fin = tb.byq[q]
	}
	dead := !rs.mismatch && !timedout && fin.owner_dead.CompareAndSwap(true, false)
	tb._put(fin)
	tb.Unlock()

	switch {
	case rs.err != 0:
		return rs.err
	case rs.mismatch:
		return -defs.EAGAIN
	case timedout:
		return -defs.ETIMEDOUT
	case dead:
		return -defs.EOWNERDEAD
	}
	return 0
}

// Wake wakes up to n waiters on key, oldest first, whose bitset shares a
// bit with bitset. returns the number woken.
func (tb *Table_t) Wake(key Key_t, n int, bitset uint32) int {
	cnt := 0
	if f := tb.Get(key); f != nil {
		f.wq.Notify_if(func(w *sched.Waiter_t) bool {
			if cnt >= n || w.Bitset&bitset == 0 {
				return false
			}
			cnt++
			return true
		})
		tb.Put(f)
	}
	sched.Yield()
	return cnt
}

// Requeue wakes up to n waiters on key1. if exactly n were woken, up to n2
// of the remaining waiters are moved to key2's queue without waking them.
// if cmp is not nil, the word at addr1 must hold *cmp. returns the number of
// waiters woken plus the number moved.
func (tb *Table_t) Requeue(um Umem_i, key1 Key_t, addr1 uintptr, n, n2 int,
	key2 Key_t, cmp *uint32) (int, defs.Err_t) {
	if n < 0 || n2 < 0 {
		return 0, -defs.EINVAL
	}
	if cmp != nil {
		v, err := um.Userreadn(addr1, 4)
		if err != 0 {
			return 0, err
		}
		if uint32(v) != *cmp {
			return 0, -defs.EAGAIN
		}
	}
	f1 := tb.Get(key1)
	if f1 == nil {
		return 0, 0
	}
	woken := 0
	for woken < n && f1.wq.Notify_one() {
		woken++
	}
	moved := 0
	if woken == n && n2 > 0 && key1 != key2 {
		tb.Lock()
		f2, err := tb._get(key2, true)
		if err != 0 {
			tb._put(f1)
			tb.Unlock()
			return woken, err
		}
		moved = f1.wq.Requeue(n2, f2.wq)
		// moved waiters release the futex they are queued on
		f1.users -= moved
		f2.users += moved
		tb._put(f2)
		tb._put(f1)
		tb.Unlock()
		tb.log.Debug("futex requeue", zap.Uintptr("from", key1.Addr),
			zap.Uintptr("to", key2.Addr), zap.Int("moved", moved))
	} else {
		tb.Put(f1)
	}
	return woken + moved, 0
}
