package futex

import "math"

import "go.uber.org/zap"

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/sched"

// Read_robust_head reads a struct robust_list_head from user memory.
func Read_robust_head(um Umem_i, head uintptr) (defs.Robust_list_head_t, defs.Err_t) {
	var h defs.Robust_list_head_t
	next, err := um.Userreadn(head+defs.ROBUST_NEXT, 8)
	if err != 0 {
		return h, err
	}
	off, err := um.Userreadn(head+defs.ROBUST_FUTOFF, 8)
	if err != 0 {
		return h, err
	}
	pend, err := um.Userreadn(head+defs.ROBUST_PENDING, 8)
	if err != 0 {
		return h, err
	}
	h.Next = uintptr(next)
	h.Futexoff = int64(off)
	h.Listpending = uintptr(pend)
	return h, 0
}

// futex word of a robust list entry
func entry_futex(entry uintptr, off int64) (uintptr, bool) {
	e := uint64(entry)
	if off >= 0 {
		if e > math.MaxUint64-uint64(off) {
			return 0, false
		}
		return uintptr(e + uint64(off)), true
	}
	neg := uint64(-(off + 1)) + 1
	if neg > e {
		return 0, false
	}
	return uintptr(e - neg), true
}

// Exit_robust_list marks the futex of every lock on the exiting thread's
// robust list as owner-dead, waking one waiter on each. the entry that was
// being acquired or released when the thread died is skipped. a list that
// does not lead back to its head within ROBUST_LIST_LIMIT entries fails with
// ELOOP.
//
// nothing stops other threads of the process from still using the locks;
// the owner-dead flag is the only notification.
func (tb *Table_t) Exit_robust_list(um Umem_i, space uint64, head uintptr) defs.Err_t {
	if head == 0 {
		return 0
	}
	h, err := Read_robust_head(um, head)
	if err != 0 {
		return err
	}
	entry := h.Next
	for n := 0; entry != head; {
		next, err := um.Userreadn(entry, 8)
		if err != 0 {
			return err
		}
		if entry != h.Listpending {
			fa, ok := entry_futex(entry, h.Futexoff)
			if !ok {
				return -defs.EINVAL
			}
			if tb.Owner_died(Key_t{Space: space, Addr: fa}) {
				tb.log.Debug("robust futex owner died", zap.Uintptr("uaddr", fa))
			}
		}
		entry = uintptr(next)
		n++
		if entry != head && n >= defs.ROBUST_LIST_LIMIT {
			return -defs.ELOOP
		}
		sched.Yield()
	}
	return 0
}
