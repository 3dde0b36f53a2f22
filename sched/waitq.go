package sched

import "sync"
import "sync/atomic"
import "time"

var _wqids uint64

// Waiter_t is one blocked thread. a waiter is on at most one queue at a time;
// its current queue only changes while that queue's lock (and the
// destination's) is held.
type Waiter_t struct {
	// the thread that owns this waiter; consulted by wake predicates
	Task *Task_t
	// wake filter recorded by the waiting thread
	Bitset uint32
	ch     chan struct{}
	q      atomic.Pointer[Waitq_t]
	// the queue that last woke or dropped this waiter; written under that
	// queue's lock
	lastq *Waitq_t
}

func Mkwaiter(t *Task_t) *Waiter_t {
	return &Waiter_t{Task: t, ch: make(chan struct{}, 1)}
}

// Waitq_t is a FIFO queue of blocked threads.
type Waitq_t struct {
	sync.Mutex
	id      uint64
	waiters []*Waiter_t
}

func Mkwaitq() *Waitq_t {
	return &Waitq_t{id: atomic.AddUint64(&_wqids, 1)}
}

func (q *Waitq_t) Len() int {
	q.Lock()
	defer q.Unlock()
	return len(q.waiters)
}

// Wait_until blocks w on q until it is notified. cond is evaluated with q
// locked before w is enqueued: if it returns true, Wait_until returns without
// blocking. since wakers take the same lock, no notification can slip in
// between the evaluation of cond and the enqueue. after a notification the
// condition is evaluated again, still under the lock; Wait_until only returns
// once it holds. a zero deadline means wait forever. returns true iff the
// deadline expired first, in which case w is no longer queued.
func (q *Waitq_t) Wait_until(w *Waiter_t, cond func() bool, deadline time.Time) bool {
	var tochan <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		tochan = timer.C
	}
	w.lastq = nil
	cur := q
	for {
		cur.Lock()
		if cond() {
			cur.Unlock()
			return false
		}
		w.q.Store(cur)
		cur.waiters = append(cur.waiters, w)
		cur.Unlock()

		select {
		case <-w.ch:
		case <-tochan:
			if w.dequeue() {
				return true
			}
			// a waker dequeued us first; its notification is
			// already on the way.
			<-w.ch
			tochan = nil
		}
		// re-check on the queue we were woken from; for a requeued
		// waiter that is the destination queue.
		cur = w.lastq
	}
}

// Lastq returns the queue w was last woken from or removed from, nil if w
// never blocked. only meaningful once Wait_until has returned.
func (w *Waiter_t) Lastq() *Waitq_t {
	return w.lastq
}

// removes w from whatever queue it is on. returns false if w was already
// dequeued by a waker.
func (w *Waiter_t) dequeue() bool {
	for {
		q := w.q.Load()
		if q == nil {
			return false
		}
		q.Lock()
		if w.q.Load() != q {
			// requeued while we were waiting for the lock
			q.Unlock()
			continue
		}
		q._remove(w)
		w.q.Store(nil)
		w.lastq = q
		q.Unlock()
		return true
	}
}

func (q *Waitq_t) _remove(w *Waiter_t) bool {
	for i, o := range q.waiters {
		if o == w {
			copy(q.waiters[i:], q.waiters[i+1:])
			q.waiters[len(q.waiters)-1] = nil
			q.waiters = q.waiters[:len(q.waiters)-1]
			return true
		}
	}
	return false
}

// q must be locked
func (q *Waitq_t) _wake(i int) {
	w := q.waiters[i]
	copy(q.waiters[i:], q.waiters[i+1:])
	q.waiters[len(q.waiters)-1] = nil
	q.waiters = q.waiters[:len(q.waiters)-1]
	w.lastq = q
	w.q.Store(nil)
	select {
	case w.ch <- struct{}{}:
	default:
		panic("double wake")
	}
}

// Notify_one wakes the longest waiting thread. returns false if the queue is
// empty.
func (q *Waitq_t) Notify_one() bool {
	q.Lock()
	defer q.Unlock()
	if len(q.waiters) == 0 {
		return false
	}
	q._wake(0)
	return true
}

// Notify_if visits waiters in FIFO order and wakes those for which pred
// returns true. returns the number woken.
func (q *Waitq_t) Notify_if(pred func(*Waiter_t) bool) int {
	q.Lock()
	defer q.Unlock()
	n := 0
	for i := 0; i < len(q.waiters); {
		if pred(q.waiters[i]) {
			q._wake(i)
			n++
		} else {
			i++
		}
	}
	return n
}

// Requeue moves up to n waiters from the front of q to the back of dst
// without waking them. returns the number moved.
func (q *Waitq_t) Requeue(n int, dst *Waitq_t) int {
	if q == dst || n <= 0 {
		return 0
	}
	first, second := q, dst
	if dst.id < q.id {
		first, second = dst, q
	}
	first.Lock()
	second.Lock()
	defer first.Unlock()
	defer second.Unlock()

	if n > len(q.waiters) {
		n = len(q.waiters)
	}
	moved := q.waiters[:n]
	for _, w := range moved {
		w.q.Store(dst)
	}
	dst.waiters = append(dst.waiters, moved...)
	rest := make([]*Waiter_t, len(q.waiters)-n)
	copy(rest, q.waiters[n:])
	q.waiters = rest
	return n
}
