package sched

import "testing"
import "time"

import "github.com/stretchr/testify/assert"
import "github.com/stretchr/testify/require"

// waits until q holds n waiters
func waitlen(t *testing.T, q *Waitq_t, n int) {
	require.Eventually(t, func() bool {
		return q.Len() == n
	}, 2*time.Second, time.Millisecond)
}

func TestCondShortCircuit(t *testing.T) {
	q := Mkwaitq()
	w := Mkwaiter(nil)
	to := q.Wait_until(w, func() bool { return true }, time.Time{})
	assert.False(t, to)
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Notify_one())
}

func TestNotifyFIFO(t *testing.T) {
	q := Mkwaitq()
	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			first := true
			q.Wait_until(Mkwaiter(nil), func() bool {
				r := !first
				first = false
				return r
			}, time.Time{})
			order <- i
		}()
		waitlen(t, q, i+1)
	}
	for i := 0; i < 3; i++ {
		require.True(t, q.Notify_one())
		assert.Equal(t, i, <-order)
	}
	assert.False(t, q.Notify_one())
}

func TestTimeout(t *testing.T) {
	q := Mkwaitq()
	w := Mkwaiter(nil)
	first := true
	start := time.Now()
	to := q.Wait_until(w, func() bool {
		r := !first
		first = false
		return r
	}, time.Now().Add(20*time.Millisecond))
	assert.True(t, to)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Notify_one())
}

func TestNotifyIf(t *testing.T) {
	q := Mkwaitq()
	done := make(chan uint32, 2)
	for _, bs := range []uint32{0x1, 0x2} {
		bs := bs
		go func() {
			w := Mkwaiter(nil)
			w.Bitset = bs
			first := true
			q.Wait_until(w, func() bool {
				r := !first
				first = false
				return r
			}, time.Time{})
			done <- bs
		}()
	}
	waitlen(t, q, 2)
	n := q.Notify_if(func(w *Waiter_t) bool {
		return w.Bitset&0x2 != 0
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, uint32(0x2), <-done)
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.Notify_one())
	assert.Equal(t, uint32(0x1), <-done)
}

func TestRequeue(t *testing.T) {
	a := Mkwaitq()
	b := Mkwaitq()
	done := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			first := true
			a.Wait_until(Mkwaiter(nil), func() bool {
				r := !first
				first = false
				return r
			}, time.Time{})
			done <- i
		}()
		waitlen(t, a, i+1)
	}
	assert.Equal(t, 2, a.Requeue(2, b))
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 0, a.Requeue(5, a))

	require.True(t, b.Notify_one())
	assert.Equal(t, 0, <-done)
	require.True(t, a.Notify_one())
	assert.Equal(t, 2, <-done)
	require.True(t, b.Notify_one())
	assert.Equal(t, 1, <-done)
}

func TestRequeuedTimeout(t *testing.T) {
	a := Mkwaitq()
	b := Mkwaitq()
	res := make(chan bool, 1)
	go func() {
		first := true
		res <- a.Wait_until(Mkwaiter(nil), func() bool {
			r := !first
			first = false
			return r
		}, time.Now().Add(200*time.Millisecond))
	}()
	waitlen(t, a, 1)
	assert.Equal(t, 1, a.Requeue(1, b))
	assert.True(t, <-res)
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, 0, b.Len())
}
