package sched

import "sync/atomic"
import "testing"

import "github.com/stretchr/testify/assert"
import "github.com/stretchr/testify/require"

import "github.com/Starry-Mix-THU/starry-mix/defs"

func TestSpawnWait(t *testing.T) {
	s := Mksched(nil)
	var ran int32
	var tf defs.Tf_t
	tf[defs.TF_RAX] = 7
	for i := 1; i <= 4; i++ {
		task := Mktask(defs.Tid_t(i), "t", &tf)
		got := s.Spawn(task, func(tk *Task_t) {
			assert.Equal(t, uintptr(7), tk.Tf[defs.TF_RAX])
			atomic.AddInt32(&ran, 1)
		})
		require.Same(t, task, got)
	}
	require.NoError(t, s.Wait())
	assert.Equal(t, int32(4), ran)
	assert.Equal(t, 0, s.Nlive())
}

func TestSpawnDuplicate(t *testing.T) {
	s := Mksched(nil)
	block := make(chan struct{})
	s.Spawn(Mktask(1, "a", nil), func(*Task_t) { <-block })
	assert.Panics(t, func() {
		s.Spawn(Mktask(1, "b", nil), func(*Task_t) {})
	})
	close(block)
	require.NoError(t, s.Wait())
}
