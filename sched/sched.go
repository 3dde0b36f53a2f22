package sched

import "runtime"
import "sync"

import "go.uber.org/zap"
import "golang.org/x/sync/errgroup"

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/mem"

// Task_t is the scheduler's handle for a runnable thread: its saved user
// context and the page table root the thread runs on.
type Task_t struct {
	Tid  defs.Tid_t
	Name string
	Tf   defs.Tf_t
	Pmap mem.Pa_t
	// owner-defined extension, normally the kernel's thread record
	Ext  any
	done chan struct{}
}

func Mktask(tid defs.Tid_t, name string, tf *defs.Tf_t) *Task_t {
	t := &Task_t{Tid: tid, Name: name, done: make(chan struct{})}
	if tf != nil {
		t.Tf = *tf
	}
	return t
}

// Done is closed once the task's body has returned.
func (t *Task_t) Done() <-chan struct{} {
	return t.done
}

// Sched_i is what the kernel needs from the scheduler.
type Sched_i interface {
	// Spawn makes t runnable; body runs on t's behalf. returns the live
	// handle of the task.
	Spawn(t *Task_t, body func(*Task_t)) *Task_t
	Yield()
}

// Sched_t runs each task on its own goroutine. it keeps every live task
// reachable until its body returns.
type Sched_t struct {
	sync.Mutex
	live map[defs.Tid_t]*Task_t
	eg   errgroup.Group
	log  *zap.Logger
}

func Mksched(log *zap.Logger) *Sched_t {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sched_t{live: make(map[defs.Tid_t]*Task_t), log: log}
}

func (s *Sched_t) Spawn(t *Task_t, body func(*Task_t)) *Task_t {
	s.Lock()
	if _, ok := s.live[t.Tid]; ok {
		s.Unlock()
		panic("tid already running")
	}
	s.live[t.Tid] = t
	s.Unlock()

	s.log.Debug("spawn", zap.Int("tid", int(t.Tid)), zap.String("name", t.Name))
	s.eg.Go(func() error {
		defer func() {
			s.Lock()
			delete(s.live, t.Tid)
			s.Unlock()
			close(t.done)
		}()
		body(t)
		return nil
	})
	return t
}

func (s *Sched_t) Yield() {
	Yield()
}

func (s *Sched_t) Nlive() int {
	s.Lock()
	defer s.Unlock()
	return len(s.live)
}

// Wait blocks until every spawned task has finished.
func (s *Sched_t) Wait() error {
	return s.eg.Wait()
}

// Yield gives other runnable threads a chance to run.
func Yield() {
	runtime.Gosched()
}
