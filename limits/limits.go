package limits

import "sync/atomic"

type Sysatomic_t struct {
	v atomic.Int64
}

type Syslimit_t struct {
	// live processes
	Sysprocs Sysatomic_t
	// futexes with waiters or users, system wide
	Futexes Sysatomic_t
	// how many script interpreters may be chained by one exec
	Interp_depth int
}

func MkSysLimit() *Syslimit_t {
	return Mklimit(1e4, 1024, 4)
}

func Mklimit(procs, futexes, depth int) *Syslimit_t {
	s := &Syslimit_t{Interp_depth: depth}
	s.Sysprocs.v.Store(int64(procs))
	s.Futexes.v.Store(int64(futexes))
	return s
}

func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	s.v.Add(n)
}

func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := s.v.Add(-n)
	if g >= 0 {
		return true
	}
	s.v.Add(n)
	return false
}

// returns false if the limit has been reached.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

func (s *Sysatomic_t) Give() {
	s.Given(1)
}

func (s *Sysatomic_t) Remain() int {
	return int(s.v.Load())
}
