package defs

import "time"

// struct timespec as read from user memory
type Timespec_t struct {
	Sec  int64
	Nsec int64
}

const SIZEOF_TIMESPEC = 16

// Duration converts a user timespec to a duration. negative seconds and
// nanoseconds outside [0, 1e9) are rejected.
func (ts Timespec_t) Duration() (time.Duration, Err_t) {
	if ts.Sec < 0 || ts.Nsec < 0 || ts.Nsec >= int64(time.Second) {
		return 0, -EINVAL
	}
	const maxsec = int64((1<<63 - 1) / int64(time.Second))
	if ts.Sec >= maxsec {
		return time.Duration(1<<63 - 1), 0
	}
	return time.Duration(ts.Sec)*time.Second + time.Duration(ts.Nsec), 0
}
