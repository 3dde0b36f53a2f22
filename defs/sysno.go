package defs

// x86-64 system call numbers
const (
	SYS_CLONE           = 56
	SYS_FORK            = 57
	SYS_EXIT            = 60
	SYS_GETTID          = 186
	SYS_FUTEX           = 202
	SYS_SET_TID_ADDRESS = 218
	SYS_SET_ROBUST_LIST = 273
	SYS_GET_ROBUST_LIST = 274
)
