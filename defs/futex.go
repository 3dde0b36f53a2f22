package defs

// from <linux/futex.h>
const (
	FUTEX_WAIT            = 0
	FUTEX_WAKE            = 1
	FUTEX_FD              = 2
	FUTEX_REQUEUE         = 3
	FUTEX_CMP_REQUEUE     = 4
	FUTEX_WAKE_OP         = 5
	FUTEX_LOCK_PI         = 6
	FUTEX_UNLOCK_PI       = 7
	FUTEX_TRYLOCK_PI      = 8
	FUTEX_WAIT_BITSET     = 9
	FUTEX_WAKE_BITSET     = 10
	FUTEX_WAIT_REQUEUE_PI = 11
	FUTEX_CMP_REQUEUE_PI  = 12

	FUTEX_PRIVATE_FLAG   = 128
	FUTEX_CLOCK_REALTIME = 256
	FUTEX_CMD_MASK       = ^(FUTEX_PRIVATE_FLAG | FUTEX_CLOCK_REALTIME)
)

const FUTEX_BITSET_MATCH_ANY uint32 = 0xffffffff

// ROBUST_LIST_LIMIT bounds the robust list walk so that a corrupt or
// circular list cannot keep an exiting thread busy forever.
const ROBUST_LIST_LIMIT = 2048

// Robust_list_head_t is struct robust_list_head on a 64-bit ABI: the list
// head (a pointer to the first entry), the signed offset from an entry to
// its futex word and the entry currently being acquired or released.
type Robust_list_head_t struct {
	Next        uintptr
	Futexoff    int64
	Listpending uintptr
}

const SIZEOF_ROBUST_LIST_HEAD = 24

// offsets of the fields of struct robust_list_head
const (
	ROBUST_NEXT    = 0
	ROBUST_FUTOFF  = 8
	ROBUST_PENDING = 16
)
