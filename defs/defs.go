package defs

type Tid_t int

// user virtual address
type Uva_t uintptr

// trap frame layout of a user thread; the slots the clone path touches are
// named below.
const (
	TFSIZE    = 24
	TFREGS    = 17
	TF_FSBASE = 1
	TF_R15    = 2
	TF_R14    = 3
	TF_R13    = 4
	TF_R12    = 5
	TF_R11    = 6
	TF_R10    = 7
	TF_R9     = 8
	TF_R8     = 9
	TF_RBP    = 10
	TF_RSI    = 11
	TF_RDI    = 12
	TF_RDX    = 13
	TF_RCX    = 14
	TF_RBX    = 15
	TF_RAX    = 16
	TF_TRAP   = TFREGS
	TF_ERROR  = TFREGS + 1
	TF_RIP    = TFREGS + 2
	TF_CS     = TFREGS + 3
	TF_RSP    = TFREGS + 5
	TF_SS     = TFREGS + 6
	TF_RFLAGS = TFREGS + 4
	TF_FL_IF  = 1 << 9
)

type Tf_t [TFSIZE]uintptr

// signal numbers the core needs; delivery itself lives elsewhere.
const (
	NSIG    = 64
	SIGKILL = 9
	SIGSEGV = 11
	SIGCHLD = 17
)
