//go:build linux

package defs

import "fmt"
import "strings"

import "golang.org/x/sys/unix"

// the low byte of the clone flag word carries the exit signal.
const CSIGNAL = 0xff

type Cloneflag_t uint8

const (
	CLONE_VM Cloneflag_t = iota
	CLONE_FS
	CLONE_FILES
	CLONE_SIGHAND
	CLONE_PTRACE
	CLONE_VFORK
	CLONE_PARENT
	CLONE_THREAD
	CLONE_NEWNS
	CLONE_SYSVSEM
	CLONE_SETTLS
	CLONE_PARENT_SETTID
	CLONE_CHILD_CLEARTID
	CLONE_UNTRACED
	CLONE_CHILD_SETTID
	CLONE_NEWCGROUP
	CLONE_NEWUTS
	CLONE_NEWIPC
	CLONE_NEWUSER
	CLONE_NEWPID
	CLONE_NEWNET
	CLONE_IO
	_CLONE_LAST
)

var _clonebits = [_CLONE_LAST]struct {
	bit  uint64
	name string
}{
	CLONE_VM:             {unix.CLONE_VM, "VM"},
	CLONE_FS:             {unix.CLONE_FS, "FS"},
	CLONE_FILES:          {unix.CLONE_FILES, "FILES"},
	CLONE_SIGHAND:        {unix.CLONE_SIGHAND, "SIGHAND"},
	CLONE_PTRACE:         {unix.CLONE_PTRACE, "PTRACE"},
	CLONE_VFORK:          {unix.CLONE_VFORK, "VFORK"},
	CLONE_PARENT:         {unix.CLONE_PARENT, "PARENT"},
	CLONE_THREAD:         {unix.CLONE_THREAD, "THREAD"},
	CLONE_NEWNS:          {unix.CLONE_NEWNS, "NEWNS"},
	CLONE_SYSVSEM:        {unix.CLONE_SYSVSEM, "SYSVSEM"},
	CLONE_SETTLS:         {unix.CLONE_SETTLS, "SETTLS"},
	CLONE_PARENT_SETTID:  {unix.CLONE_PARENT_SETTID, "PARENT_SETTID"},
	CLONE_CHILD_CLEARTID: {unix.CLONE_CHILD_CLEARTID, "CHILD_CLEARTID"},
	CLONE_UNTRACED:       {unix.CLONE_UNTRACED, "UNTRACED"},
	CLONE_CHILD_SETTID:   {unix.CLONE_CHILD_SETTID, "CHILD_SETTID"},
	CLONE_NEWCGROUP:      {unix.CLONE_NEWCGROUP, "NEWCGROUP"},
	CLONE_NEWUTS:         {unix.CLONE_NEWUTS, "NEWUTS"},
	CLONE_NEWIPC:         {unix.CLONE_NEWIPC, "NEWIPC"},
	CLONE_NEWUSER:        {unix.CLONE_NEWUSER, "NEWUSER"},
	CLONE_NEWPID:         {unix.CLONE_NEWPID, "NEWPID"},
	CLONE_NEWNET:         {unix.CLONE_NEWNET, "NEWNET"},
	CLONE_IO:             {unix.CLONE_IO, "IO"},
}

// a set of clone flags. bits that do not name a known flag are dropped when
// parsing, like the kernel does.
type Cloneset_t uint32

func Mkcloneset(fl ...Cloneflag_t) Cloneset_t {
	var s Cloneset_t
	for _, f := range fl {
		s |= 1 << f
	}
	return s
}

// Parseclone splits a raw clone flag word into the flag set and the exit
// signal carried in the low byte.
func Parseclone(raw uint64) (Cloneset_t, int) {
	var s Cloneset_t
	for f, b := range _clonebits {
		if raw&b.bit != 0 {
			s |= 1 << uint(f)
		}
	}
	return s, int(raw & CSIGNAL)
}

// Raw converts the set back to the ABI bit representation.
func (s Cloneset_t) Raw() uint64 {
	var ret uint64
	for f, b := range _clonebits {
		if s&(1<<uint(f)) != 0 {
			ret |= b.bit
		}
	}
	return ret
}

func (s Cloneset_t) Has(f Cloneflag_t) bool {
	return s&(1<<f) != 0
}

// Hasall returns true iff every flag in o is in s.
func (s Cloneset_t) Hasall(o Cloneset_t) bool {
	return s&o == o
}

func (s Cloneset_t) With(f Cloneflag_t) Cloneset_t {
	return s | 1<<f
}

func (s Cloneset_t) String() string {
	var names []string
	for f := Cloneflag_t(0); f < _CLONE_LAST; f++ {
		if s.Has(f) {
			names = append(names, _clonebits[f].name)
		}
	}
	if len(names) == 0 {
		return "0"
	}
	return strings.Join(names, "|")
}

func (f Cloneflag_t) String() string {
	if f >= _CLONE_LAST {
		return fmt.Sprintf("Cloneflag_t(%d)", uint8(f))
	}
	return _clonebits[f].name
}
