package vm

import "fmt"
import "sort"

import "github.com/Starry-Mix-THU/starry-mix/mem"

const PTE_P mem.Pa_t = 1 << 0
const PTE_W mem.Pa_t = 1 << 1
const PTE_U mem.Pa_t = 1 << 2

// our flags; bits 9-11 are ignored by the hardware
const PTE_COW mem.Pa_t = 1 << 9
const PTE_WASCOW mem.Pa_t = 1 << 10
const PTE_X mem.Pa_t = 1 << 11

const PGSIZEW uintptr = uintptr(mem.PGSIZE)
const PGSHIFT uint = mem.PGSHIFT
const PGOFFSET mem.Pa_t = mem.PGOFFSET
const PGMASK mem.Pa_t = mem.PGMASK
const PTE_ADDR mem.Pa_t = PGMASK
const PTE_FLAGS mem.Pa_t = PTE_P | PTE_W | PTE_U | PTE_COW | PTE_WASCOW | PTE_X

type mtype_t uint

// types of mappings
const (
	VANON mtype_t = 1 << iota
	// image segments copied from an executable
	VELF
	VSTACK
	VHEAP
	// the signal return trampoline
	VTRAMP
	// mappings shared with the kernel
	VKERN
)

func (m mtype_t) String() string {
	switch m {
	case VANON:
		return "anon"
	case VELF:
		return "elf"
	case VSTACK:
		return "stack"
	case VHEAP:
		return "heap"
	case VTRAMP:
		return "tramp"
	case VKERN:
		return "kern"
	}
	return fmt.Sprintf("mtype(%d)", uint(m))
}

type Vminfo_t struct {
	Mtype mtype_t
	Pgn   uintptr
	Pglen int
	Perms uint
}

func (vmi *Vminfo_t) Start() uintptr {
	return vmi.Pgn << PGSHIFT
}

func (vmi *Vminfo_t) End() uintptr {
	return (vmi.Pgn + uintptr(vmi.Pglen)) << PGSHIFT
}

func (vmi *Vminfo_t) String() string {
	perms := []byte("r--")
	if mem.Pa_t(vmi.Perms)&PTE_W != 0 {
		perms[1] = 'w'
	}
	if mem.Pa_t(vmi.Perms)&PTE_X != 0 {
		perms[2] = 'x'
	}
	return fmt.Sprintf("%#x-%#x %s %v", vmi.Start(), vmi.End(),
		perms, vmi.Mtype)
}

// Vmregion_t is the sorted set of non-overlapping mapped regions.
type Vmregion_t struct {
	vmis   []*Vminfo_t
	_pglen int
}

func (m *Vmregion_t) _canmerge(a, b *Vminfo_t) bool {
	aend := a.Pgn + uintptr(a.Pglen)
	return aend == b.Pgn && a.Mtype == b.Mtype && a.Perms == b.Perms
}

// insert adds the pages of vmi that are not already covered by a region.
// pages already covered keep their region; their permissions are widened
// to include vmi's.
func (m *Vmregion_t) insert(vmi *Vminfo_t) {
	start := vmi.Pgn
	end := vmi.Pgn + uintptr(vmi.Pglen)
	for start < end {
		if o, ok := m.Lookup(start << PGSHIFT); ok {
			o.Perms |= vmi.Perms
			start = o.Pgn + uintptr(o.Pglen)
			continue
		}
		// next region above start, if any, bounds the hole
		hend := end
		i := m._search(start)
		if i < len(m.vmis) && m.vmis[i].Pgn < hend {
			hend = m.vmis[i].Pgn
		}
		n := &Vminfo_t{Mtype: vmi.Mtype, Pgn: start,
			Pglen: int(hend - start), Perms: vmi.Perms}
		m._add(i, n)
		start = hend
	}
}

// index of the first region starting at or above pgn
func (m *Vmregion_t) _search(pgn uintptr) int {
	return sort.Search(len(m.vmis), func(i int) bool {
		return m.vmis[i].Pgn >= pgn
	})
}

func (m *Vmregion_t) _add(i int, n *Vminfo_t) {
	m._pglen += n.Pglen
	if i > 0 && m._canmerge(m.vmis[i-1], n) {
		m.vmis[i-1].Pglen += n.Pglen
		n = m.vmis[i-1]
		i--
	} else {
		m.vmis = append(m.vmis, nil)
		copy(m.vmis[i+1:], m.vmis[i:])
		m.vmis[i] = n
	}
	if i+1 < len(m.vmis) && m._canmerge(n, m.vmis[i+1]) {
		n.Pglen += m.vmis[i+1].Pglen
		m.vmis = append(m.vmis[:i+1], m.vmis[i+2:]...)
	}
}

func (m *Vmregion_t) Clear() {
	m.vmis = nil
	m._pglen = 0
}

func (m *Vmregion_t) Lookup(va uintptr) (*Vminfo_t, bool) {
	pgn := va >> PGSHIFT
	i := sort.Search(len(m.vmis), func(i int) bool {
		return m.vmis[i].Pgn+uintptr(m.vmis[i].Pglen) > pgn
	})
	if i < len(m.vmis) && m.vmis[i].Pgn <= pgn {
		return m.vmis[i], true
	}
	return nil, false
}

func (m *Vmregion_t) Iter(f func(*Vminfo_t)) {
	for _, vmi := range m.vmis {
		f(vmi)
	}
}

func (m *Vmregion_t) Pglen() int {
	return m._pglen
}
