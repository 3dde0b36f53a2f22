package mem

import "fmt"
import "sync"
import "sync/atomic"

const PGSHIFT uint = 12
const PGSIZE int = 1 << PGSHIFT
const PGOFFSET Pa_t = 0xfff
const PGMASK Pa_t = ^(PGOFFSET)

type Pa_t uintptr
type Bytepg_t [PGSIZE]uint8

// the subset of the physical page allocator the address space code uses.
type Page_i interface {
	Refpg_new() (*Bytepg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Bytepg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

type physpg_t struct {
	Refcnt int32
	pg     *Bytepg_t
}

// Physmem_t hands out zeroed, reference counted 4KB pages. physical address
// 0 is never a valid page.
type Physmem_t struct {
	sync.Mutex
	pgs   []physpg_t
	freel []uint32
	// pages currently allocated
	used int64
}

func Phys_init(npages int) *Physmem_t {
	if npages <= 0 {
		panic("no pages")
	}
	phys := &Physmem_t{}
	phys.pgs = make([]physpg_t, npages)
	phys.freel = make([]uint32, 0, npages)
	for i := npages - 1; i >= 0; i-- {
		phys.freel = append(phys.freel, uint32(i))
	}
	return phys
}

func (phys *Physmem_t) _pa2idx(p_pg Pa_t) uint32 {
	if p_pg&PGOFFSET != 0 || p_pg == 0 {
		panic(fmt.Sprintf("bad page address %#x", p_pg))
	}
	idx := uint32(p_pg>>PGSHIFT) - 1
	if int(idx) >= len(phys.pgs) {
		panic(fmt.Sprintf("page address out of range %#x", p_pg))
	}
	return idx
}

func _idx2pa(idx uint32) Pa_t {
	return Pa_t(idx+1) << PGSHIFT
}

// refcnt of returned page is not incremented; the caller increments it when
// the page is inserted into a page table.
func (phys *Physmem_t) Refpg_new() (*Bytepg_t, Pa_t, bool) {
	phys.Lock()
	l := len(phys.freel)
	if l == 0 {
		phys.Unlock()
		return nil, 0, false
	}
	idx := phys.freel[l-1]
	phys.freel = phys.freel[:l-1]
	pp := &phys.pgs[idx]
	if pp.pg == nil {
		pp.pg = &Bytepg_t{}
	} else {
		*pp.pg = Bytepg_t{}
	}
	phys.Unlock()
	atomic.AddInt64(&phys.used, 1)
	return pp.pg, _idx2pa(idx), true
}

func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	idx := phys._pa2idx(p_pg)
	return int(atomic.LoadInt32(&phys.pgs[idx].Refcnt))
}

func (phys *Physmem_t) Refup(p_pg Pa_t) {
	idx := phys._pa2idx(p_pg)
	c := atomic.AddInt32(&phys.pgs[idx].Refcnt, 1)
	if c <= 0 {
		panic("wut")
	}
}

// returns true if the page was freed.
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	idx := phys._pa2idx(p_pg)
	c := atomic.AddInt32(&phys.pgs[idx].Refcnt, -1)
	if c < 0 {
		panic("wut")
	}
	if c != 0 {
		return false
	}
	phys.Lock()
	phys.freel = append(phys.freel, idx)
	phys.Unlock()
	atomic.AddInt64(&phys.used, -1)
	return true
}

func (phys *Physmem_t) Dmap(p_pg Pa_t) *Bytepg_t {
	idx := phys._pa2idx(p_pg)
	pg := phys.pgs[idx].pg
	if pg == nil {
		panic("dmap of unallocated page")
	}
	return pg
}

// number of allocated pages
func (phys *Physmem_t) Pgused() int {
	return int(atomic.LoadInt64(&phys.used))
}

func (phys *Physmem_t) Pgfree() int {
	phys.Lock()
	defer phys.Unlock()
	return len(phys.freel)
}
