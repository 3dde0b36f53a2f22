package vm

import "sync"
import "sync/atomic"

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/mem"
import "github.com/Starry-Mix-THU/starry-mix/util"

var _asids uint64

type Vm_t struct {
	// lock for vmregion, pmap and p_pmap
	sync.Mutex

	Vmregion Vmregion_t

	// page number -> pte
	pmap   map[uintptr]mem.Pa_t
	P_pmap mem.Pa_t
	phys   mem.Page_i

	// user range
	Base uintptr
	Size uintptr

	id        uint64
	ref       int32
	pgfltaken bool
}

// Vm_new allocates an empty address space over the user range [base,
// base+size). the caller holds the only reference.
func Vm_new(phys mem.Page_i, base, size uintptr) (*Vm_t, defs.Err_t) {
	if base&uintptr(PGOFFSET) != 0 || size&uintptr(PGOFFSET) != 0 ||
		base+size < base {
		return nil, -defs.EINVAL
	}
	_, p_pmap, ok := phys.Refpg_new()
	if !ok {
		return nil, -defs.ENOMEM
	}
	phys.Refup(p_pmap)
	as := &Vm_t{pmap: make(map[uintptr]mem.Pa_t), P_pmap: p_pmap,
		phys: phys, Base: base, Size: size, ref: 1}
	as.id = atomic.AddUint64(&_asids, 1)
	return as, 0
}

// Id distinguishes address spaces; it is never reused.
func (as *Vm_t) Id() uint64 {
	return as.id
}

func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

func (as *Vm_t) Refup() {
	if atomic.AddInt32(&as.ref, 1) <= 1 {
		panic("refup of dead vm")
	}
}

// Refdown drops a reference. the last reference frees every page of the
// address space; returns true in that case.
func (as *Vm_t) Refdown() bool {
	c := atomic.AddInt32(&as.ref, -1)
	if c < 0 {
		panic("vm refcount underflow")
	}
	if c != 0 {
		return false
	}
	as.Lock_pmap()
	as.uvmfree_inner()
	as.Unlock_pmap()
	return true
}

func (as *Vm_t) Refs() int {
	return int(atomic.LoadInt32(&as.ref))
}

func (as *Vm_t) uvmfree_inner() {
	as.Lockassert_pmap()
	for vpn, pte := range as.pmap {
		as.phys.Refdown(pte & PTE_ADDR)
		delete(as.pmap, vpn)
	}
	as.Vmregion.Clear()
	if as.P_pmap != 0 {
		as.phys.Refdown(as.P_pmap)
		as.P_pmap = 0
	}
}

func (as *Vm_t) Userrange(va, n uintptr) bool {
	return va >= as.Base && va+n >= va && va+n <= as.Base+as.Size
}

// Pmap_lookup returns the pte mapping va.
func (as *Vm_t) Pmap_lookup(va uintptr) (mem.Pa_t, bool) {
	as.Lockassert_pmap()
	pte, ok := as.pmap[va>>PGSHIFT]
	return pte, ok
}

// Page_insert maps p_pg at va. p_pg's reference count is increased so the
// caller can simply Refdown. a page that was mapped at va is released.
func (as *Vm_t) Page_insert(va uintptr, p_pg mem.Pa_t, perms mem.Pa_t) {
	as.Lockassert_pmap()
	as.phys.Refup(p_pg)
	vpn := va >> PGSHIFT
	if old, ok := as.pmap[vpn]; ok {
		as.phys.Refdown(old & PTE_ADDR)
	}
	as.pmap[vpn] = p_pg | (perms & PTE_FLAGS) | PTE_P
}

// Map_alloc backs [va, va+l) with fresh zeroed pages. pages that are already
// mapped are kept and have perms added. the range is rounded out to page
// boundaries.
func (as *Vm_t) Map_alloc(va, l uintptr, perms mem.Pa_t, mt mtype_t) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.map_alloc_inner(va, l, perms, mt)
}

func (as *Vm_t) map_alloc_inner(va, l uintptr, perms mem.Pa_t, mt mtype_t) defs.Err_t {
	start := va &^ uintptr(PGOFFSET)
	end := uintptr(util.Roundup(int(va+l), mem.PGSIZE))
	if l == 0 || !as.Userrange(start, end-start) {
		return -defs.EINVAL
	}
	for pva := start; pva < end; pva += PGSIZEW {
		if pte, ok := as.pmap[pva>>PGSHIFT]; ok {
			as.pmap[pva>>PGSHIFT] = pte | (perms & PTE_FLAGS)
			continue
		}
		_, p_pg, ok := as.phys.Refpg_new()
		if !ok {
			return -defs.ENOMEM
		}
		as.Page_insert(pva, p_pg, perms|PTE_U)
	}
	as.Vmregion.insert(&Vminfo_t{Mtype: mt, Pgn: start >> PGSHIFT,
		Pglen: int((end - start) >> PGSHIFT), Perms: uint(perms | PTE_U)})
	return 0
}

// Map_linear maps the existing physical pages starting at pa at va.
func (as *Vm_t) Map_linear(va uintptr, pa mem.Pa_t, l uintptr, perms mem.Pa_t,
	mt mtype_t) defs.Err_t {
	if va&uintptr(PGOFFSET) != 0 || pa&PGOFFSET != 0 || l == 0 {
		return -defs.EINVAL
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	npg := (l + PGSIZEW - 1) >> PGSHIFT
	for i := uintptr(0); i < npg; i++ {
		as.Page_insert(va+i<<PGSHIFT, pa+mem.Pa_t(i<<PGSHIFT), perms)
	}
	as.Vmregion.insert(&Vminfo_t{Mtype: mt, Pgn: va >> PGSHIFT,
		Pglen: int(npg), Perms: uint(perms)})
	return 0
}

// Map_trampoline maps the kernel's signal return page read+execute for user
// mode at va.
func (as *Vm_t) Map_trampoline(va uintptr, pa mem.Pa_t) defs.Err_t {
	return as.Map_linear(va, pa, PGSIZEW, PTE_U|PTE_X, VTRAMP)
}

// Separate_roots reports whether arch gives the kernel a page table root of
// its own, so that user page tables need no kernel mappings.
func Separate_roots(arch string) bool {
	switch arch {
	case "aarch64", "arm64", "loongarch64", "loong64":
		return true
	}
	return false
}

// Copy_kernel makes the kernel's mappings reachable from as. it does nothing
// on architectures with separate kernel and user roots.
func (as *Vm_t) Copy_kernel(kvm *Vm_t, arch string) {
	if Separate_roots(arch) {
		return
	}
	kvm.Lock_pmap()
	defer kvm.Unlock_pmap()
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for vpn, pte := range kvm.pmap {
		if pte&PTE_U != 0 {
			continue
		}
		if _, ok := as.pmap[vpn]; ok {
			continue
		}
		as.Page_insert(vpn<<PGSHIFT, pte&PTE_ADDR, pte&PTE_FLAGS)
	}
	kvm.Vmregion.Iter(func(vmi *Vminfo_t) {
		if mem.Pa_t(vmi.Perms)&PTE_U == 0 {
			nvmi := *vmi
			nvmi.Mtype = VKERN
			as.Vmregion.insert(&nvmi)
		}
	})
}

// Fork returns a copy of the user part of as. writable pages are shared
// copy-on-write between the two spaces; kernel mappings are not copied (see
// Copy_kernel).
func (as *Vm_t) Fork() (*Vm_t, defs.Err_t) {
	child, err := Vm_new(as.phys, as.Base, as.Size)
	if err != 0 {
		return nil, err
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for vpn, pte := range as.pmap {
		if pte&PTE_U == 0 {
			continue
		}
		if pte&PTE_W != 0 {
			pte = (pte &^ PTE_W) | PTE_COW | PTE_WASCOW
			as.pmap[vpn] = pte
		}
		as.phys.Refup(pte & PTE_ADDR)
		child.pmap[vpn] = pte
	}
	as.Vmregion.Iter(func(vmi *Vminfo_t) {
		if mem.Pa_t(vmi.Perms)&PTE_U != 0 {
			nvmi := *vmi
			child.Vmregion.insert(&nvmi)
		}
	})
	return child, 0
}

// gives the faulting page a private writable copy.
func (as *Vm_t) cowfault_inner(vpn uintptr, pte mem.Pa_t) (mem.Pa_t, defs.Err_t) {
	as.Lockassert_pmap()
	p_old := pte & PTE_ADDR
	flags := (pte & PTE_FLAGS &^ PTE_COW) | PTE_W
	if as.phys.Refcnt(p_old) == 1 {
		as.pmap[vpn] = p_old | flags
		return as.pmap[vpn], 0
	}
	pg, p_pg, ok := as.phys.Refpg_new()
	if !ok {
		return 0, -defs.ENOMEM
	}
	*pg = *as.phys.Dmap(p_old)
	as.phys.Refup(p_pg)
	as.phys.Refdown(p_old)
	as.pmap[vpn] = p_pg | flags
	return as.pmap[vpn], 0
}

// Userdmap8_inner returns the bytes of the page mapping va, starting at va.
// k2u means the kernel is about to write them on the user's behalf;
// copy-on-write pages are copied first.
func (as *Vm_t) Userdmap8_inner(va uintptr, k2u bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()
	if !as.Userrange(va, 1) {
		return nil, -defs.EFAULT
	}
	vpn := va >> PGSHIFT
	pte, ok := as.pmap[vpn]
	if !ok || pte&PTE_U == 0 {
		return nil, -defs.EFAULT
	}
	if k2u && pte&PTE_W == 0 {
		if pte&PTE_COW == 0 {
			return nil, -defs.EFAULT
		}
		var err defs.Err_t
		if pte, err = as.cowfault_inner(vpn, pte); err != 0 {
			return nil, err
		}
	}
	voff := va & uintptr(PGOFFSET)
	return as.phys.Dmap(pte & PTE_ADDR)[voff:], 0
}

func (as *Vm_t) Userreadn(va uintptr, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	a, b := as.userreadn_inner(va, n)
	as.Unlock_pmap()
	return a, b
}

func (as *Vm_t) userreadn_inner(va uintptr, n int) (int, defs.Err_t) {
	as.Lockassert_pmap()
	if n > 8 {
		panic("large n")
	}
	var buf [8]uint8
	if err := as.User2k_inner(buf[:n], va); err != 0 {
		return 0, err
	}
	return util.Readn(buf[:], n, 0), 0
}

func (as *Vm_t) Userwriten(va uintptr, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	var buf [8]uint8
	util.Writen(buf[:], n, 0, val)
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.K2user_inner(buf[:n], va)
}

// Usertimespec reads a struct timespec at va.
func (as *Vm_t) Usertimespec(va uintptr) (defs.Timespec_t, defs.Err_t) {
	var buf [defs.SIZEOF_TIMESPEC]uint8
	if err := as.User2k(buf[:], va); err != 0 {
		return defs.Timespec_t{}, err
	}
	ts := defs.Timespec_t{
		Sec:  int64(util.Readn(buf[:], 8, 0)),
		Nsec: int64(util.Readn(buf[:], 8, 8)),
	}
	return ts, 0
}

// Userwritable checks that the kernel could store n bytes at va.
func (as *Vm_t) Userwritable(va uintptr, n int) defs.Err_t {
	if n <= 0 || !as.Userrange(va, uintptr(n)) {
		return -defs.EFAULT
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for pva := va &^ uintptr(PGOFFSET); pva < va+uintptr(n); pva += PGSIZEW {
		pte, ok := as.pmap[pva>>PGSHIFT]
		if !ok || pte&PTE_U == 0 || pte&(PTE_W|PTE_COW) == 0 {
			return -defs.EFAULT
		}
	}
	return 0
}

// copies src to the user virtual address uva. may copy part of src if uva +
// len(src) is not mapped
func (as *Vm_t) K2user(src []uint8, uva uintptr) defs.Err_t {
	as.Lock_pmap()
	ret := as.K2user_inner(src, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) K2user_inner(src []uint8, uva uintptr) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	for len(src) != 0 {
		dst, err := as.Userdmap8_inner(uva+uintptr(cnt), true)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		src = src[did:]
		cnt += did
	}
	return 0
}

// copies len(dst) bytes from userspace address uva to dst
func (as *Vm_t) User2k(dst []uint8, uva uintptr) defs.Err_t {
	as.Lock_pmap()
	ret := as.User2k_inner(dst, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) User2k_inner(dst []uint8, uva uintptr) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	for len(dst) != 0 {
		src, err := as.Userdmap8_inner(uva+uintptr(cnt), false)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		dst = dst[did:]
		cnt += did
	}
	return 0
}

// Populate copies src to va regardless of the user permissions of the
// destination pages. it is used to fill a fresh image before any thread runs
// on it.
func (as *Vm_t) Populate(src []uint8, va uintptr) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for len(src) != 0 {
		pte, ok := as.pmap[va>>PGSHIFT]
		if !ok {
			return -defs.EFAULT
		}
		if pte&PTE_COW != 0 {
			var err defs.Err_t
			if pte, err = as.cowfault_inner(va>>PGSHIFT, pte); err != 0 {
				return err
			}
		}
		dst := as.phys.Dmap(pte & PTE_ADDR)[va&uintptr(PGOFFSET):]
		did := copy(dst, src)
		src = src[did:]
		va += uintptr(did)
	}
	return 0
}

// Regions returns a snapshot of the region list.
func (as *Vm_t) Regions() []Vminfo_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var ret []Vminfo_t
	as.Vmregion.Iter(func(vmi *Vminfo_t) {
		ret = append(ret, *vmi)
	})
	return ret
}

// Pgcount returns the number of mapped pages.
func (as *Vm_t) Pgcount() int {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return len(as.pmap)
}
