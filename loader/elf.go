package loader

import "bytes"
import "debug/elf"

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/mem"
import "github.com/Starry-Mix-THU/starry-mix/util"
import "github.com/Starry-Mix-THU/starry-mix/vm"

// Elfinfo_t describes an image mapped by Map_elf.
type Elfinfo_t struct {
	Entry uintptr
	// load bias; 0 for an image linked at a fixed address
	Base  uintptr
	Phdr  uintptr
	Phent int
	Phnum int
	// the dynamic linker named by PT_INTERP, "" if none
	Interp string
}

const (
	ELF_PHOFF     = 0x20
	ELF_PHENTSIZE = 0x36
)

func parse(data []uint8) (*elf.File, defs.Err_t) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, -defs.ENOEXEC
	}
	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB {
		return nil, -defs.ENOEXEC
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return nil, -defs.ENOEXEC
	}
	return f, 0
}

func segperms(fl elf.ProgFlag) mem.Pa_t {
	var perms mem.Pa_t
	if fl&elf.PF_W != 0 {
		perms |= vm.PTE_W
	}
	if fl&elf.PF_X != 0 {
		perms |= vm.PTE_X
	}
	return perms
}

// Map_elf maps each loadable segment of the image in data into as and copies
// its file bytes; the rest of the segment stays zero. a position independent
// image is placed base bytes up, any other at its linked address.
func Map_elf(as *vm.Vm_t, base uintptr, data []uint8) (Elfinfo_t, defs.Err_t) {
	var ei Elfinfo_t
	f, err := parse(data)
	if err != 0 {
		return ei, err
	}
	if f.Type == elf.ET_DYN {
		ei.Base = base
	}
	ei.Entry = ei.Base + uintptr(f.Entry)
	ei.Phent = util.Readn(data, 2, ELF_PHENTSIZE)
	ei.Phnum = len(f.Progs)
	phoff := uint64(util.Readn(data, 8, ELF_PHOFF))

	for _, ph := range f.Progs {
		switch ph.Type {
		case elf.PT_PHDR:
			ei.Phdr = ei.Base + uintptr(ph.Vaddr)
		case elf.PT_INTERP:
			if ei.Interp, err = interp(ph, data); err != 0 {
				return ei, err
			}
		case elf.PT_LOAD:
			if err := segload(as, ei.Base, ph, data); err != 0 {
				return ei, err
			}
			if ei.Phdr == 0 && phoff >= ph.Off && phoff < ph.Off+ph.Filesz {
				ei.Phdr = ei.Base + uintptr(ph.Vaddr+phoff-ph.Off)
			}
		}
	}
	return ei, 0
}

func segload(as *vm.Vm_t, bias uintptr, ph *elf.Prog, data []uint8) defs.Err_t {
	pgsz := uint64(mem.PGSIZE)
	if ph.Vaddr%pgsz != ph.Off%pgsz {
		return -defs.ENOEXEC
	}
	fend := ph.Off + ph.Filesz
	if ph.Filesz > ph.Memsz || fend < ph.Off || fend > uint64(len(data)) {
		return -defs.ENOEXEC
	}
	if ph.Memsz == 0 {
		return 0
	}
	va := bias + uintptr(ph.Vaddr)
	if err := as.Map_alloc(va, uintptr(ph.Memsz), segperms(ph.Flags), vm.VELF); err != 0 {
		return err
	}
	return as.Populate(data[ph.Off:fend], va)
}

// the NUL terminated path in a PT_INTERP segment
func interp(ph *elf.Prog, data []uint8) (string, defs.Err_t) {
	fend := ph.Off + ph.Filesz
	if fend < ph.Off || fend > uint64(len(data)) {
		return "", -defs.ENOEXEC
	}
	s := data[ph.Off:fend]
	i := bytes.IndexByte(s, 0)
	if i <= 0 {
		return "", -defs.EINVAL
	}
	return string(s[:i]), 0
}
