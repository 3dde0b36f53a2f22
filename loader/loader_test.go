package loader

import "bytes"
import "debug/elf"
import "encoding/binary"
import "testing"
import "testing/fstest"

import "github.com/prometheus/client_golang/prometheus/testutil"
import "github.com/stretchr/testify/assert"
import "github.com/stretchr/testify/require"

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/limits"
import "github.com/Starry-Mix-THU/starry-mix/mem"
import "github.com/Starry-Mix-THU/starry-mix/vm"

var layout = Layout_t{
	StackTop:   0x7ff000000,
	StackSize:  0x4000,
	HeapBase:   0x40000000,
	HeapSize:   0x2000,
	InterpBase: 0x400000000,
}

type seg_t struct {
	typ    elf.ProgType
	flags  elf.ProgFlag
	off    uint64
	vaddr  uint64
	filesz uint64
	memsz  uint64
}

// builds a little-endian ELF64 image; blobs are placed at their file
// offsets.
func mkelf(typ elf.Type, entry uint64, segs []seg_t, blobs map[uint64][]uint8) []uint8 {
	hdr := elf.Header64{
		Type:      uint16(typ),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     64,
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     uint16(len(segs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, &hdr)
	size := uint64(64 + 56*len(segs))
	for _, s := range segs {
		binary.Write(&b, binary.LittleEndian, &elf.Prog64{
			Type:   uint32(s.typ),
			Flags:  uint32(s.flags),
			Off:    s.off,
			Vaddr:  s.vaddr,
			Paddr:  s.vaddr,
			Filesz: s.filesz,
			Memsz:  s.memsz,
			Align:  uint64(mem.PGSIZE),
		})
		if s.off+s.filesz > size {
			size = s.off + s.filesz
		}
	}
	img := make([]uint8, size)
	copy(img, b.Bytes())
	for off, blob := range blobs {
		copy(img[off:], blob)
	}
	return img
}

var code = []uint8("\x90\x90\x90\x90\x0f\x05\xeb\xfe")

// a static executable: text at 0x10000 with its code at 0x11000, data at
// 0x12000 followed by bss.
func static() []uint8 {
	data := make([]uint8, 8)
	binary.LittleEndian.PutUint64(data, 0x1122334455667788)
	return mkelf(elf.ET_EXEC, 0x11000, []seg_t{
		{elf.PT_LOAD, elf.PF_R | elf.PF_X, 0, 0x10000, 0x1008, 0x1008},
		{elf.PT_LOAD, elf.PF_R | elf.PF_W, 0x2000, 0x12000, 8, 0x2000},
	}, map[uint64][]uint8{0x1000: code, 0x2000: data})
}

// a position independent image with an optional PT_INTERP
func pie(entry uint64, interp string) []uint8 {
	segs := []seg_t{
		{elf.PT_LOAD, elf.PF_R | elf.PF_X, 0, 0, 0x1200, 0x1200},
	}
	blobs := map[uint64][]uint8{0x1000: code}
	if interp != "" {
		s := append([]uint8(interp), 0)
		segs = append(segs, seg_t{elf.PT_INTERP, elf.PF_R, 0x1100, 0x1100,
			uint64(len(s)), uint64(len(s))})
		blobs[0x1100] = s
	}
	return mkelf(elf.ET_DYN, entry, segs, blobs)
}

func mkas(t *testing.T) *vm.Vm_t {
	as, err := vm.Vm_new(mem.Phys_init(512), 0x1000, 1<<40)
	require.Zero(t, err)
	t.Cleanup(func() { as.Refdown() })
	return as
}

func readstr(t *testing.T, as *vm.Vm_t, va uintptr) string {
	var ret []uint8
	for {
		c, err := as.Userreadn(va, 1)
		require.Zero(t, err)
		if c == 0 {
			return string(ret)
		}
		ret = append(ret, uint8(c))
		va++
	}
}

func readword(t *testing.T, as *vm.Vm_t, va uintptr) uintptr {
	v, err := as.Userreadn(va, 8)
	require.Zero(t, err)
	return uintptr(v)
}

func TestMapElfStatic(t *testing.T) {
	as := mkas(t)
	ei, err := Map_elf(as, 0x200000, static())
	require.Zero(t, err)
	assert.Equal(t, uintptr(0x11000), ei.Entry)
	assert.Equal(t, uintptr(0), ei.Base)
	assert.Equal(t, uintptr(0x10040), ei.Phdr)
	assert.Equal(t, 56, ei.Phent)
	assert.Equal(t, 2, ei.Phnum)
	assert.Empty(t, ei.Interp)

	got := make([]uint8, len(code))
	require.Zero(t, as.User2k(got, 0x11000))
	assert.Equal(t, code, got)
	assert.Equal(t, uintptr(0x1122334455667788), readword(t, as, 0x12000))
	assert.Equal(t, uintptr(0), readword(t, as, 0x12008))
	assert.Equal(t, uintptr(0), readword(t, as, 0x13ff8))

	// text is read-only, data writable
	assert.Equal(t, -defs.EFAULT, as.Userwriten(0x11000, 8, 0))
	assert.Zero(t, as.Userwriten(0x13000, 8, 1))
	for _, r := range as.Regions() {
		assert.Equal(t, vm.VELF, r.Mtype)
	}
}

func TestMapElfPie(t *testing.T) {
	as := mkas(t)
	ei, err := Map_elf(as, 0x200000, pie(0x1000, ""))
	require.Zero(t, err)
	assert.Equal(t, uintptr(0x200000), ei.Base)
	assert.Equal(t, uintptr(0x201000), ei.Entry)
	assert.Equal(t, uintptr(0x200040), ei.Phdr)
	got := make([]uint8, len(code))
	require.Zero(t, as.User2k(got, 0x201000))
	assert.Equal(t, code, got)
}

func TestMapElfBad(t *testing.T) {
	as := mkas(t)
	_, err := Map_elf(as, 0, []uint8("not an elf at all, clearly"))
	assert.Equal(t, -defs.ENOEXEC, err)

	misaligned := mkelf(elf.ET_EXEC, 0x10800, []seg_t{
		{elf.PT_LOAD, elf.PF_R | elf.PF_X, 0x1000, 0x10800, 8, 8},
	}, map[uint64][]uint8{0x1000: code})
	_, err = Map_elf(as, 0, misaligned)
	assert.Equal(t, -defs.ENOEXEC, err)

	short := mkelf(elf.ET_EXEC, 0x10000, []seg_t{
		{elf.PT_LOAD, elf.PF_R, 0, 0x10000, 0x100, 0x10},
	}, nil)
	_, err = Map_elf(as, 0, short)
	assert.Equal(t, -defs.ENOEXEC, err)
	assert.Zero(t, as.Pgcount())
}

func TestStackImage(t *testing.T) {
	auxv := []defs.Auxent_t{
		{Key: defs.AT_PAGESZ, Val: 4096},
		{Key: defs.AT_RANDOM},
		{Key: defs.AT_EXECFN},
		{Key: defs.AT_NULL},
	}
	rnd := [16]uint8{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	const top = 0x10000
	img, sp := Stack_image([]string{"prog", "-v"}, []string{"HOME=/"}, auxv,
		"/bin/prog", rnd, top)
	assert.Zero(t, sp%16)
	require.Equal(t, top-sp, uintptr(len(img)))

	word := func(i int) uintptr {
		return uintptr(binary.LittleEndian.Uint64(img[i*8:]))
	}
	str := func(va uintptr) string {
		s := img[va-sp:]
		return string(s[:bytes.IndexByte(s, 0)])
	}
	assert.Equal(t, uintptr(2), word(0))
	assert.Equal(t, "prog", str(word(1)))
	assert.Equal(t, "-v", str(word(2)))
	assert.Zero(t, word(3))
	assert.Equal(t, "HOME=/", str(word(4)))
	assert.Zero(t, word(5))
	assert.Equal(t, uintptr(defs.AT_PAGESZ), word(6))
	assert.Equal(t, uintptr(4096), word(7))
	assert.Equal(t, uintptr(defs.AT_RANDOM), word(8))
	assert.Equal(t, rnd[:], img[word(9)-sp:word(9)-sp+16])
	assert.Equal(t, uintptr(defs.AT_EXECFN), word(10))
	assert.Equal(t, "/bin/prog", str(word(11)))
	assert.Equal(t, word(9), auxv[1].Val)
	assert.Equal(t, word(11), auxv[2].Val)
	assert.Equal(t, uintptr(defs.AT_NULL), word(12))
}

func mkloader(files fstest.MapFS, depth int) *Loader_t {
	ld := Mkloader(files, layout, limits.Mklimit(16, 16, depth), nil, nil)
	ld.Rand = bytes.NewReader(bytes.Repeat([]uint8{0xaa}, 64))
	return ld
}

func auxval(img Image_t, key int) (uintptr, bool) {
	for _, a := range img.Auxv {
		if a.Key == key {
			return a.Val, true
		}
	}
	return 0, false
}

func TestLoadStatic(t *testing.T) {
	as := mkas(t)
	ld := mkloader(fstest.MapFS{"bin/hello": {Data: static()}}, 4)
	img, err := ld.Load_user_app(as, "/bin/hello", []string{"/bin/hello", "a"},
		[]string{"K=V"})
	require.Zero(t, err)
	assert.Equal(t, uintptr(0x11000), img.Entry)
	assert.Equal(t, "/bin/hello", img.Path)
	assert.Empty(t, img.Interp)

	sp := img.Sp
	assert.Zero(t, sp%16)
	assert.True(t, sp < layout.StackTop && sp >= layout.StackTop-layout.StackSize)
	assert.Equal(t, uintptr(2), readword(t, as, sp))
	assert.Equal(t, "/bin/hello", readstr(t, as, readword(t, as, sp+8)))
	assert.Equal(t, "a", readstr(t, as, readword(t, as, sp+16)))
	assert.Zero(t, readword(t, as, sp+24))
	assert.Equal(t, "K=V", readstr(t, as, readword(t, as, sp+32)))
	assert.Zero(t, readword(t, as, sp+40))

	// the auxiliary vector on the stack matches the returned one
	va := sp + 48
	for _, a := range img.Auxv {
		assert.Equal(t, uintptr(a.Key), readword(t, as, va))
		assert.Equal(t, a.Val, readword(t, as, va+8))
		va += 16
	}
	assert.Equal(t, defs.AT_NULL, img.Auxv[len(img.Auxv)-1].Key)
	v, _ := auxval(img, defs.AT_PAGESZ)
	assert.Equal(t, uintptr(mem.PGSIZE), v)
	v, _ = auxval(img, defs.AT_ENTRY)
	assert.Equal(t, uintptr(0x11000), v)
	v, _ = auxval(img, defs.AT_BASE)
	assert.Zero(t, v)
	v, _ = auxval(img, defs.AT_PHDR)
	assert.Equal(t, uintptr(0x10040), v)
	v, _ = auxval(img, defs.AT_EXECFN)
	assert.Equal(t, "/bin/hello", readstr(t, as, v))
	v, _ = auxval(img, defs.AT_RANDOM)
	assert.Equal(t, uintptr(0xaaaaaaaaaaaaaaaa), readword(t, as, v))

	// the heap is mapped and empty
	assert.Zero(t, readword(t, as, layout.HeapBase))
	assert.Zero(t, as.Userwriten(layout.HeapBase+layout.HeapSize-8, 8, 1))
	var kinds []string
	for _, r := range as.Regions() {
		kinds = append(kinds, r.Mtype.String())
	}
	assert.Contains(t, kinds, "stack")
	assert.Contains(t, kinds, "heap")
	assert.Equal(t, 1.0, testutil.ToFloat64(ld.St.Elfloads.WithLabelValues("main")))
}

func TestLoadDynamic(t *testing.T) {
	as := mkas(t)
	ld := mkloader(fstest.MapFS{
		"bin/app":    {Data: pie(0x1000, "/lib/ld.so")},
		"lib/ld.so":  {Data: pie(0x1004, "")},
		"bin/static": {Data: static()},
	}, 4)
	img, err := ld.Load_user_app(as, "", []string{"/bin/app"}, nil)
	require.Zero(t, err)
	assert.Equal(t, "/lib/ld.so", img.Interp)
	assert.Equal(t, layout.InterpBase+0x1004, img.Entry)
	v, _ := auxval(img, defs.AT_BASE)
	assert.Equal(t, layout.InterpBase, v)
	v, _ = auxval(img, defs.AT_ENTRY)
	assert.Equal(t, as.Base+0x1000, v)

	got := make([]uint8, len(code))
	require.Zero(t, as.User2k(got, layout.InterpBase+0x1000))
	assert.Equal(t, code, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(ld.St.Elfloads.WithLabelValues("interp")))
}

func TestLoadMissingInterp(t *testing.T) {
	ld := mkloader(fstest.MapFS{
		"bin/app": {Data: pie(0x1000, "/lib/ld.so")},
	}, 4)
	_, err := ld.Load_user_app(mkas(t), "/bin/app", []string{"/bin/app"}, nil)
	assert.Equal(t, -defs.ENOENT, err)
}

func TestShebangChain(t *testing.T) {
	as := mkas(t)
	ld := mkloader(fstest.MapFS{
		"bin/sh": {Data: static()},
		"s1":     {Data: []uint8("#!/s2 -x\necho hi\n")},
		"s2":     {Data: []uint8("#! /bin/sh\n")},
	}, 4)
	img, err := ld.Load_user_app(as, "/s1", []string{"/s1", "arg"}, nil)
	require.Zero(t, err)
	assert.Equal(t, []string{"/bin/sh", "/s2", "-x", "/s1", "arg"}, img.Args)
	assert.Equal(t, "/bin/sh", img.Path)
	assert.Equal(t, 2.0, testutil.ToFloat64(ld.St.Interphops))
	assert.Equal(t, uintptr(5), readword(t, as, img.Sp))
	v, _ := auxval(img, defs.AT_EXECFN)
	assert.Equal(t, "/s1", readstr(t, as, v))

	_, err = mkloader(ld.Fs.(fstest.MapFS), 1).Load_user_app(mkas(t), "/s1",
		[]string{"/s1"}, nil)
	assert.Equal(t, -defs.ELOOP, err)
}

func TestShellSuffix(t *testing.T) {
	ld := mkloader(fstest.MapFS{"bin/sh": {Data: static()}}, 4)
	img, err := ld.Load_user_app(mkas(t), "", []string{"/run.sh", "x"}, nil)
	require.Zero(t, err)
	assert.Equal(t, []string{"/bin/sh", "/run.sh", "x"}, img.Args)
}

func TestShebangLoop(t *testing.T) {
	ld := mkloader(fstest.MapFS{"loop": {Data: []uint8("#!/loop\n")}}, 4)
	_, err := ld.Load_user_app(mkas(t), "/loop", []string{"/loop"}, nil)
	assert.Equal(t, -defs.ELOOP, err)
	assert.Equal(t, 4.0, testutil.ToFloat64(ld.St.Interphops))
}

func TestShebang(t *testing.T) {
	tests := []struct {
		in   string
		want []string
		err  defs.Err_t
	}{
		{"#!/bin/sh\n", []string{"/bin/sh"}, 0},
		{"#!/bin/sh", []string{"/bin/sh"}, 0},
		{"#!  /usr/bin/env   python3 -u \nx", []string{"/usr/bin/env", "python3 -u"}, 0},
		{"#!\t\n", nil, -defs.ENOEXEC},
		{"#!\xff\xfe\n", nil, -defs.ENOEXEC},
	}
	for _, tt := range tests {
		got, err := shebang([]uint8(tt.in))
		assert.Equal(t, tt.err, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestLoadErrors(t *testing.T) {
	ld := mkloader(fstest.MapFS{"junk": {Data: []uint8("junk")}}, 4)
	_, err := ld.Load_user_app(mkas(t), "/nope", nil, nil)
	assert.Equal(t, -defs.ENOENT, err)
	_, err = ld.Load_user_app(mkas(t), "/junk", []string{"/junk"}, nil)
	assert.Equal(t, -defs.ENOEXEC, err)
	_, err = ld.Load_user_app(mkas(t), "", nil, nil)
	assert.Equal(t, -defs.EINVAL, err)
}
