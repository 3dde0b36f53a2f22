// Package loader builds the initial user image of a program: it resolves
// scripts to their interpreters, maps the ELF image and its dynamic linker,
// and lays out the stack and heap.
package loader

import "bytes"
import "crypto/rand"
import "errors"
import "io"
import "io/fs"
import "path"
import "strings"
import "unicode"
import "unicode/utf8"

import "go.uber.org/zap"
import "golang.org/x/sys/unix"

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/limits"
import "github.com/Starry-Mix-THU/starry-mix/mem"
import "github.com/Starry-Mix-THU/starry-mix/stats"
import "github.com/Starry-Mix-THU/starry-mix/util"
import "github.com/Starry-Mix-THU/starry-mix/vm"

// only this much of a script is searched for its interpreter line
const SHEBANG_MAX = 256

// scripts named *.sh run under this shell
const SCRIPT_SHELL = "/bin/sh"

// Layout_t fixes where a program's stack, heap and dynamic linker go.
type Layout_t struct {
	StackTop   uintptr
	StackSize  uintptr
	HeapBase   uintptr
	HeapSize   uintptr
	InterpBase uintptr
}

// Image_t is the initial state of a loaded program.
type Image_t struct {
	Entry uintptr
	// points at argc
	Sp uintptr
	// the argument vector after interpreters were prepended
	Args []string
	// the ELF file that was mapped
	Path   string
	Interp string
	Auxv   []defs.Auxent_t
}

type Loader_t struct {
	Fs     fs.FS
	Layout Layout_t
	Lim    *limits.Syslimit_t
	St     *stats.Stats_t
	Log    *zap.Logger
	// source of AT_RANDOM bytes
	Rand io.Reader
}

func Mkloader(fsys fs.FS, lay Layout_t, lim *limits.Syslimit_t, st *stats.Stats_t,
	log *zap.Logger) *Loader_t {
	if log == nil {
		log = zap.NewNop()
	}
	if st == nil {
		st = stats.Discard()
	}
	return &Loader_t{Fs: fsys, Layout: lay, Lim: lim, St: st, Log: log,
		Rand: rand.Reader}
}

// Readfile returns the contents of the file at the absolute path p.
func (ld *Loader_t) Readfile(p string) ([]uint8, defs.Err_t) {
	name := strings.TrimPrefix(path.Clean("/"+p), "/")
	if name == "" {
		return nil, -defs.EISDIR
	}
	data, err := fs.ReadFile(ld.Fs, name)
	if err != nil {
		return nil, fserr(err)
	}
	return data, 0
}

func fserr(err error) defs.Err_t {
	var en unix.Errno
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return -defs.ENOENT
	case errors.Is(err, fs.ErrPermission):
		return -defs.EACCES
	case errors.As(err, &en):
		return -defs.Err_t(en)
	}
	return -defs.EIO
}

// Load_user_app loads the program at path, or at args[0] if path is empty,
// into the empty address space as. a *.sh path is run by SCRIPT_SHELL and a
// file starting with "#!" by the interpreter it names, which may itself be a
// script; at most Lim.Interp_depth interpreters are followed.
func (ld *Loader_t) Load_user_app(as *vm.Vm_t, path string, args,
	envs []string) (Image_t, defs.Err_t) {
	execfn := path
	if execfn == "" && len(args) > 0 {
		execfn = args[0]
	}
	return ld.load(as, path, args, envs, execfn, 0)
}

func (ld *Loader_t) load(as *vm.Vm_t, path string, args, envs []string,
	execfn string, depth int) (Image_t, defs.Err_t) {
	if path == "" {
		if len(args) == 0 {
			return Image_t{}, -defs.EINVAL
		}
		path = args[0]
	}
	if strings.HasSuffix(path, ".sh") {
		nargs := append([]string{SCRIPT_SHELL}, args...)
		return ld.hop(as, nargs, envs, execfn, depth)
	}

	data, err := ld.Readfile(path)
	if err != 0 {
		return Image_t{}, err
	}
	if bytes.HasPrefix(data, []uint8("#!")) {
		interp, err := shebang(data)
		if err != 0 {
			return Image_t{}, err
		}
		return ld.hop(as, append(interp, args...), envs, execfn, depth)
	}
	return ld.loadelf(as, path, data, args, envs, execfn)
}

func (ld *Loader_t) hop(as *vm.Vm_t, args, envs []string, execfn string,
	depth int) (Image_t, defs.Err_t) {
	if depth >= ld.Lim.Interp_depth {
		ld.Log.Debug("too many interpreters", zap.String("execfn", execfn),
			zap.Int("depth", depth))
		return Image_t{}, -defs.ELOOP
	}
	ld.St.Interphops.Inc()
	ld.Log.Debug("interpreter", zap.Strings("args", args))
	return ld.load(as, "", args, envs, execfn, depth+1)
}

// the interpreter and its optional argument named by a "#!" line
func shebang(data []uint8) ([]string, defs.Err_t) {
	head := data[2:util.Min(len(data), SHEBANG_MAX)]
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	if !utf8.Valid(head) {
		return nil, -defs.ENOEXEC
	}
	line := strings.TrimSpace(string(head))
	if line == "" {
		return nil, -defs.ENOEXEC
	}
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return []string{line}, 0
	}
	return []string{line[:i], strings.TrimSpace(line[i:])}, 0
}

func (ld *Loader_t) loadelf(as *vm.Vm_t, path string, data []uint8, args,
	envs []string, execfn string) (Image_t, defs.Err_t) {
	img := Image_t{Path: path, Args: args}
	ei, err := Map_elf(as, as.Base, data)
	if err != 0 {
		return img, err
	}
	ld.St.Elfloads.WithLabelValues("main").Inc()

	entry := ei.Entry
	var ibase uintptr
	if ei.Interp != "" {
		ldata, err := ld.Readfile(ei.Interp)
		if err != 0 {
			return img, err
		}
		li, err := Map_elf(as, ld.Layout.InterpBase, ldata)
		if err != 0 {
			return img, err
		}
		ld.St.Elfloads.WithLabelValues("interp").Inc()
		entry = li.Entry
		ibase = li.Base
		img.Interp = ei.Interp
	}

	img.Auxv = []defs.Auxent_t{
		{Key: defs.AT_PHDR, Val: ei.Phdr},
		{Key: defs.AT_PHENT, Val: uintptr(ei.Phent)},
		{Key: defs.AT_PHNUM, Val: uintptr(ei.Phnum)},
		{Key: defs.AT_PAGESZ, Val: uintptr(mem.PGSIZE)},
		{Key: defs.AT_BASE, Val: ibase},
		{Key: defs.AT_FLAGS, Val: 0},
		{Key: defs.AT_ENTRY, Val: ei.Entry},
		{Key: defs.AT_UID, Val: 0},
		{Key: defs.AT_EUID, Val: 0},
		{Key: defs.AT_GID, Val: 0},
		{Key: defs.AT_EGID, Val: 0},
		{Key: defs.AT_SECURE, Val: 0},
		{Key: defs.AT_RANDOM},
		{Key: defs.AT_EXECFN},
		{Key: defs.AT_NULL},
	}

	var rnd [16]uint8
	if _, err := io.ReadFull(ld.Rand, rnd[:]); err != nil {
		return img, -defs.EIO
	}
	lay := ld.Layout
	stk, sp := Stack_image(args, envs, img.Auxv, execfn, rnd, lay.StackTop)
	if uintptr(len(stk)) > lay.StackSize {
		return img, -defs.E2BIG
	}
	if err := as.Map_alloc(lay.StackTop-lay.StackSize, lay.StackSize, vm.PTE_W,
		vm.VSTACK); err != 0 {
		return img, err
	}
	if err := as.Populate(stk, sp); err != 0 {
		return img, err
	}
	if err := as.Map_alloc(lay.HeapBase, lay.HeapSize, vm.PTE_W, vm.VHEAP); err != 0 {
		return img, err
	}

	img.Entry = entry
	img.Sp = sp
	ld.Log.Debug("loaded", zap.String("path", path), zap.String("interp", img.Interp),
		zap.Uintptr("entry", entry), zap.Uintptr("sp", sp))
	return img, 0
}
