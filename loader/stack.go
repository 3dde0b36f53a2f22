package loader

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/util"

// Stack_image lays out the initial stack of a program ending at top. from
// top down: the program path, the environment and argument strings, 16
// random bytes, then argc followed by the NULL terminated argv and envp
// pointer arrays and the auxiliary vector. the AT_RANDOM and AT_EXECFN
// entries of auxv are set to the addresses of the random bytes and the path.
// returns the image and the address it starts at, which is 16 byte aligned
// and holds argc.
func Stack_image(args, envs []string, auxv []defs.Auxent_t, execfn string,
	random [16]uint8, top uintptr) ([]uint8, uintptr) {
	strsz := len(execfn) + 1 + len(random)
	for _, s := range args {
		strsz += len(s) + 1
	}
	for _, s := range envs {
		strsz += len(s) + 1
	}
	nwords := 1 + len(args) + 1 + len(envs) + 1 + 2*len(auxv)
	strbase := util.Rounddown(int(top)-strsz, 16)
	sp := uintptr(util.Rounddown(strbase-nwords*8, 16))

	img := make([]uint8, top-sp)
	cur := top
	put := func(b []uint8) uintptr {
		cur -= uintptr(len(b))
		copy(img[cur-sp:], b)
		return cur
	}
	putstr := func(s string) uintptr {
		// the terminator is already zero
		cur--
		return put([]uint8(s))
	}
	efn := putstr(execfn)
	envp := make([]uintptr, len(envs))
	for i, s := range envs {
		envp[i] = putstr(s)
	}
	argv := make([]uintptr, len(args))
	for i, s := range args {
		argv[i] = putstr(s)
	}
	rnd := put(random[:])

	off := 0
	word := func(v uintptr) {
		util.Writen(img, 8, off, int(v))
		off += 8
	}
	word(uintptr(len(args)))
	for _, p := range argv {
		word(p)
	}
	word(0)
	for _, p := range envp {
		word(p)
	}
	word(0)
	for i := range auxv {
		switch auxv[i].Key {
		case defs.AT_RANDOM:
			auxv[i].Val = rnd
		case defs.AT_EXECFN:
			auxv[i].Val = efn
		}
		word(uintptr(auxv[i].Key))
		word(auxv[i].Val)
	}
	return img, sp
}
