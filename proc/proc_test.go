package proc

import "testing"

import "github.com/stretchr/testify/assert"
import "github.com/stretchr/testify/require"

import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/fd"
import "github.com/Starry-Mix-THU/starry-mix/limits"
import "github.com/Starry-Mix-THU/starry-mix/mem"
import "github.com/Starry-Mix-THU/starry-mix/sched"
import "github.com/Starry-Mix-THU/starry-mix/vm"

const heap = 0x2000
const kva = 0xffff800000000000

type env_t struct {
	phys  *mem.Physmem_t
	s     *sched.Sched_t
	pt    *Proctab_t
	init  *Thread_t
	block chan struct{}
}

// an init process with a four page heap, blocked until the test ends.
func mkenv(t *testing.T, lim *limits.Syslimit_t) *env_t {
	e := &env_t{phys: mem.Phys_init(256), s: sched.Mksched(nil),
		block: make(chan struct{})}
	kvm, err := vm.Vm_new(e.phys, 0, 0)
	require.Zero(t, err)
	_, kpa, ok := e.phys.Refpg_new()
	require.True(t, ok)
	require.Zero(t, kvm.Map_linear(kva, kpa, vm.PGSIZEW, vm.PTE_W, vm.VKERN))
	if lim == nil {
		lim = limits.MkSysLimit()
	}
	e.pt = Mkproctab(e.s, kvm, "x86_64", lim, nil, nil)

	as, err := vm.Vm_new(e.phys, 0x1000, 0x100000)
	require.Zero(t, err)
	require.Zero(t, as.Map_alloc(heap, 0x4000, vm.PTE_W, vm.VHEAP))
	tid := e.pt.Tid_new()
	p, err := e.pt.Proc_new(int(tid), &Procattr_t{
		Name:    "init",
		Vm:      as,
		Fds:     fd.Mkfdtable(),
		Cwd:     fd.MkRootCwd(nil),
		Umask:   022,
		Exepath: "/sbin/init",
	})
	require.Zero(t, err)
	e.init = e.pt.Thread_new(p, tid)
	require.Zero(t, e.pt.Start(e.init, "init", nil, func(*Thread_t) {
		<-e.block
	}))
	t.Cleanup(func() {
		close(e.block)
		e.s.Wait()
	})
	return e
}

func TestProcNew(t *testing.T) {
	e := mkenv(t, nil)
	p := e.init.Proc
	assert.Equal(t, uint32(022), p.Umask())
	assert.Equal(t, "/sbin/init", p.Exepath())
	assert.Nil(t, p.Parent())
	assert.Equal(t, 1, p.Nthreads())
	got, ok := e.pt.Proc(p.Pid)
	require.True(t, ok)
	assert.Same(t, p, got)
	th, ok := e.pt.Thread(e.init.Tid)
	require.True(t, ok)
	assert.Same(t, e.init, th)
	assert.Equal(t, e.init.Tid, th.Task().Tid)
	assert.Equal(t, e.init.Proc.Vm.P_pmap, th.Task().Pmap)
}

func TestProcLimit(t *testing.T) {
	e := mkenv(t, limits.Mklimit(1, 16, 4))
	_, err := e.pt.Clone(e.init, &Cloneargs_t{Flags: defs.SIGCHLD}, nil)
	assert.Equal(t, -defs.ENOMEM, err)
	assert.Equal(t, 1, e.pt.Nprocs())
}

func TestSigacts(t *testing.T) {
	sa := Mksigacts()
	require.Zero(t, sa.Set(defs.SIGCHLD, Sigact_t{Handler: 0x1234}))
	act, err := sa.Get(defs.SIGCHLD)
	require.Zero(t, err)
	assert.Equal(t, uintptr(0x1234), act.Handler)
	assert.Equal(t, -defs.EINVAL, sa.Set(defs.SIGKILL, Sigact_t{}))
	_, err = sa.Get(defs.NSIG + 1)
	assert.Equal(t, -defs.EINVAL, err)
}

func TestUseraccessScope(t *testing.T) {
	e := mkenv(t, nil)
	th := e.init
	assert.False(t, th.Note.Accessing_user())
	require.Zero(t, th.Userwriten(heap, 4, 9))
	v, err := th.Userreadn(heap, 4)
	require.Zero(t, err)
	assert.Equal(t, 9, v)
	err = th.Note.Useraccess(func() defs.Err_t {
		_, err := th.Userreadn(0x90000, 4)
		return err
	})
	assert.Equal(t, -defs.EFAULT, err)
	assert.False(t, th.Note.Accessing_user())

	// a bad pointer the kernel did not expect
	assert.Panics(t, func() { th.Userreadn(0x90000, 4) })
	assert.Panics(t, func() { th.Userwriten(0x90000, 4, 1) })
	assert.False(t, th.Note.Accessing_user())
	assert.Equal(t, -defs.EFAULT, th.Userwritable(0x90000, 4))
}
