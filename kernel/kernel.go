// Package kernel assembles the process, futex and loader layers into one
// kernel instance and exposes its system calls.
package kernel

import "fmt"
import "io/fs"
import "path"
import "time"

import "github.com/prometheus/client_golang/prometheus"
import "go.uber.org/zap"

import "github.com/Starry-Mix-THU/starry-mix/config"
import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/fd"
import "github.com/Starry-Mix-THU/starry-mix/limits"
import "github.com/Starry-Mix-THU/starry-mix/loader"
import "github.com/Starry-Mix-THU/starry-mix/mem"
import "github.com/Starry-Mix-THU/starry-mix/proc"
import "github.com/Starry-Mix-THU/starry-mix/sched"
import "github.com/Starry-Mix-THU/starry-mix/stats"
import "github.com/Starry-Mix-THU/starry-mix/vm"

// the kernel's own text lives here in every address space that shares the
// kernel's page table root
const KERNBASE uintptr = 0xffff800000000000

// rt_sigreturn via syscall: mov $15, %rax; syscall
var sigret = []uint8{0x48, 0xc7, 0xc0, 0x0f, 0x00, 0x00, 0x00, 0x0f, 0x05}

type Kernel_t struct {
	Cfg    *config.Config
	Log    *zap.Logger
	Reg    *prometheus.Registry
	St     *stats.Stats_t
	Lim    *limits.Syslimit_t
	Phys   *mem.Physmem_t
	Kvm    *vm.Vm_t
	Sched  *sched.Sched_t
	Procs  *proc.Proctab_t
	Loader *loader.Loader_t

	// the physical page behind every process's trampoline mapping
	tramp mem.Pa_t
	// monotonic clock origin
	boot time.Time
}

// Mkkernel boots a kernel over the configured machine. programs are loaded
// from fsys.
func Mkkernel(cfg *config.Config, fsys fs.FS, log *zap.Logger) (*Kernel_t, error) {
	if log == nil {
		log = zap.NewNop()
	}
	k := &Kernel_t{Cfg: cfg, Log: log, Reg: prometheus.NewRegistry(),
		boot: time.Now()}
	k.St = stats.New(k.Reg)
	k.Lim = limits.Mklimit(cfg.Limits.MaxProcs, cfg.Limits.MaxFutexes,
		cfg.Limits.InterpDepth)
	k.Phys = mem.Phys_init(cfg.Machine.Npages)

	kvm, err := vm.Vm_new(k.Phys, 0, 0)
	if err != 0 {
		return nil, fmt.Errorf("failed to create kernel address space: %w", err)
	}
	_, ktext, ok := k.Phys.Refpg_new()
	if !ok {
		return nil, fmt.Errorf("failed to allocate kernel text: %w", -defs.ENOMEM)
	}
	if err := kvm.Map_linear(KERNBASE, ktext, vm.PGSIZEW, vm.PTE_X, vm.VKERN); err != 0 {
		return nil, fmt.Errorf("failed to map kernel text: %w", err)
	}
	k.Kvm = kvm

	tpg, tramp, ok := k.Phys.Refpg_new()
	if !ok {
		return nil, fmt.Errorf("failed to allocate trampoline: %w", -defs.ENOMEM)
	}
	copy(tpg[:], sigret)
	// the kernel's own reference; user spaces map it on top
	k.Phys.Refup(tramp)
	k.tramp = tramp

	k.Sched = sched.Mksched(log)
	k.Procs = proc.Mkproctab(k.Sched, kvm, cfg.Machine.Arch, k.Lim, k.St, log)
	lay := cfg.Layout
	k.Loader = loader.Mkloader(fsys, loader.Layout_t{
		StackTop:   uintptr(lay.StackTop),
		StackSize:  uintptr(lay.StackSize),
		HeapBase:   uintptr(lay.HeapBase),
		HeapSize:   uintptr(lay.HeapSize),
		InterpBase: uintptr(lay.InterpBase),
	}, k.Lim, k.St, log)

	log.Info("kernel up", zap.String("arch", cfg.Machine.Arch),
		zap.Int("npages", cfg.Machine.Npages),
		zap.Bool("separate_roots", vm.Separate_roots(cfg.Machine.Arch)))
	return k, nil
}

// Mkspace creates an empty user address space with the kernel's mappings and
// the signal trampoline in place.
func (k *Kernel_t) Mkspace() (*vm.Vm_t, defs.Err_t) {
	lay := k.Cfg.Layout
	as, err := vm.Vm_new(k.Phys, uintptr(lay.UserBase), uintptr(lay.UserSize))
	if err != 0 {
		return nil, err
	}
	as.Copy_kernel(k.Kvm, k.Cfg.Machine.Arch)
	if err := as.Map_trampoline(uintptr(lay.Trampoline), k.tramp); err != 0 {
		as.Refdown()
		return nil, err
	}
	return as, 0
}

// Spawn_init loads the program at path into a fresh address space and starts
// it as the first process. body runs as the program's main thread.
func (k *Kernel_t) Spawn_init(path string, args, envs []string,
	body func(*proc.Thread_t)) (*proc.Thread_t, defs.Err_t) {
	as, err := k.Mkspace()
	if err != 0 {
		return nil, err
	}
	img, err := k.Loader.Load_user_app(as, path, args, envs)
	if err != 0 {
		k.Log.Info("init load failed", zap.String("path", path), zap.Error(err))
		as.Refdown()
		return nil, err
	}

	tid := k.Procs.Tid_new()
	p, err := k.Procs.Proc_new(int(tid), &proc.Procattr_t{
		Name:    pathbase(img.Args, img.Path),
		Vm:      as,
		Fds:     fd.Mkfdtable(),
		Cwd:     fd.MkRootCwd(nil),
		Umask:   022,
		Exepath: img.Path,
	})
	if err != 0 {
		as.Refdown()
		return nil, err
	}
	var tf defs.Tf_t
	tf[defs.TF_RIP] = img.Entry
	tf[defs.TF_RSP] = img.Sp
	tf[defs.TF_RFLAGS] = defs.TF_FL_IF
	ucseg := uintptr(5)
	udseg := uintptr(6)
	tf[defs.TF_CS] = (ucseg << 3) | 3
	tf[defs.TF_SS] = (udseg << 3) | 3

	t := k.Procs.Thread_new(p, tid)
	if err := k.Procs.Start(t, p.Name, &tf, body); err != 0 {
		return nil, err
	}
	k.Log.Info("init started", zap.Int("pid", p.Pid), zap.String("path", img.Path),
		zap.Uintptr("entry", img.Entry))
	return t, 0
}

func pathbase(args []string, fallback string) string {
	if len(args) > 0 {
		return path.Base(args[0])
	}
	return path.Base(fallback)
}

// Wait_all blocks until every thread has exited.
func (k *Kernel_t) Wait_all() error {
	if err := k.Sched.Wait(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

// Monotonic reads the clock FUTEX_WAIT_BITSET deadlines are measured
// against by default.
func (k *Kernel_t) Monotonic() time.Duration {
	return time.Since(k.boot)
}
