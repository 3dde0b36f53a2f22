// Command bload loads a user program into a fresh simulated address space
// and prints the resulting entry point, initial stack and memory map.
package main

import "flag"
import "fmt"
import "log"
import "os"

import "go.uber.org/zap"

import "github.com/Starry-Mix-THU/starry-mix/config"
import "github.com/Starry-Mix-THU/starry-mix/defs"
import "github.com/Starry-Mix-THU/starry-mix/kernel"
import "github.com/Starry-Mix-THU/starry-mix/klog"
import "github.com/Starry-Mix-THU/starry-mix/loader"

var auxnames = map[int]string{
	defs.AT_NULL:   "AT_NULL",
	defs.AT_PHDR:   "AT_PHDR",
	defs.AT_PHENT:  "AT_PHENT",
	defs.AT_PHNUM:  "AT_PHNUM",
	defs.AT_PAGESZ: "AT_PAGESZ",
	defs.AT_BASE:   "AT_BASE",
	defs.AT_FLAGS:  "AT_FLAGS",
	defs.AT_ENTRY:  "AT_ENTRY",
	defs.AT_UID:    "AT_UID",
	defs.AT_EUID:   "AT_EUID",
	defs.AT_GID:    "AT_GID",
	defs.AT_EGID:   "AT_EGID",
	defs.AT_SECURE: "AT_SECURE",
	defs.AT_RANDOM: "AT_RANDOM",
	defs.AT_EXECFN: "AT_EXECFN",
}

func dump(img *loader.Image_t) {
	fmt.Printf("path   %s\n", img.Path)
	if img.Interp != "" {
		fmt.Printf("interp %s\n", img.Interp)
	}
	fmt.Printf("argv   %q\n", img.Args)
	fmt.Printf("entry  %#x\n", img.Entry)
	fmt.Printf("sp     %#x\n", img.Sp)
	for _, a := range img.Auxv {
		name, ok := auxnames[a.Key]
		if !ok {
			name = fmt.Sprintf("AT_%d", a.Key)
		}
		fmt.Printf("  %-10s %#x\n", name, a.Val)
	}
}

func main() {
	root := flag.String("root", ".", "Host directory used as the root filesystem")
	run := flag.Bool("run", false, "Start the program as init and wait for it to exit")
	debug := flag.Bool("debug", false, "Log at debug level")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "usage: bload [-root dir] [-run] path [args...]\n")
		os.Exit(2)
	}
	path := flag.Arg(0)
	args := flag.Args()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	lcfg := klog.DefaultConfig()
	lcfg.Level = cfg.Logging.Level
	lcfg.Development = cfg.Logging.Development
	if *debug {
		lcfg.Level = "debug"
	}
	logger, err := klog.New(lcfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	k, err := kernel.Mkkernel(cfg, os.DirFS(*root), logger)
	if err != nil {
		log.Fatalf("Failed to boot: %v", err)
	}

	if *run {
		t, kerr := k.Spawn_init(path, args, os.Environ(), nil)
		if kerr != 0 {
			log.Fatalf("%s: %v", path, kerr)
		}
		if err := k.Wait_all(); err != nil {
			log.Fatalf("Wait failed: %v", err)
		}
		logger.Info("init exited", zap.Int("pid", t.Proc.Pid),
			zap.Int("procs", k.Procs.Nprocs()))
		return
	}

	as, kerr := k.Mkspace()
	if kerr != 0 {
		log.Fatalf("Failed to create address space: %v", kerr)
	}
	defer as.Refdown()
	img, kerr := k.Loader.Load_user_app(as, path, args, os.Environ())
	if kerr != 0 {
		log.Fatalf("%s: %v", path, kerr)
	}
	dump(&img)
	for _, r := range as.Regions() {
		fmt.Println(r.String())
	}
	fmt.Printf("%d pages\n", as.Pgcount())
}
