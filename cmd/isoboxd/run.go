package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/judgesandbox/isobox"
)

// runCommand implements subcommands.Command for "run": launch a single
// guest synchronously and print its outcome as JSON. With -config, the
// entire launch is described by a TOML file; otherwise it is built from
// flags and the trailing positional executable/args.
type runCommand struct {
	configPath string

	memoryLimit  int64
	processLimit int64
	stackSize    int64

	chroot   string
	workdir  string
	hostname string

	stdin, stdout, stderr string

	uid, gid uint

	cgroupName string
	mountProc  bool
}

func (*runCommand) Name() string     { return "run" }
func (*runCommand) Synopsis() string { return "launch a guest process inside a fresh sandbox" }
func (*runCommand) Usage() string {
	return "run [flags] -- <executable> [args...]\n"
}

func (c *runCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "TOML file describing the entire launch; other flags are ignored if set")
	f.Int64Var(&c.memoryLimit, "memory-limit", -1, "memory cgroup limit in bytes, -1 for unlimited")
	f.Int64Var(&c.processLimit, "process-limit", -1, "max concurrent tasks, -1 for unlimited")
	f.Int64Var(&c.stackSize, "stack-size", -1, "RLIMIT_STACK in bytes, -1 unlimited, -2 leave untouched")
	f.StringVar(&c.chroot, "chroot", "", "host directory that becomes the sandbox root")
	f.StringVar(&c.workdir, "workdir", "/", "working directory inside the chroot")
	f.StringVar(&c.hostname, "hostname", "", "UTS hostname inside the sandbox")
	f.StringVar(&c.stdin, "stdin", "", "path to redirect stdin from, empty for /dev/null")
	f.StringVar(&c.stdout, "stdout", "", "path to redirect stdout to, empty for /dev/null")
	f.StringVar(&c.stderr, "stderr", "", "path to redirect stderr to, empty for /dev/null")
	f.UintVar(&c.uid, "uid", 65534, "uid the guest runs as")
	f.UintVar(&c.gid, "gid", 65534, "gid the guest runs as")
	f.StringVar(&c.cgroupName, "cgroup-name", "", "unique cgroup leaf name for this launch, defaults to isoboxd-<pid>")
	f.BoolVar(&c.mountProc, "mount-proc", false, "mount a fresh procfs at /proc inside the sandbox")
}

func (c *runCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	var params isobox.Params
	if c.configPath != "" {
		cfg, err := loadLaunchConfig(c.configPath)
		if err != nil {
			logrus.WithError(err).Error("run: loading config")
			return subcommands.ExitFailure
		}
		params = cfg.toParams()
	} else {
		if f.NArg() == 0 {
			fmt.Fprintln(os.Stderr, "run: an executable is required as a positional argument")
			return subcommands.ExitUsageError
		}
		params.StdinFD = isobox.NoFD
		params.StdoutFD = isobox.NoFD
		params.StderrFD = isobox.NoFD
		params.Executable = f.Arg(0)
		params.ExecutableParameters = f.Args()[1:]
		params.MemoryLimit = c.memoryLimit
		params.ProcessLimit = c.processLimit
		params.StackSize = c.stackSize
		params.ChrootDirectory = c.chroot
		params.WorkingDirectory = c.workdir
		params.Hostname = c.hostname
		params.StdinPath = c.stdin
		params.StdoutPath = c.stdout
		params.StderrPath = c.stderr
		params.UID = uint32(c.uid)
		params.GID = uint32(c.gid)
		params.CgroupName = c.cgroupName
		params.MountProc = c.mountProc
	}

	if params.CgroupName == "" {
		params.CgroupName = fmt.Sprintf("isoboxd-%d", os.Getpid())
	}
	if params.ChrootDirectory == "" {
		fmt.Fprintln(os.Stderr, "run: a chroot directory is required (-chroot or config's chroot_directory)")
		return subcommands.ExitUsageError
	}

	controller := isobox.NewController()
	handle, err := controller.StartSandbox(params)
	if err != nil {
		logrus.WithError(err).Error("run: starting sandbox")
		return subcommands.ExitFailure
	}

	result, err := controller.WaitForProcess(handle)
	if err != nil {
		logrus.WithError(err).Error("run: waiting for guest")
		return subcommands.ExitFailure
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logrus.WithError(err).Error("run: encoding result")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
