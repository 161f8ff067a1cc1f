package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/judgesandbox/isobox"
)

// cgroupGetCommand implements "cgroup-get": read one scalar cgroup property.
type cgroupGetCommand struct {
	controller string
}

func (*cgroupGetCommand) Name() string     { return "cgroup-get" }
func (*cgroupGetCommand) Synopsis() string { return "read a scalar cgroup property" }
func (*cgroupGetCommand) Usage() string {
	return "cgroup-get -controller <name> <group> <property>\n"
}
func (c *cgroupGetCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.controller, "controller", "memory", "cgroup controller (memory, cpuacct, pids, ...)")
}
func (c *cgroupGetCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	ref := isobox.CgroupRef{Controller: c.controller, Group: f.Arg(0)}
	val, err := isobox.NewController().GetCgroupProperty(ref, f.Arg(1))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Println(val)
	return subcommands.ExitSuccess
}

// cgroupSubGetCommand implements "cgroup-get-sub": read one key out of a
// map-shaped cgroup property such as memory.stat.
type cgroupSubGetCommand struct {
	controller string
}

func (*cgroupSubGetCommand) Name() string     { return "cgroup-get-sub" }
func (*cgroupSubGetCommand) Synopsis() string { return "read one key of a map-shaped cgroup property" }
func (*cgroupSubGetCommand) Usage() string {
	return "cgroup-get-sub -controller <name> <group> <property> <key>\n"
}
func (c *cgroupSubGetCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.controller, "controller", "memory", "cgroup controller (memory, cpuacct, pids, ...)")
}
func (c *cgroupSubGetCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 3 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	ref := isobox.CgroupRef{Controller: c.controller, Group: f.Arg(0)}
	val, ok, err := isobox.NewController().GetCgroupSubProperty(ref, f.Arg(1), f.Arg(2))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "cgroup-get-sub: no key %q in %s\n", f.Arg(2), f.Arg(1))
		return subcommands.ExitFailure
	}
	fmt.Println(val)
	return subcommands.ExitSuccess
}

// cgroupRemoveCommand implements "cgroup-remove": tear down the three
// controllers' groups for a launch that has finished.
type cgroupRemoveCommand struct{}

func (*cgroupRemoveCommand) Name() string     { return "cgroup-remove" }
func (*cgroupRemoveCommand) Synopsis() string { return "remove a finished launch's cgroups" }
func (*cgroupRemoveCommand) Usage() string {
	return "cgroup-remove <cgroup-name>\n"
}
func (*cgroupRemoveCommand) SetFlags(*flag.FlagSet) {}
func (*cgroupRemoveCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := isobox.NewController().RemoveCgroup(f.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
