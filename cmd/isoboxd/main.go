// Command isoboxd is the CLI front end over the isobox sandbox facade: a
// single binary that both launches guests from the command line and,
// under a hidden re-exec argument, serves as its own privileged child-init
// helper. None of this file is part of the sandbox's core semantics; see
// the isobox package for that. This is glue.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/judgesandbox/isobox/internal/sandbox"
	"github.com/judgesandbox/isobox/internal/sandbox/childinit"
)

func main() {
	// Recognized before any normal flag parsing: this is how the launcher's
	// re-exec of /proc/self/exe reaches childinit rather than the ordinary
	// CLI. It must be args[1], never a subcommand name, since childinit
	// expects a clean process image with no subcommands flag parsing
	// having touched stdin yet.
	if len(os.Args) > 1 && os.Args[1] == sandbox.ChildInitArg {
		childinit.Run()
		return
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("ISOBOXD_DEBUG") != "" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&runCommand{}, "")
	subcommands.Register(&cgroupGetCommand{}, "cgroup")
	subcommands.Register(&cgroupSubGetCommand{}, "cgroup")
	subcommands.Register(&cgroupRemoveCommand{}, "cgroup")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
