package main

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/judgesandbox/isobox"
)

// launchConfig mirrors isobox.Params in a form convenient to hand-write as
// TOML, for launches whose parameters don't fit comfortably on a command
// line.
type launchConfig struct {
	MemoryLimit          int64    `toml:"memory_limit"`
	ProcessLimit         int64    `toml:"process_limit"`
	StackSize            int64    `toml:"stack_size"`
	RedirectBeforeChroot bool     `toml:"redirect_before_chroot"`
	MountProc            bool     `toml:"mount_proc"`
	ChrootDirectory      string   `toml:"chroot_directory"`
	WorkingDirectory     string   `toml:"working_directory"`
	Executable           string   `toml:"executable"`
	Args                 []string `toml:"args"`
	Env                  []string `toml:"env"`
	StdinPath            string   `toml:"stdin_path"`
	StdoutPath           string   `toml:"stdout_path"`
	StderrPath           string   `toml:"stderr_path"`
	UID                  uint32   `toml:"uid"`
	GID                  uint32   `toml:"gid"`
	CgroupName           string   `toml:"cgroup_name"`
	Hostname             string   `toml:"hostname"`

	Mounts []struct {
		Src   string `toml:"src"`
		Dst   string `toml:"dst"`
		Limit int64  `toml:"limit"`
	} `toml:"mounts"`
}

func loadLaunchConfig(path string) (launchConfig, error) {
	var cfg launchConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding config %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg launchConfig) toParams() isobox.Params {
	mounts := make([]isobox.MountSpec, 0, len(cfg.Mounts))
	for _, m := range cfg.Mounts {
		mounts = append(mounts, isobox.MountSpec{Src: m.Src, Dst: m.Dst, Limit: m.Limit})
	}

	p := isobox.Params{}
	p.MemoryLimit = cfg.MemoryLimit
	p.ProcessLimit = cfg.ProcessLimit
	p.StackSize = cfg.StackSize
	p.RedirectBeforeChroot = cfg.RedirectBeforeChroot
	p.MountProc = cfg.MountProc
	p.ChrootDirectory = cfg.ChrootDirectory
	p.WorkingDirectory = cfg.WorkingDirectory
	p.Executable = cfg.Executable
	p.ExecutableParameters = cfg.Args
	p.EnvironmentVariables = cfg.Env
	p.StdinPath = cfg.StdinPath
	p.StdoutPath = cfg.StdoutPath
	p.StderrPath = cfg.StderrPath
	p.StdinFD = isobox.NoFD
	p.StdoutFD = isobox.NoFD
	p.StderrFD = isobox.NoFD
	p.UID = cfg.UID
	p.GID = cfg.GID
	p.CgroupName = cfg.CgroupName
	p.Hostname = cfg.Hostname
	p.Mounts = mounts
	return p
}
