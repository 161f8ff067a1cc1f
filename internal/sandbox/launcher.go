package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/syndtr/gocapability/capability"

	"github.com/judgesandbox/isobox/internal/cgroup"
	"github.com/judgesandbox/isobox/internal/syncutil"
)

// handshakeTimeout bounds how long Start waits for the re-exec'd child to
// finish its privileged construction and post S1. A child whose
// construction fails (bad chroot, bad mount, rlimit failure) reports the
// failure and posts S1 itself, so only a child that hangs or dies without
// reporting runs into this timeout; Start then fails with a handshake error.
const handshakeTimeout = 500 * time.Millisecond

// StdioSpec selects one of a guest's three standard streams. Exactly one of
// File or Path should be set; File wins if both are. The zero value leaves
// the matching SandboxParameter path field (StdinPath, StdoutPath,
// StderrPath) in effect; if that is empty too, the stream is connected to
// /dev/null.
type StdioSpec struct {
	File *os.File
	Path string
}

func (s StdioSpec) isFD() bool { return s.File != nil }

// Params is the caller-facing description of one launch. It embeds the
// wire-format SandboxParameter for every field that travels verbatim to the
// child, and layers StdioSpec on top of the raw FD/Path pairs so callers
// never need to think about re-exec descriptor numbering themselves.
type Params struct {
	SandboxParameter

	Stdin  StdioSpec
	Stdout StdioSpec
	Stderr StdioSpec
}

// Handle is what Start returns for a running guest: enough state for Wait
// to reap it and for the caller to query its cgroups while it runs.
type Handle struct {
	cmd       *exec.Cmd
	errPipeR  *os.File
	semRegion *syncutil.Region
	s2        *syncutil.Semaphore

	Pid         int
	MemoryInfo  cgroup.Info
	PidsInfo    cgroup.Info
	CPUAcctInfo cgroup.Info
}

// Launcher starts and waits on sandboxed guest processes. Its zero value is
// ready to use.
type Launcher struct{}

// Start launches one guest per p and blocks until it has either completed
// its privileged setup (mounts, chroot, rlimits, privilege drop) or failed
// to do so. On success Start has already made the closing handshake post,
// which releases the child into its final exec; the returned Handle's pid
// was attached to the three cgroups before that post.
func (l Launcher) Start(p Params) (*Handle, error) {
	if err := preflightCapabilities(); err != nil {
		return nil, err
	}

	mem, err := cgroup.New("memory", p.CgroupName)
	if err != nil {
		return nil, configErr("cgroup.New(memory)", err)
	}
	pids, err := cgroup.New("pids", p.CgroupName)
	if err != nil {
		return nil, configErr("cgroup.New(pids)", err)
	}
	cpuacct, err := cgroup.New("cpuacct", p.CgroupName)
	if err != nil {
		return nil, configErr("cgroup.New(cpuacct)", err)
	}
	for _, info := range []cgroup.Info{mem, cpuacct, pids} {
		if err := cgroup.Create(info); err != nil {
			return nil, syscallErr("cgroup.Create", err)
		}
		// A cgroup name reused from a previous launch may still list that
		// launch's (long since exited, but not yet reaped) tasks.
		if err := cgroup.KillMembers(info); err != nil {
			return nil, syscallErr("cgroup.KillMembers", err)
		}
	}

	region, regionFile, err := syncutil.NewRegion(HandshakeRegionSize)
	if err != nil {
		return nil, syscallErr("syncutil.NewRegion", err)
	}
	s1 := region.Semaphore(SemOffsetReady, 0)
	s2 := region.Semaphore(SemOffsetGo, 0)

	pipe, err := syncutil.NewPipe()
	if err != nil {
		region.Close()
		regionFile.Close()
		return nil, syscallErr("syncutil.NewPipe", err)
	}

	param := p.SandboxParameter
	extraFiles := []*os.File{regionFile, pipe.Write}
	param.StdinFD, extraFiles = donateStdio(p.Stdin, extraFiles)
	param.StdoutFD, extraFiles = donateStdio(p.Stdout, extraFiles)
	param.StderrFD, extraFiles = donateStdio(p.Stderr, extraFiles)
	if p.Stdin.Path != "" {
		param.StdinPath = p.Stdin.Path
	}
	if p.Stdout.Path != "" {
		param.StdoutPath = p.Stdout.Path
	}
	if p.Stderr.Path != "" {
		param.StderrPath = p.Stderr.Path
	}

	payload, err := json.Marshal(param)
	if err != nil {
		region.Close()
		regionFile.Close()
		pipe.Close()
		return nil, configErr("marshal parameter", err)
	}

	self, err := os.Executable()
	if err != nil {
		region.Close()
		regionFile.Close()
		pipe.Close()
		return nil, syscallErr("os.Executable", err)
	}

	cmd := exec.Command(self, childInitArg)
	cmd.ExtraFiles = extraFiles
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWNET | syscall.CLONE_NEWUTS |
			syscall.CLONE_NEWPID | syscall.CLONE_NEWNS,
	}

	if err := cmd.Start(); err != nil {
		region.Close()
		regionFile.Close()
		pipe.Close()
		return nil, syscallErr("exec.Start", err)
	}

	// The parent's copies of the write end and the donated stdio files are
	// no longer needed once the child has them; only the child's dup
	// matters from here on.
	pipe.Write.Close()
	regionFile.Close()
	closeDonated(p.Stdin, p.Stdout, p.Stderr)

	pid := cmd.Process.Pid
	for _, info := range []cgroup.Info{mem, cpuacct, pids} {
		if err := cgroup.Write(info, "tasks", int64(pid), false); err != nil {
			killAndReap(cmd)
			region.Close()
			pipe.Close()
			return nil, syscallErr("cgroup attach", err)
		}
	}
	if err := applyLimits(mem, pids, p.MemoryLimit, p.ProcessLimit); err != nil {
		killAndReap(cmd)
		region.Close()
		pipe.Close()
		return nil, err
	}

	ready, err := s1.TimedWait(handshakeTimeout)
	if err != nil {
		killAndReap(cmd)
		region.Close()
		pipe.Close()
		return nil, syscallErr("s1.TimedWait", err)
	}
	if !ready {
		// A child that already exited reaps with its own exit status; one
		// still running is killed here and reaps as signaled.
		cause := "child is not responding"
		_ = cmd.Process.Kill()
		if st, werr := cmd.Process.Wait(); werr == nil && st.Exited() {
			cause = "child exited unexpectedly"
		}
		region.Close()
		pipe.Close()
		return nil, handshakeErr("start", fmt.Errorf("%s (no readiness signal within %s)", cause, handshakeTimeout))
	}

	ok, msg, err := ReadFrame(pipe.Read)
	if err != nil {
		killAndReap(cmd)
		region.Close()
		pipe.Close()
		return nil, handshakeErr("read setup frame", err)
	}
	if !ok {
		killAndReap(cmd)
		region.Close()
		pipe.Close()
		return nil, childSetupErr(msg)
	}

	// Reset the counters the guest's own construction steps (page-ins for
	// its own binary, namespace setup) may already have perturbed, so the
	// accounting the caller observes reflects only the guest's run.
	if err := cgroup.Write(mem, "memory.memsw.max_usage_in_bytes", 0, true); err != nil {
		killAndReap(cmd)
		region.Close()
		pipe.Close()
		return nil, syscallErr("reset memsw.max_usage_in_bytes", err)
	}
	if err := cgroup.Write(cpuacct, "cpuacct.usage", 0, true); err != nil {
		killAndReap(cmd)
		region.Close()
		pipe.Close()
		return nil, syscallErr("reset cpuacct.usage", err)
	}

	if err := s2.Post(); err != nil {
		killAndReap(cmd)
		region.Close()
		pipe.Close()
		return nil, syscallErr("s2.Post", err)
	}

	return &Handle{
		cmd:         cmd,
		errPipeR:    pipe.Read,
		semRegion:   region,
		s2:          s2,
		Pid:         pid,
		MemoryInfo:  mem,
		PidsInfo:    pids,
		CPUAcctInfo: cpuacct,
	}, nil
}

// Wait blocks until h's guest terminates and reports how. A framed error
// arriving on the pipe after the closing handshake post (the guest's own
// execve failing, for instance) takes precedence over the wait status.
func (l Launcher) Wait(h *Handle) (ExecutionResult, error) {
	defer h.semRegion.Close()
	defer h.errPipeR.Close()

	err := h.cmd.Wait()

	if ok, msg, frameErr := ReadFrame(h.errPipeR); frameErr == nil && !ok {
		return ExecutionResult{}, childSetupErr(msg)
	}

	if err == nil {
		return ExecutionResult{Status: Exited, Code: 0}, nil
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return ExecutionResult{}, syscallErr("cmd.Wait", err)
	}
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return ExecutionResult{}, syscallErr("cmd.Wait", fmt.Errorf("unexpected Sys() type"))
	}
	if ws.Signaled() {
		return ExecutionResult{Status: Signaled, Code: int(ws.Signal())}, nil
	}
	return ExecutionResult{Status: Exited, Code: ws.ExitStatus()}, nil
}

func donateStdio(spec StdioSpec, files []*os.File) (int, []*os.File) {
	if !spec.isFD() {
		return noFD, files
	}
	return FirstDonatedStdioFD + (len(files) - 2), append(files, spec.File)
}

func closeDonated(specs ...StdioSpec) {
	for _, s := range specs {
		if s.isFD() {
			s.File.Close()
		}
	}
}

// applyLimits resets both memory limit properties to unlimited before
// applying the caller's values: memory.limit_in_bytes and
// memory.memsw.limit_in_bytes are cross-validated by the kernel against
// each other, so lowering one while the other still holds a stale, smaller
// value from a previous launch sharing the same cgroup name can fail.
func applyLimits(mem, pids cgroup.Info, memoryLimit, processLimit int64) error {
	if err := cgroup.WriteString(mem, "memory.memsw.limit_in_bytes", "max", true); err != nil {
		return syscallErr("reset memsw limit", err)
	}
	if err := cgroup.WriteString(mem, "memory.limit_in_bytes", "max", true); err != nil {
		return syscallErr("reset memory limit", err)
	}
	if err := cgroup.WriteString(mem, "memory.limit_in_bytes", limitString(memoryLimit), true); err != nil {
		return syscallErr("apply memory limit", err)
	}
	if err := cgroup.WriteString(mem, "memory.memsw.limit_in_bytes", limitString(memoryLimit), true); err != nil {
		return syscallErr("apply memsw limit", err)
	}
	if err := cgroup.WriteString(pids, "pids.max", limitString(processLimit), true); err != nil {
		return syscallErr("apply pids limit", err)
	}
	return nil
}

// limitString renders the -1 "unlimited" sentinel, and any other negative
// value, as the literal "max" the cgroup-v1 controllers expect; a
// non-negative value is its plain decimal form.
func limitString(v int64) string {
	if v < 0 {
		return "max"
	}
	return strconv.FormatInt(v, 10)
}

func killAndReap(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		logrus.WithError(err).WithField("pid", cmd.Process.Pid).Warn("sandbox: kill during setup failure cleanup")
	}
	_, _ = cmd.Process.Wait()
}

func preflightCapabilities() error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return syscallErr("capability.NewPid2", err)
	}
	if err := caps.Load(); err != nil {
		return syscallErr("capability load", err)
	}
	if !caps.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN) {
		return configErr("preflight", fmt.Errorf("CAP_SYS_ADMIN is required to create namespaces and mounts"))
	}
	return nil
}
