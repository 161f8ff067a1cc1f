// Package childinit is the entry point that runs inside the freshly
// re-exec'd process the launcher (internal/sandbox) creates for every
// guest launch. It performs every privileged construction step that must
// happen after the new namespaces exist but before the guest runs: root
// mount privatization, the read-only chroot bind mount, the caller's extra
// mounts, chroot/chdir, hostname, rlimits, and privilege drop. It reports
// success or failure back to the launcher over the handshake region and
// error pipe donated across the re-exec, then hands off control to the
// guest via syscall.Exec. This process never returns to ordinary Go code
// after that call succeeds.
package childinit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/judgesandbox/isobox/internal/sandbox"
	"github.com/judgesandbox/isobox/internal/syncutil"
)

// Run is called from cmd/isoboxd's main when it recognizes
// sandbox.ChildInitArg as its first argument. It never returns on success;
// on failure it reports the cause over the donated error pipe and calls
// os.Exit itself.
func Run() {
	region, errPipe, param, err := setup()
	if err != nil {
		reportAndExit(nil, nil, err)
	}

	s1 := region.OpenSemaphore(sandbox.SemOffsetReady)
	s2 := region.OpenSemaphore(sandbox.SemOffsetGo)

	if err := construct(param); err != nil {
		reportAndExit(errPipe, s1, err)
	}

	if err := sandbox.WriteOKFrame(errPipe); err != nil {
		reportAndExit(errPipe, s1, fmt.Errorf("reporting success: %w", err))
	}
	if err := s1.Post(); err != nil {
		os.Exit(1)
	}
	if err := s2.Wait(); err != nil {
		os.Exit(1)
	}

	// Both descriptors were donated across the re-exec via cmd.ExtraFiles,
	// which clears FD_CLOEXEC in this process despite the pipe itself
	// having been allocated O_CLOEXEC (syncutil.NewPipe). The handshake
	// region is not needed past this point and is closed, so the guest
	// never gets a writable view of the futex words. The error pipe is
	// marked close-on-exec again instead: a successful execve drops it, and
	// a failed one can still be reported on it.
	_ = unix.Close(sandbox.SemRegionFD)
	unix.CloseOnExec(sandbox.ErrPipeFD)

	argv := append([]string{param.Executable}, param.ExecutableParameters...)
	env := param.EnvironmentVariables
	execErr := syscall.Exec(resolveExecutable(param.Executable), argv, env)
	// syscall.Exec only returns on failure. Start has already returned by
	// now, so the frame written here is read by the launcher's Wait, which
	// reports it in place of the exit status.
	reportAndExit(errPipe, nil, fmt.Errorf("execve %s: %w", param.Executable, execErr))
}

// setup reads the JSON-encoded SandboxParameter from stdin and attaches to
// the two donated descriptors: the handshake region and the error pipe.
func setup() (*syncutil.Region, *os.File, sandbox.SandboxParameter, error) {
	var param sandbox.SandboxParameter
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, nil, param, fmt.Errorf("reading parameter from stdin: %w", err)
	}
	if err := json.Unmarshal(data, &param); err != nil {
		return nil, nil, param, fmt.Errorf("decoding parameter: %w", err)
	}

	regionFile := os.NewFile(uintptr(sandbox.SemRegionFD), "isobox-handshake")
	region, err := syncutil.OpenRegion(regionFile, sandbox.HandshakeRegionSize)
	if err != nil {
		return nil, nil, param, fmt.Errorf("opening handshake region: %w", err)
	}
	errPipe := os.NewFile(uintptr(sandbox.ErrPipeFD), "isobox-errpipe")
	return region, errPipe, param, nil
}

// construct runs every privileged step between having fresh namespaces and
// being ready to post S1. It never touches the handshake semaphores or the
// error pipe itself; callers translate a non-nil error into the reporting
// protocol.
func construct(param sandbox.SandboxParameter) error {
	nullFD, err := unix.Open("/dev/null", unix.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening /dev/null: %w", err)
	}
	defer unix.Close(nullFD)

	if param.RedirectBeforeChroot {
		if err := redirectStdio(param, nullFD); err != nil {
			return err
		}
	}

	if err := unix.Mount("none", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("privatizing root mount propagation: %w", err)
	}

	if err := ensureDir(param.ChrootDirectory); err != nil {
		return err
	}
	if err := unix.Mount(param.ChrootDirectory, param.ChrootDirectory, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("bind-mounting chroot directory onto itself: %w", err)
	}
	if err := unix.Mount("", param.ChrootDirectory, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("remounting chroot directory read-only: %w", err)
	}

	for _, m := range param.Mounts {
		if err := applyExtraMount(param.ChrootDirectory, m); err != nil {
			return err
		}
	}

	if err := unix.Chroot(param.ChrootDirectory); err != nil {
		return fmt.Errorf("chroot: %w", err)
	}
	if err := unix.Chdir(param.WorkingDirectory); err != nil {
		return fmt.Errorf("chdir to working directory: %w", err)
	}

	if param.MountProc {
		if err := unix.Mount("proc", "/proc", "proc", 0, ""); err != nil {
			return fmt.Errorf("mounting procfs: %w", err)
		}
	}

	if !param.RedirectBeforeChroot {
		if err := redirectStdio(param, nullFD); err != nil {
			return err
		}
	}

	if param.Hostname != "" {
		if err := unix.Sethostname([]byte(param.Hostname)); err != nil {
			return fmt.Errorf("sethostname: %w", err)
		}
	}

	if param.StackSize != -2 {
		lim := param.StackSize
		if lim == -1 {
			lim = int64(unix.RLIM_INFINITY)
		}
		rlim := unix.Rlimit{Cur: uint64(lim), Max: uint64(lim)}
		if err := unix.Setrlimit(unix.RLIMIT_STACK, &rlim); err != nil {
			return fmt.Errorf("setrlimit RLIMIT_STACK: %w", err)
		}
	}
	if err := unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0}); err != nil {
		return fmt.Errorf("setrlimit RLIMIT_CORE: %w", err)
	}

	if err := sandbox.InstallSeccompFilter(); err != nil {
		return fmt.Errorf("installing seccomp filter: %w", err)
	}

	// Privileges are dropped last and in this order: group identity, then
	// the supplementary group list, then user identity. Once UID is
	// dropped there is no going back to adjust groups.
	if err := unix.Setgid(int(param.GID)); err != nil {
		return fmt.Errorf("setgid: %w", err)
	}
	if err := unix.Setgroups([]int{int(param.GID)}); err != nil {
		return fmt.Errorf("setgroups: %w", err)
	}
	if err := unix.Setuid(int(param.UID)); err != nil {
		return fmt.Errorf("setuid: %w", err)
	}

	return nil
}

func ensureDir(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path %s does not exist: %w", path, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("path %s exists but is not a directory", path)
	}
	return nil
}

func applyExtraMount(chroot string, m sandbox.MountSpec) error {
	if !filepath.IsAbs(m.Dst) {
		return fmt.Errorf("mount dst %s must be absolute", m.Dst)
	}
	rel := strings.TrimPrefix(m.Dst, "/")
	target := filepath.Join(chroot, rel)

	if err := ensureDir(m.Src); err != nil {
		return err
	}
	if err := ensureDir(target); err != nil {
		return err
	}
	if err := unix.Mount(m.Src, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("bind-mounting %s onto %s: %w", m.Src, target, err)
	}
	if m.Limit == 0 {
		if err := unix.Mount("", target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_REC, ""); err != nil {
			return fmt.Errorf("remounting %s read-only: %w", target, err)
		}
	}
	// A positive finite limit is accepted but not enforced: this mount
	// remains a plain, unlimited read-write bind mount in that case.
	return nil
}

// redirectStdio wires fd 0/1/2 to the parameter's chosen source, in the
// host filesystem's namespace if called before the chroot and the
// sandbox's otherwise. A *FD field of sandbox.NoFD falls back to the
// matching path, and an empty path falls back to /dev/null. Each source
// descriptor is closed once dup2'd: a donated stdio fd (from
// cmd.ExtraFiles) loses FD_CLOEXEC across the re-exec the same way the
// handshake descriptors do, so leaving it open would hand the guest an
// extra, unrelated descriptor past the two it asked to be wired to 0/1/2.
func redirectStdio(param sandbox.SandboxParameter, nullFD int) error {
	in, err := resolveStdioFD(param.StdinFD, param.StdinPath, unix.O_RDONLY, nullFD)
	if err != nil {
		return fmt.Errorf("resolving stdin: %w", err)
	}
	if err := unix.Dup2(in, unix.Stdin); err != nil {
		return fmt.Errorf("dup2 stdin: %w", err)
	}
	closeSource(in, nullFD)

	out, err := resolveStdioFD(param.StdoutFD, param.StdoutPath, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, nullFD)
	if err != nil {
		return fmt.Errorf("resolving stdout: %w", err)
	}
	if err := unix.Dup2(out, unix.Stdout); err != nil {
		return fmt.Errorf("dup2 stdout: %w", err)
	}

	errFD := out
	stderrIsStdout := true
	if param.StderrFD != sandbox.NoFD || param.StderrPath != param.StdoutPath {
		errFD, err = resolveStdioFD(param.StderrFD, param.StderrPath, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, nullFD)
		if err != nil {
			return fmt.Errorf("resolving stderr: %w", err)
		}
		stderrIsStdout = false
	}
	if err := unix.Dup2(errFD, unix.Stderr); err != nil {
		return fmt.Errorf("dup2 stderr: %w", err)
	}
	closeSource(out, nullFD)
	if !stderrIsStdout {
		closeSource(errFD, nullFD)
	}
	return nil
}

// closeSource closes a stdio source descriptor once it has been dup2'd,
// unless it is nullFD (construct's single shared /dev/null descriptor,
// reused across all three streams and closed by construct itself) or
// already one of fd 0/1/2 (a dup2 onto itself, nothing to close).
func closeSource(fd, nullFD int) {
	if fd != nullFD && fd > unix.Stderr {
		_ = unix.Close(fd)
	}
}

func resolveStdioFD(fd int, path string, flags int, nullFD int) (int, error) {
	if fd != sandbox.NoFD {
		return fd, nil
	}
	if path == "" {
		return nullFD, nil
	}
	return unix.Open(path, flags, 0644)
}

func resolveExecutable(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if resolved, err := exec.LookPath(path); err == nil {
		return resolved
	}
	return path
}

// reportAndExit writes a best-effort error frame and posts S1 so the
// launcher's TimedWait doesn't have to run out its full timeout, then
// exits non-zero. Any of errPipe/s1 may be nil if setup failed before they
// were attached, in which case reporting is skipped.
func reportAndExit(errPipe *os.File, s1 *syncutil.Semaphore, cause error) {
	if errPipe != nil {
		_ = sandbox.WriteErrorFrame(errPipe, cause.Error())
	}
	if s1 != nil {
		_ = s1.Post()
	}
	os.Exit(1)
}
