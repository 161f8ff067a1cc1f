// Package isobox is the external-facing API of the sandbox: a thin
// facade over internal/sandbox and internal/cgroup that a CLI, an RPC
// server, or a judge engine embeds directly. It exists so none of those
// callers need to import internal packages, and so the wire-shaped
// concerns (decimal-string encoding of wide integers, so a caller talking
// JSON never silently loses precision on a 64-bit counter) live in exactly
// one place.
package isobox

import (
	"strconv"

	"github.com/judgesandbox/isobox/internal/cgroup"
	"github.com/judgesandbox/isobox/internal/sandbox"
)

// CgroupRef names one (controller, group) cgroup, e.g. ("memory", "judge-17").
type CgroupRef struct {
	Controller string
	Group      string
}

func (r CgroupRef) info() (cgroup.Info, error) {
	return cgroup.New(r.Controller, r.Group)
}

// Params is the full description of one guest launch. It is an alias of
// internal/sandbox's type so callers configure stdio, mounts, limits and
// identity without needing an import of internal/sandbox themselves.
type Params = sandbox.Params

// MountSpec is one bind-mount overlay applied inside the chroot.
type MountSpec = sandbox.MountSpec

// StdioSpec selects a guest's standard stream source.
type StdioSpec = sandbox.StdioSpec

// NoFD is the sentinel for a StdinFD/StdoutFD/StderrFD field meaning "no
// pre-opened descriptor; fall back to the matching path field".
const NoFD = sandbox.NoFD

// ExecutionResult is the terminal outcome of a guest run.
type ExecutionResult = sandbox.ExecutionResult

// Handle identifies one running (or just-finished) guest.
type Handle = sandbox.Handle

// Controller is the facade every external caller drives. Its zero value is
// ready to use.
type Controller struct {
	launcher sandbox.Launcher
}

// NewController returns a ready-to-use Controller.
func NewController() *Controller {
	return &Controller{}
}

// GetCgroupProperty reads a single scalar property (e.g. "memory.usage_in_bytes")
// and returns it as its decimal string representation.
func (c *Controller) GetCgroupProperty(ref CgroupRef, property string) (string, error) {
	info, err := ref.info()
	if err != nil {
		return "", err
	}
	val, err := cgroup.ReadScalar(info, property)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(val, 10), nil
}

// GetCgroupSubProperty reads a "name value" map property (e.g. "memory.stat")
// and returns the value for a single key as its decimal string
// representation. It returns ok=false if the key is absent.
func (c *Controller) GetCgroupSubProperty(ref CgroupRef, property, key string) (value string, ok bool, err error) {
	info, ierr := ref.info()
	if ierr != nil {
		return "", false, ierr
	}
	m, rerr := cgroup.ReadMap(info, property)
	if rerr != nil {
		return "", false, rerr
	}
	v, found := m[key]
	if !found {
		return "", false, nil
	}
	return strconv.FormatInt(v, 10), true, nil
}

// RemoveCgroup kills any remaining member tasks and removes the cgroup
// directories for the given name across the three controllers the
// launcher uses (memory, cpuacct, pids).
func (c *Controller) RemoveCgroup(name string) error {
	for _, controller := range []string{"memory", "cpuacct", "pids"} {
		info, err := cgroup.New(controller, name)
		if err != nil {
			return err
		}
		if err := cgroup.Remove(info); err != nil {
			return err
		}
	}
	return nil
}

// StartSandbox launches one guest and blocks until its privileged setup
// has either completed or failed, exactly like sandbox.Launcher.Start.
func (c *Controller) StartSandbox(p Params) (*Handle, error) {
	return c.launcher.Start(p)
}

// WaitForProcess blocks until h's guest terminates and reports how.
func (c *Controller) WaitForProcess(h *Handle) (ExecutionResult, error) {
	return c.launcher.Wait(h)
}
