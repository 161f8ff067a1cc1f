package cgroup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// Info identifies a (controller, group) pair, e.g. ("memory", "judge-17").
// Both fields must be non-empty and non-whitespace-only.
type Info struct {
	Controller string
	Group      string
}

// New validates and constructs an Info.
func New(controller, group string) (Info, error) {
	if isBlank(controller) {
		return Info{}, fmt.Errorf("cgroup: controller name cannot be empty")
	}
	if isBlank(group) {
		return Info{}, fmt.Errorf("cgroup: group name cannot be empty")
	}
	return Info{Controller: controller, Group: group}, nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func (i Info) path() (string, error) {
	mnt, err := firstMount(i.Controller)
	if err != nil {
		return "", err
	}
	return filepath.Join(mnt, i.Group), nil
}

// existingDir resolves i's directory and verifies it already exists.
func (i Info) existingDir() (string, error) {
	dir, err := i.path()
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("cgroup: group %s/%s: %w", i.Controller, i.Group, err)
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("cgroup: path %s exists but is not a directory", dir)
	}
	return dir, nil
}

// Create is idempotent: it mkdir -p's the group directory if absent, and
// succeeds silently if it already exists as a directory. An advisory flock
// on the controller's mount point serializes concurrent Create calls for
// distinct group names, so two simultaneous launches never race on the
// shared parent directory's mkdir.
func Create(info Info) error {
	mnt, err := firstMount(info.Controller)
	if err != nil {
		return err
	}

	lock := flock.New(mnt)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("cgroup: locking %s: %w", mnt, err)
	}
	defer lock.Unlock()

	dir := filepath.Join(mnt, info.Group)
	fi, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("cgroup: creating %s: %w", dir, err)
		}
	case err != nil:
		return fmt.Errorf("cgroup: stat %s: %w", dir, err)
	case !fi.IsDir():
		return fmt.Errorf("cgroup: path %s has already been used and is not a directory", dir)
	}
	return nil
}

// ReadScalar reads a single integer from <group>/<property>.
func ReadScalar(info Info, property string) (int64, error) {
	dir, err := info.existingDir()
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(filepath.Join(dir, property))
	if err != nil {
		return 0, fmt.Errorf("cgroup: reading %s: %w", property, err)
	}
	val, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cgroup: parsing %s: %w", property, err)
	}
	return val, nil
}

// ReadArray reads whitespace-separated integers, tolerating empty or short
// reads (an empty file yields a nil slice, not an error).
func ReadArray(info Info, property string) ([]int64, error) {
	dir, err := info.existingDir()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, property))
	if err != nil {
		return nil, fmt.Errorf("cgroup: opening %s: %w", property, err)
	}
	defer f.Close()

	var out []int64
	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		v, err := strconv.ParseInt(sc.Text(), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadMap reads "name value" lines into a map, e.g. memory.stat.
func ReadMap(info Info, property string) (map[string]int64, error) {
	dir, err := info.existingDir()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, property))
	if err != nil {
		return nil, fmt.Errorf("cgroup: opening %s: %w", property, err)
	}
	defer f.Close()

	result := map[string]int64{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		result[fields[0]] = v
	}
	return result, nil
}

// Write writes val (rendered as its decimal string) to <group>/<property>.
// overwrite=false opens the file for append instead of truncation. The
// sentinel integer -1 is NOT special-cased here: the launcher is
// responsible for translating -1 to the literal string "max" before
// calling Write. This facade stays a thin mirror of the sysfs interface.
func Write(info Info, property string, val int64, overwrite bool) error {
	return WriteString(info, property, strconv.FormatInt(val, 10), overwrite)
}

// WriteString writes a literal string value (e.g. "max") to a property file.
func WriteString(info Info, property, val string, overwrite bool) error {
	dir, err := info.existingDir()
	if err != nil {
		return err
	}
	flags := os.O_WRONLY
	if overwrite {
		flags |= os.O_TRUNC | os.O_CREATE
	} else {
		flags |= os.O_APPEND
	}
	f, err := os.OpenFile(filepath.Join(dir, property), flags, 0644)
	if err != nil {
		return fmt.Errorf("cgroup: opening %s for write: %w", property, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, val); err != nil {
		return fmt.Errorf("cgroup: writing %s: %w", property, err)
	}
	return nil
}

// KillMembers reads the group's tasks file and SIGKILLs each pid. A signal
// failure for any individual pid aborts and propagates immediately.
func KillMembers(info Info) error {
	pids, err := ReadArray(info, "tasks")
	if err != nil {
		return err
	}
	for _, pid := range pids {
		if err := syscall.Kill(int(pid), syscall.SIGKILL); err != nil {
			return fmt.Errorf("cgroup: killing pid %d: %w", pid, err)
		}
	}
	return nil
}

// Remove kills any remaining members and rmdir's the group directory. The
// rmdir is retried with bounded backoff: a just-SIGKILLed task can remain
// visible in the cgroup's accounting for a brief window before the kernel
// finishes reaping it, during which rmdir fails with EBUSY.
func Remove(info Info) error {
	if err := KillMembers(info); err != nil {
		return err
	}
	dir, err := info.existingDir()
	if err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second

	op := func() error {
		err := os.Remove(dir)
		if err != nil {
			logrus.WithError(err).WithField("dir", dir).Debug("cgroup: rmdir retry")
		}
		return err
	}
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("cgroup: removing %s: %w", dir, err)
	}
	return nil
}
