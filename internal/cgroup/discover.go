// Package cgroup is a thin typed mirror of the cgroup-v1 sysfs interface.
//
// It deliberately does not wrap github.com/containerd/cgroups or any other
// cgroup library: the controller->mount-point map is discovered once by
// reading /proc/cgroups and /proc/mounts directly, which keeps failure
// modes deterministic and avoids depending on an opaque cgroup manager.
// Only the memory, cpuacct and pids controllers are exercised by the
// sandbox launcher; the rest of the discovered map is supported but unused.
package cgroup

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// mountMap is controller name -> ordered list of cgroup-v1 mount points.
type mountMap map[string][]string

var (
	discoverOnce sync.Once
	discovered   mountMap
)

// mounts returns the process-wide controller->mount map, discovering it on
// first use. The result is memoized for the process lifetime: cgroup-v1
// mount topology does not change once the sandbox daemon has started, and
// treating it as immutable shared state means no locking is needed on the
// read path.
func mounts() mountMap {
	discoverOnce.Do(func() {
		discovered = discover()
	})
	return discovered
}

// discover parses /proc/cgroups to learn which controllers this kernel
// supports, then scans /proc/mounts for cgroup-v1 mounts advertising those
// controllers in their option string. Hosts with no cgroup-v1 mounts (pure
// cgroup-v2 kernels) yield an empty map rather than an error; callers that
// require a controller surface that as a configuration error when they
// actually try to resolve a group path.
func discover() mountMap {
	controllers, err := readControllerNames("/proc/cgroups")
	if err != nil {
		logrus.WithError(err).Warn("cgroup: failed to read /proc/cgroups, cgroup accounting unavailable")
		return mountMap{}
	}

	mnt, err := scanMounts("/proc/mounts", controllers)
	if err != nil {
		logrus.WithError(err).Warn("cgroup: failed to read /proc/mounts, cgroup accounting unavailable")
		return mountMap{}
	}
	if len(mnt) == 0 {
		logrus.Warn("cgroup: no cgroup-v1 mounts found; this host may be cgroup-v2-only")
	}
	return mnt
}

func readControllerNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	first := true
	for sc.Scan() {
		if first {
			// Header line: #subsys_name hierarchy num_cgroups enabled
			first = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		names = append(names, fields[0])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return names, nil
}

func scanMounts(path string, controllers []string) (mountMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	result := mountMap{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		// fs_spec fs_file fs_vfstype fs_mntops fs_freq fs_passno
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		mountDir, fsType, opts := fields[1], fields[2], fields[3]
		if fsType != "cgroup" {
			continue
		}
		optSet := strings.Split(opts, ",")
		for _, controller := range controllers {
			if hasOpt(optSet, controller) {
				result[controller] = append(result[controller], mountDir)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return result, nil
}

func hasOpt(opts []string, name string) bool {
	for _, o := range opts {
		if o == name {
			return true
		}
	}
	return false
}

func firstMount(controller string) (string, error) {
	mnts := mounts()[controller]
	if len(mnts) == 0 {
		return "", fmt.Errorf("cgroup: controller %q has no mount point (not supported, or cgroup-v1 not mounted)", controller)
	}
	return mnts[0], nil
}
