package childinit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/judgesandbox/isobox/internal/sandbox"
)

func TestApplyExtraMountRejectsRelativeDst(t *testing.T) {
	err := applyExtraMount(t.TempDir(), sandbox.MountSpec{Src: "/tmp", Dst: "rel/path"})
	if err == nil {
		t.Fatal("expected an error for a relative dst")
	}
}

func TestEnsureDirMissing(t *testing.T) {
	if err := ensureDir(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}

func TestEnsureDirNotADirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain-file")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := ensureDir(file); err == nil {
		t.Fatal("expected an error for a path that is not a directory")
	}
}

func TestResolveStdioFDPrefersFD(t *testing.T) {
	got, err := resolveStdioFD(7, "/some/path", 0, 99)
	if err != nil {
		t.Fatalf("resolveStdioFD: %v", err)
	}
	if got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}

func TestResolveStdioFDFallsBackToNull(t *testing.T) {
	got, err := resolveStdioFD(sandbox.NoFD, "", 0, 99)
	if err != nil {
		t.Fatalf("resolveStdioFD: %v", err)
	}
	if got != 99 {
		t.Fatalf("got %d, want nullFD 99", got)
	}
}

// TestConstructPrivileged is the slot for the full mount/chroot/rlimit/setuid
// sequence, which requires CAP_SYS_ADMIN and a disposable mount namespace.
// It is skipped unless explicitly opted into, and its body performs no
// checks: with ISOBOX_PRIVILEGED_TESTS set it skips as well.
func TestConstructPrivileged(t *testing.T) {
	if os.Getenv("ISOBOX_PRIVILEGED_TESTS") == "" {
		t.Skip("set ISOBOX_PRIVILEGED_TESTS=1 to run tests that mount, chroot and drop privileges")
	}
	t.Skip("TODO: exercise construct() end to end inside a disposable namespace")
}
