package cgroup

import "testing"

func TestNewRejectsBlank(t *testing.T) {
	cases := []struct {
		controller, group string
	}{
		{"", "g"},
		{"   ", "g"},
		{"memory", ""},
		{"memory", "  \t"},
	}
	for _, c := range cases {
		if _, err := New(c.controller, c.group); err == nil {
			t.Errorf("New(%q, %q): expected error, got nil", c.controller, c.group)
		}
	}
}

func TestNewAccepts(t *testing.T) {
	info, err := New("memory", "judge-1")
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	if info.Controller != "memory" || info.Group != "judge-1" {
		t.Fatalf("New: got %+v", info)
	}
}

func TestHasOpt(t *testing.T) {
	opts := []string{"rw", "nosuid", "memory"}
	if !hasOpt(opts, "memory") {
		t.Error("expected memory option to be found")
	}
	if hasOpt(opts, "pids") {
		t.Error("did not expect pids option to be found")
	}
}

func TestExistingDirMissingController(t *testing.T) {
	info := Info{Controller: "does-not-exist-xyz", Group: "g"}
	if _, err := info.existingDir(); err == nil {
		t.Fatal("expected error for unknown controller")
	}
}
