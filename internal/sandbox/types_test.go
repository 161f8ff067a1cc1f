package sandbox

import (
	"encoding/json"
	"testing"
)

func TestSandboxParameterJSONRoundTrip(t *testing.T) {
	p := SandboxParameter{
		MemoryLimit:          256 << 20,
		ProcessLimit:         32,
		StackSize:            -1,
		RedirectBeforeChroot: true,
		MountProc:            true,
		ChrootDirectory:      "/var/lib/isobox/root-1",
		WorkingDirectory:     "/",
		Executable:           "/usr/bin/python3",
		ExecutableParameters: []string{"/usr/bin/python3", "solution.py"},
		EnvironmentVariables: []string{"PATH=/usr/bin"},
		StdinPath:            "/tmp/in",
		StdoutPath:           "/tmp/out",
		StderrPath:           "/tmp/err",
		StdinFD:              NoFD,
		StdoutFD:             NoFD,
		StderrFD:             NoFD,
		UID:                  1000,
		GID:                  1000,
		CgroupName:           "judge-1",
		Hostname:             "sandbox",
		Mounts: []MountSpec{
			{Src: "/data/in", Dst: "/in", Limit: 0},
			{Src: "/data/work", Dst: "/work", Limit: -1},
		},
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got SandboxParameter
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Executable != p.Executable || len(got.Mounts) != len(p.Mounts) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
	if got.Mounts[1].Limit != -1 {
		t.Fatalf("mount limit round trip mismatch: got %d", got.Mounts[1].Limit)
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		Exited:      "exited",
		Signaled:    "signaled",
		Status(99):  "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", s, got, want)
		}
	}
}
