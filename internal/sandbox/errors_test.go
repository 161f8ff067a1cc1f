package sandbox

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("no such file or directory")
	err := syscallErr("chroot", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(%v, %v) = false, want true", err, cause)
	}

	var sandboxErr *Error
	if !errors.As(err, &sandboxErr) {
		t.Fatalf("errors.As failed to find *Error in %v", err)
	}
	if sandboxErr.Kind != KindSyscall {
		t.Fatalf("got Kind %v, want %v", sandboxErr.Kind, KindSyscall)
	}
}

func TestChildSetupErrorString(t *testing.T) {
	err := childSetupErr("mount failed")
	want := fmt.Sprintf("sandbox: %s: exec: mount failed", KindChildSetup)
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestKindStrings(t *testing.T) {
	cases := map[Kind]string{
		KindConfiguration: "configuration",
		KindSyscall:       "syscall",
		KindHandshake:     "handshake",
		KindChildSetup:    "child-setup",
		Kind(99):          "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
