package sandbox

import (
	"os"
	"testing"
)

func TestLimitString(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{-1, "max"},
		{-2, "max"},
		{0, "0"},
		{128 << 20, "134217728"},
	}
	for _, tc := range cases {
		if got := limitString(tc.in); got != tc.want {
			t.Errorf("limitString(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDonateStdioNoFD(t *testing.T) {
	files := []*os.File{os.Stdin, os.Stdin}
	fd, got := donateStdio(StdioSpec{}, files)
	if fd != noFD {
		t.Fatalf("fd = %d, want noFD", fd)
	}
	if len(got) != len(files) {
		t.Fatalf("donateStdio appended a file for an empty spec")
	}
}

func TestDonateStdioSequentialFDs(t *testing.T) {
	files := []*os.File{os.Stdin, os.Stdin} // stand-ins for the region and pipe files
	var fds []int

	fd, files := donateStdio(StdioSpec{File: os.Stdout}, files)
	fds = append(fds, fd)
	fd, files = donateStdio(StdioSpec{File: os.Stdout}, files)
	fds = append(fds, fd)
	fd, files = donateStdio(StdioSpec{File: os.Stdout}, files)
	fds = append(fds, fd)

	want := []int{FirstDonatedStdioFD, FirstDonatedStdioFD + 1, FirstDonatedStdioFD + 2}
	for i := range want {
		if fds[i] != want[i] {
			t.Errorf("fd[%d] = %d, want %d", i, fds[i], want[i])
		}
	}
	if len(files) != 5 {
		t.Fatalf("got %d extra files, want 5", len(files))
	}
}
