package syncutil

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Pipe is a unidirectional byte stream allocated close-on-exec and
// non-blocking, used as the child->parent error-report channel. Because
// it is close-on-exec, a successful guest execve causes the write end to
// vanish, so the parent's subsequent read yields EOF instead of blocking
// forever or mixing with guest stdio.
type Pipe struct {
	Read  *os.File
	Write *os.File
}

// NewPipe allocates a new close-on-exec, non-blocking pipe.
func NewPipe() (*Pipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, fmt.Errorf("syncutil: pipe2: %w", err)
	}
	return &Pipe{
		Read:  os.NewFile(uintptr(fds[0]), "isobox-errpipe-r"),
		Write: os.NewFile(uintptr(fds[1]), "isobox-errpipe-w"),
	}, nil
}

// Close closes both ends. Errors are swallowed: this mirrors the
// destructor-safety contract of the original pipe wrapper, where
// close failures on a descriptor about to be discarded are not
// actionable.
func (p *Pipe) Close() {
	if p == nil {
		return
	}
	if p.Read != nil {
		_ = p.Read.Close()
	}
	if p.Write != nil {
		_ = p.Write.Close()
	}
}
