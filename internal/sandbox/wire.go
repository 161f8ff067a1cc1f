package sandbox

// Fixed descriptor numbers for the two handshake channels donated across
// the re-exec boundary via cmd.ExtraFiles. Go's os/exec always places
// ExtraFiles at fd 3, 4, 5, ... in the child in the order given, so these
// are stable as long as the launcher always appends the handshake region
// and error pipe first, before any donated stdio descriptors.
const (
	// SemRegionFD is the child-side fd of the mmap'd handshake region.
	SemRegionFD = 3
	// ErrPipeFD is the child-side fd of the write end of the error pipe.
	ErrPipeFD = 4
	// FirstDonatedStdioFD is where caller-supplied pre-opened stdio
	// descriptors begin, if any are donated.
	FirstDonatedStdioFD = 5
)

// Handshake region layout: two 4-byte futex words. Exported so both the
// launcher (parent side) and childinit (child side) agree on the layout of
// the memfd region without either hardcoding the other's offsets.
const (
	SemOffsetReady      = 0 // S1: child signals "built, awaiting go"
	SemOffsetGo         = 4 // S2: parent signals "go"
	HandshakeRegionSize = 8
)

// childInitArg is the hidden subcommand argument Start re-execs itself
// with; childinit.Run is its entry point. The parameter itself is not
// passed as an argument: it is streamed as JSON over the child's stdin,
// mirroring the jsonToPipe idiom used for comparable sandbox helper re-exec
// requests elsewhere in the retrieved pack.
const childInitArg = "__isobox_childinit"

// ChildInitArg exposes childInitArg to cmd/isoboxd, which must recognize it
// as its first argument before doing any normal CLI parsing.
const ChildInitArg = childInitArg
