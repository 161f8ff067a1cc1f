package syncutil

import "testing"

func TestNewPipeReadWrite(t *testing.T) {
	p, err := NewPipe()
	if err != nil {
		t.Fatalf("NewPipe: %v", err)
	}
	defer p.Close()

	msg := []byte("hello sandbox")
	if _, err := p.Write.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, len(msg))
	n, err := p.Read.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != len(msg) || string(buf) != string(msg) {
		t.Fatalf("read back %q, want %q", buf[:n], msg)
	}
}

func TestPipeCloseIsSafeTwice(t *testing.T) {
	p, err := NewPipe()
	if err != nil {
		t.Fatalf("NewPipe: %v", err)
	}
	p.Close()
	p.Close() // must not panic
}

func TestPipeCloseNil(t *testing.T) {
	var p *Pipe
	p.Close() // must not panic
}
