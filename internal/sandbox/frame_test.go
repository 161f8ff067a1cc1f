package sandbox

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteReadOKFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteOKFrame(&buf); err != nil {
		t.Fatalf("WriteOKFrame: %v", err)
	}
	ok, msg, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !ok || msg != "" {
		t.Fatalf("got ok=%v msg=%q, want ok=true msg=\"\"", ok, msg)
	}
}

func TestWriteReadErrorFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteErrorFrame(&buf, "chroot: no such file or directory"); err != nil {
		t.Fatalf("WriteErrorFrame: %v", err)
	}
	ok, msg, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if ok {
		t.Fatal("got ok=true, want false")
	}
	if msg != "chroot: no such file or directory" {
		t.Fatalf("got message %q", msg)
	}
}

func TestReadFrameEmptyStream(t *testing.T) {
	_, _, err := ReadFrame(bytes.NewReader(nil))
	if err != io.EOF {
		t.Fatalf("got err %v, want io.EOF", err)
	}
}

func TestReadFrameTruncatedMessage(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteErrorFrame(&buf, "something went wrong"); err != nil {
		t.Fatalf("WriteErrorFrame: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:6])
	_, _, err := ReadFrame(truncated)
	if err == nil {
		t.Fatal("expected an error reading a truncated frame")
	}
}
