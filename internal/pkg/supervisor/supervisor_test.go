package supervisor

import (
	"os"
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	if err := WriteToken(w, TokenUnshared); err != nil {
		t.Fatalf("WriteToken: %v", err)
	}
	if err := ReadToken(r, TokenUnshared); err != nil {
		t.Fatalf("ReadToken: %v", err)
	}
}

func TestReadTokenRejectsMismatch(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	if err := WriteToken(w, TokenChrootReady); err != nil {
		t.Fatalf("WriteToken: %v", err)
	}
	if err := ReadToken(r, TokenUnshared); err == nil {
		t.Fatal("expected mismatch error, got nil")
	}
}

func TestReadTokenPropagatesEOF(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	w.Close()

	if err := ReadToken(r, TokenUnshared); err == nil {
		t.Fatal("expected EOF-derived error, got nil")
	}
}

func TestRootSlotRoundTrip(t *testing.T) {
	f, slot, err := NewRootSlot()
	if err != nil {
		t.Fatalf("NewRootSlot: %v", err)
	}
	defer f.Close()

	const want = "/tmp/uchroot-123/root"
	if err := PutRootPath(slot, want); err != nil {
		t.Fatalf("PutRootPath: %v", err)
	}
	if got := RootPath(slot); got != want {
		t.Errorf("RootPath() = %q, want %q", got, want)
	}

	// A second mapping of the same fd, as the reexec'd side would
	// perform, must observe the same bytes.
	reopened, err := MapRootSlotFd(int(f.Fd()))
	if err != nil {
		t.Fatalf("MapRootSlotFd: %v", err)
	}
	if got := RootPath(reopened); got != want {
		t.Errorf("RootPath(reopened) = %q, want %q", got, want)
	}
}

func TestPutRootPathRejectsOversizedPath(t *testing.T) {
	slot := make([]byte, 8)
	if err := PutRootPath(slot, "/this/path/is/definitely/too/long"); err == nil {
		t.Fatal("expected error for oversized path, got nil")
	}
}
