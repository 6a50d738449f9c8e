package wire

import (
	"bytes"
	"testing"
	"time"
)

func TestNumberRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 65534, -65534, 1 << 40, -(1 << 40)}
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, v := range values {
		w.PutNumber(v)
	}
	if err := w.Err(); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewReader(&buf)
	for _, want := range values {
		got := r.GetNumber()
		if err := r.Err(); err != nil {
			t.Fatalf("read: %v", err)
		}
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
}

func TestStringRoundTripWithEmbeddedNUL(t *testing.T) {
	want := "hello\x00world\x00"
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.PutString(want)
	if err := w.Err(); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewReader(&buf)
	got := r.GetString()
	if err := r.Err(); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTimespecRoundTrip(t *testing.T) {
	want := time.Unix(1700000000, 123456789).UTC()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.PutTimespec(want)

	r := NewReader(&buf)
	got := r.GetTimespec()
	if err := r.Err(); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestShortReadIsReported(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("12")))
	r.GetNumber()
	if r.Err() != ErrShortRead {
		t.Errorf("expected ErrShortRead, got %v", r.Err())
	}
}

func TestEmptyStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.PutString("")
	r := NewReader(&buf)
	if got := r.GetString(); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
