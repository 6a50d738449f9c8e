package idmap

import (
	"strings"
	"testing"
)

func TestLookupRoundTrip(t *testing.T) {
	m := New(DefaultSentinel)
	m.Add(0, 1000, 1)
	m.Add(1, 100000, 65536)

	if got := m.Lookup(0); got != 1000 {
		t.Errorf("Lookup(0) = %d, want 1000", got)
	}
	if got := m.Lookup(1); got != 100000 {
		t.Errorf("Lookup(1) = %d, want 100000", got)
	}
	if got := m.Lookup(100); got != 100099 {
		t.Errorf("Lookup(100) = %d, want 100099", got)
	}
	if got := m.LookupInverse(1000); got != 0 {
		t.Errorf("LookupInverse(1000) = %d, want 0", got)
	}
	if got := m.LookupInverse(100099); got != 100 {
		t.Errorf("LookupInverse(100099) = %d, want 100", got)
	}
}

func TestLookupMissReturnsSentinel(t *testing.T) {
	m := New(DefaultSentinel)
	m.Add(0, 1000, 1)

	if got := m.Lookup(5); got != DefaultSentinel {
		t.Errorf("got %d, want sentinel %d", got, DefaultSentinel)
	}
	if got := m.LookupInverse(5); got != DefaultSentinel {
		t.Errorf("got %d, want sentinel %d", got, DefaultSentinel)
	}
}

func TestCustomSentinel(t *testing.T) {
	m := New(99)
	if got := m.Lookup(5); got != 99 {
		t.Errorf("got %d, want custom sentinel 99", got)
	}
}

func TestIsSingleIdentity(t *testing.T) {
	m := New(DefaultSentinel)
	m.Add(0, 1000, 1)
	if !m.IsSingleIdentity(1000) {
		t.Error("expected single-identity mapping to be recognized")
	}
	if m.IsSingleIdentity(1001) {
		t.Error("outerID mismatch must not be a single identity")
	}

	m2 := New(DefaultSentinel)
	m2.Add(0, 1000, 1)
	m2.Add(1, 100000, 65536)
	if m2.IsSingleIdentity(1000) {
		t.Error("multi-range mapping must not be a single identity")
	}
}

func TestParseSubIDFile(t *testing.T) {
	data := `# comment
alice:100000:65536
1000:200000:65536

bob:300000:100
`
	entries, err := ParseSubIDFile(strings.NewReader(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []SubEntry{
		{Name: "alice", Start: 100000, Count: 65536},
		{Name: "1000", Start: 200000, Count: 65536},
		{Name: "bob", Start: 300000, Count: 100},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d: got %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestParseSubIDFileRejectsMalformedLine(t *testing.T) {
	_, err := ParseSubIDFile(strings.NewReader("alice:notanumber:65536\n"))
	if err == nil {
		t.Error("expected error for malformed start field")
	}
}

func TestEntryMatchesNumericName(t *testing.T) {
	e := SubEntry{Name: "1000", Start: 100000, Count: 65536}
	if !entryMatchesUser(e, 1000) {
		t.Error("numeric subid name should match equal uid")
	}
	if entryMatchesUser(e, 1001) {
		t.Error("numeric subid name should not match different uid")
	}
}
