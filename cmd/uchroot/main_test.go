package main

import "testing"

func TestSplitBindSpec(t *testing.T) {
	src, tgt, err := splitBindSpec("/host/data:/data")
	if err != nil {
		t.Fatalf("splitBindSpec: %v", err)
	}
	if src != "/host/data" || tgt != "/data" {
		t.Errorf("splitBindSpec() = %q, %q, want /host/data, /data", src, tgt)
	}

	if _, _, err := splitBindSpec("relative:/data"); err == nil {
		t.Error("splitBindSpec() with relative SRC should fail")
	}
	if _, _, err := splitBindSpec("/data"); err == nil {
		t.Error("splitBindSpec() with no ':' should fail")
	}
}

func TestSplitIDRange(t *testing.T) {
	inner, outer, count, err := splitIDRange("0:100000:65536")
	if err != nil {
		t.Fatalf("splitIDRange: %v", err)
	}
	if inner != 0 || outer != 100000 || count != 65536 {
		t.Errorf("splitIDRange() = %d,%d,%d, want 0,100000,65536", inner, outer, count)
	}

	if _, _, _, err := splitIDRange("0:100000"); err == nil {
		t.Error("splitIDRange() with 2 fields should fail")
	}
	if _, _, _, err := splitIDRange("a:b:c"); err == nil {
		t.Error("splitIDRange() with non-numeric fields should fail")
	}
}

func TestBuildIDMapDefaultSingleIdentity(t *testing.T) {
	m, err := buildIDMap(nil, "/etc/subuid", false, 0, 1000)
	if err != nil {
		t.Fatalf("buildIDMap: %v", err)
	}
	if !m.IsSingleIdentity(1000) {
		t.Error("buildIDMap() with no ranges should yield a single-identity map against effectiveID")
	}
	if got := m.Lookup(0); got != 1000 {
		t.Errorf("Lookup(0) = %d, want 1000", got)
	}
}

func TestBuildIDMapExplicitRanges(t *testing.T) {
	m, err := buildIDMap([]string{"0:100000:65536"}, "/etc/subuid", false, 0, 1000)
	if err != nil {
		t.Fatalf("buildIDMap: %v", err)
	}
	if m.IsSingleIdentity(1000) {
		t.Error("buildIDMap() with an explicit wide range should not be single-identity")
	}
	if got := m.Lookup(42); got != 100042 {
		t.Errorf("Lookup(42) = %d, want 100042", got)
	}
}
