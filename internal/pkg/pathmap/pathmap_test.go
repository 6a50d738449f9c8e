package pathmap

import "testing"

func TestClassifyUntranslatedByDefault(t *testing.T) {
	tbl := New()
	if got := tbl.Classify("/etc/passwd"); got != Untranslated {
		t.Errorf("got %v, want Untranslated", got)
	}
}

func TestRelativePathsPassThrough(t *testing.T) {
	tbl := New()
	tbl.AddMapping(Emulated, "/home", "/var/lib/uchroot/home")
	if got := tbl.Classify("home/x"); got != Untranslated {
		t.Errorf("got %v, want Untranslated for relative path", got)
	}
	if got := tbl.Translate("home/x"); got != "home/x" {
		t.Errorf("got %q, want unchanged relative path", got)
	}
}

func TestExactAndPrefixMatch(t *testing.T) {
	tbl := New()
	tbl.AddMapping(Emulated, "/home", "/var/lib/uchroot/home")

	if got := tbl.Classify("/home"); got != Emulated {
		t.Errorf("exact match: got %v, want Emulated", got)
	}
	if got := tbl.Classify("/homework"); got != Untranslated {
		t.Errorf("/homework must not match /home prefix, got %v", got)
	}
	if got := tbl.Translate("/home/alice/.bashrc"); got != "/var/lib/uchroot/home/alice/.bashrc" {
		t.Errorf("got %q", got)
	}
}

func TestLongestPrefixWins(t *testing.T) {
	tbl := New()
	tbl.AddMapping(Mapped, "/", "/outer")
	tbl.AddMapping(Emulated, "/home", "/var/lib/uchroot/home")

	if got := tbl.Classify("/home/alice"); got != Emulated {
		t.Errorf("got %v, want the more specific /home entry (Emulated)", got)
	}
	if got := tbl.Classify("/etc"); got != Mapped {
		t.Errorf("got %v, want the root fallback (Mapped)", got)
	}
	if got := tbl.Translate("/etc/passwd"); got != "/outer/etc/passwd" {
		t.Errorf("got %q", got)
	}
}

func TestTrailingSlashCanonicalizedOnInsert(t *testing.T) {
	tbl := New()
	tbl.AddMapping(Emulated, "/home/", "/var/lib/uchroot/home/")

	if got := tbl.Translate("/home/alice"); got != "/var/lib/uchroot/home/alice" {
		t.Errorf("got %q", got)
	}
}

func TestPrefixEndingInSlashMatchesWithoutSeparator(t *testing.T) {
	tbl := New()
	// A root mapping ("/") must match every absolute path, including "/"
	// itself, without requiring an extra separator.
	tbl.AddMapping(Mapped, "/", "/outer")
	if got := tbl.Classify("/"); got != Mapped {
		t.Errorf("got %v, want Mapped for root", got)
	}
	if got := tbl.Translate("/"); got != "/outer" {
		t.Errorf("got %q", got)
	}
}

func TestTranslateSquashesAdjacentSlashes(t *testing.T) {
	tbl := New()
	tbl.AddMapping(Emulated, "/a", "/b/")
	if got := tbl.Translate("/a/x"); got != "/b/x" {
		t.Errorf("got %q, want squashed slashes", got)
	}
}
