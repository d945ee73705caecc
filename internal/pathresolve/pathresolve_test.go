package pathresolve

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve_GroupMount(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(sub, []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	table := Build(dir, filepath.Join(dir, "ipc"), nil)

	got, ok := Resolve("/workspace/group/notes.txt", table)
	if !ok {
		t.Fatalf("expected resolve to succeed")
	}
	if got != sub {
		t.Errorf("got %q, want %q", got, sub)
	}
}

func TestResolve_UnmatchedPrefix(t *testing.T) {
	table := Build(t.TempDir(), t.TempDir(), nil)
	if _, ok := Resolve("/workspace/other/x", table); ok {
		t.Error("expected no match for unrecognized prefix")
	}
}

func TestResolve_EscapeRejected(t *testing.T) {
	dir := t.TempDir()
	table := Build(dir, filepath.Join(dir, "ipc"), nil)

	if _, ok := Resolve("/workspace/group/../../../etc/passwd", table); ok {
		t.Error("expected escape attempt to be rejected")
	}
}

func TestResolve_MissingFileSkipped(t *testing.T) {
	dir := t.TempDir()
	table := Build(dir, filepath.Join(dir, "ipc"), nil)

	if _, ok := Resolve("/workspace/group/nope.txt", table); ok {
		t.Error("expected missing file to be skipped, not resolved")
	}
}

func TestResolve_ExtraMountLongestPrefix(t *testing.T) {
	groupDir := t.TempDir()
	extraDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(extraDir, "data.csv"), []byte("a,b"), 0644); err != nil {
		t.Fatal(err)
	}

	table := Build(groupDir, filepath.Join(groupDir, "ipc"), map[string]string{
		"shared": extraDir,
	})

	got, ok := Resolve("/workspace/extra/shared/data.csv", table)
	if !ok {
		t.Fatalf("expected resolve to succeed")
	}
	want := filepath.Join(extraDir, "data.csv")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveAll_DropsFailures(t *testing.T) {
	dir := t.TempDir()
	ok1 := filepath.Join(dir, "a.txt")
	os.WriteFile(ok1, []byte("x"), 0644)

	table := Build(dir, filepath.Join(dir, "ipc"), nil)

	got := ResolveAll([]string{
		"/workspace/group/a.txt",
		"/workspace/group/missing.txt",
		"/workspace/unknown/x",
	}, table)

	if len(got) != 1 || got[0] != ok1 {
		t.Errorf("got %v, want single entry %q", got, ok1)
	}
}
