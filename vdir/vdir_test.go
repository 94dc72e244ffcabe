package vdir

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/yatta-sync/yatta"
	"github.com/yatta-sync/yatta/buffer"
	"github.com/yatta-sync/yatta/observer"
	"github.com/yatta-sync/yatta/workerpool"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
}

func TestLoadFolderStoreFolderRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt":        "hello",
		"nested/b.txt": "world",
		"skip.log":     "excluded by extension",
		"exact.tmp":    "excluded by exact name",
	})

	v, err := LoadFolder(src, []string{"exact.tmp", ".log"}, observer.Discard)
	if err != nil {
		t.Fatalf("LoadFolder: %v", err)
	}
	if got, want := len(v.Files), 2; got != want {
		t.Fatalf("LoadFolder loaded %d files, want %d", got, want)
	}

	dst := t.TempDir()
	if err := v.StoreFolder(dst, observer.Discard); err != nil {
		t.Fatalf("StoreFolder: %v", err)
	}
	for rel, want := range map[string]string{"a.txt": "hello", "nested/b.txt": "world"} {
		got, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("reading stored %s: %v", rel, err)
		}
		if string(got) != want {
			t.Errorf("stored %s = %q, want %q", rel, got, want)
		}
	}
}

func TestLoadFolderOrdersLexicographically(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"z.txt": "z",
		"a.txt": "a",
		"m.txt": "m",
	})
	v, err := LoadFolder(src, nil, observer.Discard)
	if err != nil {
		t.Fatalf("LoadFolder: %v", err)
	}
	var got []string
	for _, f := range v.Files {
		got = append(got, f.RelativePath)
	}
	want := []string{"a.txt", "m.txt", "z.txt"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("enumeration order mismatch (-want +got):\n%s", diff)
	}
}

func TestPackageUnpackageRoundTrip(t *testing.T) {
	v := New()
	v.Files = []VirtualFile{
		{RelativePath: "a.txt", Payload: buffer.FromBytes([]byte("alpha"))},
		{RelativePath: "dir/b.bin", Payload: buffer.FromBytes([]byte{0, 1, 2, 3, 0xff})},
	}
	v.sortFiles()

	packed, stats, err := Package(v, "/some/root", "myarchive")
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if stats.Files != 2 {
		t.Errorf("Package stats.Files = %d, want 2", stats.Files)
	}

	got, gotStats, err := Unpackage(packed.Range())
	if err != nil {
		t.Fatalf("Unpackage: %v", err)
	}
	if gotStats.Files != 2 {
		t.Errorf("Unpackage stats.Files = %d, want 2", gotStats.Files)
	}
	if diff := cmp.Diff(v.Files, got.Files, cmp.Comparer(func(a, b *buffer.Buffer) bool {
		return string(a.Bytes()) == string(b.Bytes())
	})); diff != "" {
		t.Errorf("Package/Unpackage round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPackageUnpackageEmptyVDir(t *testing.T) {
	v := New()
	packed, stats, err := Package(v, "", "empty")
	if err != nil {
		t.Fatalf("Package(empty VDir): %v", err)
	}
	if stats.Files != 0 {
		t.Errorf("Package(empty) stats.Files = %d, want 0", stats.Files)
	}

	got, _, err := Unpackage(packed.Range())
	if err != nil {
		t.Fatalf("Unpackage(empty): %v", err)
	}
	if len(got.Files) != 0 {
		t.Errorf("Unpackage(empty) = %d files, want 0", len(got.Files))
	}
}

func TestUnpackageBadMagic(t *testing.T) {
	b := buffer.New()
	header := make([]byte, yatta.MagicSize)
	copy(header, "wrong magic entirely")
	b.Append(header)
	b.AppendUint64(0)
	if _, _, err := Unpackage(b.Range()); !errors.Is(err, yatta.ErrBadMagic) {
		t.Errorf("Unpackage(bad magic) err = %v, want ErrBadMagic", err)
	}
}

func vfile(path, content string) VirtualFile {
	return VirtualFile{RelativePath: path, Payload: buffer.FromBytes([]byte(content))}
}

func TestMakeDeltaApplyDeltaFullLifecycle(t *testing.T) {
	pool := workerpool.New(4)
	defer pool.Shutdown()

	oldV := New()
	oldV.Files = []VirtualFile{
		vfile("kept.txt", "unchanged"),
		vfile("updated.txt", "version one"),
		vfile("removed.txt", "going away"),
	}
	oldV.sortFiles()

	newV := New()
	newV.Files = []VirtualFile{
		vfile("kept.txt", "unchanged"),
		vfile("updated.txt", "version two, longer than before"),
		vfile("added.txt", "brand new"),
		vfile("added_empty.txt", ""),
	}
	newV.sortFiles()

	delta, err := MakeDelta(oldV, newV, pool)
	if err != nil {
		t.Fatalf("MakeDelta: %v", err)
	}

	root := t.TempDir()
	for _, f := range oldV.Files {
		full := filepath.Join(root, f.RelativePath)
		if err := os.WriteFile(full, f.Payload.Bytes(), 0o644); err != nil {
			t.Fatalf("seeding %s: %v", f.RelativePath, err)
		}
	}

	working := New()
	working.Files = append([]VirtualFile(nil), oldV.Files...)
	working.sortFiles()

	result, err := working.ApplyDelta(delta.Range(), root, observer.Discard)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if result.EntriesApplied != 4 {
		t.Errorf("EntriesApplied = %d, want 4 (1 update + 2 new + 1 delete)", result.EntriesApplied)
	}
	if len(result.Skipped) != 0 {
		t.Errorf("Skipped = %v, want none on first apply", result.Skipped)
	}

	wantPaths := []string{"added.txt", "added_empty.txt", "kept.txt", "updated.txt"}
	var gotPaths []string
	for _, f := range working.Files {
		gotPaths = append(gotPaths, f.RelativePath)
	}
	if diff := cmp.Diff(wantPaths, gotPaths); diff != "" {
		t.Errorf("post-apply file set mismatch (-want +got):\n%s", diff)
	}

	for rel, want := range map[string]string{
		"kept.txt":        "unchanged",
		"updated.txt":     "version two, longer than before",
		"added.txt":       "brand new",
		"added_empty.txt": "",
	} {
		got, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			t.Fatalf("reading applied %s: %v", rel, err)
		}
		if string(got) != want {
			t.Errorf("applied %s = %q, want %q", rel, got, want)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "removed.txt")); !os.IsNotExist(err) {
		t.Errorf("removed.txt still exists after ApplyDelta, err = %v", err)
	}

	// Re-applying the same delta to the now-updated VDir must be a no-op
	// reported entirely through SkipNotes, never an error.
	result2, err := working.ApplyDelta(delta.Range(), root, observer.Discard)
	if err != nil {
		t.Fatalf("second ApplyDelta: %v", err)
	}
	if result2.EntriesApplied != 0 {
		t.Errorf("second ApplyDelta EntriesApplied = %d, want 0 (idempotent)", result2.EntriesApplied)
	}
	if len(result2.Skipped) != 4 {
		t.Errorf("second ApplyDelta Skipped = %d entries, want 4", len(result2.Skipped))
	}
}

func TestMakeDeltaNoChangesProducesEmptyDelta(t *testing.T) {
	pool := workerpool.New(2)
	defer pool.Shutdown()

	v := New()
	v.Files = []VirtualFile{vfile("same.txt", "identical content")}
	v.sortFiles()

	delta, err := MakeDelta(v, v, pool)
	if err != nil {
		t.Fatalf("MakeDelta(no changes): %v", err)
	}

	working := New()
	working.Files = append([]VirtualFile(nil), v.Files...)
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "same.txt"), []byte("identical content"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	result, err := working.ApplyDelta(delta.Range(), root, observer.Discard)
	if err != nil {
		t.Fatalf("ApplyDelta(no changes): %v", err)
	}
	if result.EntriesApplied != 0 || len(result.Skipped) != 0 {
		t.Errorf("ApplyDelta(no changes) = %+v, want a fully empty result", result)
	}
}

func TestApplyDeltaVersionMismatch(t *testing.T) {
	pool := workerpool.New(2)
	defer pool.Shutdown()

	oldV := New()
	oldV.Files = []VirtualFile{vfile("f.txt", "original")}
	oldV.sortFiles()
	newV := New()
	newV.Files = []VirtualFile{vfile("f.txt", "updated")}
	newV.sortFiles()

	delta, err := MakeDelta(oldV, newV, pool)
	if err != nil {
		t.Fatalf("MakeDelta: %v", err)
	}

	// working's current content diverges from the delta's expected source
	// hash, simulating a directory that moved on since the delta was made.
	working := New()
	working.Files = []VirtualFile{vfile("f.txt", "diverged content, not the original")}
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("diverged content, not the original"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	if _, err := working.ApplyDelta(delta.Range(), root, observer.Discard); !errors.Is(err, yatta.ErrVersionMismatch) {
		t.Errorf("ApplyDelta(diverged source) err = %v, want ErrVersionMismatch", err)
	}
}

func TestApplyDeltaBadMagic(t *testing.T) {
	b := buffer.New()
	header := make([]byte, yatta.MagicSize)
	copy(header, "not a patch frame")
	b.Append(header)
	b.AppendUint64(0)

	v := New()
	if _, err := v.ApplyDelta(b.Range(), t.TempDir(), observer.Discard); !errors.Is(err, yatta.ErrBadMagic) {
		t.Errorf("ApplyDelta(bad magic) err = %v, want ErrBadMagic", err)
	}
}

func TestInferFolderName(t *testing.T) {
	for _, test := range []struct {
		desc string
		root string
		want string
	}{
		{desc: "simple", root: "/home/user/project", want: "project"},
		{desc: "trailing slash", root: "/home/user/project/", want: "project"},
		{desc: "root itself", root: "/", want: "root"},
	} {
		t.Run(test.desc, func(t *testing.T) {
			if got := inferFolderName(test.root); got != test.want {
				t.Errorf("inferFolderName(%q) = %q, want %q", test.root, got, test.want)
			}
		})
	}
}

func TestMatchesExclusion(t *testing.T) {
	exclusions := []string{"exact/path.txt", ".log"}
	for _, test := range []struct {
		path string
		want bool
	}{
		{path: "exact/path.txt", want: true},
		{path: "other/path.txt", want: false},
		{path: "anything.log", want: true},
		{path: "anything.txt", want: false},
	} {
		if got := matchesExclusion(test.path, exclusions); got != test.want {
			t.Errorf("matchesExclusion(%q) = %v, want %v", test.path, got, test.want)
		}
	}
}
