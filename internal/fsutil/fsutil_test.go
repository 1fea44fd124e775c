package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestListFramesFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "light_0002.fits"))
	touch(t, filepath.Join(dir, "light_0001.fits"))
	touch(t, filepath.Join(dir, "darks", "dark_0001.fit"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "preview.png"))

	files, err := ListFrames(dir)
	if err != nil {
		t.Fatalf("ListFrames: %v", err)
	}
	want := []string{
		filepath.Join(dir, "darks", "dark_0001.fit"),
		filepath.Join(dir, "light_0001.fits"),
		filepath.Join(dir, "light_0002.fits"),
	}
	if len(files) != len(want) {
		t.Fatalf("got %d files %v, want %d", len(files), files, len(want))
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}
}

func TestIsFrameFile(t *testing.T) {
	for _, path := range []string{"a.fits", "b.FIT", "c.fts"} {
		if !IsFrameFile(path) {
			t.Fatalf("IsFrameFile(%s) = false", path)
		}
	}
	for _, path := range []string{"a.png", "b.fits.bak", "c"} {
		if IsFrameFile(path) {
			t.Fatalf("IsFrameFile(%s) = true", path)
		}
	}
}

func TestExpandFrameArgsMixesFilesAndDirs(t *testing.T) {
	dir := t.TempDir()
	single := filepath.Join(dir, "single.fits")
	touch(t, single)
	sub := filepath.Join(dir, "set")
	touch(t, filepath.Join(sub, "b.fits"))
	touch(t, filepath.Join(sub, "a.fits"))

	files, err := ExpandFrameArgs([]string{single, sub})
	if err != nil {
		t.Fatalf("ExpandFrameArgs: %v", err)
	}
	want := []string{single, filepath.Join(sub, "a.fits"), filepath.Join(sub, "b.fits")}
	if len(files) != len(want) {
		t.Fatalf("got %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}

	if _, err := ExpandFrameArgs([]string{filepath.Join(dir, "missing.fits")}); err == nil {
		t.Fatalf("missing input should error")
	}
}

func TestAvailableMemoryNonZero(t *testing.T) {
	if got := AvailableMemory(); got == 0 {
		t.Fatalf("AvailableMemory() = 0")
	}
}
