package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

func exists(t *testing.T, r *Resolver, rel string) bool {
	t.Helper()
	_, err := os.Lstat(filepath.Join(r.Root().Abs, filepath.FromSlash(rel)))
	return err == nil
}

func TestCreateFolder(t *testing.T) {
	r := newTestResolver(t)
	m := NewMutations(r, "")
	ctx := context.Background()

	p, err := m.CreateFolder(ctx, r.Root(), "photos")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if p.Rel != "photos" {
		t.Errorf("Rel = %q", p.Rel)
	}
	info, err := os.Stat(p.Abs)
	if err != nil || !info.IsDir() {
		t.Fatalf("photos not created as directory: %v", err)
	}

	if _, err := m.CreateFolder(ctx, r.Root(), "photos"); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate err = %v, want ErrConflict", err)
	}
}

func TestCreateFolderDefaultName(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	p, err := NewMutations(r, "").CreateFolder(ctx, r.Root(), "   ")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if p.Rel != DefaultFolderName {
		t.Errorf("Rel = %q, want %q", p.Rel, DefaultFolderName)
	}

	p, err = NewMutations(r, "Untitled").CreateFolder(ctx, r.Root(), "")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if p.Rel != "Untitled" {
		t.Errorf("Rel = %q, want Untitled", p.Rel)
	}
}

func TestCreateFolderConflictsWithFile(t *testing.T) {
	r := newTestResolver(t)
	writeFile(t, r, "notes", "x")
	_, err := NewMutations(r, "").CreateFolder(context.Background(), r.Root(), "notes")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestCreateFolderErrors(t *testing.T) {
	r := newTestResolver(t)
	m := NewMutations(r, "")
	ctx := context.Background()

	if _, err := m.CreateFolder(ctx, r.Root(), "a/b"); KindOf(err) != KindInvalidInput {
		t.Errorf("nested name err = %v, want invalid input", err)
	}
	missing, _ := r.Resolve("missing")
	if _, err := m.CreateFolder(ctx, missing, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing parent err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentCreateFolderOneWins(t *testing.T) {
	r := newTestResolver(t)
	m := NewMutations(r, "")
	oneWinner(t, 8, ErrConflict, func() error {
		_, err := m.CreateFolder(context.Background(), r.Root(), "shared")
		return err
	})
}

// oneWinner runs op n times concurrently and checks that exactly one call
// succeeds while every other fails with want.
func oneWinner(t *testing.T, n int, want error, op func() error) {
	t.Helper()
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = op()
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, want) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("%d calls succeeded, want 1", wins)
	}
}

func TestConcurrentDirectoryDeleteOneWins(t *testing.T) {
	r := newTestResolver(t)
	m := NewMutations(r, "")
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		for i := 0; i < 20; i++ {
			writeFile(t, r, "d/sub"+strconv.Itoa(i)+"/f.txt", "x")
		}
		oneWinner(t, 4, ErrNotFound, func() error {
			_, err := m.Delete(ctx, r.Root(), "d", KindDirectory)
			return err
		})
		if exists(t, r, "d") {
			t.Fatalf("round %d: directory still present", round)
		}
	}

	entries, err := os.ReadDir(r.Root().Abs)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("root not empty after deletes: %v", entries)
	}
}

func TestConcurrentFileDeleteOneWins(t *testing.T) {
	r := newTestResolver(t)
	writeFile(t, r, "f.txt", "x")
	m := NewMutations(r, "")
	oneWinner(t, 8, ErrNotFound, func() error {
		_, err := m.Delete(context.Background(), r.Root(), "f.txt", KindFile)
		return err
	})
}

func TestConcurrentRenameOneWins(t *testing.T) {
	r := newTestResolver(t)
	writeFile(t, r, "a.txt", "content")
	m := NewMutations(r, "")

	var next atomic.Int32
	oneWinner(t, 8, ErrNotFound, func() error {
		name := "b" + strconv.Itoa(int(next.Add(1))) + ".txt"
		_, err := m.Rename(context.Background(), r.Root(), "a.txt", name)
		return err
	})
	if exists(t, r, "a.txt") {
		t.Error("source still present")
	}
}

func TestListSkipsDirectoriesBeingDeleted(t *testing.T) {
	r := newTestResolver(t)
	mkdirs(t, r, tombstonePrefix+"x", "kept")

	listing, err := NewLister(r).List(context.Background(), r.Root())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listing.Dirs) != 1 || listing.Dirs[0].Name != "kept" {
		t.Errorf("dirs = %+v, want only kept", listing.Dirs)
	}
}

func TestRename(t *testing.T) {
	r := newTestResolver(t)
	writeFile(t, r, "old.txt", "content")
	mkdirs(t, r, "olddir/inner")
	m := NewMutations(r, "")
	ctx := context.Background()

	if _, err := m.Rename(ctx, r.Root(), "old.txt", "new.txt"); err != nil {
		t.Fatalf("rename file: %v", err)
	}
	if exists(t, r, "old.txt") || !exists(t, r, "new.txt") {
		t.Error("file rename did not move entry")
	}

	p, err := m.Rename(ctx, r.Root(), "olddir", "newdir")
	if err != nil {
		t.Fatalf("rename dir: %v", err)
	}
	if p.Rel != "newdir" || !exists(t, r, "newdir/inner") {
		t.Error("directory rename did not move subtree")
	}
}

func TestRenameConflictKeepsBoth(t *testing.T) {
	r := newTestResolver(t)
	writeFile(t, r, "old.txt", "old")
	writeFile(t, r, "new.txt", "new")

	_, err := NewMutations(r, "").Rename(context.Background(), r.Root(), "old.txt", "new.txt")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	for name, want := range map[string]string{"old.txt": "old", "new.txt": "new"} {
		got, err := os.ReadFile(filepath.Join(r.Root().Abs, name))
		if err != nil || string(got) != want {
			t.Errorf("%s = %q (%v), want %q", name, got, err, want)
		}
	}
}

func TestRenameDirectoryOntoExistingDirectory(t *testing.T) {
	r := newTestResolver(t)
	mkdirs(t, r, "a", "b")
	_, err := NewMutations(r, "").Rename(context.Background(), r.Root(), "a", "b")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestRenameErrors(t *testing.T) {
	r := newTestResolver(t)
	writeFile(t, r, "a.txt", "a")
	m := NewMutations(r, "")
	ctx := context.Background()

	if _, err := m.Rename(ctx, r.Root(), "missing.txt", "x.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing source err = %v, want ErrNotFound", err)
	}
	for _, pair := range [][2]string{{"", "x"}, {"a.txt", ""}, {"a.txt", "  "}} {
		if _, err := m.Rename(ctx, r.Root(), pair[0], pair[1]); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Rename(%q, %q) err = %v, want ErrInvalidName", pair[0], pair[1], err)
		}
	}
	if _, err := m.Rename(ctx, r.Root(), "a.txt", "../escape.txt"); KindOf(err) != KindInvalidInput {
		t.Errorf("traversal target err = %v, want invalid input", err)
	}
	if !exists(t, r, "a.txt") {
		t.Error("failed renames moved the source")
	}
}

func TestDeleteFile(t *testing.T) {
	r := newTestResolver(t)
	writeFile(t, r, "docs/a.txt", "a")
	docs, _ := r.Resolve("docs")
	m := NewMutations(r, "")

	if _, err := m.Delete(context.Background(), docs, "a.txt", KindFile); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if exists(t, r, "docs/a.txt") {
		t.Error("file still present")
	}
	if _, err := m.Delete(context.Background(), docs, "ghost.txt", KindFile); !errors.Is(err, ErrNotFound) {
		t.Errorf("ghost err = %v, want ErrNotFound", err)
	}
}

func TestDeleteDirectoryWithReadOnlyEntries(t *testing.T) {
	r := newTestResolver(t)
	writeFile(t, r, "tree/locked.txt", "keep out")
	writeFile(t, r, "tree/sub/deep.txt", "deep")
	writeFile(t, r, "tree/sub/deeper/leaf.txt", "leaf")
	root := r.Root().Abs
	os.Chmod(filepath.Join(root, "tree", "locked.txt"), 0o444)
	os.Chmod(filepath.Join(root, "tree", "sub", "deeper", "leaf.txt"), 0o444)
	os.Chmod(filepath.Join(root, "tree", "sub", "deeper"), 0o555)
	os.Chmod(filepath.Join(root, "tree", "sub"), 0o555)

	if _, err := NewMutations(r, "").Delete(context.Background(), r.Root(), "tree", KindDirectory); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if exists(t, r, "tree") {
		t.Error("subtree still present")
	}
}

func TestDeleteKindValidation(t *testing.T) {
	r := newTestResolver(t)
	writeFile(t, r, "f.txt", "f")
	m := NewMutations(r, "")
	for _, kind := range []string{"", "File", "dir", "folder", "directory "} {
		if _, err := m.Delete(context.Background(), r.Root(), "f.txt", kind); !errors.Is(err, ErrInvalidKind) {
			t.Errorf("kind %q err = %v, want ErrInvalidKind", kind, err)
		}
	}
	if !exists(t, r, "f.txt") {
		t.Error("invalid kind deleted the file")
	}
}

func TestDeleteKindMismatchIsNotFound(t *testing.T) {
	r := newTestResolver(t)
	writeFile(t, r, "f.txt", "f")
	mkdirs(t, r, "d")
	m := NewMutations(r, "")
	ctx := context.Background()

	if _, err := m.Delete(ctx, r.Root(), "f.txt", KindDirectory); !errors.Is(err, ErrNotFound) {
		t.Errorf("file as directory err = %v, want ErrNotFound", err)
	}
	if _, err := m.Delete(ctx, r.Root(), "d", KindFile); !errors.Is(err, ErrNotFound) {
		t.Errorf("directory as file err = %v, want ErrNotFound", err)
	}
	if !exists(t, r, "f.txt") || !exists(t, r, "d") {
		t.Error("mismatched delete removed an entry")
	}
}

func TestDeleteSymlinkRemovesLinkOnly(t *testing.T) {
	r := newTestResolver(t)
	writeFile(t, r, "keep/data.txt", "data")
	if err := os.Symlink(filepath.Join(r.Root().Abs, "keep"), filepath.Join(r.Root().Abs, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	m := NewMutations(r, "")
	ctx := context.Background()

	if _, err := m.Delete(ctx, r.Root(), "link", KindDirectory); !errors.Is(err, ErrNotFound) {
		t.Errorf("link as directory err = %v, want ErrNotFound", err)
	}
	if _, err := m.Delete(ctx, r.Root(), "link", KindFile); err != nil {
		t.Fatalf("delete link: %v", err)
	}
	if exists(t, r, "link") || !exists(t, r, "keep/data.txt") {
		t.Error("deleting the link touched its target")
	}
}

func TestDeleteRejectsTraversalNames(t *testing.T) {
	r := newTestResolver(t)
	m := NewMutations(r, "")
	for _, name := range []string{"..", "../x", "", "."} {
		if _, err := m.Delete(context.Background(), r.Root(), name, KindDirectory); KindOf(err) != KindInvalidInput {
			t.Errorf("Delete(%q) err = %v, want invalid input", name, err)
		}
	}
}
