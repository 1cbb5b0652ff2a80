package vfs

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOSFS_CreateReadWrite(t *testing.T) {
	fsys := NewOS()
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	f, err := fsys.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := f.Sync(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	if _, err := f.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q", string(buf))
	}
}

func TestOSFS_StatAndReadDir(t *testing.T) {
	fsys := NewOS()
	dir := t.TempDir()
	p := filepath.Join(dir, "b.txt")
	f, err := fsys.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	info, err := fsys.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	if info.IsDir() {
		t.Fatal("expected a regular file")
	}

	entries, err := fsys.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "b.txt" {
		t.Fatalf("expected exactly b.txt, got %v", entries)
	}
}

func TestWatcher_FSNotify(t *testing.T) {
	fw, err := NewFSWatcher()
	if err != nil {
		t.Skip("fsnotify not supported: ", err)
	}
	defer fw.Close()
	dir := t.TempDir()
	if err := fw.Add(dir); err != nil {
		t.Fatal(err)
	}
	go func() {
		f := filepath.Join(dir, "f.txt")
		_ = os.WriteFile(f, []byte("x"), 0o644)
	}()
	select {
	case ev := <-fw.Events():
		if ev.Path == "" {
			t.Fatal("empty path")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for fsnotify event")
	}
}
