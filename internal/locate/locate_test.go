package locate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "arping"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	r := &Resolver{Dir: dir}

	got, err := r.Path("arping")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if want := filepath.Join(dir, "arping"); got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}
}

func TestPath_NotFound(t *testing.T) {
	r := &Resolver{Dir: t.TempDir()}
	_, err := r.Path("stack")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want *NotFoundError", err)
	}
	if err.Error() != "stack not found!" {
		t.Errorf("Error() = %q, want %q", err.Error(), "stack not found!")
	}
}

func TestPath_Directory(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "ping"), 0o755); err != nil {
		t.Fatal(err)
	}
	r := &Resolver{Dir: dir}
	if _, err := r.Path("ping"); err == nil {
		t.Fatal("expected a directory to be rejected")
	}
}

func TestNew_EnvFallback(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvBuildRoot, dir)
	r, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Dir != dir {
		t.Errorf("Dir = %q, want %q", r.Dir, dir)
	}
}

func TestNew_ExplicitWins(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvBuildRoot, "/nonexistent")
	r, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Dir != dir {
		t.Errorf("Dir = %q, want %q", r.Dir, dir)
	}
}

func TestNew_WorkingDirectory(t *testing.T) {
	t.Setenv(EnvBuildRoot, "")
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	r, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Dir != wd {
		t.Errorf("Dir = %q, want %q", r.Dir, wd)
	}
}
