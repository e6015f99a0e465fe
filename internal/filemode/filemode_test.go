package filemode

import "testing"

func TestIsDir(t *testing.T) {
	if !Dir.IsDir() {
		t.Fatal("Dir should report IsDir")
	}
	if Regular.IsDir() || Executable.IsDir() || Symlink.IsDir() {
		t.Fatal("non-directory modes should not report IsDir")
	}
}

func TestIsRegular(t *testing.T) {
	if !Regular.IsRegular() {
		t.Fatal("Regular should report IsRegular")
	}
	if !Executable.IsRegular() {
		t.Fatal("Executable should report IsRegular")
	}
	if Dir.IsRegular() || Symlink.IsRegular() {
		t.Fatal("Dir and Symlink should not report IsRegular")
	}
}

func TestValid(t *testing.T) {
	for _, m := range []FileMode{Regular, Executable, Dir, Symlink} {
		if !m.Valid() {
			t.Fatalf("%v should be valid", m)
		}
	}
	if FileMode(0).Valid() {
		t.Fatal("zero mode should not be valid")
	}
}

func TestString(t *testing.T) {
	if got := Regular.String(); got != "100644" {
		t.Fatalf("Regular.String() = %q, want %q", got, "100644")
	}
	if got := Dir.String(); got != "040000" {
		t.Fatalf("Dir.String() = %q, want %q", got, "040000")
	}
}
