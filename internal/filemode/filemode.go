// Package filemode defines the POSIX-like mode bits stored on a TreeEntry,
// the same encoding a content-addressed tree object borrows from Git.
package filemode

import "fmt"

// FileMode is the mode word stored on a TreeEntry.
type FileMode uint32

// The S_IFMT-style mode families a tree entry can take.
const (
	Regular    FileMode = 0100644
	Executable FileMode = 0100755
	Dir        FileMode = 0040000
	Symlink    FileMode = 0120000
)

const mask FileMode = 0170000

// IsDir reports whether the mode identifies a directory (TREE) entry.
func (m FileMode) IsDir() bool {
	return m&mask == Dir
}

// IsRegular reports whether the mode identifies an ordinary or executable
// blob.
func (m FileMode) IsRegular() bool {
	fam := m & mask
	return fam == Regular&mask || m == Executable
}

// String renders the mode in the traditional octal form.
func (m FileMode) String() string {
	return fmt.Sprintf("%06o", uint32(m))
}

// Valid reports whether m is one of the modes stagegraph understands.
func (m FileMode) Valid() bool {
	switch m {
	case Regular, Executable, Dir, Symlink:
		return true
	default:
		return false
	}
}
