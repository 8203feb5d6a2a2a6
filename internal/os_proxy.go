package internal

import "os"

// OsProxy is the subset of filesystem operations FileBlob needs: stat to
// learn a file's size, open to read a chunk's bytes. Tests substitute a
// fake in place of RealOS.
type OsProxy interface {
	Stat(name string) (os.FileInfo, error)
	Open(name string) (*os.File, error)
}

// RealOS is the default OsProxy, delegating to the real os package.
type RealOS struct{}

func (RealOS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (RealOS) Open(name string) (*os.File, error)    { return os.Open(name) }
