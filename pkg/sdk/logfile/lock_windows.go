//go:build windows

package logfile

import (
	"os"

	"golang.org/x/sys/windows"
)

// fileLock is a LockFileEx byte-range lock held on a side file
type fileLock struct {
	f *os.File
}

func openLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) lock() error {
	ol := new(windows.Overlapped)
	return windows.LockFileEx(windows.Handle(l.f.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, ol)
}

func (l *fileLock) unlock() error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(l.f.Fd()), 0, 1, 0, ol)
}

func (l *fileLock) close() error {
	return l.f.Close()
}
