//go:build windows

package lock

import (
	"os"
	"syscall"
	"unsafe"
)

var (
	kernel32         = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = kernel32.NewProc("LockFileEx")
	procUnlockFileEx = kernel32.NewProc("UnlockFileEx")
)

const (
	lockfileFailImmediately = 0x00000001
	lockfileExclusiveLock   = 0x00000002
	errorLockViolation      = 33
)

func acquireFile(f *os.File) error {
	var ol syscall.Overlapped
	ret, _, err := procLockFileEx.Call(
		f.Fd(),
		uintptr(lockfileExclusiveLock|lockfileFailImmediately),
		0, 1, 0,
		uintptr(unsafe.Pointer(&ol)),
	)
	if ret == 0 {
		if errno, ok := err.(syscall.Errno); ok && errno == errorLockViolation {
			return ErrBusy
		}
		return err
	}
	return nil
}

func releaseFile(f *os.File) error {
	var ol syscall.Overlapped
	ret, _, err := procUnlockFileEx.Call(
		f.Fd(),
		0, 1, 0,
		uintptr(unsafe.Pointer(&ol)),
	)
	if ret == 0 {
		return err
	}
	return nil
}
