//go:build !windows

package state

import "syscall"

// flockLock takes an exclusive advisory lock on the descriptor,
// blocking until it is available. Two agent processes sharing a state
// file serialize their writes through this.
func flockLock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_EX)
}

// flockUnlock drops the advisory lock.
func flockUnlock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_UN)
}
