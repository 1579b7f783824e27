//go:build unix

package selfupdate

import (
	"syscall"
)

// Reexec replaces the current process image with path, argv, and env
// via execve. On success this call never returns — the calling
// process ceases to exist as such and becomes the new binary. It only
// returns when the exec itself fails, in which case the on-disk binary
// at path is unaffected (the swap already happened via Replace; only
// the process image transition failed).
func Reexec(path string, argv []string, env []string) error {
	if err := syscall.Exec(path, argv, env); err != nil {
		return &InstallError{Kind: ReexecFailed, Cause: err}
	}
	return nil // unreachable on success
}
