// Package selfupdate implements the client's self-replacement protocol
// (spec §4.6): locating the running executable, making a verified
// staging file executable, atomically swapping it onto the running
// binary's path, and re-executing it. It never falls back to a
// different strategy when the atomic swap isn't possible on the host
// platform — spec §9 is explicit that this is deferred to the
// application author, not guessed at here.
package selfupdate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// InstallErrorKind discriminates why self-replacement failed, so
// callers can distinguish "the executable couldn't be found" from "the
// OS refused to overwrite a running binary" without string-matching
// error text.
type InstallErrorKind int

const (
	// CannotLocateExecutable means the running process's own
	// executable path could not be resolved.
	CannotLocateExecutable InstallErrorKind = iota
	// PermissionDenied means the staging file could not be made
	// executable, or the target path could not be written to.
	PermissionDenied
	// AtomicSwapUnsupported means the platform would not allow an
	// atomic rename onto the running executable (e.g. a file lock held
	// by the OS on the currently-executing image). No fallback is
	// attempted; the on-disk binary is left exactly as it was.
	AtomicSwapUnsupported
	// ReexecFailed means the swap succeeded but the new process image
	// could not be started.
	ReexecFailed
)

// InstallError reports a failed self-replacement attempt. On every
// InstallError except ReexecFailed, the on-disk binary at the target
// path is unchanged from before the attempt began (spec §4.6, step 5);
// ReexecFailed is only returned after Replace has already swapped it.
type InstallError struct {
	Kind  InstallErrorKind
	Cause error
}

func (e *InstallError) Error() string {
	switch e.Kind {
	case CannotLocateExecutable:
		return fmt.Sprintf("cannot locate the running executable: %v", e.Cause)
	case PermissionDenied:
		return fmt.Sprintf("insufficient permission to install update: %v", e.Cause)
	case AtomicSwapUnsupported:
		return fmt.Sprintf("cannot atomically replace the running executable on this platform: %v", e.Cause)
	case ReexecFailed:
		return fmt.Sprintf("update installed but re-exec failed: %v", e.Cause)
	default:
		return fmt.Sprintf("install failed: %v", e.Cause)
	}
}

func (e *InstallError) Unwrap() error { return e.Cause }

// CurrentExecutable resolves the absolute path of the running
// process's own executable. Failure here is fatal to an update
// attempt: without it, self-replacement has nothing to target.
func CurrentExecutable() (string, error) {
	path, err := os.Executable()
	if err != nil {
		return "", &InstallError{Kind: CannotLocateExecutable, Cause: err}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &InstallError{Kind: CannotLocateExecutable, Cause: err}
	}
	// os.Executable can return a path through a symlink; resolve it so
	// the atomic rename lands on the real file the OS is running.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Not being able to resolve symlinks isn't fatal on its own;
		// fall back to the absolute path as reported.
		return abs, nil
	}
	return resolved, nil
}

// MakeExecutable sets the owner-executable bit (at minimum) on the
// staging file, preserving its existing read/write bits.
func MakeExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &InstallError{Kind: PermissionDenied, Cause: err}
	}
	mode := info.Mode() | 0o700
	if err := os.Chmod(path, mode); err != nil {
		return &InstallError{Kind: PermissionDenied, Cause: err}
	}
	return nil
}

// Replace atomically renames stagingPath onto targetPath. If the
// rename fails, Replace returns a PermissionDenied InstallError when
// the error is a permission error (os.ErrPermission), and an
// AtomicSwapUnsupported InstallError otherwise; per spec §4.6 there is
// deliberately no fallback (e.g. copy-then-delete), since that would
// no longer be atomic and could leave a partially-written binary in
// place of a running process's image.
//
// Replace must only be called after the drain barrier has closed
// (counter == 0, actions locked) and the caller's status has already
// transitioned to Restarting (spec §4.6's ordering requirement).
func Replace(stagingPath, targetPath string) error {
	if err := os.Rename(stagingPath, targetPath); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return &InstallError{Kind: PermissionDenied, Cause: err}
		}
		return &InstallError{Kind: AtomicSwapUnsupported, Cause: err}
	}
	return nil
}
