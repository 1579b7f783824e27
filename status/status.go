// Package status implements the update state machine's data model
// (spec §4.4): the Status tagged union, a broadcast Bus that fans
// status transitions out to any number of subscribers, and the
// critical-actions counter that gates the drain barrier before restart.
package status

import (
	"fmt"

	"github.com/lattigo-labs/upstage/version"
)

// Kind discriminates the states of Status.
type Kind int

const (
	Idle Kind = iota
	Checking
	UpdateAvailable
	Downloading
	Installing
	PendingRestart
	Restarting
	Error
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Checking:
		return "checking"
	case UpdateAvailable:
		return "update_available"
	case Downloading:
		return "downloading"
	case Installing:
		return "installing"
	case PendingRestart:
		return "pending_restart"
	case Restarting:
		return "restarting"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorKind discriminates the reasons a Status can carry Kind == Error,
// matching the semantic error kinds of spec §7.
type ErrorKind int

const (
	NoError ErrorKind = iota
	CatalogueEmpty
	UnknownVersion
	FileMissing
	HashComputationFailed
	SignatureInvalid
	HashMismatch
	Network
	ConfigInvalid
	CannotLocateExecutable
	InstallFailed
	Cancelled
)

func (k ErrorKind) String() string {
	switch k {
	case CatalogueEmpty:
		return "catalogue_empty"
	case UnknownVersion:
		return "unknown_version"
	case FileMissing:
		return "file_missing"
	case HashComputationFailed:
		return "hash_computation_failed"
	case SignatureInvalid:
		return "signature_invalid"
	case HashMismatch:
		return "hash_mismatch"
	case Network:
		return "network"
	case ConfigInvalid:
		return "config_invalid"
	case CannotLocateExecutable:
		return "cannot_locate_executable"
	case InstallFailed:
		return "install_failed"
	case Cancelled:
		return "cancelled"
	default:
		return "none"
	}
}

// Status is the tagged-variant state of a single update attempt (spec
// §3). Only the fields relevant to Kind are meaningful. The
// constructors below leave Version and Have zero and set Total to -1
// for kinds that don't use them.
type Status struct {
	Kind Kind

	// Version is set for UpdateAvailable: the version discovered to be
	// newer than the running one.
	Version version.Version

	// Have and Total describe Downloading progress. Total is -1 when
	// the content length is unknown (spec §4.5's "clients tolerate
	// None").
	Have  int64
	Total int64

	// ErrKind and Err are set for Kind == Error.
	ErrKind ErrorKind
	Err     error
}

// String renders a Status for logging.
func (s Status) String() string {
	switch s.Kind {
	case UpdateAvailable:
		return fmt.Sprintf("update_available(%s)", s.Version)
	case Downloading:
		if s.Total < 0 {
			return fmt.Sprintf("downloading(%d/?)", s.Have)
		}
		return fmt.Sprintf("downloading(%d/%d)", s.Have, s.Total)
	case Error:
		return fmt.Sprintf("error(%s: %v)", s.ErrKind, s.Err)
	default:
		return s.Kind.String()
	}
}

func New(kind Kind) Status { return Status{Kind: kind, Total: -1} }

func NewUpdateAvailable(v version.Version) Status {
	return Status{Kind: UpdateAvailable, Version: v, Total: -1}
}

func NewDownloading(have, total int64) Status {
	return Status{Kind: Downloading, Have: have, Total: total}
}

func NewError(kind ErrorKind, err error) Status {
	return Status{Kind: Error, ErrKind: kind, Err: err, Total: -1}
}

// IsTerminal reports whether s is a terminal status for an update
// attempt: Restarting ends the process lifetime, Error ends the
// attempt. Broadcast delivery of a terminal status is guaranteed (spec
// §3's Subscriber channel invariant).
func (s Status) IsTerminal() bool {
	return s.Kind == Restarting || s.Kind == Error
}

// AdmitsActions reports whether the given status kind permits a new
// critical action to be registered (spec §4.4's admission rule):
// admitted in {Idle, Checking, UpdateAvailable, Downloading,
// Installing}, denied in {PendingRestart, Restarting, Error}.
func (k Kind) AdmitsActions() bool {
	switch k {
	case Idle, Checking, UpdateAvailable, Downloading, Installing:
		return true
	default:
		return false
	}
}
