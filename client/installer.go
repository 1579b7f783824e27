package client

import (
	"github.com/lattigo-labs/upstage/selfupdate"
)

// Installer performs the self-replacement steps of spec §4.6. The
// default implementation delegates to package selfupdate; Config.Installer
// lets tests substitute a fake so the full state machine — including
// the terminal Restarting transition — can be exercised without ever
// touching the real test binary or calling exec.
type Installer interface {
	CurrentExecutable() (string, error)
	MakeExecutable(path string) error
	Replace(stagingPath, targetPath string) error
	Reexec(path string, argv []string, env []string) error
}

type defaultInstaller struct{}

func (defaultInstaller) CurrentExecutable() (string, error) { return selfupdate.CurrentExecutable() }
func (defaultInstaller) MakeExecutable(path string) error    { return selfupdate.MakeExecutable(path) }
func (defaultInstaller) Replace(stagingPath, targetPath string) error {
	return selfupdate.Replace(stagingPath, targetPath)
}
func (defaultInstaller) Reexec(path string, argv []string, env []string) error {
	return selfupdate.Reexec(path, argv, env)
}

var _ Installer = defaultInstaller{}
