// Package client implements the Updater loop (spec §4.7): a
// timer-driven check → decide → download → verify → stage →
// wait-for-quiescence → swap → restart state machine, wired to the
// signing, catalogue-shaped hash responses, verification pipeline, and
// self-replacement packages. It is the client half of the auto-update
// library; package server is the authoritative counterpart.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/lattigo-labs/upstage/catalogue"
	"github.com/lattigo-labs/upstage/signing"
	"github.com/lattigo-labs/upstage/status"
	"github.com/lattigo-labs/upstage/verify"
	"github.com/lattigo-labs/upstage/version"
)

// Updater polls an update server on a schedule, and on finding a newer
// signed release, downloads, verifies, and installs it before
// re-executing the current process. Exactly one update attempt is ever
// in flight at a time (spec §5's single-logical-task model); the
// server side this talks to is expected to be request-parallel and
// stateless, so no coordination is needed there.
type Updater struct {
	cfg        Config
	apiBase    *url.URL
	httpClient *http.Client

	tracker   *status.Tracker
	pipeline  *verify.Pipeline
	installer Installer

	drainPollInterval time.Duration
	logger            *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

// New creates an Updater from cfg and immediately begins its check
// schedule: a startup check if configured, and a recurring check every
// CheckInterval thereafter. Call Close to stop it.
func New(cfg Config) (*Updater, error) {
	base, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	drainPoll := cfg.DrainPollInterval
	if drainPoll <= 0 {
		drainPoll = DefaultDrainPollInterval
	}

	pipeline, err := verify.NewPipeline(cfg.AppName)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	installer := cfg.Installer
	if installer == nil {
		installer = defaultInstaller{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	u := &Updater{
		cfg:               cfg,
		apiBase:           base,
		httpClient:        httpClient,
		tracker:           status.NewTracker(),
		pipeline:          pipeline,
		installer:         installer,
		drainPollInterval: drainPoll,
		logger:            logger,
		cancel:            cancel,
		done:              make(chan struct{}),
	}

	go u.run(ctx)
	return u, nil
}

// Status returns the current update status.
func (u *Updater) Status() status.Status {
	return u.tracker.Status()
}

// Subscribe returns a new receiver of status transitions.
func (u *Updater) Subscribe() *status.Subscription {
	return u.tracker.Subscribe()
}

// RegisterAction admits a new critical action, if the current status
// permits it. See status.Tracker.RegisterAction.
func (u *Updater) RegisterAction() (status.Handle, error) {
	return u.tracker.RegisterAction()
}

// DeregisterAction releases a previously admitted critical action.
func (u *Updater) DeregisterAction(h status.Handle) {
	u.tracker.DeregisterAction(h)
}

// IsSafeToUpdate reports whether the critical-actions counter has
// drained to zero.
func (u *Updater) IsSafeToUpdate() bool {
	return u.tracker.IsSafeToUpdate()
}

// Close cancels any in-flight check, stops the timer, and removes the
// pipeline's staging directory. It is the idiomatic-Go analogue of the
// original implementation's Drop: dropping the updater handle cancels
// the current task and cleans up (spec §4.7). Close blocks until the
// background loop has observed cancellation.
func (u *Updater) Close() error {
	var err error
	u.closeOnce.Do(func() {
		u.cancel()
		<-u.done
		u.tracker.Close()
		err = u.pipeline.Close()
	})
	return err
}

// run is the single-logical-task event loop: a timer producer plus a
// cooperative state machine that only ever has one attempt in flight.
func (u *Updater) run(ctx context.Context) {
	defer close(u.done)

	if u.cfg.CheckOnStartup {
		u.attempt(ctx)
	}

	if u.cfg.CheckInterval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(u.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A fire is skipped, not queued, if a check is already in
			// flight or an update is mid-flight (spec §4.7's periodic
			// schedule).
			if u.tracker.Status().Kind != status.Idle {
				continue
			}
			u.attempt(ctx)
			// Discard a tick that fired while the attempt ran, so it is
			// skipped rather than run as soon as the attempt returns.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// attempt runs one full Checking → ... → Restarting|Idle|Error cycle.
func (u *Updater) attempt(ctx context.Context) {
	newer, ok := u.check(ctx)
	if !ok {
		return
	}

	stagingPath, ok := u.download(ctx, newer)
	if !ok {
		return
	}

	u.install(ctx, stagingPath)
}

// check implements spec §4.7's Checking protocol.
func (u *Updater) check(ctx context.Context) (version.Version, bool) {
	u.tracker.Set(status.New(status.Checking))
	u.logger.Info("checking for updates")

	resp, sig, err := u.fetchLatestVersion(ctx)
	if err != nil {
		u.failNetwork(err)
		return version.Version{}, false
	}
	if !signing.Verify(u.cfg.APIPublicKey, []byte(resp.Version.String()), sig) {
		u.fail(status.SignatureInvalid, &UpdaterError{Kind: FailedSignatureVerification, URL: u.apiBase.String()})
		return version.Version{}, false
	}

	if !resp.Version.GreaterThan(u.cfg.CurrentVersion) {
		u.logger.Info("already up to date", "current", u.cfg.CurrentVersion.String())
		u.tracker.Set(status.New(status.Idle))
		return version.Version{}, false
	}

	u.logger.Info("update available", "version", resp.Version.String())
	u.tracker.Set(status.NewUpdateAvailable(resp.Version))
	return resp.Version, true
}

// download implements spec §4.7's Downloading protocol.
func (u *Updater) download(ctx context.Context, newer version.Version) (string, bool) {
	u.tracker.Set(status.NewDownloading(0, -1))

	hashResp, hashSig, err := u.fetchHash(ctx, newer)
	if err != nil {
		u.failNetwork(err)
		return "", false
	}
	hash, err := catalogue.ParseHash(hashResp.Hash)
	if err != nil {
		u.fail(status.Network, &UpdaterError{Kind: InvalidPayload, URL: u.apiBase.String(), Cause: err})
		return "", false
	}
	if !signing.Verify(u.cfg.APIPublicKey, hash[:], hashSig) {
		u.fail(status.SignatureInvalid, &UpdaterError{Kind: FailedSignatureVerification, URL: u.apiBase.String()})
		return "", false
	}

	release, err := u.fetchRelease(ctx, newer)
	if err != nil {
		u.failNetwork(err)
		return "", false
	}
	defer release.Body.Close()

	stagingPath, err := u.pipeline.Verify(ctx, release.Body, hash, hashSig, u.cfg.APIPublicKey, release.ContentLength,
		func(have, total int64) {
			u.tracker.Set(status.NewDownloading(have, total))
		})
	if err != nil {
		switch {
		case err == verify.ErrCancelled:
			u.fail(status.Cancelled, err)
		case err == verify.ErrSignatureInvalid:
			u.fail(status.SignatureInvalid, err)
		case err == verify.ErrHashMismatch:
			u.logger.Error("downloaded release failed hash verification", "version", newer.String())
			u.fail(status.HashMismatch, err)
		default:
			u.fail(status.Network, err)
		}
		return "", false
	}

	return stagingPath, true
}

// install implements spec §4.7's Installing and PendingRestart states,
// then hands off to package selfupdate for the actual swap and re-exec.
func (u *Updater) install(ctx context.Context, stagingPath string) {
	u.tracker.Set(status.New(status.Installing))

	currentExe, err := u.installer.CurrentExecutable()
	if err != nil {
		u.fail(status.CannotLocateExecutable, err)
		return
	}
	if err := u.installer.MakeExecutable(stagingPath); err != nil {
		u.fail(status.InstallFailed, err)
		return
	}

	u.tracker.Set(status.New(status.PendingRestart))

	if !u.waitForDrain(ctx) {
		u.fail(status.Cancelled, verify.ErrCancelled)
		return
	}

	u.tracker.Set(status.New(status.Restarting))
	u.logger.Info("draining complete, restarting into new version")

	if err := u.installer.Replace(stagingPath, currentExe); err != nil {
		// Restarting has already been broadcast as terminal per spec
		// §4.6's ordering requirement; there is no further status
		// transition to make. This is logged, not silently dropped.
		u.logger.Error("failed to install update after announcing restart", "error", err)
		return
	}

	if err := u.installer.Reexec(currentExe, os.Args, os.Environ()); err != nil {
		u.logger.Error("update installed but re-exec failed; process must be restarted manually", "error", err)
	}
	// On platforms where Reexec replaces the process image (unix),
	// execution never reaches here on success.
}

// waitForDrain blocks until the critical-actions counter reaches zero,
// or ctx is cancelled. There is no timeout: application authors
// control how long critical actions run (spec §4.7).
func (u *Updater) waitForDrain(ctx context.Context) bool {
	if u.tracker.IsSafeToUpdate() {
		return true
	}
	ticker := time.NewTicker(u.drainPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if u.tracker.IsSafeToUpdate() {
				return true
			}
		}
	}
}

func (u *Updater) failNetwork(err error) {
	u.fail(status.Network, err)
}

func (u *Updater) fail(kind status.ErrorKind, err error) {
	u.logger.Error("update attempt failed", "kind", kind.String(), "error", err)
	u.tracker.Set(status.NewError(kind, err))
	u.tracker.Set(status.New(status.Idle))
}
