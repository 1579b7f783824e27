package client

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lattigo-labs/upstage/signing"
	"github.com/lattigo-labs/upstage/version"
)

// DefaultHTTPTimeout bounds every request the updater makes to the
// API server, so a hung connection can never wedge a check
// indefinitely.
const DefaultHTTPTimeout = 30 * time.Second

// DefaultDrainPollInterval is how often PendingRestart re-checks
// whether the critical-actions counter has drained to zero. Spec §4.7
// specifies no timeout for this wait; polling at this cadence is just
// how the wait is implemented, not a deadline.
const DefaultDrainPollInterval = 250 * time.Millisecond

// Config configures a Updater (spec §3's ClientConfig).
type Config struct {
	// AppName names the application; used only for the staging
	// directory prefix, since the wire protocol addresses versions,
	// not app names, on the client side.
	AppName string

	// CurrentVersion is the version of the running binary.
	CurrentVersion version.Version

	// APIBaseURL is the update server's base URL. It must end with
	// "/" so relative endpoint joins ("latest", "hashes/1.2.3", ...)
	// resolve as intended.
	APIBaseURL string

	// APIPublicKey verifies every signed response from the server.
	APIPublicKey signing.PublicKey

	// CheckOnStartup, if true, performs one check immediately when the
	// Updater is created, in addition to the interval schedule.
	CheckOnStartup bool

	// CheckInterval is how often to poll for updates. Zero disables
	// the interval timer; only the startup check (if enabled) will
	// ever run.
	CheckInterval time.Duration

	// HTTPClient is the transport used for requests. If nil, a client
	// with DefaultHTTPTimeout is constructed.
	HTTPClient *http.Client

	// DrainPollInterval overrides DefaultDrainPollInterval; mainly
	// useful for tests.
	DrainPollInterval time.Duration

	// Logger receives structured progress logs. A nil Logger
	// discards output.
	Logger *slog.Logger

	// Installer overrides the self-replacement strategy. If nil, the
	// default (package selfupdate) is used; tests substitute a fake to
	// exercise the full state machine, including Restarting, without
	// touching the real executable.
	Installer Installer
}

// ErrConfigInvalid is returned by New when required configuration is
// missing or malformed.
var ErrConfigInvalid = fmt.Errorf("client: invalid configuration")

func (c *Config) validate() (*url.URL, error) {
	if c.AppName == "" {
		return nil, fmt.Errorf("%w: AppName is required", ErrConfigInvalid)
	}
	if c.CurrentVersion.IsZero() {
		return nil, fmt.Errorf("%w: CurrentVersion is required", ErrConfigInvalid)
	}
	if c.APIBaseURL == "" {
		return nil, fmt.Errorf("%w: APIBaseURL is required", ErrConfigInvalid)
	}
	if !strings.HasSuffix(c.APIBaseURL, "/") {
		return nil, fmt.Errorf("%w: APIBaseURL must end with '/'", ErrConfigInvalid)
	}
	base, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: APIBaseURL is not a valid URL: %v", ErrConfigInvalid, err)
	}
	if c.APIPublicKey == (signing.PublicKey{}) {
		return nil, fmt.Errorf("%w: APIPublicKey is required", ErrConfigInvalid)
	}
	return base, nil
}
