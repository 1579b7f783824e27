package client_test

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattigo-labs/upstage/catalogue"
	"github.com/lattigo-labs/upstage/client"
	"github.com/lattigo-labs/upstage/httpapi"
	"github.com/lattigo-labs/upstage/server"
	"github.com/lattigo-labs/upstage/signing"
	"github.com/lattigo-labs/upstage/status"
	"github.com/lattigo-labs/upstage/version"
)

// newCatalogueServer builds a real signed update server (package server +
// package httpapi, exactly as a deployment would wire them) over the given
// version -> release body map, so the Updater tests below exercise the
// wire protocol end to end rather than a mock.
func newCatalogueServer(t *testing.T, releases map[string][]byte) (*httptest.Server, signing.PublicKey) {
	t.Helper()
	dir := t.TempDir()
	versions := make(map[string]catalogue.Hash, len(releases))
	for v, content := range releases {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "app-"+v), content, 0o644))
		versions[v] = catalogue.Hash(sha256.Sum256(content))
	}

	priv, pub, err := signing.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	core, err := server.New(server.Config{
		AppName:     "app",
		ReleasesDir: dir,
		Versions:    versions,
		PrivateKey:  priv,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	httpapi.NewHandler(core, nil).Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, pub
}

// fakeInstaller stands in for package selfupdate so tests can drive the
// Updater's state machine all the way through Restarting without ever
// touching the real test binary or calling exec.
type fakeInstaller struct {
	currentExe string
	replaceErr error

	mu             sync.Mutex
	makeExecutable []string
	replaceCalls   []replaceCall
	reexecCalls    []string
}

type replaceCall struct {
	staging string
	target  string
}

func (f *fakeInstaller) CurrentExecutable() (string, error) { return f.currentExe, nil }

func (f *fakeInstaller) MakeExecutable(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.makeExecutable = append(f.makeExecutable, path)
	return nil
}

func (f *fakeInstaller) Replace(stagingPath, targetPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceCalls = append(f.replaceCalls, replaceCall{staging: stagingPath, target: targetPath})
	return f.replaceErr
}

func (f *fakeInstaller) Reexec(path string, argv, env []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reexecCalls = append(f.reexecCalls, path)
	return nil
}

func (f *fakeInstaller) replays() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replaceCalls), len(f.reexecCalls)
}

var _ client.Installer = (*fakeInstaller)(nil)

// tamperTransport wraps a round tripper and rewrites the response body for
// requests whose path contains pathSuffix, simulating a compromised or
// buggy relay sitting between the client and a legitimate server. The
// server's signature is left untouched, so these tests assert that the
// updater's own verification — not the transport — is what catches the
// tampering.
type tamperTransport struct {
	inner      http.RoundTripper
	pathSuffix string
	tamper     func([]byte) []byte
}

func (t *tamperTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.inner.RoundTrip(req)
	if err != nil || !strings.Contains(req.URL.Path, t.pathSuffix) {
		return resp, err
	}
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return resp, readErr
	}
	tampered := t.tamper(body)
	resp.Body = io.NopCloser(bytes.NewReader(tampered))
	resp.ContentLength = int64(len(tampered))
	resp.Header.Set("Content-Length", strconv.Itoa(len(tampered)))
	return resp, nil
}

// flipHexNibble changes one hex digit of s to a different valid digit,
// preserving length — enough to invalidate a hash without corrupting the
// JSON structure around it.
func flipHexNibble(s string) string {
	digits := []byte(s)
	for i, d := range digits {
		if d != '0' {
			digits[i] = '0'
			return string(digits)
		}
		digits[i] = '1'
		return string(digits)
	}
	return s
}

// readDistinctKinds collects status kinds until n distinct consecutive
// kinds have been seen, collapsing repeats (e.g. successive Downloading
// progress ticks) as it goes. Progress reporting granularity is not part
// of the state-machine contract these tests check.
func readDistinctKinds(t *testing.T, sub *status.Subscription, n int) []status.Kind {
	t.Helper()
	return kindsOf(readDistinctStatuses(t, sub, n))
}

// readDistinctStatuses is readDistinctKinds, but returns the first status
// of each run of equal kinds, so callers can inspect e.g. ErrKind.
func readDistinctStatuses(t *testing.T, sub *status.Subscription, n int) []status.Status {
	t.Helper()
	out := make([]status.Status, 0, n)
	for len(out) < n {
		select {
		case s, ok := <-sub.C():
			if !ok {
				t.Fatalf("status channel closed after %d of %d expected distinct statuses", len(out), n)
			}
			if len(out) == 0 || out[len(out)-1].Kind != s.Kind {
				out = append(out, s)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for distinct status %d/%d", len(out)+1, n)
		}
	}
	return out
}

func kindsOf(statuses []status.Status) []status.Kind {
	out := make([]status.Kind, len(statuses))
	for i, s := range statuses {
		out[i] = s.Kind
	}
	return out
}

func collapseRepeats(in []status.Kind) []status.Kind {
	out := make([]status.Kind, 0, len(in))
	for _, k := range in {
		if len(out) == 0 || out[len(out)-1] != k {
			out = append(out, k)
		}
	}
	return out
}

// Scenario A (happy path): a newer signed release is discovered,
// downloaded, verified, and installed, ending in Restarting with the
// staged file handed to the installer unmodified.
func TestFullUpdateCycleAppliesNewerRelease(t *testing.T) {
	srv, pub := newCatalogueServer(t, map[string][]byte{
		"1.0.0": []byte("old release body"),
		"2.0.0": []byte("new release body"),
	})

	installer := &fakeInstaller{currentExe: filepath.Join(t.TempDir(), "app-current")}
	u, err := client.New(client.Config{
		AppName:           "app",
		CurrentVersion:    version.MustParse("1.0.0"),
		APIBaseURL:        srv.URL + "/",
		APIPublicKey:      pub,
		CheckOnStartup:    true,
		DrainPollInterval: 10 * time.Millisecond,
		Installer:         installer,
	})
	require.NoError(t, err)
	defer u.Close()

	sub := u.Subscribe()
	defer sub.Unsubscribe()

	var seen []status.Kind
	for s := range sub.C() {
		seen = append(seen, s.Kind)
	}

	wantKinds := []status.Kind{
		status.Checking,
		status.UpdateAvailable,
		status.Downloading,
		status.Installing,
		status.PendingRestart,
		status.Restarting,
	}
	assert.Equal(t, wantKinds, collapseRepeats(seen))

	replaces, reexecs := installer.replays()
	require.Equal(t, 1, replaces)
	require.Equal(t, 1, reexecs)

	staged, err := os.ReadFile(installer.replaceCalls[0].staging)
	require.NoError(t, err)
	assert.Equal(t, "new release body", string(staged))
	assert.Equal(t, installer.currentExe, installer.replaceCalls[0].target)
}

// Scenario B: the client is already at the latest version, so the cycle
// ends at Idle without ever touching the installer.
func TestNoUpdateWhenAlreadyLatest(t *testing.T) {
	srv, pub := newCatalogueServer(t, map[string][]byte{"1.0.0": []byte("body")})

	installer := &fakeInstaller{currentExe: "unused"}
	u, err := client.New(client.Config{
		AppName:        "app",
		CurrentVersion: version.MustParse("1.0.0"),
		APIBaseURL:     srv.URL + "/",
		APIPublicKey:   pub,
		CheckOnStartup: true,
		Installer:      installer,
	})
	require.NoError(t, err)
	defer u.Close()

	sub := u.Subscribe()
	defer sub.Unsubscribe()

	assert.Equal(t, []status.Kind{status.Checking, status.Idle}, readDistinctKinds(t, sub, 2))

	replaces, _ := installer.replays()
	assert.Zero(t, replaces)
}

// Scenario C: the hash response is tampered in transit. The signature was
// computed over the original hash, so verification fails and the cycle
// ends in a SignatureInvalid error, never touching the installer.
func TestTamperedHashResponseIsRejected(t *testing.T) {
	srv, pub := newCatalogueServer(t, map[string][]byte{
		"1.0.0": []byte("old"),
		"2.0.0": []byte("new release body"),
	})

	transport := &tamperTransport{
		inner:      http.DefaultTransport,
		pathSuffix: "/hashes/",
		tamper: func(body []byte) []byte {
			var payload map[string]any
			if err := json.Unmarshal(body, &payload); err != nil {
				return body
			}
			hash, _ := payload["hash"].(string)
			payload["hash"] = flipHexNibble(hash)
			out, err := json.Marshal(payload)
			if err != nil {
				return body
			}
			return out
		},
	}

	installer := &fakeInstaller{currentExe: "unused"}
	u, err := client.New(client.Config{
		AppName:        "app",
		CurrentVersion: version.MustParse("1.0.0"),
		APIBaseURL:     srv.URL + "/",
		APIPublicKey:   pub,
		CheckOnStartup: true,
		Installer:      installer,
		HTTPClient:     &http.Client{Transport: transport},
	})
	require.NoError(t, err)
	defer u.Close()

	sub := u.Subscribe()
	defer sub.Unsubscribe()

	statuses := readDistinctStatuses(t, sub, 5)
	assert.Equal(t, []status.Kind{
		status.Checking,
		status.UpdateAvailable,
		status.Downloading,
		status.Error,
		status.Idle,
	}, kindsOf(statuses))
	assert.Equal(t, status.SignatureInvalid, statuses[3].ErrKind)

	replaces, _ := installer.replays()
	assert.Zero(t, replaces)
}

// Scenario D: the release body is tampered in transit while its signed
// hash is left alone. The streamed content no longer matches the
// advertised hash, so verification fails with a hash mismatch rather than
// a signature failure.
func TestTamperedReleaseBodyCausesHashMismatch(t *testing.T) {
	srv, pub := newCatalogueServer(t, map[string][]byte{
		"1.0.0": []byte("old"),
		"2.0.0": []byte("new release body"),
	})

	transport := &tamperTransport{
		inner:      http.DefaultTransport,
		pathSuffix: "/releases/",
		tamper: func(body []byte) []byte {
			if len(body) == 0 {
				return body
			}
			mutated := append([]byte(nil), body...)
			mutated[0] ^= 0xFF
			return mutated
		},
	}

	installer := &fakeInstaller{currentExe: "unused"}
	u, err := client.New(client.Config{
		AppName:        "app",
		CurrentVersion: version.MustParse("1.0.0"),
		APIBaseURL:     srv.URL + "/",
		APIPublicKey:   pub,
		CheckOnStartup: true,
		Installer:      installer,
		HTTPClient:     &http.Client{Transport: transport},
	})
	require.NoError(t, err)
	defer u.Close()

	sub := u.Subscribe()
	defer sub.Unsubscribe()

	statuses := readDistinctStatuses(t, sub, 5)
	assert.Equal(t, []status.Kind{
		status.Checking,
		status.UpdateAvailable,
		status.Downloading,
		status.Error,
		status.Idle,
	}, kindsOf(statuses))
	assert.Equal(t, status.HashMismatch, statuses[3].ErrKind)

	replaces, _ := installer.replays()
	assert.Zero(t, replaces)
}

// Scenario E: two critical actions are in flight when PendingRestart is
// reached. The updater must hold at PendingRestart until both are
// deregistered, and must refuse any further RegisterAction calls in the
// meantime.
func TestDrainBlocksRestartUntilActionsClear(t *testing.T) {
	srv, pub := newCatalogueServer(t, map[string][]byte{
		"1.0.0": []byte("old"),
		"2.0.0": []byte("new"),
	})

	installer := &fakeInstaller{currentExe: filepath.Join(t.TempDir(), "app-current")}
	u, err := client.New(client.Config{
		AppName:           "app",
		CurrentVersion:    version.MustParse("1.0.0"),
		APIBaseURL:        srv.URL + "/",
		APIPublicKey:      pub,
		CheckOnStartup:    false,
		CheckInterval:     50 * time.Millisecond,
		DrainPollInterval: 10 * time.Millisecond,
		Installer:         installer,
	})
	require.NoError(t, err)
	defer u.Close()

	h1, err := u.RegisterAction()
	require.NoError(t, err)
	h2, err := u.RegisterAction()
	require.NoError(t, err)

	sub := u.Subscribe()
	defer sub.Unsubscribe()

	kinds := readDistinctKinds(t, sub, 4)
	require.Equal(t, []status.Kind{
		status.Checking,
		status.UpdateAvailable,
		status.Downloading,
		status.Installing,
	}, kinds)
	require.Equal(t, status.PendingRestart, readDistinctKinds(t, sub, 1)[0])

	_, err = u.RegisterAction()
	assert.ErrorIs(t, err, status.ErrActionsDenied)

	for i := 0; i < 5; i++ {
		time.Sleep(15 * time.Millisecond)
		assert.Equal(t, status.PendingRestart, u.Status().Kind, "restart must wait for the drain to clear")
	}

	u.DeregisterAction(h1)
	assert.Equal(t, status.PendingRestart, u.Status().Kind, "one outstanding action still blocks the restart")

	u.DeregisterAction(h2)

	select {
	case s, ok := <-sub.C():
		require.True(t, ok)
		assert.Equal(t, status.Restarting, s.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for restart after drain cleared")
	}

	replaces, _ := installer.replays()
	assert.Equal(t, 1, replaces)
}
