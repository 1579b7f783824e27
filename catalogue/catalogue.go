// Package catalogue implements the server's release catalogue (spec
// §4.2): the read-only, startup-validated mapping from a Version to
// its release file and SHA-256 hash. It never mutates after
// construction — there is deliberately no Add/Remove.
package catalogue

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lattigo-labs/upstage/version"
)

// Hash is the 32-byte SHA-256 digest of a release file, taken over the
// entire file content.
type Hash [sha256.Size]byte

// String renders h as lowercase hex, its wire and log form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash decodes a lowercase-hex-encoded SHA-256 hash.
func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decode hash hex: %w", err)
	}
	if len(b) != sha256.Size {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", sha256.Size, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// ReleaseError reports a problem with a configured release file,
// discovered during startup validation.
type ReleaseError struct {
	Kind    ReleaseErrorKind
	Version version.Version
	Path    string
	Cause   error
}

// ReleaseErrorKind discriminates the ways a release file can fail
// startup validation.
type ReleaseErrorKind int

const (
	// Missing means the release file does not exist or is not a
	// regular file.
	Missing ReleaseErrorKind = iota
	// Unreadable means the release file exists but could not be read.
	Unreadable
	// Invalid means the release file's SHA-256 does not match the
	// configured hash.
	Invalid
)

func (e *ReleaseError) Error() string {
	switch e.Kind {
	case Missing:
		return fmt.Sprintf("release file for version %s is missing: %s", e.Version, e.Path)
	case Unreadable:
		return fmt.Sprintf("release file for version %s cannot be read: %s: %v", e.Version, e.Path, e.Cause)
	case Invalid:
		return fmt.Sprintf("release file for version %s failed hash verification: %s", e.Version, e.Path)
	default:
		return fmt.Sprintf("release file for version %s is invalid: %s", e.Version, e.Path)
	}
}

func (e *ReleaseError) Unwrap() error {
	return e.Cause
}

// ErrCatalogueEmpty is returned by Latest when the catalogue holds no
// releases.
var ErrCatalogueEmpty = fmt.Errorf("release catalogue is empty")

// ErrUnknownVersion is returned by HashFor and OpenStream when the
// requested version is not in the catalogue.
var ErrUnknownVersion = fmt.Errorf("unknown version")

// ReleaseEntry is one (Version, file path, Hash) triple in the
// catalogue.
type ReleaseEntry struct {
	Version version.Version
	Path    string
	Hash    Hash
}

// Config configures catalogue construction (spec §3's ServerConfig,
// minus the private key and stream threshold, which belong to the
// server package that composes this catalogue with signing).
type Config struct {
	// AppName is used to build each release file's name:
	// "{appname}-{version}".
	AppName string
	// ReleasesDir is the directory containing the release files.
	ReleasesDir string
	// Versions maps each advertised version to its expected SHA-256
	// hash.
	Versions map[string]Hash
	// Logger receives startup validation progress. A nil Logger
	// discards output.
	Logger *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return discardLogger
	}
	return c.Logger
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Catalogue is the immutable, descending-by-version-ordered sequence
// of release entries. It is safe for concurrent use by any number of
// readers; there is no mutation after New returns successfully.
type Catalogue struct {
	// entries is sorted descending by Version; entries[0] is latest.
	entries []ReleaseEntry
	byVersion map[string]*ReleaseEntry
}

// New validates every configured release file against its expected
// hash and builds the catalogue. Validation reads every file in full;
// entries are hashed concurrently, but New does not return success
// until all of them have been verified (spec §4.2).
//
// New returns *ReleaseError (Missing, Unreadable, or Invalid) for the
// first release file it fails to validate; the underlying goroutines
// report the failures they observe and New takes the first one
// encountered. An empty AppName or a configured version string that is
// not valid semver is reported as a plain error, not a *ReleaseError.
func New(cfg Config) (*Catalogue, error) {
	if cfg.AppName == "" {
		return nil, fmt.Errorf("catalogue: appname must not be empty")
	}

	type result struct {
		entry ReleaseEntry
		err   error
	}

	results := make(chan result, len(cfg.Versions))
	var wg sync.WaitGroup
	for versionStr, expectedHash := range cfg.Versions {
		wg.Add(1)
		go func(versionStr string, expectedHash Hash) {
			defer wg.Done()
			entry, err := validateEntry(cfg, versionStr, expectedHash)
			results <- result{entry: entry, err: err}
		}(versionStr, expectedHash)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	entries := make([]ReleaseEntry, 0, len(cfg.Versions))
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		entries = append(entries, r.entry)
	}
	if firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Version.Compare(entries[j].Version) > 0
	})

	byVersion := make(map[string]*ReleaseEntry, len(entries))
	for i := range entries {
		byVersion[entries[i].Version.String()] = &entries[i]
	}

	cfg.logger().Info("release catalogue validated", "releases", len(entries), "appname", cfg.AppName)

	return &Catalogue{entries: entries, byVersion: byVersion}, nil
}

func validateEntry(cfg Config, versionStr string, expectedHash Hash) (ReleaseEntry, error) {
	v, err := version.Parse(versionStr)
	if err != nil {
		return ReleaseEntry{}, fmt.Errorf("catalogue: invalid version %q: %w", versionStr, err)
	}
	path := filepath.Join(cfg.ReleasesDir, fmt.Sprintf("%s-%s", cfg.AppName, v.String()))

	info, statErr := os.Stat(path)
	if statErr != nil || !info.Mode().IsRegular() {
		return ReleaseEntry{}, &ReleaseError{Kind: Missing, Version: v, Path: path, Cause: statErr}
	}

	file, err := os.Open(path)
	if err != nil {
		return ReleaseEntry{}, &ReleaseError{Kind: Unreadable, Version: v, Path: path, Cause: err}
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return ReleaseEntry{}, &ReleaseError{Kind: Unreadable, Version: v, Path: path, Cause: err}
	}
	var actual Hash
	copy(actual[:], hasher.Sum(nil))
	if actual != expectedHash {
		return ReleaseEntry{}, &ReleaseError{Kind: Invalid, Version: v, Path: path}
	}

	cfg.logger().Debug("release file validated", "version", v.String(), "path", path)
	return ReleaseEntry{Version: v, Path: path, Hash: actual}, nil
}

// Latest returns the highest-precedence version in the catalogue.
// ErrCatalogueEmpty is returned when there are no releases.
func (c *Catalogue) Latest() (version.Version, error) {
	if len(c.entries) == 0 {
		return version.Version{}, ErrCatalogueEmpty
	}
	return c.entries[0].Version, nil
}

// HashFor returns the SHA-256 hash configured for v. ErrUnknownVersion
// is returned if v is not present in the catalogue.
func (c *Catalogue) HashFor(v version.Version) (Hash, error) {
	entry, ok := c.byVersion[v.String()]
	if !ok {
		return Hash{}, ErrUnknownVersion
	}
	return entry.Hash, nil
}

// OpenStream returns a read handle onto the release file for v. The
// catalogue never caches file contents; each call opens an independent
// handle, so concurrent reads of the same version are safe. Callers
// must Close the returned ReadCloser.
func (c *Catalogue) OpenStream(v version.Version) (io.ReadCloser, error) {
	entry, ok := c.byVersion[v.String()]
	if !ok {
		return nil, ErrUnknownVersion
	}
	f, err := os.Open(entry.Path)
	if err != nil {
		return nil, fmt.Errorf("open release file for %s: %w", v, err)
	}
	return f, nil
}

// Size returns the size in bytes of the release file for v, without
// reading it, so callers can decide between the streaming policy of
// spec §4.3.
func (c *Catalogue) Size(v version.Version) (int64, error) {
	entry, ok := c.byVersion[v.String()]
	if !ok {
		return 0, ErrUnknownVersion
	}
	info, err := os.Stat(entry.Path)
	if err != nil {
		return 0, fmt.Errorf("stat release file for %s: %w", v, err)
	}
	return info.Size(), nil
}

// Entries returns a copy of the catalogue's entries, descending by
// version. The returned slice is safe to mutate; it does not alias
// catalogue-owned state.
func (c *Catalogue) Entries() []ReleaseEntry {
	out := make([]ReleaseEntry, len(c.entries))
	copy(out, c.entries)
	return out
}
