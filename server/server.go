// Package server implements the Server Core (spec §4.3): the
// transport-agnostic composition of the release catalogue (package
// catalogue) and signing primitives (package signing) into the three
// logical queries an update server answers. It has no knowledge of
// HTTP; package httpapi is the thin external-collaborator adapter that
// routes requests onto Core's methods.
package server

import (
	"errors"
	"io"
	"log/slog"

	"github.com/lattigo-labs/upstage/catalogue"
	"github.com/lattigo-labs/upstage/signing"
	"github.com/lattigo-labs/upstage/version"
)

// DefaultStreamThresholdBytes is the size below which a release file
// may be loaded fully into memory rather than streamed in chunks (spec
// §4.3's streaming policy).
const DefaultStreamThresholdBytes = 8 << 20 // 8 MiB

// Config configures a Core (spec §3's ServerConfig).
type Config struct {
	AppName              string
	ReleasesDir          string
	Versions             map[string]catalogue.Hash
	PrivateKey           signing.PrivateKey
	StreamThresholdBytes int64
	Logger               *slog.Logger
}

// Core is the Server Core: signed answers to Latest, HashFor, and
// Release queries, backed by an immutable, startup-validated
// catalogue. It is safe for concurrent use by any number of request
// handlers.
type Core struct {
	cat        *catalogue.Catalogue
	privateKey signing.PrivateKey
	threshold  int64
	logger     *slog.Logger
}

// New validates the configured releases and constructs a Core. It
// returns the same *catalogue.ReleaseError that catalogue.New produces
// on validation failure; no HTTP adapter may observe a partially
// initialised catalogue, because a failed New never returns a *Core at
// all.
func New(cfg Config) (*Core, error) {
	cat, err := catalogue.New(catalogue.Config{
		AppName:     cfg.AppName,
		ReleasesDir: cfg.ReleasesDir,
		Versions:    cfg.Versions,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	threshold := cfg.StreamThresholdBytes
	if threshold <= 0 {
		threshold = DefaultStreamThresholdBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Core{
		cat:        cat,
		privateKey: cfg.PrivateKey,
		threshold:  threshold,
		logger:     logger,
	}, nil
}

// LatestVersionResponse is the body of the Latest query.
type LatestVersionResponse struct {
	Version version.Version `json:"version"`
}

// VersionHashResponse is the body of the HashFor query.
type VersionHashResponse struct {
	Version version.Version `json:"version"`
	Hash    string          `json:"hash"`
}

// ErrCatalogueEmpty and ErrUnknownVersion re-export the catalogue's
// sentinels so adapters can map them to logical HTTP status codes
// without importing package catalogue directly.
var (
	ErrCatalogueEmpty = catalogue.ErrCatalogueEmpty
	ErrUnknownVersion = catalogue.ErrUnknownVersion
)

// Latest answers the Latest query: the highest-precedence configured
// version, signed over its UTF-8 string form (spec §4.1's canonical
// byte-sequence rule for this response type — no JSON framing, no
// quoting).
func (c *Core) Latest() (LatestVersionResponse, signing.Signature, error) {
	v, err := c.cat.Latest()
	if err != nil {
		return LatestVersionResponse{}, signing.Signature{}, err
	}
	sig := signing.Sign(c.privateKey, []byte(v.String()))
	c.logger.Debug("served latest version query", "version", v.String())
	return LatestVersionResponse{Version: v}, sig, nil
}

// HashFor answers the HashFor query: the SHA-256 hash configured for
// v, signed over the raw 32 hash bytes.
func (c *Core) HashFor(v version.Version) (VersionHashResponse, signing.Signature, error) {
	hash, err := c.cat.HashFor(v)
	if err != nil {
		return VersionHashResponse{}, signing.Signature{}, err
	}
	sig := signing.Sign(c.privateKey, hash[:])
	return VersionHashResponse{Version: v, Hash: hash.String()}, sig, nil
}

// ReleaseStream is a release file's byte stream, its size when known,
// and the detached signature over the raw SHA-256 of its full content.
// The signature is computed from the catalogue's startup-validated
// hash, not by re-hashing the stream, which is safe only because the
// catalogue is immutable for the lifetime of the server process — the
// bytes that will be served are, by construction, exactly the bytes
// that were hashed at startup. This is what spec §4.3 means by "the
// server MUST NOT precompute a signature and serve a different body":
// precomputing is fine as long as it can never diverge from what's
// served, which immutability guarantees here.
type ReleaseStream struct {
	Body      io.ReadCloser
	Size      int64
	Signature signing.Signature
}

// OpenRelease answers the Release query.
func (c *Core) OpenRelease(v version.Version) (ReleaseStream, error) {
	hash, err := c.cat.HashFor(v)
	if err != nil {
		return ReleaseStream{}, err
	}
	size, err := c.cat.Size(v)
	if err != nil {
		return ReleaseStream{}, err
	}
	body, err := c.cat.OpenStream(v)
	if err != nil {
		return ReleaseStream{}, err
	}
	sig := signing.Sign(c.privateKey, hash[:])
	c.logger.Info("streaming release", "version", v.String(), "size", size)
	return ReleaseStream{Body: body, Size: size, Signature: sig}, nil
}

// ShouldBufferFully reports whether a release of the given size may be
// loaded fully into memory by an adapter, per the configured streaming
// threshold, rather than streamed in chunks.
func (c *Core) ShouldBufferFully(size int64) bool {
	return size <= c.threshold
}

// IsUnknownVersion reports whether err indicates the requested version
// is not in the catalogue, for adapters mapping to a 404-class code.
func IsUnknownVersion(err error) bool {
	return errors.Is(err, ErrUnknownVersion)
}

// IsCatalogueEmpty reports whether err indicates the catalogue holds no
// releases, for adapters mapping to a 503-class code.
func IsCatalogueEmpty(err error) bool {
	return errors.Is(err, ErrCatalogueEmpty)
}
