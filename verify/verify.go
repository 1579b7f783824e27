// Package verify implements the verification pipeline (spec §4.5):
// streaming SHA-256 over a downloaded release body, gated by a
// signature check of the advertised hash before a single byte is
// written to disk.
package verify

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/lattigo-labs/upstage/catalogue"
	"github.com/lattigo-labs/upstage/signing"
)

// copyChunkSize bounds how much is read between cancellation checks
// and progress callbacks.
const copyChunkSize = 64 * 1024

// ErrSignatureInvalid is returned when the signature over the
// advertised hash does not verify under the configured public key. No
// file is written to disk in this case.
var ErrSignatureInvalid = errors.New("verify: signature over advertised hash is invalid")

// ErrHashMismatch is returned when the streamed body's computed
// SHA-256 does not match the advertised hash. The partial staging file
// is deleted before this error is returned.
var ErrHashMismatch = errors.New("verify: downloaded content does not match advertised hash")

// ErrCancelled is returned when ctx is cancelled mid-download. The
// partial staging file is deleted.
var ErrCancelled = errors.New("verify: cancelled")

// Pipeline owns a single process-scoped temporary directory in which
// it stages downloads. Callers must call Close when the pipeline is no
// longer needed (typically on updater teardown) to guarantee the
// directory is removed on every exit path.
type Pipeline struct {
	dir string
}

// NewPipeline creates a fresh temporary directory under the OS temp
// directory, scoped to appname, to stage downloads in.
func NewPipeline(appname string) (*Pipeline, error) {
	dir, err := os.MkdirTemp("", appname+"-upstage-*")
	if err != nil {
		return nil, fmt.Errorf("verify: create staging directory: %w", err)
	}
	return &Pipeline{dir: dir}, nil
}

// Dir returns the pipeline's staging directory, mainly useful for
// diagnostics and tests that want to assert no stray files are left
// behind.
func (p *Pipeline) Dir() string {
	return p.dir
}

// Close removes the pipeline's staging directory and everything left
// in it. Safe to call more than once.
func (p *Pipeline) Close() error {
	if p.dir == "" {
		return nil
	}
	err := os.RemoveAll(p.dir)
	p.dir = ""
	return err
}

// ProgressFunc receives (have, total) as bytes are streamed. total is
// -1 when the content length is unknown; callers must tolerate that
// (spec §4.5).
type ProgressFunc func(have, total int64)

// Verify streams body, writing it to a staging file inside the
// pipeline's temporary directory while computing its SHA-256. It first
// verifies sig as a detached Ed25519 signature over expectedHash's raw
// bytes under pub — signature verification happens before any byte of
// body is read. On success, it returns the path of the staged file,
// which exactly matches expectedHash's content.
//
// total is the expected content length if known, else -1; it is only
// used for progress reporting via onProgress, which may be nil.
func (p *Pipeline) Verify(
	ctx context.Context,
	body io.Reader,
	expectedHash catalogue.Hash,
	sig signing.Signature,
	pub signing.PublicKey,
	total int64,
	onProgress ProgressFunc,
) (stagingPath string, err error) {
	if !signing.Verify(pub, expectedHash[:], sig) {
		return "", ErrSignatureInvalid
	}

	f, err := os.CreateTemp(p.dir, "release-*")
	if err != nil {
		return "", fmt.Errorf("verify: create staging file: %w", err)
	}
	path := f.Name()
	cleanup := func() {
		f.Close()
		os.Remove(path)
	}

	hasher := sha256.New()
	buf := make([]byte, copyChunkSize)
	var have int64
	for {
		if err := ctx.Err(); err != nil {
			cleanup()
			return "", ErrCancelled
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				cleanup()
				return "", fmt.Errorf("verify: write staging file: %w", werr)
			}
			hasher.Write(buf[:n])
			have += int64(n)
			if onProgress != nil {
				onProgress(have, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			cleanup()
			if ctx.Err() != nil {
				return "", ErrCancelled
			}
			return "", fmt.Errorf("verify: read release body: %w", readErr)
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("verify: close staging file: %w", err)
	}

	var actual catalogue.Hash
	copy(actual[:], hasher.Sum(nil))
	if actual != expectedHash {
		os.Remove(path)
		return "", ErrHashMismatch
	}

	return path, nil
}
