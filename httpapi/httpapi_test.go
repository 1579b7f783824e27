package httpapi_test

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattigo-labs/upstage/catalogue"
	"github.com/lattigo-labs/upstage/httpapi"
	"github.com/lattigo-labs/upstage/server"
	"github.com/lattigo-labs/upstage/signing"
)

func newTestServer(t *testing.T) (*httptest.Server, signing.PublicKey) {
	t.Helper()
	dir := t.TempDir()
	content := []byte("release body content for http adapter tests")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app-1.0.0"), content, 0o644))
	sum := sha256.Sum256(content)

	priv, pub, err := signing.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	core, err := server.New(server.Config{
		AppName:     "app",
		ReleasesDir: dir,
		Versions:    map[string]catalogue.Hash{"1.0.0": catalogue.Hash(sum)},
		PrivateKey:  priv,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	httpapi.NewHandler(core, nil).Routes(mux)
	return httptest.NewServer(mux), pub
}

func TestGetLatestReturnsSignedVersion(t *testing.T) {
	srv, pub := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/latest")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sigHex := resp.Header.Get("X-Signature")
	require.NotEmpty(t, sigHex)
	sigBytes, err := hex.DecodeString(sigHex)
	require.NoError(t, err)

	assert.True(t, signing.Verify(pub, []byte("1.0.0"), sigOf(sigBytes)))
}

func TestGetHashUnknownVersionReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/hashes/9.9.9")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetReleaseStreamsBodyWithMatchingSignature(t *testing.T) {
	srv, pub := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/releases/1.0.0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	sigHex := resp.Header.Get("X-Signature")
	sigBytes, err := hex.DecodeString(sigHex)
	require.NoError(t, err)

	actualHash := sha256.Sum256(body)
	assert.True(t, signing.Verify(pub, actualHash[:], sigOf(sigBytes)))
}

func sigOf(b []byte) signing.Signature {
	var sig signing.Signature
	copy(sig[:], b)
	return sig
}
