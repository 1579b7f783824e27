package client

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/lattigo-labs/upstage/server"
	"github.com/lattigo-labs/upstage/signing"
)

const signatureHeader = "X-Signature"

// getJSON performs a GET against endpoint (resolved relative to base),
// validates its Content-Type and X-Signature header, decodes the body
// as JSON into out, and returns the raw body bytes and parsed
// signature so the caller can verify it against whatever canonical
// byte sequence the response type demands (spec §4.1: the signed bytes
// are not always the JSON body itself, e.g. Latest signs the bare
// version string, not the JSON envelope).
func (u *Updater) getJSON(ctx context.Context, endpoint string, out any) (body []byte, sig signing.Signature, err error) {
	target, joinErr := u.apiBase.Parse(endpoint)
	if joinErr != nil {
		return nil, signing.Signature{}, &UpdaterError{Kind: InvalidURL, Cause: joinErr}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, signing.Signature{}, &UpdaterError{Kind: InvalidURL, URL: target.String(), Cause: err}
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, signing.Signature{}, &UpdaterError{Kind: HTTPRequestFailed, URL: target.String(), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, signing.Signature{}, &UpdaterError{Kind: HTTPError, URL: target.String(), StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return nil, signing.Signature{}, &UpdaterError{
			Kind: UnexpectedContentType, URL: target.String(),
			Cause: fmt.Errorf("got %q, want application/json", contentType),
		}
	}

	sig, err = u.readSignature(target.String(), resp)
	if err != nil {
		return nil, signing.Signature{}, err
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, signing.Signature{}, &UpdaterError{Kind: InvalidBody, URL: target.String(), Cause: err}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, signing.Signature{}, &UpdaterError{Kind: InvalidPayload, URL: target.String(), Cause: err}
		}
	}
	return body, sig, nil
}

func (u *Updater) readSignature(targetURL string, resp *http.Response) (signing.Signature, error) {
	raw := resp.Header.Get(signatureHeader)
	if raw == "" {
		return signing.Signature{}, &UpdaterError{Kind: MissingSignature, URL: targetURL}
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != signing.SignatureSize {
		return signing.Signature{}, &UpdaterError{Kind: InvalidSignatureEncoding, URL: targetURL, Cause: err}
	}
	var sig signing.Signature
	copy(sig[:], decoded)
	return sig, nil
}

// fetchLatestVersion calls GET /latest and returns the parsed body
// alongside its signature. The caller is responsible for verifying the
// signature over the canonical bytes (the raw version string, per spec
// §4.1), which requires re-serializing from the parsed Version rather
// than trusting the JSON body's exact byte layout.
func (u *Updater) fetchLatestVersion(ctx context.Context) (server.LatestVersionResponse, signing.Signature, error) {
	var out server.LatestVersionResponse
	_, sig, err := u.getJSON(ctx, "latest", &out)
	if err != nil {
		return server.LatestVersionResponse{}, signing.Signature{}, err
	}
	return out, sig, nil
}

// fetchHash calls GET /hashes/:version.
func (u *Updater) fetchHash(ctx context.Context, v fmt.Stringer) (server.VersionHashResponse, signing.Signature, error) {
	var out server.VersionHashResponse
	_, sig, err := u.getJSON(ctx, "hashes/"+url.PathEscape(v.String()), &out)
	if err != nil {
		return server.VersionHashResponse{}, signing.Signature{}, err
	}
	return out, sig, nil
}

// releaseResponse holds an open release body stream plus its metadata,
// mirroring server.ReleaseStream but from the client's point of view
// (an http.Response body, not a file handle).
type releaseResponse struct {
	Body          io.ReadCloser
	ContentLength int64 // -1 when unknown
	Signature     signing.Signature
}

// fetchRelease calls GET /releases/:version and returns the still-open
// response body for the caller to stream through the verification
// pipeline. The caller must Close the body.
func (u *Updater) fetchRelease(ctx context.Context, v fmt.Stringer) (releaseResponse, error) {
	target, joinErr := u.apiBase.Parse("releases/" + url.PathEscape(v.String()))
	if joinErr != nil {
		return releaseResponse{}, &UpdaterError{Kind: InvalidURL, Cause: joinErr}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return releaseResponse{}, &UpdaterError{Kind: InvalidURL, URL: target.String(), Cause: err}
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return releaseResponse{}, &UpdaterError{Kind: HTTPRequestFailed, URL: target.String(), Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return releaseResponse{}, &UpdaterError{Kind: HTTPError, URL: target.String(), StatusCode: resp.StatusCode}
	}
	sig, err := u.readSignature(target.String(), resp)
	if err != nil {
		resp.Body.Close()
		return releaseResponse{}, err
	}
	length := resp.ContentLength
	if length < 0 {
		length = -1
	}
	return releaseResponse{Body: resp.Body, ContentLength: length, Signature: sig}, nil
}
