// Package httpapi is the thin, transport-owning adapter of spec §4.3:
// it routes the three well-known routes onto a *server.Core and
// preserves the body-to-signature association the core requires,
// without adding any logic of its own. This is the external
// collaborator spec §1 describes ("any HTTP server/client library");
// it is kept in-tree as the reference implementation and integration
// test harness, not as a required dependency of package server.
package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lattigo-labs/upstage/server"
	"github.com/lattigo-labs/upstage/version"
)

// copyChunkSize bounds the buffer used when streaming a release body
// above the configured threshold, rather than loading it fully.
const copyChunkSize = 64 * 1024

// Handler adapts a *server.Core onto net/http.
type Handler struct {
	core   *server.Core
	logger *slog.Logger
}

// NewHandler wraps core for use as an http.Handler via Routes. A nil
// logger discards output.
func NewHandler(core *server.Core, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{core: core, logger: logger}
}

// Routes registers the three well-known endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /latest", h.getLatest)
	mux.HandleFunc("GET /hashes/{version}", h.getHash)
	mux.HandleFunc("GET /releases/{version}", h.getRelease)
}

func (h *Handler) getLatest(w http.ResponseWriter, r *http.Request) {
	resp, sig, err := h.core.Latest()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, resp, sig)
}

func (h *Handler) getHash(w http.ResponseWriter, r *http.Request) {
	v, err := version.Parse(r.PathValue("version"))
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, "invalid_version", err.Error())
		return
	}
	resp, sig, err := h.core.HashFor(v)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, resp, sig)
}

func (h *Handler) getRelease(w http.ResponseWriter, r *http.Request) {
	v, err := version.Parse(r.PathValue("version"))
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, "invalid_version", err.Error())
		return
	}
	stream, err := h.core.OpenRelease(v)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer stream.Body.Close()

	w.Header().Set("X-Signature", stream.Signature.String())
	if stream.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(stream.Size, 10))
	}
	w.Header().Set("Content-Type", "application/octet-stream")

	// Streaming policy (spec §4.3): small releases may be read fully
	// before writing; large ones are always copied in bounded chunks.
	// Either way the signature was computed over the same bytes now
	// being written — the body never diverges from what was signed.
	if h.core.ShouldBufferFully(stream.Size) {
		buffered, err := io.ReadAll(stream.Body)
		if err != nil {
			h.logger.Error("failed to buffer release body", "version", v.String(), "error", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buffered)
		return
	}

	w.WriteHeader(http.StatusOK)
	buf := make([]byte, copyChunkSize)
	if _, err := io.CopyBuffer(w, stream.Body, buf); err != nil {
		h.logger.Error("failed to stream release body", "version", v.String(), "error", err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, body any, sig interface{ String() string }) {
	encoded, err := json.Marshal(body)
	if err != nil {
		h.logger.Error("failed to marshal response", "error", err)
		writeErrorBody(w, http.StatusInternalServerError, "internal", "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Signature", sig.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case server.IsUnknownVersion(err):
		writeErrorBody(w, http.StatusNotFound, "unknown_version", err.Error())
	case server.IsCatalogueEmpty(err):
		writeErrorBody(w, http.StatusServiceUnavailable, "catalogue_empty", err.Error())
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeErrorBody(w, http.StatusInternalServerError, "internal", "an internal error occurred")
	}
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
