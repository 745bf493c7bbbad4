package httpadapter

import (
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

// Operation names carried in blob tokens issued by the local store.
const (
	blobOpUpload   = "put"
	blobOpDownload = "get"
)

func (rt *Router) putBlob(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	limit, err := rt.deps.Blobs.Verify(r.URL.Query().Get("token"), key, blobOpUpload)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if limit <= 0 || limit > domain.MaxFileSize {
		limit = domain.MaxFileSize
	}
	if r.ContentLength > limit {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file exceeds declared size"})
		return
	}

	written, err := rt.deps.Blobs.Save(r.Context(), key, r.Body, limit)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"storage_key": key, "size": written})
}

func (rt *Router) getBlob(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, err := rt.deps.Blobs.Verify(r.URL.Query().Get("token"), key, blobOpDownload); err != nil {
		rt.writeError(w, r, err)
		return
	}

	blob, err := rt.deps.Blobs.Open(r.Context(), key)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	defer blob.Close()

	fileType := domain.FileType(strings.TrimPrefix(path.Ext(key), "."))
	w.Header().Set("Content-Type", fileType.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(path.Base(key)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, blob); err != nil {
		rt.log.Warn("blob_stream_interrupted",
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
	}
}
