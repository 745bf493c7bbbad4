package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/docdesk/internal/config"
	"github.com/kirillkom/docdesk/internal/core/domain"
	"github.com/kirillkom/docdesk/internal/core/ports"
)

const (
	serviceName      = "api"
	maxJSONBodySize  = 1 << 20
	backpressureWait = 250 * time.Millisecond
)

// BlobEndpoint is the local blob store surface served under /v1/blobs/.
type BlobEndpoint interface {
	Verify(token, key, op string) (int64, error)
	Save(ctx context.Context, key string, data io.Reader, limit int64) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Recorder receives business-level request metrics.
type Recorder interface {
	RecordDocumentCreated(service, fileType string)
	RecordSearch(service, mode string, results int)
	RecordAssistant(service, operation string, duration time.Duration, err error)
	RecordRateLimited(service string)
}

type noopRecorder struct{}

func (noopRecorder) RecordDocumentCreated(string, string)                 {}
func (noopRecorder) RecordSearch(string, string, int)                     {}
func (noopRecorder) RecordAssistant(string, string, time.Duration, error) {}
func (noopRecorder) RecordRateLimited(string)                             {}

type Dependencies struct {
	Ingestor  ports.DocumentIngestor
	Library   ports.DocumentLibrary
	Searcher  ports.DocumentSearcher
	Assistant ports.DocumentAssistant
	Identity  ports.IdentityVerifier
	Limiter   ports.RateLimiter
	Blobs     BlobEndpoint
	Metrics   Recorder
	Logger    *slog.Logger
}

type Router struct {
	cfg  config.Config
	deps Dependencies
	log  *slog.Logger
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	if deps.Metrics == nil {
		deps.Metrics = noopRecorder{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{cfg: cfg, deps: deps, log: logger}
}

func (rt *Router) Handler() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)

	mux.HandleFunc("POST /v1/uploads", rt.requestUpload)
	mux.HandleFunc("POST /v1/documents", rt.createDocument)
	mux.HandleFunc("GET /v1/documents", rt.listDocuments)
	mux.HandleFunc("GET /v1/documents/{document_id}", rt.getDocument)
	mux.HandleFunc("DELETE /v1/documents/{document_id}", rt.deleteDocument)
	mux.HandleFunc("GET /v1/documents/{document_id}/analyses", rt.listAnalyses)
	mux.HandleFunc("GET /v1/documents/{document_id}/download", rt.downloadDocument)
	mux.HandleFunc("POST /v1/documents/{document_id}/reprocess", rt.reprocessDocument)
	mux.HandleFunc("POST /v1/documents/{document_id}/chat", rt.chat)
	mux.HandleFunc("POST /v1/compare", rt.compare)
	mux.HandleFunc("GET /v1/search", rt.search)

	if rt.deps.Blobs != nil {
		mux.HandleFunc("PUT /v1/blobs/{key...}", rt.putBlob)
		mux.HandleFunc("GET /v1/blobs/{key...}", rt.getBlob)
	}

	var handler http.Handler = mux
	if rt.cfg.OpenAPIValidation {
		validated, err := openAPIValidationMiddleware(handler)
		if err != nil {
			return nil, err
		}
		handler = validated
	}
	handler = rateLimitMiddleware(handler, rt.deps.Limiter, rt.deps.Metrics, rt.log)
	handler = authMiddleware(handler, rt.deps.Identity)
	if rt.cfg.APIMaxConnections > 0 {
		handler = backpressureMiddleware(handler, rt.cfg.APIMaxConnections, backpressureWait)
	}
	handler = accessLogMiddleware(handler, rt.log)
	handler = requestIDMiddleware(handler)
	return handler, nil
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// documentView adds the derived processing state to the wire form.
type documentView struct {
	*domain.Document
	Status domain.DocumentState `json:"status"`
}

func newDocumentView(doc *domain.Document) documentView {
	return documentView{Document: doc, Status: doc.State()}
}

type documentPageView struct {
	Documents  []documentView `json:"documents"`
	NextOffset int            `json:"next_offset,omitempty"`
}

func (rt *Router) requestUpload(w http.ResponseWriter, r *http.Request) {
	var req domain.UploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ticket, err := rt.deps.Ingestor.RequestUpload(r.Context(), ownerIDFromContext(r.Context()), req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (rt *Router) createDocument(w http.ResponseWriter, r *http.Request) {
	var req domain.NewDocumentInput
	if !decodeJSON(w, r, &req) {
		return
	}
	doc, err := rt.deps.Ingestor.CreateDocument(r.Context(), ownerIDFromContext(r.Context()), req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.deps.Metrics.RecordDocumentCreated(serviceName, string(doc.FileType))
	writeJSON(w, http.StatusCreated, newDocumentView(doc))
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	var opts domain.ListOptions
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &opts.Limit); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &opts.Offset); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid offset"})
		return
	}

	page, err := rt.deps.Library.List(r.Context(), ownerIDFromContext(r.Context()), opts)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	out := documentPageView{
		Documents:  make([]documentView, 0, len(page.Documents)),
		NextOffset: page.NextOffset,
	}
	for i := range page.Documents {
		out.Documents = append(out.Documents, newDocumentView(&page.Documents[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.deps.Library.Get(r.Context(), ownerIDFromContext(r.Context()), r.PathValue("document_id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDocumentView(doc))
}

func (rt *Router) listAnalyses(w http.ResponseWriter, r *http.Request) {
	records, err := rt.deps.Library.Analyses(r.Context(), ownerIDFromContext(r.Context()), r.PathValue("document_id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": records})
}

func (rt *Router) downloadDocument(w http.ResponseWriter, r *http.Request) {
	url, err := rt.deps.Library.DownloadURL(r.Context(), ownerIDFromContext(r.Context()), r.PathValue("document_id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"download_url": url})
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := rt.deps.Library.Delete(r.Context(), ownerIDFromContext(r.Context()), r.PathValue("document_id")); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) reprocessDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.deps.Library.Reprocess(r.Context(), ownerIDFromContext(r.Context()), r.PathValue("document_id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newDocumentView(doc))
}

func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	start := time.Now()
	answer, err := rt.deps.Assistant.Chat(r.Context(), ownerIDFromContext(r.Context()), r.PathValue("document_id"), req.Question)
	rt.deps.Metrics.RecordAssistant(serviceName, "chat", time.Since(start), err)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) compare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Doc1ID string `json:"doc1_id"`
		Doc2ID string `json:"doc2_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	start := time.Now()
	result, err := rt.deps.Assistant.Compare(r.Context(), ownerIDFromContext(r.Context()), req.Doc1ID, req.Doc2ID)
	rt.deps.Metrics.RecordAssistant(serviceName, "compare", time.Since(start), err)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode, err := domain.ParseSearchMode(query.Get("mode"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	var limit int
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &limit); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		return
	}

	docs, err := rt.deps.Searcher.Search(r.Context(), domain.SearchQuery{
		OwnerID:  ownerIDFromContext(r.Context()),
		Text:     query.Get("q"),
		Mode:     mode,
		FileType: domain.FileType(query.Get("file_type")),
		Limit:    limit,
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.deps.Metrics.RecordSearch(serviceName, string(mode), len(docs))

	results := make([]documentView, 0, len(docs))
	for i := range docs {
		results = append(results, newDocumentView(&docs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		rt.log.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		message = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid json: %v", err)})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) < 7 || !strings.EqualFold(raw[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(raw[7:])
}
