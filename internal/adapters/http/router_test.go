package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docdesk/internal/config"
	"github.com/kirillkom/docdesk/internal/core/domain"
)

const testToken = "good-token"

type verifierFake struct{}

func (verifierFake) Verify(_ context.Context, token string) (string, error) {
	if token != testToken {
		return "", domain.WrapError(domain.ErrUnauthenticated, "verify token", errors.New("bad token"))
	}
	return "owner-1", nil
}

type ingestorFake struct {
	lastOwner string
	lastReq   domain.UploadRequest
	lastInput domain.NewDocumentInput
	err       error
}

func (f *ingestorFake) RequestUpload(_ context.Context, ownerID string, req domain.UploadRequest) (*domain.UploadTicket, error) {
	f.lastOwner = ownerID
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.UploadTicket{
		UploadURL:  "http://localhost/v1/blobs/k?token=t",
		Method:     http.MethodPut,
		StorageKey: "k",
		ExpiresAt:  time.Now().Add(time.Minute),
	}, nil
}

func (f *ingestorFake) CreateDocument(_ context.Context, ownerID string, in domain.NewDocumentInput) (*domain.Document, error) {
	f.lastOwner = ownerID
	f.lastInput = in
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{
		ID:         "doc-1",
		OwnerID:    ownerID,
		FileName:   in.FileName,
		FileType:   in.FileType,
		FileSize:   in.FileSize,
		StorageKey: in.StorageKey,
	}, nil
}

type libraryFake struct {
	lastOwner string
	lastID    string
	lastOpts  domain.ListOptions
	docs      []domain.Document
	err       error
}

func (f *libraryFake) List(_ context.Context, ownerID string, opts domain.ListOptions) (*domain.DocumentPage, error) {
	f.lastOwner = ownerID
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &domain.DocumentPage{Documents: f.docs}, nil
}

func (f *libraryFake) Get(_ context.Context, ownerID, documentID string) (*domain.Document, error) {
	f.lastOwner, f.lastID = ownerID, documentID
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: documentID, OwnerID: ownerID, Processing: true, Content: "text"}, nil
}

func (f *libraryFake) Analyses(_ context.Context, ownerID, documentID string) ([]domain.AnalysisRecord, error) {
	f.lastOwner, f.lastID = ownerID, documentID
	if f.err != nil {
		return nil, f.err
	}
	return []domain.AnalysisRecord{{ID: "a-1", DocumentID: documentID, Kind: domain.KindSummary, Result: "short"}}, nil
}

func (f *libraryFake) DownloadURL(_ context.Context, ownerID, documentID string) (string, error) {
	f.lastOwner, f.lastID = ownerID, documentID
	if f.err != nil {
		return "", f.err
	}
	return "http://localhost/v1/blobs/" + documentID + "?token=t", nil
}

func (f *libraryFake) Delete(_ context.Context, ownerID, documentID string) error {
	f.lastOwner, f.lastID = ownerID, documentID
	return f.err
}

func (f *libraryFake) Reprocess(_ context.Context, ownerID, documentID string) (*domain.Document, error) {
	f.lastOwner, f.lastID = ownerID, documentID
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: documentID, OwnerID: ownerID}, nil
}

type searcherFake struct {
	last domain.SearchQuery
	docs []domain.Document
	err  error
}

func (f *searcherFake) Search(_ context.Context, query domain.SearchQuery) ([]domain.Document, error) {
	f.last = query
	return f.docs, f.err
}

type assistantFake struct {
	lastOwner    string
	lastQuestion string
	lastIDs      []string
	err          error
}

func (f *assistantFake) Chat(_ context.Context, ownerID, documentID, question string) (*domain.ChatAnswer, error) {
	f.lastOwner, f.lastQuestion = ownerID, question
	f.lastIDs = []string{documentID}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ChatAnswer{DocumentID: documentID, Answer: "forty-two", Confidence: 0.85}, nil
}

func (f *assistantFake) Compare(_ context.Context, ownerID, firstID, secondID string) (*domain.Comparison, error) {
	f.lastOwner = ownerID
	f.lastIDs = []string{firstID, secondID}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Comparison{
		Comparison: "similar",
		Confidence: 0.85,
		Document1:  domain.DocumentRef{ID: firstID},
		Document2:  domain.DocumentRef{ID: secondID},
	}, nil
}

type testAPI struct {
	ingestor  *ingestorFake
	library   *libraryFake
	searcher  *searcherFake
	assistant *assistantFake
	handler   http.Handler
}

func newTestAPI(t *testing.T, cfg config.Config, mutate func(*Dependencies)) *testAPI {
	t.Helper()
	api := &testAPI{
		ingestor:  &ingestorFake{},
		library:   &libraryFake{},
		searcher:  &searcherFake{},
		assistant: &assistantFake{},
	}
	deps := Dependencies{
		Ingestor:  api.ingestor,
		Library:   api.library,
		Searcher:  api.searcher,
		Assistant: api.assistant,
		Identity:  verifierFake{},
	}
	if mutate != nil {
		mutate(&deps)
	}
	handler, err := NewRouter(cfg, deps).Handler()
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	api.handler = handler
	return api
}

func (api *testAPI) do(method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res := httptest.NewRecorder()
	api.handler.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, res.Body.String())
	}
	return out
}

func TestHealthzIsPublic(t *testing.T) {
	api := newTestAPI(t, config.Config{OpenAPIValidation: true}, nil)

	res := httptest.NewRecorder()
	api.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	api := newTestAPI(t, config.Config{}, nil)

	res := httptest.NewRecorder()
	api.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}
	if !strings.HasPrefix(res.Header().Get("WWW-Authenticate"), "Bearer") {
		t.Fatalf("expected bearer challenge, got %q", res.Header().Get("WWW-Authenticate"))
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	res = httptest.NewRecorder()
	api.handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", res.Code)
	}
	if api.library.lastOwner != "" {
		t.Fatalf("library must not be reached without identity")
	}
}

func TestRequestUploadReturnsTicket(t *testing.T) {
	api := newTestAPI(t, config.Config{OpenAPIValidation: true}, nil)

	res := api.do(http.MethodPost, "/v1/uploads", map[string]any{
		"file_name": "report.pdf",
		"file_type": "pdf",
		"file_size": 1024,
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", res.Code, res.Body.String())
	}
	body := decodeBody(t, res)
	if body["upload_url"] == "" || body["storage_key"] != "k" {
		t.Fatalf("unexpected ticket: %v", body)
	}
	if api.ingestor.lastOwner != "owner-1" || api.ingestor.lastReq.FileSize != 1024 {
		t.Fatalf("unexpected ingest call: owner=%q req=%+v", api.ingestor.lastOwner, api.ingestor.lastReq)
	}
}

func TestRequestUploadRejectsSchemaViolations(t *testing.T) {
	api := newTestAPI(t, config.Config{OpenAPIValidation: true}, nil)

	res := api.do(http.MethodPost, "/v1/uploads", map[string]any{"file_name": "report.pdf"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if api.ingestor.lastOwner != "" {
		t.Fatalf("ingestor must not be called for invalid payload")
	}
}

func TestRequestUploadMapsUnsupportedType(t *testing.T) {
	api := newTestAPI(t, config.Config{}, nil)
	api.ingestor.err = domain.WrapError(domain.ErrUnsupportedFileType, "request upload", errors.New("type=txt"))

	res := api.do(http.MethodPost, "/v1/uploads", map[string]any{
		"file_name": "notes.txt",
		"file_type": "txt",
		"file_size": 10,
	})
	if res.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", res.Code)
	}
}

func TestCreateDocumentReturnsDerivedStatus(t *testing.T) {
	api := newTestAPI(t, config.Config{OpenAPIValidation: true}, nil)

	res := api.do(http.MethodPost, "/v1/documents", map[string]any{
		"storage_key": "owner-1/abc_report.pdf",
		"file_name":   "report.pdf",
		"file_type":   "pdf",
		"file_size":   2048,
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", res.Code, res.Body.String())
	}
	body := decodeBody(t, res)
	if body["status"] != string(domain.StateUploaded) {
		t.Fatalf("expected uploaded status, got %v", body["status"])
	}
	if body["id"] != "doc-1" || body["owner_id"] != "owner-1" {
		t.Fatalf("unexpected document: %v", body)
	}
}

func TestListDocumentsPassesPaging(t *testing.T) {
	api := newTestAPI(t, config.Config{OpenAPIValidation: true}, nil)
	api.library.docs = []domain.Document{{ID: "a", Processing: true, Content: "x", Analysis: &domain.DocumentAnalysis{}}}

	res := api.do(http.MethodGet, "/v1/documents?limit=10&offset=20", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if api.library.lastOpts.Limit != 10 || api.library.lastOpts.Offset != 20 {
		t.Fatalf("unexpected list options: %+v", api.library.lastOpts)
	}

	var page struct {
		Documents []map[string]any `json:"documents"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Documents) != 1 || page.Documents[0]["status"] != string(domain.StateComplete) {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestListDocumentsRejectsNonNumericLimit(t *testing.T) {
	for _, validation := range []bool{true, false} {
		api := newTestAPI(t, config.Config{OpenAPIValidation: validation}, nil)
		res := api.do(http.MethodGet, "/v1/documents?limit=ten", nil)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("validation=%v: expected 400, got %d", validation, res.Code)
		}
	}
}

func TestDocumentRoutesUsePathID(t *testing.T) {
	api := newTestAPI(t, config.Config{OpenAPIValidation: true}, nil)

	cases := []struct {
		method string
		target string
		want   int
	}{
		{http.MethodGet, "/v1/documents/doc-9", http.StatusOK},
		{http.MethodGet, "/v1/documents/doc-9/analyses", http.StatusOK},
		{http.MethodGet, "/v1/documents/doc-9/download", http.StatusOK},
		{http.MethodPost, "/v1/documents/doc-9/reprocess", http.StatusAccepted},
		{http.MethodDelete, "/v1/documents/doc-9", http.StatusNoContent},
	}
	for _, tc := range cases {
		api.library.lastID = ""
		res := api.do(tc.method, tc.target, nil)
		if res.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d body=%s", tc.method, tc.target, tc.want, res.Code, res.Body.String())
		}
		if api.library.lastID != "doc-9" || api.library.lastOwner != "owner-1" {
			t.Fatalf("%s %s: unexpected call id=%q owner=%q", tc.method, tc.target, api.library.lastID, api.library.lastOwner)
		}
	}
}

func TestDownloadReturnsURL(t *testing.T) {
	api := newTestAPI(t, config.Config{}, nil)

	res := api.do(http.MethodGet, "/v1/documents/doc-9/download", nil)
	body := decodeBody(t, res)
	if !strings.Contains(body["download_url"].(string), "doc-9") {
		t.Fatalf("unexpected download url: %v", body)
	}
}

func TestForeignDocumentLooksMissing(t *testing.T) {
	api := newTestAPI(t, config.Config{}, nil)
	api.library.err = domain.NotFoundOrForbidden("get document", "doc-9")

	res := api.do(http.MethodGet, "/v1/documents/doc-9", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestReprocessConflictMapsTo409(t *testing.T) {
	api := newTestAPI(t, config.Config{}, nil)
	api.library.err = domain.WrapError(domain.ErrInvalidState, "reprocess document", errors.New("state=complete"))

	res := api.do(http.MethodPost, "/v1/documents/doc-9/reprocess", nil)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	api := newTestAPI(t, config.Config{}, nil)
	api.library.err = errors.New("pq: connection refused to 10.0.0.5")

	res := api.do(http.MethodGet, "/v1/documents/doc-9", nil)
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "10.0.0.5") {
		t.Fatalf("internal error leaked: %s", res.Body.String())
	}
}

func TestSearchPassesQuery(t *testing.T) {
	api := newTestAPI(t, config.Config{OpenAPIValidation: true}, nil)
	api.searcher.docs = []domain.Document{{ID: "a", FileName: "report.pdf"}}

	res := api.do(http.MethodGet, "/v1/search?q=report&mode=filename&file_type=pdf&limit=5", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", res.Code, res.Body.String())
	}
	got := api.searcher.last
	if got.OwnerID != "owner-1" || got.Text != "report" || got.Mode != domain.SearchByFilename || got.FileType != domain.FileTypePDF || got.Limit != 5 {
		t.Fatalf("unexpected search query: %+v", got)
	}
	body := decodeBody(t, res)
	if results, ok := body["results"].([]any); !ok || len(results) != 1 {
		t.Fatalf("unexpected results: %v", body)
	}
}

func TestSearchRejectsUnknownMode(t *testing.T) {
	api := newTestAPI(t, config.Config{}, nil)

	res := api.do(http.MethodGet, "/v1/search?q=x&mode=fuzzy", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if api.searcher.last.Text != "" {
		t.Fatalf("searcher must not be called")
	}
}

func TestChatReturnsAnswer(t *testing.T) {
	api := newTestAPI(t, config.Config{OpenAPIValidation: true}, nil)

	res := api.do(http.MethodPost, "/v1/documents/doc-3/chat", map[string]string{"question": "what is it?"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", res.Code, res.Body.String())
	}
	body := decodeBody(t, res)
	if body["answer"] != "forty-two" || body["document_id"] != "doc-3" {
		t.Fatalf("unexpected answer: %v", body)
	}
	if api.assistant.lastQuestion != "what is it?" || api.assistant.lastOwner != "owner-1" {
		t.Fatalf("unexpected chat call: %+v", api.assistant)
	}
}

func TestChatWithoutContentMapsTo409(t *testing.T) {
	api := newTestAPI(t, config.Config{}, nil)
	api.assistant.err = domain.WrapError(domain.ErrInvalidState, "chat", errors.New("no content"))

	res := api.do(http.MethodPost, "/v1/documents/doc-3/chat", map[string]string{"question": "q"})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestCompareReturnsBothRefs(t *testing.T) {
	api := newTestAPI(t, config.Config{OpenAPIValidation: true}, nil)

	res := api.do(http.MethodPost, "/v1/compare", map[string]string{"doc1_id": "a", "doc2_id": "b"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", res.Code, res.Body.String())
	}
	if len(api.assistant.lastIDs) != 2 || api.assistant.lastIDs[0] != "a" || api.assistant.lastIDs[1] != "b" {
		t.Fatalf("unexpected compare ids: %v", api.assistant.lastIDs)
	}
	body := decodeBody(t, res)
	if _, ok := body["doc1"]; !ok {
		t.Fatalf("expected doc1 in response: %v", body)
	}
}

func TestCompareRejectsMalformedJSON(t *testing.T) {
	api := newTestAPI(t, config.Config{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/compare", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	api.handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestAnalysisEngineOutageMapsTo503(t *testing.T) {
	api := newTestAPI(t, config.Config{}, nil)
	api.assistant.err = domain.WrapError(domain.ErrAnalysisFailed, "compare", domain.WrapError(domain.ErrTemporary, "ollama", errors.New("503")))

	res := api.do(http.MethodPost, "/v1/compare", map[string]string{"doc1_id": "a", "doc2_id": "b"})
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}
