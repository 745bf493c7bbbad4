// Package memory keeps documents in process memory for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

type DocumentRepository struct {
	mu      sync.RWMutex
	docs    map[string]domain.Document
	records map[string][]domain.AnalysisRecord
}

func NewDocumentRepository() *DocumentRepository {
	return &DocumentRepository{
		docs:    map[string]domain.Document{},
		records: map[string][]domain.AnalysisRecord{},
	}
}

func (r *DocumentRepository) Create(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; ok {
		return fmt.Errorf("insert document: duplicate id %s", doc.ID)
	}
	for _, other := range r.docs {
		if other.StorageKey == doc.StorageKey {
			return domain.WrapError(domain.ErrInvalidState, "insert document",
				fmt.Errorf("storage key %s belongs to %s", doc.StorageKey, other.ID))
		}
	}
	r.docs[doc.ID] = cloneDocument(*doc)
	return nil
}

func (r *DocumentRepository) GetByStorageKey(_ context.Context, key string) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, doc := range r.docs {
		if doc.StorageKey == key {
			out := cloneDocument(doc)
			return &out, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "get document by storage key", fmt.Errorf("key=%s", key))
}

func (r *DocumentRepository) GetByID(_ context.Context, id string) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, notFound("get document", id)
	}
	out := cloneDocument(doc)
	return &out, nil
}

func (r *DocumentRepository) ListByOwner(_ context.Context, ownerID string, opts domain.ListOptions) ([]domain.Document, error) {
	opts = opts.Normalize()
	r.mu.RLock()
	owned := r.ownedLocked(ownerID)
	r.mu.RUnlock()

	if opts.Offset >= len(owned) {
		return []domain.Document{}, nil
	}
	owned = owned[opts.Offset:]
	if len(owned) > opts.Limit {
		owned = owned[:opts.Limit]
	}
	return owned, nil
}

func (r *DocumentRepository) Search(_ context.Context, query domain.SearchQuery) ([]domain.Document, error) {
	limit := query.Limit
	if limit <= 0 || limit > domain.MaxSearchResults {
		limit = domain.MaxSearchResults
	}
	terms := strings.Fields(strings.ToLower(query.Text))

	r.mu.RLock()
	owned := r.ownedLocked(query.OwnerID)
	r.mu.RUnlock()

	out := []domain.Document{}
	for _, doc := range owned {
		if query.FileType != "" && doc.FileType != query.FileType {
			continue
		}
		var haystack string
		switch query.Mode {
		case domain.SearchByFilename:
			haystack = doc.FileName
		default:
			if !doc.HasContent() {
				continue
			}
			haystack = doc.Content
		}
		if !containsAll(strings.ToLower(haystack), terms) {
			continue
		}
		out = append(out, doc)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *DocumentRepository) SaveExtraction(_ context.Context, id, content string, processing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return notFound("save extraction", id)
	}
	doc.Content = content
	doc.Processing = processing
	if !processing {
		doc.Analysis = nil
	}
	r.docs[id] = doc
	return nil
}

func (r *DocumentRepository) CompleteAnalysis(
	_ context.Context,
	id string,
	analysis domain.DocumentAnalysis,
	records []domain.AnalysisRecord,
	replace bool,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return notFound("complete analysis", id)
	}
	if !doc.Processing {
		return domain.WrapError(domain.ErrInvalidState, "complete analysis", fmt.Errorf("id=%s not extracted", id))
	}

	existing := r.records[id]
	if replace {
		kinds := map[domain.AnalysisKind]bool{}
		for _, rec := range records {
			kinds[rec.Kind] = true
		}
		kept := make([]domain.AnalysisRecord, 0, len(existing))
		for _, rec := range existing {
			if !kinds[rec.Kind] {
				kept = append(kept, rec)
			}
		}
		existing = kept
	}
	r.records[id] = append(existing, records...)

	a := analysis
	a.Keywords = append([]string{}, analysis.Keywords...)
	doc.Analysis = &a
	r.docs[id] = doc
	return nil
}

func (r *DocumentRepository) ListAnalyses(_ context.Context, documentID string) ([]domain.AnalysisRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.AnalysisRecord{}, r.records[documentID]...), nil
}

func (r *DocumentRepository) Delete(
	ctx context.Context,
	id string,
	beforeCommit func(context.Context, *domain.Document) error,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return notFound("delete document", id)
	}
	if beforeCommit != nil {
		locked := cloneDocument(doc)
		if err := beforeCommit(ctx, &locked); err != nil {
			return err
		}
	}
	delete(r.docs, id)
	delete(r.records, id)
	return nil
}

func (r *DocumentRepository) ownedLocked(ownerID string) []domain.Document {
	out := []domain.Document{}
	for _, doc := range r.docs {
		if doc.OwnerID == ownerID {
			out = append(out, cloneDocument(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out
}

func containsAll(haystack string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

func cloneDocument(doc domain.Document) domain.Document {
	if doc.Analysis != nil {
		a := *doc.Analysis
		a.Keywords = append([]string{}, doc.Analysis.Keywords...)
		doc.Analysis = &a
	}
	return doc
}

func notFound(op, id string) error {
	return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("id=%s", id))
}
