package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/docdesk/internal/core/domain"
	"github.com/kirillkom/docdesk/internal/core/ports"
)

type SearchUseCase struct {
	repo ports.DocumentRepository
}

func NewSearchUseCase(repo ports.DocumentRepository) *SearchUseCase {
	return &SearchUseCase{repo: repo}
}

func (uc *SearchUseCase) Search(ctx context.Context, query domain.SearchQuery) ([]domain.Document, error) {
	if err := requireOwner(query.OwnerID); err != nil {
		return nil, err
	}
	query.Text = strings.TrimSpace(query.Text)
	if query.Text == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search documents", errors.New("query text is required"))
	}
	if query.Mode == "" {
		query.Mode = domain.SearchByContent
	}
	if query.FileType != "" {
		fileType, err := domain.ParseFileType(string(query.FileType))
		if err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "search documents", err)
		}
		query.FileType = fileType
	}
	if query.Limit <= 0 || query.Limit > domain.MaxSearchResults {
		query.Limit = domain.MaxSearchResults
	}

	docs, err := uc.repo.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	out := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.OwnerID != query.OwnerID {
			continue
		}
		out = append(out, doc)
		if len(out) == query.Limit {
			break
		}
	}
	return out, nil
}
