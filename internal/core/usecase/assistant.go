package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/docdesk/internal/core/domain"
	"github.com/kirillkom/docdesk/internal/core/ports"
)

const maxQuestionLength = 4000

type AssistantUseCase struct {
	repo    ports.DocumentRepository
	engine  ports.AnalysisEngine
	chunker ports.TextChunker
}

// NewAssistantUseCase builds the chat and compare flows. A nil chunker makes
// long documents fall back to plain truncation.
func NewAssistantUseCase(repo ports.DocumentRepository, engine ports.AnalysisEngine, chunker ports.TextChunker) *AssistantUseCase {
	return &AssistantUseCase{repo: repo, engine: engine, chunker: chunker}
}

func (uc *AssistantUseCase) Chat(ctx context.Context, ownerID, documentID, question string) (*domain.ChatAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chat", errors.New("question is required"))
	}
	if len(question) > maxQuestionLength {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chat", fmt.Errorf("question longer than %d bytes", maxQuestionLength))
	}
	doc, err := loadOwned(ctx, uc.repo, "chat", ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if err := requireContent("chat", doc); err != nil {
		return nil, err
	}

	res, err := uc.engine.Analyze(ctx, domain.KindQuestionAnswer, uc.buildQuestionInput(doc, question))
	if err != nil {
		return nil, domain.WrapError(domain.ErrAnalysisFailed, "chat", err)
	}
	return &domain.ChatAnswer{
		DocumentID: doc.ID,
		Answer:     strings.TrimSpace(res.Text),
		Confidence: domain.ClampConfidence(res.Confidence),
	}, nil
}

func (uc *AssistantUseCase) Compare(ctx context.Context, ownerID, firstID, secondID string) (*domain.Comparison, error) {
	firstID, secondID = strings.TrimSpace(firstID), strings.TrimSpace(secondID)
	if firstID != "" && firstID == secondID {
		return nil, domain.WrapError(domain.ErrInvalidInput, "compare", errors.New("documents must differ"))
	}
	first, err := loadOwned(ctx, uc.repo, "compare", ownerID, firstID)
	if err != nil {
		return nil, err
	}
	second, err := loadOwned(ctx, uc.repo, "compare", ownerID, secondID)
	if err != nil {
		return nil, err
	}
	for _, doc := range []*domain.Document{first, second} {
		if err := requireContent("compare", doc); err != nil {
			return nil, err
		}
	}

	res, err := uc.engine.Analyze(ctx, domain.KindComparison, uc.buildComparisonInput(first, second))
	if err != nil {
		return nil, domain.WrapError(domain.ErrAnalysisFailed, "compare", err)
	}
	return &domain.Comparison{
		Comparison: strings.TrimSpace(res.Text),
		Confidence: domain.ClampConfidence(res.Confidence),
		Document1:  first.Ref(),
		Document2:  second.Ref(),
	}, nil
}

func requireContent(op string, doc *domain.Document) error {
	if doc.HasContent() {
		return nil
	}
	return domain.WrapError(domain.ErrInvalidState, op, fmt.Errorf("document %s state=%s", doc.ID, doc.State()))
}

func (uc *AssistantUseCase) buildQuestionInput(doc *domain.Document, question string) string {
	content := fitContent(doc.Content, question, promptContentBudget-len(question), uc.chunker)
	return fmt.Sprintf("Document: %s\n\n%s\n\nQuestion: %s", doc.FileName, content, question)
}

// buildComparisonInput gives each document half of the content budget.
func (uc *AssistantUseCase) buildComparisonInput(first, second *domain.Document) string {
	half := promptContentBudget / 2
	return fmt.Sprintf(
		"Document 1 (%s, %s):\n%s\n\nDocument 2 (%s, %s):\n%s",
		first.FileName, first.FileType, fitContent(first.Content, "", half, uc.chunker),
		second.FileName, second.FileType, fitContent(second.Content, "", half, uc.chunker),
	)
}
