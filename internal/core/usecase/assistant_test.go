package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

func TestChatConcatenatesContentAndQuestion(t *testing.T) {
	repo := newRepoFake(completeDoc("doc-1", "alice"))
	engine := &engineFake{results: map[domain.AnalysisKind]string{domain.KindQuestionAnswer: " 42 "}}
	uc := NewAssistantUseCase(repo, engine, nil)

	answer, err := uc.Chat(context.Background(), "alice", "doc-1", "what is the answer?")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if answer.Answer != "42" || answer.Confidence != 1 || answer.DocumentID != "doc-1" {
		t.Fatalf("unexpected answer %+v", answer)
	}
	input := engine.inputs[domain.KindQuestionAnswer]
	if !strings.Contains(input, "text of doc-1") || !strings.Contains(input, "what is the answer?") {
		t.Fatalf("engine input missing content or question: %q", input)
	}
}

func TestChatRequiresExtractedContent(t *testing.T) {
	failed := uploadedDoc("failed", "alice")
	failed.Content = domain.ExtractionFailedContent
	repo := newRepoFake(uploadedDoc("new", "alice"), failed)
	uc := NewAssistantUseCase(repo, &engineFake{}, nil)

	for _, id := range []string{"new", "failed"} {
		if _, err := uc.Chat(context.Background(), "alice", id, "q"); !domain.IsKind(err, domain.ErrInvalidState) {
			t.Fatalf("Chat(%s) error = %v", id, err)
		}
	}
	if _, err := uc.Chat(context.Background(), "alice", "new", " "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestChatForeignDocument(t *testing.T) {
	uc := NewAssistantUseCase(newRepoFake(completeDoc("doc-1", "bob")), &engineFake{}, nil)

	if _, err := uc.Chat(context.Background(), "alice", "doc-1", "q"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("Chat() error = %v", err)
	}
}

func TestChatEngineFailure(t *testing.T) {
	uc := NewAssistantUseCase(newRepoFake(completeDoc("doc-1", "alice")), &engineFake{failOn: domain.KindQuestionAnswer}, nil)

	if _, err := uc.Chat(context.Background(), "alice", "doc-1", "q"); !domain.IsKind(err, domain.ErrAnalysisFailed) {
		t.Fatalf("Chat() error = %v", err)
	}
}

func TestCompareDocuments(t *testing.T) {
	repo := newRepoFake(completeDoc("doc-1", "alice"), completeDoc("doc-2", "alice"))
	engine := &engineFake{}
	uc := NewAssistantUseCase(repo, engine, nil)

	cmp, err := uc.Compare(context.Background(), "alice", "doc-1", "doc-2")
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if cmp.Document1.ID != "doc-1" || cmp.Document2.ID != "doc-2" || cmp.Comparison != "comparison result" {
		t.Fatalf("unexpected comparison %+v", cmp)
	}
	input := engine.inputs[domain.KindComparison]
	if !strings.Contains(input, "text of doc-1") || !strings.Contains(input, "text of doc-2") {
		t.Fatalf("comparison input missing content: %q", input)
	}
}

func TestCompareAcrossOwnersIsNotFound(t *testing.T) {
	repo := newRepoFake(completeDoc("doc-1", "alice"), completeDoc("doc-2", "bob"))
	engine := &engineFake{}
	uc := NewAssistantUseCase(repo, engine, nil)

	if _, err := uc.Compare(context.Background(), "alice", "doc-1", "doc-2"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("Compare() error = %v", err)
	}
	if len(engine.inputs) != 0 {
		t.Fatalf("engine must not run")
	}
	if _, err := uc.Compare(context.Background(), "alice", "doc-1", "doc-1"); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for identical ids, got %v", err)
	}
}
