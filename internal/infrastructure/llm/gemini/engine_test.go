package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

type generatorFake struct {
	reply  string
	err    error
	prompt string
}

func (f *generatorFake) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	if len(parts) > 0 {
		if txt, ok := parts[0].(genai.Text); ok {
			f.prompt = string(txt)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(f.reply)}},
		}},
	}, nil
}

func TestAnalyzeParsesReply(t *testing.T) {
	fake := &generatorFake{reply: `{"result":"Summary of the lease.","confidence":0.8}`}
	engine := &Engine{model: fake}

	got, err := engine.Analyze(context.Background(), domain.KindSummary, "Lease agreement for office space")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if got.Text != "Summary of the lease." || got.Confidence != 0.8 || got.Kind != domain.KindSummary {
		t.Fatalf("Analyze() = %+v", got)
	}
	if !strings.Contains(fake.prompt, "Lease agreement") {
		t.Fatalf("prompt missing document text: %q", fake.prompt)
	}
}

func TestAnalyzeWrapsFailures(t *testing.T) {
	engine := &Engine{model: &generatorFake{err: &googleapi.Error{Code: http.StatusServiceUnavailable}}}
	_, err := engine.Analyze(context.Background(), domain.KindInsights, "text")
	if !domain.IsKind(err, domain.ErrAnalysisFailed) || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("Analyze() error = %v, want temporary analysis failure", err)
	}

	engine = &Engine{model: &generatorFake{err: &googleapi.Error{Code: http.StatusBadRequest}}}
	_, err = engine.Analyze(context.Background(), domain.KindInsights, "text")
	if !domain.IsKind(err, domain.ErrAnalysisFailed) || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("Analyze() error = %v, want permanent analysis failure", err)
	}
}

func TestAnalyzeEmptyCandidate(t *testing.T) {
	engine := &Engine{model: &generatorFake{reply: "  "}}
	_, err := engine.Analyze(context.Background(), domain.KindSummary, "text")
	if !domain.IsKind(err, domain.ErrAnalysisFailed) {
		t.Fatalf("Analyze() error = %v", err)
	}
}

func TestClassifyGeminiError(t *testing.T) {
	if c := classifyGeminiError(&genai.BlockedError{}); c.Retryable || c.RecordFailure {
		t.Fatalf("blocked prompt must not be retried: %+v", c)
	}
	if c := classifyGeminiError(errors.New("connection reset")); !c.Retryable {
		t.Fatalf("transport errors must be retried: %+v", c)
	}
}
