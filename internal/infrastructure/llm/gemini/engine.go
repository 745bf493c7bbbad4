// Package gemini runs analyses on Google Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/kirillkom/docdesk/internal/core/domain"
	"github.com/kirillkom/docdesk/internal/infrastructure/llm/prompt"
	"github.com/kirillkom/docdesk/internal/infrastructure/resilience"
)

const DefaultModel = "gemini-2.0-flash"

type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type Engine struct {
	client   *genai.Client
	model    generator
	executor *resilience.Executor
}

func New(ctx context.Context, apiKey, modelName string, executor *resilience.Executor) (*Engine, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.2)
	model.ResponseMIMEType = "application/json"

	return &Engine{client: client, model: model, executor: executor}, nil
}

func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

func (e *Engine) Analyze(ctx context.Context, kind domain.AnalysisKind, text string) (domain.AnalysisResult, error) {
	p, err := prompt.Build(kind, text)
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	raw, err := resilience.ExecuteValue(ctx, e.executor, "gemini.analyze."+string(kind), func(callCtx context.Context) (string, error) {
		return e.generate(callCtx, p)
	}, classifyGeminiError)
	if err != nil {
		err = resilience.MarkTemporary("gemini generate", err, classifyGeminiError)
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrAnalysisFailed, "gemini analyze "+string(kind), err)
	}
	return prompt.Parse(kind, raw)
}

func (e *Engine) generate(ctx context.Context, p string) (string, error) {
	resp, err := e.model.GenerateContent(ctx, genai.Text(p))
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return out, nil
}

var classifyGeminiError = resilience.Classify(judgeGeminiError)

// judgeGeminiError retries quota and server errors. Safety blocks and other
// 4xx answers will not change on retry. Errors without an API status are
// transport failures.
func judgeGeminiError(err error) resilience.Verdict {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return resilience.Rejected
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return resilience.Transient
		}
		return resilience.Rejected
	}
	return resilience.Transient
}
