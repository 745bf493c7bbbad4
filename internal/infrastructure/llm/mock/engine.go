// Package mock is the reference analysis engine. It returns canned results
// with a fixed confidence and never calls out of process.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

const Confidence = 0.85

const Keywords = "document, analysis, content, information, data"

// Categories are the classification results the engine chooses from.
var Categories = []string{
	"Business Document",
	"Legal Document",
	"Technical Document",
	"Academic Paper",
	"Personal Document",
}

type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) Analyze(ctx context.Context, kind domain.AnalysisKind, text string) (domain.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrAnalysisFailed, "mock analyze", err)
	}
	if strings.TrimSpace(text) == "" {
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrAnalysisFailed, "mock analyze", fmt.Errorf("empty input text"))
	}

	var result string
	switch kind {
	case domain.KindSummary:
		result = "This document provides an overview of its subject matter, outlining the main points and supporting details in a structured form."
	case domain.KindClassification:
		result = classify(text)
	case domain.KindKeywords:
		result = Keywords
	case domain.KindInsights:
		result = "The document is organized around a small number of central themes. It contains actionable information worth reviewing and no obvious gaps in the material presented."
	case domain.KindQuestionAnswer:
		result = "Based on the document content, the answer to your question is covered in the relevant sections of the document."
	case domain.KindComparison:
		result = "Both documents address related topics. They differ in scope and level of detail, and each contains information the other does not."
	default:
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrAnalysisFailed, "mock analyze", fmt.Errorf("unknown kind %q", kind))
	}

	return domain.AnalysisResult{Kind: kind, Text: result, Confidence: Confidence}, nil
}

// classify picks a category from the text so the same content always gets
// the same label.
func classify(text string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return Categories[h.Sum32()%uint32(len(Categories))]
}
