package domain

import (
	"fmt"
	"strings"
	"time"
)

type AnalysisKind string

const (
	KindSummary        AnalysisKind = "summary"
	KindClassification AnalysisKind = "classification"
	KindKeywords       AnalysisKind = "keywords"
	KindInsights       AnalysisKind = "insights"
	KindQuestionAnswer AnalysisKind = "question_answer"
	KindComparison     AnalysisKind = "comparison"
)

// AllAnalysisKinds lists every kind an engine must handle.
var AllAnalysisKinds = []AnalysisKind{
	KindSummary,
	KindClassification,
	KindKeywords,
	KindInsights,
	KindQuestionAnswer,
	KindComparison,
}

// DocumentAnalysisKinds are the kinds run by one processing pass and stored as records.
var DocumentAnalysisKinds = []AnalysisKind{
	KindSummary,
	KindClassification,
	KindKeywords,
	KindInsights,
}

func ParseAnalysisKind(raw string) (AnalysisKind, error) {
	kind := AnalysisKind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllAnalysisKinds {
		if kind == known {
			return kind, nil
		}
	}
	return "", WrapError(ErrInvalidInput, "parse analysis kind", fmt.Errorf("kind=%q", raw))
}

// Stored reports whether results of this kind are persisted as AnalysisRecords.
func (k AnalysisKind) Stored() bool {
	switch k {
	case KindSummary, KindClassification, KindKeywords, KindInsights:
		return true
	default:
		return false
	}
}

type AnalysisResult struct {
	Kind       AnalysisKind `json:"kind"`
	Text       string       `json:"result"`
	Confidence float64      `json:"confidence"`
}

type AnalysisRecord struct {
	ID         string       `json:"id"`
	DocumentID string       `json:"document_id"`
	OwnerID    string       `json:"owner_id"`
	Kind       AnalysisKind `json:"kind"`
	Result     string       `json:"result"`
	Confidence float64      `json:"confidence"`
	CreatedAt  time.Time    `json:"created_at"`
}

// ClampConfidence keeps engine scores inside [0,1].
func ClampConfidence(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// SplitKeywords turns a comma separated engine result into an ordered,
// de-duplicated keyword list.
func SplitKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		kw := strings.TrimSpace(part)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}

type ChatAnswer struct {
	DocumentID string  `json:"document_id"`
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

type Comparison struct {
	Comparison string      `json:"comparison"`
	Confidence float64     `json:"confidence"`
	Document1  DocumentRef `json:"doc1"`
	Document2  DocumentRef `json:"doc2"`
}
