// Package prompt maps every analysis kind to a model prompt and parses the
// JSON reply shared by the model-backed engines.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

// maxInput bounds the document text placed into one prompt.
const maxInput = 24000

// defaultConfidence is used when a model reply omits its score.
const defaultConfidence = 0.5

const replyFormat = `Return a strict JSON object with keys:
result (string), confidence (number from 0 to 1 describing how well the text supports the result).
No markdown, no extra keys.`

var instructions = map[domain.AnalysisKind]string{
	domain.KindSummary: `You summarize documents.
Write a concise summary of the document below in 3 to 5 sentences.`,
	domain.KindClassification: `You classify documents.
Pick exactly one category for the document below from:
Business Document, Legal Document, Technical Document, Academic Paper, Personal Document.
The result is the category name only.`,
	domain.KindKeywords: `You extract keywords.
List the 5 to 10 most important keywords of the document below, most important first.
The result is a single string of comma separated keywords.`,
	domain.KindInsights: `You review documents.
List the key insights, risks and action items found in the document below as short sentences.`,
	domain.KindQuestionAnswer: `You answer questions about a document.
The input holds the document content followed by the user question.
Answer only from the document. If it does not contain the answer, say so directly.`,
	domain.KindComparison: `You compare documents.
The input holds two documents with their names and types.
Describe their main similarities and differences and which one covers what.`,
}

// Build renders the prompt for kind over text.
func Build(kind domain.AnalysisKind, text string) (string, error) {
	instruction, ok := instructions[kind]
	if !ok {
		return "", domain.WrapError(domain.ErrAnalysisFailed, "build prompt", fmt.Errorf("unknown kind %q", kind))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.WrapError(domain.ErrAnalysisFailed, "build prompt", errors.New("empty input text"))
	}
	return instruction + "\n" + replyFormat + "\n\nInput:\n" + truncate(text, maxInput), nil
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

type reply struct {
	Result     json.RawMessage `json:"result"`
	Confidence *float64        `json:"confidence"`
}

// Parse reads a model reply into an AnalysisResult for kind.
func Parse(kind domain.AnalysisKind, raw string) (domain.AnalysisResult, error) {
	var r reply
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &r); err != nil {
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrAnalysisFailed, "parse model reply", err)
	}

	text, err := resultText(r.Result)
	if err != nil {
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrAnalysisFailed, "parse model reply", err)
	}
	if text == "" {
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrAnalysisFailed, "parse model reply", errors.New("empty result"))
	}

	confidence := defaultConfidence
	if r.Confidence != nil {
		confidence = *r.Confidence
	}
	return domain.AnalysisResult{
		Kind:       kind,
		Text:       text,
		Confidence: domain.ClampConfidence(confidence),
	}, nil
}

// resultText accepts a string or a list of strings, which models often return for keywords.
func resultText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("missing result")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", fmt.Errorf("result is neither string nor list: %w", err)
	}
	return strings.Join(domain.SplitKeywords(strings.Join(list, ",")), ", "), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
