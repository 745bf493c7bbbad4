package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docdesk/internal/core/domain"
	"github.com/kirillkom/docdesk/internal/infrastructure/llm/prompt"
	"github.com/kirillkom/docdesk/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func New(baseURL, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Engine runs analyses through a local Ollama model.
type Engine struct {
	client   *Client
	executor *resilience.Executor
}

func NewEngine(client *Client, executor *resilience.Executor) *Engine {
	return &Engine{client: client, executor: executor}
}

func (e *Engine) Analyze(ctx context.Context, kind domain.AnalysisKind, text string) (domain.AnalysisResult, error) {
	p, err := prompt.Build(kind, text)
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	raw, err := resilience.ExecuteValue(ctx, e.executor, "ollama.analyze."+string(kind), func(callCtx context.Context) (string, error) {
		return e.client.generate(callCtx, p)
	}, classifyOllamaError)
	if err != nil {
		err = resilience.MarkTemporary("ollama generate", err, classifyOllamaError)
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrAnalysisFailed, "ollama analyze "+string(kind), err)
	}
	return prompt.Parse(kind, raw)
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// generate asks for a single JSON reply. Temperature 0 keeps repeated
// analyses of the same content stable.
func (c *Client) generate(ctx context.Context, p string) (string, error) {
	resp, err := postJSON[generateResponse](ctx, c, "/api/generate", "generate", generateRequest{
		Model:   c.model,
		Prompt:  p,
		Format:  "json",
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(resp.Response)
	if out == "" {
		return "", fmt.Errorf("ollama generate: empty response")
	}
	return out, nil
}
