package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/docdesk/internal/core/domain"
	"github.com/kirillkom/docdesk/internal/core/ports"
)

const (
	serverName    = "docdesk"
	serverVersion = "1.0.0"
)

type Dependencies struct {
	Library   ports.DocumentLibrary
	Searcher  ports.DocumentSearcher
	Assistant ports.DocumentAssistant
	Logger    *slog.Logger
}

// Server exposes one owner's document workspace as MCP tools. The owner is
// fixed at startup since stdio transports carry no credentials.
type Server struct {
	deps    Dependencies
	ownerID string
	log     *slog.Logger
}

func New(deps Dependencies, ownerID string) (*Server, error) {
	if ownerID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new mcp server", fmt.Errorf("owner id is required"))
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, ownerID: ownerID, log: logger}, nil
}

func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	srv.AddTool(
		mcp.NewTool(
			"list_documents",
			mcp.WithDescription("List uploaded documents, newest first."),
			mcp.WithNumber("limit", mcp.Description("Page size, at most 50")),
			mcp.WithNumber("offset", mcp.Description("Number of documents to skip")),
		),
		s.handleListDocuments,
	)
	srv.AddTool(
		mcp.NewTool(
			"get_document",
			mcp.WithDescription("Fetch one document with its extracted content and analysis."),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("Document id")),
		),
		s.handleGetDocument,
	)
	srv.AddTool(
		mcp.NewTool(
			"search_documents",
			mcp.WithDescription("Search documents by content or by file name."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Text to look for")),
			mcp.WithString("mode", mcp.Enum(string(domain.SearchByContent), string(domain.SearchByFilename)), mcp.Description("Where to search, content by default")),
			mcp.WithString("file_type", mcp.Enum(string(domain.FileTypePDF), string(domain.FileTypeDOCX)), mcp.Description("Restrict to one file type")),
			mcp.WithNumber("limit", mcp.Description("Maximum results, at most 20")),
		),
		s.handleSearchDocuments,
	)
	srv.AddTool(
		mcp.NewTool(
			"chat_with_document",
			mcp.WithDescription("Ask a question about one processed document."),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("Document id")),
			mcp.WithString("question", mcp.Required(), mcp.Description("Question to answer from the document")),
		),
		s.handleChat,
	)
	srv.AddTool(
		mcp.NewTool(
			"compare_documents",
			mcp.WithDescription("Compare two processed documents."),
			mcp.WithString("doc1_id", mcp.Required(), mcp.Description("First document id")),
			mcp.WithString("doc2_id", mcp.Required(), mcp.Description("Second document id")),
		),
		s.handleCompare,
	)
	return srv
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	s.log.Info("mcp_server_started", "owner_id", s.ownerID)
	return server.ServeStdio(s.MCPServer())
}

func (s *Server) handleListDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := s.deps.Library.List(ctx, s.ownerID, domain.ListOptions{
		Limit:  request.GetInt("limit", 0),
		Offset: request.GetInt("offset", 0),
	})
	if err != nil {
		return s.toolError("list_documents", err), nil
	}
	return jsonResult(page)
}

func (s *Server) handleGetDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.deps.Library.Get(ctx, s.ownerID, id)
	if err != nil {
		return s.toolError("get_document", err), nil
	}
	return jsonResult(map[string]any{"document": doc, "status": doc.State()})
}

func (s *Server) handleSearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode, err := domain.ParseSearchMode(request.GetString("mode", ""))
	if err != nil {
		return s.toolError("search_documents", err), nil
	}
	docs, err := s.deps.Searcher.Search(ctx, domain.SearchQuery{
		OwnerID:  s.ownerID,
		Text:     text,
		Mode:     mode,
		FileType: domain.FileType(request.GetString("file_type", "")),
		Limit:    request.GetInt("limit", 0),
	})
	if err != nil {
		return s.toolError("search_documents", err), nil
	}
	refs := make([]domain.DocumentRef, 0, len(docs))
	for i := range docs {
		refs = append(refs, docs[i].Ref())
	}
	return jsonResult(map[string]any{"results": refs})
}

func (s *Server) handleChat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	answer, err := s.deps.Assistant.Chat(ctx, s.ownerID, id, question)
	if err != nil {
		return s.toolError("chat_with_document", err), nil
	}
	return jsonResult(answer)
}

func (s *Server) handleCompare(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	first, err := request.RequireString("doc1_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	second, err := request.RequireString("doc2_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.deps.Assistant.Compare(ctx, s.ownerID, first, second)
	if err != nil {
		return s.toolError("compare_documents", err), nil
	}
	return jsonResult(result)
}

// toolError reports domain failures to the client and hides anything else.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	for _, kind := range []error{
		domain.ErrInvalidInput,
		domain.ErrNotFound,
		domain.ErrUnsupportedFileType,
		domain.ErrInvalidState,
		domain.ErrAnalysisFailed,
		domain.ErrTemporary,
	} {
		if domain.IsKind(err, kind) {
			return mcp.NewToolResultError(err.Error())
		}
	}
	s.log.Error("mcp_tool_failed", "tool", tool, "error", err)
	return mcp.NewToolResultError("internal error")
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
