package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codectx/codectx/internal/guard"
	"github.com/codectx/codectx/internal/retrieve"
	"github.com/codectx/codectx/internal/store"
	"github.com/codectx/codectx/pkg/version"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// Server bridges AI clients with the retrieval engine. codebase_retrieve
// runs the full classify/search/rank/assemble pipeline; codebase_search is
// the cheap identifier lookup that skips embedding entirely;
// codebase_feedback feeds the gap detector.
type Server struct {
	mcp       *mcp.Server
	retriever *retrieve.Retriever
	metadata  store.MetadataStore
	feedback  *guard.FeedbackStore
	logger    *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger overrides the server's logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates an MCP server over the given retriever, metadata store,
// and feedback log.
func NewServer(retriever *retrieve.Retriever, metadata store.MetadataStore, feedback *guard.FeedbackStore, opts ...ServerOption) (*Server, error) {
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if feedback == nil {
		return nil, errors.New("feedback store is required")
	}

	s := &Server{
		retriever: retriever,
		metadata:  metadata,
		feedback:  feedback,
		logger:    slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "codectx",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Serve runs the server over stdio until the context is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", "transport", "stdio", "version", version.Version)

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", "error", err)
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "codebase_retrieve",
		Description: "Answer a natural language question about the codebase with " +
			"assembled source context. Classifies the query, runs hybrid " +
			"semantic/keyword/graph search, and returns ranked source code " +
			"within a token budget. Use this to understand how something works.",
	}, s.retrieveHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "codebase_search",
		Description: "Look up units by identifier or identifier fragment. Fast " +
			"metadata-only search that never calls the embedding provider. Use " +
			"this when you already know (part of) a class or method name.",
	}, s.searchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "codebase_feedback",
		Description: "Report retrieval quality: rate how useful an answer was " +
			"(1 useless to 5 perfect) or name a unit that should have been " +
			"returned but was not. Recurring complaints surface in codectx status.",
	}, s.feedbackHandler)

	s.logger.Debug("MCP tools registered", "count", 3)
}

// retrieveHandler is the MCP SDK handler for the codebase_retrieve tool.
// Degraded retrieval is not an error: the result carries its tier and
// per-source failures, and the client decides what to do with them.
func (s *Server) retrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, RetrieveOutput{}, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	if input.Budget < 0 {
		return nil, RetrieveOutput{}, NewInvalidParamsError("budget must not be negative")
	}

	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("codebase_retrieve started",
		"request_id", requestID, "query", input.Query, "budget", input.Budget)

	var qopts []retrieve.QueryOption
	if input.Budget > 0 {
		qopts = append(qopts, retrieve.WithBudget(input.Budget))
	}
	res := s.retriever.Retrieve(ctx, input.Query, qopts...)

	s.logger.Info("codebase_retrieve completed",
		"request_id", requestID,
		"strategy", res.Strategy,
		"tier", res.Trace.DegradationTier,
		"tokens", res.TokensUsed,
		"duration", time.Since(start))

	return nil, toRetrieveOutput(res), nil
}

// searchHandler is the MCP SDK handler for the codebase_search tool.
func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	keyword := strings.TrimSpace(input.Keyword)
	if keyword == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("keyword parameter is required and must be a non-empty string")
	}
	limit := clampLimit(input.Limit, defaultSearchLimit, maxSearchLimit)

	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("codebase_search started",
		"request_id", requestID, "keyword", keyword, "type", input.Type, "limit", limit)

	// Over-fetch when a type filter applies; the store ranks by match
	// position and the filter discards from anywhere in that ranking.
	fetch := limit
	if input.Type != "" {
		fetch = limit * 4
	}
	units, err := s.metadata.SearchSubstring(ctx, keyword, fetch)
	if err != nil {
		s.logger.Error("codebase_search failed",
			"request_id", requestID, "error", err, "duration", time.Since(start))
		return nil, SearchOutput{}, MapError(err)
	}

	output := SearchOutput{Results: make([]SearchResult, 0, limit)}
	for _, u := range units {
		if input.Type != "" && string(u.Type) != input.Type {
			continue
		}
		output.Results = append(output.Results, toSearchResult(u))
		if len(output.Results) == limit {
			break
		}
	}

	s.logger.Info("codebase_search completed",
		"request_id", requestID,
		"result_count", len(output.Results),
		"duration", time.Since(start))

	return nil, output, nil
}

// feedbackHandler is the MCP SDK handler for the codebase_feedback tool.
// A score and a missing unit are independent signals; a call carrying both
// records both.
func (s *Server) feedbackHandler(_ context.Context, _ *mcp.CallToolRequest, input FeedbackInput) (
	*mcp.CallToolResult,
	FeedbackOutput,
	error,
) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, FeedbackOutput{}, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	if input.Score < 0 {
		return nil, FeedbackOutput{}, NewInvalidParamsError("score must not be negative")
	}

	var entries []guard.Feedback
	if input.Score > 0 {
		entries = append(entries, guard.Feedback{
			Type:  guard.FeedbackRating,
			Query: query,
			Score: input.Score,
		})
	}
	if missing := strings.TrimSpace(input.MissingUnit); missing != "" {
		entries = append(entries, guard.Feedback{
			Type:        guard.FeedbackGap,
			Query:       query,
			MissingUnit: missing,
		})
	}
	if len(entries) == 0 {
		return nil, FeedbackOutput{}, NewInvalidParamsError("either score or missing_unit must be provided")
	}

	requestID := generateRequestID()
	for _, entry := range entries {
		if err := s.feedback.Append(entry); err != nil {
			s.logger.Error("codebase_feedback failed",
				"request_id", requestID, "error", err)
			return nil, FeedbackOutput{}, MapError(err)
		}
	}

	s.logger.Info("codebase_feedback recorded",
		"request_id", requestID, "entries", len(entries))

	return nil, FeedbackOutput{Recorded: len(entries)}, nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
