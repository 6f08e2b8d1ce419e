package mcp

import (
	"strings"
	"unicode/utf8"

	"github.com/codectx/codectx/internal/retrieve"
	"github.com/codectx/codectx/internal/unit"
)

// RetrieveInput defines the input schema for the codebase_retrieve tool.
type RetrieveInput struct {
	Query  string `json:"query" jsonschema:"natural language question about the codebase"`
	Budget int    `json:"budget,omitempty" jsonschema:"token budget for the assembled context, default 8000"`
}

// RetrieveOutput defines the output schema for the codebase_retrieve tool.
type RetrieveOutput struct {
	Context         string            `json:"context" jsonschema:"assembled source context within the token budget"`
	Strategy        string            `json:"strategy" jsonschema:"search strategy that produced the context"`
	DegradationTier int               `json:"degradation_tier" jsonschema:"0 is full hybrid search, higher tiers indicate fallback paths"`
	TokensUsed      int               `json:"tokens_used"`
	Budget          int               `json:"budget"`
	Sources         []SourceOutput    `json:"sources" jsonschema:"units considered for the context, in rank order"`
	ErrorMetadata   map[string]string `json:"error_metadata,omitempty" jsonschema:"per-source failures when retrieval is degraded"`
}

// SourceOutput attributes one unit's contribution to the assembled context.
type SourceOutput struct {
	Identifier string  `json:"identifier"`
	Type       string  `json:"type"`
	Score      float64 `json:"score"`
	FilePath   string  `json:"file_path,omitempty"`
	Truncated  bool    `json:"truncated,omitempty"`
	Included   bool    `json:"included"`
}

// SearchInput defines the input schema for the codebase_search tool.
type SearchInput struct {
	Keyword string `json:"keyword" jsonschema:"identifier or identifier fragment to look up"`
	Type    string `json:"type,omitempty" jsonschema:"filter by unit type, e.g. model, controller, service"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchOutput defines the output schema for the codebase_search tool.
type SearchOutput struct {
	Results []SearchResult `json:"results"`
}

// SearchResult is one unit matched by identifier.
type SearchResult struct {
	Identifier      string `json:"identifier"`
	Type            string `json:"type"`
	FilePath        string `json:"file_path,omitempty"`
	Snippet         string `json:"snippet,omitempty"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

// FeedbackInput defines the input schema for the codebase_feedback tool.
type FeedbackInput struct {
	Query       string  `json:"query" jsonschema:"the query the feedback is about"`
	Score       float64 `json:"score,omitempty" jsonschema:"rating of the answer from 1 (useless) to 5 (perfect)"`
	MissingUnit string  `json:"missing_unit,omitempty" jsonschema:"identifier of a unit that should have been returned but was not"`
}

// FeedbackOutput defines the output schema for the codebase_feedback tool.
type FeedbackOutput struct {
	Recorded int `json:"recorded" jsonschema:"number of feedback entries written"`
}

// snippetLimit bounds the source preview in search results.
const snippetLimit = 240

func toRetrieveOutput(res *retrieve.RetrievalResult) RetrieveOutput {
	out := RetrieveOutput{
		Context:         res.Context,
		Strategy:        res.Strategy,
		DegradationTier: res.Trace.DegradationTier,
		TokensUsed:      res.TokensUsed,
		Budget:          res.Budget,
		Sources:         make([]SourceOutput, 0, len(res.Sources)),
		ErrorMetadata:   res.ErrorMetadata,
	}
	for _, s := range res.Sources {
		out.Sources = append(out.Sources, SourceOutput{
			Identifier: s.Identifier,
			Type:       string(s.Type),
			Score:      s.Score,
			FilePath:   s.FilePath,
			Truncated:  s.Truncated,
			Included:   s.Included,
		})
	}
	return out
}

func toSearchResult(u *unit.Unit) SearchResult {
	return SearchResult{
		Identifier:      u.Identifier,
		Type:            string(u.Type),
		FilePath:        u.FilePath,
		Snippet:         snippet(u.SourceCode),
		EstimatedTokens: u.EstimatedTokens,
	}
}

// snippet returns the head of the source, cut at a rune boundary.
func snippet(source string) string {
	source = strings.TrimSpace(source)
	if len(source) <= snippetLimit {
		return source
	}
	cut := snippetLimit
	for cut > 0 && !utf8.RuneStart(source[cut]) {
		cut--
	}
	return source[:cut] + "…"
}

// clampLimit bounds a client-supplied limit, substituting the default for
// zero or negative values.
func clampLimit(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
