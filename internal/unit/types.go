// Package unit defines the canonical record shapes the retrieval core works
// with: extracted code units, embeddable chunks, retrieval candidates, and
// the dependency graph derived from unit edges.
package unit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Type tags for units. Tags are data: the core never privileges one tag over
// another, these constants exist so callers and tests agree on spelling.
type Type string

const (
	TypeModel         Type = "model"
	TypeController    Type = "controller"
	TypeService       Type = "service"
	TypeJob           Type = "job"
	TypeMailer        Type = "mailer"
	TypeViewComponent Type = "view_component"
	TypeConcern       Type = "concern"
	TypeGraphQLType   Type = "graphql_type"
	TypeRoute         Type = "route"
	TypeMigration     Type = "migration"
	TypeCacheSite     Type = "cache_site"
	TypeStateMachine  Type = "state_machine"
	TypeRubyClass     Type = "ruby_class"
	TypeRubyModule    Type = "ruby_module"
	TypeRubyMethod    Type = "ruby_method"
	TypeNone          Type = ""
)

// Dependency is a directed edge from one unit to another.
// Targets need not resolve; dangling edges are permitted and reported.
type Dependency struct {
	Target       string `json:"target"`
	Relationship string `json:"relationship"`
	Via          string `json:"via,omitempty"`
}

// Unit is a distilled code element produced by an external extractor.
type Unit struct {
	Identifier      string            `json:"identifier"`
	Type            Type              `json:"type"`
	Namespace       string            `json:"namespace,omitempty"`
	FilePath        string            `json:"file_path,omitempty"`
	SourceCode      string            `json:"source_code"`
	SourceHash      string            `json:"source_hash"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Dependencies    []Dependency      `json:"dependencies,omitempty"`
	EstimatedTokens int               `json:"estimated_tokens"`
}

// Fingerprint recomputes SourceHash and EstimatedTokens from SourceCode.
// Hash is deterministic: identical source always yields identical hash.
func (u *Unit) Fingerprint() {
	u.SourceHash = HashContent(u.SourceCode)
	u.EstimatedTokens = EstimateTokens(u.SourceCode)
}

// ChunkType identifies which slice of a unit a chunk carries.
type ChunkType string

const (
	ChunkWhole        ChunkType = "whole"
	ChunkSummary      ChunkType = "summary"
	ChunkAssociations ChunkType = "associations"
	ChunkValidations  ChunkType = "validations"
	ChunkCallbacks    ChunkType = "callbacks"
	ChunkScopes       ChunkType = "scopes"
	ChunkMethods      ChunkType = "methods"

	// ChunkActionPrefix prefixes per-action controller chunks (action_show).
	ChunkActionPrefix = "action_"
)

// Chunk is an embeddable slice of a unit. Chunks with empty content are
// discarded before they reach the indexer.
type Chunk struct {
	Content          string            `json:"content"`
	ChunkType        ChunkType         `json:"chunk_type"`
	ParentIdentifier string            `json:"parent_identifier"`
	ParentType       Type              `json:"parent_type"`
	ContentHash      string            `json:"content_hash"`
	TokenCount       int               `json:"token_count"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// ID returns the chunk identifier: "<parent>#<chunk_type>".
func (c *Chunk) ID() string {
	return c.ParentIdentifier + "#" + string(c.ChunkType)
}

// CandidateSource tags which search strategy produced a candidate.
type CandidateSource string

const (
	SourceVector  CandidateSource = "vector"
	SourceKeyword CandidateSource = "keyword"
	SourceGraph   CandidateSource = "graph"
	SourceDirect  CandidateSource = "direct"
)

// Priority orders sources for de-duplication: vector > graph > keyword > direct.
// Higher wins when the same identifier arrives from multiple sources with
// equal scores.
func (s CandidateSource) Priority() int {
	switch s {
	case SourceVector:
		return 3
	case SourceGraph:
		return 2
	case SourceKeyword:
		return 1
	default:
		return 0
	}
}

// Candidate is a single retrieval hit.
type Candidate struct {
	Identifier string            `json:"identifier"`
	Score      float64           `json:"score"`
	Source     CandidateSource   `json:"source"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Intent labels what the query author is trying to do.
type Intent string

const (
	IntentUnderstand Intent = "understand"
	IntentImplement  Intent = "implement"
	IntentDebug      Intent = "debug"
	IntentTrace      Intent = "trace"
	IntentFind       Intent = "find"
	IntentOther      Intent = "other"
)

// Scope labels how wide the answer should range.
type Scope string

const (
	ScopeBroad    Scope = "broad"
	ScopeFocused  Scope = "focused"
	ScopeSpecific Scope = "specific"
)

// Classification is the label set derived from a query before any search runs.
type Classification struct {
	Intent           Intent   `json:"intent"`
	Scope            Scope    `json:"scope"`
	TargetType       Type     `json:"target_type"`
	FrameworkContext bool     `json:"framework_context"`
	Keywords         []string `json:"keywords"`
}

// SourceAttribution records one candidate's presence in assembled context.
type SourceAttribution struct {
	Identifier string  `json:"identifier"`
	Type       Type    `json:"type"`
	Score      float64 `json:"score"`
	FilePath   string  `json:"file_path,omitempty"`
	Truncated  bool    `json:"truncated,omitempty"`
	Included   bool    `json:"included"`
}

// AssembledContext is the token-budgeted output of the context assembler.
type AssembledContext struct {
	Context    string              `json:"context"`
	TokensUsed int                 `json:"tokens_used"`
	Budget     int                 `json:"budget"`
	Sources    []SourceAttribution `json:"sources"`
	Sections   []string            `json:"sections"`
}

// RetrievalTrace summarizes one pass through the pipeline.
type RetrievalTrace struct {
	Classification  Classification `json:"classification"`
	Strategy        string         `json:"strategy"`
	CandidateCount  int            `json:"candidate_count"`
	RankedCount     int            `json:"ranked_count"`
	TokensUsed      int            `json:"tokens_used"`
	ElapsedMS       int64          `json:"elapsed_ms"`
	DegradationTier int            `json:"degradation_tier"`
	Timestamp       time.Time      `json:"timestamp,omitempty"`
}

// EstimateTokens approximates token count as ceil(len/3.5). The same
// estimator is used for chunk budgeting and context assembly so the numbers
// agree everywhere.
func EstimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (2*len(s) + 6) / 7
}

// HashContent returns the hex SHA-256 of content.
func HashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
