// Package chunk converts extracted units into embeddable chunks. Small units
// become a single whole chunk; models are split into semantic sections and
// controllers into per-action chunks. Chunking is deterministic: identical
// input produces byte-identical chunks.
package chunk

import (
	"regexp"
	"strings"

	"github.com/codectx/codectx/internal/unit"
)

// DefaultWholeThreshold is the token count at or below which a unit becomes
// a single whole chunk regardless of type.
const DefaultWholeThreshold = 200

// Line-classification patterns for model sections.
var (
	associationPattern = regexp.MustCompile(`^\s*(has_many|has_one|belongs_to|has_and_belongs_to_many)\b`)
	validationPattern  = regexp.MustCompile(`^\s*(validates?|validates_\w+)\b`)
	callbackPattern    = regexp.MustCompile(`^\s*(before_|after_|around_)\w+`)
	scopePattern       = regexp.MustCompile(`^\s*(scope|default_scope)\b`)
	defPattern         = regexp.MustCompile(`^\s*def\s+([A-Za-z_][A-Za-z0-9_]*[?!=]?)`)

	// blockOpenerPattern matches a trailing `do` (with optional block args)
	// that opens a nested block inside a method body.
	blockOpenerPattern = regexp.MustCompile(`\bdo(\s*\|[^|]*\|)?\s*$`)

	// blockKeywordPattern matches statement-position keywords that open an
	// end-terminated block. Modifier forms (`return if x`) don't start the
	// line and are excluded.
	blockKeywordPattern = regexp.MustCompile(`^\s*(if|unless|case|begin|while|until|for)\b`)

	endPattern = regexp.MustCompile(`^\s*end\b`)

	visibilityPattern = regexp.MustCompile(`^\s*(private|protected)\s*$`)
)

// modelSectionOrder is the canonical emission order for model chunks.
var modelSectionOrder = []unit.ChunkType{
	unit.ChunkSummary,
	unit.ChunkAssociations,
	unit.ChunkValidations,
	unit.ChunkCallbacks,
	unit.ChunkScopes,
	unit.ChunkMethods,
}

// SemanticChunker splits units into typed chunks.
type SemanticChunker struct {
	// WholeThreshold is the token count at or below which any unit is
	// emitted as one whole chunk (default: 200).
	WholeThreshold int
}

// NewSemanticChunker creates a chunker with default thresholds.
func NewSemanticChunker() *SemanticChunker {
	return &SemanticChunker{WholeThreshold: DefaultWholeThreshold}
}

// Chunk converts a unit into its ordered chunk list. Units with empty source
// yield no chunks. Every chunk's content is a verbatim slice of the unit's
// source lines; no characters are invented.
func (c *SemanticChunker) Chunk(u *unit.Unit) []*unit.Chunk {
	if strings.TrimSpace(u.SourceCode) == "" {
		return nil
	}

	threshold := c.WholeThreshold
	if threshold <= 0 {
		threshold = DefaultWholeThreshold
	}

	if unit.EstimateTokens(u.SourceCode) <= threshold {
		return []*unit.Chunk{c.build(u, unit.ChunkWhole, u.SourceCode)}
	}

	switch u.Type {
	case unit.TypeModel:
		return c.chunkModel(u)
	case unit.TypeController:
		return c.chunkController(u)
	default:
		return []*unit.Chunk{c.build(u, unit.ChunkWhole, u.SourceCode)}
	}
}

// build constructs a chunk, computing hash and token count. Empty content
// returns a chunk the callers must discard; build's callers filter those.
func (c *SemanticChunker) build(u *unit.Unit, ct unit.ChunkType, content string) *unit.Chunk {
	return &unit.Chunk{
		Content:          content,
		ChunkType:        ct,
		ParentIdentifier: u.Identifier,
		ParentType:       u.Type,
		ContentHash:      unit.HashContent(content),
		TokenCount:       unit.EstimateTokens(content),
	}
}

// chunkModel classifies each line into a section. Unclassified leading lines
// fall into summary; continuation lines stick with the current section;
// method bodies belong to methods wholesale.
func (c *SemanticChunker) chunkModel(u *unit.Unit) []*unit.Chunk {
	lines := strings.Split(u.SourceCode, "\n")
	sections := make(map[unit.ChunkType][]string)

	current := unit.ChunkSummary
	methodDepth := 0

	for _, line := range lines {
		if methodDepth > 0 {
			sections[unit.ChunkMethods] = append(sections[unit.ChunkMethods], line)
			methodDepth += nestingDelta(line)
			continue
		}

		switch {
		case defPattern.MatchString(line):
			sections[unit.ChunkMethods] = append(sections[unit.ChunkMethods], line)
			current = unit.ChunkMethods
			if !oneLineMethod(line) {
				methodDepth = 1
			}
		case associationPattern.MatchString(line):
			sections[unit.ChunkAssociations] = append(sections[unit.ChunkAssociations], line)
			current = unit.ChunkAssociations
		case validationPattern.MatchString(line):
			sections[unit.ChunkValidations] = append(sections[unit.ChunkValidations], line)
			current = unit.ChunkValidations
		case callbackPattern.MatchString(line):
			sections[unit.ChunkCallbacks] = append(sections[unit.ChunkCallbacks], line)
			current = unit.ChunkCallbacks
		case scopePattern.MatchString(line):
			sections[unit.ChunkScopes] = append(sections[unit.ChunkScopes], line)
			current = unit.ChunkScopes
		default:
			// Continuation lines stay with the current section.
			sections[current] = append(sections[current], line)
		}
	}

	var chunks []*unit.Chunk
	for _, ct := range modelSectionOrder {
		content := strings.TrimRight(strings.Join(sections[ct], "\n"), "\n")
		if strings.TrimSpace(content) == "" {
			continue
		}
		chunks = append(chunks, c.build(u, ct, content))
	}
	return chunks
}

// chunkController collects the preamble (class line, filters, comments) into
// a summary chunk, then emits one action_<name> chunk per public action.
// Everything after a private/protected marker is skipped.
func (c *SemanticChunker) chunkController(u *unit.Unit) []*unit.Chunk {
	lines := strings.Split(u.SourceCode, "\n")

	var summary []string
	var chunks []*unit.Chunk

	i := 0
	for i < len(lines) {
		line := lines[i]

		if visibilityPattern.MatchString(line) {
			break
		}

		if m := defPattern.FindStringSubmatch(line); m != nil {
			name := m[1]
			body, consumed := captureMethod(lines, i)
			content := strings.TrimRight(strings.Join(body, "\n"), "\n")
			if strings.TrimSpace(content) != "" {
				ct := unit.ChunkType(unit.ChunkActionPrefix + name)
				chunks = append(chunks, c.build(u, ct, content))
			}
			i += consumed
			continue
		}

		summary = append(summary, line)
		i++
	}

	result := make([]*unit.Chunk, 0, len(chunks)+1)
	summaryContent := strings.TrimRight(strings.Join(summary, "\n"), "\n")
	if strings.TrimSpace(summaryContent) != "" {
		result = append(result, c.build(u, unit.ChunkSummary, summaryContent))
	}
	return append(result, chunks...)
}

// captureMethod returns the lines of the method starting at start (the def
// line) and how many lines were consumed, using the do/def-end nesting
// tracker.
func captureMethod(lines []string, start int) ([]string, int) {
	if oneLineMethod(lines[start]) {
		return lines[start : start+1], 1
	}

	depth := 1
	for i := start + 1; i < len(lines); i++ {
		depth += nestingDelta(lines[i])
		if depth == 0 {
			return lines[start : i+1], i + 1 - start
		}
	}
	// Unbalanced source: take everything to the end.
	return lines[start:], len(lines) - start
}

// nestingDelta returns the change in def/do-end nesting depth a line causes.
func nestingDelta(line string) int {
	delta := 0
	switch {
	case defPattern.MatchString(line) && !oneLineMethod(line):
		delta++
	case blockKeywordPattern.MatchString(line):
		delta++
	case blockOpenerPattern.MatchString(line):
		delta++
	}
	if endPattern.MatchString(line) {
		delta--
	}
	return delta
}

// oneLineMethod reports a `def foo; ...; end` single-line definition.
func oneLineMethod(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "def ") &&
		strings.Contains(trimmed, ";") &&
		strings.HasSuffix(trimmed, "end")
}
