// Package assemble turns ranked candidates into a token-budgeted context
// string with per-source attribution, and formats the result for different
// consumers.
package assemble

import (
	"context"
	"fmt"
	"strings"

	"github.com/codectx/codectx/internal/store"
	"github.com/codectx/codectx/internal/unit"
)

// Budget split across the three sections.
const (
	structuralShare = 0.10
	primaryShare    = 0.70
	frameworkShare  = 0.20
)

// truncationFloor is the minimum room (in tokens) worth truncating into;
// below it the candidate is skipped instead.
const truncationFloor = 64

// truncationMarker separates the kept head and tail of truncated source.
const truncationMarker = "\n…\n"

// Assembler builds the final context from ranked candidates, resolving
// their source through the metadata store.
type Assembler struct {
	metadata store.MetadataStore
}

// NewAssembler creates an assembler over the given metadata store.
func NewAssembler(metadata store.MetadataStore) *Assembler {
	return &Assembler{metadata: metadata}
}

// Assemble walks the ranked candidates in order and appends each one's
// formatted source until its section budget runs out. Candidates whose
// metadata marks them as framework draw from the framework pool; everyone
// else draws from the primary pool. A candidate that does not fit whole is
// truncated head+tail when at least 64 tokens of room remain, otherwise
// skipped and recorded with included=false.
//
// A zero or negative budget yields an empty context with no sources.
func (a *Assembler) Assemble(ctx context.Context, ranked []unit.Candidate, structural string, budget int) (*unit.AssembledContext, error) {
	out := &unit.AssembledContext{Budget: budget, Sources: []unit.SourceAttribution{}}
	if budget <= 0 {
		out.Context = ""
		return out, nil
	}

	structuralBudget := int(float64(budget) * structuralShare)
	primaryBudget := int(float64(budget) * primaryShare)
	frameworkBudget := int(float64(budget) * frameworkShare)

	var sections []string

	if structural != "" && structuralBudget > 0 {
		overview, _ := truncateToTokens(structural, structuralBudget)
		sections = append(sections, overview)
		out.Sections = append(out.Sections, "overview")
		out.TokensUsed += unit.EstimateTokens(overview)
	}

	primaryUsed := 0
	frameworkUsed := 0

	for _, cand := range ranked {
		if err := ctx.Err(); err != nil {
			// Cancelled mid-assembly: return what we have.
			break
		}

		u, err := a.metadata.Get(ctx, cand.Identifier)
		if err != nil {
			if err == store.ErrNotFound {
				out.Sources = append(out.Sources, attribution(cand, nil, false, false))
				continue
			}
			return nil, err
		}

		sectionBudget := primaryBudget
		used := &primaryUsed
		if cand.Metadata["source"] == "framework" {
			sectionBudget = frameworkBudget
			used = &frameworkUsed
		}

		block := formatCandidate(u)
		blockTokens := unit.EstimateTokens(block)
		room := sectionBudget - *used

		truncated := false
		if blockTokens > room {
			if room < truncationFloor {
				out.Sources = append(out.Sources, attribution(cand, u, false, false))
				continue
			}
			overhead := blockTokens - unit.EstimateTokens(u.SourceCode)
			shortened, ok := truncateToTokens(u.SourceCode, room-overhead)
			if !ok {
				out.Sources = append(out.Sources, attribution(cand, u, false, false))
				continue
			}
			trimmed := *u
			trimmed.SourceCode = shortened
			block = formatCandidate(&trimmed)
			blockTokens = unit.EstimateTokens(block)
			truncated = true
		}

		*used += blockTokens
		out.TokensUsed += blockTokens
		sections = append(sections, block)
		out.Sections = append(out.Sections, u.Identifier)
		out.Sources = append(out.Sources, attribution(cand, u, true, truncated))
	}

	out.Context = strings.Join(sections, "\n\n")
	return out, nil
}

// formatCandidate renders one unit as a context block.
func formatCandidate(u *unit.Unit) string {
	return fmt.Sprintf("## %s (%s)\nFile: %s\n\n%s",
		u.Identifier, u.Type, u.FilePath, u.SourceCode)
}

func attribution(cand unit.Candidate, u *unit.Unit, included, truncated bool) unit.SourceAttribution {
	attr := unit.SourceAttribution{
		Identifier: cand.Identifier,
		Score:      cand.Score,
		Included:   included,
		Truncated:  truncated,
	}
	if u != nil {
		attr.Type = u.Type
		attr.FilePath = u.FilePath
	} else if t, ok := cand.Metadata["type"]; ok {
		attr.Type = unit.Type(t)
	}
	return attr
}

// truncateToTokens shortens s to fit maxTokens, keeping head and tail with
// a marker between. Returns ok=false when maxTokens leaves no usable room.
func truncateToTokens(s string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return "", false
	}
	if unit.EstimateTokens(s) <= maxTokens {
		return s, true
	}

	markerTokens := unit.EstimateTokens(truncationMarker)
	if maxTokens <= markerTokens {
		return "", false
	}

	// tokens = ceil(len/3.5), so the character budget is tokens*3.5 floored.
	charBudget := (maxTokens - markerTokens) * 7 / 2
	if charBudget >= len(s) {
		charBudget = len(s) - 1
	}
	if charBudget < 2 {
		return "", false
	}

	head := charBudget / 2
	tail := charBudget - head
	return s[:head] + truncationMarker + s[len(s)-tail:], true
}
