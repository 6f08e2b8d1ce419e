package assemble

import (
	"fmt"
	"strings"

	"github.com/codectx/codectx/internal/unit"
)

// PlainFormatter renders the context as plain text with `---` separators
// and one attribution line per included source. No markup, safe for logs
// and piping.
type PlainFormatter struct{}

func (f *PlainFormatter) Name() string { return FormatPlain }

func (f *PlainFormatter) Format(assembled *unit.AssembledContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Tokens: %d/%d\n", assembled.TokensUsed, assembled.Budget)

	if assembled.Context != "" {
		b.WriteString("---\n")
		b.WriteString(strings.ReplaceAll(assembled.Context, "\n\n## ", "\n---\n## "))
		b.WriteString("\n")
	}

	b.WriteString("---\n")
	for _, src := range assembled.Sources {
		if !src.Included {
			continue
		}
		fmt.Fprintf(&b, "[Source: %s (%s) score=%.2f]", src.Identifier, src.Type, src.Score)
		if src.Truncated {
			b.WriteString(" [truncated]")
		}
		b.WriteString("\n")
	}

	return b.String()
}

var _ Formatter = (*PlainFormatter)(nil)
