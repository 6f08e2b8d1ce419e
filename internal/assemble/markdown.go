package assemble

import (
	"fmt"
	"strings"

	"github.com/codectx/codectx/internal/unit"
)

// MarkdownFormatter renders the context as a markdown document with a
// trailing source list. The assembled context already uses `## identifier`
// headers, so the body passes through with code sections fenced.
type MarkdownFormatter struct{}

func (f *MarkdownFormatter) Name() string { return FormatMarkdown }

func (f *MarkdownFormatter) Format(assembled *unit.AssembledContext) string {
	var b strings.Builder

	b.WriteString("# Codebase Context\n\n")
	fmt.Fprintf(&b, "_%d of %d tokens used_\n\n", assembled.TokensUsed, assembled.Budget)

	if assembled.Context != "" {
		b.WriteString(fenceSections(assembled.Context))
		b.WriteString("\n")
	}

	included := 0
	for _, src := range assembled.Sources {
		if src.Included {
			included++
		}
	}
	if included > 0 {
		b.WriteString("\n## Sources\n\n")
		for _, src := range assembled.Sources {
			if !src.Included {
				continue
			}
			fmt.Fprintf(&b, "- **%s** (%s) — score %.2f, `%s`",
				src.Identifier, src.Type, src.Score, src.FilePath)
			if src.Truncated {
				b.WriteString(" _(truncated)_")
			}
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// fenceSections wraps the body of each `## header` section in a code fence,
// leaving the header and file line as markdown.
func fenceSections(context string) string {
	sections := strings.Split(context, "\n\n## ")
	for i, sec := range sections {
		if i > 0 {
			sec = "## " + sec
		}
		sections[i] = fenceOne(sec)
	}
	return strings.Join(sections, "\n\n")
}

func fenceOne(section string) string {
	if !strings.HasPrefix(section, "## ") {
		return section
	}
	// Header, "File: ..." line, blank line, then source.
	idx := strings.Index(section, "\n\n")
	if idx < 0 {
		return section
	}
	head, body := section[:idx], section[idx+2:]
	return head + "\n\n```ruby\n" + strings.TrimRight(body, "\n") + "\n```"
}

var _ Formatter = (*MarkdownFormatter)(nil)
