package assemble

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/codectx/codectx/internal/unit"
)

// XMLFormatter wraps the context in a <codebase-context> envelope with
// escaped attributes, suitable for models that parse tagged context.
type XMLFormatter struct{}

func (f *XMLFormatter) Name() string { return FormatXML }

func (f *XMLFormatter) Format(assembled *unit.AssembledContext) string {
	var b strings.Builder

	b.WriteString("<codebase-context>\n")
	fmt.Fprintf(&b, "  <meta tokens=\"%d\" budget=\"%d\"/>\n",
		assembled.TokensUsed, assembled.Budget)

	b.WriteString("  <content>")
	b.WriteString(escapeXML(assembled.Context))
	b.WriteString("</content>\n")

	b.WriteString("  <sources>\n")
	for _, src := range assembled.Sources {
		if !src.Included {
			continue
		}
		fmt.Fprintf(&b, "    <source identifier=\"%s\" type=\"%s\" score=\"%.4f\" file=\"%s\"",
			escapeXML(src.Identifier), escapeXML(string(src.Type)),
			src.Score, escapeXML(src.FilePath))
		if src.Truncated {
			b.WriteString(` truncated="true"`)
		}
		b.WriteString("/>\n")
	}
	b.WriteString("  </sources>\n")
	b.WriteString("</codebase-context>")

	return b.String()
}

// escapeXML escapes text for use in both element content and attribute
// values.
func escapeXML(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

var _ Formatter = (*XMLFormatter)(nil)
