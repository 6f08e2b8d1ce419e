package assemble

import (
	"fmt"

	"github.com/codectx/codectx/internal/unit"
)

// Formatter renders an assembled context for a target consumer. Formatters
// are pure: same input, same output.
type Formatter interface {
	Format(assembled *unit.AssembledContext) string
	Name() string
}

// Formatter tags accepted by configuration and the retrieval API.
const (
	FormatXML      = "xml"
	FormatMarkdown = "markdown"
	FormatPlain    = "plain"
	FormatHuman    = "human"
)

// NewFormatter resolves a formatter tag. An empty tag returns nil, meaning
// the raw assembled context is used as-is.
func NewFormatter(tag string) (Formatter, error) {
	switch tag {
	case "":
		return nil, nil
	case FormatXML:
		return &XMLFormatter{}, nil
	case FormatMarkdown:
		return &MarkdownFormatter{}, nil
	case FormatPlain:
		return &PlainFormatter{}, nil
	case FormatHuman:
		return NewHumanFormatter(), nil
	default:
		return nil, fmt.Errorf("unknown formatter %q", tag)
	}
}
