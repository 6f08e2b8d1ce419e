package assemble

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/codectx/codectx/internal/unit"
)

// Terminal palette, single lime accent.
const (
	colorLime     = "154"
	colorWhite    = "255"
	colorGray     = "245"
	colorDarkGray = "238"
)

// HumanFormatter renders the context for terminal reading: a framed
// header, per-unit section headers, and an aligned source table.
type HumanFormatter struct {
	header  lipgloss.Style
	section lipgloss.Style
	dim     lipgloss.Style
	label   lipgloss.Style
	panel   lipgloss.Style
}

// NewHumanFormatter returns a formatter with the default color styles.
func NewHumanFormatter() *HumanFormatter {
	return &HumanFormatter{
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorLime)),
		section: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorWhite)),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorDarkGray)),
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
		panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorDarkGray)).
			Padding(0, 1),
	}
}

// NewHumanFormatterNoColor returns a formatter that keeps the layout but
// emits no escape sequences, for non-TTY output.
func NewHumanFormatterNoColor() *HumanFormatter {
	plain := lipgloss.NewStyle()
	return &HumanFormatter{
		header:  plain,
		section: plain,
		dim:     plain,
		label:   plain,
		panel:   lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1),
	}
}

func (f *HumanFormatter) Name() string { return FormatHuman }

func (f *HumanFormatter) Format(assembled *unit.AssembledContext) string {
	var b strings.Builder

	title := fmt.Sprintf("Codebase Context  %s",
		f.label.Render(fmt.Sprintf("%d/%d tokens", assembled.TokensUsed, assembled.Budget)))
	b.WriteString(f.panel.Render(f.header.Render(title)))
	b.WriteString("\n\n")

	for _, sec := range strings.Split(assembled.Context, "\n\n") {
		if header, rest, ok := splitSectionHeader(sec); ok {
			b.WriteString(f.section.Render(header))
			b.WriteString("\n")
			b.WriteString(f.dim.Render(strings.Repeat("─", min(len(header), 72))))
			b.WriteString("\n")
			b.WriteString(rest)
		} else {
			b.WriteString(sec)
		}
		b.WriteString("\n\n")
	}

	if table := f.sourceTable(assembled.Sources); table != "" {
		b.WriteString(f.section.Render("Sources"))
		b.WriteString("\n")
		b.WriteString(table)
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// sourceTable renders included sources as aligned columns.
func (f *HumanFormatter) sourceTable(sources []unit.SourceAttribution) string {
	idWidth, typeWidth := 0, 0
	rows := 0
	for _, src := range sources {
		if !src.Included {
			continue
		}
		rows++
		if len(src.Identifier) > idWidth {
			idWidth = len(src.Identifier)
		}
		if len(src.Type) > typeWidth {
			typeWidth = len(src.Type)
		}
	}
	if rows == 0 {
		return ""
	}

	var b strings.Builder
	for _, src := range sources {
		if !src.Included {
			continue
		}
		note := ""
		if src.Truncated {
			note = "  " + f.dim.Render("truncated")
		}
		fmt.Fprintf(&b, "  %-*s  %s  %s  %s%s\n",
			idWidth, src.Identifier,
			f.label.Render(fmt.Sprintf("%-*s", typeWidth, src.Type)),
			f.label.Render(fmt.Sprintf("%.2f", src.Score)),
			f.dim.Render(src.FilePath),
			note)
	}
	return b.String()
}

// splitSectionHeader detects the `## identifier (type)` header that opens
// each unit section.
func splitSectionHeader(section string) (header, rest string, ok bool) {
	if !strings.HasPrefix(section, "## ") {
		return "", "", false
	}
	idx := strings.Index(section, "\n")
	if idx < 0 {
		return strings.TrimPrefix(section, "## "), "", true
	}
	return strings.TrimPrefix(section[:idx], "## "), section[idx+1:], true
}

var _ Formatter = (*HumanFormatter)(nil)
