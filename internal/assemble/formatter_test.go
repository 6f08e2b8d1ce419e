package assemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codectx/codectx/internal/unit"
)

func sampleAssembled() *unit.AssembledContext {
	return &unit.AssembledContext{
		Context: "## User (model)\nFile: app/models/user.rb\n\n" +
			"class User < ApplicationRecord\n  validates :email, presence: true\nend",
		TokensUsed: 120,
		Budget:     1000,
		Sections:   []string{"User"},
		Sources: []unit.SourceAttribution{
			{Identifier: "User", Type: unit.TypeModel, Score: 0.91,
				FilePath: "app/models/user.rb", Included: true},
			{Identifier: "BigService", Type: unit.TypeService, Score: 0.42,
				FilePath: "app/services/big_service.rb", Included: true, Truncated: true},
			{Identifier: "Skipped", Type: unit.TypeModel, Score: 0.1, Included: false},
		},
	}
}

func TestNewFormatter(t *testing.T) {
	f, err := NewFormatter("")
	require.NoError(t, err)
	assert.Nil(t, f, "empty tag means raw output")

	for _, tag := range []string{FormatXML, FormatMarkdown, FormatPlain, FormatHuman} {
		f, err := NewFormatter(tag)
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, tag, f.Name())
	}

	_, err = NewFormatter("yaml")
	assert.Error(t, err)
}

func TestXMLFormatter(t *testing.T) {
	out := (&XMLFormatter{}).Format(sampleAssembled())

	assert.Contains(t, out, `<meta tokens="120" budget="1000"/>`)
	assert.Contains(t, out, "class User &lt; ApplicationRecord", "content is escaped")
	assert.Contains(t, out, `<source identifier="User" type="model" score="0.9100" file="app/models/user.rb"/>`)
	assert.Contains(t, out, `truncated="true"`)
	assert.NotContains(t, out, "Skipped", "excluded sources are omitted")
}

func TestMarkdownFormatter(t *testing.T) {
	out := (&MarkdownFormatter{}).Format(sampleAssembled())

	assert.Contains(t, out, "# Codebase Context")
	assert.Contains(t, out, "## User (model)")
	assert.Contains(t, out, "```ruby\nclass User < ApplicationRecord")
	assert.Contains(t, out, "## Sources")
	assert.Contains(t, out, "- **User** (model)")
	assert.Contains(t, out, "_(truncated)_")
	assert.NotContains(t, out, "**Skipped**")
}

func TestPlainFormatter(t *testing.T) {
	out := (&PlainFormatter{}).Format(sampleAssembled())

	assert.Contains(t, out, "Tokens: 120/1000")
	assert.Contains(t, out, "---\n")
	assert.Contains(t, out, "[Source: User (model) score=0.91]")
	assert.Contains(t, out, "[Source: BigService (service) score=0.42] [truncated]")
	assert.NotContains(t, out, "Skipped")
}

func TestHumanFormatter(t *testing.T) {
	out := NewHumanFormatterNoColor().Format(sampleAssembled())

	assert.Contains(t, out, "Codebase Context")
	assert.Contains(t, out, "120/1000 tokens")
	assert.Contains(t, out, "User (model)")
	assert.Contains(t, out, "Sources")
	assert.Contains(t, out, "app/models/user.rb")
	assert.Contains(t, out, "truncated")
	assert.NotContains(t, out, "Skipped")
}
