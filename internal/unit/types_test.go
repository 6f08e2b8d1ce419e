package unit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"empty", "", 0},
		{"one char", "a", 1},
		{"seven chars", "abcdefg", 2},
		{"exact multiple", "abcdefgabcdefg", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.input))
		})
	}
}

func TestEstimateTokens_MatchesCeilFormula(t *testing.T) {
	// The integer arithmetic must agree with ceil(len/3.5) for all lengths.
	for n := 0; n <= 1000; n++ {
		s := make([]byte, n)
		want := int(math.Ceil(float64(n) / 3.5))
		assert.Equal(t, want, EstimateTokens(string(s)), "len=%d", n)
	}
}

func TestHashContent_Deterministic(t *testing.T) {
	h1 := HashContent("class User < ApplicationRecord\nend")
	h2 := HashContent("class User < ApplicationRecord\nend")
	assert.Equal(t, h1, h2)

	sum := sha256.Sum256([]byte("class User < ApplicationRecord\nend"))
	assert.Equal(t, hex.EncodeToString(sum[:]), h1)
}

func TestUnit_Fingerprint(t *testing.T) {
	u := &Unit{Identifier: "User", Type: TypeModel, SourceCode: "class User\nend"}
	u.Fingerprint()

	assert.Equal(t, HashContent(u.SourceCode), u.SourceHash)
	assert.Equal(t, EstimateTokens(u.SourceCode), u.EstimatedTokens)
}

func TestChunk_ID(t *testing.T) {
	c := &Chunk{ParentIdentifier: "User", ChunkType: ChunkValidations}
	assert.Equal(t, "User#validations", c.ID())
}

func TestCandidateSource_Priority(t *testing.T) {
	// Normative ordering: vector > graph > keyword > direct.
	require.Greater(t, SourceVector.Priority(), SourceGraph.Priority())
	require.Greater(t, SourceGraph.Priority(), SourceKeyword.Priority())
	require.Greater(t, SourceKeyword.Priority(), SourceDirect.Priority())
}
