package generator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateContext_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"short",
		strings.Repeat("abc ", 3000),
		strings.Repeat("日本語テキスト", 2000),
	}
	for _, in := range inputs {
		once := TruncateContext(in, 8000)
		twice := TruncateContext(once, 8000)
		assert.Equal(t, once, twice)
		assert.LessOrEqual(t, len([]rune(once)), 8000)
	}
	assert.Equal(t, "abc", TruncateContext("abcdef", 3))
	assert.Equal(t, "abcdef", TruncateContext("abcdef", 0))
}

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages("What is X?", "[Source: a.pdf - Page 1]\nX is Y.", 8000)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, SystemInstruction, msgs[0].Content)
	assert.Contains(t, msgs[0].Content, "only from the supplied context")
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t, "Context:\n[Source: a.pdf - Page 1]\nX is Y.\n\nQuestion: What is X?", msgs[1].Content)
}

func TestBuildMessages_TruncatesContextNotQuery(t *testing.T) {
	query := strings.Repeat("q", 50)
	msgs := BuildMessages(query, strings.Repeat("c", 100), 10)
	assert.Equal(t, "Context:\n"+strings.Repeat("c", 10)+"\n\nQuestion: "+query, msgs[1].Content)
}
