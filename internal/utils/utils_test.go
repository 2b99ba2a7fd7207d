package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewID(t *testing.T) {
	id := NewID("qtn")

	assert.True(t, strings.HasPrefix(id, "qtn_"))
	assert.Len(t, id, len("qtn_")+20)
	assert.NotEqual(t, id, NewID("qtn"))
	assert.Len(t, NewID(""), 20)
}

func TestTruncateText_RuneBoundary(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	out := tp.TruncateText("héllo wörld", 2)

	assert.True(t, strings.HasPrefix(out, "h\n[... Content truncated"))
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, "short", tp.TruncateText("short", 10))
}

func TestSanitizeUTF8(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	assert.Equal(t, "ab", tp.SanitizeUTF8("a\xffb"))
}

func TestClipRunes(t *testing.T) {
	assert.Equal(t, "hé", ClipRunes("héllo", 2))
	assert.Equal(t, "héllo", ClipRunes("héllo", 5))
	assert.Equal(t, "abc", ClipRunes("abc", 0))
}
