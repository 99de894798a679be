package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'plain'", shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, "'a b'", shellQuote("a b"))
}

func TestParentDir(t *testing.T) {
	assert.Equal(t, "/a/b", parentDir("/a/b/c.txt"))
	assert.Equal(t, "/", parentDir("/c.txt"))
	assert.Equal(t, "/", parentDir("c.txt"))
}

func TestHasHiddenComponent(t *testing.T) {
	assert.True(t, hasHiddenComponent(".git/config"))
	assert.True(t, hasHiddenComponent("a/.cache/b"))
	assert.False(t, hasHiddenComponent("a/b/c"))
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, "fallback", orDefault("", "fallback"))
	assert.Equal(t, "set", orDefault("set", "fallback"))
}
