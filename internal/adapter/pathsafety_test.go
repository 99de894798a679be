package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWithinRelativePath(t *testing.T) {
	resolved, display, err := ResolveWithin("/work", "src/main.go")
	require.NoError(t, err)
	assert.Equal(t, "/work/src/main.go", resolved)
	assert.Equal(t, "src/main.go", display)
}

func TestResolveWithinAbsolutePathInsideRoot(t *testing.T) {
	resolved, display, err := ResolveWithin("/work", "/work/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "/work/a/b.txt", resolved)
	assert.Equal(t, "a/b.txt", display)
}

func TestResolveWithinRefusesEscape(t *testing.T) {
	_, _, err := ResolveWithin("/work", "../etc/passwd")
	require.Error(t, err)

	_, _, err = ResolveWithin("/work", "/etc/passwd")
	require.Error(t, err)

	_, _, err = ResolveWithin("/work", "a/../../outside")
	require.Error(t, err)
}

func TestResolveWithinDotDotInsideRootIsFine(t *testing.T) {
	resolved, display, err := ResolveWithin("/work", "a/b/../c.txt")
	require.NoError(t, err)
	assert.Equal(t, "/work/a/c.txt", resolved)
	assert.Equal(t, "a/c.txt", display)
}

func TestResolveWithinRootItself(t *testing.T) {
	resolved, display, err := ResolveWithin("/work", "/work")
	require.NoError(t, err)
	assert.Equal(t, "/work", resolved)
	assert.Equal(t, "", display)
}
