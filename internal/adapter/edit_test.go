package adapter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentcore/internal/corerr"
)

func TestApplyInProcessEditPreservesBytes(t *testing.T) {
	out, err := ApplyInProcessEdit("a\nb\nc\n", "b", "BB")
	require.NoError(t, err)
	require.Equal(t, "a\nBB\nc\n", out)
}

func TestApplyInProcessEditAmbiguous(t *testing.T) {
	_, err := ApplyInProcessEdit("x\nx\n", "x", "y")
	require.Error(t, err)
	require.True(t, corerr.Is(err, corerr.KindAmbiguous))
}

func TestApplyInProcessEditNotFoundOnSecondApply(t *testing.T) {
	first, err := ApplyInProcessEdit("a\nb\nc\n", "b", "BB")
	require.NoError(t, err)

	_, err = ApplyInProcessEdit(first, "b", "BB")
	require.Error(t, err)
	require.True(t, corerr.Is(err, corerr.KindNotFound))
}

func TestApplyInProcessEditNoOpWhenSearchEqualsReplace(t *testing.T) {
	out, err := ApplyInProcessEdit("a\nb\nc\n", "b", "b")
	require.NoError(t, err)
	require.Equal(t, "a\nb\nc\n", out)
}

func TestApplyInProcessEditNormalizesCRLF(t *testing.T) {
	out, err := ApplyInProcessEdit("a\r\nb\r\nc\r\n", "b", "BB")
	require.NoError(t, err)
	require.Equal(t, "a\nBB\nc\n", out)
}

func TestApplyHexScanEditMatchesInProcess(t *testing.T) {
	out, err := ApplyHexScanEdit("a\nb\nc\n", "b", "BB")
	require.NoError(t, err)
	require.Equal(t, "a\nBB\nc\n", out)

	_, err = ApplyHexScanEdit("x\nx\n", "x", "y")
	require.True(t, corerr.Is(err, corerr.KindAmbiguous))
}
