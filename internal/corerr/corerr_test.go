package corerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(KindAgentBusy, "busy")
	assert.True(t, Is(err, KindAgentBusy))
	assert.False(t, Is(err, KindAbort))
}

func TestIsMatchesThroughWrapping(t *testing.T) {
	inner := New(KindAbort, "aborted")
	wrapped := fmt.Errorf("turn failed: %w", inner)
	assert.True(t, Is(wrapped, KindAbort))

	doubly := Wrap(KindToolExecution, "tool failed", wrapped)
	// The outermost kind wins.
	assert.True(t, Is(doubly, KindToolExecution))
}

func TestIsRejectsForeignErrors(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindAbort))
	assert.False(t, Is(nil, KindAbort))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindPersistence, "save failed", cause)
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "save failed")
	assert.Contains(t, err.Error(), "disk full")
}

func TestAbortErrorSentinel(t *testing.T) {
	assert.True(t, Is(AbortError, KindAbort))
}
