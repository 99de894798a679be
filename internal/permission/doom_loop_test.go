package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func readCall(file string) map[string]string {
	return map[string]string{"file": file}
}

func TestDoomLoopFlagsThirdIdenticalCall(t *testing.T) {
	d := NewDoomLoopDetector()

	assert.False(t, d.Check("s1", "read", readCall("a.txt")))
	assert.False(t, d.Check("s1", "read", readCall("a.txt")))
	assert.True(t, d.Check("s1", "read", readCall("a.txt")))
	assert.True(t, d.Check("s1", "read", readCall("a.txt")), "streak keeps flagging until broken")
}

func TestDoomLoopDifferentArgsResetStreak(t *testing.T) {
	d := NewDoomLoopDetector()

	d.Check("s1", "read", readCall("a.txt"))
	d.Check("s1", "read", readCall("a.txt"))
	assert.False(t, d.Check("s1", "read", readCall("b.txt")), "new args start a fresh streak")
	d.Check("s1", "read", readCall("b.txt"))
	assert.True(t, d.Check("s1", "read", readCall("b.txt")))
}

func TestDoomLoopDifferentToolResetsStreak(t *testing.T) {
	d := NewDoomLoopDetector()

	d.Check("s1", "read", readCall("a.txt"))
	d.Check("s1", "read", readCall("a.txt"))
	assert.False(t, d.Check("s1", "write", readCall("a.txt")))
	assert.False(t, d.Check("s1", "read", readCall("a.txt")), "streak restarted after the interleaved call")
}

func TestDoomLoopSessionsAreIndependent(t *testing.T) {
	d := NewDoomLoopDetector()

	d.Check("s1", "read", readCall("a.txt"))
	d.Check("s1", "read", readCall("a.txt"))
	assert.False(t, d.Check("s2", "read", readCall("a.txt")))
	assert.True(t, d.Check("s1", "read", readCall("a.txt")))
}

func TestDoomLoopClearAndReset(t *testing.T) {
	d := NewDoomLoopDetector()

	d.Check("s1", "read", readCall("a.txt"))
	d.Check("s1", "read", readCall("a.txt"))

	d.Clear("s1")
	assert.False(t, d.Check("s1", "read", readCall("a.txt")))

	d.Check("s1", "read", readCall("a.txt"))
	d.Reset("s1")
	assert.False(t, d.Check("s1", "read", readCall("a.txt")))
}
