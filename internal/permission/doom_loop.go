package permission

import (
	"encoding/json"
	"hash/fnv"
	"strconv"
	"sync"
)

// DoomLoopThreshold is the run length at which a repeated call starts
// being flagged: the third identical call in a row, and every identical
// call after it, reports true.
const DoomLoopThreshold = 3

// DoomLoopDetector flags a tool call repeated with identical arguments
// several times in a row within a session. The runner consults it only
// for calls that already raise a permission prompt, and records the flag
// on that request's metadata; it does not turn an auto-approved call
// into a prompt. Only the
// current run of identical calls is tracked; any different call resets
// the streak.
type DoomLoopDetector struct {
	mu      sync.Mutex
	streaks map[string]streak
}

// streak is the in-progress run of identical calls for one session.
type streak struct {
	fingerprint string
	length      int
}

// NewDoomLoopDetector creates an empty detector.
func NewDoomLoopDetector() *DoomLoopDetector {
	return &DoomLoopDetector{streaks: make(map[string]streak)}
}

// Check records one call and reports whether it extends a run of
// DoomLoopThreshold or more identical calls.
func (d *DoomLoopDetector) Check(sessionID, toolName string, input any) bool {
	fp := callFingerprint(toolName, input)

	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.streaks[sessionID]
	if s.fingerprint == fp {
		s.length++
	} else {
		s = streak{fingerprint: fp, length: 1}
	}
	d.streaks[sessionID] = s

	return s.length >= DoomLoopThreshold
}

// Clear forgets a session's streak entirely.
func (d *DoomLoopDetector) Clear(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.streaks, sessionID)
}

// Reset restarts a session's streak count without forgetting the
// session, for callers that want the next identical call to count as
// the first of a fresh run.
func (d *DoomLoopDetector) Reset(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streaks[sessionID] = streak{}
}

// callFingerprint folds the tool name and its canonical-JSON arguments
// into a compact comparison key. JSON map keys marshal in sorted order,
// so equivalent argument maps always produce the same fingerprint.
func callFingerprint(toolName string, input any) string {
	h := fnv.New64a()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	if payload, err := json.Marshal(input); err == nil {
		h.Write(payload)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
