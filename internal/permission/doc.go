// Package permission provides the policy primitives the Agent Runner
// (internal/runner) consults before routing a tool call through the
// Tool Execution Manager's permission-request flow.
//
// # Actions
//
// Each check resolves to one of three actions: Allow (skip the prompt),
// Deny (reject without prompting), or Ask (the normal gated path
// through the Tool Execution Manager's PermissionRequest flow).
//
// # Bash Pattern Matching
//
// ParseBashCommand splits a command line into BashCommand values;
// MatchBashPermission resolves the most specific configured pattern for
// one ("git commit *" beats "git *" beats "*"):
//
//	cmds := ParseBashCommand("git commit -m 'fix bug'")
//	action := MatchBashPermission(cmds[0], patterns)
//
// The runner feeds it a session's configured bash patterns
// (core.SessionConfig.BashPermissions) ahead of the general
// requires-permission gate.
//
// # Doom Loop Detection
//
// DoomLoopDetector flags a tool call repeated with identical arguments
// DoomLoopThreshold times in a row. The runner checks it only for calls
// that already raise a permission prompt, and marks that request's
// metadata with doomLoopEscalated; an auto-approved call is not turned
// into a prompt:
//
//	detector := NewDoomLoopDetector()
//	if detector.Check(sessionID, toolID, args) {
//		// escalate
//	}
package permission
