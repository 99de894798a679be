package adapter

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/opencode-ai/agentcore/internal/corerr"
)

// normalizeNewlines converts CRLF to LF, applied to both file content
// and search pattern before any comparison.
func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// ApplyInProcessEdit implements the in-process edit strategy: direct
// string substitution after CRLF normalization, used by backends that
// hold the file content in memory (the local adapter). The search
// pattern must match exactly once; zero matches is "not found", more
// than one is "ambiguous". Replacement preserves every byte outside the
// match, including trailing newlines, because it operates on the
// normalized text as a whole rather than rebuilding it.
func ApplyInProcessEdit(content, search, replace string) (string, error) {
	normContent := normalizeNewlines(content)
	normSearch := normalizeNewlines(search)

	count := strings.Count(normContent, normSearch)
	switch {
	case count == 0:
		return "", corerr.New(corerr.KindNotFound, "search text not found in file")
	case count > 1:
		return "", corerr.New(corerr.KindAmbiguous, fmt.Sprintf("search text matches %d times, expected exactly 1", count))
	}

	return strings.Replace(normContent, normSearch, normalizeNewlines(replace), 1), nil
}

// ApplyHexScanEdit implements the binary-safe replacement strategy
// used by shell-backed adapters: content is matched and rewritten over
// its hex encoding so no byte sequence in the search or replace text
// can be misinterpreted as a shell/sed metacharacter. Semantics are
// otherwise identical to ApplyInProcessEdit.
func ApplyHexScanEdit(content, search, replace string) (string, error) {
	normContent := normalizeNewlines(content)
	normSearch := normalizeNewlines(search)
	normReplace := normalizeNewlines(replace)

	hexContent := hex.EncodeToString([]byte(normContent))
	hexSearch := hex.EncodeToString([]byte(normSearch))
	hexReplace := hex.EncodeToString([]byte(normReplace))

	count := strings.Count(hexContent, hexSearch)
	switch {
	case count == 0:
		return "", corerr.New(corerr.KindNotFound, "search text not found in file")
	case count > 1:
		return "", corerr.New(corerr.KindAmbiguous, fmt.Sprintf("search text matches %d times, expected exactly 1", count))
	}

	hexResult := strings.Replace(hexContent, hexSearch, hexReplace, 1)
	raw, err := hex.DecodeString(hexResult)
	if err != nil {
		return "", fmt.Errorf("hex-scan edit decode failed: %w", err)
	}
	return string(raw), nil
}
