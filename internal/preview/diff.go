package preview

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// EditDiff computes a brief one-line summary and a full readable diff
// between an edit tool's before/after content, for use as a Preview's
// brief/full fields.
func EditDiff(before, after string) (brief, full string) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	added, removed := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += strings.Count(d.Text, "\n") + boolToInt(d.Text != "")
		case diffmatchpatch.DiffDelete:
			removed += strings.Count(d.Text, "\n") + boolToInt(d.Text != "")
		}
	}

	brief = fmt.Sprintf("+%d -%d lines", added, removed)
	full = dmp.DiffPrettyText(diffs)
	return brief, full
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
