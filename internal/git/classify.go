package git

import (
	"errors"
	"strings"
)

var emptyMarkers = []string{
	"is now empty",
	"nothing to commit",
	"no changes - did you forget",
}

var conflictMarkers = []string{
	"could not apply",
	"after resolving the conflicts",
	"resolve all conflicts manually",
	"you must edit all merge conflicts",
	"unmerged files",
}

// ClassifyApply maps the combined output of a cherry-pick or rebase invocation
// to an ApplyResult. It is the only place that inspects git's wording.
func ClassifyApply(output string, err error) ApplyResult {
	if err == nil {
		return ApplyResult{Status: ApplyApplied, Output: output}
	}

	text := output
	var gitErr *GitError
	if errors.As(err, &gitErr) && gitErr.Output != "" {
		text = gitErr.Output
	}

	lower := strings.ToLower(text)
	for _, marker := range emptyMarkers {
		if strings.Contains(lower, marker) {
			return ApplyResult{Status: ApplyEmpty, Output: text, Err: err}
		}
	}

	if strings.Contains(text, "CONFLICT") {
		return ApplyResult{Status: ApplyConflict, Output: text, Err: err}
	}
	for _, marker := range conflictMarkers {
		if strings.Contains(lower, marker) {
			return ApplyResult{Status: ApplyConflict, Output: text, Err: err}
		}
	}

	return ApplyResult{Status: ApplyFailed, Output: text, Err: err}
}
