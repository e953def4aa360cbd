package gitwork

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// TagWithTrailer replaces every trailerName line in commit messages with
// one line per value (or, if values is empty, a single empty-valued line
// that removes the trailer) across startCommit..branch, then returns the
// new HEAD. Values are NFC-normalized before being written so names
// carrying combining diacritics compare and round-trip stably.
//
// On failure it attempts to reset branch back to the pre-filter state
// recorded at refs/original/refs/heads/<branch> and re-raises.
func (r *Repo) TagWithTrailer(ctx context.Context, trailerName string, values []string, branch, startCommit string) (string, error) {
	normalized := make([]string, 0, len(values))
	for _, v := range values {
		normalized = append(normalized, norm.NFC.String(v))
	}

	script := filterBranchScript(trailerName, normalized)
	commitRange := startCommit + ".." + branch

	_, err := r.git(ctx, "filter-branch", "--force", "--msg-filter", script, commitRange)
	if err != nil {
		if hash, restoreErr := r.GetCommitHash(ctx, "refs/original/refs/heads/"+branch); restoreErr == nil {
			_, _ = r.git(ctx, "reset", "--hard", hash)
		}
		return "", fmt.Errorf("filter-branch for trailer %q failed: %w", trailerName, err)
	}
	return r.GetCommitHash(ctx, "")
}

// filterBranchScript builds the --msg-filter shell command: strip existing
// trailerName lines (and trailing blank lines) from the incoming message on
// stdin, then append one trailerName: value line per value. Both the
// trailer name and the rendered trailer block are passed as their own
// single-quoted shell literals rather than interpolated into the script
// source, so values containing shell metacharacters (<, >, spaces,
// quotes — all legal in a "Name <email>" trailer value) can't break or
// inject into the filter command.
func filterBranchScript(trailerName string, values []string) string {
	if len(values) == 0 {
		values = []string{""}
	}
	var trailerLines strings.Builder
	for _, v := range values {
		trailerLines.WriteString(trailerName)
		trailerLines.WriteString(": ")
		trailerLines.WriteString(v)
		trailerLines.WriteString("\n")
	}

	// cat reads the message from stdin, grep drops the old trailer lines and
	// sed drops a trailing blank line, then we emit a blank separator and the
	// new lines.
	return fmt.Sprintf(
		`msg=$(cat); msg=$(printf '%%s\n' "$msg" | grep -v '^'%s': ' | sed -e '$ { /^$/d }'); printf '%%s\n\n%%s' "$msg" %s`,
		shellSingleQuote(trailerName), shellSingleQuote(trailerLines.String()),
	)
}

// shellSingleQuote renders s as a single, safely-quoted shell word.
func shellSingleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
