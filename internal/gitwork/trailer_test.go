package gitwork

import (
	"os/exec"
	"strings"
	"testing"
)

func TestShellSingleQuote(t *testing.T) {
	cases := []struct{ in, want string }{
		{"plain", "'plain'"},
		{"", "''"},
		{"it's", `'it'\''s'`},
		{"a <b@c> d", "'a <b@c> d'"},
	}
	for _, tc := range cases {
		if got := shellSingleQuote(tc.in); got != tc.want {
			t.Errorf("shellSingleQuote(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestFilterBranchScript_ShellSafe runs the generated script through `sh -c`
// against a synthetic commit message, proving the hostile trailer value
// (containing a single quote, angle brackets, and a space) survives the
// filter intact rather than breaking out of the shell command.
func TestFilterBranchScript_ShellSafe(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh on PATH")
	}

	hostileValue := `O'Brien <o'brien@example.com>`
	script := filterBranchScript("Reviewed-by", []string{hostileValue})

	cmd := exec.Command("sh", "-c", script)
	cmd.Stdin = strings.NewReader("Fix the thing.\n\nReviewed-by: someone else <x@y.com>\n")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("script failed: %v\noutput: %s\nscript: %s", err, out, script)
	}

	got := string(out)
	if !strings.Contains(got, "Reviewed-by: "+hostileValue) {
		t.Errorf("expected output to contain the new trailer verbatim, got:\n%s", got)
	}
	if strings.Contains(got, "someone else") {
		t.Errorf("expected the old trailer line to be stripped, got:\n%s", got)
	}
	if !strings.HasPrefix(got, "Fix the thing.") {
		t.Errorf("expected the subject line to survive, got:\n%s", got)
	}
}

func TestFilterBranchScript_EmptyValuesRemovesTrailer(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh on PATH")
	}

	script := filterBranchScript("Part-of", nil)
	cmd := exec.Command("sh", "-c", script)
	cmd.Stdin = strings.NewReader("Fix the thing.\n\nPart-of: <https://example.test/mr/1>\n")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("script failed: %v\noutput: %s", err, out)
	}
	if strings.Contains(string(out), "example.test") {
		t.Errorf("expected the trailer to be removed, got:\n%s", out)
	}
}
