package supervisor

import (
	"testing"

	"github.com/marge-go/mergebot/internal/platform"
)

func TestCompileOrAny_EmptyMatchesEverything(t *testing.T) {
	re, err := compileOrAny("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range []string{"", "anything", "team/repo"} {
		if !re.MatchString(s) {
			t.Errorf("expected empty pattern to match %q", s)
		}
	}
}

func TestCompileOrAny_CompilesGivenPattern(t *testing.T) {
	re, err := compileOrAny("^release/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !re.MatchString("release/1.0") {
		t.Errorf("expected pattern to match release/1.0")
	}
	if re.MatchString("main") {
		t.Errorf("expected pattern not to match main")
	}
}

func TestCompileOrAny_InvalidPatternErrors(t *testing.T) {
	if _, err := compileOrAny("("); err == nil {
		t.Fatal("expected an error for an unbalanced pattern")
	}
}

func TestGroupByTargetBranch_GroupsAndSortsDeterministically(t *testing.T) {
	mrs := []*platform.MergeRequest{
		{IID: 1, TargetBranch: "main"},
		{IID: 2, TargetBranch: "develop"},
		{IID: 3, TargetBranch: "main"},
		{IID: 4, TargetBranch: "develop"},
	}

	groups := groupByTargetBranch(mrs)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	// "develop" sorts before "main".
	if len(groups[0]) != 2 || groups[0][0].IID != 2 || groups[0][1].IID != 4 {
		t.Errorf("expected develop group [2,4], got %+v", groups[0])
	}
	if len(groups[1]) != 2 || groups[1][0].IID != 1 || groups[1][1].IID != 3 {
		t.Errorf("expected main group [1,3], got %+v", groups[1])
	}
}

func TestGroupByTargetBranch_Empty(t *testing.T) {
	groups := groupByTargetBranch(nil)
	if len(groups) != 0 {
		t.Errorf("expected no groups for empty input, got %+v", groups)
	}
}
