package batchjob

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/marge-go/mergebot/internal/gitwork"
	"github.com/marge-go/mergebot/internal/mergejob"
	"github.com/marge-go/mergebot/internal/platform"
)

func TestProjectPath_NilSafe(t *testing.T) {
	if got := projectPath(nil); got != "" {
		t.Errorf("projectPath(nil) = %q, want empty", got)
	}
	p := &platform.Project{PathWithNamespace: "team/repo"}
	if got := projectPath(p); got != "team/repo" {
		t.Errorf("projectPath = %q, want %q", got, "team/repo")
	}
}

func TestIntegrationBranchName_Unique(t *testing.T) {
	b := &Batch{Config: Config{BranchNamePrefix: "mergebot-batch"}}
	a := b.integrationBranchName()
	c := b.integrationBranchName()
	if a == c {
		t.Fatalf("expected distinct branch names, got %q twice", a)
	}
	if a[:len("mergebot-batch-")] != "mergebot-batch-" {
		t.Errorf("expected prefix %q, got %q", "mergebot-batch-", a)
	}
}

// runGit runs a git subcommand in dir, failing the test on error.
func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.test",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.test")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// newTestRepo builds a local repo on "main" with three feature branches:
// feature-a touches a distinct file, while feature-b and feature-b-conflict
// each edit the same line of shared.txt (so they conflict with each other),
// for exercising the stacking logic without any network access.
func newTestRepo(t *testing.T) *gitwork.Repo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("no git on PATH")
	}
	dir := t.TempDir()
	runGit(t, dir, "init", "-q", "-b", "main", dir)

	writeFile(t, dir, "shared.txt", "base\n")
	writeFile(t, dir, "other.txt", "base\n")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-q", "-m", "base")

	runGit(t, dir, "checkout", "-q", "-b", "feature-a")
	writeFile(t, dir, "other.txt", "feature-a\n")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-q", "-m", "feature-a")

	runGit(t, dir, "checkout", "-q", "main")
	runGit(t, dir, "checkout", "-q", "-b", "feature-b")
	writeFile(t, dir, "shared.txt", "feature-b\n")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-q", "-m", "feature-b")

	runGit(t, dir, "checkout", "-q", "-b", "feature-b-conflict", "main")
	writeFile(t, dir, "shared.txt", "feature-b-conflict\n")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-q", "-m", "feature-b-conflict")

	runGit(t, dir, "checkout", "-q", "main")
	return &gitwork.Repo{LocalPath: dir}
}

func TestBuildRebaseStack_StacksNonConflictingBranches(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	integrationBranch := "mergebot-batch-test"
	if err := repo.CheckoutBranch(ctx, integrationBranch, "main"); err != nil {
		t.Fatalf("checkout integration branch: %v", err)
	}

	b := &Batch{Repo: repo}
	candidates := []*platform.MergeRequest{
		{SourceBranch: "feature-a"},
		{SourceBranch: "feature-b"},
	}
	stacked, shas, culprit, err := b.buildRebaseStack(ctx, integrationBranch, candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if culprit != nil {
		t.Fatalf("unexpected culprit: %+v", culprit)
	}
	if len(stacked) != 2 {
		t.Fatalf("expected both candidates stacked, got %d", len(stacked))
	}
	if len(shas) != 2 || shas[0] == "" || shas[1] == "" {
		t.Fatalf("expected a post-rebase sha recorded per stacked MR, got %+v", shas)
	}
	if shas[0] == shas[1] {
		t.Fatalf("expected distinct per-MR shas, both MRs reported %q", shas[0])
	}
}

func TestBuildRebaseStack_ConflictReportsCulprit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	integrationBranch := "mergebot-batch-test"
	if err := repo.CheckoutBranch(ctx, integrationBranch, "main"); err != nil {
		t.Fatalf("checkout integration branch: %v", err)
	}

	b := &Batch{Repo: repo}
	first := &platform.MergeRequest{SourceBranch: "feature-b"}
	second := &platform.MergeRequest{SourceBranch: "feature-b-conflict"}
	stacked, shas, culprit, err := b.buildRebaseStack(ctx, integrationBranch, []*platform.MergeRequest{first, second})
	if err == nil {
		t.Fatal("expected a conflict error")
	}
	if culprit != second {
		t.Fatalf("expected feature-b-conflict to be the culprit, got %+v", culprit)
	}
	if len(stacked) != 1 || stacked[0] != first {
		t.Fatalf("expected only the first MR stacked, got %+v", stacked)
	}
	if len(shas) != 1 {
		t.Fatalf("expected one recorded sha for the stacked MR, got %+v", shas)
	}
}

// fakeGateServer serves the MR-refetch and approvals endpoints for a fixed
// set of (projectID, iid) pairs, letting AssembleBatch's EnsureMergeableMR
// gate calls run against real HTTP without a live platform.
func fakeGateServer(t *testing.T, approved map[int]bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for iid, ok := range approved {
		iid, ok := iid, ok
		mux.HandleFunc(fmt.Sprintf("/projects/1/merge_requests/%d", iid), func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"project_id": 1, "iid": iid, "state": platform.StateOpened,
				"merge_status":  platform.MergeStatusCanBeMerged,
				"source_branch": fmt.Sprintf("feature-%d", iid), "target_branch": "main",
				"assignee_ids": []int{99},
			})
		})
		left := 1
		if ok {
			left = 0
		}
		mux.HandleFunc(fmt.Sprintf("/projects/1/merge_requests/%d/approvals", iid), func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(platform.Approvals{ApprovalsLeft: left})
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAssembleBatch_RespectsMaxBatchSizeAndGating(t *testing.T) {
	srv := fakeGateServer(t, map[int]bool{1: true, 2: true, 3: false})
	client := platform.NewClient(srv.URL, "tok")
	caps := platform.NewCapabilities(platform.Version{Release: [3]int{16, 0, 0}})
	bot := &platform.User{ID: 99}
	project := &platform.Project{ID: 1}

	b := &Batch{
		Client: client, Caps: caps, BotUser: bot,
		Config: Config{MaxBatchSize: 2},
		SingleJobFor: func(mr *platform.MergeRequest) *mergejob.Job {
			mr.Attach(client)
			return &mergejob.Job{Client: client, Caps: caps, BotUser: bot, Options: mergejob.DefaultOptions()}
		},
	}

	candidates := []*platform.MergeRequest{
		{ProjectID: 1, IID: 1},
		{ProjectID: 1, IID: 2},
		{ProjectID: 1, IID: 3},
	}
	included, excluded := b.AssembleBatch(context.Background(), project, candidates)
	if len(included) != 2 {
		t.Fatalf("expected MaxBatchSize to cap included at 2, got %d", len(included))
	}
	if included[0].IID != 1 || included[1].IID != 2 {
		t.Fatalf("expected MRs 1 and 2 included in order, got %+v", included)
	}
	if len(excluded) != 0 {
		t.Fatalf("expected nothing excluded before the cap was reached, got %+v", excluded)
	}
}

// fakeAcceptServer records the "sha" argument of every PUT .../merge call,
// keyed by IID, and always reports success.
func fakeAcceptServer(t *testing.T) (*httptest.Server, *map[int]string) {
	t.Helper()
	seen := map[int]string{}
	mux := http.NewServeMux()
	mux.HandleFunc("/projects/1/merge_requests/1/merge", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		seen[1], _ = body["sha"].(string)
		json.NewEncoder(w).Encode(map[string]any{})
	})
	mux.HandleFunc("/projects/1/merge_requests/2/merge", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		seen[2], _ = body["sha"].(string)
		json.NewEncoder(w).Encode(map[string]any{})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestFastForwardBatch_AcceptsEachMRWithItsOwnPostRebaseSha(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	bareDir := filepath.Join(t.TempDir(), "origin.git")
	if out, err := exec.Command("git", "clone", "-q", "--bare", repo.LocalPath, bareDir).CombinedOutput(); err != nil {
		t.Fatalf("git clone --bare: %v\n%s", err, out)
	}
	runGit(t, repo.LocalPath, "remote", "add", "origin", bareDir)

	integrationBranch := "mergebot-batch-test"
	if err := repo.CheckoutBranch(ctx, integrationBranch, "main"); err != nil {
		t.Fatalf("checkout integration branch: %v", err)
	}

	b := &Batch{Repo: repo}
	first := &platform.MergeRequest{ProjectID: 1, IID: 1, SourceBranch: "feature-a"}
	second := &platform.MergeRequest{ProjectID: 1, IID: 2, SourceBranch: "feature-b"}

	stacked, shas, culprit, err := b.buildRebaseStack(ctx, integrationBranch, []*platform.MergeRequest{first, second})
	if err != nil || culprit != nil {
		t.Fatalf("unexpected stacking failure: culprit=%+v err=%v", culprit, err)
	}
	if shas[0] == shas[1] {
		t.Fatalf("test setup invalid: expected distinct per-MR shas, got %q twice", shas[0])
	}

	srv, seen := fakeAcceptServer(t)
	client := platform.NewClient(srv.URL, "tok")
	first.Attach(client)
	second.Attach(client)

	project := &platform.Project{ID: 1, PathWithNamespace: "team/repo"}
	result, err := b.fastForwardBatch(ctx, project, stacked, shas)
	if err != nil {
		t.Fatalf("fastForwardBatch: %v", err)
	}
	if result.Culprit != nil {
		t.Fatalf("unexpected culprit: %+v (%v)", result.Culprit, result.MergeErr)
	}
	if len(result.Merged) != 2 {
		t.Fatalf("expected both MRs merged, got %+v", result.Merged)
	}

	if (*seen)[1] != shas[0] {
		t.Errorf("MR 1 accepted with sha %q, want its own post-rebase sha %q", (*seen)[1], shas[0])
	}
	if (*seen)[2] != shas[1] {
		t.Errorf("MR 2 accepted with sha %q, want its own post-rebase sha %q", (*seen)[2], shas[1])
	}
	if (*seen)[1] == (*seen)[2] {
		t.Fatalf("both MRs were accepted with the same sha %q; each must use its own post-rebase commit", (*seen)[1])
	}
}

func TestAssembleBatch_ExcludesFailedGate(t *testing.T) {
	srv := fakeGateServer(t, map[int]bool{1: true, 2: false})
	client := platform.NewClient(srv.URL, "tok")
	caps := platform.NewCapabilities(platform.Version{Release: [3]int{16, 0, 0}})
	bot := &platform.User{ID: 99}
	project := &platform.Project{ID: 1}

	b := &Batch{
		Client: client, Caps: caps, BotUser: bot,
		Config: Config{MaxBatchSize: 5},
		SingleJobFor: func(mr *platform.MergeRequest) *mergejob.Job {
			mr.Attach(client)
			return &mergejob.Job{Client: client, Caps: caps, BotUser: bot, Options: mergejob.DefaultOptions()}
		},
	}

	candidates := []*platform.MergeRequest{
		{ProjectID: 1, IID: 1},
		{ProjectID: 1, IID: 2},
	}
	included, excluded := b.AssembleBatch(context.Background(), project, candidates)
	if len(included) != 1 || included[0].IID != 1 {
		t.Fatalf("expected only MR 1 included, got %+v", included)
	}
	if len(excluded) != 1 || excluded[0].IID != 2 {
		t.Fatalf("expected MR 2 excluded, got %+v", excluded)
	}
}
