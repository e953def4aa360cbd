// Package mergejob implements the single-MR merge state machine: the
// precondition gate (EnsureMergeableMR), the integration sequence that
// rebases/merges onto the target and rewrites trailers
// (UpdateFromTargetBranchAndPush), CI and merge-status gating, optional
// approval restoration, and final acceptance.
package mergejob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/marge-go/mergebot/internal/gitwork"
	"github.com/marge-go/mergebot/internal/platform"
)

// Transition is published to an attached Notifier on every gate
// entered/passed/failed, for the optional status feed (C11).
type Transition struct {
	ProjectID int
	IID       int
	Gate      string
	Outcome   string // "entered", "passed", "failed"
	Detail    string
	At        time.Time
}

// Notifier receives job transitions. Implementations must not block; the
// job never waits on a notifier.
type Notifier interface {
	Notify(Transition)
}

// Job runs the state machine for one MR against one local working copy.
type Job struct {
	Client   *platform.Client
	Caps     platform.Capabilities
	BotUser  *platform.User
	Repo     *gitwork.Repo
	Options  Options
	Logger   *slog.Logger
	Notifier Notifier // may be nil

	// SourceRepoURL returns the fork's clone URL for a cross-fork MR
	// (SourceProjectID != TargetProjectID), or "" for a same-project MR.
	// May be nil when the bot never handles cross-fork MRs.
	SourceRepoURL func(*platform.MergeRequest) string
}

func (j *Job) sourceRepoURL(mr *platform.MergeRequest) string {
	if mr.SourceProjectID == mr.TargetProjectID || j.SourceRepoURL == nil {
		return ""
	}
	return j.SourceRepoURL(mr)
}

func (j *Job) notify(mr *platform.MergeRequest, gate, outcome, detail string) {
	if j.Notifier == nil {
		return
	}
	j.Notifier.Notify(Transition{
		ProjectID: mr.ProjectID, IID: mr.IID, Gate: gate, Outcome: outcome, Detail: detail, At: time.Now(),
	})
}

// Run drives mr through the full state machine. On any JobError it
// returns nil — the disposition has been fully handled; a Visible error
// also gets a comment and the bot unassigned, a Silent one neither. Any other error is a transport or
// Git failure and propagates so the supervisor can decide whether to
// abort the sweep.
func (j *Job) Run(ctx context.Context, project *platform.Project, mr *platform.MergeRequest) error {
	err := j.run(ctx, project, mr)
	if err == nil {
		j.notify(mr, "finalize", "passed", "")
		return nil
	}

	var jobErr *JobError
	if errors.As(err, &jobErr) {
		j.notify(mr, "gate", "failed", jobErr.Reason)
		if jobErr.Visibility == Visible {
			if cErr := mr.Comment(ctx, jobErr.Reason); cErr != nil {
				j.Logger.Warn("failed to post failure comment", "err", cErr)
			}
			if uErr := j.Unassign(ctx, mr); uErr != nil {
				j.Logger.Warn("failed to unassign after failure", "err", uErr)
			}
		}
		return nil
	}
	return err
}

// Unassign clears the bot's assignment on mr, reassigning to the author
// unless the author is the bot itself.
func (j *Job) Unassign(ctx context.Context, mr *platform.MergeRequest) error {
	target := 0
	if mr.AuthorID != j.BotUser.ID {
		target = mr.AuthorID
	}
	return mr.Assign(ctx, target)
}

func (j *Job) run(ctx context.Context, project *platform.Project, mr *platform.MergeRequest) error {
	if err := j.EnsureMergeableMR(ctx, project, mr); err != nil {
		return err
	}

	finalSha, err := j.UpdateFromTargetBranchAndPush(ctx, project, mr, j.sourceRepoURL(mr))
	if err != nil {
		return err
	}

	if err := j.WaitForCIToPass(ctx, mr, finalSha); err != nil {
		return err
	}

	if err := j.waitForMergeStatus(ctx, mr); err != nil {
		return err
	}

	if j.Options.Reapprove {
		if err := j.reapproveIfDropped(ctx, mr); err != nil {
			return err
		}
	}

	return mr.Accept(ctx, finalSha, mr.ForceRemoveSourceBranch, true)
}

// EnsureMergeableMR refetches mr and evaluates every precondition gate in
// order, per §4.6.
func (j *Job) EnsureMergeableMR(ctx context.Context, project *platform.Project, mr *platform.MergeRequest) error {
	j.notify(mr, "ensure_mergeable", "entered", "")
	if err := mr.RefetchInfo(ctx); err != nil {
		return err
	}

	if mr.IsWorkInProgress() {
		return CannotMerge("merge request is a draft / work in progress")
	}
	if mr.Squash && j.Options.RequestsCommitTagging() {
		return CannotMerge("squash is enabled but commit trailers are configured; auto-squash would drop them")
	}

	approvals, err := platform.FetchApprovals(ctx, j.Client, j.Caps, mr)
	if err != nil {
		return err
	}
	if !approvals.Sufficient() {
		return CannotMerge("not enough approvals (%d left)", approvals.ApprovalsLeft)
	}

	if project.OnlyAllowMergeIfDiscussionsResolved && !mr.BlockingDiscussionsResolved {
		return CannotMerge("there are unresolved discussions blocking merge")
	}

	switch mr.State {
	case platform.StateMerged, platform.StateClosed:
		return SkipMerge("merge request is %s", mr.State)
	case platform.StateOpened, platform.StateReopened, platform.StateLocked:
		// continue
	default:
		return CannotMerge("merge request is in an unknown state %q", mr.State)
	}

	if j.Options.Embargo.Covers(time.Now()) {
		return SkipMerge("merge embargo!")
	}

	if !containsInt(mr.AssigneeIDs, j.BotUser.ID) {
		return SkipMerge("not assigned to the bot user")
	}

	j.notify(mr, "ensure_mergeable", "passed", "")
	return nil
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// UpdateFromTargetBranchAndPush runs the integration sequence of §4.6:
// fuse onto target, refuse a no-op, apply configured trailers in order,
// then synchronize with the remote (gitlab_rebase assertion, or a forced
// push). sourceRepoURL is non-empty only for a cross-fork MR
// (SourceProjectID != TargetProjectID), in which case it names the fork's
// clone URL so the source branch is fetched from there instead of origin.
func (j *Job) UpdateFromTargetBranchAndPush(ctx context.Context, project *platform.Project, mr *platform.MergeRequest, sourceRepoURL string) (string, error) {
	j.notify(mr, "integrate", "entered", "")

	initialSha := mr.SHA

	var updatedSha string
	var err error
	switch j.Options.Fusion {
	case FusionMerge:
		updatedSha, err = j.Repo.Merge(ctx, mr.SourceBranch, mr.TargetBranch, false, sourceRepoURL)
	case FusionRebase, FusionGitLabRebase:
		updatedSha, err = j.Repo.Rebase(ctx, mr.SourceBranch, mr.TargetBranch, false, sourceRepoURL)
	default:
		return "", fmt.Errorf("unknown fusion strategy %q", j.Options.Fusion)
	}
	if err != nil {
		return "", CannotMerge("could not update branch against %s: %v", mr.TargetBranch, err)
	}

	if err := j.Repo.Fetch(ctx, "origin", ""); err != nil {
		return "", err
	}
	targetSha, err := j.Repo.GetCommitHash(ctx, "origin/"+mr.TargetBranch)
	if err != nil {
		return "", err
	}
	if updatedSha == targetSha {
		return "", CannotMerge("these changes already exist in branch %s", mr.TargetBranch)
	}

	finalSha := updatedSha
	if j.Options.AddTested || j.Options.AddPartOf || j.Options.AddReviewers {
		finalSha, err = j.applyTrailers(ctx, project, mr, updatedSha)
		if err != nil {
			return "", err
		}
	}

	if err := j.checkReviewerIntegrity(ctx, mr); err != nil {
		return "", err
	}

	if j.Options.Fusion == FusionGitLabRebase {
		if err := mr.Rebase(ctx); err != nil {
			return "", CannotMerge("remote rebase failed: %v", err)
		}
		if mr.SHA != finalSha {
			return "", GitLabRebaseResultMismatch(finalSha, mr.SHA)
		}
	} else {
		branchWasModified := finalSha != initialSha
		if branchWasModified {
			sourceProjectID := mr.SourceProjectID
			if sourceProjectID == 0 {
				sourceProjectID = mr.ProjectID
			}
			branch, err := platform.FetchBranch(ctx, j.Client, sourceProjectID, mr.SourceBranch)
			if err != nil {
				return "", fmt.Errorf("checking source branch protection: %w", err)
			}
			if branch.Protected {
				return "", CannotMerge("can't modify protected branches (%s is protected)", mr.SourceBranch)
			}
		}
		skipCI := false // ci.skip is a batch-job concern (§4.7); single-MR pushes always trigger CI
		if err := j.Repo.Push(ctx, mr.SourceBranch, true, skipCI, sourceRepoURL); err != nil {
			return "", CannotMerge("push failed: %v", err)
		}
	}

	j.notify(mr, "integrate", "passed", finalSha)
	return finalSha, nil
}

// applyTrailers applies Reviewed-by, Tested-by, Part-of in that order,
// each over the range the corresponding trailer targets, returning the
// resulting HEAD.
func (j *Job) applyTrailers(ctx context.Context, project *platform.Project, mr *platform.MergeRequest, updatedSha string) (string, error) {
	head := updatedSha

	if j.Options.AddReviewers {
		approvals, err := platform.FetchApprovals(ctx, j.Client, j.Caps, mr)
		if err != nil {
			return "", err
		}
		values := make([]string, 0, len(approvals.ApprovedBy))
		for _, who := range approvals.ApprovedBy {
			values = append(values, fmt.Sprintf("%s <%s>", who.User.Name, who.User.Email))
		}
		sort.Strings(values)
		if err := j.Repo.Fetch(ctx, "origin", ""); err != nil {
			return "", err
		}
		targetTip, err := j.Repo.GetCommitHash(ctx, "origin/"+mr.TargetBranch)
		if err != nil {
			return "", err
		}
		head, err = j.Repo.TagWithTrailer(ctx, "Reviewed-by", values, mr.SourceBranch, targetTip)
		if err != nil {
			return "", fmt.Errorf("applying Reviewed-by: %w", err)
		}
	}

	if j.Options.AddTested && j.Options.Fusion == FusionRebase && project.OnlyAllowMergeIfPipelineSucceeds {
		value := fmt.Sprintf("%s <%s>", j.BotUser.Name, mr.WebURL)
		var err error
		head, err = j.Repo.TagWithTrailer(ctx, "Tested-by", []string{value}, mr.SourceBranch, head+"^")
		if err != nil {
			return "", fmt.Errorf("applying Tested-by: %w", err)
		}
	}

	if j.Options.AddPartOf {
		// The intended trailer value is the bare "<web_url>" form (§9:
		// the upstream "<f{...}" spelling was a stray-character typo).
		value := fmt.Sprintf("<%s>", mr.WebURL)
		if err := j.Repo.Fetch(ctx, "origin", ""); err != nil {
			return "", err
		}
		targetTip, err := j.Repo.GetCommitHash(ctx, "origin/"+mr.TargetBranch)
		if err != nil {
			return "", err
		}
		head, err = j.Repo.TagWithTrailer(ctx, "Part-of", []string{value}, mr.SourceBranch, targetTip)
		if err != nil {
			return "", fmt.Errorf("applying Part-of: %w", err)
		}
	}

	return head, nil
}

// checkReviewerIntegrity fails the job if the only approvers are also
// authors of commits in the change (self-review via a single approver).
func (j *Job) checkReviewerIntegrity(ctx context.Context, mr *platform.MergeRequest) error {
	approvals, err := platform.FetchApprovals(ctx, j.Client, j.Caps, mr)
	if err != nil {
		return err
	}
	approverEmails := approvals.ApproverEmails()
	if len(approverEmails) > 1 {
		return nil
	}
	authorEmails, err := j.commitAuthorEmails(ctx, mr)
	if err != nil {
		return err
	}
	for _, ae := range approverEmails {
		for _, ce := range authorEmails {
			if strings.EqualFold(ae, ce) {
				return CannotMerge("require at least one independent reviewer")
			}
		}
	}
	return nil
}

func (j *Job) commitAuthorEmails(ctx context.Context, mr *platform.MergeRequest) ([]string, error) {
	// Reuses the same git binary the rest of the job invokes; a thin
	// passthrough kept local to this file since it's the only caller.
	return j.Repo.CommitAuthorEmails(ctx, "origin/"+mr.TargetBranch, mr.SourceBranch)
}

const ciPollCadence = 10 * time.Second

// WaitForCIToPass polls pipelines for mr until one with sha==expectedSha
// concludes, per §4.6.
func (j *Job) WaitForCIToPass(ctx context.Context, mr *platform.MergeRequest, expectedSha string) error {
	j.notify(mr, "ci", "entered", "")

	if j.Options.GuaranteeFinalPipeline {
		// Some CI configurations (e.g. path-filtered rules) never trigger a
		// pipeline for a rebase-only commit; force one so the poll below
		// isn't waiting on a pipeline GitLab was never going to create.
		if _, err := mr.TriggerPipeline(ctx); err != nil {
			j.Logger.Warn("failed to trigger guaranteed final pipeline", "err", err)
		}
	}

	var last platform.Pipeline
	err := pollUntil(ctx, ciPollCadence, j.Options.CITimeout, func(ctx context.Context) (bool, error) {
		pipelines, err := platform.FetchPipelines(ctx, j.Client, j.Caps, mr)
		if err != nil {
			return false, err
		}
		for _, p := range pipelines {
			if p.SHA != expectedSha {
				continue
			}
			last = p
			if p.Succeeded() {
				return true, nil
			}
			if p.Status == platform.PipelineFailed || p.Status == platform.PipelineCanceled {
				return false, CannotMerge("CI failed! See pipeline %s", p.WebURL)
			}
		}
		return false, nil
	})
	if errors.Is(err, errTimeout) {
		return CannotMerge("CI did not conclude within the configured timeout")
	}
	if err != nil {
		return err
	}
	j.notify(mr, "ci", "passed", last.WebURL)
	return nil
}

const mergeStatusPollCadence = 5 * time.Second
const mergeStatusPollCeiling = 2 * mergeStatusPollCadence

// waitForMergeStatus refetches mr up to 3 times at 5s intervals until
// merge_status leaves "unchecked".
func (j *Job) waitForMergeStatus(ctx context.Context, mr *platform.MergeRequest) error {
	err := pollUntil(ctx, mergeStatusPollCadence, mergeStatusPollCeiling, func(ctx context.Context) (bool, error) {
		if err := mr.RefetchInfo(ctx); err != nil {
			return false, err
		}
		return mr.MergeStatus != platform.MergeStatusUnchecked, nil
	})
	if errors.Is(err, errTimeout) {
		return nil // still unchecked after 3 tries: proceed optimistically
	}
	if err != nil {
		return err
	}
	if mr.MergeStatus == platform.MergeStatusCannotBeMerged {
		return CannotMerge("merge status is cannot_be_merged")
	}
	return nil
}

// reapproveIfDropped polls, for at most ApprovalTimeout, until approvals
// have been dropped by the force-push, then re-approves as each original
// approver. A zero ApprovalTimeout re-approves without waiting.
func (j *Job) reapproveIfDropped(ctx context.Context, mr *platform.MergeRequest) error {
	original, err := platform.FetchApprovals(ctx, j.Client, j.Caps, mr)
	if err != nil {
		return err
	}
	originalApproverIDs := original.ApproverIDs()
	if len(originalApproverIDs) == 0 {
		return nil
	}

	if j.Options.ApprovalTimeout > 0 {
		err = pollUntil(ctx, 5*time.Second, j.Options.ApprovalTimeout, func(ctx context.Context) (bool, error) {
			current, err := platform.FetchApprovals(ctx, j.Client, j.Caps, mr)
			if err != nil {
				return false, err
			}
			return len(current.ApproverIDs()) == 0, nil
		})
		if err != nil && !errors.Is(err, errTimeout) {
			return err
		}
	}
	return platform.Reapprove(ctx, j.Client, j.Caps, mr, originalApproverIDs)
}
