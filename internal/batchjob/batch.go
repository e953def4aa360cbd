// Package batchjob implements the speculative batch-merge optimizer: stack
// several mergeable MRs sharing a target branch onto one integration
// branch, run CI once, and fast-forward-merge each MR in stacking order,
// falling back to single-MR processing on any conflict.
package batchjob

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/marge-go/mergebot/internal/gitwork"
	"github.com/marge-go/mergebot/internal/mergejob"
	"github.com/marge-go/mergebot/internal/platform"
)

// Config mirrors the batch-relevant configuration options of §6/§4.7.
type Config struct {
	BranchNamePrefix      string
	UseMergeCommitBatches bool
	UseNoFFBatches        bool
	SkipCIBatches         bool
	MaxBatchSize          int
}

// Result reports the outcome of processing a batch.
type Result struct {
	Merged    []*platform.MergeRequest
	Culprit   *platform.MergeRequest // the MR that broke the batch, if any
	MergeErr  error
}

// Batch drives the batch algorithm against one project's target branch.
type Batch struct {
	Client  *platform.Client
	Caps    platform.Capabilities
	BotUser *platform.User
	Repo    *gitwork.Repo
	Config  Config
	Logger  *slog.Logger

	// SingleJobFor builds the single-MR Job used both to gate candidates
	// individually (EnsureMergeableMR) and to finalize each MR's Accept.
	SingleJobFor func(*platform.MergeRequest) *mergejob.Job
}

// integrationBranchName returns a per-attempt unique branch name so a
// crashed prior attempt's leftover branch, or a second concurrent sweep,
// never collides with this one on the remote.
func (b *Batch) integrationBranchName() string {
	return fmt.Sprintf("%s-%s", b.Config.BranchNamePrefix, uuid.New().String()[:8])
}

// AssembleBatch selects a prefix of candidates (already supervisor-ordered,
// all sharing targetBranch) that individually pass EnsureMergeableMR, up to
// MaxBatchSize. MRs that fail the gate are excluded and returned separately
// so the caller can still process them individually.
func (b *Batch) AssembleBatch(ctx context.Context, project *platform.Project, candidates []*platform.MergeRequest) (included, excluded []*platform.MergeRequest) {
	limit := b.Config.MaxBatchSize
	if limit <= 0 {
		limit = len(candidates)
	}
	for _, mr := range candidates {
		if len(included) >= limit {
			break
		}
		job := b.SingleJobFor(mr)
		if err := job.EnsureMergeableMR(ctx, project, mr); err != nil {
			excluded = append(excluded, mr)
			continue
		}
		included = append(included, mr)
	}
	return included, excluded
}

// Process runs the full batch procedure of §4.7 against included (the
// already-gated prefix from AssembleBatch).
func (b *Batch) Process(ctx context.Context, project *platform.Project, included []*platform.MergeRequest) (*Result, error) {
	if len(included) == 0 {
		return &Result{}, nil
	}
	targetBranch := included[0].TargetBranch

	integrationBranch := b.integrationBranchName()
	if err := b.Repo.Fetch(ctx, "origin", ""); err != nil {
		return nil, err
	}
	if err := b.Repo.CheckoutBranch(ctx, integrationBranch, "origin/"+targetBranch); err != nil {
		return nil, err
	}
	defer func() {
		_ = b.Repo.CheckoutBranch(ctx, targetBranch, "origin/"+targetBranch)
		_ = b.Repo.RemoveBranch(ctx, integrationBranch)
	}()

	stacked, shas, culprit, err := b.buildRebaseStack(ctx, integrationBranch, included)
	if err != nil {
		return nil, err
	}
	if culprit != nil {
		return nil, mergejob.CannotBatch("stacking %s!%d onto %s conflicted: %v", projectPath(project), culprit.IID, integrationBranch, err)
	}

	if err := b.Repo.Push(ctx, integrationBranch, true, b.Config.SkipCIBatches, ""); err != nil {
		return nil, fmt.Errorf("pushing integration branch: %w", err)
	}

	tip, err := b.Repo.GetCommitHash(ctx, "")
	if err != nil {
		return nil, err
	}
	if !b.Config.SkipCIBatches {
		gateJob := b.SingleJobFor(stacked[len(stacked)-1])
		if err := gateJob.WaitForCIToPass(ctx, stacked[len(stacked)-1], tip); err != nil {
			return nil, err
		}
	}

	return b.fastForwardBatch(ctx, project, stacked, shas)
}

// buildRebaseStack rebases each candidate's source branch onto the
// integration branch's current tip in order; if any rebase is empty or
// conflicts, it reports that MR as the culprit and stops (the supervisor
// then falls back to single-MR processing on the original prefix). shas
// is index-aligned with stacked and records each MR's own post-rebase
// commit, which only the last entry shares with the integration branch's
// final tip.
func (b *Batch) buildRebaseStack(ctx context.Context, integrationBranch string, candidates []*platform.MergeRequest) (stacked []*platform.MergeRequest, shas []string, culprit *platform.MergeRequest, err error) {
	for _, mr := range candidates {
		before, hashErr := b.Repo.GetCommitHash(ctx, integrationBranch)
		if hashErr != nil {
			return stacked, shas, nil, hashErr
		}

		var after string
		if b.Config.UseMergeCommitBatches {
			mergeArgs := []string{"--ff", "--ff-only"}
			if b.Config.UseNoFFBatches {
				mergeArgs = []string{"--no-ff"}
			}
			after, err = b.Repo.Merge(ctx, mr.SourceBranch, integrationBranch, true, "", mergeArgs...)
		} else {
			after, err = b.Repo.Rebase(ctx, mr.SourceBranch, integrationBranch, true, "")
		}
		if err != nil {
			return stacked, shas, mr, err
		}
		if after == before {
			return stacked, shas, mr, fmt.Errorf("stacking %s produced no new commits", mr.SourceBranch)
		}
		if err := b.Repo.CheckoutBranch(ctx, integrationBranch, mr.SourceBranch); err != nil {
			return stacked, shas, mr, err
		}
		stacked = append(stacked, mr)
		shas = append(shas, after)
	}
	return stacked, shas, nil, nil
}

// fastForwardBatch updates each MR's source branch to its own post-rebase
// commit (shas, index-aligned with stacked) and accepts it against that
// same sha — only the last MR in the stack shares its sha with the
// integration branch's final tip, so each Accept must use its own entry,
// not a batch-wide tip. A failure on any single MR aborts the remainder
// (surfaced as CannotMerge for that MR only); the already-merged prefix is
// not rolled back.
func (b *Batch) fastForwardBatch(ctx context.Context, project *platform.Project, stacked []*platform.MergeRequest, shas []string) (*Result, error) {
	result := &Result{}

	for i, mr := range stacked {
		sha := shas[i]
		if err := b.Repo.Push(ctx, mr.SourceBranch, true, false, ""); err != nil {
			result.MergeErr = mergejob.CannotMerge("pushing %s before accept: %v", mr.SourceBranch, err)
			result.Culprit = mr
			return result, nil
		}
		if err := mr.Accept(ctx, sha, mr.ForceRemoveSourceBranch, true); err != nil {
			result.MergeErr = mergejob.CannotMerge("accept failed for %s!%d: %v", projectPath(project), mr.IID, err)
			result.Culprit = mr
			return result, nil
		}
		result.Merged = append(result.Merged, mr)
	}
	return result, nil
}

func projectPath(p *platform.Project) string {
	if p == nil {
		return ""
	}
	return p.PathWithNamespace
}
