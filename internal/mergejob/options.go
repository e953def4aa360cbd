package mergejob

import (
	"fmt"
	"time"

	"github.com/marge-go/mergebot/internal/config"
	"github.com/marge-go/mergebot/internal/schedule"
)

// Fusion is the integration strategy.
type Fusion string

const (
	FusionMerge        Fusion = "merge"
	FusionRebase       Fusion = "rebase"
	FusionGitLabRebase Fusion = "gitlab_rebase"
)

// Options mirrors the §4.6 MergeJobOptions table.
type Options struct {
	Fusion                 Fusion
	AddTested              bool
	AddPartOf              bool
	AddReviewers           bool
	Reapprove              bool
	ApprovalTimeout        time.Duration
	CITimeout              time.Duration
	Embargo                schedule.IntervalUnion
	GuaranteeFinalPipeline bool
}

// RequestsCommitTagging reports whether any trailer is configured.
func (o Options) RequestsCommitTagging() bool {
	return o.AddTested || o.AddPartOf || o.AddReviewers
}

// DefaultOptions mirrors MergeJobOptions.Default(): approval_timeout=0s,
// embargo=empty, ci_timeout=15m, fusion=rebase.
func DefaultOptions() Options {
	return Options{
		Fusion:    FusionRebase,
		CITimeout: 15 * time.Minute,
		Embargo:   schedule.Empty(),
	}
}

// BuildOptions resolves an Options from a loaded config.MergeOpts,
// rejecting Reapprove/AddReviewers when botIsAdmin is false — impersonation
// safety is enforced once here rather than scattered through the job.
func BuildOptions(opts config.MergeOpts, botIsAdmin bool) (Options, error) {
	if (opts.Reapprove || opts.AddReviewers) && !botIsAdmin {
		return Options{}, fmt.Errorf("merge_opts.reapprove and merge_opts.add_reviewers require the bot user to be an admin")
	}

	approvalTimeout, err := time.ParseDuration(opts.ApprovalTimeout)
	if err != nil {
		return Options{}, fmt.Errorf("approval_timeout: %w", err)
	}
	ciTimeout, err := time.ParseDuration(opts.CITimeout)
	if err != nil {
		return Options{}, fmt.Errorf("ci_timeout: %w", err)
	}
	embargo := schedule.Empty()
	if opts.Embargo != "" {
		embargo, err = schedule.FromHumanUnion(opts.Embargo)
		if err != nil {
			return Options{}, fmt.Errorf("embargo: %w", err)
		}
	}

	return Options{
		Fusion:                 Fusion(opts.Fusion),
		AddTested:              opts.AddTested,
		AddPartOf:              opts.AddPartOf,
		AddReviewers:           opts.AddReviewers,
		Reapprove:              opts.Reapprove,
		ApprovalTimeout:        approvalTimeout,
		CITimeout:              ciTimeout,
		Embargo:                embargo,
		GuaranteeFinalPipeline: opts.GuaranteeFinalPipeline,
	}, nil
}
