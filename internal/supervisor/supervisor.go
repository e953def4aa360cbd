// Package supervisor is the process composition root: it owns the sweep
// loop (project discovery, MR listing and filtering, single-vs-batch
// dispatch) and wires every other package together from a loaded
// configuration.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/marge-go/mergebot/internal/batchjob"
	"github.com/marge-go/mergebot/internal/config"
	"github.com/marge-go/mergebot/internal/gitwork"
	"github.com/marge-go/mergebot/internal/mergejob"
	"github.com/marge-go/mergebot/internal/platform"
	"github.com/marge-go/mergebot/internal/repomanager"
)

const (
	interProjectSleep = 1 * time.Second
	interSweepSleep   = 30 * time.Second
)

// Broadcaster is satisfied by the status feed (C11); nil disables it.
type Broadcaster interface {
	mergejob.Notifier
}

// Supervisor drives repeated sweeps over every in-scope project.
type Supervisor struct {
	Client      *platform.Client
	Caps        platform.Capabilities
	BotUser     *platform.User
	Repos       *repomanager.Manager
	Config      config.Config
	Logger      *slog.Logger
	Broadcaster Broadcaster // may be nil

	projectRe      *regexp.Regexp
	branchRe       *regexp.Regexp
	sourceBranchRe *regexp.Regexp
	jobOptions     mergejob.Options
}

// New validates and compiles cfg's regexes and resolves its MergeJobOptions.
func New(client *platform.Client, caps platform.Capabilities, botUser *platform.User, repos *repomanager.Manager, cfg config.Config, logger *slog.Logger, broadcaster Broadcaster) (*Supervisor, error) {
	projectRe, err := compileOrAny(cfg.ProjectRegexp)
	if err != nil {
		return nil, fmt.Errorf("project_regexp: %w", err)
	}
	branchRe, err := compileOrAny(cfg.BranchRegexp)
	if err != nil {
		return nil, fmt.Errorf("branch_regexp: %w", err)
	}
	sourceBranchRe, err := compileOrAny(cfg.SourceBranchRegexp)
	if err != nil {
		return nil, fmt.Errorf("source_branch_regexp: %w", err)
	}
	jobOptions, err := mergejob.BuildOptions(cfg.MergeOpts, botUser.IsAdmin)
	if err != nil {
		return nil, err
	}

	return &Supervisor{
		Client: client, Caps: caps, BotUser: botUser, Repos: repos, Config: cfg, Logger: logger, Broadcaster: broadcaster,
		projectRe: projectRe, branchRe: branchRe, sourceBranchRe: sourceBranchRe, jobOptions: jobOptions,
	}, nil
}

func compileOrAny(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return regexp.MustCompile(".*"), nil
	}
	return regexp.Compile(pattern)
}

// Run drives sweeps until ctx is cancelled; in CLI mode it performs exactly
// one sweep and returns.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if err := s.sweep(ctx); err != nil {
			return err
		}
		if s.Config.CLI {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interSweepSleep):
		}
	}
}

func (s *Supervisor) sweep(ctx context.Context) error {
	projects, err := platform.FetchProjectsMine(ctx, s.Client, s.Caps, platform.AccessReporter)
	if err != nil {
		return fmt.Errorf("listing projects: %w", err)
	}

	for _, project := range projects {
		if !s.projectRe.MatchString(project.PathWithNamespace) {
			continue
		}
		if err := s.sweepProject(ctx, project); err != nil {
			s.Logger.Warn("sweep failed for project", "project", project.PathWithNamespace, "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interProjectSleep):
		}
	}
	return nil
}

func (s *Supervisor) sweepProject(ctx context.Context, project *platform.Project) error {
	mrs, err := platform.FetchAllOpenForUser(ctx, s.Client, project.ID, s.BotUser.ID, s.BotUser.Username, platform.Order(s.Config.MergeOrder))
	if err != nil {
		return fmt.Errorf("listing merge requests: %w", err)
	}
	for _, mr := range mrs {
		mr.Attach(s.Client)
	}

	filtered := make([]*platform.MergeRequest, 0, len(mrs))
	for _, mr := range mrs {
		if !s.branchRe.MatchString(mr.TargetBranch) || !s.sourceBranchRe.MatchString(mr.SourceBranch) {
			continue
		}
		filtered = append(filtered, mr)
	}
	if len(filtered) == 0 {
		return nil
	}

	repo, release, err := s.Repos.Acquire(ctx, project)
	if err != nil {
		return fmt.Errorf("acquiring working copy: %w", err)
	}
	defer release()

	jobFor := func(mr *platform.MergeRequest) *mergejob.Job {
		return &mergejob.Job{
			Client: s.Client, Caps: s.Caps, BotUser: s.BotUser, Repo: repo,
			Options: s.jobOptions, Logger: s.Logger, Notifier: s.Broadcaster,
		}
	}

	if s.Config.Batch && len(filtered) > 1 {
		return s.runBatch(ctx, project, repo, filtered, jobFor)
	}
	return s.runSingle(ctx, project, filtered, jobFor)
}

func (s *Supervisor) runSingle(ctx context.Context, project *platform.Project, mrs []*platform.MergeRequest, jobFor func(*platform.MergeRequest) *mergejob.Job) error {
	for _, mr := range mrs {
		if err := jobFor(mr).Run(ctx, project, mr); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) runBatch(ctx context.Context, project *platform.Project, repo *gitwork.Repo, mrs []*platform.MergeRequest, jobFor func(*platform.MergeRequest) *mergejob.Job) error {
	byTarget := groupByTargetBranch(mrs)

	for _, group := range byTarget {
		batch := &batchjob.Batch{
			Client: s.Client, Caps: s.Caps, BotUser: s.BotUser, Repo: repo, Logger: s.Logger,
			Config: batchjob.Config{
				BranchNamePrefix:      s.Config.BatchBranchName,
				UseMergeCommitBatches: s.Config.UseMergeCommitBatches,
				UseNoFFBatches:        s.Config.UseNoFFBatches,
				SkipCIBatches:         s.Config.SkipCIBatches,
				MaxBatchSize:          s.Config.MaxBatchSize,
			},
			SingleJobFor: jobFor,
		}

		included, _ := batch.AssembleBatch(ctx, project, group) // excluded MRs are left for the next sweep
		if len(included) <= 1 {
			if err := s.runSingle(ctx, project, group, jobFor); err != nil {
				return err
			}
			continue
		}

		result, err := batch.Process(ctx, project, included)
		var cannotBatch *mergejob.CannotBatchError
		if errors.As(err, &cannotBatch) {
			s.Logger.Info("batch fell back to single-MR processing", "project", project.PathWithNamespace, "reason", cannotBatch.Error())
			if err := jobFor(group[0]).Run(ctx, project, group[0]); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if result.Culprit != nil {
			if cErr := result.Culprit.Comment(ctx, result.MergeErr.Error()); cErr != nil {
				s.Logger.Warn("failed to post batch failure comment", "err", cErr)
			}
			if uErr := jobFor(result.Culprit).Unassign(ctx, result.Culprit); uErr != nil {
				s.Logger.Warn("failed to unassign after batch failure", "err", uErr)
			}
		}
	}
	return nil
}

func groupByTargetBranch(mrs []*platform.MergeRequest) [][]*platform.MergeRequest {
	order := make([]string, 0)
	groups := make(map[string][]*platform.MergeRequest)
	for _, mr := range mrs {
		if _, ok := groups[mr.TargetBranch]; !ok {
			order = append(order, mr.TargetBranch)
		}
		groups[mr.TargetBranch] = append(groups[mr.TargetBranch], mr)
	}
	sort.Strings(order)
	result := make([][]*platform.MergeRequest, 0, len(order))
	for _, branch := range order {
		result = append(result, groups[branch])
	}
	return result
}

// Bootstrap fetches the platform version and bot identity and builds the
// capability table. Admin-gated options are checked later, in New.
func Bootstrap(ctx context.Context, client *platform.Client) (platform.Capabilities, *platform.User, error) {
	version, err := platform.FetchVersion(ctx, client)
	if err != nil {
		return platform.Capabilities{}, nil, fmt.Errorf("probing platform version: %w", err)
	}
	caps := platform.NewCapabilities(version)

	botUser, err := platform.FetchMyself(ctx, client)
	if err != nil {
		return platform.Capabilities{}, nil, fmt.Errorf("fetching bot identity: %w", err)
	}
	return caps, botUser, nil
}

// NewWorkingCopyRoot creates a fresh process-scoped temp directory for the
// repomanager, logging its path at Debug so an operator can inspect a
// wedged checkout after a crash.
func NewWorkingCopyRoot(logger *slog.Logger) (string, func(), error) {
	root, err := os.MkdirTemp("", "mergebot-")
	if err != nil {
		return "", nil, err
	}
	logger.Debug("working-copy root created", "path", root)
	return root, func() { _ = os.RemoveAll(root) }, nil
}
