package platform

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// MergeRequest states the platform reports.
const (
	StateOpened   = "opened"
	StateReopened = "reopened"
	StateLocked   = "locked"
	StateMerged   = "merged"
	StateClosed   = "closed"
)

// MergeStatus values the platform reports for merge feasibility.
const (
	MergeStatusCanBeMerged    = "can_be_merged"
	MergeStatusCannotBeMerged = "cannot_be_merged"
	MergeStatusUnchecked      = "unchecked"
)

// Order is the sort key for MergeRequest listing.
type Order string

const (
	OrderCreatedAt Order = "created_at"
	OrderUpdatedAt Order = "updated_at"
	OrderAssignedAt Order = "assigned_at"
)

// NoJobsMessage is the BadRequest message substring that marks an empty
// pipeline definition, the trigger for the branch-pipeline POST fallback.
const NoJobsMessage = "No stages / jobs for this pipeline."

// MergeRequest wraps the last-fetched JSON snapshot of a platform merge
// request. Refetches replace the snapshot atomically (assignment of a new
// value, never in-place mutation), per the ownership invariant in the data
// model: merge_status is eventually consistent and must be re-read before
// every precondition check.
type MergeRequest struct {
	ProjectID                  int    `json:"project_id"`
	SourceProjectID             int    `json:"source_project_id"`
	TargetProjectID             int    `json:"target_project_id"`
	IID                        int    `json:"iid"`
	ID                         int    `json:"id"`
	SourceBranch               string `json:"source_branch"`
	TargetBranch               string `json:"target_branch"`
	SHA                        string `json:"sha"`
	State                      string `json:"state"`
	MergeStatus                string `json:"merge_status"`
	RebaseInProgress           bool   `json:"rebase_in_progress"`
	MergeError                 string `json:"merge_error"`
	AssigneeIDs                []int  `json:"assignee_ids"`
	AuthorID                   int    `json:"author_id"`
	Draft                      bool   `json:"draft"`
	WorkInProgress             bool   `json:"work_in_progress"`
	Squash                     bool   `json:"squash"`
	BlockingDiscussionsResolved bool  `json:"blocking_discussions_resolved"`
	ForceRemoveSourceBranch    bool   `json:"force_remove_source_branch"`
	WebURL                     string `json:"web_url"`
	CreatedAt                  time.Time `json:"created_at"`
	UpdatedAt                  time.Time `json:"updated_at"`

	client *Client
}

// Attach binds c to mr so its methods can make further API calls. Resources
// fetched through FetchAllOpenForUser are already attached.
func (mr *MergeRequest) Attach(c *Client) { mr.client = c }

func (mr *MergeRequest) endpoint(suffix string) string {
	return fmt.Sprintf("/projects/%d/merge_requests/%d%s", mr.ProjectID, mr.IID, suffix)
}

// IsWorkInProgress reports draft/WIP state under either of the platform's
// two historical field names.
func (mr *MergeRequest) IsWorkInProgress() bool {
	return mr.Draft || mr.WorkInProgress
}

// RefetchInfo replaces mr's snapshot with a fresh GET, requesting
// rebase-in-progress inclusion.
func (mr *MergeRequest) RefetchInfo(ctx context.Context) error {
	var fresh MergeRequest
	_, err := mr.client.Call(ctx, Command{
		Verb:     GET,
		Endpoint: mr.endpoint(""),
		Args:     map[string]any{"include_rebase_in_progress": true},
	}, 0, &fresh)
	if err != nil {
		return err
	}
	fresh.client = mr.client
	*mr = fresh
	return nil
}

// RebaseFailedError reports a server-side rebase failure.
type RebaseFailedError struct{ Reason string }

func (e *RebaseFailedError) Error() string { return "rebase failed: " + e.Reason }

// RebaseTimeoutError reports that the rebase did not conclude within budget.
type RebaseTimeoutError struct{}

func (e *RebaseTimeoutError) Error() string { return "rebase did not complete in time" }

// Rebase issues a rebase PUT (only if not already in progress) and polls
// RefetchInfo up to 30 times at 1s intervals.
func (mr *MergeRequest) Rebase(ctx context.Context) error {
	if !mr.RebaseInProgress {
		if _, err := mr.client.Call(ctx, Command{Verb: PUT, Endpoint: mr.endpoint("/rebase")}, 0, nil); err != nil {
			return err
		}
	}
	for i := 0; i < 30; i++ {
		if err := mr.RefetchInfo(ctx); err != nil {
			return err
		}
		if mr.MergeError != "" {
			return &RebaseFailedError{Reason: mr.MergeError}
		}
		if !mr.RebaseInProgress {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return &RebaseTimeoutError{}
}

// Accept calls the merge endpoint with the expected sha; the platform
// rejects if HEAD has drifted.
func (mr *MergeRequest) Accept(ctx context.Context, sha string, removeSourceBranch, mergeWhenPipelineSucceeds bool) error {
	_, err := mr.client.Call(ctx, Command{
		Verb:     PUT,
		Endpoint: mr.endpoint("/merge"),
		Args: map[string]any{
			"sha":                          sha,
			"should_remove_source_branch":  removeSourceBranch,
			"merge_when_pipeline_succeeds": mergeWhenPipelineSucceeds,
		},
	}, 0, nil)
	return err
}

// Comment posts a note on the MR.
func (mr *MergeRequest) Comment(ctx context.Context, body string) error {
	_, err := mr.client.Call(ctx, Command{
		Verb:     POST,
		Endpoint: mr.endpoint("/notes"),
		Args:     map[string]any{"body": body},
	}, 0, nil)
	return err
}

// Assign sets the MR's assignee to userID; a userID of 0 clears it.
func (mr *MergeRequest) Assign(ctx context.Context, userID int) error {
	_, err := mr.client.Call(ctx, Command{
		Verb:     PUT,
		Endpoint: mr.endpoint(""),
		Args:     map[string]any{"assignee_id": userID},
	}, 0, nil)
	return err
}

// TriggerPipeline attempts the MR-pipeline endpoint first; on a BadRequest
// whose message contains NoJobsMessage it retries against the
// branch-pipeline endpoint. Any other BadRequest propagates.
func (mr *MergeRequest) TriggerPipeline(ctx context.Context) (Pipeline, error) {
	var p Pipeline
	_, err := mr.client.Call(ctx, Command{Verb: POST, Endpoint: mr.endpoint("/pipelines")}, 0, &p)
	if err == nil {
		return p, nil
	}
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Kind != KindBadRequest || !strings.Contains(apiErr.Body, NoJobsMessage) {
		return Pipeline{}, err
	}
	_, err = mr.client.Call(ctx, Command{
		Verb:     POST,
		Endpoint: fmt.Sprintf("/projects/%d/pipeline", mr.ProjectID),
		Args:     map[string]any{"ref": mr.SourceBranch},
	}, 0, &p)
	return p, err
}

// FetchApprovals fetches the Approvals view for mr, honoring version gates.
func FetchApprovals(ctx context.Context, c *Client, caps Capabilities, mr *MergeRequest) (Approvals, error) {
	if !caps.ApprovalsInCE() {
		return Approvals{ProjectID: mr.ProjectID, IID: mr.IID, ApprovalsLeft: 0}, nil
	}
	id := mr.IID
	if caps.LegacyApproverEndpoint() {
		id = mr.ID
	}
	var a Approvals
	_, err := c.Call(ctx, Command{
		Verb:     GET,
		Endpoint: fmt.Sprintf("/projects/%d/merge_requests/%d/approvals", mr.ProjectID, id),
	}, 0, &a)
	return a, err
}

// Reapprove re-POSTs the approve endpoint impersonating (sudo) each
// approver id in turn.
func Reapprove(ctx context.Context, c *Client, caps Capabilities, mr *MergeRequest, approverIDs []int) error {
	id := mr.IID
	if caps.LegacyApproverEndpoint() {
		id = mr.ID
	}
	endpoint := fmt.Sprintf("/projects/%d/merge_requests/%d/approve", mr.ProjectID, id)
	for _, uid := range approverIDs {
		if _, err := c.Call(ctx, Command{Verb: POST, Endpoint: endpoint}, uid, nil); err != nil {
			return fmt.Errorf("reapprove as uid %d: %w", uid, err)
		}
	}
	return nil
}

// FetchAllOpenForUser fetches opened MRs assigned to user in project, sorted
// ascending by order. assigned_at is resolved client-side by fetching
// discussion notes and taking the latest note whose body contains
// "assigned to @{username}"; the server itself is asked to order by
// created_at in that case.
func FetchAllOpenForUser(ctx context.Context, c *Client, projectID, userID int, username string, order Order) ([]*MergeRequest, error) {
	serverOrder := string(order)
	if order == OrderAssignedAt {
		serverOrder = string(OrderCreatedAt)
	}
	pages, err := CollectAllPages(ctx, func(ctx context.Context, page, perPage int) ([]*MergeRequest, error) {
		var batch []*MergeRequest
		_, err := c.Call(ctx, Command{
			Verb:     GET,
			Endpoint: fmt.Sprintf("/projects/%d/merge_requests", projectID),
			Args: map[string]any{
				"state":       StateOpened,
				"assignee_id": userID,
				"order_by":    serverOrder,
				"sort":        "asc",
				"page":        page,
				"per_page":    perPage,
			},
		}, 0, &batch)
		for _, mr := range batch {
			mr.client = c
		}
		return batch, err
	})
	if err != nil {
		return nil, err
	}
	if order != OrderAssignedAt {
		return pages, nil
	}

	type withAssignedAt struct {
		mr         *MergeRequest
		assignedAt time.Time
	}
	marker := "assigned to @" + username
	withTimes := make([]withAssignedAt, 0, len(pages))
	for _, mr := range pages {
		assignedAt, err := latestAssignmentNote(ctx, c, mr, marker)
		if err != nil {
			return nil, err
		}
		withTimes = append(withTimes, withAssignedAt{mr: mr, assignedAt: assignedAt})
	}
	sort.SliceStable(withTimes, func(i, j int) bool {
		return withTimes[i].assignedAt.Before(withTimes[j].assignedAt)
	})
	sorted := make([]*MergeRequest, len(withTimes))
	for i, w := range withTimes {
		sorted[i] = w.mr
	}
	return sorted, nil
}

func latestAssignmentNote(ctx context.Context, c *Client, mr *MergeRequest, marker string) (time.Time, error) {
	notes, err := CollectAllPages(ctx, func(ctx context.Context, page, perPage int) ([]struct {
		Body      string    `json:"body"`
		CreatedAt time.Time `json:"created_at"`
	}, error) {
		var batch []struct {
			Body      string    `json:"body"`
			CreatedAt time.Time `json:"created_at"`
		}
		_, err := c.Call(ctx, Command{
			Verb:     GET,
			Endpoint: fmt.Sprintf("/projects/%d/merge_requests/%d/notes", mr.ProjectID, mr.IID),
			Args:     map[string]any{"page": page, "per_page": perPage},
		}, 0, &batch)
		return batch, err
	})
	if err != nil {
		return time.Time{}, err
	}
	var latest time.Time
	for _, n := range notes {
		if strings.Contains(n.Body, marker) && n.CreatedAt.After(latest) {
			latest = n.CreatedAt
		}
	}
	if latest.IsZero() {
		return mr.CreatedAt, nil
	}
	return latest, nil
}

// FetchPipelines lists pipelines for ref (an MR iid when caps supports it,
// otherwise the branch name), newest first as the platform returns them.
func FetchPipelines(ctx context.Context, c *Client, caps Capabilities, mr *MergeRequest) ([]Pipeline, error) {
	if caps.PipelinesByMRIID() {
		var pipelines []Pipeline
		_, err := c.Call(ctx, Command{Verb: GET, Endpoint: mr.endpoint("/pipelines")}, 0, &pipelines)
		return pipelines, err
	}
	var pipelines []Pipeline
	_, err := c.Call(ctx, Command{
		Verb:     GET,
		Endpoint: fmt.Sprintf("/projects/%d/pipelines", mr.ProjectID),
		Args:     map[string]any{"ref": mr.SourceBranch},
	}, 0, &pipelines)
	return pipelines, err
}
