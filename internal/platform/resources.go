package platform

// AccessLevel mirrors the platform's project permission levels.
type AccessLevel int

const (
	AccessNone       AccessLevel = 0
	AccessMinimal    AccessLevel = 5
	AccessGuest      AccessLevel = 10
	AccessReporter   AccessLevel = 20
	AccessDeveloper  AccessLevel = 30
	AccessMaintainer AccessLevel = 40
	AccessOwner      AccessLevel = 50
)

// SquashOption mirrors the platform's project-level squash setting.
type SquashOption string

const (
	SquashAlways     SquashOption = "always"
	SquashNever      SquashOption = "never"
	SquashDefaultOn  SquashOption = "default_on"
	SquashDefaultOff SquashOption = "default_off"
)

// Project is a thin projection of a platform project.
type Project struct {
	ID                                  int          `json:"id"`
	DefaultBranch                       string       `json:"default_branch"`
	PathWithNamespace                   string       `json:"path_with_namespace"`
	SSHURLToRepo                        string       `json:"ssh_url_to_repo"`
	HTTPURLToRepo                       string       `json:"http_url_to_repo"`
	OnlyAllowMergeIfPipelineSucceeds    bool         `json:"only_allow_merge_if_pipeline_succeeds"`
	OnlyAllowMergeIfDiscussionsResolved bool         `json:"only_allow_merge_if_all_discussions_are_resolved"`
	ApprovalsRequired                   int          `json:"approvals_before_merge"`
	AccessLevel                        AccessLevel  `json:"-"`
	SquashOption                        SquashOption `json:"squash_option"`
}

// User is a thin projection of a platform user.
type User struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"` // visible only to self/admin
	IsAdmin  bool   `json:"is_admin"`
	State    string `json:"state"`
}

// Branch is a thin projection of a platform repository branch.
type Branch struct {
	Name      string `json:"name"`
	Protected bool   `json:"protected"`
}

// Pipeline is a thin projection of a CI pipeline.
type Pipeline struct {
	ID     int    `json:"id"`
	SHA    string `json:"sha"`
	Status string `json:"status"`
	WebURL string `json:"web_url"`
}

// Pipeline statuses the CI-gating poll loop branches on.
const (
	PipelineSuccess  = "success"
	PipelineSkipped  = "skipped"
	PipelineFailed   = "failed"
	PipelineCanceled = "canceled"
)

// Succeeded reports whether p represents a green outcome.
func (p Pipeline) Succeeded() bool {
	return p.Status == PipelineSuccess || p.Status == PipelineSkipped
}

// Concluded reports whether p represents a terminal (non-pending) outcome.
func (p Pipeline) Concluded() bool {
	return p.Succeeded() || p.Status == PipelineFailed || p.Status == PipelineCanceled
}

// Approvals is a view (project_id, iid, approvals_left, approved_by[]).
type Approvals struct {
	ProjectID     int `json:"project_id"`
	IID           int `json:"iid"`
	ApprovalsLeft int `json:"approvals_left"`
	ApprovedBy    []struct {
		User User `json:"user"`
	} `json:"approved_by"`
}

// Sufficient reports whether no further approvals are required.
func (a Approvals) Sufficient() bool {
	return a.ApprovalsLeft == 0
}

// ApproverUsernames returns the usernames of everyone who has approved.
func (a Approvals) ApproverUsernames() []string {
	names := make([]string, 0, len(a.ApprovedBy))
	for _, who := range a.ApprovedBy {
		names = append(names, who.User.Username)
	}
	return names
}

// ApproverIDs returns the user ids of everyone who has approved.
func (a Approvals) ApproverIDs() []int {
	ids := make([]int, 0, len(a.ApprovedBy))
	for _, who := range a.ApprovedBy {
		ids = append(ids, who.User.ID)
	}
	return ids
}

// ApproverEmails returns the emails of everyone who has approved, skipping
// entries the server omitted an email for (non-admin view).
func (a Approvals) ApproverEmails() []string {
	emails := make([]string, 0, len(a.ApprovedBy))
	for _, who := range a.ApprovedBy {
		if who.User.Email != "" {
			emails = append(emails, who.User.Email)
		}
	}
	return emails
}
