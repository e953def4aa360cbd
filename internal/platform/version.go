package platform

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Version is the platform's self-reported release, driving every
// feature gate in the client (endpoint shape, CE-vs-EE approvals,
// min_access_level availability).
type Version struct {
	Release [3]int
	Edition string
}

// IsEE reports whether this is an Enterprise Edition instance.
func (v Version) IsEE() bool {
	return v.Edition == "ee"
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Release[0], v.Release[1], v.Release[2])
	if v.Edition != "" {
		s += "-" + v.Edition
	}
	return s
}

// atLeast reports whether v.Release >= (major, minor, patch).
func (v Version) atLeast(major, minor, patch int) bool {
	want := [3]int{major, minor, patch}
	for i := 0; i < 3; i++ {
		if v.Release[i] != want[i] {
			return v.Release[i] > want[i]
		}
	}
	return true
}

// ParseVersion parses a "X.Y.Z[-edition]" string as returned by GET /version.
func ParseVersion(s string) (Version, error) {
	core, edition, _ := strings.Cut(s, "-")
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("malformed version %q", s)
	}
	var release [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, fmt.Errorf("malformed version %q: %w", s, err)
		}
		release[i] = n
	}
	return Version{Release: release, Edition: edition}, nil
}

// FetchVersion probes GET /version.
func FetchVersion(ctx context.Context, c *Client) (Version, error) {
	var raw struct {
		Version string `json:"version"`
	}
	if _, err := c.Call(ctx, Command{Verb: GET, Endpoint: "/version"}, 0, &raw); err != nil {
		return Version{}, err
	}
	return ParseVersion(raw.Version)
}

// Capabilities is a table of version-gated feature flags, populated once
// from the version probe so call sites branch on a named capability
// instead of repeating release-tuple comparisons.
type Capabilities struct {
	version Version
}

// NewCapabilities builds a capability table from a probed Version.
func NewCapabilities(v Version) Capabilities {
	return Capabilities{version: v}
}

// LegacyApproverEndpoint reports whether the pre-9.2.2 approver endpoint
// (keyed by MR id rather than iid) must be used.
func (c Capabilities) LegacyApproverEndpoint() bool {
	return !c.version.atLeast(9, 2, 2)
}

// ApprovalsInCE reports whether the approvals endpoint exists on Community
// Edition (true from 13.2.0) or requires Enterprise Edition.
func (c Capabilities) ApprovalsInCE() bool {
	return c.version.IsEE() || c.version.atLeast(13, 2, 0)
}

// PipelinesByMRIID reports whether pipelines can be looked up by MR iid
// (available from 10.5.0; older platforms require a branch lookup).
func (c Capabilities) PipelinesByMRIID() bool {
	return c.version.atLeast(10, 5, 0)
}

// MinAccessLevelFilter reports whether project listing supports the
// min_access_level query parameter (available from 11.2).
func (c Capabilities) MinAccessLevelFilter() bool {
	return c.version.atLeast(11, 2, 0)
}
