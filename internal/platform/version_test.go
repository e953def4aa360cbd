package platform

import "testing"

func TestParseVersion_RoundTrip(t *testing.T) {
	cases := []string{"9.2.2", "13.2.0-ee", "16.0.1"}
	for _, s := range cases {
		v, err := ParseVersion(s)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", s, err)
		}
		if got := v.String(); got != s {
			t.Errorf("ParseVersion(%q).String() = %q, want %q", s, got, s)
		}
	}
}

func TestParseVersion_Malformed(t *testing.T) {
	if _, err := ParseVersion("not-a-version"); err == nil {
		t.Error("expected an error for a malformed version string")
	}
	if _, err := ParseVersion("9.2"); err == nil {
		t.Error("expected an error for a version missing the patch component")
	}
}

func TestCapabilities_VersionGates(t *testing.T) {
	old := NewCapabilities(Version{Release: [3]int{9, 2, 1}})
	if !old.LegacyApproverEndpoint() {
		t.Error("expected 9.2.1 to require the legacy approver endpoint")
	}
	if old.PipelinesByMRIID() {
		t.Error("expected 9.2.1 not to support pipelines-by-iid")
	}

	modern := NewCapabilities(Version{Release: [3]int{16, 0, 0}})
	if modern.LegacyApproverEndpoint() {
		t.Error("expected 16.0.0 not to require the legacy approver endpoint")
	}
	if !modern.PipelinesByMRIID() {
		t.Error("expected 16.0.0 to support pipelines-by-iid")
	}
	if !modern.MinAccessLevelFilter() {
		t.Error("expected 16.0.0 to support min_access_level")
	}
	if !modern.ApprovalsInCE() {
		t.Error("expected 16.0.0 to support approvals in CE")
	}

	ee := NewCapabilities(Version{Release: [3]int{10, 0, 0}, Edition: "ee"})
	if !ee.ApprovalsInCE() {
		t.Error("expected any EE edition to support approvals regardless of release")
	}
}
