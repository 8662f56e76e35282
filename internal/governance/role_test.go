package governance

import "testing"

func TestParseRole(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  Role
		ok    bool
	}{
		{name: "maintainer", input: "MAINTAINER", want: RoleMaintainer, ok: true},
		{name: "subdomain leader", input: "SUBDOMAIN_LEADER", want: RoleSubdomainLeader, ok: true},
		{name: "lower case", input: "reviewer", ok: false},
		{name: "unknown", input: "OWNER", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseRole(tc.input)
			if (err == nil) != tc.ok {
				t.Fatalf("ParseRole(%q) error = %v, want ok=%v", tc.input, err, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("ParseRole(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestRoleLabels(t *testing.T) {
	if got := RoleMaintainer.Label("Base"); got != "MAINTAINER: Base" {
		t.Fatalf("Label() = %q", got)
	}
	if got := RoleReviewer.SubdomainLabel("Graphics", "Wayland"); got != "REVIEWER: Graphics-Wayland" {
		t.Fatalf("SubdomainLabel() = %q", got)
	}
	for _, r := range AllRoles() {
		if _, err := ParseRole(string(r)); err != nil {
			t.Fatalf("AllRoles() contains unparseable %q", r)
		}
	}
}
