package governance

import "fmt"

// Role is a governance role. The set is closed; Rules selects which roles an
// import reads.
type Role string

const (
	RoleArchitect       Role = "ARCHITECT"
	RoleIntegrator      Role = "INTEGRATOR"
	RoleMaintainer      Role = "MAINTAINER"
	RoleReviewer        Role = "REVIEWER"
	RoleSubdomainLeader Role = "SUBDOMAIN_LEADER"
)

// AllRoles lists every role in display order.
func AllRoles() []Role {
	return []Role{RoleArchitect, RoleIntegrator, RoleMaintainer, RoleReviewer, RoleSubdomainLeader}
}

// ParseRole returns the role named s.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleArchitect, RoleIntegrator, RoleMaintainer, RoleReviewer, RoleSubdomainLeader:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Field returns the block field carrying the role's identities.
func (r Role) Field() string {
	return string(r)
}

// Label names a domain or tree role, e.g. "MAINTAINER: Base".
func (r Role) Label(owner string) string {
	return fmt.Sprintf("%s: %s", r, owner)
}

// SubdomainLabel names a subdomain role, e.g. "REVIEWER: Graphics-Wayland".
func (r Role) SubdomainLabel(domain, subdomain string) string {
	return fmt.Sprintf("%s: %s-%s", r, domain, subdomain)
}
