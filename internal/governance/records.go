package governance

import "github.com/Doitordead/Intel-irris/internal/reconcile"

// User is one canonical identity. Username is the email, since the real
// login name lives in the directory service.
type User struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
}

func (u User) key() reconcile.Key {
	return reconcile.Key{reconcile.Val("email", u.Email)}
}

// Entity returns the desired users row.
func (u User) Entity() reconcile.Entity {
	return reconcile.Entity{Key: u.key(), Fields: []reconcile.Part{
		reconcile.Val("username", u.Username),
		reconcile.Val("first_name", u.FirstName),
		reconcile.Val("last_name", u.LastName),
	}}
}

type License struct {
	Shortname string
}

func (l License) key() reconcile.Key {
	return reconcile.Key{reconcile.Val("shortname", l.Shortname)}
}

func (l License) Entity() reconcile.Entity {
	return reconcile.Entity{Key: l.key()}
}

type Domain struct {
	Name string
}

func (d Domain) key() reconcile.Key {
	return reconcile.Key{reconcile.Val("name", d.Name)}
}

func (d Domain) Entity() reconcile.Entity {
	return reconcile.Entity{Key: d.key()}
}

type Subdomain struct {
	Domain string
	Name   string
}

func (s Subdomain) key() reconcile.Key {
	return reconcile.Key{
		reconcile.Val("name", s.Name),
		reconcile.RefTo("domain_id", TableDomains, Domain{Name: s.Domain}.key()...),
	}
}

func (s Subdomain) Entity() reconcile.Entity {
	return reconcile.Entity{Key: s.key()}
}

type DomainRole struct {
	Role   Role
	Domain string
}

func (r DomainRole) key() reconcile.Key {
	return reconcile.Key{
		reconcile.Val("role", string(r.Role)),
		reconcile.RefTo("domain_id", TableDomains, Domain{Name: r.Domain}.key()...),
	}
}

func (r DomainRole) Entity() reconcile.Entity {
	return reconcile.Entity{Key: r.key(), Fields: []reconcile.Part{
		reconcile.Val("name", r.Role.Label(r.Domain)),
	}}
}

type SubdomainRole struct {
	Role      Role
	Domain    string
	Subdomain string
}

func (r SubdomainRole) key() reconcile.Key {
	return reconcile.Key{
		reconcile.Val("role", string(r.Role)),
		reconcile.RefTo("subdomain_id", TableSubdomains, Subdomain{Domain: r.Domain, Name: r.Subdomain}.key()...),
	}
}

func (r SubdomainRole) Entity() reconcile.Entity {
	return reconcile.Entity{Key: r.key(), Fields: []reconcile.Part{
		reconcile.Val("name", r.Role.SubdomainLabel(r.Domain, r.Subdomain)),
	}}
}

// GitTree is a repository path filed under a subdomain.
type GitTree struct {
	Path      string
	Domain    string
	Subdomain string
}

func (t GitTree) key() reconcile.Key {
	return reconcile.Key{reconcile.Val("gitpath", t.Path)}
}

func (t GitTree) Entity() reconcile.Entity {
	sub := Subdomain{Domain: t.Domain, Name: t.Subdomain}
	return reconcile.Entity{Key: t.key(), Fields: []reconcile.Part{
		reconcile.RefTo("subdomain_id", TableSubdomains, sub.key()...),
	}}
}

type GitTreeRole struct {
	Role Role
	Path string
}

func (r GitTreeRole) key() reconcile.Key {
	return reconcile.Key{
		reconcile.Val("role", string(r.Role)),
		reconcile.RefTo("git_tree_id", TableGitTrees, GitTree{Path: r.Path}.key()...),
	}
}

func (r GitTreeRole) Entity() reconcile.Entity {
	return reconcile.Entity{Key: r.key(), Fields: []reconcile.Part{
		reconcile.Val("name", r.Role.Label(r.Path)),
	}}
}

// UserParty is the row for one configured party.
type UserParty struct {
	Party string
	Name  string
}

func (p UserParty) key() reconcile.Key {
	return reconcile.Key{reconcile.Val("party", p.Party)}
}

func (p UserParty) Entity() reconcile.Entity {
	return reconcile.Entity{Key: p.key(), Fields: []reconcile.Part{reconcile.Val("name", p.Name)}}
}

// DomainRoleUser grants a domain role to the user with Email.
type DomainRoleUser struct {
	Role  DomainRole
	Email string
}

func (m DomainRoleUser) Pair() reconcile.Pair {
	return reconcile.Pair{Left: m.Role.key(), Right: User{Email: m.Email}.key()}
}

type SubdomainRoleUser struct {
	Role  SubdomainRole
	Email string
}

func (m SubdomainRoleUser) Pair() reconcile.Pair {
	return reconcile.Pair{Left: m.Role.key(), Right: User{Email: m.Email}.key()}
}

type GitTreeRoleUser struct {
	Role  GitTreeRole
	Email string
}

func (m GitTreeRoleUser) Pair() reconcile.Pair {
	return reconcile.Pair{Left: m.Role.key(), Right: User{Email: m.Email}.key()}
}

// GitTreeLicense attaches a license to a tree.
type GitTreeLicense struct {
	Path    string
	License string
}

func (m GitTreeLicense) Pair() reconcile.Pair {
	return reconcile.Pair{Left: GitTree{Path: m.Path}.key(), Right: License{Shortname: m.License}.key()}
}

type PartyUser struct {
	Party string
	Email string
}

func (m PartyUser) Pair() reconcile.Pair {
	return reconcile.Pair{Left: UserParty{Party: m.Party}.key(), Right: User{Email: m.Email}.key()}
}
