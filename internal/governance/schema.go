package governance

import "github.com/Doitordead/Intel-irris/internal/reconcile"

// Table names.
const (
	TableUsers          = "users"
	TableLicenses       = "licenses"
	TableDomains        = "domains"
	TableSubdomains     = "subdomains"
	TableDomainRoles    = "domain_roles"
	TableSubdomainRoles = "subdomain_roles"
	TableGitTrees       = "git_trees"
	TableGitTreeRoles   = "git_tree_roles"
	TableUserParties    = "user_parties"
)

// Relation names.
const (
	RelDomainRoleUsers    = "domain_role_users"
	RelSubdomainRoleUsers = "subdomain_role_users"
	RelGitTreeLicenses    = "git_tree_licenses"
	RelGitTreeRoleUsers   = "git_tree_role_users"
	RelUserPartyUsers     = "user_party_users"
)

var schema = reconcile.MustSchema(
	[]reconcile.Table{
		{Name: TableUsers, Key: []string{"email"}, Columns: []reconcile.Column{
			{Name: "email"}, {Name: "username"}, {Name: "first_name"}, {Name: "last_name"},
		}},
		{Name: TableLicenses, Key: []string{"shortname"}, Columns: []reconcile.Column{
			{Name: "shortname"},
		}},
		{Name: TableDomains, Key: []string{"name"}, Columns: []reconcile.Column{
			{Name: "name"},
		}},
		{Name: TableSubdomains, Key: []string{"name", "domain_id"}, Columns: []reconcile.Column{
			{Name: "name"}, {Name: "domain_id", References: TableDomains},
		}},
		{Name: TableDomainRoles, Key: []string{"role", "domain_id"}, Columns: []reconcile.Column{
			{Name: "role"}, {Name: "domain_id", References: TableDomains}, {Name: "name"},
		}},
		{Name: TableSubdomainRoles, Key: []string{"role", "subdomain_id"}, Columns: []reconcile.Column{
			{Name: "role"}, {Name: "subdomain_id", References: TableSubdomains}, {Name: "name"},
		}},
		{Name: TableGitTrees, Key: []string{"gitpath"}, Columns: []reconcile.Column{
			{Name: "gitpath"}, {Name: "subdomain_id", References: TableSubdomains},
		}},
		{Name: TableGitTreeRoles, Key: []string{"role", "git_tree_id"}, Columns: []reconcile.Column{
			{Name: "role"}, {Name: "git_tree_id", References: TableGitTrees}, {Name: "name"},
		}},
		{Name: TableUserParties, Key: []string{"party"}, Columns: []reconcile.Column{
			{Name: "party"}, {Name: "name"},
		}},
	},
	[]reconcile.Relation{
		{Name: RelDomainRoleUsers, Left: TableDomainRoles, Right: TableUsers, LeftColumn: "domain_role_id", RightColumn: "user_id"},
		{Name: RelSubdomainRoleUsers, Left: TableSubdomainRoles, Right: TableUsers, LeftColumn: "subdomain_role_id", RightColumn: "user_id"},
		{Name: RelGitTreeLicenses, Left: TableGitTrees, Right: TableLicenses, LeftColumn: "git_tree_id", RightColumn: "license_id"},
		{Name: RelGitTreeRoleUsers, Left: TableGitTreeRoles, Right: TableUsers, LeftColumn: "git_tree_role_id", RightColumn: "user_id"},
		{Name: RelUserPartyUsers, Left: TableUserParties, Right: TableUsers, LeftColumn: "user_party_id", RightColumn: "user_id"},
	},
)

// Schema returns the governance tables and relations.
func Schema() *reconcile.Schema {
	return schema
}
