// Package governance turns parsed domain and git tree blocks into the typed
// records of the governance schema and applies them with the reconciler.
package governance

import (
	"fmt"
	"strings"

	"github.com/Doitordead/Intel-irris/internal/blocks"
	"github.com/Doitordead/Intel-irris/internal/identity"
)

// Snapshot is the full desired state computed from one pair of exports.
type Snapshot struct {
	Users          []User
	Licenses       []License
	Domains        []Domain
	Subdomains     []Subdomain
	DomainRoles    []DomainRole
	SubdomainRoles []SubdomainRole
	Trees          []GitTree
	TreeRoles      []GitTreeRole
	Parties        []UserParty

	DomainRoleUsers    []DomainRoleUser
	SubdomainRoleUsers []SubdomainRoleUser
	TreeLicenses       []GitTreeLicense
	TreeRoleUsers      []GitTreeRoleUser
	PartyUsers         []PartyUser
}

// BlockError reports a block that cannot be transformed.
type BlockError struct {
	Marker string
	Line   int
	Reason string
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("%s block at line %d: %s", e.Marker, e.Line, e.Reason)
}

// Transform maps domain and tree blocks to a Snapshot. Role values that the
// cache could not resolve are skipped.
func Transform(domainBlocks, treeBlocks []blocks.Block, cache *identity.Cache, rules Rules) (*Snapshot, error) {
	s := &Snapshot{}
	for _, ident := range cache.All() {
		s.Users = append(s.Users, User{
			Email:     ident.Email,
			Username:  ident.Email,
			FirstName: ident.FirstName,
			LastName:  ident.LastName,
		})
	}

	if err := s.addDomains(domainBlocks, cache, rules); err != nil {
		return nil, err
	}
	if err := s.addTrees(treeBlocks, cache, rules); err != nil {
		return nil, err
	}
	s.addParties(rules)
	return s, nil
}

func (s *Snapshot) addDomains(domainBlocks []blocks.Block, cache *identity.Cache, rules Rules) error {
	none := rules.Uncategorized
	s.Domains = append(s.Domains, Domain{Name: none})
	for _, b := range domainBlocks {
		name := strings.TrimSpace(b.Value(FieldDomain))
		if name == "" {
			return &BlockError{Marker: b.Marker(), Line: b.Line(), Reason: "empty domain name"}
		}
		if b.Has(FieldParent) {
			dname, sname := splitName(name, none)
			s.Subdomains = append(s.Subdomains, Subdomain{Domain: dname, Name: sname})
			for _, role := range rules.Roles {
				if !b.Has(role.Field()) {
					continue
				}
				sr := SubdomainRole{Role: role, Domain: dname, Subdomain: sname}
				s.SubdomainRoles = append(s.SubdomainRoles, sr)
				for _, email := range resolve(cache, b.Values(role.Field())) {
					s.SubdomainRoleUsers = append(s.SubdomainRoleUsers, SubdomainRoleUser{Role: sr, Email: email})
				}
			}
			continue
		}

		s.Domains = append(s.Domains, Domain{Name: name})
		for _, role := range rules.Roles {
			if !b.Has(role.Field()) {
				continue
			}
			dr := DomainRole{Role: role, Domain: name}
			s.DomainRoles = append(s.DomainRoles, dr)
			for _, email := range resolve(cache, b.Values(role.Field())) {
				s.DomainRoleUsers = append(s.DomainRoleUsers, DomainRoleUser{Role: dr, Email: email})
			}
		}
	}
	for _, d := range s.Domains {
		s.Subdomains = append(s.Subdomains, Subdomain{Domain: d.Name, Name: none})
	}
	return nil
}

func (s *Snapshot) addTrees(treeBlocks []blocks.Block, cache *identity.Cache, rules Rules) error {
	none := rules.Uncategorized
	seenLicense := make(map[string]bool)
	for _, b := range treeBlocks {
		path := strings.TrimSpace(b.Value(FieldTreePath))
		if path == "" {
			return &BlockError{Marker: b.Marker(), Line: b.Line(), Reason: "empty tree path"}
		}
		dname, sname := treeDomain(b.Value(FieldDomain), none)
		s.Trees = append(s.Trees, GitTree{Path: path, Domain: dname, Subdomain: sname})

		for _, lic := range b.Values(FieldLicenses) {
			lic = strings.TrimSpace(lic)
			if lic == "" {
				continue
			}
			s.TreeLicenses = append(s.TreeLicenses, GitTreeLicense{Path: path, License: lic})
			if rules.RegisterLicenses && !seenLicense[lic] {
				seenLicense[lic] = true
				s.Licenses = append(s.Licenses, License{Shortname: lic})
			}
		}

		for _, role := range rules.Roles {
			if !b.Has(role.Field()) {
				continue
			}
			tr := GitTreeRole{Role: role, Path: path}
			s.TreeRoles = append(s.TreeRoles, tr)
			for _, email := range resolve(cache, b.Values(role.Field())) {
				s.TreeRoleUsers = append(s.TreeRoleUsers, GitTreeRoleUser{Role: tr, Email: email})
			}
		}
	}
	return nil
}

func (s *Snapshot) addParties(rules Rules) {
	for _, p := range rules.Parties {
		s.Parties = append(s.Parties, UserParty{Party: p.Code, Name: p.Name})
	}
	for _, u := range s.Users {
		s.PartyUsers = append(s.PartyUsers, PartyUser{Party: rules.PartyFor(u.Email), Email: u.Email})
	}
}

func resolve(cache *identity.Cache, raws []string) []string {
	var out []string
	for _, raw := range raws {
		if ident, ok := cache.Get(raw); ok {
			out = append(out, ident.Email)
		}
	}
	return out
}

// splitName splits "Domain / Sub" on the first slash. A single name files
// under the uncategorized subdomain.
func splitName(name, none string) (string, string) {
	domain, sub, found := strings.Cut(name, "/")
	domain, sub = strings.TrimSpace(domain), strings.TrimSpace(sub)
	switch {
	case !found && domain == "":
		return none, none
	case !found:
		return domain, none
	}
	return domain, sub
}

// treeDomain reads a tree's DOMAIN value, which must use " / " between
// domain and subdomain.
func treeDomain(value, none string) (string, string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return none, none
	}
	domain, sub, found := strings.Cut(value, " / ")
	if !found {
		return value, none
	}
	return strings.TrimSpace(domain), strings.TrimSpace(sub)
}
