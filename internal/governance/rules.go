package governance

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/Doitordead/Intel-irris/internal/blocks"
)

// Field names with a fixed meaning in the transform.
const (
	FieldDomain   = "DOMAIN"
	FieldParent   = "PARENT"
	FieldTreePath = "TREE PATH"
	FieldLicenses = "LICENSES"
)

//go:embed defaults.yaml
var defaultRules []byte

// Party is a user category assigned from the email domain.
type Party struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// PartyRule assigns Party to emails whose domain ends with Suffix.
type PartyRule struct {
	Suffix string `yaml:"suffix"`
	Party  string `yaml:"party"`
}

// Rules configures parsing and transformation of the governance exports.
type Rules struct {
	Fields        []blocks.Field `yaml:"fields"`
	DomainMarker  string         `yaml:"domainMarker"`
	TreeMarker    string         `yaml:"treeMarker"`
	CommentPrefix string         `yaml:"commentPrefix"`
	Uncategorized string         `yaml:"uncategorized"`
	Roles         []Role         `yaml:"roles"`
	Parties       []Party        `yaml:"parties"`
	PartyRules    []PartyRule    `yaml:"partyRules"`
	DefaultParty  string         `yaml:"defaultParty"`
	// RegisterLicenses inserts licenses named by trees instead of requiring
	// them to exist already.
	RegisterLicenses bool `yaml:"registerLicenses"`

	fieldMap  blocks.FieldMap
	validated bool
}

// DefaultRules returns the embedded default rules.
func DefaultRules() Rules {
	r, err := ParseRules(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded rules: %v", err))
	}
	return r
}

// LoadRules reads and validates a rules file.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rules and validates them.
func ParseRules(data []byte) (Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("decode rules: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

// Validate checks the rules and prepares the field map.
func (r *Rules) Validate() error {
	fm, err := blocks.NewFieldMap(r.Fields...)
	if err != nil {
		return fmt.Errorf("rules fields: %w", err)
	}
	for _, marker := range []string{r.DomainMarker, r.TreeMarker} {
		if _, ok := fm.Lookup(marker); !ok {
			return fmt.Errorf("rules: marker %q is not a declared field code", marker)
		}
	}
	names := make(map[string]blocks.Field)
	for _, f := range fm.Fields() {
		names[f.Name] = f
	}
	for _, required := range []string{FieldDomain, FieldParent, FieldTreePath, FieldLicenses} {
		if _, ok := names[required]; !ok {
			return fmt.Errorf("rules: field %q must be declared", required)
		}
	}
	if !names[FieldLicenses].Repeatable {
		return fmt.Errorf("rules: field %q must be repeatable", FieldLicenses)
	}
	seenRoles := make(map[Role]bool)
	for _, role := range r.Roles {
		if _, err := ParseRole(string(role)); err != nil {
			return fmt.Errorf("rules: %w", err)
		}
		if seenRoles[role] {
			return fmt.Errorf("rules: role %s listed twice", role)
		}
		seenRoles[role] = true
		f, ok := names[role.Field()]
		if !ok || !f.Repeatable {
			return fmt.Errorf("rules: role %s needs a repeatable field named %q", role, role.Field())
		}
	}
	if strings.TrimSpace(r.Uncategorized) == "" {
		return fmt.Errorf("rules: uncategorized name is required")
	}
	parties := make(map[string]bool)
	for _, p := range r.Parties {
		if p.Code == "" || parties[p.Code] {
			return fmt.Errorf("rules: invalid or duplicate party %q", p.Code)
		}
		parties[p.Code] = true
	}
	if !parties[r.DefaultParty] {
		return fmt.Errorf("rules: default party %q is not declared", r.DefaultParty)
	}
	for _, rule := range r.PartyRules {
		if strings.TrimSpace(rule.Suffix) == "" {
			return fmt.Errorf("rules: party rule for %q has an empty suffix", rule.Party)
		}
		if !parties[rule.Party] {
			return fmt.Errorf("rules: party rule %q targets undeclared party %q", rule.Suffix, rule.Party)
		}
	}
	r.fieldMap, r.validated = fm, true
	return nil
}

// FieldMap returns the validated field map.
func (r Rules) FieldMap() blocks.FieldMap {
	if !r.validated {
		fm, _ := blocks.NewFieldMap(r.Fields...)
		return fm
	}
	return r.fieldMap
}

// RoleFields returns the block fields of the enabled roles.
func (r Rules) RoleFields() []string {
	out := make([]string, 0, len(r.Roles))
	for _, role := range r.Roles {
		out = append(out, role.Field())
	}
	return out
}

// ParseOptions returns the parser options implied by the rules.
func (r Rules) ParseOptions() []blocks.Option {
	if r.CommentPrefix == "" {
		return nil
	}
	return []blocks.Option{blocks.WithCommentPrefix(r.CommentPrefix)}
}

// PartyFor returns the party of email: the first rule whose suffix ends the
// email domain, compared case-insensitively, else the default party.
func (r Rules) PartyFor(email string) string {
	domain := email
	if at := strings.LastIndexByte(email, '@'); at >= 0 {
		domain = email[at+1:]
	}
	domain = strings.ToLower(domain)
	for _, rule := range r.PartyRules {
		if strings.HasSuffix(domain, strings.ToLower(rule.Suffix)) {
			return rule.Party
		}
	}
	return r.DefaultParty
}
