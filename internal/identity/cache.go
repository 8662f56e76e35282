// Package identity deduplicates the free-text "Display Name <email>" strings
// found in governance role fields into canonical identities.
package identity

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	bracketed = regexp.MustCompile(`^(.*?)\s*<\s*([^<>\s]+)\s*>$`)
	bareEmail = regexp.MustCompile(`^[^\s<>@]+@[^\s<>@]+$`)
)

// Identity is the canonical record for one email address.
type Identity struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Cache maps raw identity strings to canonical identities. Emails compare
// case-insensitively and the first registration of an email wins.
type Cache struct {
	mu      sync.RWMutex
	byEmail map[string]Identity
	byRaw   map[string]string
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		byEmail: make(map[string]Identity),
		byRaw:   make(map[string]string),
	}
}

// Update registers raw. Malformed strings are ignored and Update reports
// whether raw resolved to an identity.
func (c *Cache) Update(raw string) bool {
	ident, ok := Parse(raw)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.byEmail[ident.Email]; !seen {
		c.byEmail[ident.Email] = ident
	}
	c.byRaw[raw] = ident.Email
	return true
}

// Get returns the identity registered for raw.
func (c *Cache) Get(raw string) (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	email, ok := c.byRaw[raw]
	if !ok {
		parsed, valid := Parse(raw)
		if !valid {
			return Identity{}, false
		}
		email = parsed.Email
	}
	ident, ok := c.byEmail[email]
	return ident, ok
}

// All returns every canonical identity sorted by email.
func (c *Cache) All() []Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Identity, 0, len(c.byEmail))
	for _, ident := range c.byEmail {
		out = append(out, ident)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// Len returns the number of distinct identities.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byEmail)
}

// Parse reads "Display Name <email>", "<email>" or a bare email. A missing
// display name falls back to the local part of the email.
func Parse(raw string) (Identity, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Identity{}, false
	}

	var name, email string
	if m := bracketed.FindStringSubmatch(s); m != nil {
		name, email = strings.TrimSpace(m[1]), m[2]
	} else if bareEmail.MatchString(s) {
		email = s
	} else {
		return Identity{}, false
	}
	if !bareEmail.MatchString(email) || strings.ContainsAny(name, "<>") {
		return Identity{}, false
	}

	email = strings.ToLower(email)
	name = strings.Trim(name, `"`)
	if name == "" {
		name = email[:strings.IndexByte(email, '@')]
	}
	first, last := splitName(name)
	return Identity{Name: name, Email: email, FirstName: first, LastName: last}, true
}

func splitName(name string) (string, string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
