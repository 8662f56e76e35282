package search

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/Doitordead/Intel-irris/internal/store"
)

// SQLSearcher answers queries with case-insensitive substring matches over
// the governance tables. It works on both PostgreSQL and SQLite and is the
// fallback when no search engine is reachable.
type SQLSearcher struct {
	db      *sql.DB
	dialect store.Dialect
}

func NewSQLSearcher(db *sql.DB, dialect store.Dialect) *SQLSearcher {
	return &SQLSearcher{db: db, dialect: dialect}
}

// Healthy always returns true: without the database nothing works anyway.
func (s *SQLSearcher) Healthy() bool {
	return true
}

const treeMatch = `
	SELECT 'tree' AS type, t.id AS id, t.gitpath AS title, d.name AS domain, s.name AS subdomain
	FROM git_trees t
	JOIN subdomains s ON s.id = t.subdomain_id
	JOIN domains d ON d.id = s.domain_id
	WHERE (LOWER(t.gitpath) LIKE ? ESCAPE '\' OR LOWER(d.name) LIKE ? ESCAPE '\' OR LOWER(s.name) LIKE ? ESCAPE '\')`

const domainMatch = `
	SELECT 'domain' AS type, d.id AS id, d.name AS title, d.name AS domain, '' AS subdomain
	FROM domains d
	WHERE LOWER(d.name) LIKE ? ESCAPE '\'`

func (s *SQLSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"

	var parts []string
	var args []any
	if q.FilterType == "" || q.FilterType == ResultTree {
		part := treeMatch
		args = append(args, pattern, pattern, pattern)
		if q.FilterDomain != "" {
			part += ` AND d.name = ?`
			args = append(args, q.FilterDomain)
		}
		parts = append(parts, part)
	}
	if q.FilterType == "" || q.FilterType == ResultDomain {
		part := domainMatch
		args = append(args, pattern)
		if q.FilterDomain != "" {
			part += ` AND d.name = ?`
			args = append(args, q.FilterDomain)
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(parts, "\n\tUNION ALL\n")

	var total int
	countSQL := s.dialect.Rebind(fmt.Sprintf(`SELECT COUNT(*) FROM (%s) sub`, union))
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	offset := max(q.Offset, 0)
	dataSQL := s.dialect.Rebind(fmt.Sprintf(`SELECT type, id, title, domain, subdomain FROM (%s) sub
		ORDER BY title, type
		LIMIT %d OFFSET %d`, union, q.limit(), offset))
	rows, err := s.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r  Result
			id int64
		)
		if err := rows.Scan(&r.Type, &id, &r.Title, &r.Domain, &r.Subdomain); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		r.ID = recordID(r.Type, id)
		if r.Type == ResultTree {
			r.Snippet = r.Domain + " / " + r.Subdomain
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search results: %w", err)
	}
	return results, total, nil
}

// LoadRecords reads everything the index holds.
func (s *SQLSearcher) LoadRecords(ctx context.Context) ([]TreeRecord, []DomainRecord, error) {
	trees, err := s.loadTrees(ctx)
	if err != nil {
		return nil, nil, err
	}
	domains, err := s.loadDomains(ctx)
	if err != nil {
		return nil, nil, err
	}
	return trees, domains, nil
}

func (s *SQLSearcher) loadTrees(ctx context.Context) ([]TreeRecord, error) {
	var trees []TreeRecord
	index := map[int64]int{}
	err := s.each(ctx, `
		SELECT t.id, t.gitpath, d.name, s.name
		FROM git_trees t
		JOIN subdomains s ON s.id = t.subdomain_id
		JOIN domains d ON d.id = s.domain_id
		ORDER BY t.id`, func(rows *sql.Rows) error {
		var (
			id  int64
			rec TreeRecord
		)
		if err := rows.Scan(&id, &rec.Path, &rec.Domain, &rec.Subdomain); err != nil {
			return err
		}
		rec.ID = recordID(ResultTree, id)
		rec.Licenses = []string{}
		rec.People = []string{}
		index[id] = len(trees)
		trees = append(trees, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load trees: %w", err)
	}

	err = s.each(ctx, `
		SELECT gl.git_tree_id, l.shortname
		FROM git_tree_licenses gl
		JOIN licenses l ON l.id = gl.license_id
		ORDER BY gl.git_tree_id, l.shortname`, func(rows *sql.Rows) error {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		if i, ok := index[id]; ok {
			trees[i].Licenses = append(trees[i].Licenses, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load tree licenses: %w", err)
	}

	err = s.each(ctx, `
		SELECT r.git_tree_id, u.email
		FROM git_tree_roles r
		JOIN git_tree_role_users ru ON ru.git_tree_role_id = r.id
		JOIN users u ON u.id = ru.user_id
		ORDER BY r.git_tree_id, u.email`, func(rows *sql.Rows) error {
		var (
			id    int64
			email string
		)
		if err := rows.Scan(&id, &email); err != nil {
			return err
		}
		if i, ok := index[id]; ok && !slices.Contains(trees[i].People, email) {
			trees[i].People = append(trees[i].People, email)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load tree people: %w", err)
	}
	return trees, nil
}

func (s *SQLSearcher) loadDomains(ctx context.Context) ([]DomainRecord, error) {
	var domains []DomainRecord
	index := map[int64]int{}
	err := s.each(ctx, `SELECT id, name FROM domains ORDER BY id`, func(rows *sql.Rows) error {
		var (
			id  int64
			rec DomainRecord
		)
		if err := rows.Scan(&id, &rec.Name); err != nil {
			return err
		}
		rec.ID = recordID(ResultDomain, id)
		rec.Subdomains = []string{}
		index[id] = len(domains)
		domains = append(domains, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load domains: %w", err)
	}

	err = s.each(ctx, `SELECT domain_id, name FROM subdomains ORDER BY domain_id, name`, func(rows *sql.Rows) error {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		if i, ok := index[id]; ok {
			domains[i].Subdomains = append(domains[i].Subdomains, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load subdomains: %w", err)
	}
	return domains, nil
}

func (s *SQLSearcher) each(ctx context.Context, query string, fn func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func recordID(t ResultType, id int64) string {
	return string(t) + "-" + strconv.FormatInt(id, 10)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
