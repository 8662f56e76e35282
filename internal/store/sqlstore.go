package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Doitordead/Intel-irris/internal/reconcile"
)

// deleteChunk bounds the number of ids bound in one IN list.
const deleteChunk = 500

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements reconcile.Store over database/sql. Scalar columns are
// TEXT and reference columns hold the parent id.
type SQLStore struct {
	db      *sql.DB
	q       queryer
	dialect Dialect
}

// NewSQLStore wraps db.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, q: db, dialect: dialect}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunInTx runs fn with a store bound to one transaction, committing when fn
// returns nil and rolling back otherwise.
func (s *SQLStore) RunInTx(ctx context.Context, fn func(ctx context.Context, st reconcile.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &SQLStore{db: s.db, q: tx, dialect: s.dialect}
	if err := fn(ctx, txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLStore) FindAll(ctx context.Context, table reconcile.Table) ([]reconcile.Row, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, selectList(table), quoteIdent(table.Name))
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table.Name, err)
	}
	defer rows.Close()

	var out []reconcile.Row
	for rows.Next() {
		row, err := scanRow(rows, table)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table.Name, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table.Name, err)
	}
	return out, nil
}

func (s *SQLStore) FindByKey(ctx context.Context, table reconcile.Table, key reconcile.Row) (reconcile.Row, bool, error) {
	conds := make([]string, 0, len(table.Key))
	args := make([]any, 0, len(table.Key))
	for _, col := range table.Key {
		conds = append(conds, quoteIdent(col)+" = ?")
		args = append(args, columnArg(table, col, key))
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s LIMIT 1`,
		selectList(table), quoteIdent(table.Name), strings.Join(conds, " AND "))
	rows, err := s.q.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return reconcile.Row{}, false, fmt.Errorf("query %s by key: %w", table.Name, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return reconcile.Row{}, false, rows.Err()
	}
	row, err := scanRow(rows, table)
	if err != nil {
		return reconcile.Row{}, false, fmt.Errorf("scan %s: %w", table.Name, err)
	}
	return row, true, nil
}

func (s *SQLStore) Insert(ctx context.Context, table reconcile.Table, row reconcile.Row) (int64, error) {
	cols, args := assignments(table, row)
	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf(`INSERT INTO %s DEFAULT VALUES RETURNING id`, quoteIdent(table.Name))
	} else {
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = quoteIdent(c)
		}
		query = fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING id`,
			quoteIdent(table.Name), strings.Join(quoted, ", "), placeholders(len(cols)))
	}
	var id int64
	if err := s.q.QueryRowContext(ctx, s.dialect.Rebind(query), args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert %s: %w", table.Name, err)
	}
	return id, nil
}

func (s *SQLStore) Update(ctx context.Context, table reconcile.Table, id int64, changes reconcile.Row) error {
	cols, args := assignments(table, changes)
	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = quoteIdent(c) + " = ?"
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, quoteIdent(table.Name), strings.Join(sets, ", "))
	res, err := s.q.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s id %d: %w", table.Name, id, sql.ErrNoRows)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, table reconcile.Table, ids []int64) error {
	for start := 0; start < len(ids); start += deleteChunk {
		chunk := ids[start:min(start+deleteChunk, len(ids))]
		query := fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, quoteIdent(table.Name), placeholders(len(chunk)))
		if _, err := s.q.ExecContext(ctx, s.dialect.Rebind(query), int64Args(chunk)...); err != nil {
			return fmt.Errorf("delete from %s: %w", table.Name, err)
		}
	}
	return nil
}

func (s *SQLStore) Edges(ctx context.Context, rel reconcile.Relation, leftIDs []int64) ([]reconcile.Edge, error) {
	var out []reconcile.Edge
	for start := 0; start < len(leftIDs); start += deleteChunk {
		chunk := leftIDs[start:min(start+deleteChunk, len(leftIDs))]
		query := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s IN (%s) ORDER BY 1, 2`,
			quoteIdent(rel.LeftColumn), quoteIdent(rel.RightColumn), quoteIdent(rel.Name),
			quoteIdent(rel.LeftColumn), placeholders(len(chunk)))
		rows, err := s.q.QueryContext(ctx, s.dialect.Rebind(query), int64Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", rel.Name, err)
		}
		for rows.Next() {
			var e reconcile.Edge
			if err := rows.Scan(&e.Left, &e.Right); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan %s: %w", rel.Name, err)
			}
			out = append(out, e)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate %s: %w", rel.Name, err)
		}
	}
	return out, nil
}

func (s *SQLStore) InsertEdges(ctx context.Context, rel reconcile.Relation, edges []reconcile.Edge) error {
	const perStatement = deleteChunk / 2
	for start := 0; start < len(edges); start += perStatement {
		chunk := edges[start:min(start+perStatement, len(edges))]
		values := make([]string, len(chunk))
		args := make([]any, 0, 2*len(chunk))
		for i, e := range chunk {
			values[i] = "(?, ?)"
			args = append(args, e.Left, e.Right)
		}
		query := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES %s`,
			quoteIdent(rel.Name), quoteIdent(rel.LeftColumn), quoteIdent(rel.RightColumn), strings.Join(values, ", "))
		if _, err := s.q.ExecContext(ctx, s.dialect.Rebind(query), args...); err != nil {
			return fmt.Errorf("insert %s: %w", rel.Name, err)
		}
	}
	return nil
}

func (s *SQLStore) DeleteEdges(ctx context.Context, rel reconcile.Relation, edges []reconcile.Edge) error {
	query := s.dialect.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE %s = ? AND %s = ?`,
		quoteIdent(rel.Name), quoteIdent(rel.LeftColumn), quoteIdent(rel.RightColumn)))
	for _, e := range edges {
		if _, err := s.q.ExecContext(ctx, query, e.Left, e.Right); err != nil {
			return fmt.Errorf("delete %s: %w", rel.Name, err)
		}
	}
	return nil
}

func selectList(table reconcile.Table) string {
	cols := make([]string, 0, len(table.Columns)+1)
	cols = append(cols, "id")
	for _, c := range table.Columns {
		cols = append(cols, quoteIdent(c.Name))
	}
	return strings.Join(cols, ", ")
}

func scanRow(rows *sql.Rows, table reconcile.Table) (reconcile.Row, error) {
	row := reconcile.Row{Values: map[string]string{}, Refs: map[string]int64{}}
	dest := make([]any, 0, len(table.Columns)+1)
	dest = append(dest, &row.ID)
	texts := make([]sql.NullString, len(table.Columns))
	refs := make([]sql.NullInt64, len(table.Columns))
	for i, c := range table.Columns {
		if c.References != "" {
			dest = append(dest, &refs[i])
		} else {
			dest = append(dest, &texts[i])
		}
	}
	if err := rows.Scan(dest...); err != nil {
		return reconcile.Row{}, err
	}
	for i, c := range table.Columns {
		if c.References != "" {
			if refs[i].Valid {
				row.Refs[c.Name] = refs[i].Int64
			}
		} else if texts[i].Valid {
			row.Values[c.Name] = texts[i].String
		}
	}
	return row, nil
}

// assignments lists the columns of row in declaration order.
func assignments(table reconcile.Table, row reconcile.Row) ([]string, []any) {
	var cols []string
	var args []any
	for _, c := range table.Columns {
		if c.References != "" {
			if id, ok := row.Refs[c.Name]; ok {
				cols = append(cols, c.Name)
				args = append(args, id)
			}
			continue
		}
		if v, ok := row.Values[c.Name]; ok {
			cols = append(cols, c.Name)
			args = append(args, v)
		}
	}
	return cols, args
}

func columnArg(table reconcile.Table, col string, row reconcile.Row) any {
	if c, _ := table.Column(col); c.References != "" {
		return row.Refs[col]
	}
	return row.Values[col]
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
