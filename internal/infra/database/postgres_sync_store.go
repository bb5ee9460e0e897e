package database

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"partner_sync/internal/reconcile"
)

// postgresSyncStore is the reconcile.Store of one table inside one transaction.
type postgresSyncStore struct {
	tx    *sql.Tx
	spec  TableSpec
	scope tableScope
}

func (s *postgresSyncStore) KeyField() string { return s.spec.KeyColumn }

func (s *postgresSyncStore) List(ctx context.Context, fields []string) ([]reconcile.Entity, error) {
	return s.selectRows(ctx, fields, false)
}

// LockForUpdate uses FOR UPDATE SKIP LOCKED: rows locked by a concurrent run are
// left out instead of waited for.
func (s *postgresSyncStore) LockForUpdate(ctx context.Context, fields []string) ([]reconcile.Entity, error) {
	return s.selectRows(ctx, fields, true)
}

func (s *postgresSyncStore) selectRows(ctx context.Context, fields []string, lock bool) ([]reconcile.Entity, error) {
	if err := s.checkColumns(fields); err != nil {
		return nil, err
	}
	cols := []string{"id", pq.QuoteIdentifier(s.spec.KeyColumn) + "::text"}
	for _, f := range fields {
		cols = append(cols, pq.QuoteIdentifier(f))
	}
	where, args := s.scopeClause(1)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s",
		strings.Join(cols, ", "), pq.QuoteIdentifier(s.spec.Name), where, pq.QuoteIdentifier(s.spec.KeyColumn))
	if lock {
		query += " FOR UPDATE SKIP LOCKED"
	}

	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing %s: %w", s.spec.Name, err)
	}
	defer rows.Close()

	var out []reconcile.Entity
	for rows.Next() {
		var (
			e   reconcile.Entity
			raw = make([]any, len(fields))
		)
		dest := []any{&e.ID, &e.Key}
		for i := range raw {
			dest = append(dest, &raw[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("error scanning %s: %w", s.spec.Name, err)
		}
		e.Values = make(map[string]any, len(fields))
		for i, f := range fields {
			v, err := s.decode(f, raw[i])
			if err != nil {
				return nil, fmt.Errorf("error decoding %s.%s of key=%s: %w", s.spec.Name, f, e.Key, err)
			}
			e.Values[f] = v
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", s.spec.Name, err)
	}
	return out, nil
}

// BulkCreate streams the rows with COPY.
func (s *postgresSyncStore) BulkCreate(ctx context.Context, entities []reconcile.Entity) error {
	cols := []string{s.spec.KeyColumn}
	if s.scope.column != "" {
		cols = append(cols, s.scope.column)
	}
	cols = append(cols, s.spec.Columns...)

	stmt, err := s.tx.PrepareContext(ctx, pq.CopyIn(s.spec.Name, cols...))
	if err != nil {
		return fmt.Errorf("error preparing copy into %s: %w", s.spec.Name, err)
	}
	defer stmt.Close()

	for _, e := range entities {
		args := []any{e.Key}
		if s.scope.column != "" {
			args = append(args, s.scope.value)
		}
		for _, c := range s.spec.Columns {
			v, err := s.encode(c, e.Value(c))
			if err != nil {
				return fmt.Errorf("error encoding %s.%s of key=%s: %w", s.spec.Name, c, e.Key, err)
			}
			args = append(args, v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("error copying %s key=%s: %w", s.spec.Name, e.Key, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("error flushing copy into %s: %w", s.spec.Name, err)
	}
	return nil
}

// BulkUpdate rewrites fields by id and touches updated_at.
func (s *postgresSyncStore) BulkUpdate(ctx context.Context, entities []reconcile.Entity, fields []string) error {
	if err := reconcile.CheckUpdateFields(fields, s.spec.KeyColumn, s.spec.ScopeColumn); err != nil {
		return err
	}
	if err := s.checkColumns(fields); err != nil {
		return err
	}
	sets := make([]string, 0, len(fields)+1)
	for i, f := range fields {
		sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(f), i+1))
	}
	sets = append(sets, "updated_at = now()")
	idParam := len(fields) + 1
	where, scopeArgs := s.scopeClause(idParam + 1)
	if where == "" {
		where = fmt.Sprintf(" WHERE id = $%d", idParam)
	} else {
		where += fmt.Sprintf(" AND id = $%d", idParam)
	}
	query := fmt.Sprintf("UPDATE %s SET %s%s", pq.QuoteIdentifier(s.spec.Name), strings.Join(sets, ", "), where)

	stmt, err := s.tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("error preparing update of %s: %w", s.spec.Name, err)
	}
	defer stmt.Close()

	for _, e := range entities {
		args := make([]any, 0, len(fields)+2)
		for _, f := range fields {
			v, err := s.encode(f, e.Value(f))
			if err != nil {
				return fmt.Errorf("error encoding %s.%s of key=%s: %w", s.spec.Name, f, e.Key, err)
			}
			args = append(args, v)
		}
		args = append(args, e.ID)
		args = append(args, scopeArgs...)
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return fmt.Errorf("error updating %s key=%s: %w", s.spec.Name, e.Key, err)
		}
		if n, err := res.RowsAffected(); err == nil && n != 1 {
			return fmt.Errorf("error updating %s key=%s: %d rows affected", s.spec.Name, e.Key, n)
		}
	}
	return nil
}

func (s *postgresSyncStore) BulkDeleteByKeys(ctx context.Context, keys []string) error {
	where, args := s.scopeClause(2)
	if where == "" {
		where = " WHERE "
	} else {
		where += " AND "
	}
	query := fmt.Sprintf("DELETE FROM %s%s%s::text = ANY($1)",
		pq.QuoteIdentifier(s.spec.Name), where, pq.QuoteIdentifier(s.spec.KeyColumn))

	if _, err := s.tx.ExecContext(ctx, query, append([]any{pq.Array(keys)}, args...)...); err != nil {
		return fmt.Errorf("error deleting from %s: %w", s.spec.Name, err)
	}
	return nil
}

// scopeClause returns the WHERE clause restricting rows to the scope, numbering its
// parameter from n.
func (s *postgresSyncStore) scopeClause(n int) (string, []any) {
	if s.scope.column == "" {
		return "", nil
	}
	return fmt.Sprintf(" WHERE %s = $%d", pq.QuoteIdentifier(s.scope.column), n), []any{s.scope.value}
}

func (s *postgresSyncStore) checkColumns(fields []string) error {
	for _, f := range fields {
		if !s.spec.known(f) {
			return fmt.Errorf("unknown column %s.%s", s.spec.Name, f)
		}
	}
	return nil
}

func (s *postgresSyncStore) encode(col string, v any) (any, error) {
	return encodeValue(v, s.spec.isJSON(col))
}

func (s *postgresSyncStore) decode(col string, v any) (any, error) {
	return decodeValue(v, s.spec.isJSON(col))
}

func encodeValue(v any, isJSON bool) (any, error) {
	if v == nil {
		return nil, nil
	}
	if isJSON {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	if t, ok := v.(time.Time); ok && t.Equal(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())) {
		return t.Format(time.DateOnly), nil
	}
	return v, nil
}

// decodeValue turns JSON documents back into maps and slices; numbers stay json.Number
// so they compare like the partner payload.
func decodeValue(v any, isJSON bool) (any, error) {
	if v == nil || !isJSON {
		return v, nil
	}
	var data []byte
	switch x := v.(type) {
	case []byte:
		data = x
	case string:
		data = []byte(x)
	default:
		return v, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
