package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/pcx/internal/ir"
	"github.com/roach88/pcx/internal/queryir"
	"github.com/roach88/pcx/internal/querysql"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops implements Backend over a querier.
type ops struct {
	q      querier
	schema *ir.Schema
}

// FetchByKey returns the row stored under key, or ErrNotFound.
// TO_ONE links carry bare keys; nothing is loaded inline.
func (o ops) FetchByKey(ctx context.Context, key ir.RecordKey) (ir.Row, error) {
	et, err := o.entity(key.TypeID)
	if err != nil {
		return ir.Row{}, fmt.Errorf("fetch %s: %w", key, err)
	}

	var fields string
	err = o.q.QueryRowContext(ctx,
		`SELECT fields FROM records WHERE type_id = ? AND pk = ?`,
		key.TypeID, key.PK,
	).Scan(&fields)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Row{}, fmt.Errorf("fetch %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return ir.Row{}, fmt.Errorf("fetch %s: %w", key, err)
	}

	row, err := decodeRow(et, key.PK, fields)
	if err != nil {
		return ir.Row{}, fmt.Errorf("fetch %s: %w", key, err)
	}
	return row, nil
}

// FetchByQuery runs a query plan and returns one row per result row.
//
// Join-fetched associations arrive as inline rows on the owner's links. A
// join-fetched TO_MANY produces one owner row per associated record; rows
// are never collapsed here.
//
// Returns an empty slice (not nil) when nothing matches.
func (o ops) FetchByQuery(ctx context.Context, q queryir.Query, bound ir.IRObject) ([]ir.Row, error) {
	compiler := querysql.NewSQLCompiler(o.schema)
	if bound != nil {
		compiler.BoundValues = bound
	}
	stmt, err := compiler.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("fetch query: %w", err)
	}

	root, err := o.entity(stmt.Root)
	if err != nil {
		return nil, fmt.Errorf("fetch query: %w", err)
	}
	targets := make([]*ir.EntityType, len(stmt.Fetches))
	for i, f := range stmt.Fetches {
		if targets[i], err = o.entity(f.Target); err != nil {
			return nil, fmt.Errorf("fetch query: %w", err)
		}
	}

	rows, err := o.q.QueryContext(ctx, stmt.SQL, stmt.Params...)
	if err != nil {
		return nil, fmt.Errorf("fetch query: %w", err)
	}
	defer rows.Close()

	result := []ir.Row{}
	cols := make([]string, 2+2*len(stmt.Fetches))
	dest := make([]any, len(cols))
	for i := range cols {
		dest[i] = &cols[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row, err := decodeRow(root, cols[0], cols[1])
		if err != nil {
			return nil, fmt.Errorf("fetch query: %w", err)
		}
		for i, f := range stmt.Fetches {
			inline, err := decodeRow(targets[i], cols[2+2*i], cols[3+2*i])
			if err != nil {
				return nil, fmt.Errorf("fetch query %s.%s: %w", root.Name, f.Association, err)
			}
			if row.Links == nil {
				row.Links = map[string]ir.Link{}
			}
			row.Links[f.Association] = ir.Link{Key: inline.Key, Inline: &inline}
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// Insert stores a new record and returns its key.
//
// A row whose key has an empty PK is assigned the next identity value for
// its type. Inserting an existing key fails.
func (o ops) Insert(ctx context.Context, row ir.Row) (ir.RecordKey, error) {
	et, err := o.entity(row.Key.TypeID)
	if err != nil {
		return ir.RecordKey{}, fmt.Errorf("insert: %w", err)
	}

	key := row.Key
	if key.PK == "" {
		if et.IDStrategy != ir.IDIdentity {
			return ir.RecordKey{}, fmt.Errorf("insert %s: primary key required for %s ids", et.Name, et.IDStrategy)
		}
		next, err := o.nextID(ctx, et.Name)
		if err != nil {
			return ir.RecordKey{}, fmt.Errorf("insert %s: %w", et.Name, err)
		}
		key = ir.MustKey(et.Name, ir.IRInt(next))
	}

	fields, err := encodeFields(et, row)
	if err != nil {
		return ir.RecordKey{}, fmt.Errorf("insert %s: %w", key, err)
	}

	_, err = o.q.ExecContext(ctx, `
		INSERT INTO records (type_id, pk, fields, seq)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM records))
	`, key.TypeID, key.PK, fields)
	if err != nil {
		return ir.RecordKey{}, fmt.Errorf("insert %s: %w", key, err)
	}
	return key, nil
}

// Update replaces the stored state of an existing record.
func (o ops) Update(ctx context.Context, row ir.Row) error {
	et, err := o.entity(row.Key.TypeID)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	fields, err := encodeFields(et, row)
	if err != nil {
		return fmt.Errorf("update %s: %w", row.Key, err)
	}

	res, err := o.q.ExecContext(ctx,
		`UPDATE records SET fields = ? WHERE type_id = ? AND pk = ?`,
		fields, row.Key.TypeID, row.Key.PK,
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", row.Key, err)
	}
	return expectOneRow(res, "update", row.Key)
}

// Delete removes a record.
func (o ops) Delete(ctx context.Context, key ir.RecordKey) error {
	res, err := o.q.ExecContext(ctx,
		`DELETE FROM records WHERE type_id = ? AND pk = ?`,
		key.TypeID, key.PK,
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return expectOneRow(res, "delete", key)
}

// Count returns the number of stored records of one type.
func (o ops) Count(ctx context.Context, typeID string) (int, error) {
	var n int
	if err := o.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE type_id = ?`, typeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", typeID, err)
	}
	return n, nil
}

func (o ops) nextID(ctx context.Context, typeID string) (int64, error) {
	var next int64
	err := o.q.QueryRowContext(ctx, `
		INSERT INTO id_sequences (type_id, next_id) VALUES (?, 1)
		ON CONFLICT(type_id) DO UPDATE SET next_id = next_id + 1
		RETURNING next_id
	`, typeID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next id: %w", err)
	}
	return next, nil
}

func (o ops) entity(typeID string) (*ir.EntityType, error) {
	et, ok := o.schema.Entity(typeID)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", typeID)
	}
	return et, nil
}

func expectOneRow(res sql.Result, op string, key ir.RecordKey) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, key, ErrNotFound)
	}
	return nil
}

// decodeRow parses stored fields and splits TO_ONE columns into links.
func decodeRow(et *ir.EntityType, pk, fieldsJSON string) (ir.Row, error) {
	var fields ir.IRObject
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return ir.Row{}, fmt.Errorf("decode fields: %w", err)
	}

	row := ir.Row{
		Key:    ir.RecordKey{TypeID: et.Name, PK: pk},
		Fields: fields,
		Links:  map[string]ir.Link{},
	}
	for _, a := range et.Associations {
		if a.Cardinality != ir.ToOne {
			continue
		}
		raw, ok := fields[a.Column]
		delete(fields, a.Column)
		if !ok {
			row.Links[a.Name] = ir.Link{}
			continue
		}
		if _, isNull := raw.(ir.IRNull); isNull {
			row.Links[a.Name] = ir.Link{}
			continue
		}
		target, err := ir.NewRecordKey(a.Target, raw)
		if err != nil {
			return ir.Row{}, fmt.Errorf("decode %s.%s: %w", et.Name, a.Column, err)
		}
		row.Links[a.Name] = ir.Link{Key: target}
	}
	return row, nil
}

// encodeFields merges plain fields and TO_ONE link keys into stored JSON.
func encodeFields(et *ir.EntityType, row ir.Row) (string, error) {
	stored := make(ir.IRObject, len(row.Fields)+len(et.Associations))
	for k, v := range row.Fields {
		if k == et.IDField {
			continue
		}
		if _, ok := et.AssociationByColumn(k); ok {
			return "", fmt.Errorf("field %q collides with an association column", k)
		}
		stored[k] = v
	}
	for _, a := range et.Associations {
		if a.Cardinality != ir.ToOne {
			continue
		}
		link, ok := row.Links[a.Name]
		if !ok || link.IsNull() {
			stored[a.Column] = ir.IRNull{}
			continue
		}
		if link.Key.TypeID != a.Target {
			return "", fmt.Errorf("link %s: expected %s key, got %s", a.Name, a.Target, link.Key)
		}
		stored[a.Column] = link.Key.PrimaryKey()
	}

	data, err := ir.MarshalCanonical(stored)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}
