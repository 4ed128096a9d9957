package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/pcx/internal/ir"
	"github.com/roach88/pcx/internal/queryir"
)

// RootAlias is the table alias of the queried entity.
const RootAlias = "o"

// FetchColumn describes the two extra result columns one join-fetch adds.
type FetchColumn struct {
	Association string
	Target      string
	Cardinality ir.Cardinality
	Alias       string
}

// Statement is a compiled query.
//
// Result columns are the root's pk and fields followed by pk and fields for
// each entry of Fetches, in order.
type Statement struct {
	SQL     string
	Params  []any
	Root    string
	Fetches []FetchColumn
}

// SQLCompiler compiles query plans to parameterized SQL over the records table.
//
// Every query ends in a deterministic ORDER BY (insertion seq, then pk with
// COLLATE BINARY). Values and JSON paths are always bound as parameters.
type SQLCompiler struct {
	Schema *ir.Schema

	// BoundValues holds the values for BoundEquals predicates, keyed by the
	// variable name with or without the "bound." prefix.
	BoundValues ir.IRObject
}

// NewSQLCompiler creates a compiler for schema.
func NewSQLCompiler(schema *ir.Schema) *SQLCompiler {
	return &SQLCompiler{
		Schema:      schema,
		BoundValues: ir.IRObject{},
	}
}

// Compile converts a query plan to a Statement.
func (c *SQLCompiler) Compile(q queryir.Query) (Statement, error) {
	if q == nil {
		return Statement{}, fmt.Errorf("cannot compile nil query")
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	default:
		return Statement{}, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (Statement, error) {
	if c.Schema == nil {
		return Statement{}, fmt.Errorf("compiler has no schema")
	}
	et, ok := c.Schema.Entity(q.From)
	if !ok {
		return Statement{}, fmt.Errorf("unknown entity %q", q.From)
	}

	stmt := Statement{Root: et.Name, Fetches: []FetchColumn{}}
	columns := []string{RootAlias + ".pk", RootAlias + ".fields"}
	order := []string{RootAlias + ".seq ASC", RootAlias + ".pk ASC COLLATE BINARY"}

	var joins strings.Builder
	var params []any
	for i, f := range q.Fetch {
		assoc, ok := et.Association(f.Association)
		if !ok {
			return Statement{}, fmt.Errorf("%s: unknown association %q", et.Name, f.Association)
		}
		alias := fmt.Sprintf("j%d", i)
		on, onParams, err := c.joinCondition(assoc, alias)
		if err != nil {
			return Statement{}, err
		}

		joins.WriteString(fmt.Sprintf(" JOIN records AS %s ON %s", alias, on))
		params = append(params, onParams...)
		columns = append(columns, alias+".pk", alias+".fields")
		order = append(order, alias+".seq ASC", alias+".pk ASC COLLATE BINARY")
		stmt.Fetches = append(stmt.Fetches, FetchColumn{
			Association: assoc.Name,
			Target:      assoc.Target,
			Cardinality: assoc.Cardinality,
			Alias:       alias,
		})
	}

	where := RootAlias + ".type_id = ?"
	params = append(params, et.Name)
	if q.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(et, q.Filter)
		if err != nil {
			return Statement{}, fmt.Errorf("compile filter: %w", err)
		}
		where += " AND " + filterSQL
		params = append(params, filterParams...)
	}

	stmt.SQL = fmt.Sprintf("SELECT %s FROM records AS %s%s WHERE %s ORDER BY %s",
		strings.Join(columns, ", "),
		RootAlias,
		joins.String(),
		where,
		strings.Join(order, ", "))
	stmt.Params = params
	if stmt.Params == nil {
		stmt.Params = []any{}
	}
	return stmt, nil
}

// joinCondition builds the ON clause linking alias to the root.
//
// TO_ONE: the target's pk equals the owner's foreign-key column.
// TO_MANY: the target's mapped-by column equals the owner's pk.
// Foreign keys are stored as raw JSON values, so json_quote turns them back
// into canonical pk text.
func (c *SQLCompiler) joinCondition(assoc *ir.Association, alias string) (string, []any, error) {
	switch assoc.Cardinality {
	case ir.ToOne:
		on := fmt.Sprintf("%s.type_id = ? AND %s.pk = json_quote(json_extract(%s.fields, ?))", alias, alias, RootAlias)
		return on, []any{assoc.Target, jsonPath(assoc.Column)}, nil
	case ir.ToMany:
		inv, err := c.Schema.Inverse(assoc)
		if err != nil {
			return "", nil, err
		}
		on := fmt.Sprintf("%s.type_id = ? AND json_quote(json_extract(%s.fields, ?)) = %s.pk", alias, alias, RootAlias)
		return on, []any{assoc.Target, jsonPath(inv.Column)}, nil
	default:
		return "", nil, fmt.Errorf("association %s: unknown cardinality %q", assoc.Name, assoc.Cardinality)
	}
}

func (c *SQLCompiler) compilePredicate(et *ir.EntityType, p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		return c.compileEquals(et, pred.Field, pred.Value)
	case *queryir.Equals:
		return c.compileEquals(et, pred.Field, pred.Value)
	case queryir.BoundEquals:
		return c.compileBoundEquals(et, pred)
	case *queryir.BoundEquals:
		return c.compileBoundEquals(et, *pred)
	case queryir.In:
		return c.compileIn(et, pred)
	case *queryir.In:
		return c.compileIn(et, *pred)
	case queryir.And:
		return c.compileAnd(et, pred)
	case *queryir.And:
		return c.compileAnd(et, *pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// columnExpr returns the SQL expression for a field plus its leading params.
func columnExpr(et *ir.EntityType, field string) (string, []any, queryir.FieldRef, error) {
	ref, err := queryir.ResolveField(et, field)
	if err != nil {
		return "", nil, ref, err
	}
	if ref.Kind == queryir.FieldPK {
		return RootAlias + ".pk", nil, ref, nil
	}
	return fmt.Sprintf("json_extract(%s.fields, ?)", RootAlias), []any{jsonPath(ref.Column)}, ref, nil
}

func (c *SQLCompiler) compileEquals(et *ir.EntityType, field string, value ir.IRValue) (string, []any, error) {
	expr, params, ref, err := columnExpr(et, field)
	if err != nil {
		return "", nil, err
	}
	param, err := fieldParam(ref, value)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", field, err)
	}
	return expr + " = ?", append(params, param), nil
}

func (c *SQLCompiler) compileBoundEquals(et *ir.EntityType, beq queryir.BoundEquals) (string, []any, error) {
	val, ok := c.BoundValues[beq.BoundVar]
	if !ok {
		val, ok = c.BoundValues[queryir.BoundVarName(beq.BoundVar)]
	}
	if !ok {
		return "", nil, fmt.Errorf("no value bound for %q", beq.BoundVar)
	}
	return c.compileEquals(et, beq.Field, val)
}

func (c *SQLCompiler) compileIn(et *ir.EntityType, in queryir.In) (string, []any, error) {
	if len(in.Values) == 0 {
		return "0 = 1", nil, nil
	}
	expr, params, ref, err := columnExpr(et, in.Field)
	if err != nil {
		return "", nil, err
	}
	placeholders := make([]string, len(in.Values))
	for i, v := range in.Values {
		param, err := fieldParam(ref, v)
		if err != nil {
			return "", nil, fmt.Errorf("%s[%d]: %w", in.Field, i, err)
		}
		placeholders[i] = "?"
		params = append(params, param)
	}
	return fmt.Sprintf("%s IN (%s)", expr, strings.Join(placeholders, ", ")), params, nil
}

func (c *SQLCompiler) compileAnd(et *ir.EntityType, and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	var sqlParts []string
	var allParams []any
	for _, pred := range and.Predicates {
		sql, params, err := c.compilePredicate(et, pred)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}
	return "(" + strings.Join(sqlParts, " AND ") + ")", allParams, nil
}

// fieldParam converts a comparison value for the resolved field.
// The pk column holds canonical JSON text; everything else is compared
// against json_extract output.
func fieldParam(ref queryir.FieldRef, v ir.IRValue) (any, error) {
	if ref.Kind == queryir.FieldPK {
		k, err := ir.NewRecordKey("pk", v)
		if err != nil {
			return nil, err
		}
		return k.PK, nil
	}
	return irValueToParam(v)
}

func jsonPath(column string) string {
	return "$." + column
}

// irValueToParam converts an ir.IRValue to a Go native type for SQL parameter.
func irValueToParam(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRBool:
		return bool(val), nil
	case ir.IRNull:
		return nil, fmt.Errorf("null never matches; filter on a value")
	case ir.IRArray:
		return nil, fmt.Errorf("IRArray cannot be used as SQL parameter directly")
	case ir.IRObject:
		return nil, fmt.Errorf("IRObject cannot be used as SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}
