// Package sqlfront is the only place in this repo that parses SQL
// text. It compiles the restricted subscription grammar of §4.4 — a
// single-table SELECT with an optional conjunction of predicates, or a
// simple two-table equi-join — into a queryplan.Logical, using the
// same TiDB parser and AST-walking style as Pieczasz-smf's MySQL
// schema parser.
package sqlfront

import (
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	driver "github.com/pingcap/tidb/pkg/parser/test_driver"
	"github.com/pkg/errors"

	"github.com/clockworklabs/stdb-core/internal/queryplan"
)

// CompileError is returned for any query outside the supported
// grammar subset (wrong statement kind, unsupported expression,
// more than two tables, projections other than "*"/one side of a
// join). It carries the original query text for the wire-level
// SubscriptionError frame. A literal of an unsupported kind is
// reported as a plain error, not a CompileError.
type CompileError struct {
	Query string
	Msg   string
}

func (e *CompileError) Error() string {
	return "sqlfront: " + e.Msg + ": " + e.Query
}

// Frontend wraps one TiDB parser instance. A Frontend is not safe for
// concurrent use, matching parser.Parser's own contract; callers
// needing concurrency should use one Frontend per goroutine.
type Frontend struct {
	p *parser.Parser
}

func New() *Frontend {
	return &Frontend{p: parser.New()}
}

// Compile parses sql and translates its single statement into a
// queryplan.Logical.
func (f *Frontend) Compile(sql string) (queryplan.Logical, error) {
	stmts, _, err := f.p.Parse(sql, "", "")
	if err != nil {
		return queryplan.Logical{}, &CompileError{Query: sql, Msg: "parse error: " + err.Error()}
	}
	if len(stmts) != 1 {
		return queryplan.Logical{}, &CompileError{Query: sql, Msg: "expected exactly one statement"}
	}
	sel, ok := stmts[0].(*ast.SelectStmt)
	if !ok {
		return queryplan.Logical{}, &CompileError{Query: sql, Msg: "only SELECT is supported"}
	}
	return f.compileSelect(sql, sel)
}

func (f *Frontend) compileSelect(sql string, sel *ast.SelectStmt) (queryplan.Logical, error) {
	if sel.From == nil || sel.From.TableRefs == nil {
		return queryplan.Logical{}, &CompileError{Query: sql, Msg: "missing FROM clause"}
	}

	var logical queryplan.Logical
	switch src := sel.From.TableRefs.(type) {
	case *ast.Join:
		if src.Right == nil {
			table, err := tableName(src.Left, sql)
			if err != nil {
				return queryplan.Logical{}, err
			}
			logical.Table = table
			break
		}
		join, table, err := compileJoin(src, sql)
		if err != nil {
			return queryplan.Logical{}, err
		}
		logical.Table = table
		logical.Join = join
	default:
		table, err := tableName(src, sql)
		if err != nil {
			return queryplan.Logical{}, err
		}
		logical.Table = table
	}

	projection, err := compileProjection(sel.Fields, logical.Table, sql)
	if err != nil {
		return queryplan.Logical{}, err
	}
	logical.Projection = projection

	if sel.Where != nil {
		preds, err := compileConjunction(sel.Where, sql)
		if err != nil {
			return queryplan.Logical{}, err
		}
		logical.Predicates = preds
	}
	return logical, nil
}

func tableName(node ast.ResultSetNode, sql string) (string, error) {
	src, ok := node.(*ast.TableSource)
	if !ok {
		return "", &CompileError{Query: sql, Msg: "expected a plain table reference"}
	}
	tn, ok := src.Source.(*ast.TableName)
	if !ok {
		return "", &CompileError{Query: sql, Msg: "subqueries are not supported"}
	}
	return tn.Name.O, nil
}

func compileJoin(j *ast.Join, sql string) (*queryplan.Join, string, error) {
	leftTable, err := tableName(j.Left, sql)
	if err != nil {
		return nil, "", err
	}
	rightTable, err := tableName(j.Right, sql)
	if err != nil {
		return nil, "", err
	}
	if j.On == nil {
		return nil, "", &CompileError{Query: sql, Msg: "join requires an ON condition"}
	}
	bin, ok := j.On.Expr.(*ast.BinaryOperationExpr)
	if !ok || bin.Op != opcode.EQ {
		return nil, "", &CompileError{Query: sql, Msg: "join ON must be a single column equality"}
	}
	lCol, lTable, lErr := columnRef(bin.L, sql)
	rCol, rTable, rErr := columnRef(bin.R, sql)
	if lErr != nil || rErr != nil {
		return nil, "", &CompileError{Query: sql, Msg: "join ON must compare two bare columns"}
	}

	// Canonicalize so logical.Table is always the projected side.
	switch {
	case lTable == leftTable && rTable == rightTable:
		return &queryplan.Join{OtherTable: rightTable, LeftColumn: lCol, RightColumn: rCol}, leftTable, nil
	case lTable == rightTable && rTable == leftTable:
		return &queryplan.Join{OtherTable: leftTable, LeftColumn: rCol, RightColumn: lCol}, rightTable, nil
	default:
		return nil, "", &CompileError{Query: sql, Msg: "join ON columns must reference the joined tables"}
	}
}

func columnRef(expr ast.ExprNode, sql string) (col, table string, err error) {
	ce, ok := expr.(*ast.ColumnNameExpr)
	if !ok {
		return "", "", &CompileError{Query: sql, Msg: "expected a bare column reference"}
	}
	return ce.Name.Name.O, ce.Name.Table.O, nil
}

// compileProjection accepts "SELECT *" and "SELECT <table>.*" (the
// join projection §4.4 names); anything else is unsupported.
func compileProjection(fields *ast.FieldList, table, sql string) ([]string, error) {
	if fields == nil {
		return nil, nil
	}
	for _, field := range fields.Fields {
		if field.WildCard == nil {
			return nil, &CompileError{Query: sql, Msg: "only SELECT * or SELECT <table>.* projections are supported"}
		}
		if tbl := field.WildCard.Table.O; tbl != "" && tbl != table {
			return nil, &CompileError{Query: sql, Msg: "projection must be on the subscribed table"}
		}
	}
	return nil, nil
}

// compileConjunction flattens a tree of AND-ed expressions into a flat
// list of predicates. Anything but AND/comparison/IN is unsupported.
func compileConjunction(expr ast.ExprNode, sql string) ([]queryplan.Predicate, error) {
	if bin, ok := expr.(*ast.BinaryOperationExpr); ok && bin.Op == opcode.LogicAnd {
		left, err := compileConjunction(bin.L, sql)
		if err != nil {
			return nil, err
		}
		right, err := compileConjunction(bin.R, sql)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	}
	p, err := compilePredicate(expr, sql)
	if err != nil {
		return nil, err
	}
	return []queryplan.Predicate{p}, nil
}

func compilePredicate(expr ast.ExprNode, sql string) (queryplan.Predicate, error) {
	switch e := expr.(type) {
	case *ast.BinaryOperationExpr:
		col, _, err := columnRef(e.L, sql)
		if err != nil {
			return queryplan.Predicate{}, err
		}
		val, err := literalValue(e.R, sql)
		if err != nil {
			return queryplan.Predicate{}, err
		}
		op, err := compareOp(e.Op, sql)
		if err != nil {
			return queryplan.Predicate{}, err
		}
		return queryplan.Predicate{Column: col, Op: op, Value: val}, nil
	case *ast.PatternInExpr:
		if e.Not || e.Sel != nil {
			return queryplan.Predicate{}, &CompileError{Query: sql, Msg: "NOT IN / subquery IN is not supported"}
		}
		col, _, err := columnRef(e.Expr, sql)
		if err != nil {
			return queryplan.Predicate{}, err
		}
		values := make([]any, len(e.List))
		for i, item := range e.List {
			v, err := literalValue(item, sql)
			if err != nil {
				return queryplan.Predicate{}, err
			}
			values[i] = v
		}
		return queryplan.Predicate{Column: col, Values: values}, nil
	default:
		return queryplan.Predicate{}, &CompileError{Query: sql, Msg: "unsupported predicate expression"}
	}
}

func compareOp(op opcode.Op, sql string) (queryplan.CompareOp, error) {
	switch op {
	case opcode.EQ:
		return queryplan.OpEq, nil
	case opcode.LT:
		return queryplan.OpLt, nil
	case opcode.LE:
		return queryplan.OpLte, nil
	case opcode.GT:
		return queryplan.OpGt, nil
	case opcode.GE:
		return queryplan.OpGte, nil
	default:
		return 0, &CompileError{Query: sql, Msg: "unsupported comparison operator"}
	}
}

func literalValue(expr ast.ExprNode, sql string) (any, error) {
	ve, ok := expr.(*driver.ValueExpr)
	if !ok {
		return nil, &CompileError{Query: sql, Msg: "expected a literal value"}
	}
	d := ve.Datum
	switch d.Kind() {
	case driver.KindInt64:
		return d.GetInt64(), nil
	case driver.KindUint64:
		return d.GetUint64(), nil
	case driver.KindFloat32:
		return d.GetFloat32(), nil
	case driver.KindFloat64:
		return d.GetFloat64(), nil
	case driver.KindString, driver.KindBytes:
		return d.GetString(), nil
	default:
		return nil, errors.Errorf("sqlfront: unsupported literal kind %v", d.Kind())
	}
}
