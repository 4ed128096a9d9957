package queryir

import (
	"fmt"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/roach88/pcx/internal/ir"
)

// ParseFilter parses a filter expression into a predicate.
//
// Supported forms, combined with "and" or "&&":
//
//	field == literal
//	field == bound.name
//	field in [literal, ...]
//
// Literals are strings, integers and booleans.
func ParseFilter(input string) (Predicate, error) {
	tree, err := parser.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("parse filter: %w", err)
	}
	pred, err := toPredicate(tree.Node)
	if err != nil {
		return nil, fmt.Errorf("parse filter %q: %w", input, err)
	}
	return pred, nil
}

func toPredicate(node ast.Node) (Predicate, error) {
	bin, ok := node.(*ast.BinaryNode)
	if !ok {
		return nil, fmt.Errorf("expected comparison, got %s", describeNode(node))
	}

	switch bin.Operator {
	case "and", "&&":
		left, err := toPredicate(bin.Left)
		if err != nil {
			return nil, err
		}
		right, err := toPredicate(bin.Right)
		if err != nil {
			return nil, err
		}
		return flattenAnd(left, right), nil

	case "==":
		field, err := fieldName(bin.Left)
		if err != nil {
			return nil, err
		}
		if bound, ok := boundVar(bin.Right); ok {
			return BoundEquals{Field: field, BoundVar: bound}, nil
		}
		val, err := literal(bin.Right)
		if err != nil {
			return nil, err
		}
		return Equals{Field: field, Value: val}, nil

	case "in":
		field, err := fieldName(bin.Left)
		if err != nil {
			return nil, err
		}
		arr, ok := bin.Right.(*ast.ArrayNode)
		if !ok {
			return nil, fmt.Errorf("in: expected array literal, got %s", describeNode(bin.Right))
		}
		values := make([]ir.IRValue, 0, len(arr.Nodes))
		for _, n := range arr.Nodes {
			val, err := literal(n)
			if err != nil {
				return nil, err
			}
			values = append(values, val)
		}
		return In{Field: field, Values: values}, nil

	default:
		return nil, fmt.Errorf("unsupported operator %q", bin.Operator)
	}
}

// flattenAnd merges nested conjunctions so a and b and c is one And.
func flattenAnd(preds ...Predicate) Predicate {
	out := And{}
	for _, p := range preds {
		if and, ok := p.(And); ok {
			out.Predicates = append(out.Predicates, and.Predicates...)
			continue
		}
		out.Predicates = append(out.Predicates, p)
	}
	return out
}

func fieldName(node ast.Node) (string, error) {
	id, ok := node.(*ast.IdentifierNode)
	if !ok {
		return "", fmt.Errorf("expected field name, got %s", describeNode(node))
	}
	return id.Value, nil
}

func boundVar(node ast.Node) (string, bool) {
	member, ok := node.(*ast.MemberNode)
	if !ok {
		return "", false
	}
	root, ok := member.Node.(*ast.IdentifierNode)
	if !ok || root.Value != "bound" {
		return "", false
	}
	prop, ok := member.Property.(*ast.StringNode)
	if !ok {
		return "", false
	}
	return "bound." + prop.Value, true
}

func literal(node ast.Node) (ir.IRValue, error) {
	switch n := node.(type) {
	case *ast.StringNode:
		return ir.IRString(n.Value), nil
	case *ast.IntegerNode:
		return ir.IRInt(n.Value), nil
	case *ast.BoolNode:
		return ir.IRBool(n.Value), nil
	case *ast.UnaryNode:
		if n.Operator == "-" {
			if i, ok := n.Node.(*ast.IntegerNode); ok {
				return ir.IRInt(-int64(i.Value)), nil
			}
		}
		return nil, fmt.Errorf("unsupported literal %s", describeNode(node))
	case *ast.FloatNode:
		return nil, fmt.Errorf("floats are not allowed in filters")
	case *ast.NilNode:
		return nil, fmt.Errorf("nil literal never matches; filter on a value")
	default:
		return nil, fmt.Errorf("expected literal, got %s", describeNode(node))
	}
}

func describeNode(node ast.Node) string {
	if node == nil {
		return "nothing"
	}
	return fmt.Sprintf("%q", node.String())
}
