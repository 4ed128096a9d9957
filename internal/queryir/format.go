package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/pcx/internal/ir"
)

// String renders the plan compactly, e.g.
//
//	Member fetch team where name == "Ada"
func (s Select) String() string {
	var b strings.Builder
	if s.Distinct {
		b.WriteString("distinct ")
	}
	b.WriteString(s.From)
	if len(s.Fetch) > 0 {
		b.WriteString(" fetch ")
		b.WriteString(strings.Join(s.FetchNames(), ","))
	}
	if s.Filter != nil {
		b.WriteString(" where ")
		b.WriteString(FormatPredicate(s.Filter))
	}
	return b.String()
}

// FormatPredicate renders a predicate in the syntax ParseFilter accepts.
func FormatPredicate(p Predicate) string {
	switch pred := p.(type) {
	case Equals:
		return pred.Field + " == " + formatValue(pred.Value)
	case *Equals:
		return FormatPredicate(*pred)
	case BoundEquals:
		return pred.Field + " == " + pred.BoundVar
	case *BoundEquals:
		return FormatPredicate(*pred)
	case In:
		vals := make([]string, len(pred.Values))
		for i, v := range pred.Values {
			vals[i] = formatValue(v)
		}
		return pred.Field + " in [" + strings.Join(vals, ", ") + "]"
	case *In:
		return FormatPredicate(*pred)
	case And:
		if len(pred.Predicates) == 0 {
			return "true"
		}
		parts := make([]string, len(pred.Predicates))
		for i, sub := range pred.Predicates {
			parts[i] = FormatPredicate(sub)
		}
		return strings.Join(parts, " and ")
	case *And:
		return FormatPredicate(*pred)
	default:
		return fmt.Sprintf("<%T>", p)
	}
}

func formatValue(v ir.IRValue) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%T>", v)
	}
	return string(b)
}
