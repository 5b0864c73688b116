package predicate

import (
	"regexp"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xwb1989/sqlparser"
)

var typedLiteral = regexp.MustCompile(`(?i)\b(timestamp|date)\s+'`)

// Normalize applies the textual rewrites clients rely on before parsing:
// typed timestamp/date literals become plain strings and the first UPPER
// call is dropped.
func Normalize(where string) string {
	where = typedLiteral.ReplaceAllString(where, " '")
	return strings.Replace(where, "UPPER", "", 1)
}

// Parse converts a where clause into a predicate tree. It is the only place
// that knows about the concrete SQL grammar.
func Parse(where string) (Node, error) {
	src := Normalize(where)
	stmt, err := sqlparser.Parse("select * from t where " + src)
	if err != nil {
		return nil, &ParseError{Input: where, Msg: "syntax error", Err: err}
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok || sel.Where == nil || sel.Where.Expr == nil {
		return nil, &ParseError{Input: where, Msg: "not a where expression"}
	}
	if len(sel.OrderBy) > 0 || sel.Limit != nil || len(sel.GroupBy) > 0 || sel.Having != nil {
		return nil, &ParseError{Input: where, Msg: "only a filter expression is allowed"}
	}
	return convert(where, sel.Where.Expr)
}

func convert(input string, e sqlparser.Expr) (Node, error) {
	switch x := e.(type) {
	case *sqlparser.AndExpr:
		return binary(input, OpAnd, x.Left, x.Right)
	case *sqlparser.OrExpr:
		return binary(input, OpOr, x.Left, x.Right)
	case *sqlparser.ParenExpr:
		return convert(input, x.Expr)
	case *sqlparser.NotExpr:
		inner := unparen(x.Expr)
		if rc, ok := inner.(*sqlparser.RangeCond); ok {
			flipped := *rc
			if rc.Operator == sqlparser.BetweenStr {
				flipped.Operator = sqlparser.NotBetweenStr
			} else {
				flipped.Operator = sqlparser.BetweenStr
			}
			return convert(input, &flipped)
		}
		n, err := convert(input, inner)
		if err != nil {
			return nil, err
		}
		return Expression{Op: OpNot, Left: n}, nil
	case *sqlparser.ComparisonExpr:
		op, ok := comparisonOps[x.Operator]
		if !ok {
			return nil, &ParseError{Input: input, Msg: "unsupported operator " + x.Operator}
		}
		return binary(input, op, x.Left, x.Right)
	case *sqlparser.RangeCond:
		col, err := convert(input, x.Left)
		if err != nil {
			return nil, err
		}
		lo, err := convert(input, x.From)
		if err != nil {
			return nil, err
		}
		hi, err := convert(input, x.To)
		if err != nil {
			return nil, err
		}
		op := OpBetween
		if x.Operator == sqlparser.NotBetweenStr {
			op = OpNotBetween
		}
		return Expression{Op: op, Left: col, Right: Expression{Op: OpAnd, Left: lo, Right: hi}}, nil
	case *sqlparser.IsExpr:
		col, err := convert(input, x.Expr)
		if err != nil {
			return nil, err
		}
		switch x.Operator {
		case sqlparser.IsNullStr:
			return Expression{Op: OpIs, Left: col, Right: Literal{}}, nil
		case sqlparser.IsNotNullStr:
			return Expression{Op: OpIsNot, Left: col, Right: Literal{}}, nil
		}
		return nil, &ParseError{Input: input, Msg: "unsupported operator " + x.Operator}
	case *sqlparser.ColName:
		return Identifier{Name: columnName(x)}, nil
	case *sqlparser.SQLVal:
		return literal(input, x, false)
	case *sqlparser.NullVal:
		return Literal{}, nil
	case sqlparser.BoolVal:
		return Literal{Value: bool(x)}, nil
	case *sqlparser.UnaryExpr:
		if v, ok := x.Expr.(*sqlparser.SQLVal); ok && x.Operator == sqlparser.UMinusStr {
			return literal(input, v, true)
		}
		return nil, &ParseError{Input: input, Msg: "unsupported unary operator " + x.Operator}
	case sqlparser.ValTuple:
		items := make([]Node, 0, len(x))
		for _, it := range x {
			n, err := convert(input, it)
			if err != nil {
				return nil, err
			}
			items = append(items, n)
		}
		return List{Items: items}, nil
	default:
		return nil, &ParseError{Input: input, Msg: "unsupported expression " + sqlparser.String(e)}
	}
}

var comparisonOps = map[string]string{
	sqlparser.EqualStr:        OpEq,
	sqlparser.NotEqualStr:     OpNe,
	"<>":                      OpNe,
	sqlparser.LessThanStr:     OpLt,
	sqlparser.GreaterThanStr:  OpGt,
	sqlparser.LessEqualStr:    OpLe,
	sqlparser.GreaterEqualStr: OpGe,
	sqlparser.LikeStr:         OpLike,
	sqlparser.NotLikeStr:      OpNotLike,
	sqlparser.InStr:           OpIn,
	sqlparser.NotInStr:        OpNotIn,
}

func binary(input, op string, l, r sqlparser.Expr) (Node, error) {
	left, err := convert(input, l)
	if err != nil {
		return nil, err
	}
	right, err := convert(input, r)
	if err != nil {
		return nil, err
	}
	return Expression{Op: op, Left: left, Right: right}, nil
}

func unparen(e sqlparser.Expr) sqlparser.Expr {
	for {
		p, ok := e.(*sqlparser.ParenExpr)
		if !ok {
			return e
		}
		e = p.Expr
	}
}

// columnName rebuilds dotted field paths that the grammar splits into
// qualifier and column.
func columnName(c *sqlparser.ColName) string {
	parts := make([]string, 0, 3)
	if q := c.Qualifier.Qualifier.String(); q != "" {
		parts = append(parts, q)
	}
	if n := c.Qualifier.Name.String(); n != "" {
		parts = append(parts, n)
	}
	parts = append(parts, c.Name.String())
	return strings.ToLower(strings.Join(parts, "."))
}

func literal(input string, v *sqlparser.SQLVal, negate bool) (Node, error) {
	raw := string(v.Val)
	switch v.Type {
	case sqlparser.StrVal:
		if negate {
			return nil, &ParseError{Input: input, Msg: "cannot negate string literal"}
		}
		return Literal{Value: raw}, nil
	case sqlparser.IntVal:
		if negate {
			raw = "-" + raw
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return Literal{Value: n}, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &ParseError{Input: input, Msg: "bad number " + raw, Err: err}
		}
		return Literal{Value: f}, nil
	case sqlparser.FloatVal:
		if negate {
			raw = "-" + raw
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &ParseError{Input: input, Msg: "bad number " + raw, Err: err}
		}
		return Literal{Value: f}, nil
	default:
		return nil, &ParseError{Input: input, Msg: "unsupported literal " + raw}
	}
}

// Parser memoizes parsed trees. Trees are immutable so entries are shared
// between concurrent requests.
type Parser struct {
	cache *lru.Cache[string, Node]
}

func NewParser(size int) *Parser {
	if size <= 0 {
		return &Parser{}
	}
	c, _ := lru.New[string, Node](size)
	return &Parser{cache: c}
}

func (p *Parser) Parse(where string) (Node, error) {
	if p == nil || p.cache == nil {
		return Parse(where)
	}
	if n, ok := p.cache.Get(where); ok {
		return n, nil
	}
	n, err := Parse(where)
	if err != nil {
		return nil, err
	}
	p.cache.Add(where, n)
	return n, nil
}
