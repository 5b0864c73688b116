package predicate

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
)

// DateRangeFormat is attached to every date range so the backend accepts
// the epoch millisecond bounds we send.
const DateRangeFormat = "strict_date_optional_time||epoch_millis"

// IDField is the document identifier the conventional objectid column maps to.
const IDField = "_id"

// Options carries the dataset context a translation depends on.
type Options struct {
	DateFields   []string
	ReturnFields []string
	// ValueAliases maps column -> stored value -> displayed value.
	ValueAliases map[string]map[string]string
	Mapping      backend.Mapping
}

type Translator struct {
	parser *Parser
}

func NewTranslator(p *Parser) *Translator {
	return &Translator{parser: p}
}

// Translate turns a where clause into a query fragment. An empty clause
// yields nil.
func (t *Translator) Translate(where string, opts Options) (map[string]any, error) {
	if strings.TrimSpace(where) == "" {
		return nil, nil
	}
	tree, err := t.parser.Parse(where)
	if err != nil {
		return nil, err
	}
	return TranslateTree(where, tree, opts)
}

// TranslateTree translates an already parsed tree. input is only used for
// error messages.
func TranslateTree(input string, tree Node, opts Options) (map[string]any, error) {
	tr := &translation{input: input, opts: opts, reverse: reverseAliases(opts.ValueAliases)}
	return tr.node(tree)
}

type translation struct {
	input   string
	opts    Options
	reverse map[string]map[string]string
}

func reverseAliases(fwd map[string]map[string]string) map[string]map[string]string {
	if len(fwd) == 0 {
		return nil
	}
	out := make(map[string]map[string]string, len(fwd))
	for col, values := range fwd {
		r := make(map[string]string, len(values))
		for stored, shown := range values {
			r[shown] = stored
		}
		out[col] = r
	}
	return out
}

func (tr *translation) fail(msg string) error {
	return &ParseError{Input: tr.input, Msg: msg}
}

func (tr *translation) node(n Node) (map[string]any, error) {
	e, ok := n.(Expression)
	if !ok {
		return nil, tr.fail("expected an expression")
	}
	switch e.Op {
	case OpAnd, OpOr:
		left, err := tr.node(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := tr.node(e.Right)
		if err != nil {
			return nil, err
		}
		if e.Op == OpAnd {
			return boolQuery("must", left, right), nil
		}
		if merged, ok := mergeTerms(left, right); ok {
			return merged, nil
		}
		q := boolQuery("should", left, right)
		q["bool"].(map[string]any)["minimum_should_match"] = 1
		return q, nil
	case OpNot:
		inner, err := tr.node(e.Left)
		if err != nil {
			return nil, err
		}
		return mustNot(inner), nil
	case OpBetween, OpNotBetween:
		return tr.between(e)
	}
	return tr.comparison(e)
}

func (tr *translation) comparison(e Expression) (map[string]any, error) {
	if ll, ok := e.Left.(Literal); ok {
		if rl, ok := e.Right.(Literal); ok {
			return tr.literals(e.Op, ll, rl)
		}
		if id, ok := e.Right.(Identifier); ok {
			op, ok := flipped[e.Op]
			if !ok {
				return nil, tr.fail("unsupported operand order for " + e.Op)
			}
			e = Expression{Op: op, Left: id, Right: ll}
		}
	}
	id, ok := e.Left.(Identifier)
	if !ok {
		return nil, tr.fail("left side of " + e.Op + " must be a field")
	}

	if e.Op == OpIn || e.Op == OpNotIn {
		list, ok := e.Right.(List)
		if !ok {
			return nil, tr.fail(e.Op + " requires a value list")
		}
		q, err := tr.in(id, list)
		if err != nil {
			return nil, err
		}
		if e.Op == OpNotIn {
			return mustNot(q), nil
		}
		return q, nil
	}

	lit, ok := e.Right.(Literal)
	if !ok {
		return nil, tr.fail("right side of " + e.Op + " must be a value")
	}

	switch e.Op {
	case OpEq:
		field := tr.field(id.Name, true)
		if field == IDField {
			return map[string]any{"terms": map[string]any{field: []any{lit.Value}}}, nil
		}
		return map[string]any{"match": map[string]any{field: tr.alias(field, lit.Value)}}, nil
	case OpNe:
		field := tr.field(id.Name, true)
		return mustNot(map[string]any{"match": map[string]any{field: lit.Value}}), nil
	case OpLike, OpNotLike:
		s, ok := lit.Value.(string)
		if !ok {
			return nil, tr.fail(e.Op + " requires a string pattern")
		}
		q := map[string]any{"match_phrase_prefix": map[string]any{
			tr.field(id.Name, false): strings.ReplaceAll(s, "%", ""),
		}}
		if e.Op == OpNotLike {
			return mustNot(q), nil
		}
		return q, nil
	case OpLt, OpGt, OpLe, OpGe:
		field := tr.field(id.Name, false)
		key := rangeKeys[e.Op]
		if !tr.isDate(field) {
			return rangeQuery(field, map[string]any{key: lit.Value}), nil
		}
		ms, err := tr.epochMillis(lit.Value)
		if err != nil {
			return nil, err
		}
		return rangeQuery(field, map[string]any{key: ms, "format": DateRangeFormat}), nil
	case OpIs, OpIsNot:
		if lit.Value != nil {
			return nil, tr.fail(e.Op + " only supports null")
		}
		q := map[string]any{"exists": map[string]any{"field": tr.field(id.Name, false)}}
		if e.Op == OpIs {
			return mustNot(q), nil
		}
		return q, nil
	}
	return nil, tr.fail("unsupported operator " + e.Op)
}

// literals handles constant comparisons such as 1=1.
func (tr *translation) literals(op string, l, r Literal) (map[string]any, error) {
	var equal bool
	switch op {
	case OpEq:
		equal = l.Value == r.Value
	case OpNe:
		equal = l.Value != r.Value
	default:
		return nil, tr.fail("unsupported constant comparison " + op)
	}
	if equal {
		return map[string]any{"match_all": map[string]any{}}, nil
	}
	return map[string]any{"match_none": map[string]any{}}, nil
}

func (tr *translation) between(e Expression) (map[string]any, error) {
	id, ok := e.Left.(Identifier)
	if !ok {
		return nil, tr.fail(e.Op + " requires a field")
	}
	bounds, ok := e.Right.(Expression)
	if !ok || bounds.Op != OpAnd {
		return nil, tr.fail(e.Op + " requires two bounds")
	}
	lo, ok1 := bounds.Left.(Literal)
	hi, ok2 := bounds.Right.(Literal)
	if !ok1 || !ok2 {
		return nil, tr.fail(e.Op + " bounds must be values")
	}
	field := tr.field(id.Name, false)
	var q map[string]any
	if tr.isDate(field) {
		from, err := tr.epochMillis(lo.Value)
		if err != nil {
			return nil, err
		}
		to, err := tr.epochMillis(hi.Value)
		if err != nil {
			return nil, err
		}
		q = rangeQuery(field, map[string]any{"gte": from, "lte": to, "format": DateRangeFormat})
	} else {
		q = rangeQuery(field, map[string]any{"gte": lo.Value, "lte": hi.Value})
	}
	if e.Op == OpNotBetween {
		return mustNot(q), nil
	}
	return q, nil
}

func (tr *translation) in(id Identifier, list List) (map[string]any, error) {
	field := tr.field(id.Name, true)
	values := make([]any, 0, len(list.Items))
	for _, it := range list.Items {
		lit, ok := it.(Literal)
		if !ok {
			return nil, tr.fail("in list may only contain values")
		}
		values = append(values, tr.alias(field, lit.Value))
	}
	return map[string]any{"terms": map[string]any{field: values}}, nil
}

// field resolves a lower-cased column back to its declared name. withExt
// keeps the full dotted return field instead of its root segment.
func (tr *translation) field(name string, withExt bool) string {
	if name == "objectid" {
		return IDField
	}
	for _, rf := range tr.opts.ReturnFields {
		root := rf
		if !strings.Contains(name, ".") {
			root, _, _ = strings.Cut(rf, ".")
		}
		if strings.EqualFold(root, name) {
			if withExt {
				return rf
			}
			return root
		}
	}
	if len(tr.opts.Mapping) > 0 {
		keys := make([]string, 0, len(tr.opts.Mapping))
		for k := range tr.opts.Mapping {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if strings.EqualFold(k, name) {
				return k
			}
		}
	}
	return name
}

func (tr *translation) isDate(field string) bool {
	for _, f := range tr.opts.DateFields {
		if f == field {
			return true
		}
	}
	switch tr.opts.Mapping.FieldType(field) {
	case "date", "date_nanos":
		return true
	}
	return false
}

func (tr *translation) alias(field string, v any) any {
	r, ok := tr.reverse[field]
	if !ok {
		return v
	}
	if stored, ok := r[valueKey(v)]; ok {
		return stored
	}
	return v
}

func (tr *translation) epochMillis(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case string:
		t, err := dateparse.ParseIn(x, time.UTC)
		if err != nil {
			return 0, &ParseError{Input: tr.input, Msg: "invalid date " + strconv.Quote(x), Err: err}
		}
		return t.UnixMilli(), nil
	}
	return 0, tr.fail("invalid date value")
}

func valueKey(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

var flipped = map[string]string{
	OpEq: OpEq,
	OpNe: OpNe,
	OpLt: OpGt,
	OpGt: OpLt,
	OpLe: OpGe,
	OpGe: OpLe,
}

var rangeKeys = map[string]string{
	OpLt: "lt",
	OpGt: "gt",
	OpLe: "lte",
	OpGe: "gte",
}

func rangeQuery(field string, bounds map[string]any) map[string]any {
	return map[string]any{"range": map[string]any{field: bounds}}
}

func boolQuery(occur string, clauses ...map[string]any) map[string]any {
	list := make([]any, 0, len(clauses))
	for _, c := range clauses {
		list = append(list, c)
	}
	return map[string]any{"bool": map[string]any{occur: list}}
}

func mustNot(q map[string]any) map[string]any {
	return boolQuery("must_not", q)
}

// mergeTerms folds two terms queries on the same field into one.
func mergeTerms(a, b map[string]any) (map[string]any, bool) {
	fa, va, ok := singleTerms(a)
	if !ok {
		return nil, false
	}
	fb, vb, ok := singleTerms(b)
	if !ok || fa != fb {
		return nil, false
	}
	values := make([]any, 0, len(va)+len(vb))
	values = append(values, va...)
	values = append(values, vb...)
	return map[string]any{"terms": map[string]any{fa: values}}, true
}

func singleTerms(q map[string]any) (string, []any, bool) {
	if len(q) != 1 {
		return "", nil, false
	}
	t, ok := q["terms"].(map[string]any)
	if !ok || len(t) != 1 {
		return "", nil, false
	}
	for f, v := range t {
		vals, ok := v.([]any)
		return f, vals, ok
	}
	return "", nil, false
}
