// Package predicate translates the bounded SQL-like where grammar of the
// feature-query protocol into search query fragments.
package predicate

import (
	"fmt"
)

// Node is an element of the parsed predicate tree.
type Node interface {
	node()
}

// Identifier is a column reference. Name is lower-cased by the parser.
type Identifier struct {
	Name string
}

// Literal holds a string, int64, float64, bool or nil (SQL NULL).
type Literal struct {
	Value any
}

type List struct {
	Items []Node
}

// Expression is a binary node. Between stores its bounds as an "and"
// expression on the right; "not" is unary and leaves Right nil.
type Expression struct {
	Op    string
	Left  Node
	Right Node
}

func (Identifier) node() {}
func (Literal) node()    {}
func (List) node()       {}
func (Expression) node() {}

const (
	OpEq         = "="
	OpNe         = "<>"
	OpLt         = "<"
	OpGt         = ">"
	OpLe         = "<="
	OpGe         = ">="
	OpLike       = "like"
	OpNotLike    = "not like"
	OpIn         = "in"
	OpNotIn      = "not in"
	OpBetween    = "between"
	OpNotBetween = "not between"
	OpIs         = "is"
	OpIsNot      = "is not"
	OpAnd        = "and"
	OpOr         = "or"
	OpNot        = "not"
)

// ParseError reports a malformed or unsupported predicate.
type ParseError struct {
	Input string
	Msg   string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid predicate %q: %s: %v", e.Input, e.Msg, e.Err)
	}
	return fmt.Sprintf("invalid predicate %q: %s", e.Input, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }
