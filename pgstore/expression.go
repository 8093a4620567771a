package pgstore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	sq "github.com/elgris/sqrl"
)

var (
	ErrUnsafeName         = errors.New("unsafe SQL name")
	ErrUnresolvedToken    = errors.New("unresolved token in expression")
	ErrInvalidUpsertValue = errors.New("upsert values must be expressions or params")
)

// Token is one element of an Expression. Raw, Param and Fragment are the
// lowerable tokens, other packages define deferred tokens which must be
// resolved into these before the expression is lowered.
type Token interface {
	String() string
}

// Raw is literal SQL text, emitted verbatim.
type Raw string

func (r Raw) String() string {
	return string(r)
}

// Param is a value bound to a positional placeholder when the expression is
// lowered.
type Param struct {
	Value interface{}
}

func (p Param) String() string {
	return fmt.Sprintf("param(%v)", p.Value)
}

// Bind wraps a value as a Param.
func Bind(value interface{}) Param {
	return Param{Value: value}
}

// Fragment embeds a sqrl Sqlizer. Its '?' placeholders are numbered in
// sequence with the rest of the expression.
type Fragment struct {
	sq.Sqlizer
}

func (f Fragment) String() string {
	stmt, _, err := f.ToSql()
	if err != nil {
		return fmt.Sprintf("fragment(error: %s)", err)
	}
	return fmt.Sprintf("fragment(%s)", stmt)
}

// Expression is an ordered sequence of tokens. Consumers compose expressions
// with the functions in this package and lower them with Lower, or pass them
// directly to sqrlx, which calls ToSql.
type Expression []Token

// SQL builds an expression of raw tokens.
func SQL(parts ...string) Expression {
	out := make(Expression, 0, len(parts))
	for _, part := range parts {
		out = append(out, Raw(part))
	}
	return out
}

// Concat joins expressions into a new expression without modifying them.
func Concat(expressions ...Expression) Expression {
	size := 0
	for _, expression := range expressions {
		size += len(expression)
	}
	out := make(Expression, 0, size)
	for _, expression := range expressions {
		out = append(out, expression...)
	}
	return out
}

func (e Expression) String() string {
	parts := make([]string, len(e))
	for idx, token := range e {
		parts[idx] = token.String()
	}
	return strings.Join(parts, " ")
}

func (e Expression) ToSql() (string, []interface{}, error) {
	lowered, err := Lower(e)
	if err != nil {
		return "", nil, err
	}
	return lowered.Text, lowered.Values, nil
}

// Lowered is the final SQL text with '$n' placeholders and the values in
// placeholder order.
type Lowered struct {
	Text   string
	Values []interface{}
}

func (l *Lowered) ToSql() (string, []interface{}, error) {
	return l.Text, l.Values, nil
}

// Lower joins the tokens with single spaces, replacing each Param with the
// next '$n' placeholder.
func Lower(expression Expression) (*Lowered, error) {
	lowered := &Lowered{
		Values: []interface{}{},
	}
	parts := make([]string, 0, len(expression))
	for idx, token := range expression {
		switch tt := token.(type) {
		case Raw:
			parts = append(parts, string(tt))
		case Param:
			lowered.Values = append(lowered.Values, tt.Value)
			parts = append(parts, fmt.Sprintf("$%d", len(lowered.Values)))
		case Fragment:
			stmt, args, err := tt.ToSql()
			if err != nil {
				return nil, fmt.Errorf("fragment at %d: %w", idx, err)
			}
			text, err := renumber(stmt, len(lowered.Values), len(args))
			if err != nil {
				return nil, fmt.Errorf("fragment at %d: %w", idx, err)
			}
			lowered.Values = append(lowered.Values, args...)
			parts = append(parts, text)
		default:
			return nil, fmt.Errorf("%w: %s at %d", ErrUnresolvedToken, token, idx)
		}
	}
	lowered.Text = strings.Join(parts, " ")
	return lowered, nil
}

// renumber replaces '?' placeholders with '$n' starting after offset. An
// escaped literal '??' is kept escaped, sqrlx unescapes it when it rewrites
// placeholders for the driver.
func renumber(stmt string, offset int, argCount int) (string, error) {
	buf := &strings.Builder{}
	count := 0
	for idx := 0; idx < len(stmt); idx++ {
		if stmt[idx] != '?' {
			buf.WriteByte(stmt[idx])
			continue
		}
		if idx+1 < len(stmt) && stmt[idx+1] == '?' {
			buf.WriteString("??")
			idx++
			continue
		}
		count++
		fmt.Fprintf(buf, "$%d", offset+count)
	}
	if count != argCount {
		return "", fmt.Errorf("statement has %d placeholders for %d args", count, argCount)
	}
	return buf.String(), nil
}

// AddExplicitParens wraps a non-empty expression in parentheses.
func AddExplicitParens(expression Expression) Expression {
	if len(expression) == 0 {
		return expression
	}
	out := make(Expression, 0, len(expression)+2)
	out = append(out, Raw("("))
	out = append(out, expression...)
	return append(out, Raw(")"))
}

// Every is the conjunction of the expressions, 'true' when there are none.
func Every(expressions []Expression) Expression {
	return joinWith(expressions, "AND", "true")
}

// Any is the disjunction of the expressions, 'false' when there are none.
func Any(expressions []Expression) Expression {
	return joinWith(expressions, "OR", "false")
}

func joinWith(expressions []Expression, operator string, empty string) Expression {
	if len(expressions) == 0 {
		return SQL(empty)
	}
	out := Expression{}
	for idx, expression := range expressions {
		if idx > 0 {
			out = append(out, Raw(operator))
		}
		out = append(out, AddExplicitParens(expression)...)
	}
	return out
}

// SeparatedByCommas joins the expressions with ',' tokens.
func SeparatedByCommas(expressions []Expression) Expression {
	out := Expression{}
	for idx, expression := range expressions {
		if idx > 0 {
			out = append(out, Raw(","))
		}
		out = append(out, expression...)
	}
	return out
}

var safeNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SafeName checks that name can be used as an unquoted SQL identifier.
func SafeName(name string) (Raw, error) {
	if !safeNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return Raw(name), nil
}

// MustSafeName is SafeName for names fixed at compile time.
func MustSafeName(name string) Raw {
	raw, err := SafeName(name)
	if err != nil {
		panic(err.Error())
	}
	return raw
}

// ColumnValue is one column of an Upsert. Value must be an Expression, a
// Param or a Fragment.
type ColumnValue struct {
	Column string
	Value  interface{}
}

// Upsert builds an insert which updates every given column when the named
// constraint conflicts.
func Upsert(table string, constraint string, values []ColumnValue) (Expression, error) {
	tableName, err := SafeName(table)
	if err != nil {
		return nil, err
	}
	constraintName, err := SafeName(constraint)
	if err != nil {
		return nil, err
	}

	names := make([]Expression, 0, len(values))
	valueExpressions := make([]Expression, 0, len(values))
	updates := make([]Expression, 0, len(values))
	for _, cv := range values {
		name, err := SafeName(cv.Column)
		if err != nil {
			return nil, err
		}
		names = append(names, Expression{name})
		updates = append(updates, SQL(fmt.Sprintf("%s=EXCLUDED.%s", name, name)))

		switch vv := cv.Value.(type) {
		case Expression:
			valueExpressions = append(valueExpressions, vv)
		case Param:
			valueExpressions = append(valueExpressions, Expression{vv})
		case Fragment:
			valueExpressions = append(valueExpressions, Expression{vv})
		default:
			return nil, fmt.Errorf("%w: column %s has %T", ErrInvalidUpsertValue, cv.Column, cv.Value)
		}
	}

	out := Expression{Raw("insert into"), tableName}
	out = append(out, AddExplicitParens(SeparatedByCommas(names))...)
	out = append(out, Raw("values"))
	out = append(out, AddExplicitParens(SeparatedByCommas(valueExpressions))...)
	out = append(out, Raw("on conflict on constraint"), constraintName, Raw("do UPDATE SET"))
	out = append(out, SeparatedByCommas(updates)...)
	return out, nil
}
