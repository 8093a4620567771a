package pquery

import (
	"context"
	"fmt"
	"strings"

	"github.com/cardstack/pgsearch/cardschema"
	"github.com/cardstack/pgsearch/pgstore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Resolver turns card expressions into plain SQL expressions by looking up
// each referenced field path in the card schema.
type Resolver struct {
	schema cardschema.Service
	table  pgstore.CardTable
}

func NewResolver(schema cardschema.Service, table pgstore.CardTable) *Resolver {
	return &Resolver{
		schema: schema,
		table:  table,
	}
}

// Resolve replaces every deferred token in expr, including those nested in
// values and arity branches.
func (r *Resolver) Resolve(ctx context.Context, expr pgstore.Expression) (pgstore.Expression, error) {
	out := make(pgstore.Expression, 0, len(expr))
	for _, token := range expr {
		var resolved pgstore.Expression
		var err error

		switch tt := token.(type) {
		case FieldQuery:
			resolved, err = r.walkFieldPath(ctx, tt.TypeContext, tt.Path, r.table.ColumnExpression(pgstore.ColSearchDoc), queryHooks{table: r.table})
			if err != nil && tt.ErrorHint != "" {
				err = fmt.Errorf("%s: %w", tt.ErrorHint, err)
			}

		case FieldValue:
			resolved, err = r.Resolve(ctx, tt.Value)
			if err == nil {
				resolved, err = r.walkFieldPath(ctx, tt.TypeContext, tt.Path, resolved, valueHooks{})
			}

		case FieldArity:
			resolved, err = r.walkFieldPath(ctx, tt.TypeContext, tt.Path, nil, arityHooks{
				singular: tt.Singular,
				plural:   tt.Plural,
			})
			if err == nil {
				resolved, err = r.Resolve(ctx, resolved)
			}

		default:
			out = append(out, token)
			continue
		}

		if err != nil {
			return nil, err
		}
		out = append(out, resolved...)
	}
	return out, nil
}

// pathHooks customizes walkFieldPath. Interior fields are entered on the
// way down and exited on the way back up, wrapping whatever the rest of the
// path produced.
type pathHooks interface {
	cardMeta(expr pgstore.Expression, name string, nested bool) pgstore.Expression
	leaf(field *cardschema.Field, expr pgstore.Expression) pgstore.Expression
	enter(field *cardschema.Field, expr pgstore.Expression) pgstore.Expression
	exit(field *cardschema.Field, expr pgstore.Expression) pgstore.Expression
}

func (r *Resolver) walkFieldPath(ctx context.Context, typeContext cardschema.CardID, path string, expr pgstore.Expression, hooks pathHooks) (pgstore.Expression, error) {
	segments := strings.Split(path, ".")
	for _, segment := range segments {
		if segment == "" {
			return nil, status.Errorf(codes.InvalidArgument, "invalid field path %q", path)
		}
	}
	return r.walk(ctx, typeContext, path, segments, expr, hooks, false)
}

func (r *Resolver) walk(ctx context.Context, typeContext cardschema.CardID, path string, segments []string, expr pgstore.Expression, hooks pathHooks, nested bool) (pgstore.Expression, error) {
	current, remaining := segments[0], segments[1:]

	if cardschema.IsMetaField(current) {
		if len(remaining) > 0 {
			return nil, status.Errorf(codes.InvalidArgument, "field path %q: %s has no fields", path, current)
		}
		return hooks.cardMeta(expr, current, nested), nil
	}

	field, err := r.schema.Field(ctx, typeContext, current)
	if err != nil {
		return nil, fmt.Errorf("field path %q: %w", path, err)
	}

	if len(remaining) == 0 {
		return hooks.leaf(field, expr), nil
	}

	if field.Card == nil {
		return nil, status.Errorf(codes.InvalidArgument, "field path %q: %s of %s is a %s field, not a card", path, current, typeContext.URL(), field.TypeName)
	}

	inner, err := r.walk(ctx, *field.Card, path, remaining, hooks.enter(field, expr), hooks, true)
	if err != nil {
		return nil, err
	}
	return hooks.exit(field, inner), nil
}

// queryHooks navigates the search document to the field.
type queryHooks struct {
	table pgstore.CardTable
}

func (qh queryHooks) cardMeta(expr pgstore.Expression, name string, nested bool) pgstore.Expression {
	if !nested {
		if column, ok := cardschema.MetaColumn(name); ok {
			return qh.table.ColumnExpression(column)
		}
	}
	return pgstore.Concat(expr, pgstore.Expression{pgstore.Raw("->>"), pgstore.Bind(name)})
}

func (qh queryHooks) leaf(field *cardschema.Field, expr pgstore.Expression) pgstore.Expression {
	return field.QueryExpression(expr)
}

func (qh queryHooks) enter(field *cardschema.Field, expr pgstore.Expression) pgstore.Expression {
	child := pgstore.Concat(expr, pgstore.Expression{pgstore.Raw("->"), pgstore.Bind(field.SearchKey())})
	if field.IsPlural() {
		return pgstore.Concat(pgstore.SQL("jsonb_array_elements("), child, pgstore.SQL(")"))
	}
	return child
}

func (qh queryHooks) exit(field *cardschema.Field, expr pgstore.Expression) pgstore.Expression {
	return expr
}

// valueHooks applies the leaf field type's value transformation.
type valueHooks struct{}

func (valueHooks) cardMeta(expr pgstore.Expression, name string, nested bool) pgstore.Expression {
	return expr
}

func (valueHooks) leaf(field *cardschema.Field, expr pgstore.Expression) pgstore.Expression {
	return field.ValueExpression(expr)
}

func (valueHooks) enter(field *cardschema.Field, expr pgstore.Expression) pgstore.Expression {
	return expr
}

func (valueHooks) exit(field *cardschema.Field, expr pgstore.Expression) pgstore.Expression {
	return expr
}

// arityHooks picks the branch matching the leaf cardinality. Crossing a
// plural interior field expands into one row per element, so the condition
// is collected into an array and matches when any element matched.
type arityHooks struct {
	singular pgstore.Expression
	plural   pgstore.Expression
}

func (ah arityHooks) cardMeta(expr pgstore.Expression, name string, nested bool) pgstore.Expression {
	return ah.singular
}

func (ah arityHooks) leaf(field *cardschema.Field, expr pgstore.Expression) pgstore.Expression {
	if field.IsPlural() {
		return ah.plural
	}
	return ah.singular
}

func (ah arityHooks) enter(field *cardschema.Field, expr pgstore.Expression) pgstore.Expression {
	return expr
}

func (ah arityHooks) exit(field *cardschema.Field, expr pgstore.Expression) pgstore.Expression {
	if !field.IsPlural() {
		return expr
	}
	return pgstore.Concat(pgstore.SQL("array(select"), expr, pgstore.SQL(")", "&&", "array[true]"))
}
