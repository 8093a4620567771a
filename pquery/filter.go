package pquery

import (
	"reflect"
	"sort"
	"time"

	"github.com/cardstack/pgsearch/cardschema"
	"github.com/cardstack/pgsearch/dbconvert"
	"github.com/cardstack/pgsearch/pgstore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Filter is a tree of conditions on card fields. Each node sets exactly one
// of Any, Every, Not, Eq or Range, or only Type. Field paths are
// dot-separated, and resolve against Type when it is set, otherwise against
// the enclosing type.
type Filter struct {
	Type  *cardschema.CardID     `json:"type,omitempty"`
	Any   []Filter               `json:"any,omitempty"`
	Every []Filter               `json:"every,omitempty"`
	Not   *Filter                `json:"not,omitempty"`
	Eq    map[string]interface{} `json:"eq,omitempty"`
	Range map[string]RangeBounds `json:"range,omitempty"`
}

// RangeBounds are the comparisons of a range filter, nil bounds are not
// applied.
type RangeBounds struct {
	Gt  interface{} `json:"gt,omitempty"`
	Gte interface{} `json:"gte,omitempty"`
	Lt  interface{} `json:"lt,omitempty"`
	Lte interface{} `json:"lte,omitempty"`
}

func (f *Filter) variants() int {
	count := 0
	if f.Any != nil {
		count++
	}
	if f.Every != nil {
		count++
	}
	if f.Not != nil {
		count++
	}
	if f.Eq != nil {
		count++
	}
	if f.Range != nil {
		count++
	}
	return count
}

type filterCompiler struct {
	table pgstore.CardTable
}

// condition compiles the filter into a card expression.
func (fc filterCompiler) condition(filter *Filter, typeContext cardschema.CardID) (pgstore.Expression, error) {
	variants := filter.variants()
	if variants > 1 {
		return nil, status.Error(codes.InvalidArgument, "filter must have only one of any, every, not, eq or range")
	}

	conditions := make([]pgstore.Expression, 0, 2)
	if filter.Type != nil {
		typeContext = *filter.Type
		conditions = append(conditions, fc.typeCondition(typeContext))
	} else if variants == 0 {
		return nil, status.Error(codes.InvalidArgument, "filter must have one of type, any, every, not, eq or range")
	}

	var condition pgstore.Expression
	var err error
	switch {
	case filter.Any != nil:
		condition, err = fc.children(filter.Any, typeContext, pgstore.Any)
	case filter.Every != nil:
		condition, err = fc.children(filter.Every, typeContext, pgstore.Every)
	case filter.Not != nil:
		condition, err = fc.not(filter.Not, typeContext)
	case filter.Eq != nil:
		condition, err = fc.eq(filter.Eq, typeContext)
	case filter.Range != nil:
		condition, err = fc.ranges(filter.Range, typeContext)
	default:
		return pgstore.Every(conditions), nil
	}
	if err != nil {
		return nil, err
	}
	if len(conditions) == 0 {
		return condition, nil
	}
	return pgstore.Every(append(conditions, condition)), nil
}

func (fc filterCompiler) children(filters []Filter, typeContext cardschema.CardID, combine func([]pgstore.Expression) pgstore.Expression) (pgstore.Expression, error) {
	conditions := make([]pgstore.Expression, 0, len(filters))
	for idx := range filters {
		condition, err := fc.condition(&filters[idx], typeContext)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, condition)
	}
	return combine(conditions), nil
}

func (fc filterCompiler) not(filter *Filter, typeContext cardschema.CardID) (pgstore.Expression, error) {
	inner, err := fc.condition(filter, typeContext)
	if err != nil {
		return nil, err
	}
	return pgstore.Concat(pgstore.SQL("NOT"), pgstore.AddExplicitParens(inner)), nil
}

// typeCondition matches cards adopting from the card type.
func (fc filterCompiler) typeCondition(typeContext cardschema.CardID) pgstore.Expression {
	return pgstore.Concat(
		fc.table.ColumnExpression(pgstore.ColSearchDoc),
		pgstore.Expression{
			pgstore.Raw("->"), pgstore.Bind(cardschema.MetaAdoptionChain),
			pgstore.Raw("@>"), dbconvert.JSONB([]string{typeContext.URL()}),
		},
	)
}

func (fc filterCompiler) eq(values map[string]interface{}, typeContext cardschema.CardID) (pgstore.Expression, error) {
	conditions := make([]pgstore.Expression, 0, len(values))
	for _, path := range sortedKeys(values) {
		value := values[path]
		if value == nil {
			return nil, status.Errorf(codes.InvalidArgument, "eq filter on %s: null value", path)
		}
		if err := checkScalar("eq", path, value); err != nil {
			return nil, err
		}
		query := fieldQuery(typeContext, path, "filter")
		comparison := fieldValue(typeContext, path, value)
		conditions = append(conditions, pgstore.Expression{FieldArity{
			TypeContext: typeContext,
			Path:        path,
			Singular:    pgstore.Concat(query, pgstore.SQL("="), comparison),
			Plural:      pgstore.Concat(query, pgstore.SQL("&&", "array["), comparison, pgstore.SQL("]")),
		}})
	}
	return pgstore.Every(conditions), nil
}

func (fc filterCompiler) ranges(ranges map[string]RangeBounds, typeContext cardschema.CardID) (pgstore.Expression, error) {
	conditions := make([]pgstore.Expression, 0, len(ranges))
	for _, path := range sortedKeys(ranges) {
		bounds := ranges[path]
		for _, bound := range []struct {
			operator string
			value    interface{}
		}{
			{">", bounds.Gt},
			{">=", bounds.Gte},
			{"<", bounds.Lt},
			{"<=", bounds.Lte},
		} {
			if bound.value == nil {
				continue
			}
			if err := checkScalar("range", path, bound.value); err != nil {
				return nil, err
			}
			query := fieldQuery(typeContext, path, "filter")
			comparison := fieldValue(typeContext, path, bound.value)
			// plural fields match when any element is in range
			anyElement := pgstore.Concat(
				pgstore.SQL("exists", "(", "select 1 from unnest("),
				query,
				pgstore.SQL(")", "as el where el", bound.operator),
				comparison,
				pgstore.SQL(")"),
			)
			conditions = append(conditions, pgstore.Expression{FieldArity{
				TypeContext: typeContext,
				Path:        path,
				Singular:    pgstore.Concat(query, pgstore.SQL(bound.operator), comparison),
				Plural:      anyElement,
			}})
		}
	}
	return pgstore.Every(conditions), nil
}

// checkScalar rejects values which cannot be bound as a text parameter,
// objects and arrays decoded from JSON among them.
func checkScalar(filterName string, path string, value interface{}) error {
	if _, ok := value.(time.Time); ok {
		return nil
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer, reflect.Func, reflect.Chan:
		return status.Errorf(codes.InvalidArgument, "%s filter on %s: value must be a string, number or boolean, got %T", filterName, path, value)
	}
	return nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
