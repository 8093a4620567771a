package pquery

import (
	"fmt"

	"github.com/cardstack/pgsearch/cardschema"
	"github.com/cardstack/pgsearch/pgstore"
)

// Deferred tokens reference card fields by path. Resolver.Resolve replaces
// them with SQL once the schema of each field is known.

// FieldQuery reads the field at Path from the card.
type FieldQuery struct {
	TypeContext cardschema.CardID
	Path        string

	// ErrorHint names the construct using the path in resolution errors
	ErrorHint string
}

func (fq FieldQuery) String() string {
	return fmt.Sprintf("field-query(%s)", fq.Path)
}

// FieldValue presents Value for comparison with the field at Path.
type FieldValue struct {
	TypeContext cardschema.CardID
	Path        string
	Value       pgstore.Expression
}

func (fv FieldValue) String() string {
	return fmt.Sprintf("field-value(%s, %s)", fv.Path, fv.Value)
}

// FieldArity resolves to Singular or Plural depending on the cardinality of
// the leaf field at Path.
type FieldArity struct {
	TypeContext cardschema.CardID
	Path        string
	Singular    pgstore.Expression
	Plural      pgstore.Expression
}

func (fa FieldArity) String() string {
	return fmt.Sprintf("field-arity(%s, %s | %s)", fa.Path, fa.Singular, fa.Plural)
}

func fieldQuery(typeContext cardschema.CardID, path string, errorHint string) pgstore.Expression {
	return pgstore.Expression{FieldQuery{
		TypeContext: typeContext,
		Path:        path,
		ErrorHint:   errorHint,
	}}
}

func fieldValue(typeContext cardschema.CardID, path string, value interface{}) pgstore.Expression {
	return pgstore.Expression{FieldValue{
		TypeContext: typeContext,
		Path:        path,
		Value:       pgstore.Expression{pgstore.Bind(value)},
	}}
}
