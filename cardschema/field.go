package cardschema

import (
	"github.com/cardstack/pgsearch/pgstore"
)

type Cardinality string

const (
	Singular Cardinality = "singular"
	Plural   Cardinality = "plural"
)

// Field is a resolved field of a card type.
type Field struct {
	Name        string
	Cardinality Cardinality

	// EnclosingCardURL is the URL of the card type which defines the field,
	// which may be an ancestor of the type it was looked up on.
	EnclosingCardURL string

	// TypeName is the field type, e.g. 'string', 'integer' or 'card'.
	TypeName string

	// Card is the card type of the field's value for card-typed fields, nil
	// for scalar fields.
	Card *CardID

	Hooks FieldHooks
}

// SearchKey is the fully qualified field name, the key of the field in
// search documents. Same-named fields of unrelated card types do not
// collide.
func (f *Field) SearchKey() string {
	return f.EnclosingCardURL + "/" + f.Name
}

func (f *Field) IsPlural() bool {
	return f.Cardinality == Plural
}

func (f *Field) hooks() FieldHooks {
	if f.Hooks == nil {
		return DefaultHooks{}
	}
	return f.Hooks
}

// QueryExpression reads the field from base, a JSON document expression.
func (f *Field) QueryExpression(base pgstore.Expression) pgstore.Expression {
	return f.hooks().QueryExpression(base, f.SearchKey(), f.Cardinality)
}

// ValueExpression transforms a value to compare against QueryExpression.
func (f *Field) ValueExpression(value pgstore.Expression) pgstore.Expression {
	return f.hooks().ValueExpression(value)
}

// FieldHooks controls how a field type is read from the search document and
// how comparison values are presented to SQL.
type FieldHooks interface {
	QueryExpression(base pgstore.Expression, key string, cardinality Cardinality) pgstore.Expression
	ValueExpression(value pgstore.Expression) pgstore.Expression
}

// DefaultHooks compares fields as JSON text. Field types embed it and
// override what they need.
type DefaultHooks struct{}

func (DefaultHooks) QueryExpression(base pgstore.Expression, key string, cardinality Cardinality) pgstore.Expression {
	if cardinality == Plural {
		return pgstore.Concat(
			pgstore.SQL("array(select", "jsonb_array_elements_text("),
			base,
			pgstore.Expression{pgstore.Raw("->"), pgstore.Bind(key), pgstore.Raw(")"), pgstore.Raw(")")},
		)
	}
	return pgstore.Concat(base, pgstore.Expression{pgstore.Raw("->>"), pgstore.Bind(key)})
}

func (DefaultHooks) ValueExpression(value pgstore.Expression) pgstore.Expression {
	return value
}

// wrapHooks wraps both sides of every comparison in the same SQL function
// or cast.
type wrapHooks struct {
	DefaultHooks
	open  string
	close string
}

func (wh wrapHooks) wrap(expr pgstore.Expression) pgstore.Expression {
	return pgstore.Concat(pgstore.SQL(wh.open), expr, pgstore.SQL(wh.close))
}

func (wh wrapHooks) QueryExpression(base pgstore.Expression, key string, cardinality Cardinality) pgstore.Expression {
	if cardinality == Plural {
		element := pgstore.Concat(
			pgstore.SQL("jsonb_array_elements_text("),
			base,
			pgstore.Expression{pgstore.Raw("->"), pgstore.Bind(key), pgstore.Raw(")")},
		)
		return pgstore.Concat(pgstore.SQL("array(select"), wh.wrap(element), pgstore.SQL(")"))
	}
	return wh.wrap(wh.DefaultHooks.QueryExpression(base, key, cardinality))
}

func (wh wrapHooks) ValueExpression(value pgstore.Expression) pgstore.Expression {
	return wh.wrap(value)
}

func castHooks(sqlType string) FieldHooks {
	return wrapHooks{open: "(", close: ") ::" + sqlType}
}

const (
	TypeString                = "string"
	TypeCaseInsensitiveString = "case-insensitive-string"
	TypeInteger               = "integer"
	TypeNumber                = "number"
	TypeBoolean               = "boolean"
	TypeDate                  = "date"
	TypeDateTime              = "datetime"
	TypeCard                  = "card"
)

func builtinFieldTypes() map[string]FieldHooks {
	return map[string]FieldHooks{
		TypeString:                DefaultHooks{},
		TypeCaseInsensitiveString: wrapHooks{open: "lower(", close: ")"},
		TypeInteger:               castHooks("numeric"),
		TypeNumber:                castHooks("numeric"),
		TypeBoolean:               castHooks("boolean"),
		TypeDate:                  castHooks("date"),
		TypeDateTime:              castHooks("timestamptz"),
		TypeCard:                  DefaultHooks{},
	}
}
