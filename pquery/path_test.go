package pquery

import (
	"context"
	"testing"

	"github.com/cardstack/pgsearch/cardschema"
	"github.com/cardstack/pgsearch/pgstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/utils/ptr"
)

var (
	personType  = cardschema.CardID{Realm: "https://r1.example", ID: "person"}
	addressType = cardschema.CardID{Realm: "https://r1.example", ID: "address"}
	petType     = cardschema.CardID{Realm: "https://r1.example", ID: "pet"}
)

const (
	personKey  = "https://r1.example/cards/person/"
	addressKey = "https://r1.example/cards/address/"
	petKey     = "https://r1.example/cards/pet/"
)

func testSchema(t testing.TB) *cardschema.Registry {
	t.Helper()
	reg := cardschema.NewRegistry()
	for _, ct := range []cardschema.CardType{{
		ID: personType,
		Fields: []cardschema.FieldDef{
			{Name: "name"},
			{Name: "nickname", Type: cardschema.TypeCaseInsensitiveString},
			{Name: "age", Type: cardschema.TypeInteger},
			{Name: "tags", Plural: true},
			{Name: "address", Type: cardschema.TypeCard, Card: ptr.To(addressType)},
			{Name: "pets", Type: cardschema.TypeCard, Card: ptr.To(petType), Plural: true},
		},
	}, {
		ID: addressType,
		Fields: []cardschema.FieldDef{
			{Name: "city"},
		},
	}, {
		ID: petType,
		Fields: []cardschema.FieldDef{
			{Name: "species"},
			{Name: "toys", Plural: true},
		},
	}} {
		require.NoError(t, reg.Define(ct))
	}
	return reg
}

func testResolver(t testing.TB) *Resolver {
	return NewResolver(testSchema(t), pgstore.DefaultCardTable())
}

func resolveAndLower(t testing.TB, resolver *Resolver, expr pgstore.Expression) *pgstore.Lowered {
	t.Helper()
	resolved, err := resolver.Resolve(context.Background(), expr)
	require.NoError(t, err)
	lowered, err := pgstore.Lower(resolved)
	require.NoError(t, err)
	return lowered
}

func TestFieldQuery(t *testing.T) {
	resolver := testResolver(t)

	for _, tc := range []struct {
		path       string
		wantText   string
		wantValues []interface{}
	}{{
		path:       "name",
		wantText:   "search_doc ->> $1",
		wantValues: []interface{}{personKey + "name"},
	}, {
		path:       "age",
		wantText:   "( search_doc ->> $1 ) ::numeric",
		wantValues: []interface{}{personKey + "age"},
	}, {
		path:       "tags",
		wantText:   "array(select jsonb_array_elements_text( search_doc -> $1 ) )",
		wantValues: []interface{}{personKey + "tags"},
	}, {
		path:       "address.city",
		wantText:   "search_doc -> $1 ->> $2",
		wantValues: []interface{}{personKey + "address", addressKey + "city"},
	}, {
		path:       "pets.species",
		wantText:   "jsonb_array_elements( search_doc -> $1 ) ->> $2",
		wantValues: []interface{}{personKey + "pets", petKey + "species"},
	}, {
		path:       "csId",
		wantText:   "id",
		wantValues: []interface{}{},
	}, {
		path:       "csOriginalRealm",
		wantText:   "original_realm",
		wantValues: []interface{}{},
	}, {
		path:       "address.csId",
		wantText:   "search_doc -> $1 ->> $2",
		wantValues: []interface{}{personKey + "address", "csId"},
	}} {
		t.Run(tc.path, func(t *testing.T) {
			lowered := resolveAndLower(t, resolver, fieldQuery(personType, tc.path, "test"))
			assert.Equal(t, tc.wantText, lowered.Text)
			assert.Equal(t, tc.wantValues, lowered.Values)
		})
	}
}

func TestFieldValue(t *testing.T) {
	resolver := testResolver(t)

	lowered := resolveAndLower(t, resolver, fieldValue(personType, "age", 30))
	assert.Equal(t, "( $1 ) ::numeric", lowered.Text)
	assert.Equal(t, []interface{}{30}, lowered.Values)

	lowered = resolveAndLower(t, resolver, fieldValue(personType, "nickname", "Al"))
	assert.Equal(t, "lower( $1 )", lowered.Text)

	lowered = resolveAndLower(t, resolver, fieldValue(personType, "pets.species", "cat"))
	assert.Equal(t, "$1", lowered.Text)
	assert.Equal(t, []interface{}{"cat"}, lowered.Values)

	lowered = resolveAndLower(t, resolver, fieldValue(personType, "csId", "a"))
	assert.Equal(t, "$1", lowered.Text)
}

func TestFieldArity(t *testing.T) {
	resolver := testResolver(t)

	arity := func(path string) pgstore.Expression {
		return pgstore.Expression{FieldArity{
			TypeContext: personType,
			Path:        path,
			Singular:    pgstore.Concat(fieldQuery(personType, path, ""), pgstore.SQL("= 1")),
			Plural:      pgstore.Concat(fieldQuery(personType, path, ""), pgstore.SQL("&& array[1]")),
		}}
	}

	lowered := resolveAndLower(t, resolver, arity("name"))
	assert.Equal(t, "search_doc ->> $1 = 1", lowered.Text)

	lowered = resolveAndLower(t, resolver, arity("tags"))
	assert.Equal(t, "array(select jsonb_array_elements_text( search_doc -> $1 ) ) && array[1]", lowered.Text)

	lowered = resolveAndLower(t, resolver, arity("csRealm"))
	assert.Equal(t, "realm = 1", lowered.Text)

	lowered = resolveAndLower(t, resolver, arity("pets.species"))
	assert.Equal(t, "array(select jsonb_array_elements( search_doc -> $1 ) ->> $2 = 1 ) && array[true]", lowered.Text)
	assert.Equal(t, []interface{}{personKey + "pets", petKey + "species"}, lowered.Values)

	lowered = resolveAndLower(t, resolver, arity("pets.toys"))
	assert.Equal(t, "array(select array(select jsonb_array_elements_text( jsonb_array_elements( search_doc -> $1 ) -> $2 ) ) && array[1] ) && array[true]", lowered.Text)
}

func TestResolveKeepsPlainTokens(t *testing.T) {
	resolver := testResolver(t)
	lowered := resolveAndLower(t, resolver, pgstore.Concat(
		pgstore.SQL("select", "1", "where"),
		fieldQuery(personType, "name", ""),
		pgstore.SQL("="),
		fieldValue(personType, "name", "Alice"),
	))
	assert.Equal(t, "select 1 where search_doc ->> $1 = $2", lowered.Text)
	assert.Equal(t, []interface{}{personKey + "name", "Alice"}, lowered.Values)
}

func TestResolveErrors(t *testing.T) {
	resolver := testResolver(t)
	ctx := context.Background()

	for _, tc := range []struct {
		path     string
		wantCode codes.Code
	}{
		{path: "missing", wantCode: codes.NotFound},
		{path: "address.missing", wantCode: codes.NotFound},
		{path: "name.first", wantCode: codes.InvalidArgument},
		{path: "csId.first", wantCode: codes.InvalidArgument},
		{path: "address..city", wantCode: codes.InvalidArgument},
		{path: "", wantCode: codes.InvalidArgument},
	} {
		t.Run(tc.path, func(t *testing.T) {
			_, err := resolver.Resolve(ctx, fieldQuery(personType, tc.path, "sort"))
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, status.Code(err), err.Error())
		})
	}

	_, err := resolver.Resolve(ctx, fieldQuery(personType, "missing", "sort"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sort")
	assert.Contains(t, err.Error(), "missing")
}

func TestUnresolvedLowering(t *testing.T) {
	_, err := pgstore.Lower(fieldQuery(personType, "name", ""))
	assert.ErrorIs(t, err, pgstore.ErrUnresolvedToken)
}

// trimmedHooks compares a string field ignoring surrounding whitespace.
type trimmedHooks struct {
	cardschema.DefaultHooks
}

func (th trimmedHooks) QueryExpression(base pgstore.Expression, key string, cardinality cardschema.Cardinality) pgstore.Expression {
	return pgstore.Concat(pgstore.SQL("btrim("), th.DefaultHooks.QueryExpression(base, key, cardinality), pgstore.SQL(")"))
}

func (trimmedHooks) ValueExpression(value pgstore.Expression) pgstore.Expression {
	return pgstore.Concat(pgstore.SQL("btrim("), value, pgstore.SQL(")"))
}

func TestCustomFieldType(t *testing.T) {
	badgeType := cardschema.CardID{Realm: "https://r1.example", ID: "badge"}

	reg := cardschema.NewRegistry()
	reg.RegisterFieldType("trimmed-string", trimmedHooks{})
	require.NoError(t, reg.Define(cardschema.CardType{
		ID: badgeType,
		Fields: []cardschema.FieldDef{
			{Name: "code", Type: "trimmed-string"},
		},
	}))
	resolver := NewResolver(reg, pgstore.DefaultCardTable())

	lowered := resolveAndLower(t, resolver, fieldQuery(badgeType, "code", "test"))
	assert.Equal(t, "btrim( search_doc ->> $1 )", lowered.Text)
	assert.Equal(t, []interface{}{"https://r1.example/cards/badge/code"}, lowered.Values)

	lowered = resolveAndLower(t, resolver, fieldValue(badgeType, "code", " A1 "))
	assert.Equal(t, "btrim( $1 )", lowered.Text)
	assert.Equal(t, []interface{}{" A1 "}, lowered.Values)

	fc := filterCompiler{table: pgstore.DefaultCardTable()}
	condition, err := fc.condition(&Filter{Eq: map[string]interface{}{"code": "A1"}}, badgeType)
	require.NoError(t, err)
	lowered = resolveAndLower(t, resolver, condition)
	assert.Equal(t, "( btrim( search_doc ->> $1 ) = btrim( $2 ) )", lowered.Text)
}
