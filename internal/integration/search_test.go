package integration

import (
	"context"
	"testing"

	"github.com/cardstack/pgsearch/cardschema"
	"github.com/cardstack/pgsearch/pquery"
	"github.com/pentops/flowtest"
	"google.golang.org/grpc/codes"
)

func TestSearchAndGet(t *testing.T) {
	ss, uu := NewUniverse(t)
	defer ss.RunSteps(t)

	ss.StepC("Save", func(ctx context.Context, t flowtest.Asserter) {
		uu.SavePeople(ctx, t, map[string]map[string]interface{}{
			"a": {"name": "Alice"},
			"b": {"name": "Bob"},
		})
	})

	ss.StepC("Eq", func(ctx context.Context, t flowtest.Asserter) {
		res := uu.Search(ctx, t, pquery.Query{
			Filter: &pquery.Filter{
				Eq: map[string]interface{}{"name": "Alice"},
			},
		})
		t.Equal([]string{"a"}, cardIDs(res))
		t.Equal(1, res.Meta.Page.Total)
		t.Equal((*string)(nil), res.Meta.Page.Cursor)

		name, ok := res.Cards[0].Attribute("name")
		t.Equal(true, ok)
		t.Equal("Alice", name)
	})

	ss.StepC("Get", func(ctx context.Context, t flowtest.Asserter) {
		card, err := uu.Client.Get(ctx, cardschema.CardID{Realm: uu.Realm}, "b")
		t.NoError(err)
		t.Equal(uu.CardID("b").Canonical(), card.CardID())

		_, err = uu.Client.Get(ctx, cardschema.CardID{Realm: uu.Realm}, "missing")
		t.CodeError(err, codes.NotFound)
	})

	var cursor string

	ss.StepC("First page", func(ctx context.Context, t flowtest.Asserter) {
		res := uu.Search(ctx, t, pquery.Query{
			Sort: pquery.SortSpec{cardschema.MetaID},
			Page: pquery.Page{Size: 1},
		})
		t.Equal([]string{"a"}, cardIDs(res))
		t.Equal(2, res.Meta.Page.Total)
		if res.Meta.Page.Cursor == nil {
			t.Fatal("expected a cursor after the first page")
		}
		cursor = *res.Meta.Page.Cursor
	})

	ss.StepC("Last page", func(ctx context.Context, t flowtest.Asserter) {
		res := uu.Search(ctx, t, pquery.Query{
			Sort: pquery.SortSpec{cardschema.MetaID},
			Page: pquery.Page{Size: 1, Cursor: cursor},
		})
		t.Equal([]string{"b"}, cardIDs(res))
		t.Equal(2, res.Meta.Page.Total)
		t.Equal((*string)(nil), res.Meta.Page.Cursor)
	})

	ss.StepC("Descending", func(ctx context.Context, t flowtest.Asserter) {
		res := uu.Search(ctx, t, pquery.Query{
			Sort: pquery.SortSpec{"-name"},
		})
		t.Equal([]string{"b", "a"}, cardIDs(res))
	})

	ss.StepC("Query string", func(ctx context.Context, t flowtest.Asserter) {
		res := uu.Search(ctx, t, pquery.Query{
			QueryString: "ALI",
		})
		t.Equal([]string{"a"}, cardIDs(res))
	})

	ss.StepC("Bad requests", func(ctx context.Context, t flowtest.Asserter) {
		_, err := uu.Client.Search(ctx, personType, pquery.Query{
			Filter: &pquery.Filter{
				Eq: map[string]interface{}{"shoeSize": 9},
			},
		})
		t.CodeError(err, codes.NotFound)

		_, err = uu.Client.Search(ctx, personType, pquery.Query{
			Page: pquery.Page{Size: 1, Cursor: "not a cursor"},
		})
		t.CodeError(err, codes.InvalidArgument)

		_, err = uu.Client.Search(ctx, personType, pquery.Query{
			Page: pquery.Page{Size: 101},
		})
		t.CodeError(err, codes.InvalidArgument)
	})
}

func TestFilters(t *testing.T) {
	ss, uu := NewUniverse(t)
	defer ss.RunSteps(t)

	ss.StepC("Save", func(ctx context.Context, t flowtest.Asserter) {
		uu.SavePeople(ctx, t, map[string]map[string]interface{}{
			"alice": {
				"name":     "Alice",
				"nickname": "Ally",
				"rank":     3,
				"tags":     []interface{}{"admin", "staff"},
				"address":  map[string]interface{}{"city": "Paris"},
				"pets": []interface{}{
					map[string]interface{}{"species": "cat", "age": 2},
					map[string]interface{}{"species": "dog", "age": 9},
				},
			},
			"bob": {
				"name":    "Bob",
				"rank":    12,
				"tags":    []interface{}{"staff"},
				"address": map[string]interface{}{"city": "Lisbon"},
				"pets": []interface{}{
					map[string]interface{}{"species": "fish", "age": 1},
				},
			},
			"carol": {
				"name": "Carol",
				"rank": 7,
			},
		})
	})

	for _, tc := range []struct {
		name   string
		filter pquery.Filter
		want   []string
	}{{
		name: "case insensitive",
		filter: pquery.Filter{
			Eq: map[string]interface{}{"nickname": "ALLY"},
		},
		want: []string{"alice"},
	}, {
		name: "plural scalar",
		filter: pquery.Filter{
			Eq: map[string]interface{}{"tags": "staff"},
		},
		want: []string{"alice", "bob"},
	}, {
		name: "nested card",
		filter: pquery.Filter{
			Eq: map[string]interface{}{"address.city": "Lisbon"},
		},
		want: []string{"bob"},
	}, {
		name: "through plural card",
		filter: pquery.Filter{
			Eq: map[string]interface{}{"pets.species": "dog"},
		},
		want: []string{"alice"},
	}, {
		name: "range",
		filter: pquery.Filter{
			Range: map[string]pquery.RangeBounds{
				"rank": {Gt: 3, Lte: 12},
			},
		},
		want: []string{"bob", "carol"},
	}, {
		name: "numeric range is not lexical",
		filter: pquery.Filter{
			Range: map[string]pquery.RangeBounds{
				"rank": {Lt: 10},
			},
		},
		want: []string{"alice", "carol"},
	}, {
		name: "range through plural card",
		filter: pquery.Filter{
			Range: map[string]pquery.RangeBounds{
				"pets.age": {Gte: 5},
			},
		},
		want: []string{"alice"},
	}, {
		name: "any",
		filter: pquery.Filter{
			Any: []pquery.Filter{
				{Eq: map[string]interface{}{"name": "Carol"}},
				{Eq: map[string]interface{}{"address.city": "Paris"}},
			},
		},
		want: []string{"alice", "carol"},
	}, {
		name: "not",
		filter: pquery.Filter{
			Not: &pquery.Filter{
				Eq: map[string]interface{}{"name": "Bob"},
			},
		},
		want: []string{"alice", "carol"},
	}, {
		name: "null eq is rejected",
		filter: pquery.Filter{
			Type: &thingType,
			Eq:   map[string]interface{}{"title": nil},
		},
		want: nil,
	}} {
		tc := tc
		ss.StepC(tc.name, func(ctx context.Context, t flowtest.Asserter) {
			if tc.want == nil {
				_, err := uu.Client.Search(ctx, personType, pquery.Query{Filter: &tc.filter})
				t.CodeError(err, codes.InvalidArgument)
				return
			}
			res := uu.Search(ctx, t, pquery.Query{
				Filter: &tc.filter,
				Sort:   pquery.SortSpec{cardschema.MetaID},
			})
			t.Equal(tc.want, cardIDs(res))
			t.Equal(len(tc.want), res.Meta.Page.Total)
		})
	}

	ss.StepC("Type filter", func(ctx context.Context, t flowtest.Asserter) {
		res := uu.Search(ctx, t, pquery.Query{
			Filter: &pquery.Filter{Type: &thingType},
			Sort:   pquery.SortSpec{cardschema.MetaID},
		})
		t.Equal([]string{"alice", "bob", "carol"}, cardIDs(res))

		res = uu.Search(ctx, t, pquery.Query{
			Filter: &pquery.Filter{Type: &petType},
		})
		t.Equal([]string{}, cardIDs(res))
	})
}
