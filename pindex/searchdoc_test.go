package pindex

import (
	"context"
	"testing"

	"github.com/cardstack/pgsearch/cardschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const testTypes = `
cardTypes:
  - id: {realm: "https://base.example", id: thing}
    fields:
      - name: title
  - id: {realm: "https://r1.example", id: person}
    adoptsFrom: {realm: "https://base.example", id: thing}
    fields:
      - name: age
        type: integer
      - name: pets
        type: card
        plural: true
        card: {realm: "https://r1.example", id: pet}
      - name: address
        type: card
        card: {realm: "https://r1.example", id: address}
  - id: {realm: "https://r1.example", id: pet}
    fields:
      - name: species
  - id: {realm: "https://r1.example", id: address}
    fields:
      - name: city
`

var personType = cardschema.CardID{Realm: "https://r1.example", ID: "person"}

func TestSearchDoc(t *testing.T) {
	reg, err := cardschema.LoadRegistry([]byte(testTypes))
	require.NoError(t, err)
	builder := NewSearchDocBuilder(reg)

	id := cardschema.CardID{Realm: "https://r2.example", OriginalRealm: "https://r1.example", ID: "alice"}
	doc, err := builder.Document(context.Background(), id, personType, map[string]interface{}{
		"title": "Alice",
		"age":   30,
		"pets": []interface{}{
			map[string]interface{}{"species": "cat", "csId": "tom"},
		},
		"address": map[string]interface{}{"city": "Paris"},
	})
	require.NoError(t, err)

	assert.Equal(t, id, doc.ID)
	assert.Equal(t, "alice", doc.PristineDoc.Data.ID)
	assert.Equal(t, "Alice", doc.PristineDoc.Data.Attributes["title"])

	assert.Equal(t, map[string]interface{}{
		"https://base.example/cards/thing/title": "Alice",
		"https://r1.example/cards/person/age":    30,
		"https://r1.example/cards/person/pets": []interface{}{
			map[string]interface{}{
				"https://r1.example/cards/pet/species": "cat",
				"csId":                                 "tom",
			},
		},
		"https://r1.example/cards/person/address": map[string]interface{}{
			"https://r1.example/cards/address/city": "Paris",
		},
		"csRealm":         "https://r2.example",
		"csOriginalRealm": "https://r1.example",
		"csId":            "alice",
		"csAdoptionChain": []string{
			"https://r1.example/cards/person",
			"https://base.example/cards/thing",
		},
	}, doc.SearchDoc)
}

func TestSearchDocErrors(t *testing.T) {
	reg, err := cardschema.LoadRegistry([]byte(testTypes))
	require.NoError(t, err)
	builder := NewSearchDocBuilder(reg)
	ctx := context.Background()
	id := cardschema.CardID{Realm: "https://r1.example", ID: "a"}

	_, err = builder.SearchDoc(ctx, id, personType, map[string]interface{}{"shoeSize": 9})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = builder.SearchDoc(ctx, id, personType, map[string]interface{}{"pets": "rex"})
	assert.ErrorContains(t, err, "must be a list")

	_, err = builder.SearchDoc(ctx, id, personType, map[string]interface{}{"address": []interface{}{}})
	assert.ErrorContains(t, err, "must be an object")

	_, err = builder.SearchDoc(ctx, id, cardschema.CardID{Realm: "https://r1.example", ID: "robot"}, nil)
	assert.Equal(t, codes.NotFound, status.Code(err))
}
