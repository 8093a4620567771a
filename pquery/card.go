package pquery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cardstack/pgsearch/cardschema"
)

type Card interface {
	CardID() cardschema.CardID
	Attribute(name string) (interface{}, bool)
	Document() *cardschema.Document
}

// CardLoader instantiates cards from their stored pristine documents.
type CardLoader interface {
	Instantiate(ctx context.Context, pristineDoc []byte) (Card, error)
}

// JSONAPILoader reads pristine documents as cardschema.Document.
type JSONAPILoader struct{}

func (JSONAPILoader) Instantiate(ctx context.Context, pristineDoc []byte) (Card, error) {
	doc := &cardschema.Document{}
	if err := json.Unmarshal(pristineDoc, doc); err != nil {
		return nil, fmt.Errorf("unmarshal pristine doc: %w", err)
	}
	if doc.Data.ID == "" {
		return nil, fmt.Errorf("pristine doc has no id")
	}
	return &documentCard{doc: doc}, nil
}

type documentCard struct {
	doc *cardschema.Document
}

func (dc *documentCard) CardID() cardschema.CardID {
	return dc.doc.CardID()
}

func (dc *documentCard) Attribute(name string) (interface{}, bool) {
	val, ok := dc.doc.Data.Attributes[name]
	return val, ok
}

func (dc *documentCard) Document() *cardschema.Document {
	return dc.doc
}

type SearchResult struct {
	Cards []Card
	Meta  SearchMeta
}

type SearchMeta struct {
	Page PageMeta `json:"page"`
}

type PageMeta struct {
	Total int `json:"total"`

	// Cursor continues the search after this page, nil on the last page.
	Cursor *string `json:"cursor,omitempty"`
}

// MarshalJSON renders the result as a JSON:API collection document.
func (sr *SearchResult) MarshalJSON() ([]byte, error) {
	data := make([]cardschema.Resource, 0, len(sr.Cards))
	for _, card := range sr.Cards {
		data = append(data, card.Document().Data)
	}
	return json.Marshal(struct {
		Data []cardschema.Resource `json:"data"`
		Meta SearchMeta            `json:"meta"`
	}{
		Data: data,
		Meta: sr.Meta,
	})
}
