package pindex

import (
	"context"
	"fmt"
	"sort"

	"github.com/cardstack/pgsearch/cardschema"
)

// SearchDocBuilder builds search documents from card attributes. Each field
// is keyed by its fully qualified name, and card-typed fields nest the
// search documents of their values.
type SearchDocBuilder struct {
	schema cardschema.Service
}

func NewSearchDocBuilder(schema cardschema.Service) *SearchDocBuilder {
	return &SearchDocBuilder{
		schema: schema,
	}
}

// Document builds the indexed form of a card adopting from adoptsFrom.
func (sb *SearchDocBuilder) Document(ctx context.Context, id cardschema.CardID, adoptsFrom cardschema.CardID, attributes map[string]interface{}) (*Document, error) {
	id = id.Canonical()
	searchDoc, err := sb.SearchDoc(ctx, id, adoptsFrom, attributes)
	if err != nil {
		return nil, err
	}
	return &Document{
		ID:          id,
		PristineDoc: cardschema.NewDocument(id, &adoptsFrom, attributes),
		SearchDoc:   searchDoc,
	}, nil
}

func (sb *SearchDocBuilder) SearchDoc(ctx context.Context, id cardschema.CardID, adoptsFrom cardschema.CardID, attributes map[string]interface{}) (map[string]interface{}, error) {
	id = id.Canonical()

	doc, err := sb.fields(ctx, adoptsFrom, attributes)
	if err != nil {
		return nil, fmt.Errorf("search doc for %s: %w", id, err)
	}

	ancestors, err := sb.schema.Ancestors(ctx, adoptsFrom)
	if err != nil {
		return nil, fmt.Errorf("search doc for %s: %w", id, err)
	}
	chain := make([]string, 0, len(ancestors))
	for _, ancestor := range ancestors {
		chain = append(chain, ancestor.URL())
	}

	doc[cardschema.MetaRealm] = id.Realm
	doc[cardschema.MetaOriginalRealm] = id.OriginalRealm
	doc[cardschema.MetaID] = id.ID
	doc[cardschema.MetaAdoptionChain] = chain
	return doc, nil
}

func (sb *SearchDocBuilder) fields(ctx context.Context, typeContext cardschema.CardID, attributes map[string]interface{}) (map[string]interface{}, error) {
	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := make(map[string]interface{}, len(attributes)+4)
	for _, name := range names {
		value := attributes[name]
		if cardschema.IsMetaField(name) {
			doc[name] = value
			continue
		}

		field, err := sb.schema.Field(ctx, typeContext, name)
		if err != nil {
			return nil, err
		}

		if field.Card == nil || value == nil {
			doc[field.SearchKey()] = value
			continue
		}

		nested, err := sb.nested(ctx, field, value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		doc[field.SearchKey()] = nested
	}
	return doc, nil
}

func (sb *SearchDocBuilder) nested(ctx context.Context, field *cardschema.Field, value interface{}) (interface{}, error) {
	if !field.IsPlural() {
		attributes, ok := value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("card value must be an object, got %T", value)
		}
		return sb.fields(ctx, *field.Card, attributes)
	}

	items, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("plural card value must be a list, got %T", value)
	}
	out := make([]interface{}, 0, len(items))
	for idx, item := range items {
		attributes, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("item %d must be an object, got %T", idx, item)
		}
		doc, err := sb.fields(ctx, *field.Card, attributes)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", idx, err)
		}
		out = append(out, doc)
	}
	return out, nil
}
