package dataload

import (
	"context"
	"fmt"
	"sort"

	"github.com/cardstack/pgsearch/cardschema"
	"github.com/cardstack/pgsearch/pindex"
	"github.com/pentops/log.go/log"
	yaml "gopkg.in/yaml.v3"
)

var cardKeys = map[string]struct{}{
	"realm":         {},
	"originalRealm": {},
	"id":            {},
	"adoptsFrom":    {},
	"attributes":    {},
}

func resolveAliases(node *yaml.Node) error {
	if node.Alias != nil {
		if node.Alias.Kind == yaml.AliasNode {
			return fmt.Errorf("line %d: alias of an alias", node.Line)
		}
		line := node.Line
		*node = *node.Alias
		node.Anchor = ""
		node.Line = line
	}

	for _, child := range node.Content {
		if err := resolveAliases(child); err != nil {
			return err
		}
	}

	return nil
}

func simplerMap(node *yaml.Node) (map[string]*yaml.Node, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("node is not a mapping")
	}

	pairs := map[string]*yaml.Node{}
	for idx := 0; idx < len(node.Content); idx += 2 {
		key, value := node.Content[idx], node.Content[idx+1]
		if key.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("key is not a scalar")
		}
		pairs[key.Value] = value
	}

	return pairs, nil
}

func scalar(pairs map[string]*yaml.Node, key string, required bool) (string, error) {
	node, ok := pairs[key]
	if !ok {
		if required {
			return "", fmt.Errorf("no %s node", key)
		}
		return "", nil
	}
	if node.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("%s at line %d is not a scalar", key, node.Line)
	}
	return node.Value, nil
}

// DecodeCards parses a card fixture file and builds the indexed form of each
// card. Anchors and aliases may be used to share attributes between cards.
//
//	cards:
//	  - realm: https://r1.example
//	    id: alice
//	    adoptsFrom: {realm: https://r1.example, id: person}
//	    attributes:
//	      name: Alice
func DecodeCards(ctx context.Context, builder *pindex.SearchDocBuilder, dataBytes []byte) ([]*pindex.Document, error) {
	dataFile := &yaml.Node{}
	if err := yaml.Unmarshal(dataBytes, dataFile); err != nil {
		return nil, err
	}
	if len(dataFile.Content) == 0 {
		return nil, fmt.Errorf("empty card file")
	}

	if err := resolveAliases(dataFile); err != nil {
		return nil, err
	}

	rootPairs, err := simplerMap(dataFile.Content[0])
	if err != nil {
		return nil, err
	}

	cardNodes, ok := rootPairs["cards"]
	if !ok {
		return nil, fmt.Errorf("no cards node")
	}
	if cardNodes.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("cards at line %d is not a list", cardNodes.Line)
	}

	docs := make([]*pindex.Document, 0, len(cardNodes.Content))

	for idx, node := range cardNodes.Content {
		doc, err := decodeCard(ctx, builder, node)
		if err != nil {
			return nil, fmt.Errorf("card %d at line %d: %w", idx, node.Line, err)
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

func decodeCard(ctx context.Context, builder *pindex.SearchDocBuilder, node *yaml.Node) (*pindex.Document, error) {
	asMap, err := simplerMap(node)
	if err != nil {
		return nil, err
	}
	for key := range asMap {
		if _, ok := cardKeys[key]; !ok {
			return nil, fmt.Errorf("unknown key %q", key)
		}
	}

	id := cardschema.CardID{}
	if id.Realm, err = scalar(asMap, "realm", true); err != nil {
		return nil, err
	}
	if id.ID, err = scalar(asMap, "id", true); err != nil {
		return nil, err
	}
	if id.OriginalRealm, err = scalar(asMap, "originalRealm", false); err != nil {
		return nil, err
	}

	adoptsNode, ok := asMap["adoptsFrom"]
	if !ok {
		return nil, fmt.Errorf("no adoptsFrom node")
	}
	adoptsFrom := cardschema.CardID{}
	if err := adoptsNode.Decode(&adoptsFrom); err != nil {
		return nil, fmt.Errorf("adoptsFrom: %w", err)
	}

	attributes := map[string]interface{}{}
	if attrNode, ok := asMap["attributes"]; ok {
		if err := attrNode.Decode(&attributes); err != nil {
			return nil, fmt.Errorf("attributes: %w", err)
		}
	}

	return builder.Document(ctx, id, adoptsFrom, attributes)
}

// Realms lists the distinct realms of the documents.
func Realms(docs []*pindex.Document) []string {
	seen := map[string]struct{}{}
	realms := []string{}
	for _, doc := range docs {
		if _, ok := seen[doc.ID.Realm]; ok {
			continue
		}
		seen[doc.ID.Realm] = struct{}{}
		realms = append(realms, doc.ID.Realm)
	}
	sort.Strings(realms)
	return realms
}

// Reindex saves the documents as a new generation of each realm they belong
// to, then deletes every card in those realms left from earlier generations.
func Reindex(ctx context.Context, batch *pindex.Batch, docs []*pindex.Document) error {
	realms := Realms(docs)
	for _, realm := range realms {
		batch.CreateGeneration(ctx, realm)
	}

	for _, doc := range docs {
		if err := batch.Save(ctx, doc); err != nil {
			return err
		}
	}

	for _, realm := range realms {
		if err := batch.DeleteOlderGenerations(ctx, realm); err != nil {
			return err
		}
	}

	log.WithFields(ctx, map[string]interface{}{
		"cards":  len(docs),
		"realms": realms,
	}).Info("reindexed cards")

	return batch.Done(ctx)
}
