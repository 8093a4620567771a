package pgsearch

import (
	"context"
	"fmt"

	"github.com/cardstack/pgsearch/cardschema"
	"github.com/cardstack/pgsearch/pgstore"
	"github.com/cardstack/pgsearch/pindex"
	"github.com/cardstack/pgsearch/pquery"
)

type ClientSpec struct {
	Table pgstore.CardTable

	// Loader instantiates cards from pristine documents, defaults to the
	// JSON:API loader.
	Loader pquery.CardLoader

	DefaultPageSize int
	MaxPageSize     int

	// DSN opens the dedicated connection each Listen holds. Listen fails when
	// it is not set.
	DSN string
}

// Client searches, loads and indexes cards in a single cards table.
type Client struct {
	db       pgstore.Transactor
	table    pgstore.CardTable
	searcher *pquery.Searcher
	builder  *pindex.SearchDocBuilder
	notifier *pquery.Notifier
}

func New(db pgstore.Transactor, schema cardschema.Service, spec ClientSpec) (*Client, error) {
	searcher, err := pquery.NewSearcher(pquery.SearchSpec{
		Table:           spec.Table,
		Schema:          schema,
		Loader:          spec.Loader,
		DefaultPageSize: spec.DefaultPageSize,
		MaxPageSize:     spec.MaxPageSize,
	})
	if err != nil {
		return nil, err
	}

	client := &Client{
		db:       db,
		table:    spec.Table,
		searcher: searcher,
		builder:  pindex.NewSearchDocBuilder(schema),
	}
	if spec.DSN != "" {
		client.notifier = pquery.NewNotifier(spec.DSN)
	}
	return client, nil
}

func (c *Client) SetQueryLogger(logger pquery.QueryLogger) {
	c.searcher.SetQueryLogger(logger)
}

// Get loads the card with id in the realm of the type context.
func (c *Client) Get(ctx context.Context, typeContext cardschema.CardID, id string) (pquery.Card, error) {
	return c.searcher.Get(ctx, c.db, typeContext, id)
}

// Search runs the query against every card in the table. The type context
// only resolves field paths, callers limit results to a realm with a
// csRealm filter.
func (c *Client) Search(ctx context.Context, typeContext cardschema.CardID, query pquery.Query) (*pquery.SearchResult, error) {
	return c.searcher.Search(ctx, c.db, typeContext, query)
}

func (c *Client) BeginBatch() *pindex.Batch {
	return pindex.NewBatch(c.db, c.table)
}

// Documents builds indexable documents from card attributes, using the same
// schema as searches.
func (c *Client) Documents() *pindex.SearchDocBuilder {
	return c.builder
}

func (c *Client) Listen(ctx context.Context, channel string, onNotify func(pquery.Notification), action func(context.Context) error) error {
	if c.notifier == nil {
		return fmt.Errorf("client has no DSN to listen with")
	}
	return c.notifier.Listen(ctx, channel, onNotify, action)
}

func (c *Client) Notify(ctx context.Context, channel string, payload string) error {
	return pquery.Notify(ctx, c.db, channel, payload)
}
