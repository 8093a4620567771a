package pquery

import (
	"github.com/cardstack/pgsearch/cardschema"
	"github.com/cardstack/pgsearch/pgstore"
	"github.com/pentops/sqrlx.go/sqrlx"
)

type Transactor = pgstore.Transactor

type QueryLogger func(sqrlx.Sqlizer)

// Query is a card search request.
type Query struct {
	Filter *Filter `json:"filter,omitempty"`

	// QueryString matches cards with any top level search document value
	// containing it, ignoring case.
	QueryString string `json:"q,omitempty"`

	Sort SortSpec `json:"sort,omitempty"`
	Page Page     `json:"page,omitempty"`
}

type Page struct {
	Size   int    `json:"size,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

const (
	DefaultPageSize    = 10
	DefaultMaxPageSize = 100
)

type SearchSpec struct {
	Table  pgstore.CardTable
	Schema cardschema.Service

	// Loader instantiates cards from pristine documents, defaults to
	// JSONAPILoader.
	Loader CardLoader

	// DefaultPageSize applies when the query has no page size, defaults to
	// 10.
	DefaultPageSize int

	// MaxPageSize limits requested page sizes, defaults to 100. There is
	// always a limit.
	MaxPageSize int
}
