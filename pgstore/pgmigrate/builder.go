package pgmigrate

import (
	"fmt"

	"github.com/cardstack/pgsearch/pgstore"
)

type CreateTableBuilder struct {
	name       string
	constraint string
	columns    []*column
	indexes    []*IndexBuilder
}

func CreateTable(name string) *CreateTableBuilder {
	return &CreateTableBuilder{
		name: name,
	}
}

// Constraint names the primary key constraint, defaults to <table>_pk
func (t *CreateTableBuilder) Constraint(name string) *CreateTableBuilder {
	t.constraint = name
	return t
}

func (t *CreateTableBuilder) Column(name string, typ ColumnType, options ...ColumnOption) *CreateTableBuilder {
	column := &column{
		name:     name,
		typeName: typ,
	}
	for _, opt := range options {
		opt(column)
	}
	t.columns = append(t.columns, column)
	return t
}

func (t *CreateTableBuilder) Index(name string, columns ...string) *IndexBuilder {
	idx := &IndexBuilder{
		name:    name,
		columns: columns,
	}
	t.indexes = append(t.indexes, idx)
	return idx
}

type IndexBuilder struct {
	name    string
	method  string
	columns []string
}

// Using sets the index access method, e.g. gin
func (ib *IndexBuilder) Using(method string) *IndexBuilder {
	ib.method = method
	return ib
}

type column struct {
	name string

	primaryKey bool // Multi Primary Key is possible
	notNull    bool

	typeName ColumnType
}

type ColumnOption func(*column)

// PrimaryKey adds this column as a primary key, if there are multiple
// primary keys, they will be added as a composite key
func PrimaryKey(c *column) {
	c.primaryKey = true
}

func NotNull(c *column) {
	c.notNull = true
}

type ColumnType string

const (
	Text   ColumnType = "text"
	JSONB  ColumnType = "jsonb"
	BigInt ColumnType = "bigint"
)

type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
	Constraint string
	Indexes    []Index
}

type Column struct {
	Name  string
	Type  string
	Flags []string
}

type Index struct {
	Name    string
	Method  string
	Columns []string
}

func (t *CreateTableBuilder) Build() (*Table, error) {
	if _, err := pgstore.SafeName(t.name); err != nil {
		return nil, fmt.Errorf("table: %w", err)
	}

	table := &Table{
		Name:       t.name,
		Constraint: t.constraint,
	}
	if table.Constraint == "" {
		table.Constraint = t.name + "_pk"
	}

	for _, col := range t.columns {
		if _, err := pgstore.SafeName(col.name); err != nil {
			return nil, fmt.Errorf("table %s column: %w", t.name, err)
		}
		column := Column{
			Name: col.name,
			Type: string(col.typeName),
		}
		if col.primaryKey {
			table.PrimaryKey = append(table.PrimaryKey, col.name)
		}
		if col.notNull {
			column.Flags = append(column.Flags, "NOT NULL")
		}
		table.Columns = append(table.Columns, column)
	}

	for _, idx := range t.indexes {
		if len(idx.columns) == 0 {
			return nil, fmt.Errorf("table %s index %s has no columns", t.name, idx.name)
		}
		table.Indexes = append(table.Indexes, Index{
			Name:    fmt.Sprintf("%s_%s", t.name, idx.name),
			Method:  idx.method,
			Columns: idx.columns,
		})
	}

	return table, nil
}

func (t *CreateTableBuilder) ToSQL() (string, error) {
	p := newPrinter()
	if err := p.CreateTable(t); err != nil {
		return "", err
	}

	return string(p.bytes()), nil
}

// CardTable is the cards table: one row per (realm, original realm, id)
// holding the pristine and search documents and the indexing generation.
func CardTable(spec pgstore.CardTable) *CreateTableBuilder {
	realm := spec.Column(pgstore.ColRealm)
	generation := spec.Column(pgstore.ColGeneration)
	searchDoc := spec.Column(pgstore.ColSearchDoc)

	tb := CreateTable(spec.TableName()).
		Constraint(spec.ConstraintName()).
		Column(realm, Text, PrimaryKey, NotNull).
		Column(spec.Column(pgstore.ColOriginalRealm), Text, PrimaryKey, NotNull).
		Column(spec.Column(pgstore.ColID), Text, PrimaryKey, NotNull).
		Column(spec.Column(pgstore.ColPristineDoc), JSONB).
		Column(searchDoc, JSONB).
		Column(generation, BigInt)

	tb.Index("realm_generation", realm, generation)
	tb.Index(searchDoc, searchDoc).Using("gin")
	return tb
}

func PrintCreateMigration(tables ...*CreateTableBuilder) ([]byte, error) {
	p := newPrinter()
	p.p("-- +goose Up")
	p.setGap()
	for _, table := range tables {
		if err := p.CreateTable(table); err != nil {
			return nil, err
		}
	}
	p.p("-- +goose Down")
	p.setGap()
	for idx := len(tables) - 1; idx >= 0; idx-- {
		table := tables[idx]
		p.DropTable(table.name)
	}

	return p.bytes(), nil
}
