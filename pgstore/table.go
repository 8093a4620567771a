package pgstore

import (
	"context"
	"fmt"

	"github.com/iancoleman/strcase"
	"github.com/pentops/sqrlx.go/sqrlx"
)

type Transactor interface {
	Transact(ctx context.Context, opts *sqrlx.TxOptions, callback sqrlx.Callback) error
}

// Logical column names of the cards table.
const (
	ColRealm         = "realm"
	ColOriginalRealm = "originalRealm"
	ColID            = "id"
	ColPristineDoc   = "pristineDoc"
	ColSearchDoc     = "searchDoc"
	ColGeneration    = "generation"
)

// CardTable names the table holding one row per (realm, originalRealm, id).
type CardTable struct {
	Name string

	// Constraint is the composite primary key constraint, the conflict target
	// for upserts. Defaults to <Name>_pk.
	Constraint string
}

const DefaultTableName = "cards"

func DefaultCardTable() CardTable {
	return CardTable{
		Name: DefaultTableName,
	}
}

func (ct CardTable) Validate() error {
	if _, err := SafeName(ct.TableName()); err != nil {
		return fmt.Errorf("table name: %w", err)
	}
	if _, err := SafeName(ct.ConstraintName()); err != nil {
		return fmt.Errorf("constraint name: %w", err)
	}
	return nil
}

func (ct CardTable) TableName() string {
	if ct.Name == "" {
		return DefaultTableName
	}
	return ct.Name
}

func (ct CardTable) ConstraintName() string {
	if ct.Constraint == "" {
		return ct.TableName() + "_pk"
	}
	return ct.Constraint
}

// Column maps a logical column name to the physical snake_case column.
func (ct CardTable) Column(logical string) string {
	return strcase.ToSnake(logical)
}

// ColumnExpression is Column as a Raw token.
func (ct CardTable) ColumnExpression(logical string) Expression {
	return Expression{MustSafeName(ct.Column(logical))}
}

// KeyColumns are the physical primary key columns in key order.
func (ct CardTable) KeyColumns() []string {
	return []string{
		ct.Column(ColRealm),
		ct.Column(ColOriginalRealm),
		ct.Column(ColID),
	}
}
