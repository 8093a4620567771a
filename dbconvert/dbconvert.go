package dbconvert

import (
	"fmt"

	sq "github.com/elgris/sqrl"
	"github.com/elgris/sqrl/pg"

	"github.com/cardstack/pgsearch/cardschema"
	"github.com/cardstack/pgsearch/pgstore"
)

// CardKeyEq matches the row of a card by primary key.
func CardKeyEq(table pgstore.CardTable, id cardschema.CardID) sq.Eq {
	id = id.Canonical()
	return sq.Eq{
		table.Column(pgstore.ColRealm):         id.Realm,
		table.Column(pgstore.ColOriginalRealm): id.OriginalRealm,
		table.Column(pgstore.ColID):            id.ID,
	}
}

// FieldsToEqMap builds an equality condition on logical column names,
// qualified by the table name.
func FieldsToEqMap(table pgstore.CardTable, m map[string]interface{}) (sq.Eq, error) {
	out := sq.Eq{}
	for k, v := range m {
		column := table.Column(k)
		if _, err := pgstore.SafeName(column); err != nil {
			return nil, err
		}
		fullKey := fmt.Sprintf("%s.%s", table.TableName(), column)
		out[fullKey] = v
	}
	return out, nil
}

// JSONB binds a value as a jsonb parameter.
func JSONB(value interface{}) pgstore.Fragment {
	return pgstore.Fragment{Sqlizer: pg.JSONB(value)}
}
