package pquery

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cardstack/pgsearch/cardschema"
	"github.com/cardstack/pgsearch/dbconvert"
	"github.com/cardstack/pgsearch/pgstore"
	sq "github.com/elgris/sqrl"
	"github.com/pentops/log.go/log"
	"github.com/pentops/sqrlx.go/sqrlx"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Get loads a single card by id in the realm of the type context.
func (ss *Searcher) Get(ctx context.Context, db Transactor, typeContext cardschema.CardID, id string) (Card, error) {
	key := cardschema.CardID{
		Realm:         typeContext.Realm,
		OriginalRealm: typeContext.OriginalRealm,
		ID:            id,
	}.Canonical()

	selectQuery := sq.Select(ss.table.Column(pgstore.ColPristineDoc)).
		From(ss.table.TableName()).
		Where(dbconvert.CardKeyEq(ss.table, key))

	ss.logQuery(selectQuery)

	found := [][]byte{}
	if err := db.Transact(ctx, &sqrlx.TxOptions{
		ReadOnly:  true,
		Isolation: sql.LevelReadCommitted,
	}, func(ctx context.Context, tx sqrlx.Transaction) error {
		rows, err := tx.Query(ctx, selectQuery)
		if err != nil {
			return fmt.Errorf("run select: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var doc []byte
			if err := rows.Scan(&doc); err != nil {
				return err
			}
			found = append(found, doc)
		}
		return rows.Err()
	}); err != nil {
		stmt, _, _ := selectQuery.ToSql()
		log.WithField(ctx, "query", stmt).Error("get card")
		return nil, fmt.Errorf("get card: %w", err)
	}

	switch len(found) {
	case 1:
	case 0:
		return nil, status.Errorf(codes.NotFound, "card %s not found", key)
	default:
		log.WithFields(ctx, map[string]interface{}{
			"realm":         key.Realm,
			"originalRealm": key.OriginalRealm,
			"id":            key.ID,
			"rows":          len(found),
		}).Error("card key matched more than one row")
		return nil, status.Errorf(codes.NotFound, "card %s not found", key)
	}

	return ss.loader.Instantiate(ctx, found[0])
}
