package pindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/cardstack/pgsearch/cardschema"
	"github.com/cardstack/pgsearch/dbconvert"
	"github.com/cardstack/pgsearch/pgstore"
	sq "github.com/elgris/sqrl"
	"github.com/pentops/log.go/log"
	"github.com/pentops/sqrlx.go/sqrlx"
)

var ErrNoGeneration = errors.New("no generation created for realm")

// maxGeneration keeps generations within the integers a float64 represents
// exactly.
const maxGeneration = 1 << 53

// Document is a card as stored in the index.
type Document struct {
	ID          cardschema.CardID
	PristineDoc *cardschema.Document
	SearchDoc   map[string]interface{}
}

// Batch writes cards to the index. A batch which creates a generation for a
// realm tags every card it saves in that realm, so that a full reindex can
// delete every card it did not save.
type Batch struct {
	db    pgstore.Transactor
	table pgstore.CardTable

	lock        sync.Mutex
	generations map[string]int64
}

func NewBatch(db pgstore.Transactor, table pgstore.CardTable) *Batch {
	return &Batch{
		db:          db,
		table:       table,
		generations: map[string]int64{},
	}
}

// CreateGeneration starts a new generation for the realm, replacing any the
// batch created before.
func (b *Batch) CreateGeneration(ctx context.Context, realm string) int64 {
	generation := rand.Int64N(maxGeneration)

	b.lock.Lock()
	b.generations[realm] = generation
	b.lock.Unlock()

	log.WithFields(ctx, map[string]interface{}{
		"realm":      realm,
		"generation": generation,
	}).Info("created index generation")
	return generation
}

func (b *Batch) generation(realm string) (int64, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()
	generation, ok := b.generations[realm]
	return generation, ok
}

func (b *Batch) transact(ctx context.Context, callback sqrlx.Callback) error {
	return b.db.Transact(ctx, &sqrlx.TxOptions{
		Isolation: sql.LevelReadCommitted,
	}, callback)
}

// Save inserts or replaces the card.
func (b *Batch) Save(ctx context.Context, doc *Document) error {
	id := doc.ID.Canonical()

	var generation interface{}
	if gen, ok := b.generation(id.Realm); ok {
		generation = gen
	}

	upsert, err := pgstore.Upsert(b.table.TableName(), b.table.ConstraintName(), []pgstore.ColumnValue{
		{Column: b.table.Column(pgstore.ColRealm), Value: pgstore.Bind(id.Realm)},
		{Column: b.table.Column(pgstore.ColOriginalRealm), Value: pgstore.Bind(id.OriginalRealm)},
		{Column: b.table.Column(pgstore.ColID), Value: pgstore.Bind(id.ID)},
		{Column: b.table.Column(pgstore.ColPristineDoc), Value: dbconvert.JSONB(doc.PristineDoc)},
		{Column: b.table.Column(pgstore.ColSearchDoc), Value: dbconvert.JSONB(doc.SearchDoc)},
		{Column: b.table.Column(pgstore.ColGeneration), Value: pgstore.Bind(generation)},
	})
	if err != nil {
		return err
	}

	if err := b.transact(ctx, func(ctx context.Context, tx sqrlx.Transaction) error {
		_, err := tx.Exec(ctx, upsert)
		return err
	}); err != nil {
		return fmt.Errorf("save card %s: %w", id, err)
	}

	log.WithFields(ctx, map[string]interface{}{
		"realm":         id.Realm,
		"originalRealm": id.OriginalRealm,
		"id":            id.ID,
	}).Debug("saved card")
	return nil
}

// Delete removes the card, if it exists.
func (b *Batch) Delete(ctx context.Context, id cardschema.CardID) error {
	id = id.Canonical()
	if err := b.transact(ctx, func(ctx context.Context, tx sqrlx.Transaction) error {
		_, err := tx.Delete(ctx, sq.Delete(b.table.TableName()).Where(dbconvert.CardKeyEq(b.table, id)))
		return err
	}); err != nil {
		return fmt.Errorf("delete card %s: %w", id, err)
	}
	return nil
}

// DeleteOlderGenerations removes every card in the realm which was not saved
// under the generation this batch created for it.
func (b *Batch) DeleteOlderGenerations(ctx context.Context, realm string) error {
	generation, ok := b.generation(realm)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoGeneration, realm)
	}

	realmEq, err := dbconvert.FieldsToEqMap(b.table, map[string]interface{}{
		pgstore.ColRealm: realm,
	})
	if err != nil {
		return err
	}
	generationColumn := b.table.Column(pgstore.ColGeneration)

	var deleted int64
	if err := b.transact(ctx, func(ctx context.Context, tx sqrlx.Transaction) error {
		res, err := tx.Delete(ctx, sq.Delete(b.table.TableName()).
			Where(realmEq).
			Where(sq.Or{
				sq.Expr(generationColumn+" <> ?", generation),
				sq.Eq{generationColumn: nil},
			}))
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	}); err != nil {
		return fmt.Errorf("delete older generations in %s: %w", realm, err)
	}

	log.WithFields(ctx, map[string]interface{}{
		"realm":      realm,
		"generation": generation,
		"deleted":    deleted,
	}).Info("deleted older generations")
	return nil
}

// Done ends the batch. Each write commits on its own, so there is nothing
// left to flush.
func (b *Batch) Done(ctx context.Context) error {
	return nil
}
