package pquery

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cardstack/pgsearch/cardschema"
	"github.com/cardstack/pgsearch/pgstore"
	"github.com/pentops/log.go/log"
	"github.com/pentops/sqrlx.go/sqrlx"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Searcher struct {
	table    pgstore.CardTable
	resolver *Resolver
	filters  filterCompiler
	loader   CardLoader

	defaultPageSize int
	maxPageSize     int

	queryLogger QueryLogger
}

func NewSearcher(spec SearchSpec) (*Searcher, error) {
	if spec.Schema == nil {
		return nil, fmt.Errorf("search spec requires a schema")
	}
	if err := spec.Table.Validate(); err != nil {
		return nil, err
	}

	ss := &Searcher{
		table:           spec.Table,
		resolver:        NewResolver(spec.Schema, spec.Table),
		filters:         filterCompiler{table: spec.Table},
		loader:          spec.Loader,
		defaultPageSize: spec.DefaultPageSize,
		maxPageSize:     spec.MaxPageSize,
	}
	if ss.loader == nil {
		ss.loader = JSONAPILoader{}
	}
	if ss.defaultPageSize <= 0 {
		ss.defaultPageSize = DefaultPageSize
	}
	if ss.maxPageSize <= 0 {
		ss.maxPageSize = DefaultMaxPageSize
	}
	if ss.defaultPageSize > ss.maxPageSize {
		return nil, fmt.Errorf("default page size %d exceeds max page size %d", ss.defaultPageSize, ss.maxPageSize)
	}
	return ss, nil
}

func (ss *Searcher) SetQueryLogger(logger QueryLogger) {
	ss.queryLogger = logger
}

func (ss *Searcher) logQuery(query sqrlx.Sqlizer) {
	if ss.queryLogger != nil {
		ss.queryLogger(query)
	}
}

func (ss *Searcher) getPageSize(page Page) (int, error) {
	if page.Size < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "page size must be positive, got %d", page.Size)
	}
	if page.Size == 0 {
		return ss.defaultPageSize, nil
	}
	if page.Size > ss.maxPageSize {
		return 0, status.Errorf(codes.InvalidArgument, "page size exceeds the maximum allowed size of %d", ss.maxPageSize)
	}
	return page.Size, nil
}

// conditions are the card conditions of the query, excluding the cursor.
func (ss *Searcher) conditions(typeContext cardschema.CardID, query Query) ([]pgstore.Expression, error) {
	conditions := []pgstore.Expression{}
	if query.Filter != nil {
		condition, err := ss.filters.condition(query.Filter, typeContext)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, condition)
	}
	if query.QueryString != "" {
		conditions = append(conditions, ss.queryStringCondition(query.QueryString))
	}
	return conditions, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (ss *Searcher) queryStringCondition(queryString string) pgstore.Expression {
	return pgstore.Concat(
		pgstore.SQL("exists", "(", "select 1 from jsonb_each_text("),
		ss.table.ColumnExpression(pgstore.ColSearchDoc),
		pgstore.SQL(")", "as kv where kv.value ILIKE"),
		pgstore.Expression{pgstore.Bind("%" + likeEscaper.Replace(queryString) + "%")},
		pgstore.SQL(")"),
	)
}

func (ss *Searcher) from() pgstore.Expression {
	return pgstore.Expression{pgstore.Raw("from"), pgstore.MustSafeName(ss.table.TableName())}
}

type searchQueries struct {
	pageSize int
	sorts    *Sorts
	count    pgstore.Expression
	page     pgstore.Expression
}

// buildQueries resolves the count query, which ignores the cursor, and the
// page query, which selects one extra row to detect a following page.
func (ss *Searcher) buildQueries(ctx context.Context, typeContext cardschema.CardID, query Query) (*searchQueries, error) {
	pageSize, err := ss.getPageSize(query.Page)
	if err != nil {
		return nil, err
	}

	sorts, err := NewSorts(typeContext, query.Sort)
	if err != nil {
		return nil, err
	}

	conditions, err := ss.conditions(typeContext, query)
	if err != nil {
		return nil, err
	}

	countQuery, err := ss.resolver.Resolve(ctx, pgstore.Concat(
		pgstore.SQL("select count(*)"),
		ss.from(),
		pgstore.SQL("where"),
		pgstore.Every(conditions),
	))
	if err != nil {
		return nil, err
	}

	pageConditions := conditions
	if query.Page.Cursor != "" {
		after, err := sorts.AfterExpression(query.Page.Cursor)
		if err != nil {
			return nil, err
		}
		pageConditions = append(pageConditions[:len(pageConditions):len(pageConditions)], after)
	}

	pageQuery, err := ss.resolver.Resolve(ctx, pgstore.Concat(
		pgstore.SQL("select"),
		ss.table.ColumnExpression(pgstore.ColPristineDoc),
		pgstore.SQL(","),
		sorts.CursorColumns(),
		ss.from(),
		pgstore.SQL("where"),
		pgstore.Every(pageConditions),
		sorts.OrderExpression(),
		pgstore.Expression{pgstore.Raw("limit"), pgstore.Bind(pageSize + 1)},
	))
	if err != nil {
		return nil, err
	}

	return &searchQueries{
		pageSize: pageSize,
		sorts:    sorts,
		count:    countQuery,
		page:     pageQuery,
	}, nil
}

// Search returns a page of the cards matching the query, with the total
// number of matches.
func (ss *Searcher) Search(ctx context.Context, db Transactor, typeContext cardschema.CardID, query Query) (*SearchResult, error) {
	queries, err := ss.buildQueries(ctx, typeContext, query)
	if err != nil {
		return nil, err
	}
	pageSize := queries.pageSize
	sorts := queries.sorts
	countQuery := queries.count
	pageQuery := queries.page

	ss.logQuery(countQuery)
	ss.logQuery(pageQuery)

	log.WithFields(ctx, map[string]interface{}{
		"realm":    typeContext.Realm,
		"pageSize": pageSize,
	}).Debug("card search")

	var total int
	type pageRow struct {
		pristineDoc []byte
		cursor      []sql.NullString
	}
	rows := []pageRow{}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return db.Transact(egCtx, &sqrlx.TxOptions{
			ReadOnly:  true,
			Isolation: sql.LevelReadCommitted,
		}, func(ctx context.Context, tx sqrlx.Transaction) error {
			if err := tx.QueryRow(ctx, countQuery).Scan(&total); err != nil {
				return fmt.Errorf("count query: %w", err)
			}
			return nil
		})
	})
	eg.Go(func() error {
		return db.Transact(egCtx, &sqrlx.TxOptions{
			ReadOnly:  true,
			Isolation: sql.LevelReadCommitted,
		}, func(ctx context.Context, tx sqrlx.Transaction) error {
			res, err := tx.Query(ctx, pageQuery)
			if err != nil {
				return fmt.Errorf("page query: %w", err)
			}
			defer res.Close()

			for res.Next() {
				row := pageRow{
					cursor: make([]sql.NullString, sorts.Len()),
				}
				dest := make([]interface{}, 0, sorts.Len()+1)
				dest = append(dest, &row.pristineDoc)
				for idx := range row.cursor {
					dest = append(dest, &row.cursor[idx])
				}
				if err := res.Scan(dest...); err != nil {
					return fmt.Errorf("scan page row: %w", err)
				}
				rows = append(rows, row)
			}
			return res.Err()
		})
	})
	if err := eg.Wait(); err != nil {
		stmt, _, _ := pageQuery.ToSql()
		log.WithField(ctx, "query", stmt).Error("card search")
		return nil, err
	}

	result := &SearchResult{
		Meta: SearchMeta{
			Page: PageMeta{
				Total: total,
			},
		},
	}

	if len(rows) > pageSize {
		rows = rows[:pageSize]
		cursor, err := sorts.Cursor(rows[len(rows)-1].cursor)
		if err != nil {
			return nil, err
		}
		result.Meta.Page.Cursor = &cursor
	}
	result.Cards = make([]Card, 0, len(rows))

	for _, row := range rows {
		card, err := ss.loader.Instantiate(ctx, row.pristineDoc)
		if err != nil {
			return nil, fmt.Errorf("instantiate card: %w", err)
		}
		result.Cards = append(result.Cards, card)
	}

	return result, nil
}
