package integration

import (
	"context"
	"os"
	"testing"

	"github.com/cardstack/pgsearch"
	"github.com/cardstack/pgsearch/cardschema"
	"github.com/cardstack/pgsearch/pindex"
	"github.com/cardstack/pgsearch/pquery"
	"github.com/google/uuid"
	"github.com/pentops/flowtest"
	"github.com/pentops/log.go/log"
	"github.com/pentops/pgtest.go/pgtest"
	"github.com/pentops/sqrlx.go/sqrlx"
)

const migrationsDir = "../../ext/db"

const typesRealm = "https://types.example"

const cardTypes = `
cardTypes:
  - id: {realm: "https://types.example", id: thing}
    fields:
      - name: title
      - name: tags
        plural: true
  - id: {realm: "https://types.example", id: person}
    adoptsFrom: {realm: "https://types.example", id: thing}
    fields:
      - name: name
      - name: nickname
        type: case-insensitive-string
      - name: rank
        type: integer
      - name: address
        type: card
        card: {realm: "https://types.example", id: address}
      - name: pets
        type: card
        plural: true
        card: {realm: "https://types.example", id: pet}
  - id: {realm: "https://types.example", id: address}
    fields:
      - name: city
  - id: {realm: "https://types.example", id: pet}
    fields:
      - name: species
      - name: age
        type: integer
`

var (
	thingType  = cardschema.CardID{Realm: typesRealm, ID: "thing"}
	personType = cardschema.CardID{Realm: typesRealm, ID: "person"}
	petType    = cardschema.CardID{Realm: typesRealm, ID: "pet"}
)

type Universe struct {
	Client *pgsearch.Client

	// Realm is unique to the test, cards saved by the helpers are indexed
	// into it.
	Realm string
}

func NewUniverse(t *testing.T) (*flowtest.Stepper[*testing.T], *Universe) {
	t.Helper()

	dsn := os.Getenv("TEST_DB")
	if dsn == "" {
		t.Skip("TEST_DB is not set")
	}

	stepper := flowtest.NewStepper[*testing.T](t.Name())
	log.DefaultLogger = log.NewCallbackLogger(stepper.Log)

	conn := pgtest.GetTestDB(t, pgtest.WithDir(migrationsDir), pgtest.WithSchemaName("cardsearch"))
	db := sqrlx.NewPostgres(conn)

	registry, err := cardschema.LoadRegistry([]byte(cardTypes))
	if err != nil {
		t.Fatal(err.Error())
	}

	client, err := pgsearch.New(db, registry, pgsearch.ClientSpec{
		DSN:         dsn,
		MaxPageSize: 100,
	})
	if err != nil {
		t.Fatal(err.Error())
	}
	client.SetQueryLogger(func(query sqrlx.Sqlizer) {
		stmt, args, err := query.ToSql()
		if err != nil {
			stepper.Log("error", "query", map[string]interface{}{"error": err.Error()})
			return
		}
		stepper.Log("debug", "query", map[string]interface{}{
			"query": stmt,
			"args":  args,
		})
	})

	return stepper, &Universe{
		Client: client,
		Realm:  "https://" + uuid.NewString() + ".example",
	}
}

func (uu *Universe) CardID(id string) cardschema.CardID {
	return cardschema.CardID{
		Realm: uu.Realm,
		ID:    id,
	}
}

func (uu *Universe) Document(t flowtest.TB, id string, adoptsFrom cardschema.CardID, attributes map[string]interface{}) *pindex.Document {
	t.Helper()
	doc, err := uu.Client.Documents().Document(context.Background(), uu.CardID(id), adoptsFrom, attributes)
	if err != nil {
		t.Fatal(err.Error())
	}
	return doc
}

// SavePeople indexes person cards by id, without a generation.
func (uu *Universe) SavePeople(ctx context.Context, t flowtest.Asserter, people map[string]map[string]interface{}) {
	t.Helper()
	batch := uu.Client.BeginBatch()
	for id, attributes := range people {
		t.NoError(batch.Save(ctx, uu.Document(t, id, personType, attributes)))
	}
	t.NoError(batch.Done(ctx))
}

// InRealm restricts the filter to cards of the test realm.
func (uu *Universe) InRealm(filter *pquery.Filter) *pquery.Filter {
	realmFilter := pquery.Filter{
		Eq: map[string]interface{}{
			cardschema.MetaRealm: uu.Realm,
		},
	}
	if filter == nil {
		return &realmFilter
	}
	return &pquery.Filter{
		Every: []pquery.Filter{realmFilter, *filter},
	}
}

func (uu *Universe) Search(ctx context.Context, t flowtest.Asserter, query pquery.Query) *pquery.SearchResult {
	t.Helper()
	query.Filter = uu.InRealm(query.Filter)
	res, err := uu.Client.Search(ctx, personType, query)
	if err != nil {
		t.Fatal(err.Error())
	}
	return res
}

func cardIDs(res *pquery.SearchResult) []string {
	ids := make([]string, 0, len(res.Cards))
	for _, card := range res.Cards {
		ids = append(ids, card.CardID().ID)
	}
	return ids
}
