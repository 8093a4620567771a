package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cardstack/pgsearch"
	"github.com/cardstack/pgsearch/cardschema"
	"github.com/cardstack/pgsearch/dataload"
	"github.com/cardstack/pgsearch/pgstore"
	"github.com/cardstack/pgsearch/pgstore/pgmigrate"
	"github.com/cardstack/pgsearch/pquery"
	_ "github.com/lib/pq"
	"github.com/pentops/log.go/log"
	"github.com/pentops/runner/commander"
	"github.com/pentops/sqrlx.go/sqrlx"
	"github.com/pressly/goose"
)

var Version = "dev"

func main() {
	cmdGroup := commander.NewCommandSet()

	cmdGroup.Add("migration", commander.NewCommand(runMigration))
	cmdGroup.Add("load", commander.NewCommand(runLoad))
	cmdGroup.Add("search", commander.NewCommand(runSearch))
	cmdGroup.Add("get", commander.NewCommand(runGet))
	cmdGroup.Add("listen", commander.NewCommand(runListen))
	cmdGroup.RunMain("cardtool", Version)
}

type dbConfig struct {
	PostgresURL string
	Table       string
}

func (cfg dbConfig) table() pgstore.CardTable {
	return pgstore.CardTable{Name: cfg.Table}
}

func (cfg dbConfig) open(ctx context.Context) (*sql.DB, error) {
	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("POSTGRES_URL is not set")
	}
	conn, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return conn, nil
}

func (cfg dbConfig) client(ctx context.Context, typesFile string) (*pgsearch.Client, func(), error) {
	typeData, err := os.ReadFile(typesFile)
	if err != nil {
		return nil, nil, fmt.Errorf("reading card types: %w", err)
	}
	registry, err := cardschema.LoadRegistry(typeData)
	if err != nil {
		return nil, nil, err
	}

	conn, err := cfg.open(ctx)
	if err != nil {
		return nil, nil, err
	}

	client, err := pgsearch.New(sqrlx.NewPostgres(conn), registry, pgsearch.ClientSpec{
		Table: cfg.table(),
		DSN:   cfg.PostgresURL,
	})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	client.SetQueryLogger(func(query sqrlx.Sqlizer) {
		stmt, _, err := query.ToSql()
		if err != nil {
			log.WithError(ctx, err).Error("query")
			return
		}
		log.WithField(ctx, "query", stmt).Debug("query")
	})

	return client, func() { conn.Close() }, nil
}

func runMigration(ctx context.Context, cfg struct {
	PostgresURL string `env:"POSTGRES_URL" flag:"postgres-url" default:""`
	Table       string `flag:"table" default:"cards" description:"Name of the cards table"`
	Apply       bool   `flag:"apply" description:"Run the migrations in dir against the database after printing"`
	Dir         string `flag:"dir" default:"./ext/db" description:"Goose migrations directory"`
}) error {
	db := dbConfig{PostgresURL: cfg.PostgresURL, Table: cfg.Table}
	migrationFile, err := pgmigrate.PrintCreateMigration(pgmigrate.CardTable(db.table()))
	if err != nil {
		return fmt.Errorf("build migration file: %w", err)
	}

	fmt.Println(string(migrationFile))

	if !cfg.Apply {
		return nil
	}

	conn, err := db.open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(conn, cfg.Dir)
}

func runLoad(ctx context.Context, cfg struct {
	PostgresURL string `env:"POSTGRES_URL" flag:"postgres-url" default:""`
	Table       string `flag:"table" default:"cards" description:"Name of the cards table"`
	Types       string `flag:"types" description:"Card type registry YAML file"`
	Cards       string `flag:"cards" description:"Card fixture YAML file"`
	Notify      string `flag:"notify" default:"" description:"Channel notified with the reindexed realms"`
}) error {
	db := dbConfig{PostgresURL: cfg.PostgresURL, Table: cfg.Table}
	client, closeDB, err := db.client(ctx, cfg.Types)
	if err != nil {
		return err
	}
	defer closeDB()

	cardData, err := os.ReadFile(cfg.Cards)
	if err != nil {
		return fmt.Errorf("reading cards: %w", err)
	}

	docs, err := dataload.DecodeCards(ctx, client.Documents(), cardData)
	if err != nil {
		return err
	}

	if err := dataload.Reindex(ctx, client.BeginBatch(), docs); err != nil {
		return err
	}

	if cfg.Notify == "" {
		return nil
	}
	return client.Notify(ctx, cfg.Notify, strings.Join(dataload.Realms(docs), " "))
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runSearch(ctx context.Context, cfg struct {
	PostgresURL string `env:"POSTGRES_URL" flag:"postgres-url" default:""`
	Table       string `flag:"table" default:"cards" description:"Name of the cards table"`
	Types       string `flag:"types" description:"Card type registry YAML file"`
	TypeRealm   string `flag:"type-realm" description:"Realm of the card type fields resolve against"`
	Type        string `flag:"type" description:"Card type id"`
	Query       string `flag:"query" default:"{}" description:"Search query as JSON"`
}) error {
	db := dbConfig{PostgresURL: cfg.PostgresURL, Table: cfg.Table}
	query := pquery.Query{}
	if err := json.Unmarshal([]byte(cfg.Query), &query); err != nil {
		return fmt.Errorf("parsing query: %w", err)
	}

	client, closeDB, err := db.client(ctx, cfg.Types)
	if err != nil {
		return err
	}
	defer closeDB()

	res, err := client.Search(ctx, cardschema.CardID{
		Realm: cfg.TypeRealm,
		ID:    cfg.Type,
	}, query)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runGet(ctx context.Context, cfg struct {
	PostgresURL   string `env:"POSTGRES_URL" flag:"postgres-url" default:""`
	Table         string `flag:"table" default:"cards" description:"Name of the cards table"`
	Types         string `flag:"types" description:"Card type registry YAML file"`
	Realm         string `flag:"realm" description:"Realm the card is indexed in"`
	OriginalRealm string `flag:"original-realm" default:"" description:"Realm the card came from, defaults to realm"`
	ID            string `flag:"id" description:"Card id"`
}) error {
	db := dbConfig{PostgresURL: cfg.PostgresURL, Table: cfg.Table}
	client, closeDB, err := db.client(ctx, cfg.Types)
	if err != nil {
		return err
	}
	defer closeDB()

	card, err := client.Get(ctx, cardschema.CardID{
		Realm:         cfg.Realm,
		OriginalRealm: cfg.OriginalRealm,
	}, cfg.ID)
	if err != nil {
		return err
	}
	return printJSON(card.Document())
}

func runListen(ctx context.Context, cfg struct {
	PostgresURL string `env:"POSTGRES_URL" flag:"postgres-url" default:""`
	Table       string `flag:"table" default:"cards" description:"Name of the cards table"`
	Types       string `flag:"types" description:"Card type registry YAML file"`
	Channel     string `flag:"channel" default:"cards" description:"Channel to listen on"`
}) error {
	db := dbConfig{PostgresURL: cfg.PostgresURL, Table: cfg.Table}
	client, closeDB, err := db.client(ctx, cfg.Types)
	if err != nil {
		return err
	}
	defer closeDB()

	return client.Listen(ctx, cfg.Channel, func(n pquery.Notification) {
		fmt.Printf("%s: %s\n", n.Channel, n.Payload)
	}, func(ctx context.Context) error {
		log.WithField(ctx, "channel", cfg.Channel).Info("listening")
		<-ctx.Done()
		return nil
	})
}
