// Command auditctl prints the stored audit events of an entity as JSON lines.
//
// Usage:
//
//	auditctl -entity <id> [-db path] [-schema]
//
// Settings not given as flags come from the AUDIT_* environment, optionally
// loaded from a .env file in the working directory.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	audit "github.com/dr4tinymous/apihub-audit"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)

	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded")
	}

	cfg, err := audit.LoadConfig()
	if err != nil {
		log.WithField("error", err).Fatal("could not load configuration")
	}

	var (
		entityID  string
		dbPath    string
		checkOnly bool
		verbose   bool
	)
	flag.StringVar(&entityID, "entity", "", "entity id to print events for")
	flag.StringVar(&dbPath, "db", cfg.DBPath, "SQLite database path (default $AUDIT_DB_PATH)")
	flag.BoolVar(&checkOnly, "schema", false, "only report events whose parameters break their layout")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Parse()

	if verbose {
		log.SetLevel(log.DebugLevel)
	}
	if entityID == "" || dbPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		log.WithField("error", err).Fatal("could not open database")
	}
	defer db.Close()

	if err := audit.SetupDatabase(db); err != nil {
		log.WithField("error", err).Fatal("could not prepare database")
	}

	events, err := audit.NewSQLStore(db).FindByEntity(ctx, entityID)
	if err != nil {
		log.WithField("error", err).Fatal("could not read events")
	}
	log.Debugf("found %d events for %s", len(events), entityID)

	enc := json.NewEncoder(os.Stdout)
	for _, evt := range events {
		if checkOnly {
			if verr := audit.ValidateEvent(evt.Event); verr != nil {
				log.WithField("id", evt.ID).Warn(verr)
			}
			continue
		}
		if err := enc.Encode(evt); err != nil {
			log.WithField("error", err).Fatal("could not write event")
		}
	}
}
