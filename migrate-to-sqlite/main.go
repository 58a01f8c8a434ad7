// Command migrate-to-sqlite is a one-off tool that moves the JSON
// state file into the sqlite vps table. It is offline and idempotent:
// rows are written with replace-on-conflict semantics, so re-running
// with the same input reproduces the same row set.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/eaglenode/vpsd/database"
	"github.com/eaglenode/vpsd/statefile"
)

func main() {
	stateFile := flag.String("state-file", "/var/lib/vpsd/state.json", "JSON state file to migrate")
	sqliteFile := flag.String("sqlite-file", "/var/lib/vpsd/vpsd.db", "target sqlite database")
	flag.Parse()

	if _, err := os.Stat(*stateFile); os.IsNotExist(err) {
		fmt.Printf("State file not found: %s\n", *stateFile)
		os.Exit(1)
	}

	records, err := statefile.New(*stateFile).Load()
	if err != nil {
		log.Fatalf("Failed to load state file: %v", err)
	}

	db, err := database.New(*sqliteFile)
	if err != nil {
		log.Fatalf("Failed to open sqlite database: %v", err)
	}
	defer func() { _ = database.Close(db) }()

	count, err := db.Import(records)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	fmt.Printf("Migrated %d records to %s\n", count, *sqliteFile)
}
