// Package main is a diagnostic tool for testing database connectivity and
// inspecting live registry data. It loads the registry configuration, prints
// the schema version and per-table row counts, and lists the most recently
// modified latest tags. The binary exits non-zero on any failure so it can gate
// deployments on a reachable, migrated database.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/npm-registry/npm-registry/internal/config"
	"github.com/npm-registry/npm-registry/internal/db"
)

var tables = []string{
	"module",
	"tag",
	"module_deps",
	"module_keyword",
	"module_maintainer",
	"npm_module_maintainer",
	"module_star",
	"module_unpublished",
	"users",
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	fmt.Printf("Schema version: %d (dirty: %v)\n", version, dirty)

	fmt.Println("\n=== ROW COUNTS ===")
	for _, table := range tables {
		var n int64
		// #nosec G202 -- table names come from the fixed list above
		if err := database.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			log.Fatalf("Count %s failed: %v", table, err)
		}
		fmt.Printf("%-24s %d\n", table, n)
	}

	fmt.Println("\n=== RECENT LATEST TAGS ===")
	rows, err := database.QueryContext(ctx,
		`SELECT name, version, updated_at FROM tag WHERE tag = 'latest' ORDER BY updated_at DESC LIMIT 10`)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var name, version string
		var modified time.Time
		if err := rows.Scan(&name, &version, &modified); err != nil {
			log.Printf("Warning: failed to scan tag row: %v", err)
			continue
		}
		fmt.Printf("%s@%s (%s)\n", name, version, modified.Format(time.RFC3339))
		count++
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("Row iteration failed: %v", err)
	}
	if count == 0 {
		fmt.Println("(none)")
	}
}
