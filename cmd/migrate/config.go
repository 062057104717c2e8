package main

import (
	"io/fs"
	"os"

	"repocrawl/db"
)

// migrationsDir is where new migration files are written.
func migrationsDir() string {
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		return v
	}
	return "db/migrations"
}

// migrationSource returns the filesystem goose reads from. The embedded set
// is used unless MIGRATIONS_DIR points at a directory on disk.
func migrationSource() (fs.FS, string) {
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		return nil, v
	}
	return db.Migrations, db.MigrationsDir
}
