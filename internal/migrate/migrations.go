// Package migrate brings the run database schema up to date from the
// embedded SQL files. Versions come from the numeric filename prefix;
// the applied version lives in the schema_version table.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	pipeerr "shipline/internal/errors"
)

//go:embed sql/*.sql
var schemaFS embed.FS

type migration struct {
	version int
	name    string
	stmts   string
}

func loadMigrations() ([]migration, error) {
	entries, err := schemaFS.ReadDir("sql")
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.EInternal, "read embedded schema", err)
	}
	migrations := make([]migration, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			return nil, pipeerr.Newf(pipeerr.EInternal, "schema file %s has no numeric version prefix", name)
		}
		data, err := schemaFS.ReadFile("sql/" + name)
		if err != nil {
			return nil, pipeerr.Wrap(pipeerr.EInternal, "read schema file "+name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return nil, pipeerr.Newf(pipeerr.EInternal, "schema file %s is empty", name)
		}
		migrations = append(migrations, migration{version: version, name: name, stmts: string(data)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })
	return migrations, nil
}

// Migrate applies any pending schema migrations in one transaction.
// Safe to call on every open; an up-to-date database is a no-op.
func Migrate(db *sql.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return pipeerr.Wrap(pipeerr.EInternal, "begin migration tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return pipeerr.Wrap(pipeerr.EInternal, "create schema_version", err)
	}
	var current int
	switch err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current); err {
	case nil:
	case sql.ErrNoRows:
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return pipeerr.Wrap(pipeerr.EInternal, "seed schema_version", err)
		}
	default:
		return pipeerr.Wrap(pipeerr.EInternal, "read schema_version", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := tx.Exec(m.stmts); err != nil {
			return pipeerr.Wrap(pipeerr.EInternal, "apply "+m.name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, m.version); err != nil {
			return pipeerr.Wrap(pipeerr.EInternal, "record version for "+m.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return pipeerr.Wrap(pipeerr.EInternal, "commit migrations", err)
	}
	return nil
}
