package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	pg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// metaTable keeps migrate's bookkeeping apart from any legacy
// schema_migrations table a previous deploy may have left behind.
const metaTable = "schema_migrations_migrate"

// RunMigrations applies every pending file-based migration. A database that
// already carries the schema (wallet_accounts exists) but lacks the
// bookkeeping table is first baselined to the newest migration on disk, so
// re-pointing an instance at a hand-provisioned database does not replay DDL.
func RunMigrations(databaseURL, migrationsPath string) error {
	if databaseURL == "" {
		return fmt.Errorf("database URL is empty")
	}
	if migrationsPath == "" {
		migrationsPath = "migrations"
	}

	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer sqlDB.Close()

	driver, err := pg.WithInstance(sqlDB, &pg.Config{MigrationsTable: metaTable})
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	if needsBaseline(sqlDB) {
		if latest := latestVersionOnDisk(migrationsPath); latest > 0 {
			log.Printf("[MIGRATE] Baseline to version %d (schema present, no bookkeeping table)", latest)
			if err := m.Force(int(latest)); err != nil {
				log.Printf("[MIGRATE] Force to version %d failed: %v", latest, err)
			}
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	log.Printf("[MIGRATE] ✓ Schema up to date")
	return nil
}

// needsBaseline reports whether the schema exists while migrate's own table
// does not. Probe errors read as false and leave Up to surface the problem.
func needsBaseline(db *sql.DB) bool {
	exists := func(table string) bool {
		var ok bool
		err := db.QueryRow(
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", table,
		).Scan(&ok)
		return err == nil && ok
	}
	return exists("wallet_accounts") && !exists(metaTable)
}

var versionPrefix = regexp.MustCompile(`^0*([0-9]+)_`)

// latestVersionOnDisk returns the highest numeric prefix among migration
// files, or 0 when the directory is unreadable.
func latestVersionOnDisk(dir string) int64 {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var max int64
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		m := versionPrefix.FindStringSubmatch(f.Name())
		if len(m) < 2 {
			continue
		}
		if v, _ := strconv.ParseInt(m[1], 10, 64); v > max {
			max = v
		}
	}
	return max
}
