package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migration is one embedded schema change, named NNN_description.sql.
type migration struct {
	version  int
	name     string
	sql      string
	checksum string
}

// MigrationRecord is a migration recorded as applied in the database.
type MigrationRecord struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	Checksum  string    `json:"checksum"`
	AppliedAt time.Time `json:"applied_at"`
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS stepflow_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL
)`

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	seen := make(map[int]string)
	var out []migration
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".sql")
		prefix, name, ok := strings.Cut(base, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil || version <= 0 {
			return nil, fmt.Errorf("migration file %s is not named NNN_description.sql", e.Name())
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, e.Name(), version)
		}
		seen[version] = e.Name()

		raw, err := fs.ReadFile(fsys, path.Join("migrations", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(raw)
		out = append(out, migration{
			version:  version,
			name:     name,
			sql:      string(raw),
			checksum: hex.EncodeToString(sum[:]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// runMigrations applies pending migrations in version order, one transaction
// each. An applied migration whose embedded file no longer matches the
// recorded checksum stops the run with a store error.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pending, err := loadMigrations(migrationFiles)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("create stepflow_migrations: %w", err)
	}
	records, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}
	applied := make(map[int]MigrationRecord, len(records))
	for _, r := range records {
		applied[r.Version] = r
	}

	count := 0
	for _, m := range pending {
		if rec, ok := applied[m.version]; ok {
			if rec.Checksum != m.checksum {
				return schema.NewErrorf(schema.ErrStore,
					"migration %03d_%s changed after it was applied", m.version, m.name).
					WithData(map[string]any{"recorded": rec.Checksum, "embedded": m.checksum})
			}
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
		count++
		logger.InfoContext(ctx, "migration applied", slog.Int("version", m.version), slog.String("name", m.name))
	}
	if count == 0 {
		logger.DebugContext(ctx, "schema up to date", slog.Int("migrations", len(pending)))
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}
	for _, stmt := range splitStatements(m.sql) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %03d_%s: %w", m.version, m.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stepflow_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`,
		m.version, m.name, m.checksum, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.version, err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT version, name, checksum, applied_at FROM stepflow_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("read stepflow_migrations: %w", err)
	}
	defer rows.Close()
	var out []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		if err := rows.Scan(&r.Version, &r.Name, &r.Checksum, &r.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// splitStatements splits a script on semicolons outside quoted text and
// drops "--" comments.
func splitStatements(script string) []string {
	var (
		stmts []string
		cur   strings.Builder
		quote rune
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}
	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			cur.WriteRune('\n')
		case r == ';':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return stmts
}
