package db

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

const currentSchemaVersion = 1

type DB struct {
	conn *sql.DB
	path string
}

type migrationError struct {
	backupPath string
	cause      error
}

func (e *migrationError) Error() string {
	return e.cause.Error()
}

func (e *migrationError) Unwrap() error {
	return e.cause
}

func NewSQLiteDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "leadrouter.db")
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Routing runs read-check-insert sequences inside one transaction;
	// a single writer connection keeps those serialized.
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	database := &DB{conn: conn, path: dbPath}
	if err := database.initSchema(); err != nil {
		_ = conn.Close()

		var migrateErr *migrationError
		if errors.As(err, &migrateErr) && migrateErr.backupPath != "" {
			if rollbackErr := restoreFromBackup(migrateErr.backupPath, dbPath); rollbackErr != nil {
				return nil, fmt.Errorf("failed to init schema: %w; rollback from %s also failed: %v", migrateErr.cause, migrateErr.backupPath, rollbackErr)
			}
			return nil, fmt.Errorf("failed to init schema (rolled back from %s): %w", migrateErr.backupPath, migrateErr.cause)
		}
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return database, nil
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) initSchema() error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return err
	}

	version, err := readSchemaVersion(tx)
	if err != nil {
		return err
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("db schema version %d is newer than runtime version %d", version, currentSchemaVersion)
	}

	var backupPath string
	if version > 0 && version < currentSchemaVersion {
		backupPath, err = d.createMigrationBackup()
		if err != nil {
			return fmt.Errorf("create migration backup: %w", err)
		}
	}

	if err := applyMigrations(tx, version); err != nil {
		if backupPath != "" {
			return &migrationError{backupPath: backupPath, cause: err}
		}
		return err
	}

	return tx.Commit()
}

func readSchemaVersion(tx *sql.Tx) (int, error) {
	var versionText string
	err := tx.QueryRow(`SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&versionText)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	version, parseErr := strconv.Atoi(versionText)
	if parseErr != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", versionText, parseErr)
	}
	if version < 0 {
		return 0, fmt.Errorf("invalid schema version %d", version)
	}
	return version, nil
}

func writeSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec(
		`INSERT INTO schema_meta (key, value) VALUES ('schema_version', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(version),
	)
	return err
}

func applyMigrations(tx *sql.Tx, version int) error {
	for version < currentSchemaVersion {
		nextVersion, err := applyNextMigration(tx, version)
		if err != nil {
			return err
		}
		if err := writeSchemaVersion(tx, nextVersion); err != nil {
			return err
		}
		version = nextVersion
	}
	return nil
}

func applyNextMigration(tx *sql.Tx, version int) (int, error) {
	switch version {
	case 0:
		if err := migrateToRoutingSchema(tx); err != nil {
			return version, fmt.Errorf("migrate schema 0 -> 1: %w", err)
		}
		return 1, nil
	default:
		return version, fmt.Errorf("unsupported schema migration source version %d", version)
	}
}

func migrateToRoutingSchema(tx *sql.Tx) error {
	createOperators := `
CREATE TABLE IF NOT EXISTS operators (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	max_concurrent INTEGER NOT NULL DEFAULT 5
);`
	if _, err := tx.Exec(createOperators); err != nil {
		return err
	}

	createSources := `
CREATE TABLE IF NOT EXISTS sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	description TEXT
);`
	if _, err := tx.Exec(createSources); err != nil {
		return err
	}

	createLeads := `
CREATE TABLE IF NOT EXISTS leads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id TEXT,
	phone TEXT,
	email TEXT,
	created_at INTEGER NOT NULL
);`
	if _, err := tx.Exec(createLeads); err != nil {
		return err
	}

	createWeights := `
CREATE TABLE IF NOT EXISTS operator_source_weights (
	operator_id INTEGER NOT NULL REFERENCES operators(id) ON DELETE CASCADE,
	source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	weight REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (operator_id, source_id)
);`
	if _, err := tx.Exec(createWeights); err != nil {
		return err
	}

	createContacts := `
CREATE TABLE IF NOT EXISTS contacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	lead_id INTEGER NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	source_id INTEGER NOT NULL REFERENCES sources(id),
	operator_id INTEGER REFERENCES operators(id),
	status TEXT NOT NULL DEFAULT 'new',
	payload JSON,
	created_at INTEGER NOT NULL
);`
	if _, err := tx.Exec(createContacts); err != nil {
		return err
	}

	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_leads_external_id ON leads(external_id)`); err != nil {
		return err
	}
	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_leads_phone ON leads(phone)`); err != nil {
		return err
	}
	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email)`); err != nil {
		return err
	}
	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_contacts_operator_status ON contacts(operator_id, status)`); err != nil {
		return err
	}
	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_contacts_lead ON contacts(lead_id)`); err != nil {
		return err
	}
	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_weights_source ON operator_source_weights(source_id)`); err != nil {
		return err
	}
	return nil
}

func (d *DB) createMigrationBackup() (string, error) {
	backupPath := fmt.Sprintf("%s.backup-%s", d.path, time.Now().Format("20060102-150405"))
	if err := copyFile(d.path, backupPath); err != nil {
		return "", err
	}
	return backupPath, nil
}

func restoreFromBackup(backupPath, dbPath string) error {
	return copyFile(backupPath, dbPath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
