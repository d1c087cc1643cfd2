package db

import (
	"testing"
)

func TestNewSQLiteDBCreatesRoutingSchema(t *testing.T) {
	tempDir := t.TempDir()
	database, err := NewSQLiteDB(tempDir)
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	defer database.Close()

	for _, table := range []string{"operators", "sources", "leads", "operator_source_weights", "contacts"} {
		var name string
		err := database.Conn().QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err != nil {
			t.Fatalf("expected table %s: %v", table, err)
		}
	}

	var version string
	if err := database.Conn().QueryRow(
		`SELECT value FROM schema_meta WHERE key = 'schema_version'`,
	).Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestNewSQLiteDBReopenIsIdempotent(t *testing.T) {
	tempDir := t.TempDir()

	first, err := NewSQLiteDB(tempDir)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if _, err := first.Conn().Exec(
		`INSERT INTO sources (code, name) VALUES ('tg', 'Telegram bot')`); err != nil {
		t.Fatalf("insert source: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := NewSQLiteDB(tempDir)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer second.Close()

	var code string
	if err := second.Conn().QueryRow(`SELECT code FROM sources WHERE code = 'tg'`).Scan(&code); err != nil {
		t.Fatalf("expected seeded source to survive reopen: %v", err)
	}
}

func TestNewSQLiteDBRejectsNewerSchema(t *testing.T) {
	tempDir := t.TempDir()
	first, err := NewSQLiteDB(tempDir)
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	if _, err := first.Conn().Exec(
		`UPDATE schema_meta SET value = '99' WHERE key = 'schema_version'`); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := NewSQLiteDB(tempDir); err == nil {
		t.Fatal("expected error for newer schema version")
	}
}
