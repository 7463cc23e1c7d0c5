package main

import (
	"database/sql"
	"fmt"
)

func dbInit(db *sql.DB) error {
	var dbVersion int
	err := db.QueryRow("SELECT version FROM db_version WHERE name='gcalappt'").Scan(&dbVersion)
	if err != nil {
		_, err = db.Exec(`CREATE TABLE IF NOT EXISTS db_version (
			name TEXT PRIMARY KEY,
			version INTEGER
		)`)
		if err != nil {
			return fmt.Errorf("error creating db_version table: %w", err)
		}
		_, err = db.Exec(`INSERT OR IGNORE INTO db_version (name, version) VALUES ('gcalappt', 0)`)
		if err != nil {
			return fmt.Errorf("error initializing db_version table: %w", err)
		}
		dbVersion = 0
	}

	if dbVersion == 0 {
		_, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL)`)
		if err != nil {
			return fmt.Errorf("error creating kv table: %w", err)
		}

		_, err = db.Exec(`CREATE TABLE IF NOT EXISTS appointments (
			id TEXT PRIMARY KEY,
			client_name TEXT NOT NULL,
			pet_name TEXT NOT NULL,
			pet_type TEXT NOT NULL,
			client_phone TEXT NOT NULL,
			appointment_date TEXT NOT NULL,
			service_type TEXT NOT NULL,
			reminder_days INTEGER NOT NULL DEFAULT 1,
			reminder_sent INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL,
			source_event_id TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`)
		if err != nil {
			return fmt.Errorf("error creating appointments table: %w", err)
		}

		dbVersion = 1
		_, err = db.Exec(`UPDATE db_version SET version = 1 WHERE name = 'gcalappt'`)
		if err != nil {
			return fmt.Errorf("error updating db_version table: %w", err)
		}
	}

	return nil
}
