package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// app bundles what every command needs. It is built once in main and passed
// to the command functions.
type app struct {
	config  *Config
	db      *sql.DB
	logger  *log.Logger
	session *AuthSession
	store   *AppointmentStore
	engine  *SyncEngine
}

func newApp(config *Config, logger *log.Logger) (*app, error) {
	db, err := openDB(config.General.Database)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	session := NewAuthSession(NewSQLiteKV(db))
	fetcher, err := newEventFetcher(config, session, nil)
	if err != nil {
		db.Close()
		return nil, err
	}

	engine := NewSyncEngine(session, fetcher, EngineOptions{
		IntervalMinutes: config.General.IntervalMinutes,
		WindowDays:      config.General.WindowDays,
		Logger:          logger,
	})

	return &app{
		config:  config,
		db:      db,
		logger:  logger,
		session: session,
		store:   NewAppointmentStore(db),
		engine:  engine,
	}, nil
}

const shutdownTimeout = 5 * time.Second

// Close waits for a scheduled cycle in flight before closing the database.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.engine.Shutdown(ctx); err != nil {
		a.logger.Warn("Sync cycle still running at shutdown", "err", err)
	}
	return a.db.Close()
}

// authHint tells the user how to give the configured provider a credential.
func (a *app) authHint() string {
	if a.config.General.Provider == providerCalDAV {
		return "set username and password under [caldav] in " + configFileName
	}
	return "run 'gcalappt auth' first"
}

// persistSynced stores every published batch of records.
func (a *app) persistSynced() func() {
	return a.engine.OnEventsSynced(func(records []AppointmentRecord) {
		n, err := a.store.Save(records)
		if err != nil {
			a.logger.Error("Error saving appointments", "err", err)
			return
		}
		a.logger.Debug("Appointments stored", "rows", n)
	})
}
