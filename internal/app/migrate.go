package app

import (
	"errors"

	"crypto-alerts/internal/storage"
)

// Migrate applies the embedded schema migrations.
func (a *App) Migrate() error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn not configured; nothing to migrate")
	}
	if err := storage.Migrate(a.Config.Database.DSN); err != nil {
		return err
	}
	a.Logger.Info().Msg("database schema up to date")
	return nil
}
