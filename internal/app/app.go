// Package app wires the application: configuration, tracing, database,
// genkit, the tool registry, and the turn controller.
package app

import (
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joyhealth/joy/internal/chat"
	"github.com/joyhealth/joy/internal/config"
	"github.com/joyhealth/joy/internal/log"
	"github.com/joyhealth/joy/internal/turn"
)

// App is the core application container.
type App struct {
	Config     *config.Config
	Logger     log.Logger
	Genkit     *genkit.Genkit
	Pool       *pgxpool.Pool
	Store      *chat.Store
	Controller *turn.Controller

	otelCleanup func()
	dbCleanup   func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
