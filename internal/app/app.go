// Package app wires configuration into a running application: Genkit and
// its provider plugin, the conversation store, personas, tools, and the
// chat engine. Setup builds everything; Close releases it in reverse order.
package app

import (
	"context"
	"errors"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mubot/mu/internal/chat"
	"github.com/mubot/mu/internal/config"
	"github.com/mubot/mu/internal/conversation"
	"github.com/mubot/mu/internal/knowledge"
	"github.com/mubot/mu/internal/log"
	"github.com/mubot/mu/internal/tools"
)

// App is the assembled application.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	Pool      *pgxpool.Pool // nil unless storage is postgres
	Store     conversation.Store
	Knowledge *knowledge.Store // nil unless storage is postgres

	Registry *tools.Registry
	Engine   *chat.Engine

	// cleanups run in reverse registration order on Close.
	cleanups []func(context.Context) error
}

// Close releases all resources Setup acquired. Safe to call on a partially
// initialized App.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanups = nil
	return errors.Join(errs...)
}

func (a *App) addCleanup(fn func(context.Context) error) {
	a.cleanups = append(a.cleanups, fn)
}
