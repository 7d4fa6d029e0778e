// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"time"

	"github.com/daybreakhq/ensemble/chat"
	"github.com/daybreakhq/ensemble/room"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx     context.Context
	reg     *room.Registry
	disp    *chat.Dispatcher
	db      *sql.DB
	started time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
// db may be nil when no archive sink is configured.
func NewHandlers(ctx context.Context, reg *room.Registry, disp *chat.Dispatcher, db *sql.DB) *Handlers {
	return &Handlers{
		ctx:     ctx,
		reg:     reg,
		disp:    disp,
		db:      db,
		started: time.Now().UTC(),
	}
}
