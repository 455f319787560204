// Package server exposes the HTTP API: health, status, metrics, the OAuth
// connect flow for hosts, and the operator endpoints for tweet configs,
// connections, and post logs. It includes permissive CORS for development
// and injects correlation IDs into request contexts for consistent logging.
package server

import (
	"context"
	"database/sql"

	"github.com/onnwee/castpromo/config"
	"github.com/onnwee/castpromo/crypto"
	"github.com/onnwee/castpromo/promo"
	"github.com/onnwee/castpromo/scheduler"
	"github.com/onnwee/castpromo/social"
)

// Deps are the wired services the handlers operate on.
type Deps struct {
	Cfg         *config.Config
	Vault       crypto.Encryptor
	Registry    *social.Registry
	Connections social.ConnectionStore
	Logs        social.PostLogStore
	Configs     promo.ConfigStore
	Series      promo.SeriesStore
	Runner      *promo.Runner
	Sched       *scheduler.Scheduler
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db   *sql.DB
	ctx  context.Context
	deps Deps
}

// NewHandlers creates a Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, db *sql.DB, deps Deps) *Handlers {
	return &Handlers{db: db, ctx: ctx, deps: deps}
}
