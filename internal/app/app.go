// Package app wires a workspace into a ready-to-use engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"loanops/internal/cache"
	"loanops/internal/config"
	"loanops/internal/db"
	"loanops/internal/engine"
	"loanops/internal/logging"
	"loanops/internal/migrate"
	"loanops/internal/repo"
)

const (
	DefaultOrgID = "default-org"
	SystemActor  = "system"
)

// Runtime is an opened workspace. Close releases the database and cache.
type Runtime struct {
	DB     *sql.DB
	Engine engine.Engine
	Config *config.Config
	Log    *logrus.Logger
	cache  *cache.Redis
}

// ResolveConfig loads loanops.yml from the workspace, falling back to the
// built-in defaults when the file is absent.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default(DefaultOrgID)
	}
	return cfg, nil
}

// Open prepares the database, applies migrations, builds the engine and
// seeds bootstrap admins. A configured but unreachable Redis is logged and
// skipped.
func Open(ctx context.Context, workspace string) (*Runtime, error) {
	cfg, err := ResolveConfig(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	log := logging.New(cfg)
	e, err := engine.New(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e.Log = log
	rt := &Runtime{DB: conn, Engine: e, Config: cfg, Log: log}
	c, err := cache.FromConfig(ctx, cfg.Cache)
	if err != nil {
		log.WithError(err).Warn("tree cache disabled")
	} else if c != nil {
		rt.cache = c
		rt.Engine.Cache = c
	}
	if err := Bootstrap(ctx, rt.Engine); err != nil {
		rt.Close()
		return nil, fmt.Errorf("bootstrap admins: %w", err)
	}
	return rt, nil
}

func (rt *Runtime) Close() error {
	if rt.cache != nil {
		rt.cache.Close()
	}
	return rt.DB.Close()
}

// Bootstrap makes sure every configured bootstrap admin exists in the
// directory and holds the admin role. It is safe to run repeatedly.
func Bootstrap(ctx context.Context, e engine.Engine) error {
	if e.Config == nil {
		return nil
	}
	for _, id := range e.Config.RBAC.BootstrapAdmins {
		if _, err := e.Repo.GetUser(ctx, id); errors.Is(err, repo.ErrNotFound) {
			if _, err := e.UpsertUser(ctx, SystemActor, engine.UserInput{ID: id, Name: id}); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		roles, err := e.Repo.UserRoles(ctx, id)
		if err != nil {
			return err
		}
		if hasRole(roles, config.AdminRole) {
			continue
		}
		if err := e.GrantRole(ctx, SystemActor, id, config.AdminRole); err != nil {
			return err
		}
	}
	return nil
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
