// Package rlshttp provides net/http middleware that propagates a
// per-request row-level security context into the database session.
//
// For every request the middleware resolves the security context (or the
// bypass wildcard), pins a database connection, applies one session variable
// per protected field with parameterized set_config calls, and exposes the
// pinned connection through the request context. Variables are reset and the
// connection released when the request finishes, so pooled connections never
// leak one tenant's context into another request.
//
// On any dialect other than PostgreSQL the middleware is a pass-through:
// row-level security is a PostgreSQL feature, and its absence elsewhere is
// not an error.
package rlshttp

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/syssam/rls"
	"github.com/syssam/rls/dialect"
	vsql "github.com/syssam/rls/dialect/sql"
)

// releaseTimeout bounds the cleanup of session variables after the request
// context is gone.
const releaseTimeout = 5 * time.Second

// Middleware applies the security context of each request to a pinned
// database connection.
type Middleware struct {
	drv    *vsql.Driver
	cfg    *rls.Config
	logger *slog.Logger
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithLogger sets the logger for resolver warnings. Defaults to the
// configuration's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Middleware) {
		m.logger = l
	}
}

// New returns a Middleware for the given driver and validated configuration.
func New(drv *vsql.Driver, cfg *rls.Config, opts ...Option) (*Middleware, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Middleware{drv: drv, cfg: cfg, logger: cfg.Logger}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Vars resolves the session variables for a request.
//
// When the bypass predicate allows the request, every configured field is
// set to the All wildcard and the resolver is not consulted. Otherwise the
// resolver's mapping is validated against the configured field set: unknown
// fields are dropped with a warning (resolver drift must not fail the
// request), known fields are normalized to their text form, and fields the
// resolver did not mention are left unset so policies fail closed.
func (m *Middleware) Vars(r *http.Request) []vsql.SessionVar {
	if m.cfg.Bypass != nil && m.cfg.Bypass(r) {
		vars := make([]vsql.SessionVar, 0, len(m.cfg.Fields))
		for _, f := range m.cfg.Fields {
			vars = append(vars, vsql.SessionVar{
				Name:  m.cfg.SessionPrefix + "." + f,
				Value: string(rls.All),
			})
		}
		return vars
	}
	if m.cfg.Resolver == nil {
		return nil
	}
	resolved := m.cfg.Resolver(r)
	var unexpected []string
	for name := range resolved {
		if !m.cfg.HasField(name) {
			unexpected = append(unexpected, name)
		}
	}
	if len(unexpected) > 0 {
		m.logger.Warn("rls: resolver returned fields outside the configured set, ignoring them",
			"unexpected", unexpected, "configured", m.cfg.Fields)
	}
	vars := make([]vsql.SessionVar, 0, len(resolved))
	for _, f := range m.cfg.Fields {
		v, ok := resolved[f]
		if !ok {
			continue
		}
		vars = append(vars, vsql.SessionVar{
			Name:  m.cfg.SessionPrefix + "." + f,
			Value: rls.NormalizeValue(v),
		})
	}
	return vars
}

// Begin applies the request's security context and returns a derived request
// context plus a release function. The returned context carries the pinned
// connection (see ConnFromContext) and the session variables for statements
// executed through the dialect driver. Begin must run before any application
// query of the request; policies are evaluated by the database on every
// subsequent statement of the session.
func (m *Middleware) Begin(r *http.Request) (context.Context, func(), error) {
	ctx := r.Context()
	if m.drv.Dialect() != dialect.Postgres {
		return ctx, func() {}, nil
	}
	vars := m.Vars(r)
	if len(vars) == 0 {
		return ctx, func() {}, nil
	}
	conn, err := m.drv.DB().Conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := vsql.SetSessionVars(ctx, conn, dialect.Postgres, vars); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	ctx = vsql.WithSessionContext(ctx, vars...)
	ctx = context.WithValue(ctx, connCtxKey{}, conn)
	release := func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := vsql.ResetSessionVars(cleanupCtx, conn, dialect.Postgres, vars); err != nil {
			m.logger.Warn("rls: resetting session variables", "error", err)
		}
		_ = conn.Close()
	}
	return ctx, release, nil
}

// Handler wraps next with the middleware.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, release, err := m.Begin(r)
		if err != nil {
			m.logger.Error("rls: applying session context", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		defer release()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type connCtxKey struct{}

// ConnFromContext returns the database connection pinned to the request, if
// any. Application queries of the request must run on this connection; it is
// the session the security context was applied to.
func ConnFromContext(ctx context.Context) (*sql.Conn, bool) {
	conn, ok := ctx.Value(connCtxKey{}).(*sql.Conn)
	return conn, ok
}
