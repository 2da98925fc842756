// Package factory builds new connection workers: one goroutine each,
// backed by its own engine.Conn, with a fixed cold-start retry loop around
// transient open failures so a server starting up alongside a still-locked
// database file doesn't fail outright.
package factory

import (
	"context"
	"time"

	"github.com/libsqlgo/sqld/internal/config"
	"github.com/libsqlgo/sqld/internal/engine"
	"github.com/libsqlgo/sqld/internal/resultbuilder"
	"github.com/libsqlgo/sqld/internal/worker"
	"github.com/siddontang/loggers"
	"github.com/sirupsen/logrus"
)

// Factory is a pure "make me one worker" service: it holds everything a
// new Worker needs to open its own engine connection, but does not itself
// track which worker belongs to which client — that mapping is the
// execution adapter's job (internal/adapter), not the factory's.
type Factory struct {
	open       engine.OpenFunc
	dbPath     string
	hook       engine.WalHook
	cfg        *config.Server
	store      *config.Store
	builderCfg resultbuilder.Config
	logger     loggers.Advanced

	// keepAlive is the first worker the factory ever created. It is held
	// open for the factory's lifetime so the database file is never fully
	// closed between clients (spec.md §4.F).
	keepAlive *worker.Worker
}

// New constructs a Factory and eagerly opens the keep-alive worker,
// retrying a transient busy error up to cfg.ColdStartRetries times at
// cfg.ColdStartDelay apart — the factory's own outer retry loop, layered
// above each worker's narrower inner retry (internal/worker.openWithRetry).
// Each opened worker loads cfg.ExtensionPaths into its own connection
// (internal/worker.New); the factory itself has no extension state of its
// own to hold.
func New(ctx context.Context, open engine.OpenFunc, dbPath string, hook engine.WalHook, cfg *config.Server, store *config.Store, builderCfg resultbuilder.Config, logger loggers.Advanced) (*Factory, error) {
	if logger == nil {
		logger = logrus.New()
	}
	f := &Factory{
		open:       open,
		dbPath:     dbPath,
		hook:       hook,
		cfg:        cfg,
		store:      store,
		builderCfg: builderCfg,
		logger:     logger,
	}

	w, err := f.openWithColdStartRetry(ctx)
	if err != nil {
		return nil, err
	}
	f.keepAlive = w
	return f, nil
}

// Worker opens a fresh connection worker for a client. clientID is only
// used for log correlation here; the client→worker association itself
// lives in the adapter's ClientTable.
func (f *Factory) Worker(ctx context.Context, clientID string) (*worker.Worker, error) {
	w, err := f.openWithColdStartRetry(ctx)
	if err != nil {
		if f.logger != nil {
			f.logger.Errorf("factory: failed to open worker for client %s: %v", clientID, err)
		}
		return nil, err
	}
	return w, nil
}

func (f *Factory) openWithColdStartRetry(ctx context.Context) (*worker.Worker, error) {
	var lastErr error
	for attempt := 0; attempt <= f.cfg.ColdStartRetries; attempt++ {
		w, err := worker.New(ctx, f.open, f.dbPath, f.hook, f.cfg, f.store, f.builderCfg, f.logger)
		if err == nil {
			return w, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		if attempt < f.cfg.ColdStartRetries {
			select {
			case <-time.After(f.cfg.ColdStartDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func isRetryable(err error) bool {
	_, ok := err.(*engine.BusyError)
	return ok
}

// Close releases the keep-alive worker. Workers handed out via Worker are
// owned by their caller (the adapter's ClientTable) and are not tracked
// here.
func (f *Factory) Close() {
	if f.keepAlive != nil {
		f.keepAlive.Close()
	}
}
