// Package adapter maps (client, program) pairs onto a connection worker
// and translates the result into the wire-facing shapes named by spec.md
// §4.K and §6: it owns the client→worker table and the per-request
// authorization/error-translation glue that sits between a transport
// (e.g. internal/hrana) and internal/worker.
package adapter

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/libsqlgo/sqld/internal/auth"
	"github.com/libsqlgo/sqld/internal/factory"
	"github.com/libsqlgo/sqld/internal/program"
	"github.com/libsqlgo/sqld/internal/resultbuilder"
	"github.com/libsqlgo/sqld/internal/sqlderr"
	"github.com/libsqlgo/sqld/internal/worker"
	"github.com/siddontang/loggers"
)

// ClientTable is a concurrent map from client UUID to the worker
// exclusively serving that client, with upgrade-on-miss semantics: take a
// shared read lock, and only if the entry is absent upgrade to an
// exclusive lock, re-check (another goroutine may have won the race), and
// create via the factory (spec.md §4.K).
type ClientTable struct {
	mu      sync.RWMutex
	workers map[uuid.UUID]*worker.Worker
	f       *factory.Factory
}

// NewClientTable returns an empty table backed by f for miss-fill.
func NewClientTable(f *factory.Factory) *ClientTable {
	return &ClientTable{workers: make(map[uuid.UUID]*worker.Worker), f: f}
}

// Get returns the worker for clientID, creating one via the factory on
// first use.
func (t *ClientTable) Get(ctx context.Context, clientID uuid.UUID) (*worker.Worker, error) {
	t.mu.RLock()
	w, ok := t.workers[clientID]
	t.mu.RUnlock()
	if ok {
		return w, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.workers[clientID]; ok {
		return w, nil
	}
	w, err := t.f.Worker(ctx, clientID.String())
	if err != nil {
		return nil, err
	}
	t.workers[clientID] = w
	return w, nil
}

// Remove drops clientID's worker on disconnect, closing it (spec.md §4.K
// "On client disconnect, remove the entry (drops the worker)").
func (t *ClientTable) Remove(clientID uuid.UUID) {
	t.mu.Lock()
	w, ok := t.workers[clientID]
	delete(t.workers, clientID)
	t.mu.Unlock()
	if ok {
		w.Close()
	}
}

// WireError is the compact {code, message} wire form every internal error
// is translated to before crossing the adapter boundary (spec.md §7).
type WireError struct {
	Code    string
	Message string
}

// Response is one program execution's wire-facing result: either a
// successful set of per-step results, or a request-level error (rejected
// before any step ran, e.g. authorization or worker-creation failure).
type Response struct {
	Results []resultbuilder.StepResult
	Err     *WireError
}

// Adapter is the execution surface a transport front end (internal/hrana,
// or any other protocol adapter) calls into.
type Adapter struct {
	clients *ClientTable
	logger  loggers.Advanced
}

// New returns an Adapter backed by the given factory.
func New(f *factory.Factory, logger loggers.Advanced) *Adapter {
	return &Adapter{clients: NewClientTable(f), logger: logger}
}

// ExecuteProgram runs pgm on clientID's worker and returns the translated
// response. A worker-creation failure or an authorization rejection is
// reported as a request-level WireError; per-step failures are reported
// inside Results per StepResult.Err.
func (a *Adapter) ExecuteProgram(ctx context.Context, clientID uuid.UUID, pgm *program.Program, identity auth.Identity) (Response, error) {
	w, err := a.clients.Get(ctx, clientID)
	if err != nil {
		return Response{Err: translate(err)}, nil
	}

	builder, _, err := w.ExecuteProgram(ctx, pgm, identity, resultbuilder.NewRows())
	if err != nil {
		return Response{Err: translate(err)}, nil
	}
	return Response{Results: builder.(*resultbuilder.RowsBuilder).Results()}, nil
}

// DescribeResponse is the wire-facing shape of a describe call.
type DescribeResponse struct {
	Params     []string
	Cols       []ColDescription
	IsExplain  bool
	IsReadOnly bool
}

// ColDescription names one result column and its declared type.
type ColDescription struct {
	Name     string
	DeclType string
}

// Describe prepares sql on clientID's worker without running it.
func (a *Adapter) Describe(ctx context.Context, clientID uuid.UUID, sql string, identity auth.Identity) (DescribeResponse, *WireError) {
	w, err := a.clients.Get(ctx, clientID)
	if err != nil {
		return DescribeResponse{}, translate(err)
	}

	resp, err := w.Describe(ctx, sql, identity)
	if err != nil {
		return DescribeResponse{}, translate(err)
	}

	params := make([]string, len(resp.Params))
	for i, p := range resp.Params {
		params[i] = p.Name
	}
	cols := make([]ColDescription, len(resp.Cols))
	for i, c := range resp.Cols {
		cols[i] = ColDescription{Name: c.Name, DeclType: c.DeclType}
	}
	return DescribeResponse{Params: params, Cols: cols, IsExplain: resp.IsExplain, IsReadOnly: resp.IsReadOnly}, nil
}

// Disconnect drops clientID's worker.
func (a *Adapter) Disconnect(clientID uuid.UUID) {
	a.clients.Remove(clientID)
}

// translate maps an internal error to the compact wire form (spec.md §7).
func translate(err error) *WireError {
	if serr, ok := err.(*sqlderr.Error); ok {
		return &WireError{Code: string(serr.Code), Message: serr.Message}
	}
	return &WireError{Code: string(sqlderr.CodeInternal), Message: err.Error()}
}
