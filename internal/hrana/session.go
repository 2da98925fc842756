package hrana

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/libsqlgo/sqld/internal/adapter"
	"github.com/libsqlgo/sqld/internal/auth"
	"github.com/libsqlgo/sqld/internal/classify"
	"github.com/libsqlgo/sqld/internal/program"
	"github.com/libsqlgo/sqld/internal/resultbuilder"
	"github.com/libsqlgo/sqld/internal/sqlderr"
	"github.com/libsqlgo/sqld/internal/value"
)

// Authenticator validates the JWT (if any) carried by a hello message and
// returns the identity it grants. The concrete token scheme is out of
// scope; callers wire their own.
type Authenticator interface {
	Authenticate(jwt *string) (auth.Identity, error)
}

// Session is one client connection's worth of Hrana protocol state: which
// streams are open, and the SQL text cache keyed by sql_id (store_sql/
// close_sql). It serializes requests through the given Adapter under a
// single client UUID.
type Session struct {
	clientID uuid.UUID
	adapter  *adapter.Adapter
	auth     Authenticator

	mu       sync.Mutex
	identity auth.Identity
	greeted  bool
	streams  map[int64]bool
	sqlCache map[int64]string
}

// NewSession returns a Session for a freshly accepted connection.
func NewSession(a *adapter.Adapter, authn Authenticator) *Session {
	return &Session{
		clientID: uuid.New(),
		adapter:  a,
		auth:     authn,
		streams:  make(map[int64]bool),
		sqlCache: make(map[int64]string),
	}
}

// Close disconnects the session's worker.
func (s *Session) Close() {
	s.adapter.Disconnect(s.clientID)
}

// Handle dispatches one ClientMessage and returns the ServerMessage to
// send back (nil if the message warrants no direct reply).
func (s *Session) Handle(ctx context.Context, raw []byte) (*ServerMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, sqlderr.Wrap(sqlderr.CodeInvalidParams, err, "malformed client message")
	}

	switch msg.Type {
	case "hello":
		return s.handleHello(msg.JWT), nil
	case "request":
		resp := s.handleRequest(ctx, msg.RequestID, msg.Request)
		return &resp, nil
	default:
		return nil, sqlderr.New(sqlderr.CodeInvalidParams, "unknown client message type: "+msg.Type)
	}
}

func (s *Session) handleHello(jwt *string) *ServerMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, err := s.auth.Authenticate(jwt)
	if err != nil {
		msg := helloError(WireError{Code: string(sqlderr.CodeNotAuthorized), Message: err.Error()})
		return &msg
	}
	s.identity = identity
	s.greeted = true
	msg := helloOk()
	return &msg
}

func (s *Session) handleRequest(ctx context.Context, requestID int64, raw json.RawMessage) ServerMessage {
	s.mu.Lock()
	greeted := s.greeted
	identity := s.identity
	s.mu.Unlock()
	if !greeted {
		return responseError(requestID, WireError{Code: string(sqlderr.CodeNotAuthorized), Message: "hello must precede any request"})
	}

	var env requestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return responseError(requestID, WireError{Code: string(sqlderr.CodeInvalidParams), Message: "malformed request"})
	}

	var resp interface{}
	var wireErr *WireError
	switch env.Type {
	case "open_stream":
		var r openStreamRequest
		if err := json.Unmarshal(raw, &r); err != nil {
			wireErr = &WireError{Code: string(sqlderr.CodeInvalidParams), Message: "malformed open_stream"}
			break
		}
		s.mu.Lock()
		s.streams[r.StreamID] = true
		s.mu.Unlock()
		resp = struct{}{}
	case "close_stream":
		var r closeStreamRequest
		if err := json.Unmarshal(raw, &r); err != nil {
			wireErr = &WireError{Code: string(sqlderr.CodeInvalidParams), Message: "malformed close_stream"}
			break
		}
		s.mu.Lock()
		delete(s.streams, r.StreamID)
		s.mu.Unlock()
		resp = struct{}{}
	case "store_sql":
		var r storeSQLRequest
		if err := json.Unmarshal(raw, &r); err != nil {
			wireErr = &WireError{Code: string(sqlderr.CodeInvalidParams), Message: "malformed store_sql"}
			break
		}
		s.mu.Lock()
		s.sqlCache[r.SQLID] = r.SQL
		s.mu.Unlock()
		resp = struct{}{}
	case "close_sql":
		var r closeSQLRequest
		if err := json.Unmarshal(raw, &r); err != nil {
			wireErr = &WireError{Code: string(sqlderr.CodeInvalidParams), Message: "malformed close_sql"}
			break
		}
		s.mu.Lock()
		delete(s.sqlCache, r.SQLID)
		s.mu.Unlock()
		resp = struct{}{}
	case "execute":
		var r executeRequest
		if err := json.Unmarshal(raw, &r); err != nil {
			wireErr = &WireError{Code: string(sqlderr.CodeInvalidParams), Message: "malformed execute"}
			break
		}
		resp, wireErr = s.execute(ctx, r.Stmt, identity)
	case "batch":
		var r batchRequest
		if err := json.Unmarshal(raw, &r); err != nil {
			wireErr = &WireError{Code: string(sqlderr.CodeInvalidParams), Message: "malformed batch"}
			break
		}
		resp, wireErr = s.batch(ctx, r.Batch, identity)
	case "describe":
		var r describeRequest
		if err := json.Unmarshal(raw, &r); err != nil {
			wireErr = &WireError{Code: string(sqlderr.CodeInvalidParams), Message: "malformed describe"}
			break
		}
		resp, wireErr = s.describe(ctx, r, identity)
	default:
		wireErr = &WireError{Code: string(sqlderr.CodeInvalidParams), Message: "unknown request type: " + env.Type}
	}

	if wireErr != nil {
		return responseError(requestID, *wireErr)
	}
	return responseOk(requestID, resp)
}

func (s *Session) resolveSQL(stmt stmtJSON) (string, *WireError) {
	if stmt.SQL != nil {
		return *stmt.SQL, nil
	}
	if stmt.SQLID != nil {
		s.mu.Lock()
		sql, ok := s.sqlCache[*stmt.SQLID]
		s.mu.Unlock()
		if ok {
			return sql, nil
		}
	}
	return "", &WireError{Code: string(sqlderr.CodeInvalidParams), Message: "stmt names neither sql nor a stored sql_id"}
}

func (s *Session) toQuery(stmt stmtJSON) (program.Query, *WireError) {
	sql, wireErr := s.resolveSQL(stmt)
	if wireErr != nil {
		return program.Query{}, wireErr
	}

	stmts, err := classify.Parse(classify.RewritePositionalParams(sql))
	if err != nil {
		return program.Query{}, &WireError{Code: string(sqlderr.CodeSyntaxError), Message: err.Error()}
	}
	if len(stmts) != 1 {
		return program.Query{}, &WireError{Code: string(sqlderr.CodeSyntaxError), Message: "exactly one statement is required"}
	}

	var params value.Params
	if len(stmt.NamedArgs) > 0 {
		named := make(map[string]value.Value, len(stmt.NamedArgs))
		for _, na := range stmt.NamedArgs {
			v, err := UnmarshalValue(na.Value)
			if err != nil {
				return program.Query{}, &WireError{Code: string(sqlderr.CodeInvalidParams), Message: err.Error()}
			}
			named[na.Name] = v
		}
		params = value.NamedParams(named)
	} else if len(stmt.Args) > 0 {
		positional := make([]value.Value, len(stmt.Args))
		for i, a := range stmt.Args {
			v, err := UnmarshalValue(a)
			if err != nil {
				return program.Query{}, &WireError{Code: string(sqlderr.CodeInvalidParams), Message: err.Error()}
			}
			positional[i] = v
		}
		params = value.PositionalParams(positional...)
	}

	wantRows := true
	if stmt.WantRows != nil {
		wantRows = *stmt.WantRows
	}
	return program.Query{Stmt: stmts[0], Params: params, WantRows: wantRows}, nil
}

func (s *Session) execute(ctx context.Context, stmt stmtJSON, identity auth.Identity) (interface{}, *WireError) {
	q, wireErr := s.toQuery(stmt)
	if wireErr != nil {
		return nil, wireErr
	}
	pgm := program.New(program.Step{Query: q})
	resp, err := s.adapter.ExecuteProgram(ctx, s.clientID, pgm, identity)
	if err != nil {
		return nil, &WireError{Code: string(sqlderr.CodeInternal), Message: err.Error()}
	}
	if resp.Err != nil {
		return nil, fromAdapterError(resp.Err)
	}
	if len(resp.Results) != 1 {
		return nil, &WireError{Code: string(sqlderr.CodeInternal), Message: "expected exactly one step result"}
	}
	return toQueryResultJSON(resp.Results[0]), nil
}

func (s *Session) batch(ctx context.Context, b batchJSON, identity auth.Identity) (interface{}, *WireError) {
	steps := make([]program.Step, len(b.Steps))
	for i, bs := range b.Steps {
		q, wireErr := s.toQuery(bs.Stmt)
		if wireErr != nil {
			return nil, wireErr
		}
		cond, err := decodeCondition(bs.Condition)
		if err != nil {
			return nil, &WireError{Code: string(sqlderr.CodeInvalidParams), Message: err.Error()}
		}
		steps[i] = program.Step{Query: q, Cond: cond}
	}
	pgm := program.New(steps...)

	resp, err := s.adapter.ExecuteProgram(ctx, s.clientID, pgm, identity)
	if err != nil {
		return nil, &WireError{Code: string(sqlderr.CodeInternal), Message: err.Error()}
	}
	if resp.Err != nil {
		return nil, fromAdapterError(resp.Err)
	}
	results := make([]queryResultJSON, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = toQueryResultJSON(r)
	}
	return struct {
		Results []queryResultJSON `json:"step_results"`
	}{Results: results}, nil
}

func (s *Session) describe(ctx context.Context, r describeRequest, identity auth.Identity) (interface{}, *WireError) {
	var sql string
	if r.SQL != nil {
		sql = *r.SQL
	} else if r.SQLID != nil {
		s.mu.Lock()
		cached, ok := s.sqlCache[*r.SQLID]
		s.mu.Unlock()
		if !ok {
			return nil, &WireError{Code: string(sqlderr.CodeInvalidParams), Message: "unknown sql_id"}
		}
		sql = cached
	} else {
		return nil, &WireError{Code: string(sqlderr.CodeInvalidParams), Message: "describe names neither sql nor sql_id"}
	}

	resp, wireErr := s.adapter.Describe(ctx, s.clientID, sql, identity)
	if wireErr != nil {
		return nil, fromAdapterError(wireErr)
	}

	params := make([]describeParamJSON, len(resp.Params))
	for i, p := range resp.Params {
		params[i] = describeParamJSON{Name: p}
	}
	cols := make([]columnJSON, len(resp.Cols))
	for i, c := range resp.Cols {
		cols[i] = columnJSON{Name: c.Name, DeclType: c.DeclType}
	}
	return describeResponseJSON{Params: params, Cols: cols, IsExplain: resp.IsExplain, IsReadOnly: resp.IsReadOnly}, nil
}

func fromAdapterError(e *adapter.WireError) *WireError {
	return &WireError{Code: e.Code, Message: e.Message}
}

func toQueryResultJSON(r resultbuilder.StepResult) queryResultJSON {
	if r.Err != nil {
		return queryResultJSON{Error: &WireError{Code: string(r.Err.Code), Message: r.Err.Message}}
	}
	cols := make([]columnJSON, len(r.Columns))
	for i, c := range r.Columns {
		cols[i] = columnJSON{Name: c.Name, DeclType: c.DeclType}
	}
	rows := make([][]json.RawMessage, len(r.Rows))
	for i, row := range r.Rows {
		encoded := make([]json.RawMessage, len(row))
		for j, v := range row {
			b, _ := MarshalValue(v)
			encoded[j] = b
		}
		rows[i] = encoded
	}
	lastInsertRowID, _ := marshalLastInsertRowID(r.LastInsertRowID)
	return queryResultJSON{Result: &rowResultJSON{
		Cols:             cols,
		Rows:             rows,
		AffectedRowCount: r.AffectedRows,
		LastInsertRowID:  lastInsertRowID,
	}}
}
