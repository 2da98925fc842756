package hrana

import "encoding/json"

// ClientMessage is the envelope every client→server message arrives in,
// discriminated by Type (spec.md §6: "message types discriminated by
// type field in snake_case").
type ClientMessage struct {
	Type      string          `json:"type"`
	JWT       *string         `json:"jwt,omitempty"`
	RequestID int64           `json:"request_id,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`
}

// ServerMessage is the envelope every server→client message is wrapped in.
type ServerMessage struct {
	Type      string      `json:"type"`
	Error     *WireError  `json:"error,omitempty"`
	RequestID int64       `json:"request_id,omitempty"`
	Response  interface{} `json:"response,omitempty"`
}

// WireError is the error shape carried in hello_error and response_error
// messages.
type WireError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func helloOk() ServerMessage { return ServerMessage{Type: "hello_ok"} }

func helloError(e WireError) ServerMessage {
	return ServerMessage{Type: "hello_error", Error: &e}
}

func responseOk(requestID int64, response interface{}) ServerMessage {
	return ServerMessage{Type: "response_ok", RequestID: requestID, Response: response}
}

func responseError(requestID int64, e WireError) ServerMessage {
	return ServerMessage{Type: "response_error", RequestID: requestID, Error: &e}
}

// requestEnvelope is the Type-discriminated shape of the value inside a
// "request" ClientMessage.
type requestEnvelope struct {
	Type string `json:"type"`
}

// openStreamRequest / closeStreamRequest manage stream lifecycle.
type openStreamRequest struct {
	StreamID int64 `json:"stream_id"`
}

type closeStreamRequest struct {
	StreamID int64 `json:"stream_id"`
}

// executeRequest runs a single statement on an open stream.
type executeRequest struct {
	StreamID int64    `json:"stream_id"`
	Stmt     stmtJSON `json:"stmt"`
}

// batchRequest runs a sequence of conditionally-guarded statements.
type batchRequest struct {
	StreamID int64     `json:"stream_id"`
	Batch    batchJSON `json:"batch"`
}

type batchJSON struct {
	Steps []batchStepJSON `json:"steps"`
}

type batchStepJSON struct {
	Condition json.RawMessage `json:"condition,omitempty"`
	Stmt      stmtJSON        `json:"stmt"`
}

// describeRequest describes either inline SQL or a previously stored one.
type describeRequest struct {
	StreamID int64   `json:"stream_id"`
	SQL      *string `json:"sql,omitempty"`
	SQLID    *int64  `json:"sql_id,omitempty"`
}

// storeSQLRequest / closeSQLRequest manage the server-side SQL text cache
// keyed by sql_id.
type storeSQLRequest struct {
	SQLID int64  `json:"sql_id"`
	SQL   string `json:"sql"`
}

type closeSQLRequest struct {
	SQLID int64 `json:"sql_id"`
}

// namedArgJSON is one element of a Stmt's named_args array.
type namedArgJSON struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// stmtJSON is the wire shape of one statement plus its bound parameters
// (spec.md §6 "Stmt JSON").
type stmtJSON struct {
	SQL       *string           `json:"sql,omitempty"`
	SQLID     *int64            `json:"sql_id,omitempty"`
	Args      []json.RawMessage `json:"args,omitempty"`
	NamedArgs []namedArgJSON    `json:"named_args,omitempty"`
	WantRows  *bool             `json:"want_rows,omitempty"`
}

// columnJSON names one result column.
type columnJSON struct {
	Name     string `json:"name"`
	DeclType string `json:"decltype,omitempty"`
}

// rowResultJSON is a successful step's result (spec.md §4.K ResultRows).
type rowResultJSON struct {
	Cols             []columnJSON        `json:"cols"`
	Rows             [][]json.RawMessage `json:"rows"`
	AffectedRowCount uint64              `json:"affected_row_count"`
	LastInsertRowID  json.RawMessage     `json:"last_insert_rowid"`
}

// queryResultJSON is a step's outcome: exactly one of Result and Error is
// populated, matching spec.md §4.K's ResultRows|Error variant.
type queryResultJSON struct {
	Result *rowResultJSON `json:"result,omitempty"`
	Error  *WireError     `json:"error,omitempty"`
}

// describeResponseJSON is the wire shape of a describe reply.
type describeResponseJSON struct {
	Params     []describeParamJSON `json:"params"`
	Cols       []columnJSON        `json:"cols"`
	IsExplain  bool                `json:"is_explain"`
	IsReadOnly bool                `json:"is_readonly"`
}

type describeParamJSON struct {
	Name string `json:"name,omitempty"`
}
