// Package hrana implements the JSON client wire protocol named in spec.md
// §6: hello/request/response framing, the open_stream/execute/batch/
// describe/store_sql/close_sql request variants, and the tagged Value JSON
// encoding, all layered on top of internal/adapter.
package hrana

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/libsqlgo/sqld/internal/sqlderr"
	"github.com/libsqlgo/sqld/internal/value"
)

// jsonValue is the wire shape of value.Value: a struct tagged by "type",
// only one of whose other fields is populated depending on that tag.
// integer and last_insert_rowid both travel as decimal strings (spec.md
// §6) since JSON numbers lose precision past 2^53.
type jsonValue struct {
	Type   string          `json:"type"`
	Value  json.RawMessage `json:"value,omitempty"`
	Base64 string          `json:"base64,omitempty"`
}

// MarshalValue encodes v per spec.md §6's tagged Value JSON shape.
func MarshalValue(v value.Value) ([]byte, error) {
	switch v.Kind() {
	case value.KindNull:
		return json.Marshal(jsonValue{Type: "null"})
	case value.KindInteger:
		enc, _ := json.Marshal(strconv.FormatInt(v.Int64(), 10))
		return json.Marshal(jsonValue{Type: "integer", Value: enc})
	case value.KindFloat:
		enc, _ := json.Marshal(v.Float64())
		return json.Marshal(jsonValue{Type: "float", Value: enc})
	case value.KindText:
		enc, _ := json.Marshal(v.TextVal())
		return json.Marshal(jsonValue{Type: "text", Value: enc})
	case value.KindBlob:
		return json.Marshal(jsonValue{Type: "blob", Base64: base64.RawStdEncoding.EncodeToString(v.BlobVal())})
	default:
		return nil, sqlderr.New(sqlderr.CodeInternal, "unknown value kind")
	}
}

// UnmarshalValue decodes the tagged Value JSON shape described in spec.md
// §6.
func UnmarshalValue(data []byte) (value.Value, error) {
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return value.Value{}, sqlderr.Wrap(sqlderr.CodeInvalidParams, err, "malformed value")
	}
	switch jv.Type {
	case "null", "":
		return value.Null(), nil
	case "integer":
		var s string
		if err := json.Unmarshal(jv.Value, &s); err != nil {
			return value.Value{}, sqlderr.Wrap(sqlderr.CodeInvalidParams, err, "malformed integer value")
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return value.Value{}, sqlderr.Wrap(sqlderr.CodeInvalidParams, err, "malformed integer value")
		}
		return value.Integer(i), nil
	case "float":
		var f float64
		if err := json.Unmarshal(jv.Value, &f); err != nil {
			return value.Value{}, sqlderr.Wrap(sqlderr.CodeInvalidParams, err, "malformed float value")
		}
		return value.Float(f), nil
	case "text":
		var s string
		if err := json.Unmarshal(jv.Value, &s); err != nil {
			return value.Value{}, sqlderr.Wrap(sqlderr.CodeInvalidParams, err, "malformed text value")
		}
		return value.Text(s), nil
	case "blob":
		b, err := base64.RawStdEncoding.DecodeString(jv.Base64)
		if err != nil {
			return value.Value{}, sqlderr.Wrap(sqlderr.CodeInvalidParams, err, "malformed blob value")
		}
		return value.Blob(b), nil
	default:
		return value.Value{}, sqlderr.New(sqlderr.CodeInvalidParams, fmt.Sprintf("unknown value type %q", jv.Type))
	}
}

// marshalLastInsertRowID encodes an optional last_insert_rowid as a
// decimal string, or JSON null.
func marshalLastInsertRowID(id *int64) ([]byte, error) {
	if id == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(strconv.FormatInt(*id, 10))
}
