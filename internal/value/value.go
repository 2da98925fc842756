// Package value defines the tagged-union Value type and the small set of
// structures (Column, Row, Params) that flow between the engine, the
// program evaluator, the result builder, and the wire adapters.
package value

import "fmt"

// Kind discriminates a Value's payload.
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindText
	KindBlob
)

// Value is the tagged union Null | Integer | Float | Text | Blob.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

func Null() Value               { return Value{kind: KindNull} }
func Integer(i int64) Value     { return Value{kind: KindInteger, i: i} }
func Float(f float64) Value     { return Value{kind: KindFloat, f: f} }
func Text(s string) Value       { return Value{kind: KindText, s: s} }
func Blob(b []byte) Value       { return Value{kind: KindBlob, b: b} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int64 returns the integer payload; it is only meaningful when Kind() ==
// KindInteger.
func (v Value) Int64() int64 { return v.i }

// Float64 returns the float payload; it is only meaningful when Kind() ==
// KindFloat.
func (v Value) Float64() float64 { return v.f }

// TextVal returns the text payload; it is only meaningful when Kind() ==
// KindText.
func (v Value) TextVal() string { return v.s }

// BlobVal returns the blob payload; it is only meaningful when Kind() ==
// KindBlob.
func (v Value) BlobVal() []byte { return v.b }

// EncodedSize approximates the wire cost of this value, used by the result
// builder's size budget: integers and the last-insert-rowid travel as
// decimal strings, blobs as unpadded base64, text as-is.
func (v Value) EncodedSize() uint64 {
	switch v.kind {
	case KindNull:
		return 0
	case KindInteger:
		return uint64(len(fmt.Sprintf("%d", v.i)))
	case KindFloat:
		return uint64(len(fmt.Sprintf("%v", v.f)))
	case KindText:
		return uint64(len(v.s))
	case KindBlob:
		// unpadded base64 expands 3 bytes to 4 characters.
		return uint64((len(v.b)*4 + 2) / 3)
	default:
		return 0
	}
}

// Column describes one column of a result set.
type Column struct {
	Name     string
	DeclType string // empty means "no declared type"
}

// Row is an ordered list of values, one per column in the owning result.
type Row []Value

// Params is either a positional list of values or a name->value mapping.
// Exactly one of Positional or Named is meaningful, selected by Named
// being non-nil.
type Params struct {
	Positional []Value
	Named      map[string]Value
}

// PositionalParams builds a Params from an ordered value list.
func PositionalParams(values ...Value) Params {
	return Params{Positional: values}
}

// NamedParams builds a Params from a name->value mapping. Keys must be
// unique; order carries no meaning.
func NamedParams(m map[string]Value) Params {
	return Params{Named: m}
}

// IsNamed reports whether this Params uses named binding.
func (p Params) IsNamed() bool { return p.Named != nil }
