package rib

import "fmt"

// Value is the tagged variant every RIB object's payload carries
// (spec.md §3): integer, string, bytes, ordered sequence, or string-keyed
// mapping. It is itself a CBOR-encodable struct rather than a Go interface
// so the whole RIB can round-trip through the DIF-wide wire encoding
// without a custom marshaler registry.
type Value struct {
	Int   *int64           `cbor:"1,keyasint,omitempty"`
	Str   *string          `cbor:"2,keyasint,omitempty"`
	Bytes []byte           `cbor:"3,keyasint,omitempty"`
	Seq   []Value          `cbor:"4,keyasint,omitempty"`
	Map   map[string]Value `cbor:"5,keyasint,omitempty"`
}

func Int(v int64) Value            { return Value{Int: &v} }
func Str(v string) Value           { return Value{Str: &v} }
func Bytes(v []byte) Value         { return Value{Bytes: v} }
func Seq(v ...Value) Value         { return Value{Seq: v} }
func Map(v map[string]Value) Value { return Value{Map: v} }

// Clone returns a Value with no storage shared with v: Bytes is copied,
// and Seq/Map are recursively cloned element-by-element. Used wherever a
// Value crosses the RIB's lock boundary (spec.md §5) so a caller mutating
// a slice or map they passed in, or one they read out, cannot reach
// storage the RIB still owns.
func (v Value) Clone() Value {
	cp := v
	if v.Int != nil {
		n := *v.Int
		cp.Int = &n
	}
	if v.Str != nil {
		s := *v.Str
		cp.Str = &s
	}
	if v.Bytes != nil {
		cp.Bytes = append([]byte(nil), v.Bytes...)
	}
	if v.Seq != nil {
		cp.Seq = make([]Value, len(v.Seq))
		for i, elem := range v.Seq {
			cp.Seq[i] = elem.Clone()
		}
	}
	if v.Map != nil {
		cp.Map = make(map[string]Value, len(v.Map))
		for k, elem := range v.Map {
			cp.Map[k] = elem.Clone()
		}
	}
	return cp
}

func (v Value) IsInt() bool   { return v.Int != nil }
func (v Value) IsStr() bool   { return v.Str != nil }
func (v Value) IsBytes() bool { return v.Bytes != nil }
func (v Value) IsSeq() bool   { return v.Seq != nil }
func (v Value) IsMap() bool   { return v.Map != nil }

func (v Value) AsInt() (int64, bool) {
	if v.Int == nil {
		return 0, false
	}
	return *v.Int, true
}

func (v Value) AsStr() (string, bool) {
	if v.Str == nil {
		return "", false
	}
	return *v.Str, true
}

func (v Value) AsMap() (map[string]Value, bool) {
	if v.Map == nil {
		return nil, false
	}
	return v.Map, true
}

func (v Value) String() string {
	switch {
	case v.IsInt():
		return fmt.Sprintf("%d", *v.Int)
	case v.IsStr():
		return *v.Str
	case v.IsBytes():
		return fmt.Sprintf("bytes(%d)", len(v.Bytes))
	case v.IsSeq():
		return fmt.Sprintf("seq(%d)", len(v.Seq))
	case v.IsMap():
		return fmt.Sprintf("map(%d)", len(v.Map))
	default:
		return "<empty>"
	}
}
