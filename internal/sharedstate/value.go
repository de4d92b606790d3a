package sharedstate

import (
	"bytes"
	"fmt"
)

type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
	KindBytes  Kind = "bytes"
)

// Value is one field of a published scope. Exactly the member matching
// Kind is meaningful.
type Value struct {
	Kind  Kind   `json:"kind"`
	Str   string `json:"str,omitempty"`
	Int   int64  `json:"int,omitempty"`
	Bool  bool   `json:"bool,omitempty"`
	Bytes []byte `json:"bytes,omitempty"`
}

// Fields is the full contents of a scope.
type Fields map[string]Value

func String(s string) Value { return Value{Kind: KindString, Str: s} }
func Int(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func Bool(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func Bytes(b []byte) Value  { return Value{Kind: KindBytes, Bytes: b} }

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindInt:
		return v.Int == o.Int
	case KindBool:
		return v.Bool == o.Bool
	case KindBytes:
		return bytes.Equal(v.Bytes, o.Bytes)
	}
	return false
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindBytes:
		return fmt.Sprintf("<%d bytes>", len(v.Bytes))
	}
	return ""
}

func (v Value) validate() error {
	switch v.Kind {
	case KindString, KindInt, KindBool, KindBytes:
		return nil
	}
	return fmt.Errorf("unsupported value kind %q", v.Kind)
}

// Get returns the string member of fields[name], or "" if absent or of
// another kind.
func (f Fields) Get(name string) string {
	if v, ok := f[name]; ok && v.Kind == KindString {
		return v.Str
	}
	return ""
}

func (f Fields) GetInt(name string) int64 {
	if v, ok := f[name]; ok && v.Kind == KindInt {
		return v.Int
	}
	return 0
}

func (f Fields) GetBool(name string) bool {
	if v, ok := f[name]; ok && v.Kind == KindBool {
		return v.Bool
	}
	return false
}

func (f Fields) Equal(o Fields) bool {
	if len(f) != len(o) {
		return false
	}
	for k, v := range f {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Without returns a copy of f minus the named fields.
func (f Fields) Without(names ...string) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	for _, n := range names {
		delete(out, n)
	}
	return out
}
