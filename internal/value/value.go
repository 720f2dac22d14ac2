// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package value defines the closed set of types an execution's variables
// may hold, and classifies arbitrary Go values into that set.
//
// A namespace handed to the checkpoint store is a bag of ordinary Go values
// (ints, strings, maps, slices, dense arrays) produced by caller code. Before
// anything is serialized, every value in the bag is walked and classified:
// admissible values are lowered into a Value tree, anything else is rejected
// with an error naming exactly where the walk failed.
package value

import "fmt"

// Kind identifies which alternative of the Value union is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindSeq
	KindMap
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindSeq:
		return "seq"
	case KindMap:
		return "map"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// DenseArray is a host-resident, C-order contiguous numeric array.
//
// Device must be empty or "cpu". Any other value (e.g. "cuda:0") means the
// array is accelerator-resident and is rejected during classification —
// this engine only ever captures data already on the host.
type DenseArray struct {
	DType  string
	Shape  []int64
	Data   []byte
	Device string
}

// Value is the closed tagged union every admissible variable lowers into.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Float  float64
	String string
	Bytes  []byte
	Seq    []Value
	Map    map[string]Value
	Array  *DenseArray
}

// Native converts v back to the plain Go value a caller expects to find in
// a restored namespace: nil, bool, int64, float64, string, []byte, []any,
// map[string]any, or *DenseArray.
func (v Value) Native() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindString:
		return v.String
	case KindBytes:
		return v.Bytes
	case KindSeq:
		seq := make([]any, len(v.Seq))
		for i, e := range v.Seq {
			seq[i] = e.Native()
		}
		return seq
	case KindMap:
		m := make(map[string]any, len(v.Map))
		for k, e := range v.Map {
			m[k] = e.Native()
		}
		return m
	case KindArray:
		return v.Array
	default:
		return nil
	}
}

// UnsafeValueError reports the location and reason a namespace value was
// rejected by the classifier.
type UnsafeValueError struct {
	Path   string
	Reason string
}

func (e *UnsafeValueError) Error() string {
	return fmt.Sprintf("unsafe value at %s: %s", e.Path, e.Reason)
}

// hasDevice is implemented by caller-provided array types that expose their
// residency. Such a value on a device other than the host is rejected as
// accelerator-resident; a host-resident one is still rejected as an
// unsupported type, because only *DenseArray is lowered. *DenseArray does
// not implement this interface; its Device field is checked directly.
type hasDevice interface {
	DeviceName() string
}

// Classify walks v and lowers it into a Value, returning an *UnsafeValueError
// if any part of v falls outside the admissible subset: nil, bool, int,
// int8-int64, uint, uint8-uint32, float32, float64, string, []byte, []any
// and map[string]any whose elements are admissible, and *DenseArray with
// Device empty or "cpu". uint64 and uintptr are rejected, as are typed
// containers such as []int or map[string]string.
func Classify(v any) (Value, error) {
	return classify(v, "$")
}

// ClassifyNamespace classifies every entry of a namespace, returning the
// lowered Value for each name. Ordering is left to the caller — namespaces
// are represented by the ordinary map[string]any callers already hold.
func ClassifyNamespace(ns map[string]any) (map[string]Value, error) {
	out := make(map[string]Value, len(ns))
	for name, v := range ns {
		lowered, err := classify(v, "$."+name)
		if err != nil {
			return nil, err
		}
		out[name] = lowered
	}
	return out, nil
}

func classify(v any, path string) (Value, error) {
	if v == nil {
		return Value{Kind: KindNull}, nil
	}

	switch x := v.(type) {
	case bool:
		return Value{Kind: KindBool, Bool: x}, nil
	case int:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case int8:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case int16:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case int32:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case int64:
		return Value{Kind: KindInt, Int: x}, nil
	case uint:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case uint8:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case uint16:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case uint32:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case float32:
		return Value{Kind: KindFloat, Float: float64(x)}, nil
	case float64:
		return Value{Kind: KindFloat, Float: x}, nil
	case string:
		return Value{Kind: KindString, String: x}, nil
	case []byte:
		return Value{Kind: KindBytes, Bytes: x}, nil
	case *DenseArray:
		if x == nil {
			return Value{}, &UnsafeValueError{Path: path, Reason: "nil dense array"}
		}
		if x.Device != "" && x.Device != "cpu" {
			return Value{}, &UnsafeValueError{Path: path, Reason: fmt.Sprintf("accelerator-resident array (device %q)", x.Device)}
		}
		return Value{Kind: KindArray, Array: x}, nil
	}

	if hd, ok := v.(hasDevice); ok {
		if d := hd.DeviceName(); d != "" && d != "cpu" {
			return Value{}, &UnsafeValueError{Path: path, Reason: fmt.Sprintf("accelerator-resident array (device %q)", d)}
		}
	}

	switch x := v.(type) {
	case []any:
		seq := make([]Value, 0, len(x))
		for i, elem := range x {
			lowered, err := classify(elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return Value{}, err
			}
			seq = append(seq, lowered)
		}
		return Value{Kind: KindSeq, Seq: seq}, nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, elem := range x {
			lowered, err := classify(elem, fmt.Sprintf("%s.%s", path, k))
			if err != nil {
				return Value{}, err
			}
			m[k] = lowered
		}
		return Value{Kind: KindMap, Map: m}, nil
	}

	return Value{}, &UnsafeValueError{Path: path, Reason: fmt.Sprintf("unsupported type %T", v)}
}
