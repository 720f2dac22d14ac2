// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package serialize encodes and decodes the values described by package
// value into bytes suitable for content-addressed storage.
//
// Two encodings are used, selected by the value's Kind:
//
//   - Every non-array value is packed with MessagePack, with map keys sorted
//     so that two structurally equal values always produce identical bytes.
//   - DenseArray values use a small binary framing (dtype tag, rank,
//     little-endian shape, raw C-order buffer) since MessagePack has no
//     native notion of a typed, shaped numeric buffer.
package serialize

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/jinterlante1206/pystele-go/internal/value"
)

// ObjectType tags which decoder a serialized object requires.
type ObjectType string

const (
	// ObjectTypePrimitive marks the MessagePack encoding used for every
	// non-array value.
	ObjectTypePrimitive ObjectType = "primitive-pack"

	// ObjectTypeArray marks the dense-array framing.
	ObjectTypeArray ObjectType = "dense-array"
)

// Encode serializes v and reports which ObjectType the bytes require on
// restore.
func Encode(v value.Value) ([]byte, ObjectType, error) {
	if v.Kind == value.KindArray {
		b, err := encodeArray(v.Array)
		return b, ObjectTypeArray, err
	}
	b, err := encodeMsgpack(v)
	return b, ObjectTypePrimitive, err
}

// Decode reverses Encode given the ObjectType recorded for the object.
func Decode(data []byte, typ ObjectType) (value.Value, error) {
	switch typ {
	case ObjectTypeArray:
		arr, err := decodeArray(data)
		if err != nil {
			return value.Value{}, err
		}
		return value.Value{Kind: value.KindArray, Array: arr}, nil
	case ObjectTypePrimitive:
		return decodeMsgpack(data)
	default:
		return value.Value{}, fmt.Errorf("serialize: unknown object type %q", typ)
	}
}

// wireValue mirrors value.Value in a shape msgpack can marshal directly;
// only the active field for v.Kind is populated, matching the original
// MessagePack-compatible encoding's use of a plain tagged structure.
type wireValue struct {
	Kind   string               `msgpack:"kind"`
	Bool   bool                 `msgpack:"bool,omitempty"`
	Int    int64                `msgpack:"int,omitempty"`
	Float  float64              `msgpack:"float,omitempty"`
	String string               `msgpack:"string,omitempty"`
	Bytes  []byte               `msgpack:"bytes,omitempty"`
	Seq    []wireValue          `msgpack:"seq,omitempty"`
	Map    map[string]wireValue `msgpack:"map,omitempty"`
}

func toWire(v value.Value) wireValue {
	w := wireValue{Kind: v.Kind.String()}
	switch v.Kind {
	case value.KindBool:
		w.Bool = v.Bool
	case value.KindInt:
		w.Int = v.Int
	case value.KindFloat:
		w.Float = v.Float
	case value.KindString:
		w.String = v.String
	case value.KindBytes:
		w.Bytes = v.Bytes
	case value.KindSeq:
		w.Seq = make([]wireValue, len(v.Seq))
		for i, e := range v.Seq {
			w.Seq[i] = toWire(e)
		}
	case value.KindMap:
		w.Map = make(map[string]wireValue, len(v.Map))
		for k, e := range v.Map {
			w.Map[k] = toWire(e)
		}
	}
	return w
}

func fromWire(w wireValue) (value.Value, error) {
	switch w.Kind {
	case value.KindNull.String():
		return value.Value{Kind: value.KindNull}, nil
	case value.KindBool.String():
		return value.Value{Kind: value.KindBool, Bool: w.Bool}, nil
	case value.KindInt.String():
		return value.Value{Kind: value.KindInt, Int: w.Int}, nil
	case value.KindFloat.String():
		return value.Value{Kind: value.KindFloat, Float: w.Float}, nil
	case value.KindString.String():
		return value.Value{Kind: value.KindString, String: w.String}, nil
	case value.KindBytes.String():
		return value.Value{Kind: value.KindBytes, Bytes: w.Bytes}, nil
	case value.KindSeq.String():
		seq := make([]value.Value, len(w.Seq))
		for i, e := range w.Seq {
			dv, err := fromWire(e)
			if err != nil {
				return value.Value{}, err
			}
			seq[i] = dv
		}
		return value.Value{Kind: value.KindSeq, Seq: seq}, nil
	case value.KindMap.String():
		m := make(map[string]value.Value, len(w.Map))
		for k, e := range w.Map {
			dv, err := fromWire(e)
			if err != nil {
				return value.Value{}, err
			}
			m[k] = dv
		}
		return value.Value{Kind: value.KindMap, Map: m}, nil
	default:
		return value.Value{}, fmt.Errorf("serialize: unknown wire kind %q", w.Kind)
	}
}

func encodeMsgpack(v value.Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(toWire(v)); err != nil {
		return nil, fmt.Errorf("serialize: msgpack encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeMsgpack(data []byte) (value.Value, error) {
	var w wireValue
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return value.Value{}, fmt.Errorf("serialize: msgpack decode: %w", err)
	}
	return fromWire(w)
}

// dense array wire format: 1 byte dtype length, dtype bytes, 1 byte rank,
// rank*8 bytes of little-endian int64 shape dims, then the raw buffer.
func encodeArray(a *value.DenseArray) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("serialize: nil dense array")
	}
	if len(a.DType) > 255 {
		return nil, fmt.Errorf("serialize: dtype name too long")
	}
	if len(a.Shape) > 255 {
		return nil, fmt.Errorf("serialize: rank too large")
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(len(a.DType)))
	buf.WriteString(a.DType)
	buf.WriteByte(byte(len(a.Shape)))
	for _, dim := range a.Shape {
		if err := binary.Write(&buf, binary.LittleEndian, dim); err != nil {
			return nil, fmt.Errorf("serialize: write shape: %w", err)
		}
	}
	buf.Write(a.Data)
	return buf.Bytes(), nil
}

func decodeArray(data []byte) (*value.DenseArray, error) {
	r := bytes.NewReader(data)

	dtypeLen, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("serialize: read dtype length: %w", err)
	}
	dtypeBuf := make([]byte, dtypeLen)
	if _, err := r.Read(dtypeBuf); err != nil {
		return nil, fmt.Errorf("serialize: read dtype: %w", err)
	}

	rank, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("serialize: read rank: %w", err)
	}
	shape := make([]int64, rank)
	for i := range shape {
		if err := binary.Read(r, binary.LittleEndian, &shape[i]); err != nil {
			return nil, fmt.Errorf("serialize: read shape dim %d: %w", i, err)
		}
	}

	rest := make([]byte, r.Len())
	if _, err := r.Read(rest); err != nil && r.Len() > 0 {
		return nil, fmt.Errorf("serialize: read buffer: %w", err)
	}

	return &value.DenseArray{
		DType: string(dtypeBuf),
		Shape: shape,
		Data:  rest,
	}, nil
}
