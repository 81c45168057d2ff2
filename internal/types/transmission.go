// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package types

import (
	"bytes"
	"fmt"
)

// TransmissionVariant tags the kind of item carried by a Transmission or a
// TransmissionID. Ratification is representable on the wire (for exhaustive
// tag handling) but is never admitted into a worker's ready queue.
type TransmissionVariant uint8

const (
	VariantSolution TransmissionVariant = iota
	VariantTransaction
	VariantRatification
)

func (v TransmissionVariant) String() string {
	switch v {
	case VariantSolution:
		return "Solution"
	case VariantTransaction:
		return "Transaction"
	case VariantRatification:
		return "Ratification"
	default:
		return fmt.Sprintf("TransmissionVariant(%d)", uint8(v))
	}
}

func (v TransmissionVariant) Valid() bool {
	return v == VariantSolution || v == VariantTransaction || v == VariantRatification
}

// ID32 is a generic 32-byte content identifier (solution id, transaction id,
// or a checksum).
type ID32 [32]byte

func (h ID32) String() string { return fmt.Sprintf("%x", [32]byte(h)) }

// TransmissionID identifies a transmission by variant, identity and content
// checksum. Two transmissions with equal ID but different Checksum are
// distinct for deduplication purposes: the checksum, not the id, is
// authoritative.
type TransmissionID struct {
	Variant  TransmissionVariant
	ID       ID32
	Checksum ID32
}

// Equal compares variant, id and checksum.
func (t TransmissionID) Equal(o TransmissionID) bool {
	return t.Variant == o.Variant && t.ID == o.ID && t.Checksum == o.Checksum
}

// SameIdentity compares variant and id only, ignoring checksum — used when
// matching a response against a pending fetch registered before the
// checksum of the eventual payload was known to the requester.
func (t TransmissionID) SameIdentity(o TransmissionID) bool {
	return t.Variant == o.Variant && t.ID == o.ID
}

func (t TransmissionID) String() string {
	return fmt.Sprintf("%s(%x/%x)", t.Variant, t.ID[:8], t.Checksum[:8])
}

// Data is the deferred-deserialize envelope: a two-state value holding
// either a fully deserialized Object or an opaque serialized Buffer.
// Conversion from Object to Buffer happens once and is memoized; conversion
// from Buffer to Object is performed lazily by the consumer via a supplied
// decode function, off the I/O path.
type Data[T any] struct {
	object  T
	buf     []byte
	hasObj  bool
	hasBuf  bool
	encode  func(T) ([]byte, error)
	decode  func([]byte) (T, error)
}

// NewObjectData constructs a Data value in the Object state.
func NewObjectData[T any](v T, encode func(T) ([]byte, error), decode func([]byte) (T, error)) *Data[T] {
	return &Data[T]{object: v, hasObj: true, encode: encode, decode: decode}
}

// NewBufferData constructs a Data value in the Buffer state.
func NewBufferData[T any](buf []byte, encode func(T) ([]byte, error), decode func([]byte) (T, error)) *Data[T] {
	return &Data[T]{buf: buf, hasBuf: true, encode: encode, decode: decode}
}

// AsBuffer returns the serialized form, computing and memoizing it from the
// Object state if necessary. This is the conversion the sender performs
// before queuing a frame to the socket, so the I/O task never blocks on
// serialization.
func (d *Data[T]) AsBuffer() ([]byte, error) {
	if d.hasBuf {
		return d.buf, nil
	}
	b, err := d.encode(d.object)
	if err != nil {
		return nil, err
	}
	d.buf = b
	d.hasBuf = true
	return b, nil
}

// AsObject returns the deserialized form, computing and memoizing it from
// the Buffer state if necessary. Callers invoke this off the I/O goroutine.
func (d *Data[T]) AsObject() (T, error) {
	if d.hasObj {
		return d.object, nil
	}
	v, err := d.decode(d.buf)
	if err != nil {
		var zero T
		return zero, err
	}
	d.object = v
	d.hasObj = true
	return v, nil
}

// BytesEqual reports whether two buffers are byte-identical.
func BytesEqual(a, b []byte) bool { return bytes.Equal(a, b) }

// Transmission is tagged with one of {Solution, Transaction, Ratification}
// by Variant; every variant shares the single Payload field. A Transmission
// may carry either a deserialized object or an opaque buffer, via the
// Payload Data envelope.
type Transmission struct {
	Variant TransmissionVariant
	Payload *Data[[]byte]
}

// NewTransmission constructs a Transmission around a raw payload buffer.
func NewTransmission(variant TransmissionVariant, buf []byte) (Transmission, error) {
	if !variant.Valid() {
		return Transmission{}, fmt.Errorf("unknown transmission variant %d", variant)
	}
	return Transmission{
		Variant: variant,
		Payload: NewBufferData(buf, identityEncode, identityDecode),
	}, nil
}

func identityEncode(b []byte) ([]byte, error) { return b, nil }
func identityDecode(b []byte) ([]byte, error) { return b, nil }

// Bytes returns the raw payload bytes.
func (t Transmission) Bytes() ([]byte, error) {
	return t.Payload.AsBuffer()
}
