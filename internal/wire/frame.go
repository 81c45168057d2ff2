// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/AleoNet/snarkOS-sub002/internal/params"
)

// FrameReader reads length-prefixed frames (u32 big-endian length, followed
// by that many bytes of tag+payload) without partial reads reaching the
// caller.
type FrameReader struct {
	r *bufio.Reader
}

func NewFrameReader(conn net.Conn) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(conn, 32*1024)}
}

// ReadFrame blocks until a full frame is available, or returns an error if
// the declared length exceeds MaxFrameSize (turning an oversized frame into
// an error before any large allocation) or the connection fails.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(f.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, fmt.Errorf("wire: zero-length frame")
	}
	if n > params.MaxFrameSize {
		return nil, fmt.Errorf("wire: frame too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(f.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// FrameWriter writes length-prefixed frames to a connection.
type FrameWriter struct {
	w *bufio.Writer
}

func NewFrameWriter(conn net.Conn) *FrameWriter {
	return &FrameWriter{w: bufio.NewWriterSize(conn, 32*1024)}
}

// WriteFrame writes a single frame and flushes it immediately — the writer
// is meant to be driven from one writer goroutine per connection, so an
// internal buffer beyond one frame would only add latency.
func (f *FrameWriter) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("wire: refusing to write empty frame")
	}
	if uint32(len(payload)) > params.MaxFrameSize {
		return fmt.Errorf("wire: frame too large: %d bytes", len(payload))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := f.w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := f.w.Write(payload); err != nil {
		return err
	}
	return f.w.Flush()
}

// WriteMessage encodes and writes msg as a single frame.
func (f *FrameWriter) WriteMessage(msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	return f.WriteFrame(payload)
}

// ReadMessage reads and decodes the next frame.
func (f *FrameReader) ReadMessage() (Message, error) {
	payload, err := f.ReadFrame()
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}
