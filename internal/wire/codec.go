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
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math/big"
	"net"

	"github.com/golang/snappy"

	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

// gobEncode/gobDecode back the Data[T] envelopes used for large bodies
// (genesis/latest headers, blocks, block locators). Payloads are
// snappy-compressed before hitting the wire, mirroring devp2p's snappy
// framing; the compressed bytes are exactly the envelope's Buffer state, so
// Data(Object) and Data(Buffer) serialize identically once compressed.
func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return snappy.Encode(nil, buf.Bytes()), nil
}

func gobDecodeInto(b []byte, v interface{}) error {
	raw, err := snappy.Decode(nil, b)
	if err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(v)
}

func encodeBlockHeader(h types.BlockHeader) ([]byte, error) { return gobEncode(h) }
func decodeBlockHeader(b []byte) (types.BlockHeader, error) {
	var h types.BlockHeader
	err := gobDecodeInto(b, &h)
	return h, err
}

func encodeBlock(b types.Block) ([]byte, error) { return gobEncode(b) }
func decodeBlock(b []byte) (types.Block, error) {
	var blk types.Block
	err := gobDecodeInto(b, &blk)
	return blk, err
}

func encodeLocators(l *types.BlockLocators) ([]byte, error) { return gobEncode(l) }
func decodeLocators(b []byte) (*types.BlockLocators, error) {
	var l types.BlockLocators
	if err := gobDecodeInto(b, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func encodeRawBytes(b []byte) ([]byte, error) { return b, nil }
func decodeRawBytes(b []byte) ([]byte, error) { return b, nil }

// NewBlockHeaderData wraps a deserialized header in a Data envelope.
func NewBlockHeaderData(h types.BlockHeader) *types.Data[types.BlockHeader] {
	return types.NewObjectData(h, encodeBlockHeader, decodeBlockHeader)
}

// NewBlockHeaderDataFromBuffer wraps a serialized header buffer.
func NewBlockHeaderDataFromBuffer(buf []byte) *types.Data[types.BlockHeader] {
	return types.NewBufferData(buf, encodeBlockHeader, decodeBlockHeader)
}

// NewBlockData wraps a deserialized block in a Data envelope.
func NewBlockData(b types.Block) *types.Data[types.Block] {
	return types.NewObjectData(b, encodeBlock, decodeBlock)
}

// NewBlockDataFromBuffer wraps a serialized block buffer.
func NewBlockDataFromBuffer(buf []byte) *types.Data[types.Block] {
	return types.NewBufferData(buf, encodeBlock, decodeBlock)
}

// NewLocatorsData wraps deserialized block locators in a Data envelope.
func NewLocatorsData(l *types.BlockLocators) *types.Data[*types.BlockLocators] {
	return types.NewObjectData(l, encodeLocators, decodeLocators)
}

// NewLocatorsDataFromBuffer wraps a serialized block-locators buffer.
func NewLocatorsDataFromBuffer(buf []byte) *types.Data[*types.BlockLocators] {
	return types.NewBufferData(buf, encodeLocators, decodeLocators)
}

// --- scalar field helpers: fixed order, little-endian for numeric fields ---

func putUint16(buf *bytes.Buffer, v uint16) { binary.Write(buf, binary.LittleEndian, v) }
func putUint32(buf *bytes.Buffer, v uint32) { binary.Write(buf, binary.LittleEndian, v) }
func putUint64(buf *bytes.Buffer, v uint64) { binary.Write(buf, binary.LittleEndian, v) }

func putBigInt(buf *bytes.Buffer, v *big.Int) {
	if v == nil {
		v = new(big.Int)
	}
	b := v.Bytes()
	putUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func readBigInt(r *bytes.Reader) (*big.Int, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func putID32(buf *bytes.Buffer, id types.ID32) { buf.Write(id[:]) }

func readID32(r *bytes.Reader) (types.ID32, error) {
	var id types.ID32
	_, err := r.Read(id[:])
	return id, err
}

func putTransmissionID(buf *bytes.Buffer, id types.TransmissionID) {
	buf.WriteByte(byte(id.Variant))
	putID32(buf, id.ID)
	putID32(buf, id.Checksum)
}

func readTransmissionID(r *bytes.Reader) (types.TransmissionID, error) {
	var id types.TransmissionID
	v, err := r.ReadByte()
	if err != nil {
		return id, err
	}
	id.Variant = types.TransmissionVariant(v)
	if id.ID, err = readID32(r); err != nil {
		return id, err
	}
	if id.Checksum, err = readID32(r); err != nil {
		return id, err
	}
	return id, nil
}

func putBytes(buf *bytes.Buffer, b []byte) {
	putUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Encode serializes a Message into its tag byte followed by the
// canonical field encoding of its payload.
func Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(msg.Tag()))

	switch m := msg.(type) {
	case ChallengeRequest:
		putUint32(&buf, m.Version)
		putUint32(&buf, m.ForkDepth)
		buf.WriteByte(byte(m.NodeType))
		buf.WriteByte(byte(m.Status))
		putUint16(&buf, m.ListenerPort)
		putUint64(&buf, m.Nonce)
		putBigInt(&buf, m.CumulativeWeight)

	case ChallengeResponse:
		hb, err := m.GenesisHeader.AsBuffer()
		if err != nil {
			return nil, err
		}
		putBytes(&buf, hb)

	case Disconnect:
		buf.WriteByte(byte(m.Reason))
		putUint16(&buf, m.Port)

	case Ping:
		putUint32(&buf, m.Version)
		putUint32(&buf, m.ForkDepth)
		buf.WriteByte(byte(m.NodeType))
		buf.WriteByte(byte(m.Status))
		putID32(&buf, m.LatestBlockHash)
		hb, err := m.LatestBlockHeader.AsBuffer()
		if err != nil {
			return nil, err
		}
		putBytes(&buf, hb)

	case Pong:
		if m.IsFork == nil {
			buf.WriteByte(0)
		} else if *m.IsFork {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(2)
		}
		lb, err := m.Locators.AsBuffer()
		if err != nil {
			return nil, err
		}
		putBytes(&buf, lb)

	case PeerRequest:
		// no fields

	case PeerResponse:
		putUint32(&buf, uint32(len(m.IPs)))
		for _, a := range m.IPs {
			ip4 := a.IP.To4()
			if ip4 == nil {
				ip4 = net.IPv4zero.To4()
			}
			buf.Write(ip4)
			putUint16(&buf, uint16(a.Port))
		}

	case BlockRequest:
		putUint32(&buf, m.Start)
		putUint32(&buf, m.End)

	case BlockResponse:
		bb, err := m.Block.AsBuffer()
		if err != nil {
			return nil, err
		}
		putBytes(&buf, bb)

	case UnconfirmedBlock:
		putUint32(&buf, m.Height)
		putID32(&buf, m.Hash)
		bb, err := m.Block.AsBuffer()
		if err != nil {
			return nil, err
		}
		putBytes(&buf, bb)

	case UnconfirmedTransaction:
		tb, err := m.Transaction.AsBuffer()
		if err != nil {
			return nil, err
		}
		putBytes(&buf, tb)

	case WorkerPing:
		putUint32(&buf, uint32(len(m.IDs)))
		for _, id := range m.IDs {
			putTransmissionID(&buf, id)
		}

	case TransmissionRequest:
		putTransmissionID(&buf, m.ID)

	case TransmissionResponse:
		putTransmissionID(&buf, m.ID)
		b, err := m.Transmission.Bytes()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(byte(m.Transmission.Variant))
		putBytes(&buf, b)

	default:
		return nil, fmt.Errorf("wire: unknown message type %T", msg)
	}

	return buf.Bytes(), nil
}

// Decode parses a tag byte followed payload into the corresponding Message.
// An unrecognized tag is always a protocol violation; callers must not
// silently accept it.
func Decode(raw []byte) (Message, error) {
	if len(raw) < 1 {
		return nil, fmt.Errorf("wire: empty frame")
	}
	tag := Tag(raw[0])
	r := bytes.NewReader(raw[1:])

	switch tag {
	case TagChallengeRequest:
		var m ChallengeRequest
		if err := binary.Read(r, binary.LittleEndian, &m.Version); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &m.ForkDepth); err != nil {
			return nil, err
		}
		nt, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		m.NodeType = types.NodeType(nt)
		st, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		m.Status = types.Status(st)
		if err := binary.Read(r, binary.LittleEndian, &m.ListenerPort); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &m.Nonce); err != nil {
			return nil, err
		}
		cw, err := readBigInt(r)
		if err != nil {
			return nil, err
		}
		m.CumulativeWeight = cw
		return m, nil

	case TagChallengeResponse:
		b, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		return ChallengeResponse{GenesisHeader: NewBlockHeaderDataFromBuffer(b)}, nil

	case TagDisconnect:
		var m Disconnect
		rb, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		m.Reason = types.DisconnectReason(rb)
		if err := binary.Read(r, binary.LittleEndian, &m.Port); err != nil {
			return nil, err
		}
		return m, nil

	case TagPing:
		var m Ping
		if err := binary.Read(r, binary.LittleEndian, &m.Version); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &m.ForkDepth); err != nil {
			return nil, err
		}
		nt, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		m.NodeType = types.NodeType(nt)
		st, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		m.Status = types.Status(st)
		if m.LatestBlockHash, err = readID32(r); err != nil {
			return nil, err
		}
		hb, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		m.LatestBlockHeader = NewBlockHeaderDataFromBuffer(hb)
		return m, nil

	case TagPong:
		var m Pong
		flag, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch flag {
		case 0:
			m.IsFork = nil
		case 1:
			t := true
			m.IsFork = &t
		case 2:
			f := false
			m.IsFork = &f
		default:
			return nil, fmt.Errorf("wire: invalid is_fork tag %d", flag)
		}
		lb, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		m.Locators = NewLocatorsDataFromBuffer(lb)
		return m, nil

	case TagPeerRequest:
		return PeerRequest{}, nil

	case TagPeerResponse:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		ips := make([]net.TCPAddr, 0, n)
		for i := uint32(0); i < n; i++ {
			ipb := make([]byte, 4)
			if _, err := r.Read(ipb); err != nil {
				return nil, err
			}
			var port uint16
			if err := binary.Read(r, binary.LittleEndian, &port); err != nil {
				return nil, err
			}
			ips = append(ips, net.TCPAddr{IP: net.IP(ipb), Port: int(port)})
		}
		return PeerResponse{IPs: ips}, nil

	case TagBlockRequest:
		var m BlockRequest
		if err := binary.Read(r, binary.LittleEndian, &m.Start); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &m.End); err != nil {
			return nil, err
		}
		return m, nil

	case TagBlockResponse:
		b, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		return BlockResponse{Block: NewBlockDataFromBuffer(b)}, nil

	case TagUnconfirmedBlock:
		var m UnconfirmedBlock
		if err := binary.Read(r, binary.LittleEndian, &m.Height); err != nil {
			return nil, err
		}
		var err error
		if m.Hash, err = readID32(r); err != nil {
			return nil, err
		}
		b, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		m.Block = NewBlockDataFromBuffer(b)
		return m, nil

	case TagUnconfirmedTransaction:
		b, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		return UnconfirmedTransaction{Transaction: types.NewBufferData(b, encodeRawBytes, decodeRawBytes)}, nil

	case TagWorkerPing:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		ids := make([]types.TransmissionID, 0, n)
		for i := uint32(0); i < n; i++ {
			id, err := readTransmissionID(r)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return WorkerPing{IDs: ids}, nil

	case TagTransmissionRequest:
		id, err := readTransmissionID(r)
		if err != nil {
			return nil, err
		}
		return TransmissionRequest{ID: id}, nil

	case TagTransmissionResponse:
		id, err := readTransmissionID(r)
		if err != nil {
			return nil, err
		}
		variant, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		b, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		tm, err := types.NewTransmission(types.TransmissionVariant(variant), b)
		if err != nil {
			return nil, err
		}
		return TransmissionResponse{ID: id, Transmission: tm}, nil

	default:
		return nil, fmt.Errorf("wire: unknown message tag %d", tag)
	}
}
