// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package wire implements the peer-to-peer wire protocol: the message
// catalog, their tag bytes and field encodings, and the length-prefixed
// frame codec that carries them over a TCP connection.
package wire

import (
	"fmt"
	"math/big"
	"net"

	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

// Tag identifies a message variant on the wire. Unknown tags are a protocol
// violation, never silently accepted.
type Tag uint8

const (
	TagChallengeRequest Tag = iota
	TagChallengeResponse
	TagDisconnect
	TagPing
	TagPong
	TagPeerRequest
	TagPeerResponse
	TagBlockRequest
	TagBlockResponse
	TagUnconfirmedBlock
	TagUnconfirmedTransaction
	TagWorkerPing
	TagTransmissionRequest
	TagTransmissionResponse
)

func (t Tag) String() string {
	switch t {
	case TagChallengeRequest:
		return "ChallengeRequest"
	case TagChallengeResponse:
		return "ChallengeResponse"
	case TagDisconnect:
		return "Disconnect"
	case TagPing:
		return "Ping"
	case TagPong:
		return "Pong"
	case TagPeerRequest:
		return "PeerRequest"
	case TagPeerResponse:
		return "PeerResponse"
	case TagBlockRequest:
		return "BlockRequest"
	case TagBlockResponse:
		return "BlockResponse"
	case TagUnconfirmedBlock:
		return "UnconfirmedBlock"
	case TagUnconfirmedTransaction:
		return "UnconfirmedTransaction"
	case TagWorkerPing:
		return "WorkerPing"
	case TagTransmissionRequest:
		return "TransmissionRequest"
	case TagTransmissionResponse:
		return "TransmissionResponse"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// Message is implemented by every wire message type.
type Message interface {
	Tag() Tag
}

// ChallengeRequest is the first message exchanged during a handshake.
type ChallengeRequest struct {
	Version          uint32
	ForkDepth        uint32
	NodeType         types.NodeType
	Status           types.Status
	ListenerPort     uint16
	Nonce            uint64
	CumulativeWeight *big.Int
}

func (ChallengeRequest) Tag() Tag { return TagChallengeRequest }

// ChallengeResponse follows a successful ChallengeRequest exchange and
// carries the genesis header for byte-for-byte comparison.
type ChallengeResponse struct {
	GenesisHeader *types.Data[types.BlockHeader]
}

func (ChallengeResponse) Tag() Tag { return TagChallengeResponse }

// Disconnect announces the reason a peer is tearing down the connection.
type Disconnect struct {
	Reason types.DisconnectReason
	// Port is populated only for ReasonYourPortIsClosed.
	Port uint16
}

func (Disconnect) Tag() Tag { return TagDisconnect }

// Ping is sent at handshake completion and every PingSleep thereafter.
type Ping struct {
	Version           uint32
	ForkDepth         uint32
	NodeType          types.NodeType
	Status            types.Status
	LatestBlockHash   types.ID32
	LatestBlockHeader *types.Data[types.BlockHeader]
}

func (Ping) Tag() Tag { return TagPing }

// Pong answers a Ping. IsFork is nil when the peer's claimed height is
// unknown locally.
type Pong struct {
	IsFork  *bool
	Locators *types.Data[*types.BlockLocators]
}

func (Pong) Tag() Tag { return TagPong }

// PeerRequest asks the remote for its connected-peer list.
type PeerRequest struct{}

func (PeerRequest) Tag() Tag { return TagPeerRequest }

// PeerResponse carries the remote's connected-peer IPs.
type PeerResponse struct {
	IPs []net.TCPAddr
}

func (PeerResponse) Tag() Tag { return TagPeerResponse }

// BlockRequest asks for an inclusive range of blocks.
type BlockRequest struct {
	Start uint32
	End   uint32
}

func (BlockRequest) Tag() Tag { return TagBlockRequest }

// BlockResponse carries a single requested block.
type BlockResponse struct {
	Block *types.Data[types.Block]
}

func (BlockResponse) Tag() Tag { return TagBlockResponse }

// UnconfirmedBlock announces a best-effort, not-yet-finalized block.
type UnconfirmedBlock struct {
	Height uint32
	Hash   types.ID32
	Block  *types.Data[types.Block]
}

func (UnconfirmedBlock) Tag() Tag { return TagUnconfirmedBlock }

// UnconfirmedTransaction announces a gossiped, unconfirmed transaction.
type UnconfirmedTransaction struct {
	Transaction *types.Data[[]byte]
}

func (UnconfirmedTransaction) Tag() Tag { return TagUnconfirmedTransaction }

// WorkerPing advertises a sample of a worker's ready-queue ids.
type WorkerPing struct {
	IDs []types.TransmissionID
}

func (WorkerPing) Tag() Tag { return TagWorkerPing }

// TransmissionRequest asks a peer for a specific transmission.
type TransmissionRequest struct {
	ID types.TransmissionID
}

func (TransmissionRequest) Tag() Tag { return TagTransmissionRequest }

// TransmissionResponse answers a TransmissionRequest.
type TransmissionResponse struct {
	ID           types.TransmissionID
	Transmission types.Transmission
}

func (TransmissionResponse) Tag() Tag { return TagTransmissionResponse }
