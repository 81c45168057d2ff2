// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package peer

import (
	"fmt"
	"net"
	"time"

	"github.com/AleoNet/snarkOS-sub002/internal/nodeerr"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
	"github.com/AleoNet/snarkOS-sub002/internal/wire"
)

// Handshaker performs the ChallengeRequest/ChallengeResponse exchange over
// an already-dialed or already-accepted socket and, on success, returns a
// Peer moved into the Connected state with its Conn attached.
type Handshaker struct {
	Local         LocalInfo
	ListenerPort  uint16
	GenesisHeader types.BlockHeader
	NonceInUse    func(nonce uint64) bool
	ProbePort     func(ip net.IP, port uint16) bool
	Now           func() time.Time
}

func (h *Handshaker) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// DialOutbound performs the initiator side of the handshake: send our
// ChallengeRequest first, evaluate the remote's, then exchange
// ChallengeResponses carrying each side's genesis header.
func (h *Handshaker) DialOutbound(raw net.Conn, onDisconnect func(types.DisconnectReason)) (*Peer, *Conn, error) {
	reader := wire.NewFrameReader(raw)
	writer := wire.NewFrameWriter(raw)

	ourReq := h.buildChallengeRequest()
	if err := writer.WriteMessage(ourReq); err != nil {
		return nil, nil, nodeerr.Transport("failed to send challenge request", err)
	}

	msg, err := reader.ReadMessage()
	if err != nil {
		return nil, nil, nodeerr.Transport("failed to read challenge request", err)
	}
	remoteReq, ok := msg.(wire.ChallengeRequest)
	if !ok {
		return nil, nil, nodeerr.ProtocolViolation("expected challenge request", nil)
	}

	return h.finishHandshake(raw, reader, writer, remoteReq, onDisconnect)
}

// AcceptInbound performs the responder side: read the remote's
// ChallengeRequest first, then reply with ours before exchanging
// ChallengeResponses.
func (h *Handshaker) AcceptInbound(raw net.Conn, onDisconnect func(types.DisconnectReason)) (*Peer, *Conn, error) {
	reader := wire.NewFrameReader(raw)
	writer := wire.NewFrameWriter(raw)

	msg, err := reader.ReadMessage()
	if err != nil {
		return nil, nil, nodeerr.Transport("failed to read challenge request", err)
	}
	remoteReq, ok := msg.(wire.ChallengeRequest)
	if !ok {
		return nil, nil, nodeerr.ProtocolViolation("expected challenge request", nil)
	}

	ourReq := h.buildChallengeRequest()
	if err := writer.WriteMessage(ourReq); err != nil {
		return nil, nil, nodeerr.Transport("failed to send challenge request", err)
	}

	return h.finishHandshake(raw, reader, writer, remoteReq, onDisconnect)
}

func (h *Handshaker) buildChallengeRequest() wire.ChallengeRequest {
	return wire.ChallengeRequest{
		Version:          h.Local.Version,
		ForkDepth:        h.Local.ForkDepth,
		NodeType:         h.Local.NodeType,
		Status:           h.Local.Status,
		ListenerPort:     h.ListenerPort,
		Nonce:            h.Local.Nonce,
		CumulativeWeight: h.Local.CumulativeWeight,
	}
}

func (h *Handshaker) finishHandshake(raw net.Conn, reader *wire.FrameReader, writer *wire.FrameWriter, remoteReq wire.ChallengeRequest, onDisconnect func(types.DisconnectReason)) (*Peer, *Conn, error) {
	nonceInUse := h.NonceInUse != nil && h.NonceInUse(remoteReq.Nonce)
	probePort := func() bool {
		if h.ProbePort == nil {
			return true
		}
		host, _, err := net.SplitHostPort(raw.RemoteAddr().String())
		if err != nil {
			return false
		}
		return h.ProbePort(net.ParseIP(host), remoteReq.ListenerPort)
	}

	if reason, ok := EvaluateChallengeRequest(h.Local, remoteReq, nonceInUse, probePort); !ok {
		writer.WriteMessage(wire.Disconnect{Reason: reason})
		return nil, nil, nodeerr.ProtocolViolation(fmt.Sprintf("challenge request rejected: %s", reason), nil)
	}

	if err := writer.WriteMessage(wire.ChallengeResponse{GenesisHeader: wire.NewBlockHeaderData(h.GenesisHeader)}); err != nil {
		return nil, nil, nodeerr.Transport("failed to send challenge response", err)
	}
	msg, err := reader.ReadMessage()
	if err != nil {
		return nil, nil, nodeerr.Transport("failed to read challenge response", err)
	}
	remoteResp, ok := msg.(wire.ChallengeResponse)
	if !ok {
		return nil, nil, nodeerr.ProtocolViolation("expected challenge response", nil)
	}
	if remoteResp.GenesisHeader == nil {
		return nil, nil, nodeerr.Validation("challenge response missing genesis header", nil)
	}
	remoteGenesis, err := remoteResp.GenesisHeader.AsObject()
	if err != nil {
		return nil, nil, nodeerr.Validation("malformed genesis header", err)
	}
	if !VerifyGenesisHeader(h.GenesisHeader, remoteGenesis) {
		writer.WriteMessage(wire.Disconnect{Reason: types.ReasonInvalidForkDepth})
		return nil, nil, nodeerr.ProtocolViolation("genesis header mismatch", nil)
	}

	host, _, err := net.SplitHostPort(raw.RemoteAddr().String())
	if err != nil {
		return nil, nil, nodeerr.Transport("failed to parse remote address", err)
	}
	id := ID(net.JoinHostPort(host, fmt.Sprintf("%d", remoteReq.ListenerPort)))

	peer := NewPeer(nil, h.now)
	conn := NewConn(raw, peer, onDisconnect)
	peer.out = conn
	peer.CompleteHandshake(id, remoteReq.NodeType, remoteReq.Nonce)
	return peer, conn, nil
}
