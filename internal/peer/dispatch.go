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
	"crypto/sha256"
	"net"
	"time"

	"github.com/AleoNet/snarkOS-sub002/internal/ledger"
	"github.com/AleoNet/snarkOS-sub002/internal/locator"
	"github.com/AleoNet/snarkOS-sub002/internal/nodeerr"
	"github.com/AleoNet/snarkOS-sub002/internal/params"
	syncengine "github.com/AleoNet/snarkOS-sub002/internal/sync"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
	"github.com/AleoNet/snarkOS-sub002/internal/wire"
)

// SyncEngine is the sync-engine surface a Dispatcher forwards Pong and
// BlockResponse traffic to, matched directly against *sync.Engine's own
// peer-identity type.
type SyncEngine interface {
	OnPong(peer syncengine.PeerID, nodeType types.NodeType, status types.Status, latestHeight uint32, locators *types.BlockLocators) error
	HandleBlockResponse(peer syncengine.PeerID, block types.Block) error
}

// WorkerEngine is the worker-pool surface a Dispatcher forwards gossiped
// transmissions and the transmission-fetch protocol to.
type WorkerEngine interface {
	// ProcessUnconfirmedTransactionBytes derives the transmission id from
	// data and admits it to the ready queue, the way ProcessUnconfirmedTransaction
	// does once an id is in hand; the dispatcher only ever has raw bytes off
	// the wire.
	ProcessUnconfirmedTransactionBytes(data []byte) error
	ProcessTransmissionIDFromPing(peer string, id types.TransmissionID)
	HandleTransmissionResponse(id types.TransmissionID, tm types.Transmission) error
	LookupTransmission(id types.TransmissionID) (types.Transmission, bool)
}

// Registry is the peers-registry surface a Dispatcher forwards peer
// discovery traffic to.
type Registry interface {
	ConnectedIPs() []net.TCPAddr
	AbsorbCandidates(ips []net.TCPAddr)
	// Restrict bans id's address from future outbound dials for RadioSilence,
	// called on a rate-limit breach before the connection is torn down.
	Restrict(id string)
}

// Collaborators bundles the out-of-package dependencies a Dispatcher needs.
// LocalNodeType and LocalStatus report this node's own gossip-relay
// eligibility, used by the UnconfirmedBlock/UnconfirmedTransaction skip
// rules: both are nil-safe, defaulting to a relaying validator.
type Collaborators struct {
	Ledger      ledger.Service
	Sync        SyncEngine
	Worker      WorkerEngine
	Registry    Registry
	LocalNodeType func() types.NodeType
	LocalStatus   func() types.Status
}

func (c Collaborators) localNodeType() types.NodeType {
	if c.LocalNodeType == nil {
		return types.NodeTypeValidator
	}
	return c.LocalNodeType()
}

func (c Collaborators) localStatus() types.Status {
	if c.LocalStatus == nil {
		return types.StatusReady
	}
	return c.LocalStatus()
}

// relaysGossip reports whether this node's current role admits gossiped
// unconfirmed blocks/transactions at all: Beacon and Sync nodes never
// relay, and a node that is itself Peering has no ledger view stable
// enough to validate against.
func (c Collaborators) relaysGossip() bool {
	nt := c.localNodeType()
	if nt.IsBeacon() || nt.IsSync() {
		return false
	}
	return c.localStatus() != types.StatusPeering
}

// Dispatcher applies the Connected-state message contract to one Peer: it
// owns no transport of its own, acting purely on the collaborators and the
// Peer's Outbound.
type Dispatcher struct {
	peer   *Peer
	collab Collaborators
	now    func() time.Time
}

// NewDispatcher constructs a Dispatcher bound to one connection's Peer.
func NewDispatcher(p *Peer, collab Collaborators, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{peer: p, collab: collab, now: now}
}

// Dispatch applies the Connected-state contract to msg. A returned
// nodeerr.Class of ProtocolViolation means the caller must disconnect the
// peer with ReasonProtocolViolation; every other error is non-fatal to the
// connection and is expected to be logged and otherwise ignored.
func (d *Dispatcher) Dispatch(msg wire.Message) error {
	switch m := msg.(type) {
	case wire.ChallengeRequest, wire.ChallengeResponse:
		return nodeerr.ProtocolViolation("challenge message received after handshake completed", nil)

	case wire.Disconnect:
		d.peer.setState(StateDisconnecting)
		return nil

	case wire.Ping:
		return d.handlePing(m)

	case wire.Pong:
		return d.handlePong(m)

	case wire.PeerRequest:
		return d.handlePeerRequest()

	case wire.PeerResponse:
		d.collab.Registry.AbsorbCandidates(m.IPs)
		return nil

	case wire.BlockRequest:
		return d.handleBlockRequest(m)

	case wire.BlockResponse:
		return d.handleBlockResponse(m)

	case wire.UnconfirmedBlock:
		return d.handleUnconfirmedBlock(m)

	case wire.UnconfirmedTransaction:
		return d.handleUnconfirmedTransaction(m)

	case wire.WorkerPing:
		for _, id := range m.IDs {
			d.collab.Worker.ProcessTransmissionIDFromPing(string(d.peer.ID()), id)
		}
		return nil

	case wire.TransmissionRequest:
		return d.handleTransmissionRequest(m)

	case wire.TransmissionResponse:
		return d.collab.Worker.HandleTransmissionResponse(m.ID, m.Transmission)

	default:
		return nodeerr.ProtocolViolation("unrecognized message tag", nil)
	}
}

func (d *Dispatcher) handlePing(m wire.Ping) error {
	d.peer.mu.Lock()
	d.peer.nodeType = m.NodeType
	d.peer.status = m.Status
	d.peer.latestBlockHash = m.LatestBlockHash
	if m.LatestBlockHeader != nil {
		if h, err := m.LatestBlockHeader.AsObject(); err == nil {
			d.peer.latestBlockHeader = h
		}
	}
	d.peer.mu.Unlock()

	locators := buildLocatorsData(d.collab.Ledger)
	return d.peer.out.Send(wire.Pong{Locators: locators})
}

func (d *Dispatcher) handlePong(m wire.Pong) error {
	locators, err := decodeLocators(m.Locators)
	if err != nil {
		return nodeerr.Validation("malformed block locators", err)
	}
	d.peer.RecordPong(d.now(), d.peer.status)
	return d.collab.Sync.OnPong(syncengine.PeerID(d.peer.ID()), d.peer.NodeType(), d.peer.status, d.peer.selfReportedHeight(), locators)
}

func (d *Dispatcher) handlePeerRequest() error {
	return d.peer.out.Send(wire.PeerResponse{IPs: d.collab.Registry.ConnectedIPs()})
}

func (d *Dispatcher) handleBlockRequest(m wire.BlockRequest) error {
	if m.End < m.Start || m.End-m.Start+1 > params.MaximumBlockRequest {
		return nodeerr.ProtocolViolation("block request span exceeds MaximumBlockRequest", nil)
	}
	blocks, err := d.collab.Ledger.GetBlocks(m.Start, m.End)
	if err != nil {
		return nodeerr.Validation("failed to read requested block range", err)
	}
	for _, b := range blocks {
		data := wire.NewBlockData(b)
		if err := d.peer.out.Send(wire.BlockResponse{Block: data}); err != nil {
			return nodeerr.Transport("failed to send block response", err)
		}
	}
	return nil
}

func (d *Dispatcher) handleBlockResponse(m wire.BlockResponse) error {
	block, err := m.Block.AsObject()
	if err != nil {
		return nodeerr.Validation("malformed block response", err)
	}
	return d.collab.Sync.HandleBlockResponse(syncengine.PeerID(d.peer.ID()), block)
}

// handleUnconfirmedBlock applies the rate limit, the height-window
// admission check, and redundant-delivery suppression, then forwards an
// admitted block to the sync engine's HandleBlockResponse.
func (d *Dispatcher) handleUnconfirmedBlock(m wire.UnconfirmedBlock) error {
	if !d.collab.relaysGossip() {
		return nil
	}
	if d.peer.markSeenBlock(m.Hash, d.now()) {
		return nil
	}
	if !d.peer.blockLimiter.Allow() {
		d.collab.Registry.Restrict(string(d.peer.ID()))
		return nodeerr.ProtocolViolation("unconfirmed block rate exceeded", nil)
	}
	local := d.collab.Ledger.LatestBlockHeight()
	if m.Height+2 < local || m.Height > local+2 {
		// Outside [latest-2, latest+2]: too old to matter or too far ahead
		// to trust without going through sync. Silently dropped, not a
		// protocol violation — an honest peer can legitimately race this.
		return nil
	}
	if m.Block == nil {
		return nodeerr.Validation("unconfirmed block missing payload", nil)
	}
	block, err := m.Block.AsObject()
	if err != nil {
		return nodeerr.Validation("malformed unconfirmed block", err)
	}
	if block.Hash != m.Hash || block.Header.Height != m.Height {
		return nodeerr.ProtocolViolation("unconfirmed block header disagrees with envelope", nil)
	}
	return d.collab.Sync.HandleBlockResponse(syncengine.PeerID(d.peer.ID()), block)
}

// handleUnconfirmedTransaction applies redundant-delivery suppression and
// the rate limit before forwarding the transaction to the worker pool. The
// envelope carries no separate content id, so the dedup key is the same
// payload checksum the worker pool derives downstream.
func (d *Dispatcher) handleUnconfirmedTransaction(m wire.UnconfirmedTransaction) error {
	if !d.collab.relaysGossip() {
		return nil
	}
	if m.Transaction == nil {
		return nodeerr.Validation("unconfirmed transaction missing payload", nil)
	}
	raw, err := m.Transaction.AsObject()
	if err != nil {
		return nodeerr.Validation("malformed unconfirmed transaction", err)
	}
	if d.peer.markSeenTx(sha256.Sum256(raw), d.now()) {
		return nil
	}
	if !d.peer.txLimiter.Allow() {
		d.collab.Registry.Restrict(string(d.peer.ID()))
		return nodeerr.ProtocolViolation("unconfirmed transaction rate exceeded", nil)
	}
	return d.collab.Worker.ProcessUnconfirmedTransactionBytes(raw)
}

func (d *Dispatcher) handleTransmissionRequest(m wire.TransmissionRequest) error {
	tm, ok := d.collab.Worker.LookupTransmission(m.ID)
	if !ok {
		return nil
	}
	return d.peer.out.Send(wire.TransmissionResponse{ID: m.ID, Transmission: tm})
}

// selfReportedHeight reports the peer's self-reported latest height by
// way of its own Ping-advertised header, falling back to 0 before the first
// Ping/Pong exchange.
func (p *Peer) selfReportedHeight() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latestBlockHeader.Height
}

func buildLocatorsData(svc ledger.Service) *types.Data[*types.BlockLocators] {
	return wire.NewLocatorsData(locator.Build(svc))
}

func decodeLocators(d *types.Data[*types.BlockLocators]) (*types.BlockLocators, error) {
	if d == nil {
		return nil, nodeerr.Validation("missing block locators", nil)
	}
	return d.AsObject()
}
