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
	"sync"
	"time"

	"github.com/AleoNet/snarkOS-sub002/internal/params"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
	"github.com/AleoNet/snarkOS-sub002/internal/wire"
)

// State is a connection's position in the peer protocol state machine.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// ID identifies a connection by its normalized listener address, known only
// once the handshake's ChallengeRequest carries the remote's listener port.
type ID string

// Outbound is the narrow send/teardown surface a Peer drives without
// knowing whether it sits on top of a real socket or a test double.
type Outbound interface {
	Send(msg wire.Message) error
	Disconnect(reason types.DisconnectReason)
}

// Peer is one connection's protocol state: its negotiated identity, the
// Connected-state dispatch contract's per-peer rate limiters and dedup
// sets, and the outbound channel backing pressure-relieving Send.
type Peer struct {
	mu sync.Mutex

	id       ID
	state    State
	nodeType types.NodeType
	status   types.Status
	nonce    uint64

	latestBlockHash   types.ID32
	latestBlockHeader types.BlockHeader

	lastPingAt time.Time
	lastPongAt time.Time

	blockLimiter *distinctLimiter
	txLimiter    *distinctLimiter
	seenBlocks   map[types.ID32]time.Time
	seenTxs      map[types.ID32]time.Time

	out Outbound
	now func() time.Time
}

// NewPeer constructs a Peer in the Connecting state.
func NewPeer(out Outbound, now func() time.Time) *Peer {
	if now == nil {
		now = time.Now
	}
	return &Peer{
		state:        StateConnecting,
		out:          out,
		now:          now,
		blockLimiter: newDistinctLimiter(params.UnconfirmedBlockRateWindow, params.UnconfirmedBlockRateLimit),
		txLimiter:    newDistinctLimiter(params.UnconfirmedTransactionRateWindow, params.UnconfirmedTransactionRateLimit),
		seenBlocks:   make(map[types.ID32]time.Time),
		seenTxs:      make(map[types.ID32]time.Time),
	}
}

func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// ID returns the peer's normalized listener address, set once the
// handshake completes.
func (p *Peer) ID() ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// CompleteHandshake records the negotiated identity and moves the
// connection into the Connected state.
func (p *Peer) CompleteHandshake(id ID, nodeType types.NodeType, nonce uint64) {
	p.mu.Lock()
	p.id = id
	p.nodeType = nodeType
	p.nonce = nonce
	p.state = StateConnected
	p.mu.Unlock()
}

func (p *Peer) NodeType() types.NodeType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodeType
}

func (p *Peer) Nonce() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nonce
}

// RecordPing updates the liveness clock kept for the Ping/Pong cycle.
func (p *Peer) RecordPing(now time.Time) {
	p.mu.Lock()
	p.lastPingAt = now
	p.mu.Unlock()
}

// RecordPong updates the liveness clock and the peer's self-reported block
// state, used by the sync engine's view tracker via the caller.
func (p *Peer) RecordPong(now time.Time, status types.Status) {
	p.mu.Lock()
	p.lastPongAt = now
	p.status = status
	p.mu.Unlock()
}

// DueForPing reports whether PingSleep has elapsed since the last Ping.
func (p *Peer) DueForPing(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPingAt.IsZero() || now.Sub(p.lastPingAt) >= params.PingSleep
}

// markSeenBlock records hash as delivered and reports whether it was
// already seen within RadioSilence, pruning stale entries in the same pass.
func (p *Peer) markSeenBlock(hash types.ID32, now time.Time) (alreadySeen bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for h, at := range p.seenBlocks {
		if now.Sub(at) > params.RadioSilence {
			delete(p.seenBlocks, h)
		}
	}
	if _, ok := p.seenBlocks[hash]; ok {
		return true
	}
	p.seenBlocks[hash] = now
	return false
}

// markSeenTx records id as delivered and reports whether it was already
// seen within RadioSilence, pruning stale entries in the same pass.
func (p *Peer) markSeenTx(id types.ID32, now time.Time) (alreadySeen bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for h, at := range p.seenTxs {
		if now.Sub(at) > params.RadioSilence {
			delete(p.seenTxs, h)
		}
	}
	if _, ok := p.seenTxs[id]; ok {
		return true
	}
	p.seenTxs[id] = now
	return false
}

// Disconnect transitions to Disconnecting and forwards the reason to the
// transport.
func (p *Peer) Disconnect(reason types.DisconnectReason) {
	p.setState(StateDisconnecting)
	p.out.Disconnect(reason)
}
