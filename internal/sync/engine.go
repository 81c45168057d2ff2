// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package sync

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/AleoNet/snarkOS-sub002/internal/ledger"
	"github.com/AleoNet/snarkOS-sub002/internal/locator"
	"github.com/AleoNet/snarkOS-sub002/internal/nodeerr"
	"github.com/AleoNet/snarkOS-sub002/internal/params"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

// Network is the peer-facing surface the sync engine needs: issuing a
// directed BlockRequest and tearing down a connection with a disconnect
// reason. Sending the disconnect frame itself is the peer package's concern;
// Disconnect here only signals intent.
type Network interface {
	SendBlockRequest(peer PeerID, start, end uint32) error
	Disconnect(peer PeerID, reason types.DisconnectReason)
}

// Terminator is the process-wide "stop what you're doing" flag the miner
// collaborator polls during a revert. It is out of scope here beyond this
// interface boundary.
type Terminator interface {
	SetTerminating(bool)
	IsTerminating() bool
}

// Mempool is the narrow surface the sync engine needs from the worker pool
// during stall recovery: dropping every ready transmission so fetches don't
// keep feeding a chain state that is about to be rewritten.
type Mempool interface {
	ClearReady()
}

type noopMempool struct{}

func (noopMempool) ClearReady() {}

type noopTerminator struct{}

func (noopTerminator) SetTerminating(bool) {}
func (noopTerminator) IsTerminating() bool { return false }

// Engine is the ledger sync engine: it tracks every connected peer's
// self-reported chain state, detects forks via common-ancestor search,
// schedules and validates block requests, and fast-forwards the ledger from
// out-of-order arrivals queued in the unconfirmed-block cache.
type Engine struct {
	ledger  ledger.Service
	net     Network
	term    Terminator
	mempool Mempool

	localNodeType      types.NodeType
	now                func() time.Time
	connectedPeerCount func() int

	views       *viewTracker
	sched       *scheduler
	unconfirmed *unconfirmedCache

	// canonMu serializes every mutation of the ledger's canonical chain
	// (AddNextBlock / RevertToBlockHeight) so a fast-forward loop and a
	// concurrent revert can never interleave.
	canonMu sync.Mutex

	stateMu    sync.Mutex
	lastAppend time.Time
}

// Config bundles an Engine's collaborators.
type Config struct {
	Ledger        ledger.Service
	Network       Network
	Terminator    Terminator
	Mempool       Mempool
	LocalNodeType types.NodeType
	Clock         func() time.Time

	// ConnectedPeerCount reports the Peers Registry's connected-set size.
	// When nil, the engine falls back to the number of peers it has a sync
	// view for, which undercounts peers that have not yet exchanged Ping/
	// Pong.
	ConnectedPeerCount func() int
}

// New constructs an Engine.
func New(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	term := cfg.Terminator
	if term == nil {
		term = noopTerminator{}
	}
	mempool := cfg.Mempool
	if mempool == nil {
		mempool = noopMempool{}
	}
	e := &Engine{
		ledger:        cfg.Ledger,
		net:           cfg.Network,
		term:          term,
		mempool:       mempool,
		localNodeType: cfg.LocalNodeType,
		now:           clock,
		views:         newViewTracker(),
		sched:         newScheduler(),
		unconfirmed:   newUnconfirmedCache(params.MaximumUnconfirmedBlocks),
		lastAppend:    clock(),
	}
	e.connectedPeerCount = cfg.ConnectedPeerCount
	if e.connectedPeerCount == nil {
		e.connectedPeerCount = func() int { return len(e.views.Peers()) }
	}
	return e
}

// OnPong validates and stores peer's self-reported sync state. A validation
// failure is recorded against the peer's failure log and returned to the
// caller, which is expected to be on the disconnect-eligible path already.
func (e *Engine) OnPong(peer PeerID, nodeType types.NodeType, status types.Status, latestHeight uint32, locators *types.BlockLocators) error {
	return e.views.OnPong(e.ledger, peer, nodeType, status, latestHeight, locators, e.now())
}

// PeerDisconnected drops every piece of per-peer state the engine tracks.
func (e *Engine) PeerDisconnected(peer PeerID) {
	e.views.Remove(peer)
}

// View exposes a peer's last known sync view, for diagnostics and tests.
func (e *Engine) View(peer PeerID) (*types.PeerSyncView, bool) {
	return e.views.View(peer)
}

// Status derives the node's self-reported lifecycle state. ShuttingDown is
// terminal once the terminator is set. Below the minimum connected-peer
// count the node reports Peering. Otherwise it is Syncing iff some peer's
// cumulative weight exceeds the local chain's by more than
// MaximumLinearBlockLocators, and Ready otherwise (Mining is reported by the
// out-of-scope miner collaborator layered above this status, not derived
// here).
func (e *Engine) Status() types.Status {
	if e.term.IsTerminating() {
		return types.StatusShuttingDown
	}
	if e.connectedPeerCount() < params.MinimumNumberOfPeers {
		return types.StatusPeering
	}
	if e.isBehindSyncTarget() {
		return types.StatusSyncing
	}
	return types.StatusReady
}

// isBehindSyncTarget reports whether some peer's cumulative weight exceeds
// the local chain's by more than MaximumLinearBlockLocators.
func (e *Engine) isBehindSyncTarget() bool {
	_, _, weight, ok := e.SelectSyncTarget()
	if !ok {
		return false
	}
	margin := new(big.Int).Sub(weight, e.ledger.LatestCumulativeWeight())
	return margin.Cmp(big.NewInt(int64(params.MaximumLinearBlockLocators))) > 0
}

// SelectSyncTarget picks the peer with the greatest self-reported cumulative
// weight, breaking ties by lower height and then by peer id for a stable,
// deterministic choice across Heartbeat runs.
func (e *Engine) SelectSyncTarget() (PeerID, *types.PeerSyncView, *big.Int, bool) {
	peers := e.views.Peers()
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })

	var best PeerID
	var bestView *types.PeerSyncView
	var bestWeight *big.Int
	found := false

	for _, p := range peers {
		view, ok := e.views.View(p)
		if !ok || view.BlockLocators == nil {
			continue
		}
		_, entry, ok := view.BlockLocators.Latest()
		if !ok || entry.CumulativeWeight == nil {
			continue
		}
		switch {
		case !found:
			best, bestView, bestWeight, found = p, view, entry.CumulativeWeight, true
		case entry.CumulativeWeight.Cmp(bestWeight) > 0:
			best, bestView, bestWeight, found = p, view, entry.CumulativeWeight, true
		case entry.CumulativeWeight.Cmp(bestWeight) == 0 && view.LatestHeight < bestView.LatestHeight:
			best, bestView, bestWeight, found = p, view, entry.CumulativeWeight, true
		}
	}
	return best, bestView, bestWeight, found
}

// HandleBlockResponse validates a received block against the scheduler entry
// for its height and either appends it directly to the canonical chain,
// queues it in the unconfirmed cache awaiting its predecessor, or records a
// scheduler failure when it disagrees with the fork's expected hash.
func (e *Engine) HandleBlockResponse(peer PeerID, block types.Block) error {
	height := block.Header.Height
	entry, ok := e.sched.Get(height)
	if !ok {
		// No outstanding request for this height (duplicate, late, or the
		// batch already expired): ignore rather than penalize the peer.
		return nil
	}
	if entry.Peer != peer {
		return nil
	}
	if entry.ExpectedHash != nil && *entry.ExpectedHash != block.Hash {
		e.views.RecordFailure(peer, "block response does not match expected fork hash", e.now())
		return nodeerr.Validation("block response does not match expected fork hash", nil)
	}

	e.canonMu.Lock()
	defer e.canonMu.Unlock()

	if height == e.ledger.LatestBlockHeight()+1 && block.Header.PreviousBlockHash == e.ledger.LatestBlockHash() {
		if err := e.ledger.AddNextBlock(block); err != nil {
			e.views.RecordFailure(peer, "block failed to extend the canonical chain: "+err.Error(), e.now())
			return nodeerr.Validation("block failed to extend the canonical chain", err)
		}
		e.sched.Complete(height)
		e.markAppended()
		e.fastForwardLocked()
		return nil
	}

	// Arrived ahead of its predecessor: queue it and let fast-forward pick
	// it up once the chain catches up.
	e.unconfirmed.Insert(block)
	e.sched.Complete(height)
	return nil
}

// fastForwardLocked drains the unconfirmed-block cache onto the canonical
// tip for as long as each next block is already queued. Callers must hold
// canonMu.
func (e *Engine) fastForwardLocked() {
	for {
		tip := e.ledger.LatestBlockHash()
		blk, ok := e.unconfirmed.Get(tip)
		if !ok {
			return
		}
		if err := e.ledger.AddNextBlock(blk); err != nil {
			// The queued block no longer fits (e.g. a concurrent revert
			// changed the tip); drop it rather than retry forever.
			e.unconfirmed.Remove(tip)
			return
		}
		e.unconfirmed.Remove(tip)
		e.markAppended()
	}
}

// RevertToBlockHeight drops the canonical chain back to h, discards any
// unconfirmed-cache entries keyed by the removed blocks, and pulses the
// terminator so the miner collaborator yields for the duration of the
// rewrite.
func (e *Engine) RevertToBlockHeight(h uint32) error {
	e.term.SetTerminating(true)
	defer e.term.SetTerminating(false)

	e.canonMu.Lock()
	defer e.canonMu.Unlock()

	removed, err := e.ledger.RevertToBlockHeight(h)
	if err != nil {
		return nodeerr.Scheduler("revert failed", err)
	}
	for _, b := range removed {
		e.unconfirmed.Remove(b.Header.PreviousBlockHash)
	}
	e.markAppended()
	return nil
}

// markAppended records the last successful append/revert time and pulses the
// terminator, per the design note that every block append or revert signals
// the miner collaborator to abandon in-progress work, independent of the
// Peering/Syncing/ShuttingDown level the next Heartbeat will set it to.
func (e *Engine) markAppended() {
	e.stateMu.Lock()
	e.lastAppend = e.now()
	e.stateMu.Unlock()
	e.term.SetTerminating(true)
	e.term.SetTerminating(false)
}

func (e *Engine) timeSinceLastAppend() time.Duration {
	e.stateMu.Lock()
	last := e.lastAppend
	e.stateMu.Unlock()
	return e.now().Sub(last)
}

// commonAncestorAction is the outcome of applying the common-ancestor policy
// to a peer's locators.
type commonAncestorAction int

const (
	actionNone commonAncestorAction = iota
	actionForwardOnly
	actionRevertAndForward
	actionExceededForkRange
)

// commonAncestorPolicy classifies how the local chain relates to a peer's
// locators: forward-only extension when the ancestor is already the local
// tip, a bounded revert-and-forward when the peer is on a compatible fork,
// or an out-of-range fork the connection cannot recover from.
func (e *Engine) commonAncestorPolicy(view *types.PeerSyncView) (action commonAncestorAction, ancestor uint32) {
	local := e.ledger.LatestBlockHeight()
	anc, ancestorOK, _, deviatingOK := locator.CommonAncestor(e.ledger, view.BlockLocators)
	if !ancestorOK {
		return actionExceededForkRange, 0
	}
	isFork := deviatingOK || (view.IsFork != nil && *view.IsFork)
	if !isFork {
		return actionForwardOnly, local
	}
	if local-anc <= params.AleoMaximumForkDepth {
		return actionRevertAndForward, anc
	}
	return actionExceededForkRange, anc
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
