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

	"github.com/AleoNet/snarkOS-sub002/internal/log"
	"github.com/AleoNet/snarkOS-sub002/internal/params"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

// stallThreshold is how long the engine tolerates an outstanding block
// request batch with no forward progress before concluding its peer stalled
// and reverting by one block to try a different request.
const stallThreshold = 2 * params.RadioSilence

// RunHeartbeat runs one pass of the six-step sync cycle: disconnect peers a
// Sync node has outgrown, drain whatever the unconfirmed cache can already
// apply, detect and recover from a stalled request batch, update the
// reported status and terminator flag, expire timed-out bookkeeping, and
// schedule the next batch of block requests.
func (e *Engine) RunHeartbeat() {
	e.disconnectPeersSyncComplete()

	e.canonMu.Lock()
	e.fastForwardLocked()
	e.canonMu.Unlock()

	e.detectAndRecoverStall()

	e.updateTerminatorFromStatus()

	e.expireFailuresAndRequests()

	e.scheduleNextBatch()
}

// disconnectPeersSyncComplete implements the Sync-node policy: once a Sync
// node has caught up past a peer that is itself still syncing, that peer has
// nothing left to offer it.
func (e *Engine) disconnectPeersSyncComplete() {
	if !e.localNodeType.IsSync() {
		return
	}
	localWeight := e.ledger.LatestCumulativeWeight()
	for _, p := range e.views.Peers() {
		view, ok := e.views.View(p)
		if !ok || view.NodeType.IsSync() || view.Status != types.StatusSyncing {
			continue
		}
		_, entry, ok := view.BlockLocators.Latest()
		if !ok || entry.CumulativeWeight == nil {
			continue
		}
		if entry.CumulativeWeight.Cmp(localWeight) > 0 {
			e.net.Disconnect(p, types.ReasonSyncComplete)
			e.views.Remove(p)
		}
	}
}

// detectAndRecoverStall reverts the chain tip by one block when a scheduled
// batch has made no forward progress for longer than stallThreshold, on the
// theory that the block at the current tip (or the peer serving it) is bad
// and a different request will make progress. It also clears every other
// piece of sync-in-progress state, per the stall-recovery contract.
func (e *Engine) detectAndRecoverStall() {
	if e.Status() != types.StatusSyncing {
		return
	}
	if e.timeSinceLastAppend() < stallThreshold {
		return
	}
	local := e.ledger.LatestBlockHeight()
	if local == 0 {
		return
	}
	log.Warn("sync stalled, reverting by one block", "height", local)
	e.unconfirmed.Clear()
	e.sched.Clear()
	e.mempool.ClearReady()
	if err := e.RevertToBlockHeight(local - 1); err != nil {
		log.Error("stall-recovery revert failed", "err", err)
	}
}

// updateTerminatorFromStatus suspends the (out-of-scope) miner collaborator
// while the node is Peering or Syncing, and leaves it alone otherwise;
// ShuttingDown already pins the terminator via Status itself.
func (e *Engine) updateTerminatorFromStatus() {
	switch e.Status() {
	case types.StatusPeering, types.StatusSyncing:
		e.term.SetTerminating(true)
	case types.StatusReady:
		e.term.SetTerminating(false)
	}
}

// expireFailuresAndRequests drops block requests that have gone unanswered
// past RadioSilence and disconnects any peer whose active failure count has
// crossed MaximumNumberOfFailures.
func (e *Engine) expireFailuresAndRequests() {
	now := e.now()
	e.sched.ExpireOlderThan(now.Add(-params.RadioSilence))

	cutoff := now.Add(-params.FailureExpiryTime)
	for _, p := range e.views.Peers() {
		if e.views.ActiveFailureCount(p, cutoff) > params.MaximumNumberOfFailures {
			e.net.Disconnect(p, types.ReasonTooManyFailures)
			e.views.Remove(p)
		}
	}
}

// scheduleNextBatch picks a sync target and, if no batch is already
// outstanding, applies the common-ancestor policy and emits the next
// BlockRequest.
func (e *Engine) scheduleNextBatch() {
	if e.sched.Outstanding() {
		return
	}
	peer, view, weight, ok := e.SelectSyncTarget()
	if !ok {
		return
	}
	if weight.Cmp(e.ledger.LatestCumulativeWeight()) <= 0 {
		return
	}
	local := e.ledger.LatestBlockHeight()
	if view.LatestHeight <= local {
		return
	}

	action, ancestor := e.commonAncestorPolicy(view)
	switch action {
	case actionForwardOnly:
		e.emitRequest(peer, view, local+1, nil, false)
	case actionRevertAndForward:
		if err := e.RevertToBlockHeight(ancestor); err != nil {
			log.Error("revert-and-forward failed", "peer", peer, "ancestor", ancestor, "err", err)
			return
		}
		e.emitRequest(peer, view, ancestor+1, view.BlockLocators, true)
	case actionExceededForkRange:
		e.net.Disconnect(peer, types.ReasonExceededForkRange)
		e.views.Remove(peer)
	}
}

func (e *Engine) emitRequest(peer PeerID, view *types.PeerSyncView, start uint32, forkLocators *types.BlockLocators, onFork bool) {
	end := minUint32(view.LatestHeight, start+params.MaximumBlockRequest-1)
	if end < start {
		return
	}

	var expected map[uint32]types.ID32
	if forkLocators != nil {
		expected = make(map[uint32]types.ID32)
		for h, entry := range forkLocators.Entries {
			if h >= start && h <= end {
				expected[h] = entry.Hash
			}
		}
	}

	e.sched.Enqueue(peer, start, end, expected, onFork, e.now())
	if err := e.net.SendBlockRequest(peer, start, end); err != nil {
		log.Warn("failed to send block request", "peer", peer, "start", start, "end", end, "err", err)
	}
}
