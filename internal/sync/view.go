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
	"sync"
	"time"

	"github.com/AleoNet/snarkOS-sub002/internal/ledger"
	"github.com/AleoNet/snarkOS-sub002/internal/locator"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

// PeerID identifies a peer for sync-view bookkeeping, the normalized
// listener address rendered as a string.
type PeerID string

// viewTracker holds every connected peer's self-reported sync state and
// append-only failure log, populated from validated Pong messages.
type viewTracker struct {
	mu       sync.RWMutex
	views    map[PeerID]*types.PeerSyncView
	failures map[PeerID][]types.Failure
}

func newViewTracker() *viewTracker {
	return &viewTracker{
		views:    make(map[PeerID]*types.PeerSyncView),
		failures: make(map[PeerID][]types.Failure),
	}
}

// OnPong validates locators against svc, infers IsFork when the peer left it
// undecided, and stores the resulting view for peer. A validation failure
// records a peer failure and leaves no view in place.
func (t *viewTracker) OnPong(svc ledger.Service, peer PeerID, nodeType types.NodeType, status types.Status, latestHeight uint32, locators *types.BlockLocators, now time.Time) error {
	if err := locator.Validate(svc, locators); err != nil {
		t.RecordFailure(peer, "invalid block locators: "+err.Error(), now)
		return err
	}

	view := &types.PeerSyncView{
		NodeType:      nodeType,
		Status:        status,
		LatestHeight:  latestHeight,
		BlockLocators: locators,
	}

	ancestor, ancestorOK, _, deviatingOK := locator.CommonAncestor(svc, locators)
	switch {
	case deviatingOK:
		fork := true
		view.IsFork = &fork
	case ancestorOK && ancestor == svc.LatestBlockHeight() && ancestor == latestHeight:
		fork := false
		view.IsFork = &fork
	default:
		// Locators overlap the local chain with full agreement so far, but
		// neither chain tip is confirmed reachable from the other yet —
		// leave undecided until more locators are seen.
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.views[peer] = view
	return nil
}

// View returns the last stored sync view for peer.
func (t *viewTracker) View(peer PeerID) (*types.PeerSyncView, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.views[peer]
	return v, ok
}

// Remove drops peer's view and failure log (peer disconnected).
func (t *viewTracker) Remove(peer PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.views, peer)
	delete(t.failures, peer)
}

// RecordFailure appends a timestamped failure entry for peer.
func (t *viewTracker) RecordFailure(peer PeerID, reason string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[peer] = append(t.failures[peer], types.Failure{Reason: reason, At: now})
}

// ActiveFailureCount counts peer's failure entries newer than cutoff,
// pruning older entries in the same pass.
func (t *viewTracker) ActiveFailureCount(peer PeerID, cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fs := t.failures[peer]
	kept := fs[:0]
	for _, f := range fs {
		if f.At.After(cutoff) {
			kept = append(kept, f)
		}
	}
	t.failures[peer] = kept
	return len(kept)
}

// Peers returns every peer with a stored view.
func (t *viewTracker) Peers() []PeerID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PeerID, 0, len(t.views))
	for p := range t.views {
		out = append(out, p)
	}
	return out
}
