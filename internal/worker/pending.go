// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package worker

import (
	"sync"
	"time"

	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

// PeerID identifies a peer for pending-fetch bookkeeping purposes. It is the
// peer's normalized listener address, rendered as a string.
type PeerID string

// FetchResult is delivered to a waiter when its transmission arrives, or
// when it times out (Err set to ErrFetchTimeout).
type FetchResult struct {
	Transmission types.Transmission
	Err          error
}

type waiter struct {
	peer        PeerID
	sentRequest bool
	enqueuedAt  time.Time
	result      chan FetchResult
}

// PendingTable tracks, per TransmissionID, the set of callbacks waiting on
// a fetch and which of them have an in-flight network request outstanding.
// A TransmissionID is "pending" from the first Register call until Resolve
// or the expiry sweep empties its waiter list.
type PendingTable struct {
	mu      sync.Mutex
	waiters map[types.TransmissionID][]*waiter
}

// NewPendingTable constructs an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{waiters: make(map[types.TransmissionID][]*waiter)}
}

// IsPending reports whether id currently has any registered waiter.
func (p *PendingTable) IsPending(id types.TransmissionID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters[id]) > 0
}

// Register adds a new waiter for id on behalf of peer and decides, per
// rules R1 (total sent requests for id <= numRedundant) and R2 (at most one
// sent request per (id, peer)), whether the caller should actually emit a
// TransmissionRequest. The waiter is registered regardless — if no request
// is emitted, its callback fires when any in-flight request for id
// resolves.
func (p *PendingTable) Register(id types.TransmissionID, peer PeerID, numRedundant int, now time.Time) (result chan FetchResult, shouldSendRequest bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sentCount := 0
	peerAlreadySent := false
	for _, w := range p.waiters[id] {
		if w.sentRequest {
			sentCount++
			if w.peer == peer {
				peerAlreadySent = true
			}
		}
	}

	shouldSend := sentCount < numRedundant && !peerAlreadySent

	w := &waiter{
		peer:        peer,
		sentRequest: shouldSend,
		enqueuedAt:  now,
		result:      make(chan FetchResult, 1),
	}
	p.waiters[id] = append(p.waiters[id], w)
	return w.result, shouldSend
}

// SentRequestCount returns how many waiters for id currently carry
// sent_request=true.
func (p *PendingTable) SentRequestCount(id types.TransmissionID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.waiters[id] {
		if w.sentRequest {
			n++
		}
	}
	return n
}

// Resolve delivers tm to every waiter registered for an id matching id's
// identity (variant+id), removes the entry, and reports how many waiters
// were notified. Checksum is not required to match at this layer —
// callers (Worker) are responsible for checksum verification before calling
// Resolve, per the "checksum mismatch is malformed" edge case.
func (p *PendingTable) Resolve(id types.TransmissionID, tm types.Transmission) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var match types.TransmissionID
	found := false
	for existing := range p.waiters {
		if existing.SameIdentity(id) {
			match = existing
			found = true
			break
		}
	}
	if !found {
		return 0
	}
	ws := p.waiters[match]
	delete(p.waiters, match)
	for _, w := range ws {
		w.result <- FetchResult{Transmission: tm}
	}
	return len(ws)
}

// ExpireOlderThan removes, across all pending ids, every waiter whose
// enqueue time is at or before the cutoff, delivering a timeout result to
// each. Entries left with no waiters are dropped entirely.
func (p *PendingTable) ExpireOlderThan(cutoff time.Time, timeoutErr error) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	expired := 0
	for id, ws := range p.waiters {
		var kept []*waiter
		for _, w := range ws {
			if !w.enqueuedAt.After(cutoff) {
				w.result <- FetchResult{Err: timeoutErr}
				expired++
			} else {
				kept = append(kept, w)
			}
		}
		if len(kept) == 0 {
			delete(p.waiters, id)
		} else {
			p.waiters[id] = kept
		}
	}
	return expired
}

// Remove drops id's entry without notifying any waiter; used when a
// response turns out to be malformed and the caller wants to let the
// waiters keep waiting on other in-flight requests instead of the removed
// slot (no-op here since the entry isn't actually removed in that case —
// Remove is for the "a pending entry existed for id, unconditionally drop
// it" cases such as receiving a locally-produced transmission).
func (p *PendingTable) Remove(id types.TransmissionID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for existing := range p.waiters {
		if existing.SameIdentity(id) {
			delete(p.waiters, existing)
			return
		}
	}
}

// Len reports how many distinct TransmissionIDs are currently pending.
func (p *PendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
