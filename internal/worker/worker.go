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
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/AleoNet/snarkOS-sub002/internal/committee"
	"github.com/AleoNet/snarkOS-sub002/internal/ledger"
	"github.com/AleoNet/snarkOS-sub002/internal/log"
	"github.com/AleoNet/snarkOS-sub002/internal/metrics"
	"github.com/AleoNet/snarkOS-sub002/internal/nodeerr"
	"github.com/AleoNet/snarkOS-sub002/internal/params"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

// ErrFetchTimeout is delivered to a waiter whose callback outlived
// MAX_FETCH_TIMEOUT_IN_MS with no response.
var ErrFetchTimeout = errors.New("worker: fetch timed out")

// Network is the peer-facing surface a Worker needs: sending a directed
// TransmissionRequest, and broadcasting a WorkerPing of sampled ready ids.
type Network interface {
	SendTransmissionRequest(peer PeerID, id types.TransmissionID) error
	BroadcastWorkerPing(ids []types.TransmissionID)
}

// ChecksumFunc computes the authoritative content checksum for a
// transmission payload. Checksum computation is a cryptographic-hash
// concern and is injected rather than hardcoded, but a sha256-based default
// is provided so the worker is usable without wiring the real collaborator.
type ChecksumFunc func(payload []byte) types.ID32

// DefaultChecksum hashes the payload with sha256, truncated/extended to
// ID32 (sha256 already produces 32 bytes).
func DefaultChecksum(payload []byte) types.ID32 {
	return sha256.Sum256(payload)
}

// Worker holds one shard's Ready Queue and Pending Table.
type Worker struct {
	Index int

	ready   *ReadyQueue
	pending *PendingTable

	ledger   ledger.Service
	provider committee.Provider
	net      Network
	checksum ChecksumFunc

	now func() time.Time
}

// Config bundles a Worker's collaborators.
type Config struct {
	Index        int
	Capacity     int
	Ledger       ledger.Service
	Committee    committee.Provider
	Network      Network
	Checksum     ChecksumFunc
	Clock        func() time.Time
}

// New constructs a Worker.
func New(cfg Config) *Worker {
	checksum := cfg.Checksum
	if checksum == nil {
		checksum = DefaultChecksum
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Worker{
		Index:    cfg.Index,
		ready:    NewReadyQueue(cfg.Capacity),
		pending:  NewPendingTable(),
		ledger:   cfg.Ledger,
		provider: cfg.Committee,
		net:      cfg.Network,
		checksum: checksum,
		now:      clock,
	}
}

// Ready exposes the ready queue for drain/inspection by the batch
// assembler collaborator.
func (w *Worker) Ready() *ReadyQueue { return w.ready }

// ClearReady drops every transmission this shard's ready queue holds,
// called during sync stall recovery so fetches stop feeding a chain state
// about to be rewritten.
func (w *Worker) ClearReady() { w.ready.Clear() }

// Pending exposes the pending table for diagnostics and the periodic
// expiry sweep.
func (w *Worker) Pending() *PendingTable { return w.pending }

func (w *Worker) numRedundantRequests() int {
	c, err := w.provider.CurrentCommittee()
	if err != nil || c == nil {
		return 1
	}
	round := c.Round
	lookback, err := w.provider.GetCommitteeLookbackForRound(round)
	if err != nil || lookback == nil {
		lookback = c
	}
	return committee.NumRedundantRequests(lookback.Size(), params.MaxRedundantRequests)
}

// ProcessUnconfirmedSolution computes the checksum, builds the
// TransmissionID, clears any pending entry, and — unless already known
// anywhere (ready, proposed, storage, or ledger) — validates and admits it
// to the ready queue.
func (w *Worker) ProcessUnconfirmedSolution(rawID types.ID32, data []byte) error {
	return w.processUnconfirmed(types.VariantSolution, rawID, data, w.ledger.CheckSolutionBasic)
}

// ProcessUnconfirmedTransaction is ProcessUnconfirmedSolution's twin for
// transactions.
func (w *Worker) ProcessUnconfirmedTransaction(rawID types.ID32, data []byte) error {
	return w.processUnconfirmed(types.VariantTransaction, rawID, data, w.ledger.CheckTransactionBasic)
}

// ProcessUnconfirmedTransactionBytes is ProcessUnconfirmedTransaction for a
// caller that only has the raw wire payload, with no separately known
// content id: the gossip path on UnconfirmedTransaction carries nothing but
// the transaction bytes, so the id is derived from the payload the same way
// the checksum is.
func (w *Worker) ProcessUnconfirmedTransactionBytes(data []byte) error {
	return w.ProcessUnconfirmedTransaction(w.checksum(data), data)
}

func (w *Worker) processUnconfirmed(variant types.TransmissionVariant, rawID types.ID32, data []byte, check func(types.TransmissionID, []byte) error) error {
	id := types.TransmissionID{Variant: variant, ID: rawID, Checksum: w.checksum(data)}
	w.pending.Remove(id)

	if w.containsTransmission(id) {
		return nil
	}
	if err := check(id, data); err != nil {
		return nodeerr.Validation("transmission failed basic check", err)
	}
	tm, err := types.NewTransmission(variant, data)
	if err != nil {
		return nodeerr.Validation("malformed transmission", err)
	}
	w.ready.InsertIfAbsent(id, tm)
	return nil
}

// containsTransmission reports whether id is already known anywhere
// admission needs to check before accepting a new unconfirmed item: the
// proposed-batch and storage views are delegated to
// ledger.ContainsTransmission (the ledger facade owns that composite view);
// the ready queue is checked here directly since it is the worker's own
// state.
func (w *Worker) containsTransmission(id types.TransmissionID) bool {
	if w.ready.Contains(id) {
		return true
	}
	return w.ledger.ContainsTransmission(id)
}

// ProcessTransmissionFromPeer admits (id, tm) to the ready queue iff the
// variants agree and id is not already contained. Ratification transmissions
// are always rejected on the gossip path.
func (w *Worker) ProcessTransmissionFromPeer(peer PeerID, id types.TransmissionID, tm types.Transmission) error {
	if id.Variant == types.VariantRatification || tm.Variant == types.VariantRatification {
		return nodeerr.ProtocolViolation("ratification not supported on gossip path", nil)
	}
	if id.Variant != tm.Variant {
		return nodeerr.ProtocolViolation("transmission id/variant mismatch", nil)
	}
	if w.containsTransmission(id) {
		return nil
	}
	w.ready.InsertIfAbsent(id, tm)
	return nil
}

// GetOrFetchTransmission returns id's transmission immediately if it is in
// this worker's ready queue; payloads held in a proposed batch or in storage
// are not looked up. Otherwise it issues a TransmissionRequest (subject to
// the redundant-request rules) and blocks until a matching
// TransmissionResponse arrives, the context is cancelled, or
// MAX_FETCH_TIMEOUT_IN_MS elapses; on that timeout it sweeps every pending
// waiter older than the fetch timeout.
func (w *Worker) GetOrFetchTransmission(ctx context.Context, peer PeerID, id types.TransmissionID) (types.Transmission, error) {
	if tm, ok := w.localTransmission(id); ok {
		return tm, nil
	}

	numRedundant := w.numRedundantRequests()
	resultCh, shouldSend := w.pending.Register(id, peer, numRedundant, w.now())
	if shouldSend {
		if err := w.net.SendTransmissionRequest(peer, id); err != nil {
			log.Warn("failed to send transmission request", "peer", peer, "id", id, "err", err)
		}
	}

	timer := time.NewTimer(params.MaxFetchTimeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return types.Transmission{}, res.Err
		}
		return res.Transmission, nil
	case <-timer.C:
		w.ExpirePending()
		return types.Transmission{}, nodeerr.Resource("fetch timed out", ErrFetchTimeout)
	case <-ctx.Done():
		return types.Transmission{}, nodeerr.Resource("fetch cancelled", ctx.Err())
	}
}

// localTransmission checks the ready queue directly (the worker's own
// state) for id, falling back to nothing else: storage/proposed-batch
// lookups beyond the ready queue are a ledger.Service concern exposed only
// through ContainsTransmission, which does not return the payload, so a
// true local hit here is limited to what this worker shard actually holds.
func (w *Worker) localTransmission(id types.TransmissionID) (types.Transmission, bool) {
	w.ready.mu.RLock()
	defer w.ready.mu.RUnlock()
	tm, ok := w.ready.items[id]
	return tm, ok
}

// LookupTransmission is localTransmission exported for the peer dispatch
// contract's inbound TransmissionRequest handler.
func (w *Worker) LookupTransmission(id types.TransmissionID) (types.Transmission, bool) {
	return w.localTransmission(id)
}

// HandleTransmissionResponse matches a response against the pending table
// and, if the checksum and well-formedness checks pass, resolves every
// waiter and admits the transmission into the ready queue. A response for
// an id with no pending entry is ignored without failure. A checksum
// mismatch is treated as malformed.
func (w *Worker) HandleTransmissionResponse(id types.TransmissionID, tm types.Transmission) error {
	if !w.pending.IsPending(id) {
		return nil
	}
	payload, err := tm.Bytes()
	if err != nil {
		return nodeerr.ProtocolViolation("undecodable transmission payload", err)
	}
	if w.checksum(payload) != id.Checksum {
		return nodeerr.ProtocolViolation("transmission checksum mismatch", nil)
	}
	if err := w.ledger.EnsureTransmissionIsWellFormed(id, tm); err != nil {
		return nodeerr.Validation("transmission not well-formed", err)
	}
	w.pending.Resolve(id, tm)
	if !w.containsTransmission(id) {
		w.ready.InsertIfAbsent(id, tm)
	}
	return nil
}

// Drain removes up to n transmissions in insertion order.
func (w *Worker) Drain(n int) []types.Transmission { return w.ready.Drain(n) }

// Reinsert re-admits (id, tm) iff not already contained; used when a drained
// batch fails to certify and its transmissions must go back into rotation.
func (w *Worker) Reinsert(id types.TransmissionID, tm types.Transmission) bool {
	if w.containsTransmission(id) {
		return false
	}
	return w.ready.InsertIfAbsent(id, tm)
}

// BroadcastPing emits up to MaxTransmissionsPerWorkerPing random ready ids
// as a WorkerPing.
func (w *Worker) BroadcastPing() {
	sample := w.ready.SampleIDs(w.ready.Len())
	rand.Shuffle(len(sample), func(i, j int) { sample[i], sample[j] = sample[j], sample[i] })
	if len(sample) > params.MaxTransmissionsPerWorkerPing {
		sample = sample[:params.MaxTransmissionsPerWorkerPing]
	}
	w.net.BroadcastWorkerPing(sample)
	metrics.NewRegisteredCounter(fmt.Sprintf("worker/%d/pings_sent", w.Index)).Inc(1)
}

// ProcessTransmissionIDFromPing reacts to a single id observed in a peer's
// WorkerPing: if it is unknown and the ready queue has spare capacity, a
// TransmissionRequest is sent to that peer. Excess requests are skipped
// silently per the ready-queue hard cap.
func (w *Worker) ProcessTransmissionIDFromPing(peer PeerID, id types.TransmissionID) {
	if w.containsTransmission(id) {
		return
	}
	if w.ready.Full() {
		return
	}
	if err := w.net.SendTransmissionRequest(peer, id); err != nil {
		log.Warn("failed to send transmission request from ping", "peer", peer, "id", id, "err", err)
	}
}

// ExpirePending clears pending-fetch callbacks older than
// MAX_FETCH_TIMEOUT_IN_MS, notifying their waiters with ErrFetchTimeout.
func (w *Worker) ExpirePending() int {
	cutoff := w.now().Add(-params.MaxFetchTimeout)
	return w.pending.ExpireOlderThan(cutoff, ErrFetchTimeout)
}
