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

	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

// blockRequest is one outstanding, per-height entry in the scheduler.
// ExpectedHash is non-nil when the ledger is on a fork and responses at this
// height are checked against the peer's locator-claimed hash before being
// accepted.
type blockRequest struct {
	Peer         PeerID
	ExpectedHash *types.ID32
	EnqueuedAt   time.Time
}

// scheduler is the block-request bookkeeping, guarded by its own lock so
// it never blocks on the canon lock during I/O.
type scheduler struct {
	mu       sync.Mutex
	requests map[uint32]*blockRequest
	onFork   bool
}

func newScheduler() *scheduler {
	return &scheduler{requests: make(map[uint32]*blockRequest)}
}

// Outstanding reports whether any block request is currently scheduled.
func (s *scheduler) Outstanding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests) > 0
}

// Enqueue registers one request per height in [start,end], with an optional
// per-height expected-hash map (used when ledger-is-on-fork).
func (s *scheduler) Enqueue(peer PeerID, start, end uint32, expected map[uint32]types.ID32, onFork bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFork = onFork
	for h := start; h <= end; h++ {
		req := &blockRequest{Peer: peer, EnqueuedAt: now}
		if hash, ok := expected[h]; ok {
			hc := hash
			req.ExpectedHash = &hc
		}
		s.requests[h] = req
	}
}

// Get returns the scheduled request for height, if any.
func (s *scheduler) Get(height uint32) (*blockRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[height]
	return r, ok
}

// Complete removes the request for height (successful acceptance).
func (s *scheduler) Complete(height uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, height)
}

// OnFork reports whether the scheduler's outstanding batch is a fork-repair
// batch (ledger-is-on-fork was set when it was scheduled).
func (s *scheduler) OnFork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onFork
}

// ExpireOlderThan drops every request enqueued at or before cutoff. It
// returns nothing; callers check emptiness separately.
func (s *scheduler) ExpireOlderThan(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, r := range s.requests {
		if !r.EnqueuedAt.After(cutoff) {
			delete(s.requests, h)
		}
	}
	if len(s.requests) == 0 {
		s.onFork = false
	}
}

// Clear drops every outstanding request (stall recovery).
func (s *scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = make(map[uint32]*blockRequest)
	s.onFork = false
}
