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
	"encoding/binary"
	"time"

	"github.com/AleoNet/snarkOS-sub002/internal/committee"
	"github.com/AleoNet/snarkOS-sub002/internal/ledger"
	"github.com/AleoNet/snarkOS-sub002/internal/params"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

// Pool holds the MAX_WORKERS shards partitioning transmissions by
// id-hash, mirroring how a fixed number of worker shards keep per-shard
// locking cheap instead of a single global mempool mutex.
type Pool struct {
	shards []*Worker
}

// PoolConfig bundles the collaborators shared by every shard.
type PoolConfig struct {
	NumWorkers int
	Capacity   int // per-shard capacity; 0 derives MaxTransmissionsPerBatch/NumWorkers
	Ledger     ledger.Service
	Committee  committee.Provider
	Network    Network
	Checksum   ChecksumFunc
	Clock      func() time.Time
}

// NewPool constructs a Pool of NumWorkers shards.
func NewPool(cfg PoolConfig) *Pool {
	n := cfg.NumWorkers
	if n <= 0 {
		n = params.MaxWorkers
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = params.MaxTransmissionsPerBatch / n
	}
	shards := make([]*Worker, n)
	for i := 0; i < n; i++ {
		shards[i] = New(Config{
			Index:     i,
			Capacity:  capacity,
			Ledger:    cfg.Ledger,
			Committee: cfg.Committee,
			Network:   cfg.Network,
			Checksum:  cfg.Checksum,
			Clock:     cfg.Clock,
		})
	}
	return &Pool{shards: shards}
}

// ShardFor selects the worker shard responsible for id, by id-hash.
func (p *Pool) ShardFor(id types.TransmissionID) *Worker {
	h := binary.LittleEndian.Uint64(id.ID[:8])
	return p.shards[h%uint64(len(p.shards))]
}

// Shards returns every shard, for iteration during drain/GC/heartbeat.
func (p *Pool) Shards() []*Worker { return p.shards }

// TotalReady sums the ready-queue length across all shards.
func (p *Pool) TotalReady() int {
	total := 0
	for _, w := range p.shards {
		total += w.Ready().Len()
	}
	return total
}

// ExpireAllPending sweeps every shard's pending table.
func (p *Pool) ExpireAllPending() int {
	total := 0
	for _, w := range p.shards {
		total += w.ExpirePending()
	}
	return total
}

// ClearReady drops every shard's ready queue. Satisfies the sync engine's
// Mempool collaborator interface for stall recovery.
func (p *Pool) ClearReady() {
	for _, w := range p.shards {
		w.ClearReady()
	}
}

// BroadcastPing has every shard emit its own WorkerPing, letting peers
// advertise what they hold across the whole ready set rather than just one
// shard's slice of it.
func (p *Pool) BroadcastPing() {
	for _, w := range p.shards {
		w.BroadcastPing()
	}
}

// LookupTransmission routes to the shard responsible for id.
func (p *Pool) LookupTransmission(id types.TransmissionID) (types.Transmission, bool) {
	return p.ShardFor(id).LookupTransmission(id)
}

// HandleTransmissionResponse routes to the shard responsible for id.
func (p *Pool) HandleTransmissionResponse(id types.TransmissionID, tm types.Transmission) error {
	return p.ShardFor(id).HandleTransmissionResponse(id, tm)
}

// ProcessTransmissionIDFromPing routes to the shard responsible for id. peer
// is the normalized listener address as a plain string; the worker
// package's own PeerID newtype is an internal bookkeeping detail the peer
// dispatch contract does not need to know about.
func (p *Pool) ProcessTransmissionIDFromPing(peer string, id types.TransmissionID) {
	p.ShardFor(id).ProcessTransmissionIDFromPing(PeerID(peer), id)
}

// ProcessUnconfirmedTransactionBytes derives a transmission id from data's
// checksum (there is no separately known content id on the gossip path) and
// routes it to the responsible shard.
func (p *Pool) ProcessUnconfirmedTransactionBytes(data []byte) error {
	checksum := p.shards[0].checksum(data)
	id := types.TransmissionID{Variant: types.VariantTransaction, ID: checksum, Checksum: checksum}
	return p.ShardFor(id).ProcessUnconfirmedTransaction(checksum, data)
}
