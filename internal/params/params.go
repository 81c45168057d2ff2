// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package params collects the protocol constants referenced throughout the
// spec, the way the node's params package centralizes network constants
// (fork depth, denominations, timeouts) for the rest of the tree to import.
package params

import "time"

const (
	// MessageVersion is the minimum protocol version accepted from a peer.
	MessageVersion uint32 = 7

	// AleoMaximumForkDepth bounds how far a peer's chain may diverge from
	// ours before it is considered incompatible.
	AleoMaximumForkDepth uint32 = 4096

	// ConnectionTimeout bounds the handshake's listener-reachability probe.
	ConnectionTimeout = 500 * time.Millisecond

	// PingSleep is the interval between outbound Ping messages.
	PingSleep = 10 * time.Second

	// RadioSilence is the receive-gap and generic GC/expiry window used by
	// the peer state machine, the registry's dial policy, the sync engine's
	// stall detection and the block-request scheduler.
	RadioSilence = 150 * time.Second

	// MaximumBlockRequest bounds a single BlockRequest's inclusive height
	// span.
	MaximumBlockRequest uint32 = 256

	// MaximumUnconfirmedBlocks bounds the unconfirmed-block fast-forward
	// cache.
	MaximumUnconfirmedBlocks = 1024

	// MaximumLinearBlockLocators is the cumulative-weight margin that, once
	// exceeded by a peer, puts the local node into Syncing status.
	MaximumLinearBlockLocators uint32 = 32

	// FailureExpiryTime bounds how long a peer failure-log entry remains
	// active.
	FailureExpiryTime = 2 * time.Minute

	// MaximumNumberOfFailures is the active-failure threshold beyond which a
	// peer is disconnected with TooManyFailures.
	MaximumNumberOfFailures = 10

	// MinimumNumberOfPeers / MaximumNumberOfPeers bound the connected set
	// maintained by the Heartbeat dial policy.
	MinimumNumberOfPeers = 3
	MaximumNumberOfPeers = 21

	// MaximumCandidatePeers bounds the candidate-peer set absorbed from
	// PeerResponse messages.
	MaximumCandidatePeers = 10_000

	// MaximumConnectionFailures bounds inbound connection attempts from a
	// single sanitized source IP within RadioSilence before it is
	// restricted.
	MaximumConnectionFailures = 10

	// MaxTransmissionsPerBatch bounds the total ready-queue capacity across
	// all worker shards.
	MaxTransmissionsPerBatch = 4096

	// MaxWorkers is the number of worker shards partitioning transmissions
	// by id-hash.
	MaxWorkers = 8

	// MaxFetchTimeout bounds how long a registered pending-fetch callback
	// waits before expiring.
	MaxFetchTimeout = 5 * time.Second

	// MaxTransmissionsPerWorkerPing bounds how many ready ids a single
	// WorkerPing broadcasts.
	MaxTransmissionsPerWorkerPing = 100

	// MaxRedundantRequests is the policy cap on num_redundant_requests,
	// regardless of committee size.
	MaxRedundantRequests = 6

	// UnconfirmedBlockRateWindow / UnconfirmedBlockRateLimit bound distinct
	// UnconfirmedBlock messages accepted from one peer before restriction.
	UnconfirmedBlockRateWindow = 5 * time.Second
	UnconfirmedBlockRateLimit  = 10

	// UnconfirmedTransactionRateWindow / UnconfirmedTransactionRateLimit
	// bound distinct UnconfirmedTransaction messages accepted from one peer
	// before restriction.
	UnconfirmedTransactionRateWindow = 5 * time.Second
	UnconfirmedTransactionRateLimit  = 500

	// OutboundQueueCapacity bounds each peer's outbound message channel.
	OutboundQueueCapacity = 1024

	// MaxFrameSize bounds a single length-prefixed wire frame.
	MaxFrameSize = 16 * 1024 * 1024
)
