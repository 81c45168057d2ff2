// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package peer implements the peer protocol state machine: the
// Connecting/Handshaking/Connected/Disconnecting lifecycle, the
// ChallengeRequest/ChallengeResponse handshake, Ping/Pong liveness, and the
// Connected-state message dispatch contract (rate limiting, deferred
// deserialization, forwarding to the worker and sync engine collaborators).
package peer

import (
	"math/big"

	"github.com/AleoNet/snarkOS-sub002/internal/types"
	"github.com/AleoNet/snarkOS-sub002/internal/wire"
)

// LocalInfo is the local node's self-description used to evaluate an
// incoming ChallengeRequest.
type LocalInfo struct {
	Version          uint32
	ForkDepth        uint32
	NodeType         types.NodeType
	Status           types.Status
	Nonce            uint64
	CumulativeWeight *big.Int
}

// EvaluateChallengeRequest applies the handshake rejection rules to a
// received ChallengeRequest, in the order the specification lists them. It
// is a pure function so the handshake policy is testable without a socket.
// portReachable is only invoked when every other rule already passed, since
// it is the one check with a real-world side effect (a reachability probe).
func EvaluateChallengeRequest(local LocalInfo, remote wire.ChallengeRequest, nonceInUse bool, portReachable func() bool) (types.DisconnectReason, bool) {
	if remote.Version < local.Version {
		return types.ReasonOutdatedClientVersion, false
	}
	if remote.ForkDepth != local.ForkDepth {
		return types.ReasonInvalidForkDepth, false
	}
	remoteWeight := remote.CumulativeWeight
	if remoteWeight == nil {
		remoteWeight = new(big.Int)
	}
	localWeight := local.CumulativeWeight
	if localWeight == nil {
		localWeight = new(big.Int)
	}
	if local.NodeType.IsSync() && !remote.NodeType.IsSync() && remote.Status == types.StatusSyncing && remoteWeight.Cmp(localWeight) > 0 {
		return types.ReasonINeedToSyncFirst, false
	}
	if !local.NodeType.IsSync() && local.Status == types.StatusSyncing && remote.NodeType.IsSync() && localWeight.Cmp(remoteWeight) > 0 {
		return types.ReasonYouNeedToSyncFirst, false
	}
	if remote.Nonce == local.Nonce {
		return types.ReasonProtocolViolation, false
	}
	if nonceInUse {
		return types.ReasonProtocolViolation, false
	}
	if portReachable != nil && !portReachable() {
		return types.ReasonYourPortIsClosed, false
	}
	return 0, true
}

// VerifyGenesisHeader checks the handshake's byte-for-byte genesis
// equality rule.
func VerifyGenesisHeader(local, remote types.BlockHeader) bool {
	return local.Equal(remote)
}
