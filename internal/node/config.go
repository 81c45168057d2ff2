// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package node

import (
	"math/big"

	"github.com/AleoNet/snarkOS-sub002/internal/committee"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

// Config bundles the process-level settings that select a node's identity
// and storage backend, built up from CLI flags and an optional config file.
type Config struct {
	// ListenAddr is the TCP address this node accepts inbound peer
	// connections on, and the listener port advertised in ChallengeRequest.
	ListenAddr string

	NodeType types.NodeType
	Nonce    uint64

	Genesis types.BlockHeader

	// StorePath selects the goleveldb-backed Store when non-empty; an empty
	// path uses the in-memory MockService, useful for a dev/test node that
	// should not persist state across restarts.
	StorePath string

	Committee committee.Provider

	// TrustedPeers are always-reconnected addresses exempt from the
	// single-non-trusted-beacon rule.
	TrustedPeers []string

	// DialSeeds are candidate addresses absorbed before the first
	// Heartbeat, seeding the dial policy without waiting on PeerResponse
	// gossip.
	DialSeeds []string
}

func (c Config) cumulativeWeightFloor() *big.Int {
	if c.Genesis.CumulativeWeight == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(c.Genesis.CumulativeWeight)
}
