// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package types holds the domain types shared by the transport, peer,
// worker, ledger and sync packages: node/peer metadata, transmissions and
// their identifiers, blocks, headers and block locators.
package types

import "fmt"

// NodeType identifies the role a peer advertises during the handshake.
type NodeType uint8

const (
	NodeTypeValidator NodeType = iota
	NodeTypeProver
	NodeTypeClient
	NodeTypeSync
	NodeTypeBeacon
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeValidator:
		return "Validator"
	case NodeTypeProver:
		return "Prover"
	case NodeTypeClient:
		return "Client"
	case NodeTypeSync:
		return "Sync"
	case NodeTypeBeacon:
		return "Beacon"
	default:
		return fmt.Sprintf("NodeType(%d)", uint8(t))
	}
}

func (t NodeType) IsBeacon() bool { return t == NodeTypeBeacon }
func (t NodeType) IsSync() bool   { return t == NodeTypeSync }

// Status is a node's self-reported lifecycle state.
type Status uint8

const (
	StatusReady Status = iota
	StatusSyncing
	StatusMining
	StatusPeering
	StatusShuttingDown
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "Ready"
	case StatusSyncing:
		return "Syncing"
	case StatusMining:
		return "Mining"
	case StatusPeering:
		return "Peering"
	case StatusShuttingDown:
		return "ShuttingDown"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// DisconnectReason enumerates the wire-visible reasons a connection was torn
// down. The numeric values double as the on-wire exit code.
type DisconnectReason uint8

const (
	ReasonOutdatedClientVersion DisconnectReason = iota
	ReasonInvalidForkDepth
	ReasonYouNeedToSyncFirst
	ReasonINeedToSyncFirst
	ReasonTooManyPeers
	ReasonTooManyFailures
	ReasonYourPortIsClosed
	ReasonExceededForkRange
	ReasonPeerHasDisconnected
	ReasonSyncComplete
	ReasonShuttingDown
	ReasonProtocolViolation
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonOutdatedClientVersion:
		return "OutdatedClientVersion"
	case ReasonInvalidForkDepth:
		return "InvalidForkDepth"
	case ReasonYouNeedToSyncFirst:
		return "YouNeedToSyncFirst"
	case ReasonINeedToSyncFirst:
		return "INeedToSyncFirst"
	case ReasonTooManyPeers:
		return "TooManyPeers"
	case ReasonTooManyFailures:
		return "TooManyFailures"
	case ReasonYourPortIsClosed:
		return "YourPortIsClosed"
	case ReasonExceededForkRange:
		return "ExceededForkRange"
	case ReasonPeerHasDisconnected:
		return "PeerHasDisconnected"
	case ReasonSyncComplete:
		return "SyncComplete"
	case ReasonShuttingDown:
		return "ShuttingDown"
	case ReasonProtocolViolation:
		return "ProtocolViolation"
	default:
		return fmt.Sprintf("DisconnectReason(%d)", uint8(r))
	}
}
