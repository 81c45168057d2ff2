// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package types

import (
	"net"
	"time"
)

// IPPort is a normalized listener address: the remote TCP source port is
// discarded at handshake time and replaced with the peer's advertised
// listener port, so reconnects deduplicate correctly.
type IPPort struct {
	IP   net.IP
	Port uint16
}

func (a IPPort) String() string {
	return net.JoinHostPort(a.IP.String(), itoa(a.Port))
}

func itoa(p uint16) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}

// PeerSyncView is the sync engine's per-peer opinion, populated from the
// first validated Pong onward.
type PeerSyncView struct {
	NodeType       NodeType
	Status         Status
	IsFork         *bool // nil == undecided
	LatestHeight   uint32
	BlockLocators  *BlockLocators
}

// Failure is a single entry in a peer's append-only failure log.
type Failure struct {
	Reason string
	At     time.Time
}
