// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package peers

import (
	"net"
	"testing"
	"time"

	"github.com/AleoNet/snarkOS-sub002/internal/types"
	"github.com/AleoNet/snarkOS-sub002/internal/wire"
)

type fakeConn struct {
	sent        []wire.Message
	disconnects []types.DisconnectReason
}

func (f *fakeConn) Send(msg wire.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeConn) Disconnect(reason types.DisconnectReason) {
	f.disconnects = append(f.disconnects, reason)
}

func TestConnectRejectsDuplicateNonceUnderDifferentAddress(t *testing.T) {
	r := New(nil, nil)
	if err := r.Connect("1.2.3.4:4133", types.NodeTypeValidator, 1, false, &fakeConn{}); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := r.Connect("5.6.7.8:4133", types.NodeTypeValidator, 1, false, &fakeConn{}); err == nil {
		t.Fatalf("expected a duplicate nonce under a different address to be rejected")
	}
	if r.NumConnected() != 1 {
		t.Fatalf("expected exactly one connected peer, got %d", r.NumConnected())
	}
}

func TestConnectThenDisconnectFreesNonce(t *testing.T) {
	r := New(nil, nil)
	r.Connect("1.2.3.4:4133", types.NodeTypeValidator, 1, false, &fakeConn{})
	r.Disconnect("1.2.3.4:4133")
	if err := r.Connect("5.6.7.8:4133", types.NodeTypeValidator, 1, false, &fakeConn{}); err != nil {
		t.Fatalf("expected the freed nonce to be reusable, got %v", err)
	}
}

func TestExcessBeaconsFlagsAllButFirstNonTrusted(t *testing.T) {
	r := New([]string{"9.9.9.9:4133"}, nil)
	r.Connect("1.1.1.1:4133", types.NodeTypeBeacon, 1, false, &fakeConn{})
	r.Connect("2.2.2.2:4133", types.NodeTypeBeacon, 2, false, &fakeConn{})
	r.Connect("9.9.9.9:4133", types.NodeTypeBeacon, 3, true, &fakeConn{})
	excess := r.ExcessBeacons()
	if len(excess) != 1 {
		t.Fatalf("expected exactly one excess beacon, got %d: %v", len(excess), excess)
	}
}

func TestAbsorbCandidatesAddsDialableCandidate(t *testing.T) {
	r := New(nil, nil)
	r.Connect("1.1.1.1:4133", types.NodeTypeValidator, 1, false, &fakeConn{})
	r.AbsorbCandidates([]net.TCPAddr{
		{IP: net.ParseIP("1.1.1.1"), Port: 4133},
		{IP: net.ParseIP("2.2.2.2"), Port: 4133},
	})
	ips := r.ConnectedIPs()
	if len(ips) != 1 {
		t.Fatalf("expected one connected ip, got %d", len(ips))
	}
	if _, ok := r.DialCandidate(""); !ok {
		t.Fatalf("expected the non-connected candidate to be dial-eligible")
	}
}

func TestRestrictBlocksDialCandidate(t *testing.T) {
	r := New(nil, nil)
	r.AbsorbCandidates([]net.TCPAddr{{IP: net.ParseIP("3.3.3.3"), Port: 4133}})
	r.Restrict("3.3.3.3:4133")
	if _, ok := r.DialCandidate(""); ok {
		t.Fatalf("expected the restricted candidate to be dial-ineligible")
	}
	if !r.IsRestricted("3.3.3.3:4133") {
		t.Fatalf("expected IsRestricted to report the active restriction")
	}
}

func TestDialCandidateRespectsLastAttemptWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	r := New(nil, func() time.Time { return now })
	r.AbsorbCandidates([]net.TCPAddr{{IP: net.ParseIP("4.4.4.4"), Port: 4133}})
	if _, ok := r.DialCandidate(""); !ok {
		t.Fatalf("expected the first dial attempt to be eligible")
	}
	if _, ok := r.DialCandidate(""); ok {
		t.Fatalf("expected a second immediate dial attempt to be ineligible")
	}
}

func TestRecordInboundFailureRestrictsAfterThreshold(t *testing.T) {
	r := New(nil, nil)
	restricted := false
	for i := 0; i < 20; i++ {
		if r.RecordInboundFailure("6.6.6.6:55000") {
			restricted = true
			break
		}
	}
	if !restricted {
		t.Fatalf("expected repeated inbound failures to eventually restrict the source")
	}
	if !r.IsRestricted("6.6.6.6") {
		t.Fatalf("expected the sanitized source ip to be restricted")
	}
}

func TestMessagePropagateExcludesGivenPeers(t *testing.T) {
	r := New(nil, nil)
	a, b := &fakeConn{}, &fakeConn{}
	r.Connect("1.1.1.1:4133", types.NodeTypeValidator, 1, false, a)
	r.Connect("2.2.2.2:4133", types.NodeTypeValidator, 2, false, b)
	r.MessagePropagate(map[string]bool{"1.1.1.1:4133": true}, wire.Ping{})
	if len(a.sent) != 0 {
		t.Fatalf("expected the excluded peer to receive nothing")
	}
	if len(b.sent) != 1 {
		t.Fatalf("expected the non-excluded peer to receive the propagated message")
	}
}

func TestMessagePropagateBeaconOnlyReachesBeacons(t *testing.T) {
	r := New(nil, nil)
	beacon, validator := &fakeConn{}, &fakeConn{}
	r.Connect("1.1.1.1:4133", types.NodeTypeBeacon, 1, false, beacon)
	r.Connect("2.2.2.2:4133", types.NodeTypeValidator, 2, false, validator)
	r.MessagePropagateBeacon(wire.Ping{})
	if len(beacon.sent) != 1 {
		t.Fatalf("expected the beacon to receive the message")
	}
	if len(validator.sent) != 0 {
		t.Fatalf("expected the validator to be skipped")
	}
}
