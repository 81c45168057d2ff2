// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package peer

import (
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/AleoNet/snarkOS-sub002/internal/params"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
	"github.com/AleoNet/snarkOS-sub002/internal/wire"
)

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

type addressedConn struct {
	net.Conn
	local, remote net.Addr
}

func (c addressedConn) LocalAddr() net.Addr  { return c.local }
func (c addressedConn) RemoteAddr() net.Addr { return c.remote }

func testHandshaker(port uint16, genesis types.BlockHeader) *Handshaker {
	return &Handshaker{
		Local: LocalInfo{
			Version:          params.MessageVersion,
			ForkDepth:        params.AleoMaximumForkDepth,
			NodeType:         types.NodeTypeValidator,
			Status:           types.StatusReady,
			Nonce:            uint64(port),
			CumulativeWeight: big.NewInt(0),
		},
		ListenerPort:  port,
		GenesisHeader: genesis,
		Now:           func() time.Time { return time.Unix(0, 0) },
	}
}

func TestHandshakeCompletesBothSides(t *testing.T) {
	genesis := types.BlockHeader{Height: 0, CumulativeWeight: big.NewInt(0)}

	a, b := net.Pipe()
	dialerSide := addressedConn{Conn: a, local: pipeAddr("10.0.0.1:4133"), remote: pipeAddr("10.0.0.2:4134")}
	accepterSide := addressedConn{Conn: b, local: pipeAddr("10.0.0.2:4134"), remote: pipeAddr("10.0.0.1:4133")}

	dialer := testHandshaker(4133, genesis)
	accepter := testHandshaker(4134, genesis)

	type result struct {
		peer *Peer
		conn *Conn
		err  error
	}
	dialCh := make(chan result, 1)
	acceptCh := make(chan result, 1)

	go func() {
		p, c, err := dialer.DialOutbound(dialerSide, nil)
		dialCh <- result{p, c, err}
	}()
	go func() {
		p, c, err := accepter.AcceptInbound(accepterSide, nil)
		acceptCh <- result{p, c, err}
	}()

	dr := <-dialCh
	ar := <-acceptCh

	if dr.err != nil {
		t.Fatalf("dial side failed: %v", dr.err)
	}
	if ar.err != nil {
		t.Fatalf("accept side failed: %v", ar.err)
	}
	if dr.peer.State() != StateConnected {
		t.Fatalf("expected dialer in Connected state, got %v", dr.peer.State())
	}
	if ar.peer.State() != StateConnected {
		t.Fatalf("expected accepter in Connected state, got %v", ar.peer.State())
	}
	if dr.peer.ID() != ID("10.0.0.2:4134") {
		t.Fatalf("dialer resolved wrong peer id: %v", dr.peer.ID())
	}
	if ar.peer.ID() != ID("10.0.0.1:4133") {
		t.Fatalf("accepter resolved wrong peer id: %v", ar.peer.ID())
	}
}

func TestHandshakeRejectsGenesisMismatch(t *testing.T) {
	genesisA := types.BlockHeader{Height: 0, CumulativeWeight: big.NewInt(0)}
	genesisB := types.BlockHeader{Height: 0, CumulativeWeight: big.NewInt(1)}

	a, b := net.Pipe()
	dialerSide := addressedConn{Conn: a, local: pipeAddr("10.0.0.1:4133"), remote: pipeAddr("10.0.0.2:4134")}
	accepterSide := addressedConn{Conn: b, local: pipeAddr("10.0.0.2:4134"), remote: pipeAddr("10.0.0.1:4133")}

	dialer := testHandshaker(4133, genesisA)
	accepter := testHandshaker(4134, genesisB)

	type result struct {
		err error
	}
	dialCh := make(chan result, 1)
	acceptCh := make(chan result, 1)

	go func() {
		_, _, err := dialer.DialOutbound(dialerSide, nil)
		dialCh <- result{err}
	}()
	go func() {
		_, _, err := accepter.AcceptInbound(accepterSide, nil)
		acceptCh <- result{err}
	}()

	dr := <-dialCh
	ar := <-acceptCh

	if dr.err == nil && ar.err == nil {
		t.Fatalf("expected at least one side to reject the mismatched genesis header")
	}
}

func TestConnSendDropsOnFullQueue(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	peer := NewPeer(nil, nil)
	conn := NewConn(addressedConn{Conn: a, local: pipeAddr("x"), remote: pipeAddr("y")}, peer, nil)
	peer.out = conn

	for i := 0; i < params.OutboundQueueCapacity+10; i++ {
		if err := conn.Send(wire.Ping{}); err != nil {
			t.Fatalf("Send should never return an error, got %v", err)
		}
	}
}
