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
	"context"
	"net"
	"time"

	"github.com/AleoNet/snarkOS-sub002/internal/ledger"
	"github.com/AleoNet/snarkOS-sub002/internal/log"
	wirepeer "github.com/AleoNet/snarkOS-sub002/internal/peer"
	"github.com/AleoNet/snarkOS-sub002/internal/peers"
	"github.com/AleoNet/snarkOS-sub002/internal/params"
	"github.com/AleoNet/snarkOS-sub002/internal/store"
	syncengine "github.com/AleoNet/snarkOS-sub002/internal/sync"
	"github.com/AleoNet/snarkOS-sub002/internal/tasks"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
	"github.com/AleoNet/snarkOS-sub002/internal/wire"
	"github.com/AleoNet/snarkOS-sub002/internal/worker"
)

// Node is one running process: the accept/dial loops, the Peers Registry,
// the worker pool, the ledger sync engine, and the supervisor coordinating
// their shutdown. It is the single struct that owns every long-lived
// subsystem a node needs.
type Node struct {
	cfg Config

	ledgerSvc   ledger.Service
	storeHandle *store.Store // non-nil only when cfg.StorePath is set

	registry   *peers.Registry
	pool       *worker.Pool
	engine     *syncengine.Engine
	terminator *Terminator
	tasks      *tasks.Supervisor

	listener net.Listener
}

// New constructs a Node without starting any network activity.
func New(cfg Config) (*Node, error) {
	var svc ledger.Service
	var handle *store.Store
	if cfg.StorePath != "" {
		s, err := store.Open(cfg.StorePath, genesisBlock(cfg), cfg.Committee)
		if err != nil {
			return nil, err
		}
		svc, handle = s, s
	} else {
		svc = ledger.NewMockService(genesisBlock(cfg), cfg.Committee)
	}

	n := &Node{
		cfg:         cfg,
		ledgerSvc:   svc,
		storeHandle: handle,
		registry:    peers.New(cfg.TrustedPeers, nil),
		terminator:  NewTerminator(),
		tasks:       tasks.New(),
	}

	n.pool = worker.NewPool(worker.PoolConfig{
		Ledger:    svc,
		Committee: cfg.Committee,
		Network:   workerNetwork{registry: n.registry},
	})

	n.engine = syncengine.New(syncengine.Config{
		Ledger:             svc,
		Network:            syncNetwork{registry: n.registry},
		Terminator:         n.terminator,
		Mempool:            n.pool,
		LocalNodeType:      cfg.NodeType,
		ConnectedPeerCount: n.registry.NumConnected,
	})

	n.registry.AbsorbCandidates(parseSeeds(cfg.DialSeeds))
	return n, nil
}

func genesisBlock(cfg Config) types.Block {
	header := cfg.Genesis
	header.CumulativeWeight = cfg.cumulativeWeightFloor()
	return types.Block{Header: header}
}

func parseSeeds(seeds []string) []net.TCPAddr {
	addrs := make([]net.TCPAddr, 0, len(seeds))
	for _, s := range seeds {
		host, portStr, err := net.SplitHostPort(s)
		if err != nil {
			continue
		}
		ip := net.ParseIP(host)
		if ip == nil {
			continue
		}
		var port int
		for _, c := range portStr {
			if c < '0' || c > '9' {
				port = -1
				break
			}
			port = port*10 + int(c-'0')
		}
		if port <= 0 {
			continue
		}
		addrs = append(addrs, net.TCPAddr{IP: ip, Port: port})
	}
	return addrs
}

// Start opens the listener and launches the accept loop, the dial loop, and
// the Heartbeat ticker.
func (n *Node) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return err
	}
	n.listener = ln

	n.tasks.Go("accept", n.acceptLoop)
	n.tasks.Go("dial", n.dialLoop)
	n.tasks.Go("heartbeat", n.heartbeatLoop)
	n.tasks.Go("worker-ping", n.workerPingLoop)
	n.tasks.Go("worker-expire", n.workerExpireLoop)
	return nil
}

// Stop sets ShuttingDown, closes the listener, and cancels every
// supervised task in that fixed order.
func (n *Node) Stop() {
	n.terminator.SetTerminating(true)
	if n.listener != nil {
		n.listener.Close()
	}
	n.tasks.Shutdown()
	if n.storeHandle != nil {
		n.storeHandle.Close()
	}
}

func (n *Node) listenerPort() uint16 {
	addr := n.cfg.ListenAddr
	if n.listener != nil {
		addr = n.listener.Addr().String()
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	var port uint16
	for _, c := range portStr {
		if c < '0' || c > '9' {
			return 0
		}
		port = port*10 + uint16(c-'0')
	}
	return port
}

func (n *Node) handshaker() *wirepeer.Handshaker {
	return &wirepeer.Handshaker{
		Local: wirepeer.LocalInfo{
			Version:          params.MessageVersion,
			ForkDepth:        params.AleoMaximumForkDepth,
			NodeType:         n.cfg.NodeType,
			Status:           n.engine.Status(),
			Nonce:            n.cfg.Nonce,
			CumulativeWeight: n.ledgerSvc.LatestCumulativeWeight(),
		},
		ListenerPort:  n.listenerPort(),
		GenesisHeader: n.cfg.Genesis,
		NonceInUse:    n.registry.HasNonce,
		ProbePort:     wirepeer.ProbeListenerReachable,
	}
}

func (n *Node) acceptLoop(ctx context.Context) error {
	for {
		raw, err := n.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go n.handleInbound(raw)
	}
}

func (n *Node) handleInbound(raw net.Conn) {
	peer, conn, err := n.handshaker().AcceptInbound(raw, nil)
	if err != nil {
		log.Debug("inbound handshake failed", "remote", raw.RemoteAddr(), "err", err)
		n.registry.RecordInboundFailure(raw.RemoteAddr().String())
		raw.Close()
		return
	}
	n.runPeer(peer, conn)
}

func (n *Node) dialLoop(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n.registry.NumConnected() >= params.MaximumNumberOfPeers {
				continue
			}
			candidate, ok := n.registry.DialCandidate(n.cfg.ListenAddr)
			if !ok {
				continue
			}
			go n.dial(candidate)
		}
	}
}

func (n *Node) dial(addr string) {
	raw, err := net.DialTimeout("tcp", addr, params.ConnectionTimeout)
	if err != nil {
		log.Debug("dial failed", "addr", addr, "err", err)
		return
	}
	peer, conn, err := n.handshaker().DialOutbound(raw, nil)
	if err != nil {
		log.Debug("outbound handshake failed", "addr", addr, "err", err)
		raw.Close()
		return
	}
	n.runPeer(peer, conn)
}

func (n *Node) runPeer(peer *wirepeer.Peer, conn *wirepeer.Conn) {
	trusted := n.registry.IsTrusted(string(peer.ID()))
	if err := n.registry.Connect(string(peer.ID()), peer.NodeType(), peer.Nonce(), trusted, conn); err != nil {
		log.Debug("registry rejected peer", "peer", peer.ID(), "err", err)
		conn.Disconnect(types.ReasonProtocolViolation)
		return
	}

	dispatcher := wirepeer.NewDispatcher(peer, wirepeer.Collaborators{
		Ledger:        n.ledgerSvc,
		Sync:          n.engine,
		Worker:        n.pool,
		Registry:      n.registry,
		LocalNodeType: func() types.NodeType { return n.cfg.NodeType },
		LocalStatus:   n.engine.Status,
	}, nil)

	id := peer.ID()
	go conn.WriteLoop()
	go conn.PingLoop(func() wire.Ping {
		return wire.Ping{
			Version:         params.MessageVersion,
			ForkDepth:       params.AleoMaximumForkDepth,
			NodeType:        n.cfg.NodeType,
			Status:          n.engine.Status(),
			LatestBlockHash: n.ledgerSvc.LatestBlockHash(),
		}
	})
	conn.ReadLoop(dispatcher.Dispatch)

	n.registry.Disconnect(string(id))
	n.engine.PeerDisconnected(syncengine.PeerID(id))
}

func (n *Node) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(params.RadioSilence / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.engine.RunHeartbeat()
			n.registry.Sweep()
			for _, id := range n.registry.ExcessBeacons() {
				n.registry.DisconnectWithReason(id, types.ReasonTooManyPeers)
			}
		}
	}
}

func (n *Node) workerPingLoop(ctx context.Context) error {
	ticker := time.NewTicker(params.PingSleep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.pool.BroadcastPing()
		}
	}
}

func (n *Node) workerExpireLoop(ctx context.Context) error {
	ticker := time.NewTicker(params.MaxFetchTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.pool.ExpireAllPending()
		}
	}
}
