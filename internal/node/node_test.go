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
	"math/big"
	"testing"
	"time"

	"github.com/AleoNet/snarkOS-sub002/internal/committee"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

func testConfig(listenAddr string, seeds []string) Config {
	return Config{
		ListenAddr: listenAddr,
		NodeType:   types.NodeTypeValidator,
		Nonce:      uint64(len(listenAddr)) + 1,
		Genesis: types.BlockHeader{
			Height:           0,
			CumulativeWeight: big.NewInt(0),
		},
		Committee: &committee.Static{Committee: &committee.Committee{Round: 0}},
		DialSeeds: seeds,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestTwoNodesConnectOverLoopback(t *testing.T) {
	a, err := New(testConfig("127.0.0.1:0", nil))
	if err != nil {
		t.Fatalf("New(a): %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	defer a.Stop()

	aAddr := a.listener.Addr().String()

	// Both configs share a listen address string, so b needs its own nonce.
	bCfg := testConfig("127.0.0.1:0", []string{aAddr})
	bCfg.Nonce++
	b, err := New(bCfg)
	if err != nil {
		t.Fatalf("New(b): %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("b.Start: %v", err)
	}
	defer b.Stop()

	// The first dial happens on the dial loop's first tick, 5s after Start.
	waitFor(t, 15*time.Second, func() bool {
		return a.registry.NumConnected() == 1 && b.registry.NumConnected() == 1
	})
}

func TestNodeStopSetsTerminator(t *testing.T) {
	n, err := New(testConfig("127.0.0.1:0", nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	n.Stop()
	if !n.terminator.IsTerminating() {
		t.Fatalf("expected terminator to be set after Stop")
	}
}

func TestNodeUsesStoreWhenPathConfigured(t *testing.T) {
	cfg := testConfig("127.0.0.1:0", nil)
	cfg.StorePath = t.TempDir()

	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Stop()

	if n.storeHandle == nil {
		t.Fatalf("expected storeHandle to be set when StorePath is configured")
	}
	if n.ledgerSvc.LatestBlockHeight() != 0 {
		t.Fatalf("expected genesis height 0, got %d", n.ledgerSvc.LatestBlockHeight())
	}
}
