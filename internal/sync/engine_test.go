// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package sync

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/AleoNet/snarkOS-sub002/internal/committee"
	"github.com/AleoNet/snarkOS-sub002/internal/ledger"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

type blockRequestCall struct {
	peer       PeerID
	start, end uint32
}

type disconnectCall struct {
	peer   PeerID
	reason types.DisconnectReason
}

type fakeNetwork struct {
	mu          sync.Mutex
	requests    []blockRequestCall
	disconnects []disconnectCall
}

func (f *fakeNetwork) SendBlockRequest(peer PeerID, start, end uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, blockRequestCall{peer, start, end})
	return nil
}

func (f *fakeNetwork) Disconnect(peer PeerID, reason types.DisconnectReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, disconnectCall{peer, reason})
}

func (f *fakeNetwork) lastRequest() (PeerID, uint32, uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return "", 0, 0, false
	}
	r := f.requests[len(f.requests)-1]
	return r.peer, r.start, r.end, true
}

func (f *fakeNetwork) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeNetwork) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.disconnects)
}

func blockAt(height uint32, prevHash types.ID32, weight int64) types.Block {
	var hash types.ID32
	hash[0] = byte(height)
	hash[1] = 0xBB
	return types.Block{
		Header: types.BlockHeader{Height: height, PreviousBlockHash: prevHash, CumulativeWeight: big.NewInt(weight)},
		Hash:   hash,
	}
}

func newTestEngine(t *testing.T) (*Engine, *ledger.MockService, *fakeNetwork) {
	t.Helper()
	genesis := types.Block{Header: types.BlockHeader{Height: 0, CumulativeWeight: big.NewInt(0)}}
	provider := &committee.Static{Committee: &committee.Committee{}}
	ml := ledger.NewMockService(genesis, provider)
	net := &fakeNetwork{}
	e := New(Config{Ledger: ml, Network: net, LocalNodeType: types.NodeTypeValidator})
	return e, ml, net
}

// remoteLocatorsFromChain builds a locator set an honest peer at the given
// tip would advertise, by walking the chain the way locator.Build does.
func remoteLocatorsFromChain(chain []types.Block) *types.BlockLocators {
	locators := types.NewBlockLocators()
	byHeight := make(map[uint32]types.Block, len(chain))
	for _, b := range chain {
		byHeight[b.Header.Height] = b
	}
	var heights []uint32
	step := uint32(1)
	height := chain[len(chain)-1].Header.Height
	for {
		heights = append(heights, height)
		if height == 0 {
			break
		}
		if height < step {
			height = 0
			continue
		}
		height -= step
		step *= 2
	}
	for i := len(heights) - 1; i >= 0; i-- {
		b := byHeight[heights[i]]
		locators.Insert(heights[i], types.LocatorEntry{Hash: b.Hash, CumulativeWeight: b.Header.CumulativeWeight})
	}
	return locators
}

func TestHeartbeatSchedulesForwardRequestAndAppendsResponse(t *testing.T) {
	e, ml, net := newTestEngine(t)

	// Remote is 5 blocks ahead on the same chain.
	chain := []types.Block{{Header: types.BlockHeader{Height: 0, CumulativeWeight: big.NewInt(0)}}}
	for h := uint32(1); h <= 5; h++ {
		chain = append(chain, blockAt(h, chain[h-1].Hash, int64(h)*10))
	}
	remote := remoteLocatorsFromChain(chain)

	if err := e.OnPong(PeerID("A"), types.NodeTypeValidator, types.StatusReady, 5, remote); err != nil {
		t.Fatalf("OnPong: %v", err)
	}

	e.RunHeartbeat()
	peer, start, end, ok := net.lastRequest()
	if !ok || peer != PeerID("A") || start != 1 || end != 5 {
		t.Fatalf("expected a BlockRequest(A, 1, 5), got peer=%v start=%d end=%d ok=%v", peer, start, end, ok)
	}

	for h := uint32(1); h <= 5; h++ {
		if err := e.HandleBlockResponse(PeerID("A"), chain[h]); err != nil {
			t.Fatalf("HandleBlockResponse(%d): %v", h, err)
		}
	}
	if ml.LatestBlockHeight() != 5 {
		t.Fatalf("expected local chain to reach height 5, got %d", ml.LatestBlockHeight())
	}
}

func TestHandleBlockResponseOutOfOrderFastForwards(t *testing.T) {
	e, ml, _ := newTestEngine(t)
	chain := []types.Block{{Header: types.BlockHeader{Height: 0, CumulativeWeight: big.NewInt(0)}}}
	for h := uint32(1); h <= 3; h++ {
		chain = append(chain, blockAt(h, chain[h-1].Hash, int64(h)*10))
	}
	e.sched.Enqueue(PeerID("A"), 1, 3, nil, false, time.Now())

	// Deliver height 3 before 1 and 2: it should queue in the unconfirmed
	// cache, not append.
	if err := e.HandleBlockResponse(PeerID("A"), chain[3]); err != nil {
		t.Fatalf("HandleBlockResponse(3): %v", err)
	}
	if ml.LatestBlockHeight() != 0 {
		t.Fatalf("expected no progress yet, got height %d", ml.LatestBlockHeight())
	}

	if err := e.HandleBlockResponse(PeerID("A"), chain[1]); err != nil {
		t.Fatalf("HandleBlockResponse(1): %v", err)
	}
	if err := e.HandleBlockResponse(PeerID("A"), chain[2]); err != nil {
		t.Fatalf("HandleBlockResponse(2): %v", err)
	}
	if ml.LatestBlockHeight() != 3 {
		t.Fatalf("expected fast-forward to height 3, got %d", ml.LatestBlockHeight())
	}
}

// TestForkRevertAndForward is scenario 3: a peer on a heavier fork causes a
// bounded revert followed by forward requests along the new chain.
func TestForkRevertAndForward(t *testing.T) {
	e, ml, net := newTestEngine(t)

	// Build a 3-block local chain.
	local := []types.Block{{Header: types.BlockHeader{Height: 0, CumulativeWeight: big.NewInt(0)}}}
	for h := uint32(1); h <= 3; h++ {
		b := blockAt(h, local[h-1].Hash, int64(h)*10)
		local = append(local, b)
		if err := ml.AddNextBlock(b); err != nil {
			t.Fatalf("seed AddNextBlock(%d): %v", h, err)
		}
	}

	// Remote forks at height 1 with heavier weight from height 2 onward.
	remote := []types.Block{local[0], local[1]}
	for h := uint32(2); h <= 4; h++ {
		var hash types.ID32
		hash[0] = byte(h)
		hash[1] = 0xFC
		b := types.Block{
			Header: types.BlockHeader{Height: h, PreviousBlockHash: remote[h-1].Hash, CumulativeWeight: big.NewInt(int64(h) * 100)},
			Hash:   hash,
		}
		remote = append(remote, b)
	}
	remoteLocators := remoteLocatorsFromChain(remote)

	if err := e.OnPong(PeerID("F"), types.NodeTypeValidator, types.StatusReady, 4, remoteLocators); err != nil {
		t.Fatalf("OnPong: %v", err)
	}
	view, _ := e.View(PeerID("F"))
	if view.IsFork == nil || !*view.IsFork {
		t.Fatalf("expected the fork to be detected from locators alone")
	}

	e.RunHeartbeat()
	if ml.LatestBlockHeight() != 1 {
		t.Fatalf("expected revert to the common ancestor height 1, got %d", ml.LatestBlockHeight())
	}
	peer, start, end, ok := net.lastRequest()
	if !ok || peer != PeerID("F") || start != 2 {
		t.Fatalf("expected a forward request from height 2 on the new fork, got peer=%v start=%d end=%d ok=%v", peer, start, end, ok)
	}

	for h := 2; h <= 4; h++ {
		if err := e.HandleBlockResponse(PeerID("F"), remote[h]); err != nil {
			t.Fatalf("HandleBlockResponse(%d): %v", h, err)
		}
	}
	if ml.LatestBlockHeight() != 4 {
		t.Fatalf("expected the node to have adopted the heavier fork, got height %d", ml.LatestBlockHeight())
	}
}

func TestExceededForkRangeDisconnects(t *testing.T) {
	e, _, net := newTestEngine(t)

	// A peer whose locators share no common ancestor at all with the local
	// chain beyond an implausible depth is rejected outright.
	var badHash types.ID32
	badHash[0] = 0xEE
	remote := types.NewBlockLocators()
	remote.Insert(100000, types.LocatorEntry{Hash: badHash, CumulativeWeight: big.NewInt(1)})

	if err := e.OnPong(PeerID("Z"), types.NodeTypeValidator, types.StatusReady, 100000, remote); err != nil {
		t.Fatalf("OnPong: %v", err)
	}
	e.RunHeartbeat()
	if net.disconnectCount() != 1 {
		t.Fatalf("expected the peer to be disconnected, got %d disconnects", net.disconnectCount())
	}
}

// TestStallRecoveryRevertsByOne is scenario 6: an outstanding request batch
// with no forward progress for longer than the stall threshold triggers a
// one-block revert and clears the batch so a new one can be scheduled.
func TestStallRecoveryRevertsByOne(t *testing.T) {
	e, ml, _ := newTestEngine(t)
	b1 := blockAt(1, ml.LatestBlockHash(), 10)
	if err := ml.AddNextBlock(b1); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Make the node self-report Syncing: enough connected peers, and one
	// whose reported weight is far enough ahead to cross
	// MaximumLinearBlockLocators.
	e.connectedPeerCount = func() int { return 3 }
	remote := types.NewBlockLocators()
	remote.Insert(1, types.LocatorEntry{Hash: b1.Hash, CumulativeWeight: big.NewInt(10)})
	remote.Insert(5, types.LocatorEntry{Hash: types.ID32{0xAA}, CumulativeWeight: big.NewInt(10000)})
	if err := e.OnPong(PeerID("A"), types.NodeTypeValidator, types.StatusReady, 5, remote); err != nil {
		t.Fatalf("OnPong: %v", err)
	}
	if e.Status() != types.StatusSyncing {
		t.Fatalf("expected the node to self-report Syncing, got %v", e.Status())
	}

	e.lastAppend = time.Now().Add(-stallThreshold - time.Second)
	e.sched.Enqueue(PeerID("A"), 2, 2, nil, false, time.Now().Add(-stallThreshold-time.Second))

	e.detectAndRecoverStall()

	if ml.LatestBlockHeight() != 0 {
		t.Fatalf("expected stall recovery to revert to height 0, got %d", ml.LatestBlockHeight())
	}
	if e.sched.Outstanding() {
		t.Fatalf("expected the stalled batch to be cleared")
	}
}

func TestExpireFailuresDisconnectsOverThreshold(t *testing.T) {
	e, _, net := newTestEngine(t)
	now := time.Now()
	e.now = func() time.Time { return now }
	for i := 0; i <= 10; i++ {
		e.views.RecordFailure(PeerID("A"), "bad locators", now)
	}
	e.views.views[PeerID("A")] = &types.PeerSyncView{}

	e.expireFailuresAndRequests()
	if net.disconnectCount() != 1 {
		t.Fatalf("expected exactly 1 disconnect for exceeding the failure threshold, got %d", net.disconnectCount())
	}
}
